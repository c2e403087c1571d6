// Package postgis stores places in PostgreSQL/PostGIS through a pgx connection pool.
package postgis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haruyam15/meomok/internal/domain"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS place (
	id              uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	source          text NOT NULL,
	source_place_id text NOT NULL,
	name            text NOT NULL,
	address         text,
	phone           text,
	location        geography(Point, 4326) NOT NULL,
	cuisines        text[] NOT NULL DEFAULT '{}',
	price_level     integer,
	rating_avg      double precision,
	rating_count    integer,
	url             text,
	updated_at      timestamptz NOT NULL DEFAULT now(),
	UNIQUE (source, source_place_id)
);

CREATE INDEX IF NOT EXISTS place_location_gix ON place USING GIST (location);

CREATE TABLE IF NOT EXISTS place_fetch_cache (
	tile_id    text NOT NULL,
	radius_m   integer NOT NULL,
	fetched_at timestamptz NOT NULL,
	PRIMARY KEY (tile_id, radius_m)
);
`

const upsertPlaceSQL = `
INSERT INTO place (source, source_place_id, name, address, phone, location, cuisines,
	price_level, rating_avg, rating_count, url, updated_at)
VALUES ($1, $2, $3, $4, $5, ST_GeogFromText($6), $7, $8, $9, $10, $11, $12)
ON CONFLICT (source, source_place_id) DO UPDATE SET
	name = EXCLUDED.name,
	address = EXCLUDED.address,
	phone = EXCLUDED.phone,
	location = EXCLUDED.location,
	cuisines = EXCLUDED.cuisines,
	price_level = EXCLUDED.price_level,
	rating_avg = EXCLUDED.rating_avg,
	rating_count = EXCLUDED.rating_count,
	url = EXCLUDED.url,
	updated_at = EXCLUDED.updated_at
`

// place_id uses the "C" collation so row comparison matches byte-wise string order.
const nearbySQL = `
SELECT place_id, name, address, phone, lat, lng, cuisines, price_level, rating_avg, rating_count, url, distance_m
FROM (
	SELECT id::text COLLATE "C" AS place_id, name, address, phone,
		ST_Y(location::geometry) AS lat, ST_X(location::geometry) AS lng,
		cuisines, price_level, rating_avg, rating_count, url,
		ST_Distance(location, ST_SetSRID(ST_MakePoint($2, $1), 4326)::geography) AS distance_m
	FROM place
	WHERE ST_DWithin(location, ST_SetSRID(ST_MakePoint($2, $1), 4326)::geography, $3)
) ranked
WHERE $4::double precision IS NULL OR (distance_m, place_id) > ($4::double precision, $5::text COLLATE "C")
ORDER BY distance_m, place_id
LIMIT $6
`

const getTileSQL = `SELECT fetched_at FROM place_fetch_cache WHERE tile_id = $1 AND radius_m = $2`

const upsertTileSQL = `
INSERT INTO place_fetch_cache (tile_id, radius_m, fetched_at) VALUES ($1, $2, $3)
ON CONFLICT (tile_id, radius_m) DO UPDATE SET fetched_at = EXCLUDED.fetched_at
`

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, url string) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *Store) UpsertPlace(ctx context.Context, place domain.Place) error {
	cuisines := place.Cuisines
	if cuisines == nil {
		cuisines = []string{}
	}
	_, err := s.pool.Exec(ctx, upsertPlaceSQL,
		string(place.Source),
		place.SourcePlaceID,
		place.Name,
		place.Address,
		place.Phone,
		PointWKT(place.Lat, place.Lng),
		cuisines,
		place.PriceLevel,
		place.RatingAvg,
		place.RatingCount,
		place.URL,
		place.UpdatedAt.UTC(),
	)
	return err
}

func (s *Store) Nearby(ctx context.Context, q domain.NearbyQuery) ([]domain.PlaceRow, error) {
	var lastDistance *float64
	var lastID *string
	if !q.After.IsStart() {
		lastDistance = q.After.LastDistance
		lastID = q.After.LastID
	}
	rows, err := s.pool.Query(ctx, nearbySQL, q.Center.Lat, q.Center.Lng, float64(q.RadiusM), lastDistance, lastID, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.PlaceRow, 0, q.Limit)
	for rows.Next() {
		var row domain.PlaceRow
		if err := rows.Scan(
			&row.PlaceID,
			&row.Name,
			&row.Address,
			&row.Phone,
			&row.Lat,
			&row.Lng,
			&row.Cuisines,
			&row.PriceLevel,
			&row.RatingAvg,
			&row.RatingCount,
			&row.URL,
			&row.DistanceM,
		); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (s *Store) GetTile(ctx context.Context, tileID string, radiusM int) (domain.FetchTile, bool, error) {
	var fetchedAt time.Time
	err := s.pool.QueryRow(ctx, getTileSQL, tileID, radiusM).Scan(&fetchedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FetchTile{}, false, nil
		}
		return domain.FetchTile{}, false, err
	}
	return domain.FetchTile{TileID: tileID, RadiusM: radiusM, FetchedAt: fetchedAt}, true, nil
}

func (s *Store) UpsertTile(ctx context.Context, tile domain.FetchTile) error {
	_, err := s.pool.Exec(ctx, upsertTileSQL, tile.TileID, tile.RadiusM, tile.FetchedAt.UTC())
	return err
}

// PointWKT renders an EWKT point; PostGIS expects longitude first.
func PointWKT(lat, lng float64) string {
	return "SRID=4326;POINT(" + strconv.FormatFloat(lng, 'f', -1, 64) + " " + strconv.FormatFloat(lat, 'f', -1, 64) + ")"
}
