// Package tiles decides whether an area was fetched from the providers recently enough.
//
// An area is identified by the geohash cell of its center (fixed precision) together with the
// search radius. Freshness is decided only by comparing the recorded fetch time against the TTL;
// stale rows are never purged here.
package tiles

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/haruyam15/meomok/internal/domain"
	"github.com/haruyam15/meomok/internal/metrics"
)

// Precision is the geohash length used for tile ids (~153m x 153m cells).
const Precision = 7

const DefaultTTL = 6 * time.Hour

// Store persists FetchTile rows keyed by (tile id, radius).
type Store interface {
	GetTile(ctx context.Context, tileID string, radiusM int) (domain.FetchTile, bool, error)
	UpsertTile(ctx context.Context, tile domain.FetchTile) error
}

type Cache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, used by tests to sit exactly on the TTL boundary.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func New(store Store, opts ...Option) *Cache {
	c := &Cache{store: store, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) TTL() time.Duration { return c.ttl }

// TileID returns the geohash cell id of a coordinate.
func TileID(lat, lng float64) string {
	return geohash.EncodeWithPrecision(lat, lng, Precision)
}

// CheckFreshness returns the tile id for the center and whether (tile, radius) was fetched
// less than TTL ago. A missing row is reported as not fresh.
func (c *Cache) CheckFreshness(ctx context.Context, lat, lng float64, radiusM int) (string, bool, error) {
	tileID := TileID(lat, lng)
	tile, ok, err := c.store.GetTile(ctx, tileID, radiusM)
	if err != nil {
		return tileID, false, fmt.Errorf("%w: get tile %s/%d: %v", domain.ErrStorage, tileID, radiusM, err)
	}
	if !ok {
		metrics.TileLookupsTotal.WithLabelValues("missing").Inc()
		return tileID, false, nil
	}
	if c.now().Sub(tile.FetchedAt) < c.ttl {
		metrics.TileLookupsTotal.WithLabelValues("fresh").Inc()
		return tileID, true, nil
	}
	metrics.TileLookupsTotal.WithLabelValues("stale").Inc()
	return tileID, false, nil
}

// MarkFetched records that (tile, radius) was fetched now.
func (c *Cache) MarkFetched(ctx context.Context, tileID string, radiusM int) error {
	tile := domain.FetchTile{TileID: tileID, RadiusM: radiusM, FetchedAt: c.now().UTC()}
	if err := c.store.UpsertTile(ctx, tile); err != nil {
		return fmt.Errorf("%w: upsert tile %s/%d: %v", domain.ErrStorage, tileID, radiusM, err)
	}
	return nil
}

// TileKey is the composite key adapters use for (tile id, radius).
func TileKey(tileID string, radiusM int) string {
	return fmt.Sprintf("%s:%d", tileID, radiusM)
}
