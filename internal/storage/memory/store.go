// Package memory is an in-process place and tile store used for local runs and tests.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/haruyam15/meomok/internal/domain"
	"github.com/haruyam15/meomok/internal/tiles"
)

const earthRadiusM = 6371008.8

type Store struct {
	mu     sync.RWMutex
	places map[string]domain.Place
	tiles  map[string]domain.FetchTile
}

func New() *Store {
	return &Store{
		places: make(map[string]domain.Place),
		tiles:  make(map[string]domain.FetchTile),
	}
}

func (s *Store) UpsertPlace(_ context.Context, place domain.Place) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	place.Cuisines = append([]string(nil), place.Cuisines...)
	s.places[place.Key()] = place
	return nil
}

func (s *Store) Nearby(ctx context.Context, q domain.NearbyQuery) ([]domain.PlaceRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	rows := make([]domain.PlaceRow, 0, len(s.places))
	for key, place := range s.places {
		distance := Distance(q.Center, domain.Point{Lat: place.Lat, Lng: place.Lng})
		if distance > float64(q.RadiusM) {
			continue
		}
		row := toRow(key, place, distance)
		if q.After != nil && !q.After.Admits(row) {
			continue
		}
		rows = append(rows, row)
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].Before(rows[j]) })
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

func (s *Store) GetTile(_ context.Context, tileID string, radiusM int) (domain.FetchTile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tile, ok := s.tiles[tiles.TileKey(tileID, radiusM)]
	return tile, ok, nil
}

func (s *Store) UpsertTile(_ context.Context, tile domain.FetchTile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiles[tiles.TileKey(tile.TileID, tile.RadiusM)] = tile
	return nil
}

// Len returns the number of stored places.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.places)
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close(context.Context) error { return nil }

// Distance is the haversine great-circle distance in meters.
func Distance(a, b domain.Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

func toRow(key string, place domain.Place, distance float64) domain.PlaceRow {
	return domain.PlaceRow{
		PlaceID:     key,
		Name:        place.Name,
		Address:     place.Address,
		Phone:       place.Phone,
		Lat:         place.Lat,
		Lng:         place.Lng,
		Cuisines:    append([]string(nil), place.Cuisines...),
		PriceLevel:  place.PriceLevel,
		RatingAvg:   place.RatingAvg,
		RatingCount: place.RatingCount,
		URL:         place.URL,
		DistanceM:   distance,
	}
}
