package domain

import (
	"math"
	"time"
)

type Source string

const (
	SourceKakao  Source = "kakao"
	SourceGoogle Source = "google"
	SourceOSM    Source = "osm"
)

// Place is the canonical record written to the store. (Source, SourcePlaceID) is its natural key.
type Place struct {
	Source        Source
	SourcePlaceID string
	Name          string
	Address       *string
	Phone         *string
	Lat           float64
	Lng           float64
	Cuisines      []string
	PriceLevel    *int
	RatingAvg     *float64
	RatingCount   *int
	URL           *string
	UpdatedAt     time.Time
}

// Key renders the natural key. Adapters without their own row identity use it as place_id.
func (p Place) Key() string {
	return string(p.Source) + ":" + p.SourcePlaceID
}

// PlaceRow is one result of a distance-ranked query.
type PlaceRow struct {
	PlaceID     string   `json:"place_id"`
	Name        string   `json:"name"`
	Address     *string  `json:"address"`
	Phone       *string  `json:"phone"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Cuisines    []string `json:"cuisines"`
	PriceLevel  *int     `json:"price_level"`
	RatingAvg   *float64 `json:"rating_avg"`
	RatingCount *int     `json:"rating_count"`
	URL         *string  `json:"url"`
	DistanceM   float64  `json:"distance_m"`
}

// Before reports whether r sorts before other in the (distance_m, place_id) total order.
func (r PlaceRow) Before(other PlaceRow) bool {
	if r.DistanceM != other.DistanceM {
		return r.DistanceM < other.DistanceM
	}
	return r.PlaceID < other.PlaceID
}

// Admits reports whether row sorts strictly after the cursor position.
func (c Cursor) Admits(row PlaceRow) bool {
	if c.LastDistance == nil || c.LastID == nil {
		return true
	}
	if row.DistanceM != *c.LastDistance {
		return row.DistanceM > *c.LastDistance
	}
	return row.PlaceID > *c.LastID
}

// FetchTile marks when providers were last queried for a tile at a given radius.
type FetchTile struct {
	TileID    string
	RadiusM   int
	FetchedAt time.Time
}

// Cursor is the keyset resume point. A nil field means "start of the result set".
type Cursor struct {
	LastDistance *float64 `json:"lastDistance"`
	LastID       *string  `json:"lastId"`
}

func (c *Cursor) IsStart() bool {
	return c == nil || c.LastDistance == nil || c.LastID == nil
}

func CursorAt(row PlaceRow) *Cursor {
	distance := row.DistanceM
	id := row.PlaceID
	return &Cursor{LastDistance: &distance, LastID: &id}
}

type Point struct {
	Lat float64
	Lng float64
}

func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// NearbyQuery is the storage-engine ranked query: rows within RadiusM of Center,
// ordered by (distance_m, place_id), strictly after After when set.
type NearbyQuery struct {
	Center  Point
	RadiusM int
	After   *Cursor
	Limit   int
}
