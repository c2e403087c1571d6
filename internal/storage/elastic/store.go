// Package elastic stores places in Elasticsearch and ranks them with a geo_distance sort.
package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/olivere/elastic/v7"

	"github.com/haruyam15/meomok/internal/domain"
	"github.com/haruyam15/meomok/internal/tiles"
)

const (
	DefaultPlacesIndex = "meomok-places"
	DefaultTilesIndex  = "meomok-fetch-tiles"
)

const placesMapping = `{
  "mappings": {
    "properties": {
      "place_id":        {"type": "keyword"},
      "source":          {"type": "keyword"},
      "source_place_id": {"type": "keyword"},
      "name":            {"type": "text"},
      "address":         {"type": "text"},
      "phone":           {"type": "keyword"},
      "location":        {"type": "geo_point"},
      "cuisines":        {"type": "keyword"},
      "price_level":     {"type": "integer"},
      "rating_avg":      {"type": "double"},
      "rating_count":    {"type": "integer"},
      "url":             {"type": "keyword", "index": false},
      "updated_at":      {"type": "date"}
    }
  }
}`

const tilesMapping = `{
  "mappings": {
    "properties": {
      "tile_id":    {"type": "keyword"},
      "radius_m":   {"type": "integer"},
      "fetched_at": {"type": "date"}
    }
  }
}`

type Store struct {
	client      *elastic.Client
	placesIndex string
	tilesIndex  string
}

type placeDoc struct {
	PlaceID       string           `json:"place_id"`
	Source        string           `json:"source"`
	SourcePlaceID string           `json:"source_place_id"`
	Name          string           `json:"name"`
	Address       *string          `json:"address"`
	Phone         *string          `json:"phone"`
	Location      elastic.GeoPoint `json:"location"`
	Cuisines      []string         `json:"cuisines"`
	PriceLevel    *int             `json:"price_level"`
	RatingAvg     *float64         `json:"rating_avg"`
	RatingCount   *int             `json:"rating_count"`
	URL           *string          `json:"url"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type tileDoc struct {
	TileID    string    `json:"tile_id"`
	RadiusM   int       `json:"radius_m"`
	FetchedAt time.Time `json:"fetched_at"`
}

func NewClient(url string) (*elastic.Client, error) {
	return elastic.NewClient(
		elastic.SetURL(url),
		elastic.SetSniff(false),
		elastic.SetHealthcheckTimeoutStartup(5*time.Second),
	)
}

func NewStore(client *elastic.Client, placesIndex, tilesIndex string) *Store {
	if placesIndex == "" {
		placesIndex = DefaultPlacesIndex
	}
	if tilesIndex == "" {
		tilesIndex = DefaultTilesIndex
	}
	return &Store{client: client, placesIndex: placesIndex, tilesIndex: tilesIndex}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	for index, mapping := range map[string]string{s.placesIndex: placesMapping, s.tilesIndex: tilesMapping} {
		exists, err := s.client.IndexExists(index).Do(ctx)
		if err != nil {
			return fmt.Errorf("check index %s: %w", index, err)
		}
		if exists {
			continue
		}
		if _, err := s.client.CreateIndex(index).BodyString(mapping).Do(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", index, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.ClusterHealth().Do(ctx)
	return err
}

func (s *Store) Close() {
	s.client.Stop()
}

// UpsertPlace indexes the place under its natural key, so repeated writes replace one document.
// The write waits for a refresh so the next ranked query sees it.
func (s *Store) UpsertPlace(ctx context.Context, place domain.Place) error {
	doc := toDoc(place)
	_, err := s.client.Index().
		Index(s.placesIndex).
		Id(doc.PlaceID).
		BodyJson(doc).
		Refresh("wait_for").
		Do(ctx)
	return err
}

func (s *Store) Nearby(ctx context.Context, q domain.NearbyQuery) ([]domain.PlaceRow, error) {
	search := s.client.Search().
		Index(s.placesIndex).
		Query(elastic.NewBoolQuery().Filter(
			elastic.NewGeoDistanceQuery("location").
				Point(q.Center.Lat, q.Center.Lng).
				Distance(fmt.Sprintf("%dm", q.RadiusM)),
		)).
		SortBy(
			elastic.NewGeoDistanceSort("location").
				Point(q.Center.Lat, q.Center.Lng).
				Asc().
				Unit("m").
				DistanceType("arc"),
			elastic.NewFieldSort("place_id").Asc(),
		).
		Size(q.Limit)
	if !q.After.IsStart() {
		search = search.SearchAfter(*q.After.LastDistance, *q.After.LastID)
	}

	result, err := search.Do(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]domain.PlaceRow, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		row, err := fromHit(hit)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Store) GetTile(ctx context.Context, tileID string, radiusM int) (domain.FetchTile, bool, error) {
	result, err := s.client.Get().Index(s.tilesIndex).Id(tiles.TileKey(tileID, radiusM)).Do(ctx)
	if err != nil {
		if elastic.IsNotFound(err) {
			return domain.FetchTile{}, false, nil
		}
		return domain.FetchTile{}, false, err
	}
	if !result.Found {
		return domain.FetchTile{}, false, nil
	}
	var doc tileDoc
	if err := json.Unmarshal(result.Source, &doc); err != nil {
		return domain.FetchTile{}, false, err
	}
	return domain.FetchTile{TileID: doc.TileID, RadiusM: doc.RadiusM, FetchedAt: doc.FetchedAt}, true, nil
}

func (s *Store) UpsertTile(ctx context.Context, tile domain.FetchTile) error {
	_, err := s.client.Index().
		Index(s.tilesIndex).
		Id(tiles.TileKey(tile.TileID, tile.RadiusM)).
		BodyJson(tileDoc{TileID: tile.TileID, RadiusM: tile.RadiusM, FetchedAt: tile.FetchedAt.UTC()}).
		Refresh("wait_for").
		Do(ctx)
	return err
}

func toDoc(place domain.Place) placeDoc {
	cuisines := place.Cuisines
	if cuisines == nil {
		cuisines = []string{}
	}
	return placeDoc{
		PlaceID:       place.Key(),
		Source:        string(place.Source),
		SourcePlaceID: place.SourcePlaceID,
		Name:          place.Name,
		Address:       place.Address,
		Phone:         place.Phone,
		Location:      elastic.GeoPoint{Lat: place.Lat, Lon: place.Lng},
		Cuisines:      cuisines,
		PriceLevel:    place.PriceLevel,
		RatingAvg:     place.RatingAvg,
		RatingCount:   place.RatingCount,
		URL:           place.URL,
		UpdatedAt:     place.UpdatedAt.UTC(),
	}
}

// fromHit decodes a hit; the first sort value is the computed distance in meters.
func fromHit(hit *elastic.SearchHit) (domain.PlaceRow, error) {
	var doc placeDoc
	if err := json.Unmarshal(hit.Source, &doc); err != nil {
		return domain.PlaceRow{}, fmt.Errorf("decode place %s: %w", hit.Id, err)
	}
	if len(hit.Sort) == 0 {
		return domain.PlaceRow{}, fmt.Errorf("place %s has no sort values", hit.Id)
	}
	distance, ok := hit.Sort[0].(float64)
	if !ok {
		return domain.PlaceRow{}, fmt.Errorf("place %s: unexpected distance %v", hit.Id, hit.Sort[0])
	}
	return domain.PlaceRow{
		PlaceID:     doc.PlaceID,
		Name:        doc.Name,
		Address:     doc.Address,
		Phone:       doc.Phone,
		Lat:         doc.Location.Lat,
		Lng:         doc.Location.Lon,
		Cuisines:    doc.Cuisines,
		PriceLevel:  doc.PriceLevel,
		RatingAvg:   doc.RatingAvg,
		RatingCount: doc.RatingCount,
		URL:         doc.URL,
		DistanceM:   distance,
	}, nil
}
