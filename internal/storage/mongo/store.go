// Package mongo stores places in MongoDB and ranks them with $geoNear.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/haruyam15/meomok/internal/domain"
	"github.com/haruyam15/meomok/internal/tiles"
)

const (
	placesCollection = "places"
	tilesCollection  = "fetch_tiles"
)

type Store struct {
	places *mongo.Collection
	tiles  *mongo.Collection
}

type geoPoint struct {
	Type        string    `bson:"type"`
	Coordinates []float64 `bson:"coordinates"`
}

type placeDoc struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	Source        string             `bson:"source"`
	SourcePlaceID string             `bson:"source_place_id"`
	Name          string             `bson:"name"`
	Address       *string            `bson:"address"`
	Phone         *string            `bson:"phone"`
	Location      geoPoint           `bson:"location"`
	Cuisines      []string           `bson:"cuisines"`
	PriceLevel    *int               `bson:"price_level"`
	RatingAvg     *float64           `bson:"rating_avg"`
	RatingCount   *int               `bson:"rating_count"`
	URL           *string            `bson:"url"`
	UpdatedAt     time.Time          `bson:"updated_at"`
	DistanceM     float64            `bson:"distance_m,omitempty"`
}

type tileDoc struct {
	ID        string    `bson:"_id"`
	TileID    string    `bson:"tile_id"`
	RadiusM   int       `bson:"radius_m"`
	FetchedAt time.Time `bson:"fetched_at"`
}

func NewStore(client *mongo.Client, dbName string) *Store {
	db := client.Database(dbName)
	return &Store{places: db.Collection(placesCollection), tiles: db.Collection(tilesCollection)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	return mongo.Connect(ctx, opts...)
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "source", Value: 1}, {Key: "source_place_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("source_place_unique"),
		},
		{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
	}
	if _, err := s.places.Indexes().CreateMany(ctx, models); err != nil {
		return err
	}
	return nil
}

// UpsertPlace writes the place under its (source, source_place_id) key. The document _id is
// assigned once on insert and never changes afterwards.
func (s *Store) UpsertPlace(ctx context.Context, place domain.Place) error {
	doc := toDoc(place)
	filter := bson.M{"source": doc.Source, "source_place_id": doc.SourcePlaceID}
	update := bson.M{"$set": bson.M{
		"name":         doc.Name,
		"address":      doc.Address,
		"phone":        doc.Phone,
		"location":     doc.Location,
		"cuisines":     doc.Cuisines,
		"price_level":  doc.PriceLevel,
		"rating_avg":   doc.RatingAvg,
		"rating_count": doc.RatingCount,
		"url":          doc.URL,
		"updated_at":   doc.UpdatedAt,
	}}
	_, err := s.places.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (s *Store) Nearby(ctx context.Context, q domain.NearbyQuery) ([]domain.PlaceRow, error) {
	pipeline, err := nearbyPipeline(q)
	if err != nil {
		return nil, err
	}
	cursor, err := s.places.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []placeDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	rows := make([]domain.PlaceRow, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, fromDoc(doc))
	}
	return rows, nil
}

// nearbyPipeline ranks by (distance_m, _id). The hex rendering of an ObjectID sorts the same
// way as its bytes, so the string place_id and the stored _id share one order.
func nearbyPipeline(q domain.NearbyQuery) (mongo.Pipeline, error) {
	geoNear := bson.D{
		{Key: "near", Value: geoPoint{Type: "Point", Coordinates: []float64{q.Center.Lng, q.Center.Lat}}},
		{Key: "distanceField", Value: "distance_m"},
		{Key: "maxDistance", Value: float64(q.RadiusM)},
		{Key: "spherical", Value: true},
		{Key: "key", Value: "location"},
	}
	pipeline := mongo.Pipeline{}
	if !q.After.IsStart() {
		lastID, err := primitive.ObjectIDFromHex(*q.After.LastID)
		if err != nil {
			return nil, fmt.Errorf("%w: cursor id %q", domain.ErrInvalidRequest, *q.After.LastID)
		}
		lastDistance := *q.After.LastDistance
		geoNear = append(geoNear, bson.E{Key: "minDistance", Value: lastDistance})
		pipeline = append(pipeline,
			bson.D{{Key: "$geoNear", Value: geoNear}},
			bson.D{{Key: "$match", Value: bson.M{"$or": bson.A{
				bson.M{"distance_m": bson.M{"$gt": lastDistance}},
				bson.M{"distance_m": lastDistance, "_id": bson.M{"$gt": lastID}},
			}}}},
		)
	} else {
		pipeline = append(pipeline, bson.D{{Key: "$geoNear", Value: geoNear}})
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$sort", Value: bson.D{{Key: "distance_m", Value: 1}, {Key: "_id", Value: 1}}}},
		bson.D{{Key: "$limit", Value: int64(q.Limit)}},
	)
	return pipeline, nil
}

func (s *Store) GetTile(ctx context.Context, tileID string, radiusM int) (domain.FetchTile, bool, error) {
	var doc tileDoc
	err := s.tiles.FindOne(ctx, bson.M{"_id": tiles.TileKey(tileID, radiusM)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.FetchTile{}, false, nil
		}
		return domain.FetchTile{}, false, err
	}
	return domain.FetchTile{TileID: doc.TileID, RadiusM: doc.RadiusM, FetchedAt: doc.FetchedAt}, true, nil
}

func (s *Store) UpsertTile(ctx context.Context, tile domain.FetchTile) error {
	doc := tileDoc{
		ID:        tiles.TileKey(tile.TileID, tile.RadiusM),
		TileID:    tile.TileID,
		RadiusM:   tile.RadiusM,
		FetchedAt: tile.FetchedAt.UTC(),
	}
	_, err := s.tiles.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func toDoc(place domain.Place) placeDoc {
	return placeDoc{
		Source:        string(place.Source),
		SourcePlaceID: place.SourcePlaceID,
		Name:          place.Name,
		Address:       place.Address,
		Phone:         place.Phone,
		Location:      geoPoint{Type: "Point", Coordinates: []float64{place.Lng, place.Lat}},
		Cuisines:      place.Cuisines,
		PriceLevel:    place.PriceLevel,
		RatingAvg:     place.RatingAvg,
		RatingCount:   place.RatingCount,
		URL:           place.URL,
		UpdatedAt:     place.UpdatedAt.UTC(),
	}
}

func fromDoc(doc placeDoc) domain.PlaceRow {
	row := domain.PlaceRow{
		PlaceID:     doc.ID.Hex(),
		Name:        doc.Name,
		Address:     doc.Address,
		Phone:       doc.Phone,
		Cuisines:    doc.Cuisines,
		PriceLevel:  doc.PriceLevel,
		RatingAvg:   doc.RatingAvg,
		RatingCount: doc.RatingCount,
		URL:         doc.URL,
		DistanceM:   doc.DistanceM,
	}
	if len(doc.Location.Coordinates) == 2 {
		row.Lng = doc.Location.Coordinates[0]
		row.Lat = doc.Location.Coordinates[1]
	}
	if row.Cuisines == nil {
		row.Cuisines = []string{}
	}
	return row
}
