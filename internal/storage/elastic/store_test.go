package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/olivere/elastic/v7"

	"github.com/haruyam15/meomok/internal/domain"
)

func TestToDocUsesNaturalKeyAsPlaceID(t *testing.T) {
	doc := toDoc(domain.Place{Source: domain.SourceKakao, SourcePlaceID: "99", Lat: 37.5, Lng: 127.1})
	if doc.PlaceID != "kakao:99" {
		t.Fatalf("unexpected place id %q", doc.PlaceID)
	}
	if doc.Location.Lat != 37.5 || doc.Location.Lon != 127.1 {
		t.Fatalf("unexpected location %+v", doc.Location)
	}
	if doc.Cuisines == nil {
		t.Fatalf("cuisines must not be null")
	}
}

func TestFromHitReadsDistanceFromSort(t *testing.T) {
	source, _ := json.Marshal(toDoc(domain.Place{Source: domain.SourceGoogle, SourcePlaceID: "x", Name: "n", Lat: 1, Lng: 2, Cuisines: []string{"korean"}}))
	row, err := fromHit(&elastic.SearchHit{Id: "google:x", Source: source, Sort: []interface{}{12.5, "google:x"}})
	if err != nil {
		t.Fatal(err)
	}
	if row.PlaceID != "google:x" || row.DistanceM != 12.5 || row.Lat != 1 || row.Lng != 2 {
		t.Fatalf("unexpected row %+v", row)
	}

	if _, err := fromHit(&elastic.SearchHit{Id: "google:x", Source: source}); err == nil {
		t.Fatalf("expected error without sort values")
	}
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("ELASTIC_TEST_URL")
	if url == "" {
		t.Skip("ELASTIC_TEST_URL not set")
	}
	client, err := NewClient(url)
	if err != nil {
		t.Skipf("Elasticsearch not available: %v", err)
	}
	suffix := time.Now().UnixNano()
	store := NewStore(client, fmt.Sprintf("meomok-test-places-%d", suffix), fmt.Sprintf("meomok-test-tiles-%d", suffix))
	ctx := context.Background()
	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}
	t.Cleanup(func() {
		_, _ = client.DeleteIndex(store.placesIndex, store.tilesIndex).Do(context.Background())
		client.Stop()
	})
	return store
}

func TestIntegrationNearbyPaging(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	center := domain.Point{Lat: 37.4979, Lng: 127.0276}
	for round := 0; round < 2; round++ {
		for i := 0; i < 5; i++ {
			err := store.UpsertPlace(ctx, domain.Place{
				Source:        domain.SourceKakao,
				SourcePlaceID: fmt.Sprintf("%d", i),
				Name:          "p",
				Lat:           center.Lat + float64(i/2)*0.001,
				Lng:           center.Lng,
				UpdatedAt:     time.Now(),
			})
			if err != nil {
				t.Fatal(err)
			}
		}
	}

	var all []domain.PlaceRow
	var after *domain.Cursor
	for page := 0; page < 5; page++ {
		rows, err := store.Nearby(ctx, domain.NearbyQuery{Center: center, RadiusM: 1000, After: after, Limit: 2})
		if err != nil {
			t.Fatalf("Nearby: %v", err)
		}
		all = append(all, rows...)
		if len(rows) < 2 {
			break
		}
		after = domain.CursorAt(rows[len(rows)-1])
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if !all[i-1].Before(all[i]) {
			t.Fatalf("rows out of order at %d", i)
		}
	}
}

func TestIntegrationTiles(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	if _, ok, err := store.GetTile(ctx, "wydm6d6", 1000); err != nil || ok {
		t.Fatalf("expected missing tile, ok=%v err=%v", ok, err)
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	if err := store.UpsertTile(ctx, domain.FetchTile{TileID: "wydm6d6", RadiusM: 1000, FetchedAt: now}); err != nil {
		t.Fatal(err)
	}
	tile, ok, err := store.GetTile(ctx, "wydm6d6", 1000)
	if err != nil || !ok || !tile.FetchedAt.Equal(now) {
		t.Fatalf("unexpected tile %+v ok=%v err=%v", tile, ok, err)
	}
}
