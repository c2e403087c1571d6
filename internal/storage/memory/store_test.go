package memory

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/haruyam15/meomok/internal/domain"
)

func place(id string, lat, lng float64) domain.Place {
	return domain.Place{Source: domain.SourceKakao, SourcePlaceID: id, Name: id, Lat: lat, Lng: lng, Cuisines: []string{"korean"}}
}

func TestDistance(t *testing.T) {
	// Gangnam station to Seoul City Hall is roughly 8.8km.
	d := Distance(domain.Point{Lat: 37.4979, Lng: 127.0276}, domain.Point{Lat: 37.5665, Lng: 126.9780})
	if d < 8500 || d > 9100 {
		t.Fatalf("unexpected distance %.0f", d)
	}
	if Distance(domain.Point{Lat: 1, Lng: 1}, domain.Point{Lat: 1, Lng: 1}) != 0 {
		t.Fatalf("distance to self must be zero")
	}
}

func TestNearbyFiltersByRadiusAndOrders(t *testing.T) {
	store := New()
	ctx := context.Background()
	center := domain.Point{Lat: 37.4979, Lng: 127.0276}
	_ = store.UpsertPlace(ctx, place("far", 37.5665, 126.9780))
	_ = store.UpsertPlace(ctx, place("b", 37.4989, 127.0276))
	_ = store.UpsertPlace(ctx, place("a", 37.4989, 127.0276))
	_ = store.UpsertPlace(ctx, place("near", 37.4980, 127.0276))

	rows, err := store.Nearby(ctx, domain.NearbyQuery{Center: center, RadiusM: 1000, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, row := range rows {
		ids = append(ids, row.PlaceID)
	}
	want := []string{"kakao:near", "kakao:a", "kakao:b"}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got %v, want %v", ids, want)
		}
	}
}

func TestNearbyHonorsCursor(t *testing.T) {
	store := New()
	ctx := context.Background()
	center := domain.Point{Lat: 37.4979, Lng: 127.0276}
	_ = store.UpsertPlace(ctx, place("a", 37.4989, 127.0276))
	_ = store.UpsertPlace(ctx, place("b", 37.4989, 127.0276))

	first, _ := store.Nearby(ctx, domain.NearbyQuery{Center: center, RadiusM: 1000, Limit: 1})
	if len(first) != 1 || first[0].PlaceID != "kakao:a" {
		t.Fatalf("unexpected first page %+v", first)
	}
	second, _ := store.Nearby(ctx, domain.NearbyQuery{Center: center, RadiusM: 1000, Limit: 1, After: domain.CursorAt(first[0])})
	if len(second) != 1 || second[0].PlaceID != "kakao:b" {
		t.Fatalf("unexpected second page %+v", second)
	}
	if math.Abs(first[0].DistanceM-second[0].DistanceM) > 1e-9 {
		t.Fatalf("expected tied distances")
	}
}

func TestTileRoundTrip(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, ok, _ := store.GetTile(ctx, "wydm6d6", 1000); ok {
		t.Fatalf("expected no tile")
	}
	now := time.Now().UTC()
	_ = store.UpsertTile(ctx, domain.FetchTile{TileID: "wydm6d6", RadiusM: 1000, FetchedAt: now})
	tile, ok, _ := store.GetTile(ctx, "wydm6d6", 1000)
	if !ok || !tile.FetchedAt.Equal(now) {
		t.Fatalf("unexpected tile %+v ok=%v", tile, ok)
	}
}
