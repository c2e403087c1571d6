package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haruyam15/meomok/internal/domain"
	"github.com/haruyam15/meomok/internal/ingest"
	"github.com/haruyam15/meomok/internal/paginate"
	"github.com/haruyam15/meomok/internal/storage/memory"
	"github.com/haruyam15/meomok/internal/tiles"
)

const (
	gangnamLat = 37.4979
	gangnamLng = 127.0276
)

type fakeProvider struct {
	name    string
	records []domain.ProviderRecord
	err     error
	hits    atomic.Int32
	sawCtx  atomic.Value
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{Name: p.name, Label: p.name, Enabled: true}
}

func (p *fakeProvider) Search(ctx context.Context, _ domain.ProviderQuery) ([]domain.ProviderRecord, error) {
	p.hits.Add(1)
	p.sawCtx.Store(ctx.Err() == nil)
	if p.err != nil {
		return nil, p.err
	}
	return append([]domain.ProviderRecord(nil), p.records...), nil
}

type failingStore struct {
	*memory.Store
}

func (failingStore) UpsertPlace(context.Context, domain.Place) error {
	return errors.New("disk full")
}

type harness struct {
	store *memory.Store
	tiles *tiles.Cache
	svc   *Service
	clock *time.Time
}

func newHarness(t *testing.T, providers ...Provider) *harness {
	t.Helper()
	store := memory.New()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := &harness{store: store, clock: &now}
	clock := func() time.Time { return *h.clock }
	h.tiles = tiles.New(store, tiles.WithClock(clock))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.svc = NewService(providers, h.tiles, ingest.New(store, logger), paginate.New(store),
		WithLogger(logger),
		WithRetryConfig(RetryConfig{MaxAttempts: 1}),
		withClock(clock),
	)
	return h
}

func record(source domain.Source, id string, lat, lng float64) domain.ProviderRecord {
	return domain.ProviderRecord{Source: source, NativeID: id, Name: "place " + id, Lat: lat, Lng: lng, Category: "음식점 > 한식"}
}

func gangnamRequest(force bool) domain.SearchRequest {
	return domain.SearchRequest{Lat: gangnamLat, Lng: gangnamLng, RadiusM: 1000, Force: force, Limit: 30}
}

func TestSearchForcedFetchReturnsOneRowPerProvider(t *testing.T) {
	kakao := &fakeProvider{name: "kakao", records: []domain.ProviderRecord{record(domain.SourceKakao, "K1", 37.4985, 127.0280)}}
	google := &fakeProvider{name: "google", records: []domain.ProviderRecord{record(domain.SourceGoogle, "G1", 37.4970, 127.0270)}}
	h := newHarness(t, kakao, google)

	resp, err := h.svc.Search(context.Background(), gangnamRequest(true))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !resp.Fetched {
		t.Fatalf("expected fetched=true")
	}
	if len(resp.Places) != 2 {
		t.Fatalf("expected 2 places, got %d", len(resp.Places))
	}
	if resp.Places[0].PlaceID == resp.Places[1].PlaceID {
		t.Fatalf("rows must be distinguished by place_id")
	}
	for _, row := range resp.Places {
		if row.DistanceM > 1000 {
			t.Fatalf("row %s outside radius: %.1f", row.PlaceID, row.DistanceM)
		}
	}
	if resp.CacheTile != tiles.TileID(gangnamLat, gangnamLng) {
		t.Fatalf("unexpected cache tile %q", resp.CacheTile)
	}
}

func TestSearchWithinTTLDoesNotRefetch(t *testing.T) {
	kakao := &fakeProvider{name: "kakao", records: []domain.ProviderRecord{record(domain.SourceKakao, "K1", 37.4985, 127.0280)}}
	h := newHarness(t, kakao)
	ctx := context.Background()

	first, err := h.svc.Search(ctx, gangnamRequest(false))
	if err != nil {
		t.Fatal(err)
	}
	if !first.Fetched {
		t.Fatalf("first search on an unknown tile must fetch")
	}

	*h.clock = h.clock.Add(time.Hour)
	second, err := h.svc.Search(ctx, gangnamRequest(false))
	if err != nil {
		t.Fatal(err)
	}
	if second.Fetched {
		t.Fatalf("expected fetched=false within TTL")
	}
	if kakao.hits.Load() != 1 {
		t.Fatalf("provider called %d times, want 1", kakao.hits.Load())
	}
	if len(second.Places) != 1 || second.Places[0].PlaceID != first.Places[0].PlaceID {
		t.Fatalf("places changed: %+v vs %+v", first.Places, second.Places)
	}

	*h.clock = h.clock.Add(6 * time.Hour)
	third, err := h.svc.Search(ctx, gangnamRequest(false))
	if err != nil {
		t.Fatal(err)
	}
	if !third.Fetched {
		t.Fatalf("expected refetch after TTL")
	}
}

func TestSearchFreshButEmptyTileStillFetches(t *testing.T) {
	kakao := &fakeProvider{name: "kakao", records: []domain.ProviderRecord{record(domain.SourceKakao, "K1", 37.4985, 127.0280)}}
	h := newHarness(t, kakao)
	ctx := context.Background()

	if err := h.tiles.MarkFetched(ctx, tiles.TileID(gangnamLat, gangnamLng), 1000); err != nil {
		t.Fatal(err)
	}
	resp, err := h.svc.Search(ctx, gangnamRequest(false))
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Fetched {
		t.Fatalf("fresh tile with no rows must still fetch")
	}
	if len(resp.Places) != 1 {
		t.Fatalf("expected ingested row, got %d", len(resp.Places))
	}
}

func TestSearchProviderFailureDoesNotBlockOthers(t *testing.T) {
	broken := &fakeProvider{name: "google", err: errors.New("status 500")}
	kakao := &fakeProvider{name: "kakao", records: []domain.ProviderRecord{record(domain.SourceKakao, "K1", 37.4985, 127.0280)}}
	h := newHarness(t, broken, kakao)

	resp, err := h.svc.Search(context.Background(), gangnamRequest(true))
	if err != nil {
		t.Fatalf("provider failure must not fail the request: %v", err)
	}
	if len(resp.Places) != 1 {
		t.Fatalf("expected the healthy provider's row, got %d", len(resp.Places))
	}
}

func TestSearchMarksTileFetchedWhenAllProvidersFail(t *testing.T) {
	h := newHarness(t,
		&fakeProvider{name: "kakao", err: errors.New("bad gateway")},
		&fakeProvider{name: "google", err: errors.New("unparsable payload")},
	)
	ctx := context.Background()

	resp, err := h.svc.Search(ctx, gangnamRequest(true))
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Fetched || len(resp.Places) != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if _, fresh, _ := h.tiles.CheckFreshness(ctx, gangnamLat, gangnamLng, 1000); !fresh {
		t.Fatalf("tile must be marked fetched even when every provider failed")
	}
}

func TestSearchIngestionFailureFailsRequest(t *testing.T) {
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := tiles.New(store)
	kakao := &fakeProvider{name: "kakao", records: []domain.ProviderRecord{record(domain.SourceKakao, "K1", 37.4985, 127.0280)}}
	svc := NewService([]Provider{kakao}, cache, ingest.New(failingStore{store}, logger), paginate.New(store), WithLogger(logger))

	_, err := svc.Search(context.Background(), gangnamRequest(true))
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if _, fresh, _ := cache.CheckFreshness(context.Background(), gangnamLat, gangnamLng, 1000); fresh {
		t.Fatalf("tile must not be marked after a failed ingestion")
	}
}

func TestSearchLimitOneReportsMore(t *testing.T) {
	kakao := &fakeProvider{name: "kakao", records: []domain.ProviderRecord{
		record(domain.SourceKakao, "K1", 37.4985, 127.0280),
		record(domain.SourceKakao, "K2", 37.4990, 127.0290),
	}}
	h := newHarness(t, kakao)
	req := gangnamRequest(true)
	req.Limit = 1

	resp, err := h.svc.Search(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Places) != 1 || !resp.HasMore || resp.NextCursor == nil {
		t.Fatalf("unexpected page %+v", resp)
	}
	row := resp.Places[0]
	if *resp.NextCursor.LastID != row.PlaceID || *resp.NextCursor.LastDistance != row.DistanceM {
		t.Fatalf("next cursor %+v does not match row %+v", resp.NextCursor, row)
	}
}

func TestSearchProviderCallSurvivesCallerCancellation(t *testing.T) {
	kakao := &fakeProvider{name: "kakao"}
	h := newHarness(t, kakao)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _ = h.svc.Search(ctx, gangnamRequest(true))
	if kakao.hits.Load() != 1 {
		t.Fatalf("provider not called")
	}
	if live, _ := kakao.sawCtx.Load().(bool); !live {
		t.Fatalf("provider call saw a cancelled context")
	}
}

func TestSearchRejectsInvalidArea(t *testing.T) {
	h := newHarness(t)
	tests := []domain.SearchRequest{
		{Lat: 91, Lng: 0, RadiusM: 1000},
		{Lat: 0, Lng: 181, RadiusM: 1000},
		{Lat: 0, Lng: 0, RadiusM: 0},
		{Lat: 0, Lng: 0, RadiusM: domain.MaxRadiusM + 1},
	}
	for _, req := range tests {
		if _, err := h.svc.Search(context.Background(), req); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Fatalf("request %+v: expected ErrInvalidRequest, got %v", req, err)
		}
	}
}

type emptinessFailingPaginator struct {
	calls int
}

func (p *emptinessFailingPaginator) Query(_ context.Context, _, _ float64, _ int, _ *domain.Cursor, limit int) (paginate.Page, error) {
	p.calls++
	if p.calls == 1 {
		return paginate.Page{}, errors.New("emptiness check timeout")
	}
	return paginate.Page{Rows: []domain.PlaceRow{}}, nil
}

func TestSearchFailedProbeDoesNotForceFetch(t *testing.T) {
	store := memory.New()
	cache := tiles.New(store)
	ctx := context.Background()
	_ = cache.MarkFetched(ctx, tiles.TileID(gangnamLat, gangnamLng), 1000)
	kakao := &fakeProvider{name: "kakao"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService([]Provider{kakao}, cache, ingest.New(store, logger), &emptinessFailingPaginator{}, WithLogger(logger))

	resp, err := svc.Search(ctx, gangnamRequest(false))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Fetched || kakao.hits.Load() != 0 {
		t.Fatalf("failed emptiness check must not trigger a fetch")
	}
}

func TestFetchAndIngestReportsCounts(t *testing.T) {
	kakao := &fakeProvider{name: "kakao", records: []domain.ProviderRecord{
		record(domain.SourceKakao, "K1", 37.4985, 127.0280),
		record(domain.SourceKakao, "K2", 37.4990, 127.0290),
		record(domain.SourceKakao, "", 37.4991, 127.0291),
	}}
	google := &fakeProvider{name: "google", err: errors.New("quota exceeded")}
	h := newHarness(t, kakao, google)

	report, err := h.svc.FetchAndIngest(context.Background(), gangnamLat, gangnamLng, 1000, "")
	if err != nil {
		t.Fatal(err)
	}
	if report.Counts["kakao"] != 2 || report.Counts["google"] != 0 {
		t.Fatalf("unexpected counts %v", report.Counts)
	}
	if report.Received["kakao"] != 3 || report.Received["google"] != 0 {
		t.Fatalf("unexpected received counts %v", report.Received)
	}
	if report.CacheTile != tiles.TileID(gangnamLat, gangnamLng) {
		t.Fatalf("unexpected tile %q", report.CacheTile)
	}
	if h.store.Len() != 2 {
		t.Fatalf("expected 2 stored places, got %d", h.store.Len())
	}
}

func TestCircuitBreakerBlocksRepeatedlyFailingProvider(t *testing.T) {
	broken := &fakeProvider{name: "google", err: errors.New("status 503")}
	h := newHarness(t, broken)
	ctx := context.Background()

	for i := 0; i < providerFailureThreshold+2; i++ {
		if _, err := h.svc.FetchAndIngest(ctx, gangnamLat, gangnamLng, 1000, ""); err != nil {
			t.Fatal(err)
		}
	}
	if got := broken.hits.Load(); got != providerFailureThreshold {
		t.Fatalf("expected %d provider calls before blocking, got %d", providerFailureThreshold, got)
	}

	diags := h.svc.ProviderDiagnostics()
	if len(diags) != 1 || diags[0].BlockedUntil == nil || diags[0].ConsecutiveFailures != providerFailureThreshold {
		t.Fatalf("unexpected diagnostics %+v", diags)
	}

	*h.clock = h.clock.Add(providerBlockBase + time.Second)
	_, _ = h.svc.FetchAndIngest(ctx, gangnamLat, gangnamLng, 1000, "")
	if got := broken.hits.Load(); got != providerFailureThreshold+1 {
		t.Fatalf("expected provider to be retried after block, got %d calls", got)
	}
}

func TestExponentialBlockDuration(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, 2 * time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 8 * time.Minute},
		{6, 15 * time.Minute},
		{10, 15 * time.Minute},
	}
	for _, tt := range tests {
		if got := exponentialBlockDuration(tt.failures); got != tt.want {
			t.Fatalf("failures=%d: got %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestNewServiceSkipsDuplicateProviders(t *testing.T) {
	h := newHarness(t, &fakeProvider{name: "Kakao"}, &fakeProvider{name: "kakao "}, nil)
	infos := h.svc.Providers()
	if len(infos) != 1 || infos[0].Name != "kakao" {
		t.Fatalf("unexpected providers %+v", infos)
	}
}
