package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/haruyam15/meomok/internal/domain"
	"github.com/haruyam15/meomok/internal/metrics"
	"github.com/haruyam15/meomok/internal/tiles"
)

var tracer = otel.Tracer("github.com/haruyam15/meomok/internal/search")

// ValidateArea checks a search center and radius.
func ValidateArea(lat, lng float64, radiusM int) error {
	if !(domain.Point{Lat: lat, Lng: lng}).Valid() {
		return fmt.Errorf("%w: lat must be in [-90,90] and lng in [-180,180]", domain.ErrInvalidRequest)
	}
	if radiusM <= 0 || radiusM > domain.MaxRadiusM {
		return fmt.Errorf("%w: radius must be in [1,%d] meters", domain.ErrInvalidRequest, domain.MaxRadiusM)
	}
	return nil
}

// Search returns one distance-ranked page around the center, fetching from the providers first
// when the area is stale, forced, or has nothing stored yet.
func (s *Service) Search(ctx context.Context, req domain.SearchRequest) (domain.SearchResponse, error) {
	if err := ValidateArea(req.Lat, req.Lng, req.RadiusM); err != nil {
		return domain.SearchResponse{}, err
	}
	ctx, span := tracer.Start(ctx, "search.Search")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("search.lat", req.Lat),
		attribute.Float64("search.lng", req.Lng),
		attribute.Int("search.radius_m", req.RadiusM),
		attribute.Bool("search.force", req.Force),
	)

	tileID, fresh, err := s.tiles.CheckFreshness(ctx, req.Lat, req.Lng, req.RadiusM)
	if err != nil {
		return domain.SearchResponse{}, err
	}

	trigger := ""
	switch {
	case req.Force:
		trigger = "force"
	case !fresh:
		trigger = "stale"
	default:
		probe, err := s.paginator.Query(ctx, req.Lat, req.Lng, req.RadiusM, nil, 1)
		if err != nil {
			s.logger.Warn("empty-area probe failed",
				slog.String("tile", tileID),
				slog.String("error", err.Error()),
			)
		} else if len(probe.Rows) == 0 {
			trigger = "empty"
		}
	}

	fetched := trigger != ""
	if fetched {
		metrics.FetchCyclesTotal.WithLabelValues(trigger).Inc()
		query := domain.ProviderQuery{
			Center:  domain.Point{Lat: req.Lat, Lng: req.Lng},
			RadiusM: req.RadiusM,
			Text:    queryText(req.Query),
		}
		if _, _, err := s.fetchAndIngest(ctx, query); err != nil {
			return domain.SearchResponse{}, err
		}
		if err := s.tiles.MarkFetched(ctx, tileID, req.RadiusM); err != nil {
			return domain.SearchResponse{}, err
		}
	}
	span.SetAttributes(attribute.String("search.tile", tileID), attribute.Bool("search.fetched", fetched))

	page, err := s.paginator.Query(ctx, req.Lat, req.Lng, req.RadiusM, req.Cursor, req.Limit)
	if err != nil {
		return domain.SearchResponse{}, err
	}
	return domain.SearchResponse{
		Places:     page.Rows,
		CacheTile:  tileID,
		Fetched:    fetched,
		HasMore:    page.HasMore,
		NextCursor: page.NextCursor,
	}, nil
}

// FetchAndIngest runs one provider fetch cycle for the area regardless of freshness, marks the
// tile fetched and reports how many records each provider contributed.
func (s *Service) FetchAndIngest(ctx context.Context, lat, lng float64, radiusM int, text string) (domain.IngestReport, error) {
	if err := ValidateArea(lat, lng, radiusM); err != nil {
		return domain.IngestReport{}, err
	}
	ctx, span := tracer.Start(ctx, "search.FetchAndIngest")
	defer span.End()

	metrics.FetchCyclesTotal.WithLabelValues("ingest").Inc()
	tileID := tiles.TileID(lat, lng)
	counts, received, err := s.fetchAndIngest(ctx, domain.ProviderQuery{
		Center:  domain.Point{Lat: lat, Lng: lng},
		RadiusM: radiusM,
		Text:    queryText(text),
	})
	if err != nil {
		return domain.IngestReport{}, err
	}
	if err := s.tiles.MarkFetched(ctx, tileID, radiusM); err != nil {
		return domain.IngestReport{}, err
	}
	return domain.IngestReport{CacheTile: tileID, Counts: counts, Received: received}, nil
}

// fetchAndIngest queries every provider concurrently, then ingests each provider's records in
// registration order. Provider failures count as empty results; the first ingestion error stops
// the cycle and is returned. It reports written and received record counts per provider.
func (s *Service) fetchAndIngest(ctx context.Context, query domain.ProviderQuery) (map[string]int, map[string]int, error) {
	counts := make(map[string]int, len(s.providers))
	received := make(map[string]int, len(s.providers))
	if len(s.providers) == 0 {
		s.logger.Warn("fetch cycle skipped", slog.String("error", ErrNoProviders.Error()))
		return counts, received, nil
	}

	results := make([][]domain.ProviderRecord, len(s.providers))
	var g errgroup.Group
	for i, provider := range s.providers {
		g.Go(func() error {
			records, err := s.callProvider(ctx, provider, query)
			if err != nil {
				s.logger.Warn("provider search failed",
					slog.String("provider", providerKey(provider.Name())),
					slog.String("error", err.Error()),
				)
				return nil
			}
			results[i] = records
			return nil
		})
	}
	_ = g.Wait()

	for i, provider := range s.providers {
		name := providerKey(provider.Name())
		received[name] = len(results[i])
		n, err := s.ingester.Ingest(ctx, results[i])
		counts[name] = n
		if err != nil {
			return counts, received, err
		}
	}
	s.logger.Info("fetch cycle complete",
		slog.Float64("lat", query.Center.Lat),
		slog.Float64("lng", query.Center.Lng),
		slog.Int("radius_m", query.RadiusM),
		slog.Any("counts", counts),
	)
	return counts, received, nil
}

// callProvider detaches from the caller's cancellation: a started provider call runs to
// completion or to the provider timeout.
func (s *Service) callProvider(ctx context.Context, provider Provider, query domain.ProviderQuery) ([]domain.ProviderRecord, error) {
	name := providerKey(provider.Name())
	if blocked, until := s.isProviderBlocked(name, s.now()); blocked {
		metrics.ProviderRequestsTotal.WithLabelValues(name, "blocked").Inc()
		return nil, fmt.Errorf("%w: %s until %s", errProviderBlocked, name, until.Format(time.RFC3339))
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	started := time.Now()
	var records []domain.ProviderRecord
	err := RetryWithBackoff(callCtx, s.retry, func() error {
		if err := s.waitProviderRateLimit(callCtx, name); err != nil {
			return err
		}
		var searchErr error
		records, searchErr = provider.Search(callCtx, query)
		return searchErr
	})
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", domain.ErrProvider, name, err)
		records = nil
	}
	s.recordProviderResult(name, len(records), err, time.Since(started), s.now())
	return records, err
}

func queryText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.DefaultQuery
	}
	return text
}
