// Package ingest normalizes provider records and writes them to the place store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haruyam15/meomok/internal/cuisine"
	"github.com/haruyam15/meomok/internal/domain"
	"github.com/haruyam15/meomok/internal/metrics"
)

// PlaceStore upserts a place keyed by (Source, SourcePlaceID), overwriting its mutable fields.
type PlaceStore interface {
	UpsertPlace(ctx context.Context, place domain.Place) error
}

type Ingester struct {
	store  PlaceStore
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Ingester)

// withClock stamps UpdatedAt from now instead of time.Now.
func withClock(now func() time.Time) Option {
	return func(i *Ingester) {
		if now != nil {
			i.now = now
		}
	}
}

func New(store PlaceStore, logger *slog.Logger, opts ...Option) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Ingester{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest writes one provider response. It stops at the first storage error; records written
// before it stay committed. The returned count is the number of places written.
func (i *Ingester) Ingest(ctx context.Context, records []domain.ProviderRecord) (int, error) {
	written := 0
	for _, record := range records {
		place, reason := Normalize(record, i.now().UTC())
		if reason != "" {
			metrics.RecordsRejectedTotal.WithLabelValues(string(record.Source), reason).Inc()
			i.logger.Warn("provider record rejected",
				slog.String("source", string(record.Source)),
				slog.String("id", record.NativeID),
				slog.String("reason", reason),
			)
			continue
		}
		if err := i.store.UpsertPlace(ctx, place); err != nil {
			return written, fmt.Errorf("%w: upsert %s: %v", domain.ErrStorage, place.Key(), err)
		}
		metrics.PlacesUpsertedTotal.WithLabelValues(string(place.Source)).Inc()
		written++
	}
	return written, nil
}

// Normalize maps a provider record to a Place. A non-empty reason means the record cannot be stored.
func Normalize(record domain.ProviderRecord, now time.Time) (domain.Place, string) {
	id := strings.TrimSpace(record.NativeID)
	if id == "" {
		return domain.Place{}, "missing_id"
	}
	if record.Source == "" {
		return domain.Place{}, "missing_source"
	}
	if !(domain.Point{Lat: record.Lat, Lng: record.Lng}).Valid() {
		return domain.Place{}, "invalid_coordinates"
	}
	return domain.Place{
		Source:        record.Source,
		SourcePlaceID: id,
		Name:          strings.TrimSpace(record.Name),
		Address:       optional(record.Address),
		Phone:         optional(record.Phone),
		Lat:           record.Lat,
		Lng:           record.Lng,
		Cuisines:      cuisine.ClassifyRecord(record.Category, record.Name),
		PriceLevel:    record.PriceLevel,
		RatingAvg:     record.RatingAvg,
		RatingCount:   record.RatingCount,
		URL:           optional(record.URL),
		UpdatedAt:     now,
	}, ""
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
