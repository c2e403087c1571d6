// Package paginate serves distance-ranked pages of stored places with a keyset cursor.
package paginate

import (
	"context"
	"errors"
	"fmt"

	"github.com/haruyam15/meomok/internal/domain"
	"github.com/haruyam15/meomok/internal/metrics"
)

// NearbyStore runs the ranked query: rows within the radius ordered by (distance_m, place_id),
// strictly after q.After when it is set, at most q.Limit rows.
type NearbyStore interface {
	Nearby(ctx context.Context, q domain.NearbyQuery) ([]domain.PlaceRow, error)
}

type Page struct {
	Rows       []domain.PlaceRow
	HasMore    bool
	NextCursor *domain.Cursor
}

type Paginator struct {
	store NearbyStore
}

func New(store NearbyStore) *Paginator {
	return &Paginator{store: store}
}

// Query returns one page. HasMore is true when the page is full; a full final page therefore
// yields one extra empty page.
func (p *Paginator) Query(ctx context.Context, lat, lng float64, radiusM int, cursor *domain.Cursor, limit int) (Page, error) {
	limit = domain.ClampLimit(limit)
	if cursor.IsStart() {
		cursor = nil
	}
	rows, err := p.store.Nearby(ctx, domain.NearbyQuery{
		Center:  domain.Point{Lat: lat, Lng: lng},
		RadiusM: radiusM,
		After:   cursor,
		Limit:   limit,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			return Page{}, err
		}
		return Page{}, fmt.Errorf("%w: %v", domain.ErrQuery, err)
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	if rows == nil {
		rows = []domain.PlaceRow{}
	}
	metrics.PageSize.Observe(float64(len(rows)))

	page := Page{Rows: rows, HasMore: len(rows) == limit}
	if len(rows) > 0 {
		page.NextCursor = domain.CursorAt(rows[len(rows)-1])
	}
	return page, nil
}
