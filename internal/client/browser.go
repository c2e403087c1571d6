package client

import (
	"context"
	"sync"

	"github.com/haruyam15/meomok/internal/domain"
)

type Searcher interface {
	Search(ctx context.Context, params SearchParams) (domain.SearchResponse, error)
}

// Browser accumulates pages of one session. Responses requested for an earlier session
// are dropped; failed loads leave the accumulated list as it was.
type Browser struct {
	searcher Searcher
	guard    *SessionGuard
	limit    int

	mu        sync.Mutex
	query     string
	force     bool
	places    []domain.PlaceRow
	cursor    *domain.Cursor
	hasMore   bool
	cacheTile string
	fetched   bool
}

func NewBrowser(searcher Searcher, limit int) *Browser {
	return &Browser{
		searcher: searcher,
		guard:    &SessionGuard{},
		limit:    limit,
		places:   []domain.PlaceRow{},
	}
}

// Reset starts a new session for sig. force is sent with the first page only.
func (b *Browser) Reset(sig Signature, query string, force bool) {
	b.guard.Reset(sig, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.query = query
		b.force = force
		b.places = []domain.PlaceRow{}
		b.cursor = nil
		b.hasMore = true
		b.cacheTile = ""
		b.fetched = false
	})
}

// LoadMore requests the page after the current cursor and merges it into the list.
// Errors are reported only while their session is still the active one. Once the
// server has reported the last page, LoadMore is a no-op.
func (b *Browser) LoadMore(ctx context.Context) (Outcome, error) {
	if !b.HasMore() {
		return Discarded, nil
	}
	ticket := b.guard.Begin()
	sig := ticket.Signature()

	b.mu.Lock()
	params := SearchParams{
		Lat:     sig.Lat,
		Lng:     sig.Lng,
		RadiusM: sig.Radius,
		Query:   b.query,
		Force:   b.force,
		Limit:   b.limit,
		Cursor:  b.cursor,
	}
	b.mu.Unlock()

	response, err := b.searcher.Search(ctx, params)
	if err != nil {
		if b.guard.Complete(ticket, nil) == Discarded {
			return Discarded, nil
		}
		return Discarded, err
	}

	outcome := b.guard.Complete(ticket, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.places = MergeByPlaceID(b.places, response.Places)
		if response.NextCursor != nil {
			b.cursor = response.NextCursor
		}
		b.hasMore = response.HasMore
		b.cacheTile = response.CacheTile
		b.fetched = b.fetched || response.Fetched
		b.force = false
	})
	return outcome, nil
}

func (b *Browser) Places() []domain.PlaceRow {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.PlaceRow(nil), b.places...)
}

func (b *Browser) HasMore() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasMore
}

func (b *Browser) CacheTile() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cacheTile
}

func (b *Browser) Fetched() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetched
}

func (b *Browser) State() State {
	return b.guard.State()
}
