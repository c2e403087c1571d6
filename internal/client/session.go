package client

import (
	"math"
	"sort"
	"sync"

	"github.com/haruyam15/meomok/internal/domain"
)

// Signature identifies a browsing session: the searched center and radius at a fixed precision.
type Signature struct {
	Lat    float64
	Lng    float64
	Radius int
}

// NewSignature rounds lat/lng to 4 decimals (about 11m) and the radius to whole meters.
func NewSignature(lat, lng, radiusM float64) Signature {
	return Signature{
		Lat:    math.Round(lat*1e4) / 1e4,
		Lng:    math.Round(lng*1e4) / 1e4,
		Radius: int(math.Round(radiusM)),
	}
}

type State int

const (
	Idle State = iota
	Fetching
)

func (s State) String() string {
	if s == Fetching {
		return "fetching"
	}
	return "idle"
}

type Outcome int

const (
	Applied Outcome = iota
	Discarded
)

func (o Outcome) String() string {
	if o == Discarded {
		return "discarded"
	}
	return "applied"
}

// Ticket tags one outgoing request with the signature active when it was sent.
type Ticket struct {
	sig Signature
}

func (t Ticket) Signature() Signature {
	return t.sig
}

// SessionGuard drops responses that arrive after the session they were requested for has ended.
type SessionGuard struct {
	mu      sync.Mutex
	active  Signature
	pending int
}

func NewSessionGuard(sig Signature) *SessionGuard {
	return &SessionGuard{active: sig}
}

func (g *SessionGuard) Activate(sig Signature) {
	g.Reset(sig, nil)
}

// Reset activates sig and runs clear while holding the guard, so no response can be applied
// between the switch and the clear.
func (g *SessionGuard) Reset(sig Signature, clear func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = sig
	g.pending = 0
	if clear != nil {
		clear()
	}
}

func (g *SessionGuard) Active() Signature {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

func (g *SessionGuard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending > 0 {
		return Fetching
	}
	return Idle
}

func (g *SessionGuard) Begin() Ticket {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending++
	return Ticket{sig: g.active}
}

// Complete runs apply only if the ticket still matches the active signature.
// A stale ticket is discarded without touching any state.
func (g *SessionGuard) Complete(ticket Ticket, apply func()) Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ticket.sig != g.active {
		return Discarded
	}
	if g.pending > 0 {
		g.pending--
	}
	if apply != nil {
		apply()
	}
	return Applied
}

// MergeByPlaceID unions two pages keyed by place id, next winning on collision,
// ordered by (distance_m, place_id).
func MergeByPlaceID(prev, next []domain.PlaceRow) []domain.PlaceRow {
	byID := make(map[string]domain.PlaceRow, len(prev)+len(next))
	for _, row := range prev {
		byID[row.PlaceID] = row
	}
	for _, row := range next {
		byID[row.PlaceID] = row
	}
	merged := make([]domain.PlaceRow, 0, len(byID))
	for _, row := range byID {
		merged = append(merged, row)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Before(merged[j])
	})
	return merged
}
