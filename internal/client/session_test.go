package client

import (
	"sync"
	"testing"

	"github.com/haruyam15/meomok/internal/domain"
)

func row(id string, distance float64) domain.PlaceRow {
	return domain.PlaceRow{PlaceID: id, Name: id, DistanceM: distance, Cuisines: []string{"korean"}}
}

func TestNewSignatureRounds(t *testing.T) {
	a := NewSignature(37.497912, 127.027641, 999.6)
	b := NewSignature(37.49788, 127.02758, 1000.2)
	if a != b {
		t.Fatalf("expected equal signatures, got %+v and %+v", a, b)
	}
	if a.Lat != 37.4979 || a.Lng != 127.0276 || a.Radius != 1000 {
		t.Fatalf("unexpected rounding: %+v", a)
	}
	if NewSignature(37.4979, 127.0276, 1000) == NewSignature(37.4979, 127.0276, 1500) {
		t.Fatalf("radius must be part of the signature")
	}
}

func TestSessionGuardAppliesCurrentTicket(t *testing.T) {
	guard := NewSessionGuard(NewSignature(37.5, 127, 1000))
	ticket := guard.Begin()
	if guard.State() != Fetching {
		t.Fatalf("expected fetching after Begin, got %s", guard.State())
	}

	applied := false
	if outcome := guard.Complete(ticket, func() { applied = true }); outcome != Applied {
		t.Fatalf("expected applied, got %s", outcome)
	}
	if !applied {
		t.Fatalf("apply was not run")
	}
	if guard.State() != Idle {
		t.Fatalf("expected idle after completion, got %s", guard.State())
	}
}

func TestSessionGuardDiscardsStaleTicket(t *testing.T) {
	first := NewSignature(37.5, 127, 1000)
	second := NewSignature(37.5, 127, 2000)
	guard := NewSessionGuard(first)

	stale := guard.Begin()
	guard.Activate(second)
	current := guard.Begin()

	applied := false
	if outcome := guard.Complete(stale, func() { applied = true }); outcome != Discarded {
		t.Fatalf("expected discarded, got %s", outcome)
	}
	if applied {
		t.Fatalf("stale response must not be applied")
	}
	if guard.Active() != second {
		t.Fatalf("active signature changed by discard: %+v", guard.Active())
	}
	if guard.State() != Fetching {
		t.Fatalf("discard must not settle the current request")
	}
	if outcome := guard.Complete(current, nil); outcome != Applied {
		t.Fatalf("expected current ticket applied, got %s", outcome)
	}
}

func TestSessionGuardConcurrentUse(t *testing.T) {
	guard := NewSessionGuard(NewSignature(37.5, 127, 1000))
	var mu sync.Mutex
	applied := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket := guard.Begin()
			guard.Complete(ticket, func() {
				mu.Lock()
				applied++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()
	if applied != 50 {
		t.Fatalf("expected 50 applied, got %d", applied)
	}
	if guard.State() != Idle {
		t.Fatalf("expected idle, got %s", guard.State())
	}
}

func TestMergeByPlaceID(t *testing.T) {
	prev := []domain.PlaceRow{row("b", 20), row("a", 10)}
	updated := row("b", 20)
	updated.Name = "renamed"
	next := []domain.PlaceRow{updated, row("c", 10), row("d", 5)}

	merged := MergeByPlaceID(prev, next)
	want := []string{"d", "a", "c", "b"}
	if len(merged) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(merged))
	}
	for i, id := range want {
		if merged[i].PlaceID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, merged[i].PlaceID)
		}
	}
	if merged[3].Name != "renamed" {
		t.Fatalf("next must overwrite prev, got %q", merged[3].Name)
	}
}

func TestMergeByPlaceIDEmpty(t *testing.T) {
	if merged := MergeByPlaceID(nil, nil); merged == nil || len(merged) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", merged)
	}
}
