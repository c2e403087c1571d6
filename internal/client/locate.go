package client

import (
	"context"
	"errors"
	"time"
)

// ErrLocationDenied is returned by a Locator when the user refuses to share a position.
var ErrLocationDenied = errors.New("location permission denied")

const DefaultLocateTimeout = 8 * time.Second

// DefaultCenter is Gangnam station, used when no position can be acquired.
var DefaultCenter = Location{Lat: 37.4979, Lng: 127.0276}

type Location struct {
	Lat float64
	Lng float64
}

type Locator interface {
	Locate(ctx context.Context) (Location, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context) (Location, error)

func (f LocatorFunc) Locate(ctx context.Context) (Location, error) {
	return f(ctx)
}

// Fix is the center a session starts from.
type Fix struct {
	Location
	// Force asks the first search to refresh from providers.
	Force bool
	// Fallback is set when DefaultCenter replaced the device position.
	Fallback bool
	Err      error
}

// LocateWithFallback waits at most timeout for the locator. On timeout, denial or any
// other failure it returns DefaultCenter with Force set.
func LocateWithFallback(ctx context.Context, locator Locator, timeout time.Duration) Fix {
	if locator == nil {
		return fallbackFix(errors.New("no locator"))
	}
	if timeout <= 0 {
		timeout = DefaultLocateTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type located struct {
		loc Location
		err error
	}
	ch := make(chan located, 1)
	go func() {
		loc, err := locator.Locate(ctx)
		ch <- located{loc: loc, err: err}
	}()

	select {
	case <-ctx.Done():
		return fallbackFix(ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return fallbackFix(res.err)
		}
		if res.loc.Lat < -90 || res.loc.Lat > 90 || res.loc.Lng < -180 || res.loc.Lng > 180 {
			return fallbackFix(errors.New("locator returned out-of-range coordinates"))
		}
		return Fix{Location: res.loc}
	}
}

func fallbackFix(err error) Fix {
	return Fix{Location: DefaultCenter, Force: true, Fallback: true, Err: err}
}
