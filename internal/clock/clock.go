// Package clock supplies "now" to the engine and the test harness.
//
// All time-sensitive engine logic (timer due dates, task due dates, historic
// start and end times) reads a Clock instead of calling time.Now directly, so
// tests can pin time with Virtual.SetCurrentTime and get reproducible timer
// and duration behaviour.
//
// Thread-safety: Virtual is safe for concurrent use. Its override is a single
// value, so two tests wanting different times must not share one Virtual at
// the same time. TestSession enforces this by holding Lease for the whole
// test. A second lease attempt waits a bounded time and then fails with
// ErrLeased rather than blocking forever.
package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time source consulted by the engine.
type Clock interface {
	Now() time.Time
}

// Virtual is a clock whose current time can be overridden.
//
// Without an override it tracks its base clock (the real clock unless a
// clockwork fake was supplied).
type Virtual struct {
	base clockwork.Clock

	mu       sync.RWMutex
	override *time.Time

	lease chan struct{} // one slot; full while leased
}

// ErrLeased is returned by Lease when the clock stays leased for the
// whole wait.
var ErrLeased = errors.New("clock is leased by another test")

// NewVirtual creates a Virtual over base. A nil base means real time.
func NewVirtual(base clockwork.Clock) *Virtual {
	if base == nil {
		base = clockwork.NewRealClock()
	}
	return &Virtual{base: base, lease: make(chan struct{}, 1)}
}

// Now returns the override time if one is set, else the base time.
func (v *Virtual) Now() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.override != nil {
		return *v.override
	}
	return v.base.Now()
}

// SetCurrentTime installs t as the override. It does not touch timestamps
// that were already handed out.
func (v *Virtual) SetCurrentTime(t time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.override = &t
}

// Advance moves the override forward by d. If no override is set, the
// override starts from the base clock's current time.
func (v *Virtual) Advance(d time.Duration) time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	start := v.base.Now()
	if v.override != nil {
		start = *v.override
	}
	next := start.Add(d)
	v.override = &next
	return next
}

// Reset clears the override so Now tracks the base clock again.
func (v *Virtual) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.override = nil
}

// Current reports the override, if any.
func (v *Virtual) Current() (time.Time, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.override == nil {
		return time.Time{}, false
	}
	return *v.override, true
}

// Base returns the underlying clock. Background schedulers use it for
// tickers, which must not follow the override.
func (v *Virtual) Base() clockwork.Clock {
	return v.base
}

// Lease grants exclusive use of the override until release is called.
// If the clock is already leased, Lease waits up to wait for it; a wait of
// zero or less does not wait at all. It fails with ErrLeased when the wait
// runs out or ctx is done first. release is safe to call more than once.
func (v *Virtual) Lease(ctx context.Context, wait time.Duration) (release func(), err error) {
	select {
	case v.lease <- struct{}{}:
		return v.releaser(), nil
	default:
	}
	if wait <= 0 {
		return nil, ErrLeased
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case v.lease <- struct{}{}:
		return v.releaser(), nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: waited %s", ErrLeased, wait)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrLeased, ctx.Err())
	}
}

func (v *Virtual) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-v.lease })
	}
}

var defaultClock = NewVirtual(nil)

// Default returns the process-wide clock used when nothing else is injected.
func Default() *Virtual {
	return defaultClock
}

// Now is shorthand for Default().Now().
func Now() time.Time {
	return defaultClock.Now()
}
