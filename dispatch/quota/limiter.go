// Package quota implements sliding-window admission control for the
// external generation API, partitioned by model class.
package quota

import (
	"context"
	"sync"
	"time"
)

// admissionMargin pads the scheduled re-check so a grant timestamp has
// definitely aged out of the window when the pass runs.
const admissionMargin = 100 * time.Millisecond

// Limiter is a sliding-log admission gate. At any instant the number of
// grants issued within the trailing window never exceeds the configured
// capacity. Waiters are granted in FIFO order.
//
// Acquire never times out on its own; a caller wanting a bounded wait
// cancels the context it passes in.
type Limiter struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	grants   []time.Time
	waiters  []*waiter
	timer    *time.Timer
	now      func() time.Time
}

// waiter is one queued Acquire call. ready is closed when a grant is
// handed over; a canceled waiter is removed from the queue instead.
type waiter struct {
	ready chan struct{}
}

// Stats is a point-in-time snapshot of a limiter.
type Stats struct {
	Active      int     // grants inside the current window
	Capacity    int     // max grants per window
	Queued      int     // callers blocked in Acquire
	Available   int     // capacity minus active
	Utilization float64 // active as a percentage of capacity
}

// NewLimiter creates a limiter allowing capacity grants per window.
func NewLimiter(capacity int, window time.Duration) *Limiter {
	return &Limiter{
		capacity: capacity,
		window:   window,
		now:      time.Now,
	}
}

// Acquire blocks until a grant slot is free inside the sliding window,
// then records the grant and returns. Returns ctx.Err() if the context
// is canceled while waiting; the queued slot is released in that case.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	now := l.now()
	l.pruneLocked(now)

	// Fast path: no queue ahead of us and a slot is open.
	if len(l.waiters) == 0 && len(l.grants) < l.capacity {
		l.grants = append(l.grants, now)
		l.mu.Unlock()
		return nil
	}

	w := &waiter{ready: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	l.scheduleLocked(now)
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-w.ready:
			// A grant raced the cancellation; keep it.
			l.mu.Unlock()
			return nil
		default:
			l.removeWaiterLocked(w)
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

// Stats returns a snapshot. Safe to call concurrently with Acquire.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(l.now())

	queued := len(l.waiters)
	active := len(l.grants)
	s := Stats{
		Active:    active,
		Capacity:  l.capacity,
		Queued:    queued,
		Available: l.capacity - active,
	}
	if l.capacity > 0 {
		s.Utilization = float64(active) / float64(l.capacity) * 100
	}
	return s
}

// Reset clears recorded grants and immediately re-runs admission.
// Intended for test isolation only.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.grants = l.grants[:0]
	l.admitLocked()
}

// setNow overrides the clock. Test hook.
func (l *Limiter) setNow(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// admitLocked is one admission pass: expire old grants, hand slots to
// waiters in FIFO order, and schedule the next pass if anyone is still
// queued. All limiter state is mutated only under l.mu, so concurrent
// Acquire calls and timer firings cannot double-grant.
func (l *Limiter) admitLocked() {
	now := l.now()
	l.pruneLocked(now)

	for len(l.waiters) > 0 && len(l.grants) < l.capacity {
		w := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.grants = append(l.grants, now)
		close(w.ready)
	}

	l.scheduleLocked(now)
}

// removeWaiterLocked drops a canceled waiter from the queue so it can
// never block the fast path or absorb a grant.
func (l *Limiter) removeWaiterLocked(w *waiter) {
	for i, queued := range l.waiters {
		if queued == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}

// pruneLocked drops grant timestamps older than the window.
func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.grants) && !l.grants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.grants = append(l.grants[:0], l.grants[i:]...)
	}
}

// scheduleLocked arms the admission timer for when the oldest grant
// leaves the window. Idle (no waiters) means no timer; the next Acquire
// re-triggers processing.
func (l *Limiter) scheduleLocked(now time.Time) {
	if l.timer != nil {
		return
	}
	if len(l.waiters) == 0 || len(l.grants) == 0 {
		return
	}

	wait := l.window - now.Sub(l.grants[0]) + admissionMargin
	if wait < admissionMargin {
		wait = admissionMargin
	}
	l.timer = time.AfterFunc(wait, func() {
		l.mu.Lock()
		l.timer = nil
		l.admitLocked()
		l.mu.Unlock()
	})
}
