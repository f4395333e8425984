// Package runner executes batch generation jobs: it bounds job and
// item concurrency, routes every external call through the shared
// quota registry, and aggregates per-item outcomes into job results.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/promptforge/dispatch/dispatch/quota"
	ports "github.com/promptforge/dispatch/dispatch/runner/ports"
)

// ProcessFunc performs one item's external call and returns a result
// reference. Errors and panics are captured by the scheduler and
// converted to failed outcomes; they never escape to sibling items.
type ProcessFunc func(ctx context.Context, item ports.Item, index int) (string, error)

// BatchHooks observes item lifecycle during one scheduling round.
// Started fires after quota admission, before the external call, only
// for items whose attempt actually begins. Settled fires exactly once
// per item with its final outcome, including items that never ran
// (canceled admission, panics). Either hook may be nil.
type BatchHooks struct {
	Started func(ctx context.Context, index int)
	Settled func(ctx context.Context, outcome ports.ItemOutcome)
}

// ItemScheduler bounds concurrent in-flight items within one job and
// applies global quota pressure per item. It persists nothing itself;
// callers persist from the Settled hook, which sees the same outcome
// the batch returns.
type ItemScheduler struct {
	quotas *quota.Registry
	logger zerolog.Logger
}

// NewItemScheduler creates a scheduler sharing the given quota registry.
func NewItemScheduler(quotas *quota.Registry, logger zerolog.Logger) *ItemScheduler {
	return &ItemScheduler{quotas: quotas, logger: logger}
}

// RunBatch runs process over every item with at most maxConcurrent in
// flight, acquiring a quota slot for modelID's class before each call.
// Items are submitted in index order and may settle out of order; the
// returned slice always has len(items) outcomes, indexed by item
// index. One item's failure never cancels or blocks its siblings.
//
// Outcome durations cover the process call only, not quota or
// semaphore wait.
func (s *ItemScheduler) RunBatch(ctx context.Context, items []ports.Item, modelID string, process ProcessFunc, hooks BatchHooks, maxConcurrent int) ([]ports.ItemOutcome, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("runbatch: empty item list")
	}
	if maxConcurrent < 1 {
		return nil, fmt.Errorf("runbatch: maxConcurrent must be >= 1, got %d", maxConcurrent)
	}

	outcomes := make([]ports.ItemOutcome, len(items))

	p := pool.New().WithMaxGoroutines(maxConcurrent)
	for i := range items {
		item := items[i]
		idx := i
		p.Go(func() {
			out := s.runOne(ctx, item, idx, modelID, process, hooks)
			outcomes[idx] = out
			if hooks.Settled != nil {
				hooks.Settled(ctx, out)
			}
		})
	}
	p.Wait()

	return outcomes, nil
}

// runOne settles exactly one item: quota gate, timed external call,
// outcome. The deferred recover converts panics in process into failed
// outcomes so a scheduling round always yields one outcome per item.
func (s *ItemScheduler) runOne(ctx context.Context, item ports.Item, index int, modelID string, process ProcessFunc, hooks BatchHooks) (out ports.ItemOutcome) {
	var startedAt time.Time
	defer func() {
		if r := recover(); r != nil {
			var elapsed time.Duration
			if !startedAt.IsZero() {
				elapsed = time.Since(startedAt)
			}
			s.logger.Error().
				Str("item_id", item.ID).
				Int("index", index).
				Interface("panic", r).
				Msg("item processor panicked")
			out = ports.FailedOutcome(index, fmt.Sprintf("panic: %v", r), elapsed)
		}
	}()

	if err := s.quotas.Acquire(ctx, modelID); err != nil {
		// Only context cancellation surfaces here; quota backpressure
		// is a delay, never an error.
		return ports.FailedOutcome(index, fmt.Sprintf("admission canceled: %v", err), 0)
	}

	// The hook runs outside the timed window.
	if hooks.Started != nil {
		hooks.Started(ctx, index)
	}

	startedAt = time.Now()
	ref, err := process(ctx, item, index)
	elapsed := time.Since(startedAt)

	if err != nil {
		s.logger.Debug().
			Str("item_id", item.ID).
			Int("index", index).
			Err(err).
			Dur("duration", elapsed).
			Msg("item failed")
		return ports.FailedOutcome(index, err.Error(), elapsed)
	}

	return ports.CompletedOutcome(index, ref, elapsed)
}
