package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	ports "github.com/promptforge/dispatch/dispatch/runner/ports"
)

// JobSummary is the terminal accounting for one job. A job with failed
// items but no fatal error still completes, carrying its counts.
type JobSummary struct {
	Succeeded       int
	Failed          int
	Total           int
	Duration        time.Duration
	AvgItemDuration time.Duration
}

// Aggregator persists per-item outcomes as they settle and computes
// the job-level summary once all items have.
type Aggregator struct {
	store  ports.JobStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewAggregator creates an aggregator writing through the given store.
func NewAggregator(store ports.JobStore, logger zerolog.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger, now: time.Now}
}

// ItemStarted flips the item's row to processing when its attempt
// begins, so pollers can tell in-flight work from queued work.
func (a *Aggregator) ItemStarted(ctx context.Context, jobID string, index int) error {
	if err := a.store.MarkItemProcessing(ctx, jobID, index); err != nil {
		return fmt.Errorf("mark item %s[%d] processing: %w", jobID, index, err)
	}
	return nil
}

// RecordItem writes one item's terminal state immediately, so pollers
// watching the job see items complete before the whole batch finishes.
// Called once per item, as soon as it settles.
func (a *Aggregator) RecordItem(ctx context.Context, jobID string, index int, outcome ports.ItemOutcome) error {
	if err := a.store.UpsertItemResult(ctx, jobID, index, outcome); err != nil {
		return fmt.Errorf("record item %s[%d]: %w", jobID, index, err)
	}
	a.logger.Debug().
		Str("job_id", jobID).
		Int("index", index).
		Str("status", string(outcome.Status)).
		Dur("duration", outcome.Duration).
		Msg("item recorded")
	return nil
}

// FinalizeJob reduces the settled outcomes into a summary and writes
// the job's terminal record once. The reduction is pure, so calling it
// again with the same outcomes yields the same summary.
func (a *Aggregator) FinalizeJob(ctx context.Context, jobID string, outcomes []ports.ItemOutcome) (JobSummary, error) {
	summary := Summarize(outcomes)

	startedAt, err := a.store.JobStartedAt(ctx, jobID)
	if err != nil {
		return summary, fmt.Errorf("finalize %s: read started_at: %w", jobID, err)
	}
	finishedAt := a.now()
	if !startedAt.IsZero() {
		summary.Duration = finishedAt.Sub(startedAt)
	}

	err = a.store.UpdateJobStatus(ctx, jobID, ports.JobCompleted, ports.StatusFields{
		FinishedAt: finishedAt,
		Succeeded:  summary.Succeeded,
		Failed:     summary.Failed,
		Total:      summary.Total,
	})
	if err != nil {
		return summary, fmt.Errorf("finalize %s: %w", jobID, err)
	}

	a.logger.Info().
		Str("job_id", jobID).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("total", summary.Total).
		Dur("duration", summary.Duration).
		Msg("job finalized")
	return summary, nil
}

// Summarize reduces outcomes to counts and the mean item duration. No
// hidden counters; the same input always produces the same summary.
func Summarize(outcomes []ports.ItemOutcome) JobSummary {
	s := JobSummary{Total: len(outcomes)}
	var totalItemTime time.Duration
	for _, o := range outcomes {
		if o.Succeeded() {
			s.Succeeded++
		} else {
			s.Failed++
		}
		totalItemTime += o.Duration
	}
	if s.Total > 0 {
		s.AvgItemDuration = totalItemTime / time.Duration(s.Total)
	}
	return s
}
