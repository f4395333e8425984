package runner

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/promptforge/dispatch/dispatch/quota"
	ports "github.com/promptforge/dispatch/dispatch/runner/ports"
)

// Handler is the per-job execution path: it resolves the job's model
// class, fans its items out through the scheduler, records every
// outcome as it settles, and finalizes the job.
type Handler struct {
	scheduler  *ItemScheduler
	aggregator *Aggregator
	generator  ports.Generator
	quotas     *quota.Registry
	itemLimits map[quota.Class]int
	logger     zerolog.Logger
}

// NewHandler wires a handler. itemLimits caps in-flight items per
// model class; classes absent from the map run one item at a time.
func NewHandler(
	scheduler *ItemScheduler,
	aggregator *Aggregator,
	generator ports.Generator,
	quotas *quota.Registry,
	itemLimits map[quota.Class]int,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		scheduler:  scheduler,
		aggregator: aggregator,
		generator:  generator,
		quotas:     quotas,
		itemLimits: itemLimits,
		logger:     logger,
	}
}

// HandleJob runs every item of the job and returns the job summary.
// Item failures are folded into the summary; only job-level problems
// (a rejected batch, a broken store) return an error.
func (h *Handler) HandleJob(ctx context.Context, job *ports.Job) (JobSummary, error) {
	class := h.quotas.Classify(job.Model)
	maxConcurrent := h.itemLimits[class]
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	process := func(ctx context.Context, item ports.Item, index int) (string, error) {
		res, genErr := h.generator.Generate(ctx, item.Input, job.Model)
		return res.Ref, genErr
	}

	// The scheduler constructs every outcome; these hooks only persist
	// it, so the stored row and the finalized summary never diverge.
	hooks := BatchHooks{
		Started: func(ctx context.Context, index int) {
			if err := h.aggregator.ItemStarted(ctx, job.ID, index); err != nil {
				h.logger.Warn().Err(err).Str("job_id", job.ID).Int("index", index).Msg("mark item processing failed")
			}
		},
		Settled: func(ctx context.Context, outcome ports.ItemOutcome) {
			// Items settle after cancellation too; the row write must
			// still land.
			rctx := context.WithoutCancel(ctx)
			if err := h.aggregator.RecordItem(rctx, job.ID, outcome.Index, outcome); err != nil {
				h.logger.Error().Err(err).Str("job_id", job.ID).Int("index", outcome.Index).Msg("record item failed")
			}
		},
	}

	outcomes, err := h.scheduler.RunBatch(ctx, job.Items, job.Model, process, hooks, maxConcurrent)
	if err != nil {
		return JobSummary{}, FatalWrap(err, "batch rejected")
	}

	// Finalization happens even when the run context was canceled
	// mid-batch; the drained job still gets its terminal record.
	summary, err := h.aggregator.FinalizeJob(context.WithoutCancel(ctx), job.ID, outcomes)
	if err != nil {
		return summary, fmt.Errorf("handle job %s: %w", job.ID, err)
	}
	return summary, nil
}
