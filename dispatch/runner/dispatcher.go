package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"github.com/xeipuuv/gojsonschema"

	ports "github.com/promptforge/dispatch/dispatch/runner/ports"
)

// defaultInputSchema is the shape every item input must satisfy before
// a job is admitted. A job with any malformed input fails before any
// item runs.
const defaultInputSchema = `{
	"type": "object",
	"required": ["prompt"],
	"properties": {
		"prompt": {"type": "string", "minLength": 1}
	}
}`

// HandleFunc runs one job end to end and returns its summary. Errors
// are job-level (fatal) failures; item-level failures are folded into
// the summary instead.
type HandleFunc func(ctx context.Context, job *ports.Job) (JobSummary, error)

// Dispatcher pulls jobs from the source and runs them with a bounded
// number in flight across the process. Admission is FIFO; there is no
// priority among jobs.
type Dispatcher struct {
	source      ports.JobSource
	store       ports.JobStore
	handle      HandleFunc
	maxJobs     int
	inputSchema *gojsonschema.Schema
	logger      zerolog.Logger
	now         func() time.Time
}

// NewDispatcher creates a dispatcher running at most maxJobs jobs
// concurrently.
func NewDispatcher(source ports.JobSource, store ports.JobStore, handle HandleFunc, maxJobs int, logger zerolog.Logger) (*Dispatcher, error) {
	if maxJobs < 1 {
		return nil, fmt.Errorf("dispatcher: maxJobs must be >= 1, got %d", maxJobs)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(defaultInputSchema))
	if err != nil {
		return nil, fmt.Errorf("dispatcher: compile input schema: %w", err)
	}
	return &Dispatcher{
		source:      source,
		store:       store,
		handle:      handle,
		maxJobs:     maxJobs,
		inputSchema: schema,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Run dequeues and executes jobs until the source drains or ctx is
// canceled. Cancellation drains gracefully: no new jobs are dequeued
// and in-flight jobs settle naturally before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	p := pool.New().WithMaxGoroutines(d.maxJobs)

	var loopErr error
	for {
		job, err := d.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			loopErr = fmt.Errorf("dispatcher: dequeue: %w", err)
			break
		}
		if job == nil {
			break
		}
		// Go blocks while maxJobs are in flight, which is the job
		// admission gate.
		p.Go(func() {
			d.runJob(ctx, job)
		})
	}

	p.Wait()
	return loopErr
}

// runJob drives one job through pending -> running -> terminal state
// and reports the result to the queue collaborator.
func (d *Dispatcher) runJob(ctx context.Context, job *ports.Job) {
	log := d.logger.With().Str("job_id", job.ID).Str("model", job.Model).Logger()

	job.Status = ports.JobPending
	job.Total = len(job.Items)
	// Brokers are not required to name items; indexes are ours either way.
	for i := range job.Items {
		job.Items[i].Index = i
		if job.Items[i].ID == "" {
			job.Items[i].ID = uuid.NewString()
		}
	}
	if err := d.store.CreateJob(ctx, job); err != nil {
		d.failJob(ctx, job, FatalWrap(err, "persist job record"), log)
		return
	}

	if err := d.validateJob(job); err != nil {
		d.failJob(ctx, job, err, log)
		return
	}

	job.Status = ports.JobRunning
	job.StartedAt = d.now()
	if err := d.store.UpdateJobStatus(ctx, job.ID, ports.JobRunning, ports.StatusFields{StartedAt: job.StartedAt}); err != nil {
		d.failJob(ctx, job, FatalWrap(err, "mark job running"), log)
		return
	}
	log.Info().Int("items", job.Total).Msg("job running")

	summary, err := d.safeHandle(ctx, job)
	if err != nil {
		d.failJob(ctx, job, err, log)
		return
	}

	job.Status = ports.JobCompleted
	job.Succeeded = summary.Succeeded
	job.Failed = summary.Failed
	job.FinishedAt = d.now()

	if err := d.source.Ack(ctx, job.ID); err != nil {
		log.Error().Err(err).Msg("ack failed")
	}
	log.Info().
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("job completed")
}

// safeHandle invokes the handler, converting panics into fatal errors
// so one job cannot take the dispatcher down.
func (d *Dispatcher) safeHandle(ctx context.Context, job *ports.Job) (summary JobSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Fatalf("job handler panicked: %v", r)
		}
	}()
	return d.handle(ctx, job)
}

// validateJob checks the fatal preconditions: identifiers present, a
// model set, at least one item, and every input matching the schema.
func (d *Dispatcher) validateJob(job *ports.Job) error {
	if job.ID == "" {
		return Fatalf("job has no identifier")
	}
	if job.Model == "" {
		return Fatalf("job %s has no model", job.ID)
	}
	if len(job.Items) == 0 {
		return Fatalf("job %s has no items", job.ID)
	}
	for _, item := range job.Items {
		result, err := d.inputSchema.Validate(gojsonschema.NewBytesLoader(item.Input))
		if err != nil {
			return FatalWrap(err, fmt.Sprintf("item %d input is not valid JSON", item.Index))
		}
		if !result.Valid() {
			return Fatalf("item %d input rejected: %s", item.Index, result.Errors()[0].String())
		}
	}
	return nil
}

// failJob records the terminal failed state and hands the job back to
// the queue for its retry policy.
func (d *Dispatcher) failJob(ctx context.Context, job *ports.Job, cause error, log zerolog.Logger) {
	job.Status = ports.JobFailed
	job.FinishedAt = d.now()

	if err := d.store.UpdateJobStatus(ctx, job.ID, ports.JobFailed, ports.StatusFields{
		FinishedAt: job.FinishedAt,
		Error:      cause.Error(),
	}); err != nil {
		log.Error().Err(err).Msg("mark job failed")
	}
	if err := d.source.Nack(ctx, job.ID, cause.Error()); err != nil {
		log.Error().Err(err).Msg("nack failed")
	}
	log.Error().Err(cause).Msg("job failed")
}
