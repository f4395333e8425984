package runnerports

import (
	"context"
	"time"
)

// StatusFields carries the optional columns written alongside a job
// status transition. Zero values are skipped.
type StatusFields struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Succeeded  int
	Failed     int
	Total      int
	Error      string
}

// JobStore is the persistence collaborator. Write-mostly from the
// runner's perspective; external pollers read the same records for
// mid-flight progress. Item upserts are keyed (jobID, index) and may
// arrive interleaved across items and jobs in any order.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, fields StatusFields) error
	MarkItemProcessing(ctx context.Context, jobID string, index int) error
	UpsertItemResult(ctx context.Context, jobID string, index int, outcome ItemOutcome) error
	JobStartedAt(ctx context.Context, jobID string) (time.Time, error)
}
