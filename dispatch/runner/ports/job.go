// Package runnerports defines the domain types and collaborator
// interfaces the runner depends on. Adapters live in runner/adapters;
// the runner itself only sees these ports.
package runnerports

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a batch job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ItemStatus is the lifecycle state of one item inside a job.
type ItemStatus string

const (
	ItemQueued     ItemStatus = "queued"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
)

// Job is one batch execution request. It is created when dequeued,
// mutated only by the dispatcher and aggregator, and never deleted by
// this subsystem.
type Job struct {
	ID       string
	TenantID string
	Model    string
	Items    []Item

	Status     JobStatus
	StartedAt  time.Time
	FinishedAt time.Time

	Succeeded int
	Failed    int
	Total     int
}

// Item is one unit of work (one external-API call) inside a job. Index
// is zero-based within the owning job. Input is opaque to the
// scheduler.
type Item struct {
	ID    string
	Index int
	Input json.RawMessage

	Status    ItemStatus
	ResultRef string
	Error     string
	Duration  time.Duration
}

// ItemOutcome is the terminal record of one item attempt. Duration
// covers the external-API call only, not quota or semaphore wait, so
// dashboards can separate API latency from queueing latency.
type ItemOutcome struct {
	Index     int
	Status    ItemStatus
	ResultRef string
	Error     string
	Duration  time.Duration
}

// Succeeded reports whether the item completed.
func (o ItemOutcome) Succeeded() bool { return o.Status == ItemCompleted }

// CompletedOutcome builds a successful outcome for the item at index.
func CompletedOutcome(index int, resultRef string, duration time.Duration) ItemOutcome {
	return ItemOutcome{Index: index, Status: ItemCompleted, ResultRef: resultRef, Duration: duration}
}

// FailedOutcome builds a failed outcome for the item at index.
func FailedOutcome(index int, errMsg string, duration time.Duration) ItemOutcome {
	return ItemOutcome{Index: index, Status: ItemFailed, Error: errMsg, Duration: duration}
}
