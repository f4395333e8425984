package runnerports

import "context"

// JobSource is the external queue collaborator. The broker owns
// redelivery and backoff; the runner only reports terminal status via
// Ack and Nack.
type JobSource interface {
	// Dequeue blocks until a job is available. Returns (nil, nil) when
	// the source is closed and drained.
	Dequeue(ctx context.Context) (*Job, error)
	Ack(ctx context.Context, jobID string) error
	Nack(ctx context.Context, jobID string, reason string) error
}
