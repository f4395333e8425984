package adapters

import (
	"context"
	"sync"

	ports "github.com/promptforge/dispatch/dispatch/runner/ports"
)

// SourceChan is an in-process JobSource over a buffered channel. Used
// by tests and by embedders that bring their own broker and only need
// a hand-off point into the dispatcher. Ack and Nack counts are kept
// so the embedder can drive its broker's redelivery.
type SourceChan struct {
	jobs chan *ports.Job

	mu     sync.Mutex
	acked  map[string]bool
	nacked map[string]string
}

// NewSourceChan creates a source with the given buffer size.
func NewSourceChan(buffer int) *SourceChan {
	return &SourceChan{
		jobs:   make(chan *ports.Job, buffer),
		acked:  make(map[string]bool),
		nacked: make(map[string]string),
	}
}

// Enqueue hands a job to the dispatcher. Blocks when the buffer is
// full.
func (s *SourceChan) Enqueue(job *ports.Job) {
	s.jobs <- job
}

// Close marks the source drained; Dequeue returns nil once the buffer
// empties.
func (s *SourceChan) Close() {
	close(s.jobs)
}

// Dequeue blocks until a job is available, the source closes, or ctx
// is canceled.
func (s *SourceChan) Dequeue(ctx context.Context) (*ports.Job, error) {
	select {
	case job, ok := <-s.jobs:
		if !ok {
			return nil, nil
		}
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack records successful completion of a job.
func (s *SourceChan) Ack(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked[jobID] = true
	return nil
}

// Nack records a job-level failure and its reason.
func (s *SourceChan) Nack(ctx context.Context, jobID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nacked[jobID] = reason
	return nil
}

// Acked reports whether the job was acked.
func (s *SourceChan) Acked(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked[jobID]
}

// NackReason returns the recorded nack reason, if any.
func (s *SourceChan) NackReason(jobID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason, ok := s.nacked[jobID]
	return reason, ok
}

// Ensure SourceChan implements the JobSource interface.
var _ ports.JobSource = (*SourceChan)(nil)
