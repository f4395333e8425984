package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/promptforge/dispatch/dispatch/quota"
	ports "github.com/promptforge/dispatch/dispatch/runner/ports"
)

// stubStore implements JobStore in memory, capturing every write for
// assertions.
type stubStore struct {
	mu          sync.Mutex
	created     []*ports.Job
	transitions map[string][]ports.JobStatus
	fields      map[string]ports.StatusFields
	items       map[string]map[int]ports.ItemOutcome
	processing  map[string]map[int]bool
	startedAt   map[string]time.Time

	failUpdate bool
}

func newStubStore() *stubStore {
	return &stubStore{
		transitions: make(map[string][]ports.JobStatus),
		fields:      make(map[string]ports.StatusFields),
		items:       make(map[string]map[int]ports.ItemOutcome),
		processing:  make(map[string]map[int]bool),
		startedAt:   make(map[string]time.Time),
	}
}

func (s *stubStore) CreateJob(ctx context.Context, job *ports.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, job)
	return nil
}

func (s *stubStore) UpdateJobStatus(ctx context.Context, jobID string, status ports.JobStatus, fields ports.StatusFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate {
		return fmt.Errorf("stub store: update refused")
	}
	s.transitions[jobID] = append(s.transitions[jobID], status)
	s.fields[jobID] = fields
	if !fields.StartedAt.IsZero() {
		s.startedAt[jobID] = fields.StartedAt
	}
	return nil
}

func (s *stubStore) MarkItemProcessing(ctx context.Context, jobID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing[jobID] == nil {
		s.processing[jobID] = make(map[int]bool)
	}
	s.processing[jobID][index] = true
	return nil
}

func (s *stubStore) UpsertItemResult(ctx context.Context, jobID string, index int, outcome ports.ItemOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items[jobID] == nil {
		s.items[jobID] = make(map[int]ports.ItemOutcome)
	}
	s.items[jobID][index] = outcome
	return nil
}

func (s *stubStore) JobStartedAt(ctx context.Context, jobID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt[jobID], nil
}

func (s *stubStore) statuses(jobID string) []ports.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.JobStatus, len(s.transitions[jobID]))
	copy(out, s.transitions[jobID])
	return out
}

func (s *stubStore) itemCount(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items[jobID])
}

func (s *stubStore) processingCount(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processing[jobID])
}

func (s *stubStore) item(jobID string, index int) (ports.ItemOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.items[jobID][index]
	return out, ok
}

var _ ports.JobStore = (*stubStore)(nil)

// stubGenerator implements Generator with a programmable response per
// input.
type stubGenerator struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
	delay    time.Duration
	failWhen func(input json.RawMessage) bool
}

func (g *stubGenerator) Generate(ctx context.Context, input json.RawMessage, modelID string) (ports.GenerateResult, error) {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.maxSeen {
		g.maxSeen = g.inFlight
	}
	g.mu.Unlock()

	if g.delay > 0 {
		time.Sleep(g.delay)
	}

	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()

	if g.failWhen != nil && g.failWhen(input) {
		return ports.GenerateResult{}, fmt.Errorf("generation refused")
	}
	return ports.GenerateResult{Ref: "artifact://" + modelID}, nil
}

var _ ports.Generator = (*stubGenerator)(nil)

// newWideRegistry builds a quota registry roomy enough to never gate
// tests that are not about quota.
func newWideRegistry() *quota.Registry {
	return quota.NewRegistry(
		map[quota.Class]quota.ClassConfig{
			quota.ClassFast:  {Capacity: 1000, Window: time.Second},
			quota.ClassHeavy: {Capacity: 1000, Window: time.Second},
		},
		quota.DefaultRules(),
		quota.ClassFast,
		zerolog.Nop(),
	)
}

func testItems(n int) []ports.Item {
	items := make([]ports.Item, n)
	for i := range items {
		items[i] = ports.Item{
			ID:    fmt.Sprintf("item-%d", i),
			Index: i,
			Input: json.RawMessage(fmt.Sprintf(`{"prompt": "prompt %d"}`, i)),
		}
	}
	return items
}
