package adapters

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/dispatch/dispatch/db"
	ports "github.com/promptforge/dispatch/dispatch/runner/ports"
)

func newTestStore(t *testing.T) *StoreLibSQL {
	t.Helper()
	conn, err := db.Connect(filepath.Join(t.TempDir(), "dispatch-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(conn))
	return NewStoreLibSQL(conn)
}

func seedJob(t *testing.T, store *StoreLibSQL, id string, items int) *ports.Job {
	t.Helper()
	job := &ports.Job{
		ID:       id,
		TenantID: "tenant-1",
		Model:    "gen-fast-v2",
		Status:   ports.JobPending,
	}
	for i := 0; i < items; i++ {
		job.Items = append(job.Items, ports.Item{
			ID:    id + "-item",
			Index: i,
			Input: json.RawMessage(`{"prompt": "hi"}`),
		})
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func TestStoreLibSQL_JobLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedJob(t, store, "job-1", 2)

	startedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", ports.JobRunning, ports.StatusFields{StartedAt: startedAt}))

	got, err := store.JobStartedAt(ctx, "job-1")
	require.NoError(t, err)
	assert.WithinDuration(t, startedAt, got, time.Second)

	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", ports.JobCompleted, ports.StatusFields{
		FinishedAt: time.Now().UTC(),
		Succeeded:  1,
		Failed:     1,
		Total:      2,
	}))
}

func TestStoreLibSQL_UpdateUnknownJob(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdateJobStatus(context.Background(), "missing", ports.JobRunning, ports.StatusFields{})
	assert.ErrorContains(t, err, "not found")
}

func TestStoreLibSQL_MarkItemProcessing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedJob(t, store, "job-1", 2)

	require.NoError(t, store.MarkItemProcessing(ctx, "job-1", 1))

	var status string
	itemStatus := "SELECT status FROM job_items WHERE job_id = ? AND item_index = ?"
	require.NoError(t, store.db.QueryRowContext(ctx, itemStatus, "job-1", 1).Scan(&status))
	assert.Equal(t, string(ports.ItemProcessing), status)

	// The terminal settle overwrites the processing row.
	require.NoError(t, store.UpsertItemResult(ctx, "job-1", 1, ports.CompletedOutcome(1, "ref", time.Millisecond)))
	require.NoError(t, store.db.QueryRowContext(ctx, itemStatus, "job-1", 1).Scan(&status))
	assert.Equal(t, string(ports.ItemCompleted), status)

	err := store.MarkItemProcessing(ctx, "job-1", 9)
	assert.ErrorContains(t, err, "not found")
}

func TestStoreLibSQL_UpsertItemResult(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedJob(t, store, "job-1", 1)

	outcome := ports.CompletedOutcome(0, "artifact://a", 120*time.Millisecond)
	require.NoError(t, store.UpsertItemResult(ctx, "job-1", 0, outcome))

	// A second settle for the same key overwrites rather than erroring,
	// tolerating the queue's at-least-once redelivery.
	retry := ports.FailedOutcome(0, "second attempt failed", 80*time.Millisecond)
	require.NoError(t, store.UpsertItemResult(ctx, "job-1", 0, retry))
}

func TestStoreLibSQL_ConcurrentItemWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	const items = 16
	seedJob(t, store, "job-1", items)

	errs := make(chan error, items)
	for i := 0; i < items; i++ {
		go func(idx int) {
			errs <- store.UpsertItemResult(ctx, "job-1", idx, ports.CompletedOutcome(idx, "ref", time.Millisecond))
		}(i)
	}
	for i := 0; i < items; i++ {
		require.NoError(t, <-errs)
	}
}

func TestStoreLibSQL_StartedAtBeforeRunning(t *testing.T) {
	store := newTestStore(t)
	seedJob(t, store, "job-1", 1)

	got, err := store.JobStartedAt(context.Background(), "job-1")
	require.NoError(t, err)
	assert.True(t, got.IsZero(), "a pending job has no started_at yet")
}
