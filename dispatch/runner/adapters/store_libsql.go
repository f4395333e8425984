// Package adapters provides concrete implementations of the runner
// ports: libsql persistence, an HTTP generation client, and an
// in-process job source.
package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	ports "github.com/promptforge/dispatch/dispatch/runner/ports"
)

// StoreLibSQL implements JobStore on an embedded libsql database.
// Item upserts are keyed (job_id, item_index), so interleaved writes
// from concurrent jobs and items need no coordination here.
type StoreLibSQL struct {
	db *sql.DB
}

// NewStoreLibSQL creates a store over an already-connected database.
func NewStoreLibSQL(db *sql.DB) *StoreLibSQL {
	return &StoreLibSQL{db: db}
}

// CreateJob inserts the job record and one queued row per item.
func (s *StoreLibSQL) CreateJob(ctx context.Context, job *ports.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create job: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, tenant_id, model, status, total)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status
	`, job.ID, job.TenantID, job.Model, string(job.Status), len(job.Items))
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}

	for _, item := range job.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO job_items (job_id, item_index, item_id, input, status)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (job_id, item_index) DO UPDATE SET status = excluded.status
		`, job.ID, item.Index, item.ID, string(item.Input), string(ports.ItemQueued))
		if err != nil {
			return fmt.Errorf("insert item %s[%d]: %w", job.ID, item.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJobStatus writes a status transition plus whichever optional
// fields are set.
func (s *StoreLibSQL) UpdateJobStatus(ctx context.Context, jobID string, status ports.JobStatus, fields ports.StatusFields) error {
	sets := []string{"status = ?"}
	args := []any{string(status)}

	if !fields.StartedAt.IsZero() {
		sets = append(sets, "started_at = ?")
		args = append(args, fields.StartedAt.UTC())
	}
	if !fields.FinishedAt.IsZero() {
		sets = append(sets, "finished_at = ?")
		args = append(args, fields.FinishedAt.UTC())
	}
	if fields.Total > 0 {
		sets = append(sets, "succeeded = ?", "failed = ?", "total = ?")
		args = append(args, fields.Succeeded, fields.Failed, fields.Total)
	}
	if fields.Error != "" {
		sets = append(sets, "error = ?")
		args = append(args, fields.Error)
	}
	args = append(args, jobID)

	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s status: %w", jobID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update job %s status: job not found", jobID)
	}
	return nil
}

// MarkItemProcessing flips an item's row to processing when its
// attempt begins.
func (s *StoreLibSQL) MarkItemProcessing(ctx context.Context, jobID string, index int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_items SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE job_id = ? AND item_index = ?
	`, string(ports.ItemProcessing), jobID, index)
	if err != nil {
		return fmt.Errorf("mark item %s[%d] processing: %w", jobID, index, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("mark item %s[%d] processing: item not found", jobID, index)
	}
	return nil
}

// UpsertItemResult writes one item's terminal state immediately so
// clients polling the job see it settle mid-run.
func (s *StoreLibSQL) UpsertItemResult(ctx context.Context, jobID string, index int, outcome ports.ItemOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_items (job_id, item_index, item_id, input, status, result_ref, error, duration_ms, updated_at)
		VALUES (?, ?, '', '{}', ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (job_id, item_index) DO UPDATE SET
			status = excluded.status,
			result_ref = excluded.result_ref,
			error = excluded.error,
			duration_ms = excluded.duration_ms,
			updated_at = CURRENT_TIMESTAMP
	`, jobID, index, string(outcome.Status), outcome.ResultRef, outcome.Error, outcome.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("upsert item %s[%d]: %w", jobID, index, err)
	}
	return nil
}

// JobStartedAt reads the job's running-transition timestamp.
func (s *StoreLibSQL) JobStartedAt(ctx context.Context, jobID string) (time.Time, error) {
	var startedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, "SELECT started_at FROM jobs WHERE id = ?", jobID).Scan(&startedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("read job %s started_at: %w", jobID, err)
	}
	if !startedAt.Valid {
		return time.Time{}, nil
	}
	return startedAt.Time, nil
}

// Ensure StoreLibSQL implements the JobStore interface.
var _ ports.JobStore = (*StoreLibSQL)(nil)
