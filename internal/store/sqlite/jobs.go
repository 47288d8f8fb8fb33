package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cadencebot/cadence/internal/store"
)

// JobStore persists index jobs in SQLite.
type JobStore struct {
	db *sql.DB
}

const jobColumns = `id, item_type, ref_id, payload, status, retry_count,
	next_retry, lease_owner, lease_expiry, last_error, created_at, updated_at`

func (s *JobStore) EnqueueJob(ctx context.Context, itemType, refID, payload string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO index_jobs (item_type, ref_id, payload, status, next_retry, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', ?, ?, ?)`,
		itemType, refID, payload, toMillis(now), toMillis(now), toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("enqueue job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue job id: %w", err)
	}
	return id, nil
}

// LeaseNextJob claims the oldest eligible pending job in one guarded UPDATE.
// The WHERE re-checks status so a concurrent claim of the same row leaves
// this statement matching nothing instead of double-leasing.
func (s *JobStore) LeaseNextJob(ctx context.Context, workerID string, now time.Time, leaseTTL time.Duration) (*store.IndexJob, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE index_jobs
		SET status = 'processing', lease_owner = ?, lease_expiry = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM index_jobs
			WHERE status = 'pending' AND next_retry <= ?
			ORDER BY id LIMIT 1
		) AND status = 'pending'
		RETURNING `+jobColumns,
		workerID, toMillis(now.Add(leaseTTL)), toMillis(now), toMillis(now))

	job, err := scanJobRow(row)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease job: %w", err)
	}
	return job, nil
}

func (s *JobStore) CompleteJob(ctx context.Context, id int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE index_jobs
		SET status = 'done', lease_owner = '', lease_expiry = 0, updated_at = ?
		WHERE id = ?`, toMillis(now), id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return checkAffected(res)
}

func (s *JobStore) FailJob(ctx context.Context, id int64, reason string, nextRetry time.Time, terminal bool, now time.Time) error {
	status := store.JobPending
	if terminal {
		status = store.JobFailed
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE index_jobs
		SET status = ?, retry_count = retry_count + 1, next_retry = ?,
		    lease_owner = '', lease_expiry = 0, last_error = ?, updated_at = ?
		WHERE id = ?`,
		string(status), toMillis(nextRetry), reason, toMillis(now), id)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return checkAffected(res)
}

// ReapExpiredLeases reverts orphaned processing jobs to pending. The retry
// count is untouched: a crashed worker is not the job's fault.
func (s *JobStore) ReapExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE index_jobs
		SET status = 'pending', lease_owner = '', lease_expiry = 0, updated_at = ?
		WHERE status = 'processing' AND lease_expiry < ?`,
		toMillis(now), toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("reap leases: %w", err)
	}
	return res.RowsAffected()
}

func (s *JobStore) GetJob(ctx context.Context, id int64) (*store.IndexJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM index_jobs WHERE id = ?`, id)
	return scanJobRow(row)
}

func (s *JobStore) ListJobs(ctx context.Context, status store.JobStatus, limit int) ([]store.IndexJob, error) {
	query := `SELECT ` + jobColumns + ` FROM index_jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []store.IndexJob
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func (s *JobStore) RequeueJob(ctx context.Context, id int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE index_jobs
		SET status = 'pending', retry_count = 0, next_retry = ?,
		    lease_owner = '', lease_expiry = 0, last_error = '', updated_at = ?
		WHERE id = ?`, toMillis(now), toMillis(now), id)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanJobRow(row *sql.Row) (*store.IndexJob, error) {
	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return job, err
}

func scanJob(scan func(dest ...any) error) (*store.IndexJob, error) {
	var job store.IndexJob
	var status string
	var nextRetry, leaseExpiry, createdAt, updatedAt int64
	err := scan(&job.ID, &job.ItemType, &job.RefID, &job.Payload, &status,
		&job.RetryCount, &nextRetry, &job.LeaseOwner, &leaseExpiry,
		&job.LastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	job.Status = store.JobStatus(status)
	job.NextRetry = fromMillis(nextRetry)
	job.LeaseExpiry = fromMillis(leaseExpiry)
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	return &job, nil
}
