package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cadencebot/cadence/internal/store"
)

// JobStore implements store.JobStore backed by Postgres.
type JobStore struct {
	db *sql.DB
}

const jobColumns = `id, item_type, ref_id, payload, status, retry_count,
	next_retry, lease_owner, lease_expiry, last_error, created_at, updated_at`

func (s *JobStore) EnqueueJob(ctx context.Context, itemType, refID, payload string, now time.Time) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO index_jobs (item_type, ref_id, payload, status, next_retry, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', $4, $4, $4)
		RETURNING id`,
		itemType, refID, payload, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// LeaseNextJob claims the oldest eligible pending job. SKIP LOCKED lets
// concurrent workers pick disjoint rows without blocking on each other.
func (s *JobStore) LeaseNextJob(ctx context.Context, workerID string, now time.Time, leaseTTL time.Duration) (*store.IndexJob, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE index_jobs
		SET status = 'processing', lease_owner = $1, lease_expiry = $2, updated_at = $3
		WHERE id = (
			SELECT id FROM index_jobs
			WHERE status = 'pending' AND next_retry <= $3
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		workerID, now.Add(leaseTTL), now)

	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
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
		SET status = 'done', lease_owner = '', lease_expiry = NULL, updated_at = $2
		WHERE id = $1`, id, now)
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
		SET status = $2, retry_count = retry_count + 1, next_retry = $3,
		    lease_owner = '', lease_expiry = NULL, last_error = $4, updated_at = $5
		WHERE id = $1`,
		id, string(status), nextRetry, reason, now)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return checkAffected(res)
}

func (s *JobStore) ReapExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE index_jobs
		SET status = 'pending', lease_owner = '', lease_expiry = NULL, updated_at = $1
		WHERE status = 'processing' AND lease_expiry < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("reap leases: %w", err)
	}
	return res.RowsAffected()
}

func (s *JobStore) GetJob(ctx context.Context, id int64) (*store.IndexJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM index_jobs WHERE id = $1`, id)
	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *JobStore) ListJobs(ctx context.Context, status store.JobStatus, limit int) ([]store.IndexJob, error) {
	query := `SELECT ` + jobColumns + ` FROM index_jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY id`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
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
		SET status = 'pending', retry_count = 0, next_retry = $2,
		    lease_owner = '', lease_expiry = NULL, last_error = '', updated_at = $2
		WHERE id = $1`, id, now)
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

func scanJob(scan func(dest ...any) error) (*store.IndexJob, error) {
	var job store.IndexJob
	var status string
	var leaseExpiry sql.NullTime
	err := scan(&job.ID, &job.ItemType, &job.RefID, &job.Payload, &status,
		&job.RetryCount, &job.NextRetry, &job.LeaseOwner, &leaseExpiry,
		&job.LastError, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Status = store.JobStatus(status)
	job.LeaseExpiry = timeOf(leaseExpiry)
	return &job, nil
}
