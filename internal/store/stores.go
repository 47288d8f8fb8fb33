// Package store defines the durable state surface of the scheduler core:
// per-scene rate-limit records and the index job table. All mutation goes
// through these interfaces — no other component writes the rows directly.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("store: not found")

// RateLimitRecord is the durable cooldown state of one scene.
// Invariant: CooldownUntil >= LastSent.
type RateLimitRecord struct {
	SceneKey      string
	LastSent      time.Time
	CooldownUntil time.Time
	RecentCount   float64 // decayed count of recent bot emissions
	UpdatedAt     time.Time
}

// RateLimitStore persists per-scene rate-limit records.
type RateLimitStore interface {
	// GetRateLimit returns the record for sceneKey, or ErrNotFound.
	GetRateLimit(ctx context.Context, sceneKey string) (*RateLimitRecord, error)

	// UpdateRateLimit atomically applies fn to the current record (a zero
	// record with SceneKey set when none exists) and persists the result.
	// Concurrent updates to the same scene never lose writes. UpdatedAt is
	// stamped with the write time unless fn sets it explicitly.
	UpdateRateLimit(ctx context.Context, sceneKey string, fn func(rec *RateLimitRecord)) (*RateLimitRecord, error)

	// DeleteRateLimitsIdleBefore removes records whose last activity is
	// older than horizon. Returns the number of rows removed.
	DeleteRateLimitsIdleBefore(ctx context.Context, horizon time.Time) (int64, error)
}

// JobStatus is the lifecycle state of an index job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

// IndexJob is one durable background indexing task.
type IndexJob struct {
	ID          int64
	ItemType    string
	RefID       string
	Payload     string
	Status      JobStatus
	RetryCount  int
	NextRetry   time.Time
	LeaseOwner  string
	LeaseExpiry time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// JobStore persists index jobs. Lease/complete/fail transitions are the unit
// of durability and must be atomic with respect to concurrent workers.
type JobStore interface {
	// EnqueueJob inserts a pending job and returns its monotonic id.
	EnqueueJob(ctx context.Context, itemType, refID, payload string, now time.Time) (int64, error)

	// LeaseNextJob atomically claims one eligible pending job (NextRetry <=
	// now) for workerID, stamping the lease expiry. Returns nil when no job
	// is eligible. Exactly one worker can lease a given job at a time.
	LeaseNextJob(ctx context.Context, workerID string, now time.Time, leaseTTL time.Duration) (*IndexJob, error)

	// CompleteJob marks a job done (terminal).
	CompleteJob(ctx context.Context, id int64, now time.Time) error

	// FailJob increments the retry count and either requeues the job for
	// nextRetry or, when terminal, marks it failed.
	FailJob(ctx context.Context, id int64, reason string, nextRetry time.Time, terminal bool, now time.Time) error

	// ReapExpiredLeases reverts processing jobs with expired leases to
	// pending without touching their retry count. Returns rows reverted.
	ReapExpiredLeases(ctx context.Context, now time.Time) (int64, error)

	// GetJob returns a job by id, or ErrNotFound.
	GetJob(ctx context.Context, id int64) (*IndexJob, error)

	// ListJobs returns up to limit jobs with the given status (all statuses
	// when empty), oldest first.
	ListJobs(ctx context.Context, status JobStatus, limit int) ([]IndexJob, error)

	// RequeueJob reverts a terminally failed job to pending with a fresh
	// retry budget (manual operator action).
	RequeueJob(ctx context.Context, id int64, now time.Time) error
}

// Stores bundles the durable backends behind one handle.
type Stores struct {
	RateLimits RateLimitStore
	Jobs       JobStore

	closer func() error
}

// NewStores wraps backends with an optional close hook.
func NewStores(rl RateLimitStore, jobs JobStore, closer func() error) *Stores {
	return &Stores{RateLimits: rl, Jobs: jobs, closer: closer}
}

// Close releases the underlying database handle, if any.
func (s *Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
