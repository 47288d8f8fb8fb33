package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStores is a non-durable backend used by tests and by `doctor` style
// dry runs. It honors the same atomicity contracts as the SQL backends.
type MemoryStores struct {
	mu     sync.Mutex
	rl     map[string]*RateLimitRecord
	jobs   map[int64]*IndexJob
	nextID int64
}

// NewMemoryStores creates empty in-memory backends.
func NewMemoryStores() *MemoryStores {
	return &MemoryStores{
		rl:   make(map[string]*RateLimitRecord),
		jobs: make(map[int64]*IndexJob),
	}
}

// Stores returns the bundle view over this backend.
func (m *MemoryStores) Stores() *Stores {
	return NewStores(m, m, nil)
}

func (m *MemoryStores) GetRateLimit(_ context.Context, sceneKey string) (*RateLimitRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rl[sceneKey]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStores) UpdateRateLimit(_ context.Context, sceneKey string, fn func(rec *RateLimitRecord)) (*RateLimitRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rl[sceneKey]
	if !ok {
		rec = &RateLimitRecord{SceneKey: sceneKey}
		m.rl[sceneKey] = rec
	}
	before := rec.UpdatedAt
	fn(rec)
	if rec.UpdatedAt.Equal(before) {
		rec.UpdatedAt = time.Now()
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStores) DeleteRateLimitsIdleBefore(_ context.Context, horizon time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, rec := range m.rl {
		if rec.UpdatedAt.Before(horizon) {
			delete(m.rl, key)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStores) EnqueueJob(_ context.Context, itemType, refID, payload string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.jobs[m.nextID] = &IndexJob{
		ID:        m.nextID,
		ItemType:  itemType,
		RefID:     refID,
		Payload:   payload,
		Status:    JobPending,
		NextRetry: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return m.nextID, nil
}

func (m *MemoryStores) LeaseNextJob(_ context.Context, workerID string, now time.Time, leaseTTL time.Duration) (*IndexJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidate *IndexJob
	for _, job := range m.jobs {
		if job.Status != JobPending || job.NextRetry.After(now) {
			continue
		}
		if candidate == nil || job.ID < candidate.ID {
			candidate = job
		}
	}
	if candidate == nil {
		return nil, nil
	}

	candidate.Status = JobProcessing
	candidate.LeaseOwner = workerID
	candidate.LeaseExpiry = now.Add(leaseTTL)
	candidate.UpdatedAt = now
	cp := *candidate
	return &cp, nil
}

func (m *MemoryStores) CompleteJob(_ context.Context, id int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.Status = JobDone
	job.LeaseOwner = ""
	job.LeaseExpiry = time.Time{}
	job.UpdatedAt = now
	return nil
}

func (m *MemoryStores) FailJob(_ context.Context, id int64, reason string, nextRetry time.Time, terminal bool, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.RetryCount++
	job.LastError = reason
	job.LeaseOwner = ""
	job.LeaseExpiry = time.Time{}
	job.UpdatedAt = now
	if terminal {
		job.Status = JobFailed
	} else {
		job.Status = JobPending
		job.NextRetry = nextRetry
	}
	return nil
}

func (m *MemoryStores) ReapExpiredLeases(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, job := range m.jobs {
		if job.Status == JobProcessing && job.LeaseExpiry.Before(now) {
			job.Status = JobPending
			job.LeaseOwner = ""
			job.LeaseExpiry = time.Time{}
			job.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *MemoryStores) GetJob(_ context.Context, id int64) (*IndexJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *MemoryStores) ListJobs(_ context.Context, status JobStatus, limit int) ([]IndexJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]IndexJob, 0, limit)
	for _, job := range m.jobs {
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStores) RequeueJob(_ context.Context, id int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.Status = JobPending
	job.RetryCount = 0
	job.NextRetry = now
	job.LastError = ""
	job.UpdatedAt = now
	return nil
}
