package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/cadencebot/cadence/internal/store"
)

func TestTickRunsDueSchedules(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStores()
	now := time.Now()

	// One job with an already-expired lease.
	id, err := mem.EnqueueJob(ctx, "sticker", "f1", "", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := mem.LeaseNextJob(ctx, "w1", now.Add(-time.Hour), time.Minute); err != nil {
		t.Fatalf("lease: %v", err)
	}

	// One rate-limit row idle past the horizon.
	if _, err := mem.UpdateRateLimit(ctx, "group:stale", func(r *store.RateLimitRecord) {
		r.UpdatedAt = now.Add(-48 * time.Hour)
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	s := NewSweeper(mem.Stores(), Config{
		ReapCron:    "* * * * *",
		SweepCron:   "* * * * *",
		IdleHorizon: 24 * time.Hour,
	})
	s.tick(ctx, now)

	job, err := mem.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != store.JobPending {
		t.Fatalf("job status = %s, want pending after reap", job.Status)
	}
	if _, err := mem.GetRateLimit(ctx, "group:stale"); err != store.ErrNotFound {
		t.Fatalf("stale rate limit survived sweep: %v", err)
	}
}

func TestTickSkipsSchedulesNotDue(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStores()
	now := time.Date(2026, 8, 27, 12, 30, 0, 0, time.UTC)

	if _, err := mem.UpdateRateLimit(ctx, "group:stale", func(r *store.RateLimitRecord) {
		r.UpdatedAt = now.Add(-48 * time.Hour)
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	s := NewSweeper(mem.Stores(), Config{
		ReapCron:    "0 4 * * *", // 04:00 only, not due at 12:30
		SweepCron:   "0 4 * * *",
		IdleHorizon: 24 * time.Hour,
	})
	s.tick(ctx, now)

	if _, err := mem.GetRateLimit(ctx, "group:stale"); err != nil {
		t.Fatalf("sweep ran off-schedule: %v", err)
	}
}
