package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadencebot/cadence/internal/store"
)

// Queue is the producer-side handle over the durable job table.
type Queue struct {
	store store.JobStore
}

// NewQueue wraps st.
func NewQueue(st store.JobStore) *Queue {
	return &Queue{store: st}
}

// Enqueue inserts a pending job and returns its id. Enqueueing is cheap and
// safe to call from the hot inbound path.
func (q *Queue) Enqueue(ctx context.Context, itemType, refID, payload string) (int64, error) {
	id, err := q.store.EnqueueJob(ctx, itemType, refID, payload, time.Now())
	if err != nil {
		return 0, fmt.Errorf("enqueue %s job: %w", itemType, err)
	}
	slog.Debug("jobs: enqueued", "id", id, "type", itemType, "ref", refID)
	return id, nil
}

// Requeue reverts a terminally failed job to pending with a fresh retry
// budget. Operator action, exposed through the CLI.
func (q *Queue) Requeue(ctx context.Context, id int64) error {
	if err := q.store.RequeueJob(ctx, id, time.Now()); err != nil {
		return fmt.Errorf("requeue job %d: %w", id, err)
	}
	slog.Info("jobs: requeued", "id", id)
	return nil
}
