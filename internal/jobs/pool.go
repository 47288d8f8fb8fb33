package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cadencebot/cadence/internal/store"
)

// PoolConfig tunes the worker pool.
type PoolConfig struct {
	// Workers is the number of concurrent lease loops.
	Workers int
	// PollInterval is how long an idle worker sleeps between lease attempts.
	PollInterval time.Duration
	// LeaseTTL is the visibility timeout stamped on a leased job. A worker
	// that dies mid-job loses the lease after this long.
	LeaseTTL time.Duration
	// JobTimeout bounds a single Index call.
	JobTimeout time.Duration
	// RatePerSecond throttles index calls across all workers; zero disables.
	RatePerSecond float64
	Retry         RetryPolicy
}

// DefaultPoolConfig returns the reference tuning.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:       2,
		PollInterval:  2 * time.Second,
		LeaseTTL:      2 * time.Minute,
		JobTimeout:    time.Minute,
		RatePerSecond: 5,
		Retry:         DefaultRetryPolicy(),
	}
}

// Pool runs the lease-execute-settle loop with a fixed set of workers.
type Pool struct {
	store   store.JobStore
	indexer Indexer
	cfg     PoolConfig
	limiter *rate.Limiter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a pool draining st through indexer.
func NewPool(st store.JobStore, indexer Indexer, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Workers)
	}
	return &Pool{store: st, indexer: indexer, cfg: cfg, limiter: limiter}
}

// Start launches the workers. They run until Stop or ctx cancellation.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := "worker-" + uuid.NewString()[:8]
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx, workerID)
		}()
	}
	slog.Info("jobs: pool started", "workers", p.cfg.Workers)
}

// Stop cancels the workers and waits for in-flight jobs to settle.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	slog.Info("jobs: pool stopped")
}

func (p *Pool) run(ctx context.Context, workerID string) {
	for {
		if ctx.Err() != nil {
			return
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
		}

		job, err := p.store.LeaseNextJob(ctx, workerID, time.Now(), p.cfg.LeaseTTL)
		if err != nil {
			slog.Error("jobs: lease failed", "worker", workerID, "error", err)
			if !sleep(ctx, p.cfg.PollInterval) {
				return
			}
			continue
		}
		if job == nil {
			if !sleep(ctx, p.cfg.PollInterval) {
				return
			}
			continue
		}

		p.execute(ctx, workerID, job)
	}
}

func (p *Pool) execute(ctx context.Context, workerID string, job *store.IndexJob) {
	jobCtx := ctx
	if p.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := p.indexer.Index(jobCtx, job)
	now := time.Now()

	// Settling uses a fresh context: a shutdown mid-job must not strand the
	// row in processing until the reaper finds it.
	settleCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err == nil {
		if cerr := p.store.CompleteJob(settleCtx, job.ID, now); cerr != nil {
			slog.Error("jobs: complete failed", "id", job.ID, "error", cerr)
		}
		slog.Info("jobs: done", "id", job.ID, "type", job.ItemType, "took", now.Sub(start).String())
		return
	}

	attempts := job.RetryCount + 1
	terminal := IsPermanent(err) || p.cfg.Retry.Terminal(attempts)
	nextRetry := time.Time{}
	if !terminal {
		nextRetry = p.cfg.Retry.NextRetry(now, attempts)
	}

	if ferr := p.store.FailJob(settleCtx, job.ID, err.Error(), nextRetry, terminal, now); ferr != nil {
		slog.Error("jobs: fail-settle failed", "id", job.ID, "error", ferr)
		return
	}
	if terminal {
		slog.Warn("jobs: parked as failed",
			"id", job.ID, "type", job.ItemType, "attempts", attempts, "error", err)
	} else {
		slog.Warn("jobs: retry scheduled",
			"id", job.ID, "worker", workerID, "attempt", attempts, "next", nextRetry.Format(time.RFC3339), "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
