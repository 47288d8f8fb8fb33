// Package maintenance runs the periodic housekeeping the durable stores
// need: reaping expired job leases and sweeping idle rate-limit rows.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/cadencebot/cadence/internal/store"
)

// Config sets the sweep schedules (standard five-field cron expressions).
type Config struct {
	// ReapCron schedules lease reaping. Frequent: an orphaned job stays
	// invisible until the next reap.
	ReapCron string
	// SweepCron schedules the idle rate-limit sweep.
	SweepCron string
	// IdleHorizon is how long a rate-limit row may go untouched before the
	// sweep removes it.
	IdleHorizon time.Duration
}

// DefaultConfig returns the reference schedules.
func DefaultConfig() Config {
	return Config{
		ReapCron:    "* * * * *",
		SweepCron:   "0 4 * * *",
		IdleHorizon: 30 * 24 * time.Hour,
	}
}

// Sweeper ticks once a minute and fires whichever schedules are due.
type Sweeper struct {
	stores *store.Stores
	cfg    Config
	gron   *gronx.Gronx

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper over st.
func NewSweeper(st *store.Stores, cfg Config) *Sweeper {
	return &Sweeper{stores: st, cfg: cfg, gron: gronx.New()}
}

// Start launches the minute loop. Runs until Stop or ctx cancellation.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.tick(ctx, now)
			}
		}
	}()
	slog.Info("maintenance: sweeper started", "reap", s.cfg.ReapCron, "sweep", s.cfg.SweepCron)
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) tick(ctx context.Context, now time.Time) {
	if s.due(s.cfg.ReapCron, now) {
		s.ReapLeases(ctx, now)
	}
	if s.due(s.cfg.SweepCron, now) {
		s.SweepIdleRateLimits(ctx, now)
	}
}

func (s *Sweeper) due(expr string, now time.Time) bool {
	if expr == "" {
		return false
	}
	due, err := s.gron.IsDue(expr, now)
	if err != nil {
		slog.Error("maintenance: bad cron expression", "expr", expr, "error", err)
		return false
	}
	return due
}

// ReapLeases reverts processing jobs with expired leases to pending.
func (s *Sweeper) ReapLeases(ctx context.Context, now time.Time) {
	n, err := s.stores.Jobs.ReapExpiredLeases(ctx, now)
	if err != nil {
		slog.Error("maintenance: lease reap failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("maintenance: reaped expired leases", "count", n)
	}
}

// SweepIdleRateLimits deletes rate-limit rows idle past the horizon.
func (s *Sweeper) SweepIdleRateLimits(ctx context.Context, now time.Time) {
	if s.cfg.IdleHorizon <= 0 {
		return
	}
	n, err := s.stores.RateLimits.DeleteRateLimitsIdleBefore(ctx, now.Add(-s.cfg.IdleHorizon))
	if err != nil {
		slog.Error("maintenance: rate limit sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("maintenance: swept idle rate limits", "count", n)
	}
}
