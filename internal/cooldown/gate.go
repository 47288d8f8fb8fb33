// Package cooldown decides whether the bot may speak in a scene right now.
//
// Each emission stretches the scene's cooldown window; silence lets the
// pressure decay back toward the base rate. The state is durable so a
// restart cannot reset an in-flight cooldown.
package cooldown

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cadencebot/cadence/internal/scene"
	"github.com/cadencebot/cadence/internal/store"
)

// Curve shapes the adaptive cooldown for one scene kind.
type Curve struct {
	// Base is the cooldown after an isolated emission.
	Base time.Duration
	// Max caps the cooldown no matter how chatty the bot has been.
	Max time.Duration
	// Growth multiplies the cooldown per unit of recent emission pressure.
	Growth float64
}

// Config tunes the gate.
type Config struct {
	Group   Curve
	Private Curve

	// DecayHalfLife halves the recent-emission pressure per elapsed interval.
	DecayHalfLife time.Duration

	// Typing delay simulation: MinDelay + width*PerRune, clamped to
	// [MinDelay, MaxDelay]. Deterministic so tests and replays agree.
	MinDelay time.Duration
	MaxDelay time.Duration
	PerRune  time.Duration
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{
		Group:         Curve{Base: 30 * time.Second, Max: 10 * time.Minute, Growth: 2.0},
		Private:       Curve{Base: 5 * time.Second, Max: 2 * time.Minute, Growth: 2.0},
		DecayHalfLife: 5 * time.Minute,
		MinDelay:      800 * time.Millisecond,
		MaxDelay:      4500 * time.Millisecond,
		PerRune:       65 * time.Millisecond,
	}
}

func (c Config) curveFor(kind scene.Kind) Curve {
	if kind == scene.KindPrivate {
		return c.Private
	}
	return c.Group
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// RetryAt is when the scene leaves cooldown; zero when Allowed.
	RetryAt time.Time
	// Pressure is the decayed recent-emission count at decision time.
	Pressure float64
}

// Gate is the admission controller over the durable rate-limit store.
type Gate struct {
	store store.RateLimitStore

	mu  sync.RWMutex
	cfg Config

	now func() time.Time
}

// NewGate creates a gate over st.
func NewGate(st store.RateLimitStore, cfg Config) *Gate {
	return &Gate{store: st, cfg: cfg, now: time.Now}
}

// SetConfig swaps the tuning (config hot reload). Stored cooldown deadlines
// keep their old values; only future emissions see the change.
func (g *Gate) SetConfig(cfg Config) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = cfg
}

func (g *Gate) config() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// CheckAdmission reports whether the bot may emit into key right now. It is
// read-only; only RecordEmission mutates state. A store error denies the
// admission — when durability is in doubt the bot stays quiet.
func (g *Gate) CheckAdmission(ctx context.Context, key scene.Key) Decision {
	now := g.now()
	cfg := g.config()
	rec, err := g.store.GetRateLimit(ctx, key.String())
	if errors.Is(err, store.ErrNotFound) {
		return Decision{Allowed: true}
	}
	if err != nil {
		slog.Error("cooldown: rate limit read failed, denying", "scene", key.String(), "error", err)
		return Decision{Allowed: false, RetryAt: now.Add(cfg.curveFor(key.Kind).Base)}
	}

	pressure := decayedCount(rec, now, cfg.DecayHalfLife)
	if rec.CooldownUntil.After(now) {
		return Decision{Allowed: false, RetryAt: rec.CooldownUntil, Pressure: pressure}
	}
	return Decision{Allowed: true, Pressure: pressure}
}

// RecordEmission durably accounts one reply emission into key and returns the
// resulting record. The decayed pressure is bumped by one and the cooldown
// window recomputed from it; actions and contentLen describe the emitted
// reply for telemetry. A failed write gets one immediate retry and no
// backoff — the hot path must not stall on the store.
func (g *Gate) RecordEmission(ctx context.Context, key scene.Key, actions, contentLen int) (*store.RateLimitRecord, error) {
	now := g.now()
	cfg := g.config()
	curve := cfg.curveFor(key.Kind)
	update := func(rec *store.RateLimitRecord) {
		pressure := decayedCount(rec, now, cfg.DecayHalfLife) + 1
		rec.RecentCount = pressure
		rec.LastSent = now
		rec.CooldownUntil = now.Add(cooldownFor(curve, pressure-1))
	}

	rec, err := g.store.UpdateRateLimit(ctx, key.String(), update)
	if err != nil {
		rec, err = g.store.UpdateRateLimit(ctx, key.String(), update)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("cooldown: emission recorded",
		"scene", key.String(),
		"actions", actions,
		"content_len", contentLen,
		"pressure", rec.RecentCount,
		"until", rec.CooldownUntil.Format(time.RFC3339),
	)
	return rec, nil
}

// cooldownFor maps pressure (emissions already accounted, excluding the one
// being recorded) onto the curve: Base * Growth^pressure, capped at Max.
func cooldownFor(curve Curve, pressure float64) time.Duration {
	if pressure < 0 {
		pressure = 0
	}
	d := time.Duration(float64(curve.Base) * math.Pow(curve.Growth, pressure))
	if d < curve.Base {
		d = curve.Base
	}
	if d > curve.Max {
		d = curve.Max
	}
	return d
}

// decayedCount ages the stored emission count by the time since LastSent.
func decayedCount(rec *store.RateLimitRecord, now time.Time, halfLife time.Duration) float64 {
	if rec.RecentCount <= 0 || rec.LastSent.IsZero() || halfLife <= 0 {
		return rec.RecentCount
	}
	elapsed := now.Sub(rec.LastSent)
	if elapsed <= 0 {
		return rec.RecentCount
	}
	return rec.RecentCount * math.Exp2(-elapsed.Seconds()/halfLife.Seconds())
}
