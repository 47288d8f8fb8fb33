package config

import (
	"time"

	"github.com/cadencebot/cadence/internal/cooldown"
	"github.com/cadencebot/cadence/internal/debounce"
	"github.com/cadencebot/cadence/internal/jobs"
	"github.com/cadencebot/cadence/internal/maintenance"
)

// DebounceConfig converts the tuning section into the engine's config.
func (c *Config) DebounceConfig() debounce.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d := c.Debounce
	return debounce.Config{
		Coefficients: debounce.Coefficients{
			W1:   d.W1,
			W2:   d.W2,
			W3:   d.W3,
			Bias: d.Bias,
		},
		FirstImageExtraWait: seconds(d.FirstImageExtraWaitSec),
		PerImageExtraWait:   seconds(d.PerImageExtraWaitSec),
		MaxHold:             seconds(d.MaxHoldSec),
		IdleTTL:             seconds(d.IdleTTLSec),
	}
}

// CooldownConfig converts the tuning section into the gate's config.
func (c *Config) CooldownConfig() cooldown.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cd := c.Cooldown
	return cooldown.Config{
		Group: cooldown.Curve{
			Base:   seconds(cd.Group.BaseSec),
			Max:    seconds(cd.Group.MaxSec),
			Growth: cd.Group.Growth,
		},
		Private: cooldown.Curve{
			Base:   seconds(cd.Private.BaseSec),
			Max:    seconds(cd.Private.MaxSec),
			Growth: cd.Private.Growth,
		},
		DecayHalfLife: seconds(cd.DecayHalfLifeSec),
		MinDelay:      time.Duration(cd.TypingMinMs) * time.Millisecond,
		MaxDelay:      time.Duration(cd.TypingMaxMs) * time.Millisecond,
		PerRune:       time.Duration(cd.TypingPerRuneMs) * time.Millisecond,
	}
}

// PoolConfig converts the jobs section into the worker pool's config.
func (c *Config) PoolConfig() jobs.PoolConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	j := c.Jobs
	return jobs.PoolConfig{
		Workers:       j.Workers,
		PollInterval:  seconds(j.PollIntervalSec),
		LeaseTTL:      seconds(j.LeaseTTLSec),
		JobTimeout:    seconds(j.JobTimeoutSec),
		RatePerSecond: j.RatePerSecond,
		Retry: jobs.RetryPolicy{
			MaxAttempts: j.MaxAttempts,
			BackoffBase: seconds(j.BackoffBaseSec),
			BackoffMax:  seconds(j.BackoffMaxSec),
			Jitter:      0.2,
		},
	}
}

// MaintenanceConfig converts the sweeps section into the sweeper's config.
func (c *Config) MaintenanceConfig() maintenance.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.Sweeps
	return maintenance.Config{
		ReapCron:    s.ReapCron,
		SweepCron:   s.SweepCron,
		IdleHorizon: time.Duration(s.IdleHorizonHours * float64(time.Hour)),
	}
}
