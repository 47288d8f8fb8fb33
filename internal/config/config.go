// Package config defines the runtime configuration surface: JSON5 config
// file, environment overrides, and hot reload of the tuning sections.
package config

import (
	"sync"
	"time"
)

// Config is the root configuration for the Cadence scheduler.
type Config struct {
	Database  DatabaseConfig  `json:"database,omitempty"`
	Debounce  DebounceConfig  `json:"debounce"`
	Cooldown  CooldownConfig  `json:"cooldown"`
	Jobs      JobsConfig      `json:"jobs"`
	Services  ServicesConfig  `json:"services"`
	Channels  ChannelsConfig  `json:"channels"`
	Gateway   GatewayConfig   `json:"gateway"`
	Sweeps    SweepsConfig    `json:"sweeps,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// DatabaseConfig selects the durable backend.
// PostgresDSN is NEVER read from the config file (secret) — env CADENCE_POSTGRES_DSN only.
type DatabaseConfig struct {
	// Mode is "standalone" (SQLite, default) or "managed" (Postgres).
	Mode        string `json:"mode,omitempty"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
	PostgresDSN string `json:"-"` // from env CADENCE_POSTGRES_DSN only
}

// IsManagedMode reports whether the scheduler runs against Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// DebounceConfig tunes turn-completion detection. The wait model is
// w1*len + w2*len^2 + w3*punct + bias, in seconds.
type DebounceConfig struct {
	W1   float64 `json:"w1"`
	W2   float64 `json:"w2"`
	W3   float64 `json:"w3"`
	Bias float64 `json:"bias"`

	FirstImageExtraWaitSec float64 `json:"first_image_extra_wait_sec"`
	PerImageExtraWaitSec   float64 `json:"per_image_extra_wait_sec"`
	MaxHoldSec             float64 `json:"max_hold_sec"`
	IdleTTLSec             float64 `json:"idle_ttl_sec"`
}

// CurveConfig shapes the adaptive cooldown for one scene kind.
type CurveConfig struct {
	BaseSec float64 `json:"base_sec"`
	MaxSec  float64 `json:"max_sec"`
	Growth  float64 `json:"growth"`
}

// CooldownConfig tunes the admission gate and typing simulation.
type CooldownConfig struct {
	Group   CurveConfig `json:"group"`
	Private CurveConfig `json:"private"`

	DecayHalfLifeSec float64 `json:"decay_half_life_sec"`

	TypingMinMs     int `json:"typing_min_ms"`
	TypingMaxMs     int `json:"typing_max_ms"`
	TypingPerRuneMs int `json:"typing_per_rune_ms"`
}

// JobsConfig tunes the background index worker pool.
type JobsConfig struct {
	Workers         int     `json:"workers"`
	PollIntervalSec float64 `json:"poll_interval_sec"`
	LeaseTTLSec     float64 `json:"lease_ttl_sec"`
	JobTimeoutSec   float64 `json:"job_timeout_sec"`
	RatePerSecond   float64 `json:"rate_per_second"`
	MaxAttempts     int     `json:"max_attempts"`
	BackoffBaseSec  float64 `json:"backoff_base_sec"`
	BackoffMaxSec   float64 `json:"backoff_max_sec"`
}

// ServicesConfig points at the external reply and index services.
type ServicesConfig struct {
	ReplyURL        string  `json:"reply_url"`
	ReplyTimeoutSec float64 `json:"reply_timeout_sec"`
	IndexURL        string  `json:"index_url"`
	IndexTimeoutSec float64 `json:"index_timeout_sec"`
}

// ChannelsConfig configures chat channel adapters. Tokens come from env only.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
}

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"-"` // from env CADENCE_TELEGRAM_TOKEN only
	// InboundRPM caps accepted messages per scene per minute; zero disables.
	InboundRPM int `json:"inbound_rpm,omitempty"`
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"-"` // from env CADENCE_DISCORD_TOKEN only
	InboundRPM int    `json:"inbound_rpm,omitempty"`
}

// GatewayConfig configures the ops websocket/health endpoint.
type GatewayConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// SweepsConfig schedules store housekeeping (five-field cron expressions).
type SweepsConfig struct {
	ReapCron         string  `json:"reap_cron,omitempty"`
	SweepCron        string  `json:"sweep_cron,omitempty"`
	IdleHorizonHours float64 `json:"idle_horizon_hours,omitempty"`
	DedupeWindowSec  float64 `json:"dedupe_window_sec,omitempty"`
	DedupeMaxEntries int     `json:"dedupe_max_entries,omitempty"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "http" (default) or "grpc"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
