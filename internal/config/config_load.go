package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with the reference tuning.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "~/.cadence/cadence.db",
		},
		Debounce: DebounceConfig{
			W1:                     0.5,
			W2:                     -0.02,
			W3:                     -2.0,
			Bias:                   1.5,
			FirstImageExtraWaitSec: 10,
			PerImageExtraWaitSec:   5,
			MaxHoldSec:             30,
			IdleTTLSec:             60,
		},
		Cooldown: CooldownConfig{
			Group:            CurveConfig{BaseSec: 30, MaxSec: 600, Growth: 2.0},
			Private:          CurveConfig{BaseSec: 5, MaxSec: 120, Growth: 2.0},
			DecayHalfLifeSec: 300,
			TypingMinMs:      800,
			TypingMaxMs:      4500,
			TypingPerRuneMs:  65,
		},
		Jobs: JobsConfig{
			Workers:         2,
			PollIntervalSec: 2,
			LeaseTTLSec:     120,
			JobTimeoutSec:   60,
			RatePerSecond:   5,
			MaxAttempts:     5,
			BackoffBaseSec:  5,
			BackoffMaxSec:   3600,
		},
		Services: ServicesConfig{
			ReplyTimeoutSec: 120,
			IndexTimeoutSec: 30,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18920,
		},
		Sweeps: SweepsConfig{
			ReapCron:         "* * * * *",
			SweepCron:        "0 4 * * *",
			IdleHorizonHours: 720,
			DedupeWindowSec:  600,
			DedupeMaxEntries: 4096,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "http",
			ServiceName: "cadence",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values; secrets are env-only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("CADENCE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("CADENCE_MODE", &c.Database.Mode)
	envStr("CADENCE_SQLITE_PATH", &c.Database.SQLitePath)

	envStr("CADENCE_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("CADENCE_DISCORD_TOKEN", &c.Channels.Discord.Token)

	// Auto-enable channels when credentials arrive via env.
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}

	envStr("CADENCE_REPLY_URL", &c.Services.ReplyURL)
	envStr("CADENCE_INDEX_URL", &c.Services.IndexURL)

	envStr("CADENCE_HOST", &c.Gateway.Host)
	if v := os.Getenv("CADENCE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("CADENCE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CADENCE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("CADENCE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("CADENCE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CADENCE_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// SQLitePath returns the expanded standalone database path.
func (c *Config) SQLitePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Database.SQLitePath)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
