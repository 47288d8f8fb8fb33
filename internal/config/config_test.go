package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Debounce.Bias != 1.5 || cfg.Cooldown.Group.BaseSec != 30 {
		t.Fatalf("defaults not applied: %+v", cfg.Debounce)
	}
	if cfg.Database.Mode != "standalone" {
		t.Fatalf("default mode = %q", cfg.Database.Mode)
	}
}

func TestLoadParsesJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		// tuned for a chatty deployment
		debounce: { bias: 2.5, max_hold_sec: 45 },
		cooldown: { group: { base_sec: 60, max_sec: 900, growth: 3.0 } },
	}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Debounce.Bias != 2.5 || cfg.Debounce.MaxHoldSec != 45 {
		t.Fatalf("file values lost: %+v", cfg.Debounce)
	}
	// Untouched sections keep their defaults.
	if cfg.Debounce.W1 != 0.5 {
		t.Fatalf("default w1 clobbered: %v", cfg.Debounce.W1)
	}
	if cfg.Cooldown.Group.Growth != 3.0 {
		t.Fatalf("nested section lost: %+v", cfg.Cooldown.Group)
	}
}

func TestEnvOverridesTakePrecedence(t *testing.T) {
	t.Setenv("CADENCE_TELEGRAM_TOKEN", "tg-secret")
	t.Setenv("CADENCE_PORT", "9999")
	t.Setenv("CADENCE_POSTGRES_DSN", "postgres://cadence@localhost/cadence")
	t.Setenv("CADENCE_MODE", "managed")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Channels.Telegram.Token != "tg-secret" {
		t.Fatal("telegram token not read from env")
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Fatal("channel not auto-enabled by env credential")
	}
	if cfg.Gateway.Port != 9999 {
		t.Fatalf("port = %d", cfg.Gateway.Port)
	}
	if !cfg.IsManagedMode() {
		t.Fatal("managed mode not detected")
	}
}

func TestBridgeConversions(t *testing.T) {
	cfg := Default()

	d := cfg.DebounceConfig()
	if d.MaxHold != 30*time.Second || d.Coefficients.W3 != -2.0 {
		t.Fatalf("debounce bridge: %+v", d)
	}

	cd := cfg.CooldownConfig()
	if cd.Group.Base != 30*time.Second || cd.MinDelay != 800*time.Millisecond {
		t.Fatalf("cooldown bridge: %+v", cd)
	}

	p := cfg.PoolConfig()
	if p.LeaseTTL != 2*time.Minute || p.Retry.MaxAttempts != 5 {
		t.Fatalf("pool bridge: %+v", p)
	}

	m := cfg.MaintenanceConfig()
	if m.IdleHorizon != 720*time.Hour || m.ReapCron != "* * * * *" {
		t.Fatalf("maintenance bridge: %+v", m)
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{debounce: {bias: 1.0}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 1)
	if err := Watch(ctx, path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}); err != nil {
		t.Fatalf("watch: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{debounce: {bias: 9.0}}`), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Debounce.Bias != 9.0 {
			t.Fatalf("reloaded bias = %v", cfg.Debounce.Bias)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload within timeout")
	}
}
