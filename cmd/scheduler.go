package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cadencebot/cadence/internal/bus"
	"github.com/cadencebot/cadence/internal/channels"
	"github.com/cadencebot/cadence/internal/channels/discord"
	"github.com/cadencebot/cadence/internal/channels/telegram"
	"github.com/cadencebot/cadence/internal/config"
	"github.com/cadencebot/cadence/internal/cooldown"
	"github.com/cadencebot/cadence/internal/debounce"
	"github.com/cadencebot/cadence/internal/dispatch"
	"github.com/cadencebot/cadence/internal/gateway"
	"github.com/cadencebot/cadence/internal/jobs"
	"github.com/cadencebot/cadence/internal/maintenance"
	"github.com/cadencebot/cadence/internal/media"
	"github.com/cadencebot/cadence/internal/store"
	"github.com/cadencebot/cadence/internal/store/pg"
	"github.com/cadencebot/cadence/internal/store/sqlite"
	"github.com/cadencebot/cadence/internal/tracing"
)

// openStores selects the durable backend by database mode.
func openStores(cfg *config.Config) (*store.Stores, error) {
	if cfg.IsManagedMode() {
		slog.Info("store: managed mode (postgres)")
		return pg.Open(cfg.Database.PostgresDSN)
	}
	path := cfg.SQLitePath()
	slog.Info("store: standalone mode (sqlite)", "path", path)
	return sqlite.Open(path)
}

func durSec(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func runScheduler() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.Services.ReplyURL == "" {
		slog.Error("no reply service configured: set services.reply_url or CADENCE_REPLY_URL")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without", "error", err)
	} else {
		defer func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			shutdownTracing(shutdownCtx)
		}()
	}

	stores, err := openStores(cfg)
	if err != nil {
		slog.Error("failed to open stores", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	msgBus := bus.NewMessageBus()

	gate := cooldown.NewGate(stores.RateLimits, cfg.CooldownConfig())
	pipeline := dispatch.NewHTTPReplyPipeline(cfg.Services.ReplyURL, durSec(cfg.Services.ReplyTimeoutSec))
	dispatcher := dispatch.NewDispatcher(gate, pipeline, msgBus)

	engine := debounce.NewEngine(cfg.DebounceConfig(), func(turn debounce.Turn) {
		msgBus.Broadcast(bus.Event{Name: "turn", Payload: map[string]interface{}{
			"scene":    turn.Scene.String(),
			"messages": len(turn.Messages),
		}})
		dispatcher.HandleTurn(ctx, turn)
	})

	// Media indexing is optional: without an index service, images flow
	// through the debounce path untouched and no jobs are enqueued.
	queue := jobs.NewQueue(stores.Jobs)
	var pool *jobs.Pool
	var observer *media.Observer
	if cfg.Services.IndexURL != "" {
		indexer := jobs.NewHTTPIndexer(cfg.Services.IndexURL, durSec(cfg.Services.IndexTimeoutSec))
		pool = jobs.NewPool(stores.Jobs, indexer, cfg.PoolConfig())
		pool.Start(ctx)
		observer = media.NewObserver(queue, durSec(cfg.Sweeps.DedupeWindowSec), cfg.Sweeps.DedupeMaxEntries)
	} else {
		slog.Info("media indexing disabled: no index service configured")
	}

	sweeper := maintenance.NewSweeper(stores, cfg.MaintenanceConfig())
	sweeper.Start(ctx)

	channelMgr := channels.NewManager(msgBus)
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg, tgErr := telegram.New(cfg.Channels.Telegram, msgBus)
		if tgErr != nil {
			slog.Error("failed to initialize telegram channel", "error", tgErr)
		} else {
			channelMgr.RegisterChannel(tg)
			slog.Info("telegram channel enabled")
		}
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		dc, dcErr := discord.New(cfg.Channels.Discord, msgBus)
		if dcErr != nil {
			slog.Error("failed to initialize discord channel", "error", dcErr)
		} else {
			channelMgr.RegisterChannel(dc)
			slog.Info("discord channel enabled")
		}
	}

	// Hot reload covers the tuning sections only; database mode and channel
	// tokens take effect on restart.
	if err := config.Watch(ctx, cfgPath, func(next *config.Config) {
		engine.SetConfig(next.DebounceConfig())
		gate.SetConfig(next.CooldownConfig())
	}); err != nil {
		slog.Warn("config watch unavailable", "error", err)
	}

	// Inbound consumer: every message feeds the media observer (enqueue is
	// cheap) and the per-scene debounce state machine.
	go func() {
		for {
			msg, ok := msgBus.ConsumeInbound(ctx)
			if !ok {
				return
			}
			if observer != nil {
				observer.Observe(ctx, msg)
			}
			engine.OnMessage(msg)
		}
	}()

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)

		channelMgr.StopAll(context.Background())
		engine.Shutdown()
		dispatcher.Wait()
		if pool != nil {
			pool.Stop()
		}
		sweeper.Stop()
		cancel()
	}()

	mode := "standalone"
	if cfg.IsManagedMode() {
		mode = "managed"
	}
	slog.Info("cadence starting",
		"version", Version,
		"mode", mode,
		"channels", channelMgr.Status(),
	)

	if cfg.Gateway.Enabled {
		server := gateway.NewServer(cfg.Gateway, msgBus, channelMgr.Status)
		if err := server.Start(ctx); err != nil {
			slog.Error("gateway error", "error", err)
			os.Exit(1)
		}
		return
	}
	<-ctx.Done()
}
