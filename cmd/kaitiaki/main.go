// Command kaitiaki is the main entry point for the Kaitiaki voice relay,
// the realtime speech backend of the regional drought dashboard.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/awhina-ai/kaitiaki/internal/config"
	"github.com/awhina-ai/kaitiaki/internal/health"
	"github.com/awhina-ai/kaitiaki/internal/observe"
	"github.com/awhina-ai/kaitiaki/internal/relay"
	"github.com/awhina-ai/kaitiaki/internal/tools"
	"github.com/awhina-ai/kaitiaki/pkg/realtime"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so the config watcher can adjust it at
	// runtime without recreating the handler.
	levelVar := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	// ── Configuration (watched for hot reload) ────────────────────────────────
	// The relay server does not exist yet when the watcher starts polling,
	// so the callback reaches it through an atomic pointer.
	var relayPtr atomic.Pointer[relay.Server]

	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Compare(old, new)
		if diff.Empty() {
			return
		}
		if diff.LogLevelChanged {
			levelVar.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		rs := relayPtr.Load()
		if rs == nil {
			return
		}
		if diff.PersonaChanged {
			rs.SetPersona(new.Upstream.Voice, new.Upstream.Instructions)
			slog.Info("persona updated; applies to new sessions")
		}
		if diff.HeartbeatChanged {
			rs.SetHeartbeatInterval(new.Relay.HeartbeatInterval.Std())
			slog.Info("heartbeat interval updated", "interval", new.Relay.HeartbeatInterval.Std())
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "kaitiaki: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "kaitiaki: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	levelVar.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("kaitiaki starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "kaitiaki",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Dashboard tools ───────────────────────────────────────────────────────
	dashboard := tools.NewDashboard(cfg.Dashboard.BaseURL,
		tools.WithHTTPClient(&http.Client{Timeout: cfg.Dashboard.Timeout.Std()}),
	)
	registry := tools.ForDashboard(dashboard, logger)

	// ── Relay ─────────────────────────────────────────────────────────────────
	relaySrv := relay.New(relay.Config{
		UpstreamURL:       cfg.Upstream.BaseURL,
		APIKey:            cfg.Upstream.APIKey,
		Model:             cfg.Upstream.Model,
		Voice:             cfg.Upstream.Voice,
		Instructions:      cfg.Upstream.Instructions,
		HeartbeatInterval: cfg.Relay.HeartbeatInterval.Std(),
	}, registry,
		relay.WithLogger(logger),
		relay.WithMetrics(observe.DefaultMetrics()),
	)
	relayPtr.Store(relaySrv)

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle(realtime.RelayPath, relaySrv)
	mux.Handle("GET /metrics", promhttp.Handler())

	checks := health.New(
		health.DashboardChecker(cfg.Dashboard.BaseURL, &http.Client{Timeout: cfg.Dashboard.Timeout.Std()}),
		health.UpstreamChecker(cfg.Upstream.BaseURL, cfg.Upstream.APIKey),
	)
	checks.Register(mux)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Kaitiaki — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Model", cfg.Upstream.Model)
	printRow("Voice", cfg.Upstream.Voice)
	printRow("Dashboard", cfg.Dashboard.BaseURL)
	printRow("Heartbeat", cfg.Relay.HeartbeatInterval.Std().String())
	printRow("Audio", fmt.Sprintf("%d Hz / %d", cfg.Audio.SampleRate, cfg.Audio.BlockSize))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", key, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
