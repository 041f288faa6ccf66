package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"minibridge/internal/bridge"
	"minibridge/internal/bus"
	"minibridge/internal/config"
	"minibridge/internal/media"
	"minibridge/internal/metrics"
	"minibridge/internal/relay"
	"minibridge/internal/runtime"
	"minibridge/internal/session"
	"minibridge/internal/state"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the bridge: poll all enabled accounts until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runGateway(cfg)
	},
}

func runGateway(cfg *config.Config) error {
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := state.Open(cfg.State.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	stats := metrics.New()
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Endpoint, stats.Handler())
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			logger.Info("metrics server listening", "addr", metricsSrv.Addr, "endpoint", cfg.Metrics.Endpoint)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	events := bus.New(logger)
	// Every bridge event lands in the debug log with its payload; update
	// failures and poll cycle errors already log at error level at the
	// emission site.
	events.On("*", func(ev bus.Event) {
		logger.Debug("event", "name", ev.Name, "account", ev.AccountID, "data", ev.Data)
	})

	gateway := runtime.New(cfg.Gateway.BaseURL, cfg.Gateway.Token, logger)

	inboundDir := cfg.Media.InboundDir
	if inboundDir == "" {
		inboundDir = filepath.Join(cfg.General.Workspace, "media", "inbound")
	}
	transfer := media.NewTransfer(inboundDir, cfg.Media.MaxDownloadBytes,
		&http.Client{Timeout: 60 * time.Second}, logger)

	supervisor := bridge.NewSupervisor(events, logger)

	started := 0
	for _, acct := range cfg.Accounts {
		if !acct.Enabled {
			continue
		}
		if acct.APIKey == "" {
			logger.Error("account has no api key, not starting", "account", acct.ID)
			continue
		}

		acctLogger := logger.With("account", acct.ID)
		client := relay.NewClient(cfg.Relay.BaseURL, acct.APIKey,
			time.Duration(cfg.Relay.RequestTimeoutSeconds)*time.Second, acctLogger)

		injector := bridge.NewInjector(bridge.InjectorParams{
			AccountID: acct.ID,
			Workspace: cfg.General.Workspace,
			Client:    client,
			Runtime:   gateway,
			Router:    gateway,
			Recorder:  gateway,
			Resolver:  session.NewResolver(acct.SessionKey),
			Transfer:  transfer,
			Events:    events,
			Stats:     stats,
			Logger:    acctLogger,
		})

		interval := time.Duration(acct.PollIntervalOrDefault()) * time.Millisecond
		poller := bridge.NewPoller(acct.ID, interval, client, injector, store, events, stats, acctLogger)
		supervisor.Start(ctx, acct.ID, poller)
		started++
	}

	if started == 0 {
		return fmt.Errorf("no enabled accounts with api keys; nothing to do")
	}
	stats.SetGauge(metrics.ActiveAccounts, int64(started))
	logger.Info("bridge running", "accounts", started, "relay", cfg.Relay.BaseURL)

	<-ctx.Done()
	logger.Info("shutting down")

	supervisor.StopAll()
	if metricsSrv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(shutCtx)
	}
	return nil
}

// newLogger builds the process logger from config: text handler, leveled,
// to stderr or a log file.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	closer := func() {}
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closer = func() { f.Close() }
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}
