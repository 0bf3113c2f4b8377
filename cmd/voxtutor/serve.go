package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/MrWong99/voxtutor/internal/app"
	"github.com/MrWong99/voxtutor/internal/config"
	"github.com/MrWong99/voxtutor/internal/evaluation"
	"github.com/MrWong99/voxtutor/internal/observe"
	"github.com/MrWong99/voxtutor/internal/progress"
)

// shutdownTimeout bounds the teardown after the server stops.
const shutdownTimeout = 15 * time.Second

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the evaluation server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *cfgPath)
		},
	}
}

func serve(parent context.Context, path string) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found: copy configs/example.yaml to get started", path)
		}
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	logger, closeLog := newLogger(cfg.Server, level)
	defer closeLog()
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, telemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := observe.NewMetrics(telemetry.MeterProvider())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	// The callback only runs inside watcher.Run, after application is set.
	var application *app.App
	watcher, err := config.NewWatcher(path, func(old, next *config.Config) {
		application.Reconfigure(old, next)
	}, config.WithWatcherLogger(logger))
	if err != nil {
		return err
	}
	cfg = watcher.Current()

	slog.Info("voxtutor starting",
		"config", path,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"platform", cfg.Recognition.Platform,
	)

	application, err = app.New(ctx, cfg,
		app.WithLogger(logger),
		app.WithLevelVar(level),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(telemetry.Handler()),
		app.WithOutcomeHook(outcomeHook(cfg.Server, logger)),
	)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	var errs []error
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		errs = append(errs, runErr)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown: %w", err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	if len(errs) == 0 {
		slog.Info("goodbye")
	}
	return errors.Join(errs...)
}

func telemetryConfig(tel config.TelemetryConfig) observe.ProviderConfig {
	return observe.ProviderConfig{
		ServiceName:      tel.ServiceName,
		ServiceVersion:   version,
		Metrics:          tel.Metrics,
		TraceSampleRatio: tel.TraceSampleRatio,
	}
}

// newLogger builds a text logger on stderr whose level follows level. When
// srv.LogFile is set, output is also written to a size-rotated file. The
// returned func closes the file.
func newLogger(srv config.ServerConfig, level *slog.LevelVar) (*slog.Logger, func()) {
	var out io.Writer = os.Stderr
	closeFn := func() {}
	if srv.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   srv.LogFile,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     30, // days
		}
		out = io.MultiWriter(os.Stderr, rotator)
		closeFn = func() { _ = rotator.Close() }
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closeFn
}

// outcomeHook logs every decided answer and, when srv.OutcomeLog is set,
// journals it to that file.
func outcomeHook(srv config.ServerConfig, logger *slog.Logger) func(evaluation.Outcome) {
	var save func(evaluation.Outcome)
	if srv.OutcomeLog != "" {
		save = progress.NewFileStore(srv.OutcomeLog).Hook(logger)
	}
	return func(o evaluation.Outcome) {
		if save != nil {
			save(o)
		}
		logger.Info("answer decided",
			"expected", o.Expected,
			"word", o.Word,
			"accepted", o.Accepted,
			"decision", o.Decision,
			"match_type", o.MatchType,
			"confidence", o.Confidence,
		)
	}
}
