// Package app wires the voxtutor subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the relay, the
// recognition controller and the evaluation orchestrator from config, Run
// serves HTTP until its context ends, and Shutdown tears everything down in
// order.
//
// For testing, inject doubles via functional options (WithBridge,
// WithBrowserFactory, etc.). When an option is not provided, New creates the
// WebSocket relay implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxtutor/internal/api"
	"github.com/MrWong99/voxtutor/internal/audiogate"
	"github.com/MrWong99/voxtutor/internal/config"
	"github.com/MrWong99/voxtutor/internal/evaluation"
	"github.com/MrWong99/voxtutor/internal/health"
	"github.com/MrWong99/voxtutor/internal/match"
	"github.com/MrWong99/voxtutor/internal/observe"
	"github.com/MrWong99/voxtutor/internal/recognition"
	"github.com/MrWong99/voxtutor/internal/resilience"
	"github.com/MrWong99/voxtutor/pkg/provider/recognizer"
	"github.com/MrWong99/voxtutor/pkg/provider/recognizer/wsrelay"
)

// shutdownTimeout bounds the graceful HTTP shutdown at the end of Run.
const shutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	level   *slog.LevelVar
	metrics *observe.Metrics

	metricsHandler http.Handler
	onOutcome      func(evaluation.Outcome)

	// Recognition backends. Injected or built in New.
	bridge         recognizer.Bridge
	browserFactory recognizer.BrowserFactory
	closeBackend   func()

	slot       *wsrelay.Slot
	dialer     *wsrelay.Dialer
	controller *recognition.Controller
	orch       *evaluation.Orchestrator
	events     *api.Events
	handler    http.Handler
	server     *http.Server

	mu sync.Mutex

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets [App.Reconfigure] change the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithOutcomeHook registers fn to receive every decided answer, e.g. to
// persist learner progress.
func WithOutcomeHook(fn func(evaluation.Outcome)) Option {
	return func(a *App) { a.onOutcome = fn }
}

// WithBridge injects a native bridge instead of creating one from config.
func WithBridge(b recognizer.Bridge) Option {
	return func(a *App) { a.bridge = b }
}

// WithBrowserFactory injects a browser recognizer factory instead of the
// relay-backed one.
func WithBrowserFactory(f recognizer.BrowserFactory) Option {
	return func(a *App) { a.browserFactory = f }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It validates cfg and
// performs all initialisation synchronously. No network connections are made
// until the first capture.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a := &App{cfg: cfg, log: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	accept := &websocket.AcceptOptions{OriginPatterns: cfg.Server.AllowedOrigins}

	// ── 1. Relay ─────────────────────────────────────────────────────────
	a.slot = wsrelay.NewSlot(
		wsrelay.WithAcceptOptions(accept),
		wsrelay.WithSlotLogger(a.log),
		wsrelay.WithPeerOptions(wsrelay.WithLogger(a.log)),
		wsrelay.WithConnectionHook(func(delta int64) {
			a.metrics.RelayPeers.Add(context.Background(), delta)
		}),
	)

	// ── 2. Recognition ───────────────────────────────────────────────────
	source := a.initBackends()
	recOpts := []recognition.Option{
		recognition.WithAudioGate(audiogate.New(wsrelay.AudioFactory(source), audiogate.WithLogger(a.log))),
		recognition.WithLanguage(cfg.Recognition.Language),
		recognition.WithMaxAlternatives(cfg.Recognition.MaxAlternatives),
		recognition.WithNativeTimeout(cfg.Recognition.NativeTimeout),
		recognition.WithBrowserWatchdog(cfg.Recognition.BrowserWatchdog),
		recognition.WithStopGrace(cfg.Recognition.StopGrace),
		recognition.WithLogger(a.log),
		recognition.WithMetrics(a.metrics),
	}
	if a.bridge != nil {
		recOpts = append(recOpts, recognition.WithBridge(a.bridge))
	}
	if a.browserFactory != nil {
		recOpts = append(recOpts, recognition.WithBrowserFactory(a.browserFactory))
	}
	a.controller = recognition.New(recOpts...)

	// ── 3. Evaluation ────────────────────────────────────────────────────
	a.events = api.NewEvents(accept, a.log)
	evalOpts := append(evaluationOptions(cfg),
		evaluation.WithStateHook(a.events.Publish),
		evaluation.WithLogger(a.log),
		evaluation.WithMetrics(a.metrics),
	)
	if a.onOutcome != nil {
		evalOpts = append(evalOpts, evaluation.WithOutcomeHook(a.onOutcome))
	}
	a.orch = evaluation.New(a.controller, evalOpts...)

	// ── 4. HTTP ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	api.New(a.orch, api.WithEvents(a.events), api.WithLogger(a.log)).Register(mux)
	mux.Handle("GET /relay", a.slot)
	health.New(a.readiness()).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Abort captures before the relay goes away.
	a.closers = append(a.closers,
		func() error { a.orch.Close(); return nil },
		func() error { a.events.Close(); return nil },
	)
	if a.closeBackend != nil {
		a.closers = append(a.closers, func() error { a.closeBackend(); return nil })
	}
	a.closers = append(a.closers, a.slot.Close)
	if a.dialer != nil {
		a.closers = append(a.closers, a.dialer.Close)
	}

	a.log.InfoContext(ctx, "app: initialised",
		"platform", cfg.Recognition.Platform,
		"backend", a.Backend(),
		"language", cfg.Recognition.Language,
	)
	return a, nil
}

// initBackends builds the relay-backed recognizers the platform calls for,
// unless doubles were injected. It returns the peer source the audio gate
// talks to.
//
//   - web: the browser recognizer on the page connected to /relay.
//   - native: the device bridge, dialled at bridge_url or, without one, the
//     companion connected to /relay.
//   - auto: native when bridge_url is set, web otherwise.
func (a *App) initBackends() wsrelay.PeerSource {
	rc := a.cfg.Recognition
	var source wsrelay.PeerSource = a.slot
	if a.bridge != nil || a.browserFactory != nil {
		return source
	}

	native := rc.Platform == config.PlatformNative ||
		(rc.Platform == config.PlatformAuto && rc.BridgeURL != "")
	if !native {
		browser := wsrelay.NewBrowser(a.slot)
		a.browserFactory = func() (recognizer.Browser, error) { return browser, nil }
		a.closeBackend = browser.Close
		return source
	}

	if rc.BridgeURL != "" {
		breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "bridge-dial",
			MaxFailures:  rc.Breaker.MaxFailures,
			ResetTimeout: rc.Breaker.ResetTimeout,
			Logger:       a.log,
		})
		a.dialer = wsrelay.NewDialer(rc.BridgeURL, breaker, wsrelay.WithLogger(a.log))
		source = a.dialer
	}
	bridge := wsrelay.NewBridge(source)
	a.bridge = bridge
	a.closeBackend = bridge.Close
	return source
}

// readiness reports ready while a client can be reached: a page or companion
// is connected to /relay, or the bridge dial circuit is not open.
func (a *App) readiness() health.Checker {
	checks := []health.Checker{health.Connected("relay", a.slot.Connected)}
	if a.dialer != nil {
		checks = append(checks, health.Breaker("bridge", a.dialer.Breaker()))
	}
	return health.Any("recognizer", checks...)
}

// Backend reports the capture path the controller uses.
func (a *App) Backend() recognition.Backend {
	switch {
	case a.bridge != nil:
		return recognition.BackendNative
	case a.browserFactory != nil:
		return recognition.BackendBrowser
	default:
		return recognition.BackendNone
	}
}

// evaluationOptions maps the hot-reloadable config sections to orchestrator
// options.
func evaluationOptions(cfg *config.Config) []evaluation.Option {
	m, f := cfg.Matching, cfg.Feedback
	return []evaluation.Option{
		evaluation.WithClassifier(match.New(
			match.WithCloseThreshold(m.CloseThreshold),
			match.WithPartialConfidence(m.PartialConfidence),
		)),
		evaluation.WithTiers(evaluation.Tiers{AutoAccept: m.AutoAccept, Confirm: m.Confirm}),
		evaluation.WithFeedback(evaluation.Feedback{
			SuccessClear:  f.SuccessClear,
			RejectClear:   f.RejectClear,
			ErrorClear:    f.ErrorClear,
			NoSpeechClear: f.NoSpeechClear,
			MaxRetries:    f.MaxRetries,
		}),
		evaluation.WithListenTimeout(cfg.Recognition.ListenTimeout),
	}
}

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler { return a.handler }

// Orchestrator returns the evaluation orchestrator.
func (a *App) Orchestrator() *evaluation.Orchestrator { return a.orch }

// Config returns the config currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Reconfigure ─────────────────────────────────────────────────────────────

// Reconfigure applies the hot-reloadable differences between old and next:
// the log level, matching thresholds, feedback timings and the listen
// timeout. Other changes are logged and take effect after a restart.
func (a *App) Reconfigure(old, next *config.Config) config.ConfigDiff {
	d := config.Diff(old, next)
	if !d.Changed() {
		return d
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
	}
	if d.MatchingChanged || d.FeedbackChanged || d.ListenTimeoutChanged {
		a.orch.Reconfigure(evaluationOptions(next)...)
	}
	for _, key := range d.RestartRequired {
		a.log.Warn("app: config change requires a restart", "key", key)
	}

	a.mu.Lock()
	a.cfg = next
	a.mu.Unlock()

	a.log.Info("app: config reloaded",
		"log_level", d.LogLevelChanged,
		"matching", d.MatchingChanged,
		"feedback", d.FeedbackChanged,
		"listen_timeout", d.ListenTimeoutChanged,
	)
	return d
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is cancelled, then shuts the server down
// gracefully. It returns nil after a clean shutdown.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("app: serving", "addr", ln.Addr().String())
		var err error
		if tls := a.Config().Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		// Abort the capture behind an in-flight /v1/listen first, otherwise
		// Shutdown waits for it. Hijacked relay and event connections are not
		// tracked by the server.
		a.orch.Close()
		a.events.Close()
		return a.server.Shutdown(sctx)
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
