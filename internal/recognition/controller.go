// Package recognition turns the two event-driven speech backends into one
// blocking, cancellable call.
//
// [Controller.Start] captures a single utterance and returns either a
// [Result] with a trimmed, non-empty transcript or one of the errors
// [ErrNotSupported], [ErrNoSpeech], *[BackendError], or [ErrAborted]. Whichever
// backend runs, a run settles exactly once and every listener, timer, and
// abort watch it installed is released before Start returns.
//
// The controller never retries: each Start call is exactly one attempt.
package recognition

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/voxtutor/internal/audiogate"
	"github.com/MrWong99/voxtutor/internal/observe"
	"github.com/MrWong99/voxtutor/pkg/provider/recognizer"
	"github.com/MrWong99/voxtutor/pkg/types"
)

// Backend names the capture path a run used.
type Backend string

const (
	BackendBrowser Backend = "browser"
	BackendNative  Backend = "native"
	BackendNone    Backend = "none"
)

// Defaults for [Controller] options.
const (
	DefaultLanguage        = "en-US"
	DefaultMaxAlternatives = 5
	DefaultNativeTimeout   = 15 * time.Second
	DefaultStopGrace       = 2 * time.Second

	// nativeStopTimeout bounds the best-effort bridge stop issued on abort or
	// watchdog expiry.
	nativeStopTimeout = 3 * time.Second
)

// Result is a successful capture.
type Result struct {
	// RunID uniquely identifies the run.
	RunID string

	// Backend is the path that produced the transcript.
	Backend Backend

	// Transcript is the best transcript, trimmed and never empty.
	Transcript string

	// Alternatives holds every non-blank candidate in the order the backend
	// reported them; backends usually but not reliably put the best first.
	// Transcript equals Alternatives[0].Transcript.
	Alternatives []types.Alternative
}

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithBridge selects the native device-bridge backend. When set, the browser
// factory is never consulted.
func WithBridge(b recognizer.Bridge) Option {
	return func(c *Controller) {
		c.bridge = b
	}
}

// WithBrowserFactory sets the constructor for the browser recognizer. The
// first successfully constructed recognizer is cached for the lifetime of the
// controller.
func WithBrowserFactory(f recognizer.BrowserFactory) Option {
	return func(c *Controller) {
		c.browserFactory = f
	}
}

// WithAudioGate sets the gate unlocked before every run.
func WithAudioGate(g *audiogate.Gate) Option {
	return func(c *Controller) {
		c.gate = g
	}
}

// WithLanguage sets the recognition language. Default: "en-US".
func WithLanguage(lang string) Option {
	return func(c *Controller) {
		c.lang = lang
	}
}

// WithMaxAlternatives caps alternatives per result. Default: 5.
func WithMaxAlternatives(n int) Option {
	return func(c *Controller) {
		c.maxAlternatives = n
	}
}

// WithNativeTimeout sets the unconditional ceiling of a native run. Default: 15s.
func WithNativeTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.nativeTimeout = d
	}
}

// WithBrowserWatchdog bounds a browser run. When d elapses the recognizer is
// asked to stop; if its end event does not follow within the stop grace
// period the run settles with whatever was captured. Zero disables the
// watchdog (the default).
func WithBrowserWatchdog(d time.Duration) Option {
	return func(c *Controller) {
		c.browserWatchdog = d
	}
}

// WithStopGrace sets how long the browser watchdog waits for the end event
// after stopping the recognizer. Default: 2s.
func WithStopGrace(d time.Duration) Option {
	return func(c *Controller) {
		c.stopGrace = d
	}
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// Controller runs recognition attempts, one at a time.
type Controller struct {
	bridge          recognizer.Bridge
	browserFactory  recognizer.BrowserFactory
	gate            *audiogate.Gate
	lang            string
	maxAlternatives int
	nativeTimeout   time.Duration
	browserWatchdog time.Duration
	stopGrace       time.Duration
	log             *slog.Logger
	metrics         *observe.Metrics

	mu      sync.Mutex
	browser recognizer.Browser
	active  *run
	gen     uint64
}

// New creates a [Controller].
func New(opts ...Option) *Controller {
	c := &Controller{
		lang:            DefaultLanguage,
		maxAlternatives: DefaultMaxAlternatives,
		nativeTimeout:   DefaultNativeTimeout,
		stopGrace:       DefaultStopGrace,
		log:             slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Start captures one utterance. It blocks until the run settles and honours
// ctx cancellation at any point: a ctx that is already done when Start is
// called never reaches the backend.
func (c *Controller) Start(ctx context.Context) (Result, error) {
	if c.gate != nil {
		c.gate.UnlockOnce(ctx)
	}
	if ctx.Err() != nil {
		return Result{}, abortError(ctx)
	}

	backend := c.selectBackend()
	r, err := c.begin(backend)
	if err != nil {
		return Result{}, err
	}

	ctx, span := observe.StartRun(ctx, r.id, string(backend))
	log := observe.Logger(ctx, c.log).With("backend", backend)
	c.metrics.ActiveRuns.Add(ctx, 1)

	stopWatch := context.AfterFunc(ctx, func() {
		log.Debug("recognition: run aborted")
		r.abort(ctx)
	})
	r.onSettle(func() { stopWatch() })

	switch backend {
	case BackendNative:
		c.runNative(ctx, r, log)
	case BackendBrowser:
		c.runBrowser(ctx, r, log)
	default:
		r.settle(Result{}, ErrNotSupported)
	}

	res, err := r.outcome()

	// A backend start call abandoned on abort keeps the controller claimed
	// until it returns, so the next run never shares the recognizer with it.
	if pending := r.leftBehind(); pending != nil {
		go func() {
			<-pending
			c.release(r)
		}()
	} else {
		c.release(r)
	}

	outcome := Outcome(err)
	c.metrics.ActiveRuns.Add(ctx, -1)
	c.metrics.RecordRecognitionRun(ctx, string(backend), outcome, time.Since(r.started).Seconds())
	span.SetAttributes(attribute.String("run.outcome", outcome))
	if err != nil && outcome != "aborted" {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
	log.Debug("recognition: run settled", "outcome", outcome, "transcript", res.Transcript)

	return res, err
}

func (c *Controller) release(r *run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == r {
		c.active = nil
	}
}

// Busy reports whether a run is in flight. It stays true after an aborted
// browser run until the recognizer's start call has returned.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

func (c *Controller) selectBackend() Backend {
	switch {
	case c.bridge != nil:
		return BackendNative
	case c.browserFactory != nil:
		return BackendBrowser
	default:
		return BackendNone
	}
}

// begin claims the controller for a new run.
func (c *Controller) begin(backend Backend) (*run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return nil, ErrBusy
	}
	c.gen++
	r := newRun(uuid.NewString(), c.gen, backend)
	c.active = r
	return r, nil
}

// current reports whether r is still the controller's active run. Backend
// callbacks check it on entry so events for a superseded run are dropped.
func (c *Controller) current(r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil && c.active.gen == r.gen
}
