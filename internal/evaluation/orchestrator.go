// Package evaluation decides whether a spoken answer matches the expected word
// and drives the learner-facing state of a capture attempt.
//
// An [Orchestrator] runs at most one capture at a time. Each attempt ends in
// one of four phases: auto-accepted, needs-confirmation, rejected, or error.
// Transient messages clear themselves after a configured delay; a
// needs-confirmation attempt waits for [Orchestrator.ConfirmWord] or
// [Orchestrator.RejectConfirmation].
package evaluation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voxtutor/internal/match"
	"github.com/MrWong99/voxtutor/internal/observe"
	"github.com/MrWong99/voxtutor/internal/recognition"
	"github.com/MrWong99/voxtutor/pkg/types"
)

// Recognizer captures one utterance. [*recognition.Controller] implements it.
type Recognizer interface {
	Start(ctx context.Context) (recognition.Result, error)
}

// Cancellation causes set by the orchestrator on an in-flight capture.
// [Orchestrator.Listen] also reports ErrClosed after Close.
var (
	ErrStopped = errors.New("evaluation: listening stopped")
	ErrClosed  = errors.New("evaluation: orchestrator closed")
)

// ErrBusy is returned by [Orchestrator.Listen] while another capture is
// listening or processing.
var ErrBusy = errors.New("evaluation: a capture is already in progress")

// Phase is the learner-visible stage of an attempt.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseListening         Phase = "listening"
	PhaseAccepted          Phase = "auto-accepted"
	PhaseNeedsConfirmation Phase = "needs-confirmation"
	PhaseConfirmed         Phase = "confirmed"
	PhaseRejected          Phase = "rejected"
	PhaseError             Phase = "error"
)

// Attempt is a snapshot of the orchestrator state.
type Attempt struct {
	Phase             Phase  `json:"phase"`
	Expected          string `json:"expected,omitempty"`
	IsListening       bool   `json:"is_listening"`
	IsProcessing      bool   `json:"is_processing"`
	Message           string `json:"message"`
	Error             bool   `json:"error"`
	NeedsConfirmation bool   `json:"needs_confirmation"`
	SuggestedWord     string `json:"suggested_word,omitempty"`
	Heard             string `json:"heard,omitempty"`

	// Failures counts consecutive unsuccessful attempts at Expected.
	Failures int `json:"failures"`

	// SuggestTyping is set once Failures reaches the retry limit.
	SuggestTyping bool `json:"suggest_typing"`
}

// Outcome is reported to the outcome hook for every decided attempt, so the
// caller can persist progress.
type Outcome struct {
	Expected   string
	Word       string
	Accepted   bool
	Decision   Decision
	Confidence float64
	MatchType  types.MatchType
	Transcript string
}

// Feedback holds message auto-clear delays and the retry limit.
type Feedback struct {
	SuccessClear  time.Duration
	RejectClear   time.Duration
	ErrorClear    time.Duration
	NoSpeechClear time.Duration
	MaxRetries    int
}

// DefaultFeedback returns the production message timings.
func DefaultFeedback() Feedback {
	return Feedback{
		SuccessClear:  1500 * time.Millisecond,
		RejectClear:   2 * time.Second,
		ErrorClear:    3 * time.Second,
		NoSpeechClear: 2 * time.Second,
		MaxRetries:    3,
	}
}

// DefaultListenTimeout bounds one capture at the application level.
const DefaultListenTimeout = 20 * time.Second

// Option is a functional option for configuring an [Orchestrator].
type Option func(*Orchestrator)

// WithClassifier sets the match classifier. Default: [match.New] defaults.
func WithClassifier(c *match.Classifier) Option {
	return func(o *Orchestrator) {
		o.classifier = c
	}
}

// WithTiers sets the decision thresholds. Default: [DefaultTiers].
func WithTiers(t Tiers) Option {
	return func(o *Orchestrator) {
		o.tiers = t
	}
}

// WithFeedback sets message timings and the retry limit. Default:
// [DefaultFeedback].
func WithFeedback(f Feedback) Option {
	return func(o *Orchestrator) {
		o.feedback = f
	}
}

// WithListenTimeout bounds each capture. A capture that hits the timeout is
// treated as ending without speech. Zero disables the timeout.
// Default: 20s.
func WithListenTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.listenTimeout = d
	}
}

// WithOutcomeHook registers fn to receive every decided [Outcome]. fn is
// called without internal locks held.
func WithOutcomeHook(fn func(Outcome)) Option {
	return func(o *Orchestrator) {
		o.onOutcome = fn
	}
}

// WithStateHook registers fn to receive every state change. Calls are
// serialized and arrive in state order; fn must not block for long and must
// not call back into methods that change state.
func WithStateHook(fn func(Attempt)) Option {
	return func(o *Orchestrator) {
		o.onState = fn
	}
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.log = l
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// Orchestrator evaluates spoken answers. It is safe for concurrent use.
type Orchestrator struct {
	rec Recognizer

	// pubMu serializes state hook delivery. Lock order: pubMu, then mu.
	pubMu sync.Mutex

	mu            sync.Mutex
	classifier    *match.Classifier
	tiers         Tiers
	feedback      Feedback
	listenTimeout time.Duration
	onOutcome     func(Outcome)
	onState       func(Attempt)
	log           *slog.Logger
	metrics       *observe.Metrics

	state   Attempt
	cancel  context.CancelCauseFunc
	clear   *time.Timer
	version uint64
	closed  bool
}

// New creates an [Orchestrator] capturing through rec.
func New(rec Recognizer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		rec:           rec,
		classifier:    match.New(),
		tiers:         DefaultTiers(),
		feedback:      DefaultFeedback(),
		listenTimeout: DefaultListenTimeout,
		log:           slog.Default(),
		state:         Attempt{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Reconfigure applies opts to a live orchestrator. The next attempt picks up
// the change; an in-flight capture is not affected.
func (o *Orchestrator) Reconfigure(opts ...Option) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, opt := range opts {
		opt(o)
	}
}

// State returns a snapshot of the current attempt.
func (o *Orchestrator) State() Attempt {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// StartListening captures one utterance and evaluates it against expected.
// It returns the accepted word and true on auto-accept. Every other outcome
// returns "" and false; inspect [Orchestrator.State] for the reason. A call
// made while another capture is listening or processing returns immediately
// without starting a capture.
func (o *Orchestrator) StartListening(ctx context.Context, expected string) (string, bool) {
	word, ok, _ := o.Listen(ctx, expected)
	return word, ok
}

// Listen is [Orchestrator.StartListening] that also reports why no capture
// was started: [ErrBusy] when one is already running, [ErrClosed] after
// Close. The busy check and the claim happen under one lock.
func (o *Orchestrator) Listen(ctx context.Context, expected string) (string, bool, error) {
	ctx, span := observe.StartAttempt(ctx, expected)
	defer span.End()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		span.SetAttributes(attribute.String("attempt.refused", "closed"))
		return "", false, ErrClosed
	}
	if o.state.IsListening || o.state.IsProcessing {
		o.mu.Unlock()
		span.SetAttributes(attribute.String("attempt.refused", "busy"))
		return "", false, ErrBusy
	}
	defer func() {
		span.SetAttributes(attribute.String("attempt.phase", string(o.State().Phase)))
	}()

	failures := o.state.Failures
	if expected != o.state.Expected {
		failures = 0
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	o.cancel = cancel
	timeout := o.listenTimeout
	classifier := o.classifier
	tiers := o.tiers
	o.setLocked(Attempt{
		Phase:       PhaseListening,
		Expected:    expected,
		IsListening: true,
		Message:     msgListening,
		Failures:    failures,
	}, 0)
	o.mu.Unlock()
	o.publish()

	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}
	res, err := o.rec.Start(runCtx)
	cancel(nil)

	if !o.processing() {
		return "", false, nil
	}
	if err != nil {
		o.recognitionFailed(ctx, runCtx, err)
		return "", false, nil
	}

	result := classifier.Best(res.Alternatives, expected)
	word, ok := o.decide(ctx, tiers, result, res)
	return word, ok, nil
}

// ConfirmWord accepts the suggested word of a needs-confirmation attempt. It
// returns false when no confirmation is pending.
func (o *Orchestrator) ConfirmWord() (string, bool) {
	o.mu.Lock()
	if o.closed || !o.state.NeedsConfirmation || o.state.SuggestedWord == "" {
		o.mu.Unlock()
		return "", false
	}
	prev := o.state
	word := prev.SuggestedWord
	o.setLocked(Attempt{
		Phase:    PhaseConfirmed,
		Expected: prev.Expected,
		Message:  confirmedMessage(word),
		Heard:    prev.Heard,
	}, o.feedback.SuccessClear)
	hook := o.onOutcome
	o.mu.Unlock()

	o.metrics.RecordDecision(context.Background(), string(PhaseConfirmed))
	o.publish()
	if hook != nil {
		hook(Outcome{Expected: prev.Expected, Word: word, Accepted: true, Decision: DecisionConfirm, Transcript: prev.Heard})
	}
	return word, true
}

// RejectConfirmation declines the suggested word of a needs-confirmation
// attempt and invites a retry. It is a no-op when no confirmation is pending.
func (o *Orchestrator) RejectConfirmation() {
	o.mu.Lock()
	if o.closed || !o.state.NeedsConfirmation {
		o.mu.Unlock()
		return
	}
	prev := o.state
	failures := prev.Failures + 1
	o.setLocked(o.retryAttempt(Attempt{
		Phase:    PhaseRejected,
		Expected: prev.Expected,
		Message:  msgConfirmRejected,
		Heard:    prev.Heard,
		Failures: failures,
	}), o.feedback.RejectClear)
	hook := o.onOutcome
	o.mu.Unlock()

	o.metrics.RecordDecision(context.Background(), "confirm-rejected")
	o.publish()
	if hook != nil {
		hook(Outcome{Expected: prev.Expected, Word: prev.SuggestedWord, Decision: DecisionConfirm, Transcript: prev.Heard})
	}
}

// StopListening aborts an in-flight capture. The attempt returns to idle
// without a message.
func (o *Orchestrator) StopListening() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel(ErrStopped)
	}
}

// Close aborts any in-flight capture and stops every pending message timer.
// After Close the state never changes again and StartListening is a no-op.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	cancel := o.cancel
	o.cancel = nil
	if o.clear != nil {
		o.clear.Stop()
		o.clear = nil
	}
	o.mu.Unlock()

	if cancel != nil {
		cancel(ErrClosed)
	}
}

// processing marks the capture as finished and the attempt as being
// evaluated. It reports false when the orchestrator was closed meanwhile.
func (o *Orchestrator) processing() bool {
	o.mu.Lock()
	o.cancel = nil
	if o.closed {
		o.mu.Unlock()
		return false
	}
	next := o.state
	next.IsListening = false
	next.IsProcessing = true
	o.setLocked(next, 0)
	o.mu.Unlock()
	o.publish()
	return true
}

// decide applies the decision tiers to a classified capture.
func (o *Orchestrator) decide(ctx context.Context, tiers Tiers, result types.MatchResult, res recognition.Result) (string, bool) {
	decision := tiers.Decide(result)
	heard := result.Transcript
	if heard == "" {
		heard = res.Transcript
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", false
	}
	prev := o.state
	next := Attempt{Expected: prev.Expected, Heard: heard}
	var clearAfter time.Duration
	switch decision {
	case DecisionAccept:
		next.Phase = PhaseAccepted
		next.Message = acceptedMessage(heard)
		clearAfter = o.feedback.SuccessClear
	case DecisionConfirm:
		next.Phase = PhaseNeedsConfirmation
		next.Message = confirmMessage(prev.Expected)
		next.NeedsConfirmation = true
		next.SuggestedWord = prev.Expected
		next.Failures = prev.Failures
	case DecisionReject:
		next.Phase = PhaseRejected
		next.Message = rejectedMessage(heard)
		next.Error = true
		next.Failures = prev.Failures + 1
		next = o.retryAttempt(next)
		clearAfter = o.feedback.ErrorClear
	default:
		next.Phase = PhaseRejected
		next.Message = noMatchMessage(heard, prev.Expected)
		next.Error = true
		next.Failures = prev.Failures + 1
		next = o.retryAttempt(next)
		clearAfter = o.feedback.ErrorClear
	}
	o.setLocked(next, clearAfter)
	hook := o.onOutcome
	o.mu.Unlock()

	o.metrics.RecordMatch(ctx, string(decision))
	o.metrics.RecordDecision(ctx, string(next.Phase))
	observe.Logger(ctx, o.log).Debug("evaluation: attempt decided",
		"run_id", res.RunID,
		"expected", prev.Expected,
		"heard", heard,
		"match_type", result.MatchType,
		"confidence", result.Confidence,
		"decision", decision,
	)
	o.publish()

	if decision != DecisionConfirm && hook != nil {
		hook(Outcome{
			Expected:   prev.Expected,
			Word:       result.Word,
			Accepted:   decision == DecisionAccept,
			Decision:   decision,
			Confidence: result.Confidence,
			MatchType:  result.MatchType,
			Transcript: heard,
		})
	}
	if decision == DecisionAccept {
		return result.Word, true
	}
	return "", false
}

// recognitionFailed maps a capture error to the learner-facing state.
func (o *Orchestrator) recognitionFailed(ctx, runCtx context.Context, err error) {
	log := observe.Logger(ctx, o.log)

	// The listen timeout is the orchestrator's own backstop: the learner did
	// not say anything in time.
	timedOut := errors.Is(err, recognition.ErrAborted) &&
		errors.Is(context.Cause(runCtx), context.DeadlineExceeded) &&
		ctx.Err() == nil
	if timedOut {
		err = recognition.ErrNoSpeech
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	prev := o.state

	if errors.Is(err, recognition.ErrAborted) || errors.Is(err, recognition.ErrBusy) {
		o.setLocked(Attempt{Phase: PhaseIdle, Expected: prev.Expected, Failures: prev.Failures}, 0)
		o.mu.Unlock()
		log.Debug("evaluation: capture ended without a decision", "err", err)
		o.publish()
		return
	}

	next := Attempt{
		Phase:    PhaseError,
		Expected: prev.Expected,
		Message:  errorMessage(err),
		Error:    true,
		Failures: prev.Failures,
	}
	clearAfter := o.feedback.ErrorClear
	switch {
	case errors.Is(err, recognition.ErrNotSupported):
		// Persistent: retrying cannot help, the learner has to type.
		clearAfter = 0
		next.SuggestTyping = true
	case endedWithoutSpeech(err):
		clearAfter = o.feedback.NoSpeechClear
		next.Failures++
		next = o.retryAttempt(next)
	default:
		next.Failures++
		next = o.retryAttempt(next)
	}
	o.setLocked(next, clearAfter)
	o.mu.Unlock()

	o.metrics.RecordDecision(ctx, string(PhaseError))
	log.Info("evaluation: capture failed", "err", err, "outcome", recognition.Outcome(err))
	o.publish()
}

// retryAttempt switches a to the type-your-answer hint once the retry limit
// is reached. Called with o.mu held.
func (o *Orchestrator) retryAttempt(a Attempt) Attempt {
	if o.feedback.MaxRetries > 0 && a.Failures >= o.feedback.MaxRetries {
		a.SuggestTyping = true
		a.Message = retryLimitMessage(a.Failures)
	}
	return a
}

// setLocked replaces the state and, when clearAfter is positive, schedules
// the message to clear. Any earlier pending clear is cancelled. Called with
// o.mu held.
func (o *Orchestrator) setLocked(next Attempt, clearAfter time.Duration) {
	if o.clear != nil {
		o.clear.Stop()
		o.clear = nil
	}
	o.version++
	o.state = next
	if clearAfter <= 0 {
		return
	}
	version := o.version
	o.clear = time.AfterFunc(clearAfter, func() {
		o.mu.Lock()
		if o.closed || o.version != version {
			o.mu.Unlock()
			return
		}
		cleared := Attempt{Phase: PhaseIdle, Expected: o.state.Expected, Failures: o.state.Failures}
		o.version++
		o.state = cleared
		o.clear = nil
		o.mu.Unlock()
		o.publish()
	})
}

// publish delivers the current state to the state hook.
func (o *Orchestrator) publish() {
	o.pubMu.Lock()
	defer o.pubMu.Unlock()

	o.mu.Lock()
	hook := o.onState
	snapshot := o.state
	closed := o.closed
	o.mu.Unlock()
	if hook != nil && !closed {
		hook(snapshot)
	}
}
