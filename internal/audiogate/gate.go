// Package audiogate makes sure the platform audio subsystem is running before a
// capture attempt.
//
// Some platforms (notably iOS Safari) start the audio context suspended and only
// allow resuming it from a user gesture. The [Gate] owns the single audio
// context of the process: it is created lazily on the first unlock and never
// destroyed. Unlocking is best-effort: recognition backends frequently route
// audio on their own, so a failed resume must never block a capture.
package audiogate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrNoAudio is returned by a [Factory] when the platform exposes no audio
// context at all. The gate then stays a no-op.
var ErrNoAudio = errors.New("audiogate: no audio context on this platform")

// State is the lifecycle state of an audio context.
type State string

const (
	StateRunning   State = "running"
	StateSuspended State = "suspended"
	StateClosed    State = "closed"
)

// AudioContext is the platform audio handle.
type AudioContext interface {
	// State reports the current context state.
	State(ctx context.Context) (State, error)

	// Resume moves a suspended context to running.
	Resume(ctx context.Context) error
}

// Factory creates the process audio context.
type Factory func(ctx context.Context) (AudioContext, error)

// Option is a functional option for configuring a [Gate].
type Option func(*Gate)

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		g.log = l
	}
}

// Gate lazily creates one [AudioContext] and resumes it when suspended.
// It is safe for concurrent use.
type Gate struct {
	factory Factory
	log     *slog.Logger

	mu      sync.Mutex
	created bool
	audio   AudioContext
}

// New returns a [Gate] that creates its audio context through factory. A nil
// factory yields a gate that never does anything.
func New(factory Factory, opts ...Option) *Gate {
	g := &Gate{
		factory: factory,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// UnlockOnce creates the audio context on first use and resumes it when it is
// suspended. Creation is attempted only once per gate, even when it fails.
// All failures are logged and swallowed.
func (g *Gate) UnlockOnce(ctx context.Context) {
	ac := g.context(ctx)
	if ac == nil {
		return
	}

	state, err := ac.State(ctx)
	if err != nil {
		g.log.Debug("audiogate: cannot read audio context state", "err", err)
		return
	}
	if state != StateSuspended {
		return
	}
	if err := ac.Resume(ctx); err != nil {
		g.log.Debug("audiogate: resume failed, continuing without it", "err", err)
		return
	}
	g.log.Debug("audiogate: audio context resumed")
}

// Context returns the audio context, or nil when it has not been created (or
// creation failed).
func (g *Gate) Context() AudioContext {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.audio
}

func (g *Gate) context(ctx context.Context) AudioContext {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.created {
		return g.audio
	}
	g.created = true

	if g.factory == nil {
		return nil
	}
	ac, err := g.factory(ctx)
	switch {
	case errors.Is(err, ErrNoAudio):
		g.log.Debug("audiogate: platform has no audio context")
	case err != nil:
		g.log.Warn("audiogate: create audio context", "err", err)
	default:
		g.audio = ac
	}
	return g.audio
}
