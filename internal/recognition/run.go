package recognition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxtutor/pkg/types"
)

// runState is the lifecycle state of a single recognition run.
type runState int

const (
	stateStarting runState = iota
	stateListening
	stateSettled
)

func (s runState) String() string {
	switch s {
	case stateStarting:
		return "starting"
	case stateListening:
		return "listening"
	case stateSettled:
		return "settled"
	default:
		return fmt.Sprintf("runState(%d)", int(s))
	}
}

// run is one capture attempt. It has exactly one settlement point: the first
// call to settle wins, runs every registered cleanup, and unblocks waiters.
// Later settle calls are no-ops.
type run struct {
	id      string
	gen     uint64
	backend Backend
	started time.Time
	done    chan struct{}

	mu       sync.Mutex
	state    runState
	alts     []types.Alternative
	result   Result
	err      error
	cleanups []func()
	stop     func()

	// pending is closed once a backend start call that outlived the run's
	// settlement returns. Nil when no call was left behind.
	pending chan struct{}
}

func newRun(id string, gen uint64, backend Backend) *run {
	return &run{
		id:      id,
		gen:     gen,
		backend: backend,
		started: time.Now(),
		done:    make(chan struct{}),
	}
}

// onSettle registers fn to run once at settlement. Cleanups run in reverse
// registration order. On an already settled run fn is called immediately.
func (r *run) onSettle(fn func()) {
	r.mu.Lock()
	if r.state == stateSettled {
		r.mu.Unlock()
		fn()
		return
	}
	r.cleanups = append(r.cleanups, fn)
	r.mu.Unlock()
}

// listening moves the run from starting to listening once capture is live
// and installs stop as the best-effort backend stop used on abort. A run
// aborted while the backend was starting is stopped right away.
func (r *run) listening(stop func()) {
	r.mu.Lock()
	if r.state != stateSettled {
		r.state = stateListening
		r.stop = stop
		r.mu.Unlock()
		return
	}
	aborted := errors.Is(r.err, ErrAborted)
	r.mu.Unlock()

	if aborted {
		stop()
	}
}

func (r *run) settled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateSettled
}

// buffer replaces the running best alternatives. Blank transcripts are dropped
// and the rest trimmed. Events arriving after settlement are ignored.
func (r *run) buffer(alts []types.Alternative) {
	kept := make([]types.Alternative, 0, len(alts))
	for _, a := range alts {
		t := strings.TrimSpace(a.Transcript)
		if t == "" {
			continue
		}
		kept = append(kept, types.Alternative{Transcript: t, Confidence: a.Confidence})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateSettled {
		return
	}
	r.alts = kept
}

// finish settles with the buffered alternatives, or [ErrNoSpeech] when none
// were captured.
func (r *run) finish() bool {
	res, err := r.captured()
	return r.settle(res, err)
}

// finishStopping is finish followed by stop. The outcome is fixed before stop
// is called, so a slow stop cannot lose the captured transcript to an abort;
// waiters are released once stop returns.
func (r *run) finishStopping(stop func()) bool {
	res, err := r.captured()
	return r.settleWith(res, err, stop, false)
}

func (r *run) captured() (Result, error) {
	r.mu.Lock()
	alts := r.alts
	r.mu.Unlock()

	if len(alts) == 0 {
		return Result{}, ErrNoSpeech
	}
	return Result{
		Transcript:   alts[0].Transcript,
		Alternatives: alts,
	}, nil
}

// settle records the terminal outcome. Only the first call has any effect.
func (r *run) settle(res Result, err error) bool {
	return r.settleWith(res, err, nil, false)
}

// abort settles the run as cancelled by ctx and stops a listening backend.
func (r *run) abort(ctx context.Context) bool {
	return r.settleWith(Result{}, abortError(ctx), nil, true)
}

// settleWith fixes the outcome, then calls stop (or the installed backend
// stop when stopListening is set), runs the cleanups and releases waiters.
func (r *run) settleWith(res Result, err error, stop func(), stopListening bool) bool {
	r.mu.Lock()
	if r.state == stateSettled {
		r.mu.Unlock()
		return false
	}
	r.state = stateSettled
	if err == nil {
		res.RunID = r.id
		res.Backend = r.backend
	}
	r.result, r.err = res, err
	cleanups := r.cleanups
	r.cleanups = nil
	if stopListening {
		stop = r.stop
	}
	r.mu.Unlock()

	if stop != nil {
		stop()
	}
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	close(r.done)
	return true
}

// fail settles with err unless ctx was cancelled meanwhile, in which case the
// abort takes precedence.
func (r *run) fail(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return r.abort(ctx)
	}
	return r.settle(Result{}, err)
}

// leaveBehind records that the backend start call started by the strategy
// is still running after settlement and returns the channel to close when it
// comes back.
func (r *run) leaveBehind() chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = make(chan struct{})
	return r.pending
}

func (r *run) leftBehind() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

func (r *run) outcome() (Result, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

func abortError(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		return ErrAborted
	}
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}
