package recognition

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/voxtutor/pkg/provider/recognizer"
	"github.com/MrWong99/voxtutor/pkg/types"
)

// runNative drives a run on the native device bridge.
//
// Partial results only replace the running best transcript. The run settles
// on listeningState=stopped, on the watchdog, or on abort; a partial result
// never settles it by itself.
func (c *Controller) runNative(ctx context.Context, r *run, log *slog.Logger) {
	br := c.bridge

	ok, err := br.Available(ctx)
	if err != nil {
		r.fail(ctx, &BackendError{Code: CodeUnavailable, Err: err})
		return
	}
	if !ok {
		r.fail(ctx, &BackendError{Code: CodeUnavailable})
		return
	}

	perm, err := br.RequestPermissions(ctx)
	if err != nil {
		r.fail(ctx, &BackendError{Code: CodeNotAllowed, Err: err})
		return
	}
	if perm != recognizer.PermissionGranted {
		log.Info("recognition: microphone permission not granted", "permission", perm)
		r.fail(ctx, &BackendError{Code: CodeNotAllowed})
		return
	}

	partials := br.OnPartialResults(func(matches []string) {
		if !c.current(r) {
			return
		}
		alts := make([]types.Alternative, len(matches))
		for i, m := range matches {
			alts[i] = types.Alternative{Transcript: m}
		}
		r.buffer(alts)
	})
	r.onSettle(partials.Remove)

	states := br.OnListeningState(func(status recognizer.ListeningStatus) {
		if !c.current(r) || status != recognizer.ListeningStopped {
			return
		}
		r.finish()
	})
	r.onSettle(states.Remove)

	stopBridge := func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), nativeStopTimeout)
		defer cancel()
		if err := br.Stop(sctx); err != nil {
			log.Debug("recognition: ignoring bridge stop error", "err", err)
		}
	}

	watchdog := time.AfterFunc(c.nativeTimeout, func() {
		if r.settled() {
			return
		}
		log.Debug("recognition: native watchdog fired", "timeout", c.nativeTimeout)
		r.finishStopping(stopBridge)
	})
	r.onSettle(func() { watchdog.Stop() })

	if r.settled() {
		return
	}
	err = br.Start(ctx, recognizer.BridgeConfig{
		Language:       c.lang,
		MaxResults:     c.maxAlternatives,
		PartialResults: true,
		Popup:          false,
	})
	if err != nil {
		r.fail(ctx, &BackendError{Code: CodeStartFailed, Err: err})
		return
	}
	r.listening(stopBridge)
}
