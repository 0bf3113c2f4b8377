package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voxtutor/pkg/provider/recognizer"
	"github.com/MrWong99/voxtutor/pkg/types"
)

// browserRecognizer returns the cached recognizer, constructing it on first
// use. A failed construction is not cached.
func (c *Controller) browserRecognizer() (recognizer.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser != nil {
		return c.browser, nil
	}
	b, err := c.browserFactory()
	if err != nil {
		if errors.Is(err, ErrNotSupported) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrNotSupported, err)
	}
	if b == nil {
		return nil, ErrNotSupported
	}
	c.browser = b
	return b, nil
}

// runBrowser drives a run on the in-browser recognizer. A result event only
// buffers alternatives; the end event settles. An error event settles
// immediately, so the end event that usually follows it is a no-op.
func (c *Controller) runBrowser(ctx context.Context, r *run, log *slog.Logger) {
	b, err := c.browserRecognizer()
	if err != nil {
		log.Info("recognition: browser recognizer unavailable", "err", err)
		r.settle(Result{}, err)
		return
	}

	b.Configure(recognizer.Settings{
		Lang:            c.lang,
		Continuous:      false,
		InterimResults:  false,
		MaxAlternatives: c.maxAlternatives,
	})
	b.SetHandlers(recognizer.Handlers{
		OnResult: func(results [][]types.Alternative) {
			if !c.current(r) || len(results) == 0 {
				return
			}
			r.buffer(results[0])
		},
		OnError: func(code string) {
			if !c.current(r) {
				return
			}
			log.Debug("recognition: browser error event", "code", code)
			r.settle(Result{}, &BackendError{Code: code})
		},
		OnEnd: func() {
			if !c.current(r) {
				return
			}
			r.finish()
		},
	})
	r.onSettle(func() { b.SetHandlers(recognizer.Handlers{}) })

	if c.browserWatchdog > 0 {
		c.armBrowserWatchdog(r, b, log)
	}

	if r.settled() {
		return
	}
	stop := func() {
		if err := b.Stop(); err != nil {
			log.Debug("recognition: ignoring browser stop error", "err", err)
		}
	}

	// Start has no cancellation of its own; an abort must not wait for it.
	started := make(chan error, 1)
	go func() { started <- b.Start() }()

	select {
	case err := <-started:
		if err != nil {
			r.fail(ctx, &BackendError{Code: CodeStartFailed, Err: err})
			return
		}
		r.listening(stop)
	case <-ctx.Done():
		// The abort watch settles the run. Stop the recognizer once the
		// start call it abandoned comes back.
		pending := r.leaveBehind()
		go func() {
			defer close(pending)
			if err := <-started; err == nil {
				r.listening(stop)
			}
		}()
	}
}

// armBrowserWatchdog stops a browser capture that outlives the watchdog and,
// if the recognizer never reports its end, settles the run after the grace
// period with whatever was captured.
func (c *Controller) armBrowserWatchdog(r *run, b recognizer.Browser, log *slog.Logger) {
	watchdog := time.AfterFunc(c.browserWatchdog, func() {
		if r.settled() {
			return
		}
		log.Debug("recognition: browser watchdog fired, stopping capture")
		if err := b.Stop(); err != nil {
			log.Debug("recognition: ignoring browser stop error", "err", err)
		}
		grace := time.AfterFunc(c.stopGrace, func() { r.finish() })
		r.onSettle(func() { grace.Stop() })
	})
	r.onSettle(func() { watchdog.Stop() })
}
