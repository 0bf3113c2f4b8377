package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxtutor/internal/evaluation"
)

const (
	// eventBuffer is the number of snapshots queued per subscriber. A
	// subscriber that falls further behind loses the oldest snapshots.
	eventBuffer = 16

	eventWriteTimeout = 5 * time.Second
)

// Events fans attempt snapshots out to WebSocket subscribers. Register
// [Events.Publish] as the orchestrator's state hook. New subscribers receive
// the latest snapshot first.
type Events struct {
	accept *websocket.AcceptOptions
	log    *slog.Logger

	mu     sync.Mutex
	latest evaluation.Attempt
	subs   map[chan evaluation.Attempt]struct{}
	done   chan struct{}
	closed bool
}

// NewEvents creates an [Events] hub. accept may be nil.
func NewEvents(accept *websocket.AcceptOptions, log *slog.Logger) *Events {
	if log == nil {
		log = slog.Default()
	}
	return &Events{
		accept: accept,
		log:    log,
		latest: evaluation.Attempt{Phase: evaluation.PhaseIdle},
		subs:   make(map[chan evaluation.Attempt]struct{}),
		done:   make(chan struct{}),
	}
}

// Publish records a and queues it for every subscriber without blocking.
func (e *Events) Publish(a evaluation.Attempt) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latest = a
	for ch := range e.subs {
		enqueue(ch, a)
	}
}

// Subscribers reports the number of connected subscribers.
func (e *Events) Subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Close disconnects every subscriber. Later connections are refused.
func (e *Events) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.done)
}

// ServeHTTP upgrades the request and streams snapshots until the client goes
// away or the hub is closed.
func (e *Events) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ch, ok := e.subscribe()
	if !ok {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer e.unsubscribe(ch)

	conn, err := websocket.Accept(w, r, e.accept)
	if err != nil {
		e.log.Debug("api: events upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Subscribers only listen; CloseRead handles control frames and cancels
	// ctx when the client disconnects.
	ctx := conn.CloseRead(context.Background())
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case a := <-ch:
			if err := e.write(ctx, conn, a); err != nil {
				e.log.Debug("api: events write failed", "err", err)
				return
			}
		}
	}
}

func (e *Events) write(ctx context.Context, conn *websocket.Conn, a evaluation.Attempt) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, a)
}

func (e *Events) subscribe() (chan evaluation.Attempt, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, false
	}
	ch := make(chan evaluation.Attempt, eventBuffer)
	ch <- e.latest
	e.subs[ch] = struct{}{}
	return ch, true
}

func (e *Events) unsubscribe(ch chan evaluation.Attempt) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs, ch)
}

// enqueue sends a on ch, dropping the oldest queued snapshot when full.
func enqueue(ch chan evaluation.Attempt, a evaluation.Attempt) {
	for {
		select {
		case ch <- a:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
