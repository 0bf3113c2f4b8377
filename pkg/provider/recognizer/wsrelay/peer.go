// Package wsrelay implements the recognizer backends by relaying them over a
// WebSocket to the client that owns the real microphone: the browser page
// running the in-browser recognizer, or the device companion app exposing the
// native bridge.
//
// The relay speaks JSON text frames (see [Frame]). The server issues commands
// as requests carrying an "id" and the client answers each with a "reply"
// frame echoing that id. Backend events flow from the client unprompted.
//
// A [Peer] is one connection; it can be accepted from an HTTP upgrade
// ([Accept], usually through a [Slot]) or dialed ([Dial], usually through a
// [Dialer]). [Browser], [Bridge] and [AudioContext] adapt a peer to the
// recognizer and audiogate interfaces.
package wsrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// DefaultRequestTimeout bounds a request when the caller's context has no
// earlier deadline.
const DefaultRequestTimeout = 5 * time.Second

var (
	// ErrPeerClosed is returned for requests on, or pending on, a closed peer.
	ErrPeerClosed = errors.New("wsrelay: peer closed")

	// ErrNoPeer is returned by a [PeerSource] that has no live peer.
	ErrNoPeer = errors.New("wsrelay: no peer connected")
)

// RemoteError is a failure reported by the client in a reply frame.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("wsrelay: %s: %s", e.Op, e.Message)
}

// PeerSource yields the peer to talk to.
type PeerSource interface {
	Peer(ctx context.Context) (*Peer, error)
}

// Option is a functional option for configuring a [Peer].
type Option func(*Peer)

// WithRequestTimeout sets the default request timeout. Default: 5s.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Peer) {
		p.timeout = d
	}
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Peer) {
		p.log = l
	}
}

// Peer is a live relay connection. It is safe for concurrent use.
type Peer struct {
	conn    *websocket.Conn
	timeout time.Duration
	log     *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan Frame
	subs     map[string]map[int]func(Frame)
	nextSub  int
	closeErr error

	done chan struct{}
	once sync.Once
}

// Accept upgrades an HTTP request to a relay peer.
func Accept(w http.ResponseWriter, r *http.Request, accept *websocket.AcceptOptions, opts ...Option) (*Peer, error) {
	conn, err := websocket.Accept(w, r, accept)
	if err != nil {
		return nil, fmt.Errorf("wsrelay: accept: %w", err)
	}
	return newPeer(conn, opts...), nil
}

// Dial connects to a relay endpoint.
func Dial(ctx context.Context, url string, opts ...Option) (*Peer, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsrelay: dial: %w", err)
	}
	return newPeer(conn, opts...), nil
}

func newPeer(conn *websocket.Conn, opts ...Option) *Peer {
	p := &Peer{
		conn:    conn,
		timeout: DefaultRequestTimeout,
		log:     slog.Default(),
		pending: make(map[string]chan Frame),
		subs:    make(map[string]map[int]func(Frame)),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	go p.readLoop()
	return p
}

// Done is closed once the peer is closed, by either side.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Err returns why the peer closed, or nil while it is open.
func (p *Peer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeErr
}

// Close closes the connection and fails every pending request.
func (p *Peer) Close() error {
	p.shutdown(ErrPeerClosed)
	return p.conn.Close(websocket.StatusNormalClosure, "relay closed")
}

// Send writes f without waiting for a reply.
func (p *Peer) Send(ctx context.Context, f Frame) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("wsrelay: encode %s: %w", f.Type, err)
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("wsrelay: write %s: %w", f.Type, err)
	}
	return nil
}

// Request sends f with a fresh id and waits for the matching reply. A reply
// with ok=false is returned as a *[RemoteError].
func (p *Peer) Request(ctx context.Context, f Frame) (Frame, error) {
	if _, ok := ctx.Deadline(); !ok && p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	f.ID = uuid.NewString()
	reply := make(chan Frame, 1)

	p.mu.Lock()
	if p.closeErr != nil {
		p.mu.Unlock()
		return Frame{}, ErrPeerClosed
	}
	p.pending[f.ID] = reply
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, f.ID)
		p.mu.Unlock()
	}()

	if err := p.Send(ctx, f); err != nil {
		return Frame{}, err
	}

	select {
	case r := <-reply:
		if !r.OK {
			msg := r.Error
			if msg == "" {
				msg = "request failed"
			}
			return r, &RemoteError{Op: f.Type, Message: msg}
		}
		return r, nil
	case <-p.done:
		return Frame{}, ErrPeerClosed
	case <-ctx.Done():
		return Frame{}, fmt.Errorf("wsrelay: %s: %w", f.Type, ctx.Err())
	}
}

// Subscribe registers fn for unsolicited frames of type typ. fn runs on the
// read goroutine and must not block. The returned func removes it.
func (p *Peer) Subscribe(typ string, fn func(Frame)) (remove func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subs[typ] == nil {
		p.subs[typ] = make(map[int]func(Frame))
	}
	id := p.nextSub
	p.nextSub++
	p.subs[typ][id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs[typ], id)
	}
}

func (p *Peer) readLoop() {
	for {
		_, data, err := p.conn.Read(context.Background())
		if err != nil {
			p.log.Debug("wsrelay: read loop ended", "err", err)
			p.shutdown(fmt.Errorf("%w: %w", ErrPeerClosed, err))
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			p.log.Warn("wsrelay: dropping malformed frame", "err", err)
			continue
		}
		p.dispatch(f)
	}
}

func (p *Peer) dispatch(f Frame) {
	p.mu.Lock()
	if f.Type == TypeReply {
		ch, ok := p.pending[f.ID]
		p.mu.Unlock()
		if !ok {
			p.log.Debug("wsrelay: reply for unknown request", "id", f.ID)
			return
		}
		select {
		case ch <- f:
		default:
		}
		return
	}
	fns := make([]func(Frame), 0, len(p.subs[f.Type]))
	for _, fn := range p.subs[f.Type] {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(f)
	}
}

func (p *Peer) shutdown(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.closeErr = err
		p.mu.Unlock()
		close(p.done)
	})
}
