package wsrelay

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Slot holds the most recently connected client. A new connection replaces
// (and closes) the previous one, so a reloaded page takes over seamlessly.
// Slot implements [PeerSource].
type Slot struct {
	accept   *websocket.AcceptOptions
	peerOpts []Option
	log      *slog.Logger
	onChange func(delta int64)

	mu   sync.Mutex
	peer *Peer
}

// SlotOption is a functional option for configuring a [Slot].
type SlotOption func(*Slot)

// WithAcceptOptions sets the WebSocket accept options (origin patterns,
// compression).
func WithAcceptOptions(o *websocket.AcceptOptions) SlotOption {
	return func(s *Slot) {
		s.accept = o
	}
}

// WithPeerOptions sets the options applied to every accepted [Peer].
func WithPeerOptions(opts ...Option) SlotOption {
	return func(s *Slot) {
		s.peerOpts = opts
	}
}

// WithSlotLogger sets the logger. Default: [slog.Default].
func WithSlotLogger(l *slog.Logger) SlotOption {
	return func(s *Slot) {
		s.log = l
	}
}

// WithConnectionHook registers fn to observe connects (+1) and disconnects (-1).
func WithConnectionHook(fn func(delta int64)) SlotOption {
	return func(s *Slot) {
		s.onChange = fn
	}
}

// NewSlot creates an empty [Slot].
func NewSlot(opts ...SlotOption) *Slot {
	s := &Slot{log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Peer returns the connected peer or [ErrNoPeer].
func (s *Slot) Peer(_ context.Context) (*Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer == nil {
		return nil, ErrNoPeer
	}
	select {
	case <-s.peer.Done():
		return nil, ErrNoPeer
	default:
		return s.peer, nil
	}
}

// Connected reports whether a live peer is present.
func (s *Slot) Connected() bool {
	_, err := s.Peer(context.Background())
	return err == nil
}

// ServeHTTP upgrades the request and installs the new peer. It returns once
// the peer disconnects.
func (s *Slot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, err := Accept(w, r, s.accept, s.peerOpts...)
	if err != nil {
		s.log.Warn("wsrelay: upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}

	s.mu.Lock()
	prev := s.peer
	s.peer = p
	s.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	s.log.Info("wsrelay: client connected", "remote", r.RemoteAddr)
	if s.onChange != nil {
		s.onChange(1)
	}

	<-p.Done()

	s.mu.Lock()
	if s.peer == p {
		s.peer = nil
	}
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange(-1)
	}
	s.log.Info("wsrelay: client disconnected", "remote", r.RemoteAddr, "err", p.Err())
}

// Close disconnects the current peer, if any.
func (s *Slot) Close() error {
	s.mu.Lock()
	p := s.peer
	s.peer = nil
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Close()
}
