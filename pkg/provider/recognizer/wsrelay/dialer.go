package wsrelay

import (
	"context"
	"sync"

	"github.com/MrWong99/voxtutor/internal/resilience"
)

// Dialer connects to a device companion on demand and keeps the connection
// for reuse. Dials go through a circuit breaker so an unreachable device
// fails fast instead of stalling every capture. Dialer implements
// [PeerSource].
type Dialer struct {
	url     string
	breaker *resilience.CircuitBreaker
	opts    []Option

	mu   sync.Mutex
	peer *Peer
}

// NewDialer creates a [Dialer] for url. A nil breaker gets the default
// configuration.
func NewDialer(url string, breaker *resilience.CircuitBreaker, opts ...Option) *Dialer {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "bridge-dial"})
	}
	return &Dialer{url: url, breaker: breaker, opts: opts}
}

// Peer returns the live connection, dialing a new one when needed.
func (d *Dialer) Peer(ctx context.Context) (*Peer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.peer != nil {
		select {
		case <-d.peer.Done():
			d.peer = nil
		default:
			return d.peer, nil
		}
	}

	var p *Peer
	err := d.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		p, err = Dial(ctx, d.url, d.opts...)
		return err
	})
	if err != nil {
		return nil, err
	}
	d.peer = p
	return p, nil
}

// Breaker exposes the dial circuit breaker for health reporting.
func (d *Dialer) Breaker() *resilience.CircuitBreaker { return d.breaker }

// Close closes the cached connection.
func (d *Dialer) Close() error {
	d.mu.Lock()
	p := d.peer
	d.peer = nil
	d.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Close()
}
