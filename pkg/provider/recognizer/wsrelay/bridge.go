package wsrelay

import (
	"context"
	"sync"

	"github.com/MrWong99/voxtutor/pkg/provider/recognizer"
)

// Bridge relays the native recognizer plugin of a device companion. It
// implements [recognizer.Bridge].
//
// Listeners registered with OnPartialResults and OnListeningState survive
// reconnects. A companion that disconnects is reported to listening-state
// listeners as [recognizer.ListeningStopped].
type Bridge struct {
	source PeerSource

	mu       sync.Mutex
	peer     *Peer
	detach   func()
	nextID   int
	partials map[int]func([]string)
	states   map[int]func(recognizer.ListeningStatus)
}

// NewBridge creates a [Bridge] talking to the peer from source.
func NewBridge(source PeerSource) *Bridge {
	return &Bridge{
		source:   source,
		partials: make(map[int]func([]string)),
		states:   make(map[int]func(recognizer.ListeningStatus)),
	}
}

// Available asks the companion whether speech recognition is available. An
// unreachable companion reports false without an error.
func (b *Bridge) Available(ctx context.Context) (bool, error) {
	p, err := b.connect(ctx)
	if err != nil {
		return false, nil
	}
	reply, err := p.Request(ctx, Frame{Type: TypeBridgeAvailable})
	if err != nil {
		return false, err
	}
	return reply.Available, nil
}

// RequestPermissions asks the companion to obtain microphone permission.
func (b *Bridge) RequestPermissions(ctx context.Context) (recognizer.PermissionState, error) {
	p, err := b.connect(ctx)
	if err != nil {
		return "", err
	}
	reply, err := p.Request(ctx, Frame{Type: TypeBridgePermissions})
	if err != nil {
		return "", err
	}
	return recognizer.PermissionState(reply.Permission), nil
}

// Start begins a native capture.
func (b *Bridge) Start(ctx context.Context, cfg recognizer.BridgeConfig) error {
	p, err := b.connect(ctx)
	if err != nil {
		return err
	}
	_, err = p.Request(ctx, Frame{
		Type: TypeBridgeStart,
		Config: &BridgeConfig{
			Language:       cfg.Language,
			MaxResults:     cfg.MaxResults,
			PartialResults: cfg.PartialResults,
			Popup:          cfg.Popup,
			Prompt:         cfg.Prompt,
		},
	})
	return err
}

// Stop ends a native capture.
func (b *Bridge) Stop(ctx context.Context) error {
	p, err := b.connect(ctx)
	if err != nil {
		return err
	}
	_, err = p.Request(ctx, Frame{Type: TypeBridgeStop})
	return err
}

// OnPartialResults registers fn for partial results.
func (b *Bridge) OnPartialResults(fn func(matches []string)) recognizer.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.partials[id] = fn
	return recognizer.SubscriptionFunc(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.partials, id)
	})
}

// OnListeningState registers fn for listening-state changes.
func (b *Bridge) OnListeningState(fn func(status recognizer.ListeningStatus)) recognizer.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.states[id] = fn
	return recognizer.SubscriptionFunc(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.states, id)
	})
}

// connect returns the current peer and makes sure its events reach the
// registered listeners.
func (b *Bridge) connect(ctx context.Context) (*Peer, error) {
	p, err := b.source.Peer(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.peer == p {
		b.mu.Unlock()
		return p, nil
	}
	prev := b.detach
	b.peer = p
	b.detach = b.subscribe(p)
	b.mu.Unlock()

	if prev != nil {
		prev()
	}
	return p, nil
}

// subscribe wires p's bridge events to the listener registry. Called with
// b.mu held.
func (b *Bridge) subscribe(p *Peer) func() {
	rmPartial := p.Subscribe(TypeBridgePartialResults, func(f Frame) {
		for _, fn := range b.partialListeners() {
			fn(f.Matches)
		}
	})
	rmState := p.Subscribe(TypeBridgeListeningState, func(f Frame) {
		b.emitState(recognizer.ListeningStatus(f.Status))
	})

	stop := make(chan struct{})
	go func() {
		select {
		case <-p.Done():
			b.emitState(recognizer.ListeningStopped)
		case <-stop:
		}
	}()

	return func() {
		close(stop)
		rmPartial()
		rmState()
	}
}

func (b *Bridge) partialListeners() []func([]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fns := make([]func([]string), 0, len(b.partials))
	for _, fn := range b.partials {
		fns = append(fns, fn)
	}
	return fns
}

func (b *Bridge) emitState(status recognizer.ListeningStatus) {
	b.mu.Lock()
	fns := make([]func(recognizer.ListeningStatus), 0, len(b.states))
	for _, fn := range b.states {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(status)
	}
}

// Close detaches from the current peer.
func (b *Bridge) Close() {
	b.mu.Lock()
	detach := b.detach
	b.detach = nil
	b.peer = nil
	b.mu.Unlock()
	if detach != nil {
		detach()
	}
}

var _ recognizer.Bridge = (*Bridge)(nil)
