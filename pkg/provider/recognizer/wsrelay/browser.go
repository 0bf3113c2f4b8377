package wsrelay

import (
	"context"
	"sync"

	"github.com/MrWong99/voxtutor/pkg/provider/recognizer"
)

// Browser relays the in-browser recognizer of a connected page. It
// implements [recognizer.Browser].
//
// If the page disconnects during a capture, Browser reports a "network" error
// followed by an end event, the same way a page-side network failure looks.
type Browser struct {
	source PeerSource

	mu       sync.Mutex
	settings recognizer.Settings
	handlers recognizer.Handlers
	detach   func()
}

// NewBrowser creates a [Browser] talking to the peer from source.
func NewBrowser(source PeerSource) *Browser {
	return &Browser{source: source}
}

// Configure stores s for the next Start.
func (b *Browser) Configure(s recognizer.Settings) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settings = s
}

// SetHandlers replaces the callback slots.
func (b *Browser) SetHandlers(h recognizer.Handlers) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = h
}

// Start asks the page to begin recognition.
func (b *Browser) Start() error {
	ctx := context.Background()
	p, err := b.source.Peer(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	s := b.settings
	b.mu.Unlock()

	b.attach(p)
	_, err = p.Request(ctx, Frame{
		Type: TypeRecognizerStart,
		Settings: &Settings{
			Lang:            s.Lang,
			Continuous:      s.Continuous,
			InterimResults:  s.InterimResults,
			MaxAlternatives: s.MaxAlternatives,
		},
	})
	return err
}

// Stop asks the page to finish recognition.
func (b *Browser) Stop() error {
	ctx := context.Background()
	p, err := b.source.Peer(ctx)
	if err != nil {
		return err
	}
	_, err = p.Request(ctx, Frame{Type: TypeRecognizerStop})
	return err
}

// attach routes p's recognizer events into the current handlers, replacing
// any earlier peer subscription.
func (b *Browser) attach(p *Peer) {
	removers := []func(){
		p.Subscribe(TypeRecognizerResult, func(f Frame) {
			if h := b.current().OnResult; h != nil {
				h(f.Results)
			}
		}),
		p.Subscribe(TypeRecognizerError, func(f Frame) {
			if h := b.current().OnError; h != nil {
				h(f.Error)
			}
		}),
		p.Subscribe(TypeRecognizerEnd, func(Frame) {
			if h := b.current().OnEnd; h != nil {
				h()
			}
		}),
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-p.Done():
			h := b.current()
			if h.OnError != nil {
				h.OnError("network")
			}
			if h.OnEnd != nil {
				h.OnEnd()
			}
		case <-stop:
		}
	}()

	detach := func() {
		close(stop)
		for _, rm := range removers {
			rm()
		}
	}

	b.mu.Lock()
	prev := b.detach
	b.detach = detach
	b.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (b *Browser) current() recognizer.Handlers {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers
}

// Close detaches from the current peer.
func (b *Browser) Close() {
	b.mu.Lock()
	detach := b.detach
	b.detach = nil
	b.mu.Unlock()
	if detach != nil {
		detach()
	}
}

var _ recognizer.Browser = (*Browser)(nil)
