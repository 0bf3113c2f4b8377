package wsrelay

import (
	"context"

	"github.com/MrWong99/voxtutor/internal/audiogate"
)

// AudioContext relays the page's audio context. It implements
// [audiogate.AudioContext].
type AudioContext struct {
	source PeerSource
}

// NewAudioContext creates an [AudioContext] talking to the peer from source.
func NewAudioContext(source PeerSource) *AudioContext {
	return &AudioContext{source: source}
}

// AudioFactory returns an [audiogate.Factory] producing a relayed context.
func AudioFactory(source PeerSource) audiogate.Factory {
	return func(context.Context) (audiogate.AudioContext, error) {
		return NewAudioContext(source), nil
	}
}

// State asks the page for the audio context state.
func (a *AudioContext) State(ctx context.Context) (audiogate.State, error) {
	p, err := a.source.Peer(ctx)
	if err != nil {
		return "", err
	}
	reply, err := p.Request(ctx, Frame{Type: TypeAudioState})
	if err != nil {
		return "", err
	}
	return audiogate.State(reply.State), nil
}

// Resume asks the page to resume a suspended audio context.
func (a *AudioContext) Resume(ctx context.Context) error {
	p, err := a.source.Peer(ctx)
	if err != nil {
		return err
	}
	_, err = p.Request(ctx, Frame{Type: TypeAudioResume})
	return err
}

var _ audiogate.AudioContext = (*AudioContext)(nil)
