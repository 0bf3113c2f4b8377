// Package recognizer defines the two platform speech backends voxtutor can
// capture an utterance with.
//
// Both backends are event driven and vendor specific:
//
//   - [Browser] mirrors the in-browser recognizer object: settings, start/stop,
//     and three callback slots (result, error, end). The object is expensive to
//     construct, so callers build it once through a [BrowserFactory] and reuse it.
//   - [Bridge] mirrors the native device-bridge plugin: availability and
//     permission probes, start/stop, and two subscribable event streams
//     (partial results and listening-state changes).
//
// Neither surface settles anything by itself. The recognition controller wraps
// both behind a single cancellable call; see package internal/recognition.
//
// Implementations may invoke callbacks from any goroutine.
package recognizer

import (
	"context"
	"errors"

	"github.com/MrWong99/voxtutor/pkg/types"
)

// ErrNotSupported is returned by a [BrowserFactory] when the platform has no
// browser recognizer.
var ErrNotSupported = errors.New("speech recognition not supported")

// Settings configures a [Browser] before each capture.
type Settings struct {
	// Lang is the BCP-47 recognition language (e.g., "en-US").
	Lang string

	// Continuous keeps the recognizer open across pauses. voxtutor captures a
	// single utterance and always sets this to false.
	Continuous bool

	// InterimResults requests non-final results while the user speaks.
	InterimResults bool

	// MaxAlternatives caps the number of alternatives per result.
	MaxAlternatives int
}

// Handlers are the callback slots of a [Browser]. A nil field detaches that
// slot. Installing a zero Handlers value detaches all of them.
type Handlers struct {
	// OnResult receives the result list of a result event. Each result holds
	// its indexed alternatives.
	OnResult func(results [][]types.Alternative)

	// OnError receives the backend-supplied error code (e.g., "no-speech",
	// "not-allowed", "audio-capture", "network").
	OnError func(code string)

	// OnEnd fires when the recognizer stops capturing, with or without a
	// result. Some recognizers fire it more than once.
	OnEnd func()
}

// Browser is the in-browser recognizer surface.
type Browser interface {
	// Configure applies s. It takes effect on the next Start.
	Configure(s Settings)

	// SetHandlers replaces all callback slots at once.
	SetHandlers(h Handlers)

	// Start begins capturing. It fails synchronously when the recognizer is
	// already running or the page cannot start audio capture.
	Start() error

	// Stop asks the recognizer to finish; the end callback follows.
	Stop() error
}

// BrowserFactory constructs a [Browser]. It returns [ErrNotSupported] when
// the platform does not provide one.
type BrowserFactory func() (Browser, error)

// PermissionState is the result of a microphone permission request.
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionPrompt  PermissionState = "prompt"
)

// ListeningStatus is reported by the bridge's listening-state event.
type ListeningStatus string

const (
	// ListeningStarted fires once the device microphone is open.
	ListeningStarted ListeningStatus = "started"

	// ListeningStopped fires when the device detects end of speech (silence)
	// or capture was stopped. It is the authoritative end-of-utterance signal.
	ListeningStopped ListeningStatus = "stopped"
)

// BridgeConfig configures a native capture.
type BridgeConfig struct {
	// Language is the BCP-47 recognition language.
	Language string

	// MaxResults caps the number of matches per partial-results event.
	MaxResults int

	// PartialResults requests partial-results events while the user speaks.
	PartialResults bool

	// Popup shows the platform's own recognition dialog (Android only).
	Popup bool

	// Prompt is the dialog prompt text when Popup is set.
	Prompt string
}

// Subscription is a registered bridge event listener.
type Subscription interface {
	// Remove detaches the listener. Calling Remove more than once is safe.
	Remove()
}

// SubscriptionFunc adapts a function to [Subscription].
type SubscriptionFunc func()

// Remove calls f.
func (f SubscriptionFunc) Remove() { f() }

// Bridge is the native device-bridge recognizer surface.
type Bridge interface {
	// Available reports whether the device offers speech recognition.
	Available(ctx context.Context) (bool, error)

	// RequestPermissions asks the user for microphone and speech permission.
	RequestPermissions(ctx context.Context) (PermissionState, error)

	// Start opens the microphone and begins recognition.
	Start(ctx context.Context, cfg BridgeConfig) error

	// Stop ends an active capture.
	Stop(ctx context.Context) error

	// OnPartialResults registers fn for partial-results events. matches holds
	// the device's current candidate transcripts, best first.
	OnPartialResults(fn func(matches []string)) Subscription

	// OnListeningState registers fn for listening-state events.
	OnListeningState(fn func(status ListeningStatus)) Subscription
}
