// Package mock provides test doubles for the recognizer package interfaces.
//
// Browser and Bridge record every call and let tests drive backend events by
// hand. Use the OnStart hooks to script events that a real backend would emit
// after capture begins:
//
//	b := &mock.Browser{
//	    OnStart: func(b *mock.Browser) {
//	        go func() {
//	            b.EmitAlternatives(types.Alternative{Transcript: "banana", Confidence: 0.9})
//	            b.EmitEnd()
//	        }()
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxtutor/pkg/provider/recognizer"
	"github.com/MrWong99/voxtutor/pkg/types"
)

// Browser is a mock implementation of recognizer.Browser.
type Browser struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by every Start call.
	StartErr error

	// StopErr, if non-nil, is returned by every Stop call.
	StopErr error

	// OnStart, if non-nil, is called after every successful Start, outside the
	// mock's lock.
	OnStart func(b *Browser)

	// OnStop, if non-nil, is called after every Stop, outside the mock's lock.
	OnStop func(b *Browser)

	// --- Call records ---

	// ConfigureCalls records every Settings value passed to Configure.
	ConfigureCalls []recognizer.Settings

	// StartCallCount is the number of times Start was called.
	StartCallCount int

	// StopCallCount is the number of times Stop was called.
	StopCallCount int

	handlers recognizer.Handlers
}

// Configure records the call.
func (b *Browser) Configure(s recognizer.Settings) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ConfigureCalls = append(b.ConfigureCalls, s)
}

// SetHandlers replaces the installed handlers.
func (b *Browser) SetHandlers(h recognizer.Handlers) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = h
}

// Start records the call and returns StartErr.
func (b *Browser) Start() error {
	b.mu.Lock()
	b.StartCallCount++
	err := b.StartErr
	hook := b.OnStart
	b.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook(b)
	}
	return nil
}

// Stop records the call and returns StopErr.
func (b *Browser) Stop() error {
	b.mu.Lock()
	b.StopCallCount++
	err := b.StopErr
	hook := b.OnStop
	b.mu.Unlock()

	if hook != nil {
		hook(b)
	}
	return err
}

// EmitResult invokes the installed result handler, if any.
func (b *Browser) EmitResult(results ...[]types.Alternative) {
	b.mu.Lock()
	fn := b.handlers.OnResult
	b.mu.Unlock()
	if fn != nil {
		fn(results)
	}
}

// EmitAlternatives emits a single result holding alts.
func (b *Browser) EmitAlternatives(alts ...types.Alternative) {
	b.EmitResult(alts)
}

// EmitError invokes the installed error handler, if any.
func (b *Browser) EmitError(code string) {
	b.mu.Lock()
	fn := b.handlers.OnError
	b.mu.Unlock()
	if fn != nil {
		fn(code)
	}
}

// EmitEnd invokes the installed end handler, if any.
func (b *Browser) EmitEnd() {
	b.mu.Lock()
	fn := b.handlers.OnEnd
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// HandlersAttached reports whether any callback slot is populated.
func (b *Browser) HandlersAttached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers.OnResult != nil || b.handlers.OnError != nil || b.handlers.OnEnd != nil
}

// Starts returns StartCallCount. Thread-safe.
func (b *Browser) Starts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.StartCallCount
}

// Stops returns StopCallCount. Thread-safe.
func (b *Browser) Stops() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.StopCallCount
}

// Ensure Browser implements recognizer.Browser at compile time.
var _ recognizer.Browser = (*Browser)(nil)

// Bridge is a mock implementation of recognizer.Bridge.
type Bridge struct {
	mu sync.Mutex

	// Unavailable makes Available report false.
	Unavailable bool

	// AvailableErr, if non-nil, is returned by Available.
	AvailableErr error

	// Permission is returned by RequestPermissions. The zero value reports
	// recognizer.PermissionGranted.
	Permission recognizer.PermissionState

	// PermissionErr, if non-nil, is returned by RequestPermissions.
	PermissionErr error

	// StartErr, if non-nil, is returned by every Start call.
	StartErr error

	// StopErr, if non-nil, is returned by every Stop call.
	StopErr error

	// OnStart, if non-nil, is called after every successful Start, outside the
	// mock's lock.
	OnStart func(b *Bridge)

	// OnStop, if non-nil, is called after every Stop, outside the mock's lock.
	OnStop func(b *Bridge)

	// --- Call records ---

	// StartCalls records the BridgeConfig of every Start call.
	StartCalls []recognizer.BridgeConfig

	// StopCallCount is the number of times Stop was called.
	StopCallCount int

	// AvailableCallCount is the number of times Available was called.
	AvailableCallCount int

	// PermissionCallCount is the number of times RequestPermissions was called.
	PermissionCallCount int

	nextID   int
	partials map[int]func([]string)
	states   map[int]func(recognizer.ListeningStatus)
}

// Available records the call and reports !Unavailable.
func (b *Bridge) Available(_ context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.AvailableCallCount++
	if b.AvailableErr != nil {
		return false, b.AvailableErr
	}
	return !b.Unavailable, nil
}

// RequestPermissions records the call and returns Permission.
func (b *Bridge) RequestPermissions(_ context.Context) (recognizer.PermissionState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.PermissionCallCount++
	if b.PermissionErr != nil {
		return "", b.PermissionErr
	}
	if b.Permission == "" {
		return recognizer.PermissionGranted, nil
	}
	return b.Permission, nil
}

// Start records the call and returns StartErr.
func (b *Bridge) Start(_ context.Context, cfg recognizer.BridgeConfig) error {
	b.mu.Lock()
	b.StartCalls = append(b.StartCalls, cfg)
	err := b.StartErr
	hook := b.OnStart
	b.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook(b)
	}
	return nil
}

// Stop records the call and returns StopErr.
func (b *Bridge) Stop(_ context.Context) error {
	b.mu.Lock()
	b.StopCallCount++
	err := b.StopErr
	hook := b.OnStop
	b.mu.Unlock()

	if hook != nil {
		hook(b)
	}
	return err
}

// OnPartialResults registers fn.
func (b *Bridge) OnPartialResults(fn func(matches []string)) recognizer.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.partials == nil {
		b.partials = make(map[int]func([]string))
	}
	id := b.nextID
	b.nextID++
	b.partials[id] = fn
	return recognizer.SubscriptionFunc(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.partials, id)
	})
}

// OnListeningState registers fn.
func (b *Bridge) OnListeningState(fn func(status recognizer.ListeningStatus)) recognizer.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.states == nil {
		b.states = make(map[int]func(recognizer.ListeningStatus))
	}
	id := b.nextID
	b.nextID++
	b.states[id] = fn
	return recognizer.SubscriptionFunc(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.states, id)
	})
}

// EmitPartialResults delivers matches to every registered partial-results
// listener.
func (b *Bridge) EmitPartialResults(matches ...string) {
	b.mu.Lock()
	fns := make([]func([]string), 0, len(b.partials))
	for _, fn := range b.partials {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(matches)
	}
}

// EmitListeningState delivers status to every registered listening-state
// listener.
func (b *Bridge) EmitListeningState(status recognizer.ListeningStatus) {
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

// ListenerCount returns the number of registered listeners across both event
// streams. Thread-safe.
func (b *Bridge) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.partials) + len(b.states)
}

// Starts returns the number of Start calls. Thread-safe.
func (b *Bridge) Starts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.StartCalls)
}

// Stops returns StopCallCount. Thread-safe.
func (b *Bridge) Stops() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.StopCallCount
}

// Ensure Bridge implements recognizer.Bridge at compile time.
var _ recognizer.Bridge = (*Bridge)(nil)
