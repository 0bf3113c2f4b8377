package recognition

import (
	"errors"
	"fmt"

	"github.com/MrWong99/voxtutor/pkg/provider/recognizer"
)

// Error vocabulary shared by both backends. Callers should test with
// [errors.Is]; backend-specific failures arrive as *[BackendError].
var (
	// ErrNotSupported means no backend is available on this platform.
	ErrNotSupported = recognizer.ErrNotSupported

	// ErrNoSpeech means capture ended without a non-blank transcript.
	ErrNoSpeech = errors.New("no-speech")

	// ErrAborted means the caller cancelled the run. The returned error also
	// wraps the context cause.
	ErrAborted = errors.New("aborted")

	// ErrBusy means another run is still in flight on the same controller.
	ErrBusy = errors.New("recognition: a run is already in progress")

	// ErrPermissionDenied matches backend errors caused by a refused
	// microphone or speech permission.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrDeviceUnavailable matches backend errors caused by missing or
	// broken capture hardware.
	ErrDeviceUnavailable = errors.New("device unavailable")
)

// Backend error codes produced by the controller itself. Browser recognizers
// report their own codes verbatim.
const (
	CodeNotAllowed  = "not-allowed"
	CodeUnavailable = "unavailable"
	CodeStartFailed = "start-failed"
	CodeNoSpeech    = "no-speech"
)

// BackendError is a failure reported by (or while talking to) a backend.
type BackendError struct {
	// Code is the backend-supplied cause, e.g. "network" or "audio-capture".
	Code string

	// Err is the underlying error, if any.
	Err error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend-error: %s: %v", e.Code, e.Err)
	}
	return "backend-error: " + e.Code
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is folds well-known backend codes into the portable sentinels so callers can
// branch on cause without knowing either backend's vocabulary.
func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrPermissionDenied:
		return e.Code == CodeNotAllowed || e.Code == "permission-denied" || e.Code == "service-not-allowed"
	case ErrDeviceUnavailable:
		return e.Code == "audio-capture" || e.Code == CodeUnavailable
	case ErrNoSpeech:
		return e.Code == CodeNoSpeech
	}
	return false
}

// Outcome returns the short outcome label used in metrics and logs for err.
func Outcome(err error) string {
	var be *BackendError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrAborted):
		return "aborted"
	case errors.Is(err, ErrNotSupported):
		return "not-supported"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrNoSpeech):
		return "no-speech"
	case errors.As(err, &be):
		return "backend-error"
	default:
		return "error"
	}
}
