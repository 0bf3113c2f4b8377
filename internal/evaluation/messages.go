package evaluation

import (
	"errors"
	"fmt"

	"github.com/MrWong99/voxtutor/internal/recognition"
)

const (
	msgListening       = "Listening... Speak now!"
	msgConfirmRejected = "Try saying the word again or type it instead."
	msgNotSupported    = "Speech recognition is not supported here. Please type your answer."
	msgPermission      = "Microphone access denied. Please enable it or type your answer."
	msgNoSpeech        = "No speech detected. Speak louder or type your answer."
	msgDevice          = "Microphone not working. Please type your answer."
	msgStartFailed     = "Failed to start microphone. Please type your answer."
	msgDidNotCatch     = "Didn't catch that. Try again or type your answer."
)

func acceptedMessage(heard string) string {
	return fmt.Sprintf("Perfect! You said %q", heard)
}

func confirmMessage(expected string) string {
	return fmt.Sprintf("Did you say %q?", expected)
}

func confirmedMessage(word string) string {
	return fmt.Sprintf("Correct! You said %q", word)
}

func rejectedMessage(heard string) string {
	return fmt.Sprintf("I heard %q. Try again or type the answer.", heard)
}

func noMatchMessage(heard, expected string) string {
	if heard == "" {
		heard = "nothing"
	}
	return fmt.Sprintf("I heard %q. Expected %q. Try again or type it!", heard, expected)
}

func retryLimitMessage(failures int) string {
	return fmt.Sprintf("Still not recognized after %d tries. Please type your answer.", failures)
}

// errorMessage picks the learner-facing text for a failed capture.
func errorMessage(err error) string {
	var be *recognition.BackendError
	isBackend := errors.As(err, &be)
	switch {
	case errors.Is(err, recognition.ErrNotSupported):
		return msgNotSupported
	case errors.Is(err, recognition.ErrPermissionDenied):
		return msgPermission
	case isBackend && be.Code == recognition.CodeStartFailed:
		return msgStartFailed
	case errors.Is(err, recognition.ErrDeviceUnavailable):
		return msgDevice
	case isBackend && errors.Is(err, recognition.ErrNoSpeech):
		return msgNoSpeech
	default:
		return msgDidNotCatch
	}
}

// endedWithoutSpeech reports whether capture simply ended with nothing heard,
// as opposed to the backend reporting a no-speech error.
func endedWithoutSpeech(err error) bool {
	var be *recognition.BackendError
	return errors.Is(err, recognition.ErrNoSpeech) && !errors.As(err, &be)
}
