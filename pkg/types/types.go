// Package types defines the shared types used across all voxtutor packages.
//
// These types form the lingua franca between the recognition backends, the
// match classifier, and the evaluation orchestrator. They are intentionally
// minimal: each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

// Alternative is one candidate transcription returned by a recognition backend
// for a single capture attempt. A capture yields an ordered list of
// alternatives; best-first ordering is not guaranteed.
type Alternative struct {
	// Transcript is the recognised text as reported by the backend.
	Transcript string `json:"transcript"`

	// Confidence is the backend's own acoustic confidence (0.0–1.0). Backends
	// that do not report confidence leave it at zero.
	Confidence float64 `json:"confidence"`
}

// MatchType is the tier assigned by the match classifier.
type MatchType string

const (
	// MatchExact means the normalised utterance equals the expected answer.
	MatchExact MatchType = "exact"

	// MatchClose means one spoken token is within the edit-distance threshold
	// of the expected answer.
	MatchClose MatchType = "close"

	// MatchPartial means the expected answer appears as a whole word inside a
	// longer utterance.
	MatchPartial MatchType = "partial"

	// MatchNone means no rule matched.
	MatchNone MatchType = "none"
)

// String returns the tier name.
func (m MatchType) String() string { return string(m) }

// MatchResult is the output of classifying one transcript against an expected
// answer.
//
// Word is empty if and only if MatchType is [MatchNone]. Confidence reflects
// the similarity metric that produced the tier, never the backend's acoustic
// confidence.
type MatchResult struct {
	// Word is the expected answer when a rule matched, otherwise "".
	Word string `json:"word"`

	// Confidence is the match confidence in [0.0, 1.0].
	Confidence float64 `json:"confidence"`

	// Transcript is the raw transcript that was classified.
	Transcript string `json:"transcript"`

	// MatchType is the tier that fired.
	MatchType MatchType `json:"match_type"`
}

// Matched reports whether any rule fired.
func (r MatchResult) Matched() bool { return r.MatchType != MatchNone && r.Word != "" }
