// Package match scores a transcribed utterance against the expected answer of a
// lesson question and classifies the result into a match tier.
//
// Classification applies four rules in order; the first that fires wins:
//
//  1. Exact: the normalised utterance equals the normalised expected answer.
//  2. Partial: the expected answer appears as a whole word (or whole phrase)
//     inside a longer utterance, e.g. "I said hello there" for "hello".
//  3. Close: some whitespace-delimited token of the utterance has an
//     edit-distance [Similarity] of at least the close threshold (default 0.85)
//     to the expected answer. This absorbs mispronunciations and transcription
//     noise from the backend.
//  4. None: nothing matched.
//
// The classifier only assigns tiers. Turning a confidence into an action
// (accept, confirm, reject) is the evaluation orchestrator's job.
package match

import (
	"strings"
	"unicode"

	"github.com/MrWong99/voxtutor/pkg/types"
)

const (
	defaultCloseThreshold    = 0.85
	defaultPartialConfidence = 0.9
)

// Option is a functional option for configuring a [Classifier].
type Option func(*Classifier)

// WithCloseThreshold sets the minimum token [Similarity] for a close match.
// Default: 0.85.
func WithCloseThreshold(threshold float64) Option {
	return func(c *Classifier) {
		c.closeThreshold = threshold
	}
}

// WithPartialConfidence sets the confidence reported for partial matches.
// Default: 0.9.
func WithPartialConfidence(confidence float64) Option {
	return func(c *Classifier) {
		c.partialConfidence = confidence
	}
}

// Classifier classifies transcripts against an expected answer. All methods are
// safe for concurrent use. The Classifier is read-only after construction.
type Classifier struct {
	closeThreshold    float64
	partialConfidence float64
}

// New returns a [Classifier] configured with the supplied options.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		closeThreshold:    defaultCloseThreshold,
		partialConfidence: defaultPartialConfidence,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CloseThreshold returns the configured close-match threshold.
func (c *Classifier) CloseThreshold() float64 { return c.closeThreshold }

// MatchWord classifies a single spoken transcript against expected.
//
// The returned result carries expected verbatim in Word when any rule fires, so
// callers get the canonical spelling back rather than the recogniser's. When no
// rule fires, Word is "" and Confidence is 0. An expected answer that normalises
// to the empty string never matches.
func (c *Classifier) MatchWord(spoken, expected string) types.MatchResult {
	none := types.MatchResult{Transcript: spoken, MatchType: types.MatchNone}

	spokenClean := Normalize(spoken)
	expectedClean := Normalize(expected)
	if expectedClean == "" {
		return none
	}

	if spokenClean == expectedClean {
		return types.MatchResult{Word: expected, Confidence: 1.0, Transcript: spoken, MatchType: types.MatchExact}
	}

	if containsWord(spokenClean, expectedClean) {
		return types.MatchResult{Word: expected, Confidence: c.partialConfidence, Transcript: spoken, MatchType: types.MatchPartial}
	}

	best := 0.0
	for _, token := range strings.Fields(spokenClean) {
		if s := Similarity(token, expectedClean); s > best {
			best = s
		}
	}
	if best >= c.closeThreshold {
		return types.MatchResult{Word: expected, Confidence: best, Transcript: spoken, MatchType: types.MatchClose}
	}

	return none
}

// Best classifies every alternative against expected and returns the matching
// result with the highest confidence. Ties keep the first alternative found.
//
// When no alternative matches, the returned result has MatchType none and the
// transcript of the first alternative, so callers can echo what was heard.
func (c *Classifier) Best(alts []types.Alternative, expected string) types.MatchResult {
	var (
		best  types.MatchResult
		found bool
	)
	for _, alt := range alts {
		r := c.MatchWord(alt.Transcript, expected)
		if !r.Matched() {
			continue
		}
		if !found || r.Confidence > best.Confidence {
			best = r
			found = true
		}
	}
	if found {
		return best
	}

	heard := ""
	if len(alts) > 0 {
		heard = alts[0].Transcript
	}
	return types.MatchResult{Transcript: heard, MatchType: types.MatchNone}
}

// Normalize lower-cases s, removes every rune that is not a letter, digit,
// underscore, or whitespace, and collapses runs of whitespace into a single
// space. The result has no leading or trailing space.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// containsWord reports whether needle occurs in haystack bounded on both sides
// by a space or the string edge. Both arguments must already be normalised.
func containsWord(haystack, needle string) bool {
	for offset := 0; offset < len(haystack); {
		i := strings.Index(haystack[offset:], needle)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(needle)
		leftOK := start == 0 || haystack[start-1] == ' '
		rightOK := end == len(haystack) || haystack[end] == ' '
		if leftOK && rightOK {
			return true
		}
		offset = start + 1
	}
	return false
}
