package evaluation

import "github.com/MrWong99/voxtutor/pkg/types"

// Default decision thresholds.
const (
	DefaultAutoAccept = 0.95
	DefaultConfirm    = 0.75
)

// Decision is the action taken for a classified utterance.
type Decision string

const (
	// DecisionAccept accepts the word without asking.
	DecisionAccept Decision = "auto-accept"

	// DecisionConfirm asks the learner to confirm the suggested word.
	DecisionConfirm Decision = "confirm"

	// DecisionReject matched with too little confidence; the learner retries.
	DecisionReject Decision = "reject"

	// DecisionNoMatch did not match the expected word at all.
	DecisionNoMatch Decision = "no-match"
)

// Tiers holds the confidence thresholds that map a match to a [Decision].
type Tiers struct {
	// AutoAccept is the inclusive lower bound for [DecisionAccept].
	AutoAccept float64

	// Confirm is the inclusive lower bound for [DecisionConfirm].
	Confirm float64
}

// DefaultTiers returns the production thresholds.
func DefaultTiers() Tiers {
	return Tiers{AutoAccept: DefaultAutoAccept, Confirm: DefaultConfirm}
}

// Decide maps r to an action.
func (t Tiers) Decide(r types.MatchResult) Decision {
	switch {
	case !r.Matched():
		return DecisionNoMatch
	case r.Confidence >= t.AutoAccept:
		return DecisionAccept
	case r.Confidence >= t.Confirm:
		return DecisionConfirm
	default:
		return DecisionReject
	}
}
