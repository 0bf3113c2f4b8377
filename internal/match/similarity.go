package match

import (
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Similarity returns the normalised edit-distance similarity of a and b in
// [0.0, 1.0]:
//
//	(max(len(a), len(b)) - levenshtein(a, b)) / max(len(a), len(b))
//
// Lengths are counted in runes and every insertion, deletion, and substitution
// costs one. Two empty strings are identical and score 1.0.
//
// Similarity is case- and punctuation-sensitive; callers normalise first (see
// [Normalize]). It is symmetric, deterministic, and safe for concurrent use.
func Similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1.0
	}
	dist := matchr.Levenshtein(a, b)
	return float64(longest-dist) / float64(longest)
}
