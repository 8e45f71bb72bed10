package validator

import (
	"strings"

	"github.com/questline/api/internal/model"
)

// Normalize prepares a typed answer for comparison: whitespace trimmed,
// lowercased. No fuzzy matching beyond that.
func Normalize(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

// MatchAnswer checks a submitted answer against a challenge's accepted
// answers. The stored field may hold several variants separated by
// model.AnswerDelimiter; each variant is normalized the same way as the
// submission.
func MatchAnswer(accepted, submitted string) bool {
	normalized := Normalize(submitted)
	if normalized == "" {
		return false
	}

	for _, variant := range strings.Split(accepted, model.AnswerDelimiter) {
		if Normalize(variant) == normalized {
			return true
		}
	}
	return false
}
