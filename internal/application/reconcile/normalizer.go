// Package reconcile implements the reconciliation core: normalizing provider
// verdicts into canonical assignment statuses, detecting real changes through
// the revision log, and applying idempotent status writes.
package reconcile

import (
	"strings"

	"github.com/caretrack/competency-hub/internal/domain/assignment"
	"github.com/caretrack/competency-hub/internal/domain/shared"
)

// Classify maps a free-text provider status plus the assignment's attempt
// history onto the canonical state machine.
//
// Providers embed qualifiers in the status text ("Invalid (face mismatch)"),
// so classification is a word-boundary match against "invalid" and "valid"
// rather than an exact enum. "invalid" contains "valid" as a substring, so the
// invalid check runs first and wins if both somehow match.
//
// A "valid" verdict resolves through the score history: the latest attempt's
// recorded status is the canonical state. With no attempts at all the
// assignment is still in progress. A "valid" verdict with attempts used but no
// usable history entry yields shared.ErrNoVerdict: no update is computable,
// which callers must treat as a skip rather than a failure.
func Classify(raw string, attemptsUsed int, history assignment.ScoreHistory) (assignment.Status, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))

	switch {
	case containsWord(normalized, "invalid"):
		return assignment.StatusInvalid, nil

	case containsWord(normalized, "valid"):
		if latest, ok := history.Latest(); ok && latest.AssignmentStatus != "" {
			status, err := assignment.ParseStatus(latest.AssignmentStatus)
			if err != nil {
				return "", shared.WrapError("assignment", "Classify", shared.ErrInvalidState,
					"score history carries unknown status "+latest.AssignmentStatus, err)
			}
			return status, nil
		}
		if attemptsUsed == 0 {
			return assignment.StatusInProgress, nil
		}
		return "", shared.ErrNoVerdict

	default:
		return "", shared.ErrUnrecognizedProviderStatus
	}
}

// containsWord reports whether token appears in s as a whole word: the entire
// string, or bounded by spaces on the side(s) where s continues.
func containsWord(s, token string) bool {
	if s == token {
		return true
	}
	if strings.HasPrefix(s, token+" ") || strings.HasSuffix(s, " "+token) {
		return true
	}
	return strings.Contains(s, " "+token+" ")
}
