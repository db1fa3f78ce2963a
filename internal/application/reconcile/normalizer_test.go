package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/caretrack/competency-hub/internal/domain/assignment"
	"github.com/caretrack/competency-hub/internal/domain/shared"
)

func TestClassifyInvalid(t *testing.T) {
	cases := []string{
		"INVALID (face mismatch)",
		"invalid",
		"  Invalid  ",
		"session invalid",
		"flagged invalid by reviewer",
	}
	for _, raw := range cases {
		status, err := Classify(raw, 1, assignment.ScoreHistory{{Attempt: 1, AssignmentStatus: "COMPLETED"}})
		assert.NoError(t, err, "input %q", raw)
		assert.Equal(t, assignment.StatusInvalid, status, "input %q", raw)
	}
}

func TestClassifyInvalidWinsOverValid(t *testing.T) {
	// Both tokens present as words: invalid has priority.
	status, err := Classify("valid then invalid", 1, nil)
	assert.NoError(t, err)
	assert.Equal(t, assignment.StatusInvalid, status)
}

func TestClassifyValidUsesLatestAttempt(t *testing.T) {
	history := assignment.ScoreHistory{
		{Attempt: 1, AssignmentStatus: "COMPLETED"},
		{Attempt: 3, AssignmentStatus: "FAILED"},
		{Attempt: 2, AssignmentStatus: "COMPLETED"},
	}

	status, err := Classify("Valid", 3, history)
	assert.NoError(t, err)
	assert.Equal(t, assignment.StatusFailed, status)
}

func TestClassifyValidCompleted(t *testing.T) {
	history := assignment.ScoreHistory{{Attempt: 1, AssignmentStatus: "COMPLETED"}}

	status, err := Classify("Valid", 1, history)
	assert.NoError(t, err)
	assert.Equal(t, assignment.StatusCompleted, status)
}

func TestClassifyValidNoAttempts(t *testing.T) {
	status, err := Classify("Valid", 0, assignment.ScoreHistory{})
	assert.NoError(t, err)
	assert.Equal(t, assignment.StatusInProgress, status)
}

func TestClassifyValidNoUsableHistory(t *testing.T) {
	// Attempts were used but the history carries no status: no update is
	// computable, surfaced as ErrNoVerdict rather than a hard failure.
	_, err := Classify("Valid", 2, assignment.ScoreHistory{})
	assert.ErrorIs(t, err, shared.ErrNoVerdict)

	_, err = Classify("Valid", 2, assignment.ScoreHistory{{Attempt: 2}})
	assert.ErrorIs(t, err, shared.ErrNoVerdict)
}

func TestClassifyUnrecognized(t *testing.T) {
	for _, raw := range []string{"pending", "", "validation", "invalidated", "in review"} {
		_, err := Classify(raw, 1, nil)
		assert.ErrorIs(t, err, shared.ErrUnrecognizedProviderStatus, "input %q", raw)
	}
}

func TestClassifyRejectsUnknownHistoryStatus(t *testing.T) {
	_, err := Classify("Valid", 1, assignment.ScoreHistory{{Attempt: 1, AssignmentStatus: "MAYBE"}})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrNoVerdict)
}
