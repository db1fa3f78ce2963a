package assignment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreHistoryLatestIgnoresListOrder(t *testing.T) {
	history := ScoreHistory{
		{Attempt: 1, AssignmentStatus: "COMPLETED", Score: 80},
		{Attempt: 3, AssignmentStatus: "FAILED", Score: 40},
		{Attempt: 2, AssignmentStatus: "COMPLETED", Score: 90},
	}

	latest, ok := history.Latest()
	assert.True(t, ok)
	assert.Equal(t, 3, latest.Attempt)
	assert.Equal(t, "FAILED", latest.AssignmentStatus)
}

func TestScoreHistoryLatestEmpty(t *testing.T) {
	_, ok := ScoreHistory{}.Latest()
	assert.False(t, ok)
}

func TestParseStatus(t *testing.T) {
	for _, valid := range []string{"IN_PROGRESS", "COMPLETED", "FAILED", "FAILED_TIMED_OUT", "INVALID"} {
		s, err := ParseStatus(valid)
		assert.NoError(t, err)
		assert.Equal(t, Status(valid), s)
	}

	_, err := ParseStatus("PENDING")
	assert.Error(t, err)
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusInProgress.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusFailedTimedOut.IsTerminal())
	assert.True(t, StatusInvalid.IsTerminal())
}

func TestOnFinalAttempt(t *testing.T) {
	a := &CompetencyAssignment{AttemptsUsed: 2, AllowedAttempts: 3}
	assert.False(t, a.OnFinalAttempt())

	a.AttemptsUsed = 3
	assert.True(t, a.OnFinalAttempt())

	// Unlimited attempts are modelled as zero allowed attempts.
	unlimited := &CompetencyAssignment{AttemptsUsed: 5, AllowedAttempts: 0}
	assert.False(t, unlimited.OnFinalAttempt())
}
