// Package assignment contains the competency assignment domain model: the
// canonical status machine, score history rules, and repository contracts.
package assignment

import (
	"time"

	"github.com/caretrack/competency-hub/internal/domain/shared"
)

// Status is the canonical competency state of an assignment.
type Status string

const (
	// StatusInProgress is the only non-terminal state.
	StatusInProgress Status = "IN_PROGRESS"

	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
	StatusFailedTimedOut Status = "FAILED_TIMED_OUT"

	// StatusInvalid marks a proctoring session retroactively flagged by the
	// provider. Reachable from any non-terminal state.
	StatusInvalid Status = "INVALID"
)

// ParseStatus validates a raw status string against the canonical set.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusInProgress, StatusCompleted, StatusFailed, StatusFailedTimedOut, StatusInvalid:
		return Status(s), nil
	}
	return "", shared.ErrUnknownStatus
}

// IsTerminal reports whether no further provider verdict can move the status.
func (s Status) IsTerminal() bool {
	return s != StatusInProgress
}

// Kind is the flavor of competency item the assignment instantiates.
type Kind string

const (
	KindExam      Kind = "exam"
	KindChecklist Kind = "skills_checklist"
	KindPolicy    Kind = "policy"
	KindModule    Kind = "module"
)

// AttemptRecord is one entry of an assignment's score history. List order is
// not attempt order; the latest attempt is the entry with the maximum Attempt
// value, never the last element.
type AttemptRecord struct {
	Attempt          int     `json:"attempt"`
	AssignmentStatus string  `json:"assignment_status"`
	Score            float64 `json:"score"`
	ScoreStatus      string  `json:"score_status,omitempty"`
}

// ScoreHistory is the ordered-by-insertion list of attempt records.
type ScoreHistory []AttemptRecord

// Latest returns the record with the maximum attempt number, or false when
// the history is empty.
func (h ScoreHistory) Latest() (AttemptRecord, bool) {
	if len(h) == 0 {
		return AttemptRecord{}, false
	}
	latest := h[0]
	for _, rec := range h[1:] {
		if rec.Attempt > latest.Attempt {
			latest = rec
		}
	}
	return latest, true
}

// CompetencyAssignment is a clinician's instance of a competency item.
type CompetencyAssignment struct {
	ID               int64
	SubjectUserID    string
	AgencyID         string
	ExamDefinitionID string
	Kind             Kind
	Proctored        bool
	Status           Status
	AttemptsUsed     int
	AllowedAttempts  int
	Score            *float64
	ScoreHistory     ScoreHistory
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OnFinalAttempt reports whether the subject has used every allowed attempt.
// Used to gate "_after_final_attempt" notification preferences.
func (a *CompetencyAssignment) OnFinalAttempt() bool {
	return a.AllowedAttempts > 0 && a.AttemptsUsed >= a.AllowedAttempts
}
