package assignment

import (
	"strconv"

	"github.com/caretrack/competency-hub/internal/domain/shared"
)

// StatusChangedEvent is emitted after a reconciliation write changes an
// assignment's canonical status. Notification fan-out subscribes to it.
type StatusChangedEvent struct {
	shared.BaseEvent
	AssignmentIDNum int64  `json:"assignment_id"`
	AgencyID        string `json:"agency_id"`
	SubjectUserID   string `json:"subject_user_id"`
	OldStatus       Status `json:"old_status"`
	NewStatus       Status `json:"new_status"`
}

// Payload implements shared.Event.
func (e StatusChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"assignment_id":   e.AssignmentIDNum,
		"agency_id":       e.AgencyID,
		"subject_user_id": e.SubjectUserID,
		"old_status":      string(e.OldStatus),
		"new_status":      string(e.NewStatus),
	}
}

// NewStatusChangedEvent creates a StatusChangedEvent.
func NewStatusChangedEvent(a *CompetencyAssignment, oldStatus, newStatus Status) StatusChangedEvent {
	eventType := shared.EventAssignmentStatusChanged
	if newStatus == StatusInvalid {
		eventType = shared.EventAssignmentInvalidated
	}
	return StatusChangedEvent{
		BaseEvent:       shared.NewBaseEvent(eventType, strconv.FormatInt(a.ID, 10)),
		AssignmentIDNum: a.ID,
		AgencyID:        a.AgencyID,
		SubjectUserID:   a.SubjectUserID,
		OldStatus:       oldStatus,
		NewStatus:       newStatus,
	}
}
