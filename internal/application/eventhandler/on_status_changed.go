// Package eventhandler contains domain event handlers.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/caretrack/competency-hub/internal/application/notify"
	"github.com/caretrack/competency-hub/internal/application/reconcile"
	"github.com/caretrack/competency-hub/internal/domain/agency"
	"github.com/caretrack/competency-hub/internal/domain/assignment"
	"github.com/caretrack/competency-hub/internal/domain/notification"
	"github.com/caretrack/competency-hub/internal/domain/revision"
	"github.com/caretrack/competency-hub/internal/domain/shared"
)

// OnStatusChangedHandler reacts to assignment status transitions by resolving
// recipients and fanning out notifications.
//
// The revision log is re-checked before dispatch so a replayed event (the bus
// is at-least-once) cannot produce a second round of mail for the same
// transition.
type OnStatusChangedHandler struct {
	assignments assignment.Repository
	detector    *reconcile.Detector
	resolver    *notify.Resolver
	dispatcher  *notify.Dispatcher
	logger      *slog.Logger
}

// NewOnStatusChangedHandler creates the handler.
func NewOnStatusChangedHandler(
	assignments assignment.Repository,
	detector *reconcile.Detector,
	resolver *notify.Resolver,
	dispatcher *notify.Dispatcher,
	logger *slog.Logger,
) *OnStatusChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnStatusChangedHandler{
		assignments: assignments,
		detector:    detector,
		resolver:    resolver,
		dispatcher:  dispatcher,
		logger:      logger.With("handler", "on_status_changed"),
	}
}

// EventTypes returns the event types this handler subscribes to.
func (h *OnStatusChangedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventAssignmentStatusChanged,
		shared.EventAssignmentInvalidated,
	}
}

// Handle implements shared.EventHandler semantics for status change events.
func (h *OnStatusChangedHandler) Handle(ctx context.Context, event shared.Event) error {
	statusEvent, ok := event.(assignment.StatusChangedEvent)
	if !ok {
		h.logger.Warn("received unexpected event type", "event_type", event.EventType())
		return nil
	}

	eventKey := eventKeyFor(statusEvent.NewStatus)
	if eventKey == "" {
		// Transitions back into IN_PROGRESS carry no notification.
		return nil
	}

	a, err := h.assignments.FindByID(ctx, statusEvent.AssignmentIDNum)
	if err != nil {
		return fmt.Errorf("load assignment %d: %w", statusEvent.AssignmentIDNum, err)
	}

	// Confirm against the revision log that this transition just happened.
	// A replayed or stale event finds no fresh change and is dropped here.
	itemID := strconv.FormatInt(a.ID, 10)
	transitioned, err := h.detector.MatchesPattern(ctx, revision.CollectionAssignments, itemID, map[string]reconcile.Predicate{
		"status": reconcile.Equals(string(statusEvent.NewStatus)),
	})
	if shared.IsIntegrityGap(err) {
		h.logger.Debug("assignment has no revision history, skipping notification",
			"assignment_id", a.ID,
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("check transition for assignment %d: %w", a.ID, err)
	}
	if !transitioned {
		h.logger.Debug("transition already notified, dropping replayed event",
			"assignment_id", a.ID,
			"new_status", statusEvent.NewStatus,
		)
		return nil
	}

	recipients, err := h.resolver.Resolve(ctx, a, eventKey)
	if err != nil {
		return fmt.Errorf("resolve recipients for assignment %d: %w", a.ID, err)
	}
	if len(recipients) == 0 {
		return nil
	}

	message := notification.Message{
		EventKey:      eventKey,
		AssignmentID:  a.ID,
		SubjectUserID: a.SubjectUserID,
		AgencyID:      a.AgencyID,
		OldStatus:     string(statusEvent.OldStatus),
		NewStatus:     string(statusEvent.NewStatus),
		FinalAttempt:  a.OnFinalAttempt(),
		OccurredAt:    statusEvent.OccurredAt(),
	}

	results := h.dispatcher.Dispatch(ctx, recipients, message)
	delivered := 0
	for _, result := range results {
		if result.Delivered() {
			delivered++
		}
	}
	h.logger.Info("status change notifications dispatched",
		"assignment_id", a.ID,
		"event", eventKey,
		"recipients", len(recipients),
		"delivered", delivered,
	)
	return nil
}

// eventKeyFor maps a canonical status to the preference event key it
// triggers. Non-terminal statuses trigger nothing.
func eventKeyFor(status assignment.Status) string {
	switch status {
	case assignment.StatusInvalid:
		return agency.EventInvalidEmail
	case assignment.StatusCompleted, assignment.StatusFailed, assignment.StatusFailedTimedOut:
		return agency.EventExamCompletion
	default:
		return ""
	}
}
