package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/caretrack/competency-hub/internal/domain/assignment"
	"github.com/caretrack/competency-hub/internal/domain/revision"
	"github.com/caretrack/competency-hub/internal/domain/shared"
)

// Outcome describes what applying a provider verdict did.
type Outcome string

const (
	// OutcomeUpdated means the canonical status was written.
	OutcomeUpdated Outcome = "updated"

	// OutcomeUnchanged means the record already reflected the verdict; no
	// write was performed.
	OutcomeUnchanged Outcome = "unchanged"

	// OutcomeNoVerdict means no deterministic status could be computed from
	// the provider response; the item is left as-is.
	OutcomeNoVerdict Outcome = "no_verdict"

	// OutcomeLegacyGap means the item lacks the revision history needed for
	// the idempotency check (legacy import); reconciliation skipped it.
	OutcomeLegacyGap Outcome = "legacy_gap"
)

// Engine applies a provider verdict to an assignment. The webhook receiver
// and the polling job share it so both paths have identical idempotency and
// event semantics.
type Engine struct {
	assignments assignment.Repository
	detector    *Detector
	events      shared.EventPublisher
	logger      *slog.Logger
}

// NewEngine creates a reconciliation engine.
func NewEngine(assignments assignment.Repository, detector *Detector, events shared.EventPublisher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		assignments: assignments,
		detector:    detector,
		events:      events,
		logger:      logger,
	}
}

// ApplyProviderStatus classifies rawStatus and writes the resulting canonical
// status if, and only if, it would actually change the record. A successful
// write publishes a status-changed event; event publication failures are
// logged and never roll back the write.
func (e *Engine) ApplyProviderStatus(ctx context.Context, a *assignment.CompetencyAssignment, rawStatus string) (Outcome, error) {
	next, err := Classify(rawStatus, a.AttemptsUsed, a.ScoreHistory)
	if errors.Is(err, shared.ErrNoVerdict) {
		e.logger.Debug("no deterministic verdict for assignment",
			"assignment_id", a.ID,
			"provider_status", rawStatus,
		)
		return OutcomeNoVerdict, nil
	}
	if err != nil {
		return "", err
	}

	if a.Status == next {
		return OutcomeUnchanged, nil
	}

	itemID := strconv.FormatInt(a.ID, 10)
	alreadyApplied, err := e.detector.FieldChangedTo(ctx, revision.CollectionAssignments, itemID, "status", string(next))
	switch {
	case shared.IsIntegrityGap(err):
		// Legacy-imported record with a single snapshot: expected, not an
		// error. Skip rather than risk a duplicate notification.
		e.logger.Debug("assignment has no previous revision, skipping",
			"assignment_id", a.ID,
		)
		return OutcomeLegacyGap, nil
	case err != nil:
		return "", err
	case alreadyApplied:
		return OutcomeUnchanged, nil
	}

	previous := a.Status
	if err := e.assignments.UpdateStatus(ctx, a.ID, next); err != nil {
		return "", err
	}
	a.Status = next

	e.logger.Info("assignment status reconciled",
		"assignment_id", a.ID,
		"agency_id", a.AgencyID,
		"old_status", previous,
		"new_status", next,
	)

	if e.events != nil {
		event := assignment.NewStatusChangedEvent(a, previous, next)
		if err := e.events.Publish(ctx, event); err != nil {
			e.logger.Error("failed to publish status change event",
				"assignment_id", a.ID,
				"error", err,
			)
		}
	}

	return OutcomeUpdated, nil
}
