package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretrack/competency-hub/internal/domain/assignment"
	"github.com/caretrack/competency-hub/internal/domain/revision"
	"github.com/caretrack/competency-hub/internal/domain/shared"
)

type fakeAssignments struct {
	updates   []assignment.Status
	updateErr error
}

func (f *fakeAssignments) FindByID(context.Context, int64) (*assignment.CompetencyAssignment, error) {
	return nil, shared.ErrAssignmentNotFound
}

func (f *fakeAssignments) UpdateStatus(_ context.Context, _ int64, status assignment.Status) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, status)
	return nil
}

func (f *fakeAssignments) ListProctoredCandidates(context.Context, int64, int) ([]*assignment.CompetencyAssignment, error) {
	return nil, nil
}

type fakePublisher struct {
	events []shared.Event
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, event shared.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func testAssignment() *assignment.CompetencyAssignment {
	return &assignment.CompetencyAssignment{
		ID:            42,
		SubjectUserID: "user-1",
		AgencyID:      "agency-1",
		Kind:          assignment.KindExam,
		Proctored:     true,
		Status:        assignment.StatusInProgress,
		AttemptsUsed:  1,
		ScoreHistory: assignment.ScoreHistory{
			{Attempt: 1, AssignmentStatus: "COMPLETED", Score: 88},
		},
	}
}

func newTestEngine(t *testing.T, revisions *memRevisions) (*Engine, *fakeAssignments, *fakePublisher) {
	t.Helper()
	repo := &fakeAssignments{}
	bus := &fakePublisher{}
	return NewEngine(repo, NewDetector(revisions), bus, nil), repo, bus
}

func TestApplyProviderStatusUpdated(t *testing.T) {
	revisions := newMemRevisions()
	seedRevisions(t, revisions, "42",
		map[string]interface{}{"status": "IN_PROGRESS", "attempts_used": float64(0)},
		map[string]interface{}{"status": "IN_PROGRESS", "attempts_used": float64(1)},
	)
	engine, repo, bus := newTestEngine(t, revisions)
	a := testAssignment()

	outcome, err := engine.ApplyProviderStatus(context.Background(), a, "Valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)

	require.Len(t, repo.updates, 1)
	assert.Equal(t, assignment.StatusCompleted, repo.updates[0])
	assert.Equal(t, assignment.StatusCompleted, a.Status)

	require.Len(t, bus.events, 1)
	assert.Equal(t, shared.EventAssignmentStatusChanged, bus.events[0].EventType())
	assert.Equal(t, "42", bus.events[0].AggregateID())
}

func TestApplyProviderStatusNoVerdict(t *testing.T) {
	engine, repo, bus := newTestEngine(t, newMemRevisions())
	a := testAssignment()
	a.ScoreHistory = nil // attempts used, no usable history

	outcome, err := engine.ApplyProviderStatus(context.Background(), a, "Valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoVerdict, outcome)
	assert.Empty(t, repo.updates)
	assert.Empty(t, bus.events)
}

func TestApplyProviderStatusUnchangedEqualStatus(t *testing.T) {
	engine, repo, bus := newTestEngine(t, newMemRevisions())
	a := testAssignment()
	a.Status = assignment.StatusCompleted

	// Record already matches the verdict: no revision lookup, no write.
	outcome, err := engine.ApplyProviderStatus(context.Background(), a, "Valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Empty(t, repo.updates)
	assert.Empty(t, bus.events)
}

func TestApplyProviderStatusUnchangedAlreadyApplied(t *testing.T) {
	// The revision log shows the status just changed to COMPLETED, meaning
	// another path already performed this write. The stale in-memory copy
	// still says IN_PROGRESS; the engine must not write again.
	revisions := newMemRevisions()
	seedRevisions(t, revisions, "42",
		map[string]interface{}{"status": "IN_PROGRESS"},
		map[string]interface{}{"status": "COMPLETED"},
	)
	engine, repo, bus := newTestEngine(t, revisions)
	a := testAssignment()

	outcome, err := engine.ApplyProviderStatus(context.Background(), a, "Valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Empty(t, repo.updates)
	assert.Empty(t, bus.events)
}

func TestApplyProviderStatusLegacyGap(t *testing.T) {
	revisions := newMemRevisions()
	seedRevisions(t, revisions, "42", map[string]interface{}{"status": "IN_PROGRESS"})
	engine, repo, bus := newTestEngine(t, revisions)
	a := testAssignment()

	outcome, err := engine.ApplyProviderStatus(context.Background(), a, "Valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeLegacyGap, outcome)
	assert.Empty(t, repo.updates)
	assert.Empty(t, bus.events)
	assert.Equal(t, assignment.StatusInProgress, a.Status)
}

func TestApplyProviderStatusClassificationError(t *testing.T) {
	engine, repo, _ := newTestEngine(t, newMemRevisions())
	a := testAssignment()

	_, err := engine.ApplyProviderStatus(context.Background(), a, "pending review")
	assert.ErrorIs(t, err, shared.ErrUnrecognizedProviderStatus)
	assert.Empty(t, repo.updates)
}

func TestApplyProviderStatusUpdateError(t *testing.T) {
	revisions := newMemRevisions()
	seedRevisions(t, revisions, "42",
		map[string]interface{}{"status": "IN_PROGRESS", "attempts_used": float64(0)},
		map[string]interface{}{"status": "IN_PROGRESS", "attempts_used": float64(1)},
	)
	engine, repo, bus := newTestEngine(t, revisions)
	repo.updateErr = errors.New("connection reset")
	a := testAssignment()

	_, err := engine.ApplyProviderStatus(context.Background(), a, "Valid")
	assert.Error(t, err)
	assert.Empty(t, bus.events)
	assert.Equal(t, assignment.StatusInProgress, a.Status)
}

func TestApplyProviderStatusPublishFailureDoesNotRollBack(t *testing.T) {
	revisions := newMemRevisions()
	seedRevisions(t, revisions, "42",
		map[string]interface{}{"status": "IN_PROGRESS"},
		map[string]interface{}{"status": "FAILED_TIMED_OUT"},
	)
	engine, repo, bus := newTestEngine(t, revisions)
	bus.err = errors.New("bus closed")
	a := testAssignment()

	outcome, err := engine.ApplyProviderStatus(context.Background(), a, "Invalid (suspected impersonation)")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)
	require.Len(t, repo.updates, 1)
	assert.Equal(t, assignment.StatusInvalid, repo.updates[0])
}

func TestApplyProviderStatusInvalidatedEventType(t *testing.T) {
	revisions := newMemRevisions()
	seedRevisions(t, revisions, "42",
		map[string]interface{}{"status": "IN_PROGRESS"},
		map[string]interface{}{"status": "FAILED"},
	)
	engine, _, bus := newTestEngine(t, revisions)
	a := testAssignment()

	outcome, err := engine.ApplyProviderStatus(context.Background(), a, "invalid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)
	require.Len(t, bus.events, 1)
	assert.Equal(t, shared.EventAssignmentInvalidated, bus.events[0].EventType())
}

var _ revision.Repository = (*memRevisions)(nil)
var _ assignment.Repository = (*fakeAssignments)(nil)
var _ shared.EventPublisher = (*fakePublisher)(nil)
