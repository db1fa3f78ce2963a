package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretrack/competency-hub/internal/application/reconcile"
	"github.com/caretrack/competency-hub/internal/domain/agency"
	"github.com/caretrack/competency-hub/internal/domain/assignment"
	"github.com/caretrack/competency-hub/internal/domain/revision"
	"github.com/caretrack/competency-hub/internal/domain/shared"
)

type fakeFlags struct {
	enabled bool
	err     error
}

func (f *fakeFlags) IsEnabled(context.Context, string) (bool, error) {
	return f.enabled, f.err
}

type fakeLocker struct {
	held     bool
	err      error
	acquires int
	releases int
}

func (l *fakeLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	l.acquires++
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	return func(context.Context) error {
		l.releases++
		return nil
	}, true, nil
}

type fakeAssignments struct {
	candidates []*assignment.CompetencyAssignment
	listErr    error
	pageCalls  int
	updates    map[int64]assignment.Status
}

func (f *fakeAssignments) FindByID(_ context.Context, id int64) (*assignment.CompetencyAssignment, error) {
	for _, a := range f.candidates {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, shared.ErrAssignmentNotFound
}

func (f *fakeAssignments) UpdateStatus(_ context.Context, id int64, status assignment.Status) error {
	if f.updates == nil {
		f.updates = make(map[int64]assignment.Status)
	}
	f.updates[id] = status
	return nil
}

func (f *fakeAssignments) ListProctoredCandidates(_ context.Context, afterID int64, limit int) ([]*assignment.CompetencyAssignment, error) {
	f.pageCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}

	// Mirror the repository's selection: the highest-id row per (subject,
	// exam definition) over all proctored exam rows, filtered to in-flight
	// winners afterwards.
	latest := make(map[string]*assignment.CompetencyAssignment)
	for _, a := range f.candidates {
		if !a.Proctored || a.Kind != assignment.KindExam {
			continue
		}
		key := a.SubjectUserID + "/" + a.ExamDefinitionID
		if cur, ok := latest[key]; !ok || a.ID > cur.ID {
			latest[key] = a
		}
	}

	page := make([]*assignment.CompetencyAssignment, 0, limit)
	for _, a := range f.candidates {
		if latest[a.SubjectUserID+"/"+a.ExamDefinitionID] != a {
			continue
		}
		if a.Status != assignment.StatusInProgress || a.ID <= afterID {
			continue
		}
		page = append(page, a)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

type fakeAgencies struct {
	agencies map[string]*agency.Agency
	calls    int
}

func (f *fakeAgencies) FindByID(_ context.Context, id string) (*agency.Agency, error) {
	f.calls++
	ag, ok := f.agencies[id]
	if !ok {
		return nil, shared.ErrAgencyNotFound
	}
	return ag, nil
}

type fakeFetcher struct {
	statuses map[int64]string
	errs     map[int64]error
	calls    int
}

func (f *fakeFetcher) FetchStatus(_ context.Context, _ agency.ProviderCredential, _ string, activityID int64, _ string) (string, error) {
	f.calls++
	if err, ok := f.errs[activityID]; ok {
		return "", err
	}
	return f.statuses[activityID], nil
}

type tickRevisions struct {
	snapshots map[string][]*revision.Snapshot
}

func (r *tickRevisions) key(collection, itemID string) string {
	return collection + "/" + itemID
}

func (r *tickRevisions) LatestTwo(_ context.Context, collection, itemID string) (*revision.Snapshot, *revision.Snapshot, error) {
	snaps := r.snapshots[r.key(collection, itemID)]
	switch len(snaps) {
	case 0:
		return nil, nil, nil
	case 1:
		return snaps[len(snaps)-1], nil, nil
	default:
		return snaps[len(snaps)-1], snaps[len(snaps)-2], nil
	}
}

func (r *tickRevisions) Append(_ context.Context, collection, itemID string, data map[string]interface{}) error {
	if r.snapshots == nil {
		r.snapshots = make(map[string][]*revision.Snapshot)
	}
	key := r.key(collection, itemID)
	r.snapshots[key] = append(r.snapshots[key], &revision.Snapshot{
		Collection: collection,
		ItemID:     itemID,
		Sequence:   int64(len(r.snapshots[key]) + 1),
		Data:       data,
		CreatedAt:  time.Now(),
	})
	return nil
}

func candidate(id int64) *assignment.CompetencyAssignment {
	return &assignment.CompetencyAssignment{
		ID:               id,
		SubjectUserID:    fmt.Sprintf("user-%d", id),
		AgencyID:         "agency-1",
		ExamDefinitionID: "exam-7",
		Kind:             assignment.KindExam,
		Proctored:        true,
		Status:           assignment.StatusInProgress,
		AttemptsUsed:     1,
		AllowedAttempts:  3,
		ScoreHistory: assignment.ScoreHistory{
			{Attempt: 1, AssignmentStatus: "COMPLETED", Score: 90},
		},
	}
}

type jobFixture struct {
	flags       *fakeFlags
	locker      *fakeLocker
	assignments *fakeAssignments
	agencies    *fakeAgencies
	fetcher     *fakeFetcher
	revisions   *tickRevisions
	job         *ReconcileExamsJob
}

func newJobFixture(t *testing.T, candidates ...*assignment.CompetencyAssignment) *jobFixture {
	t.Helper()

	revisions := &tickRevisions{snapshots: make(map[string][]*revision.Snapshot)}
	for _, a := range candidates {
		itemID := fmt.Sprintf("%d", a.ID)
		for seq := 0; seq < 2; seq++ {
			require.NoError(t, revisions.Append(context.Background(), revision.CollectionAssignments, itemID,
				map[string]interface{}{"status": "IN_PROGRESS"}))
		}
	}

	f := &jobFixture{
		flags:  &fakeFlags{enabled: true},
		locker: &fakeLocker{},
		assignments: &fakeAssignments{
			candidates: candidates,
			updates:    make(map[int64]assignment.Status),
		},
		agencies: &fakeAgencies{agencies: map[string]*agency.Agency{
			"agency-1": {
				ID:         "agency-1",
				Credential: agency.ProviderCredential{AppID: "app-1", APIKey: "a2V5"},
			},
		}},
		fetcher:   &fakeFetcher{statuses: make(map[int64]string), errs: make(map[int64]error)},
		revisions: revisions,
	}

	detector := reconcile.NewDetector(f.revisions)
	engine := reconcile.NewEngine(f.assignments, detector, nil, nil)

	config := DefaultReconcileExamsConfig()
	config.PageSize = 2
	f.job = NewReconcileExamsJob(f.flags, f.locker, f.assignments, f.agencies, f.fetcher, engine, config)
	return f
}

func TestRunReconcilesBacklog(t *testing.T) {
	f := newJobFixture(t, candidate(1), candidate(2), candidate(3))
	f.fetcher.statuses[1] = "Valid"
	f.fetcher.statuses[2] = "Invalid (face mismatch)"
	f.fetcher.statuses[3] = "Valid"

	require.NoError(t, f.job.Run(context.Background()))

	assert.Equal(t, 3, f.fetcher.calls)
	assert.Equal(t, assignment.StatusCompleted, f.assignments.updates[1])
	assert.Equal(t, assignment.StatusInvalid, f.assignments.updates[2])
	assert.Equal(t, assignment.StatusCompleted, f.assignments.updates[3])
	assert.Equal(t, 1, f.locker.releases, "lock must be released after the tick")
	assert.Equal(t, 1, f.agencies.calls, "agency credential should be cached per tick")
}

func TestRunDisabledFlagSkipsEverything(t *testing.T) {
	f := newJobFixture(t, candidate(1))
	f.flags.enabled = false

	require.NoError(t, f.job.Run(context.Background()))

	assert.Zero(t, f.locker.acquires, "disabled flag must short-circuit before locking")
	assert.Zero(t, f.fetcher.calls)
	assert.Zero(t, f.assignments.pageCalls)
}

func TestRunFlagErrorFailsTick(t *testing.T) {
	f := newJobFixture(t, candidate(1))
	f.flags.err = errors.New("flag store down")

	err := f.job.Run(context.Background())
	assert.Error(t, err)
	assert.Zero(t, f.fetcher.calls)
}

func TestRunLockHeldElsewhereIsNoOp(t *testing.T) {
	f := newJobFixture(t, candidate(1))
	f.locker.held = true

	require.NoError(t, f.job.Run(context.Background()))

	assert.Zero(t, f.fetcher.calls, "a concurrent tick must not reach the provider")
	assert.Zero(t, f.assignments.pageCalls)
	assert.Zero(t, f.locker.releases)
}

func TestRunPageErrorAbortsTick(t *testing.T) {
	f := newJobFixture(t, candidate(1))
	f.assignments.listErr = errors.New("db gone")

	err := f.job.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, f.locker.releases, "lock must be released even on failure")
}

func TestRunItemFailureDoesNotStarveBacklog(t *testing.T) {
	f := newJobFixture(t, candidate(1), candidate(2))
	f.fetcher.errs[1] = errors.New("provider timeout")
	f.fetcher.statuses[2] = "Invalid"

	require.NoError(t, f.job.Run(context.Background()))

	assert.Equal(t, 2, f.fetcher.calls)
	_, updated := f.assignments.updates[1]
	assert.False(t, updated)
	assert.Equal(t, assignment.StatusInvalid, f.assignments.updates[2])
}

func TestRunIgnoresSupersededRetake(t *testing.T) {
	stale := candidate(1)
	retake := candidate(2)
	retake.SubjectUserID = stale.SubjectUserID
	retake.Status = assignment.StatusCompleted
	f := newJobFixture(t, stale, retake, candidate(3))
	f.fetcher.statuses[3] = "Valid"

	require.NoError(t, f.job.Run(context.Background()))

	assert.Equal(t, 1, f.fetcher.calls, "only the live latest attempt may reach the provider")
	_, polled := f.assignments.updates[1]
	assert.False(t, polled, "a superseded in-flight row must not be reconciled")
	assert.Equal(t, assignment.StatusCompleted, f.assignments.updates[3])
}

func TestRunUnknownAgencySkipsItem(t *testing.T) {
	orphan := candidate(5)
	orphan.AgencyID = "agency-unknown"
	f := newJobFixture(t, orphan, candidate(6))
	f.fetcher.statuses[6] = "Invalid"

	require.NoError(t, f.job.Run(context.Background()))

	assert.Equal(t, 1, f.fetcher.calls, "orphan assignment must not reach the provider")
	assert.Equal(t, assignment.StatusInvalid, f.assignments.updates[6])
}

func TestProcessGuardBlocksOverlap(t *testing.T) {
	guard := NewProcessGuard()

	release, acquired, err := guard.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	_, again, err := guard.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, release(context.Background()))

	_, reacquired, err := guard.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, reacquired)
}
