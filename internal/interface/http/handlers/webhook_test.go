package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretrack/competency-hub/internal/application/reconcile"
	"github.com/caretrack/competency-hub/internal/domain/agency"
	"github.com/caretrack/competency-hub/internal/domain/assignment"
	"github.com/caretrack/competency-hub/internal/domain/revision"
	"github.com/caretrack/competency-hub/internal/domain/shared"
	"github.com/caretrack/competency-hub/pkg/amx"
)

const (
	testAgencyID = "YWdlbmN5LTE="
	testAPIKey   = "c2VjcmV0LXNoYXJlZA=="
)

type stubAgencies struct {
	agencies map[string]*agency.Agency
}

func (s *stubAgencies) FindByID(_ context.Context, id string) (*agency.Agency, error) {
	ag, ok := s.agencies[id]
	if !ok {
		return nil, shared.ErrAgencyNotFound
	}
	return ag, nil
}

type stubAssignments struct {
	byID      map[int64]*assignment.CompetencyAssignment
	revisions *stubRevisions
	updates   []assignment.Status
}

func (s *stubAssignments) FindByID(_ context.Context, id int64) (*assignment.CompetencyAssignment, error) {
	a, ok := s.byID[id]
	if !ok {
		return nil, shared.ErrAssignmentNotFound
	}
	return a, nil
}

func (s *stubAssignments) UpdateStatus(ctx context.Context, id int64, status assignment.Status) error {
	s.updates = append(s.updates, status)
	return s.revisions.Append(ctx, revision.CollectionAssignments, fmt.Sprintf("%d", id),
		map[string]interface{}{"status": string(status)})
}

func (s *stubAssignments) ListProctoredCandidates(context.Context, int64, int) ([]*assignment.CompetencyAssignment, error) {
	return nil, nil
}

type stubRevisions struct {
	snapshots map[string][]*revision.Snapshot
}

func (s *stubRevisions) key(collection, itemID string) string {
	return collection + "/" + itemID
}

func (s *stubRevisions) LatestTwo(_ context.Context, collection, itemID string) (*revision.Snapshot, *revision.Snapshot, error) {
	snaps := s.snapshots[s.key(collection, itemID)]
	switch len(snaps) {
	case 0:
		return nil, nil, nil
	case 1:
		return snaps[0], nil, nil
	default:
		return snaps[len(snaps)-1], snaps[len(snaps)-2], nil
	}
}

func (s *stubRevisions) Append(_ context.Context, collection, itemID string, data map[string]interface{}) error {
	key := s.key(collection, itemID)
	s.snapshots[key] = append(s.snapshots[key], &revision.Snapshot{
		Collection: collection,
		ItemID:     itemID,
		Sequence:   int64(len(s.snapshots[key]) + 1),
		Data:       data,
		CreatedAt:  time.Now(),
	})
	return nil
}

type webhookFixture struct {
	handler     *WebhookHandler
	assignments *stubAssignments
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	revisions := &stubRevisions{snapshots: make(map[string][]*revision.Snapshot)}
	for i := 0; i < 2; i++ {
		require.NoError(t, revisions.Append(context.Background(), revision.CollectionAssignments, "7",
			map[string]interface{}{"status": "IN_PROGRESS"}))
	}

	assignments := &stubAssignments{
		byID: map[int64]*assignment.CompetencyAssignment{
			7: {
				ID:               7,
				SubjectUserID:    "user-1",
				AgencyID:         testAgencyID,
				ExamDefinitionID: "exam-7",
				Kind:             assignment.KindExam,
				Proctored:        true,
				Status:           assignment.StatusInProgress,
				AttemptsUsed:     1,
				AllowedAttempts:  3,
				ScoreHistory: assignment.ScoreHistory{
					{Attempt: 1, AssignmentStatus: "COMPLETED", Score: 91},
				},
			},
		},
		revisions: revisions,
	}

	agencies := &stubAgencies{agencies: map[string]*agency.Agency{
		testAgencyID: {
			ID:         testAgencyID,
			Credential: agency.ProviderCredential{AppID: "app-1", APIKey: testAPIKey},
		},
	}}

	engine := reconcile.NewEngine(assignments, reconcile.NewDetector(revisions), nil, nil)
	return &webhookFixture{
		handler:     NewWebhookHandler(agencies, assignments, engine, nil, nil),
		assignments: assignments,
	}
}

func callbackTarget(agencyID string) string {
	return "http://provider-callbacks.example/callback?agency_id=" + agencyID + "&assignment_id=7"
}

func signedRequest(t *testing.T, target, body string) *http.Request {
	t.Helper()
	header, err := amx.Authorize("app-1", testAPIKey, http.MethodPost, target)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Authorization", header)
	return req
}

func TestWebhookAppliesStatus(t *testing.T) {
	f := newWebhookFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, signedRequest(t, callbackTarget(testAgencyID), `{"status": "Valid"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "updated")
	require.Len(t, f.assignments.updates, 1)
	assert.Equal(t, assignment.StatusCompleted, f.assignments.updates[0])
}

func TestWebhookIdempotentOnReplay(t *testing.T) {
	f := newWebhookFixture(t)
	target := callbackTarget(testAgencyID)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, signedRequest(t, target, `{"status": "Valid"}`))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Len(t, f.assignments.updates, 1, "replayed callback must not write twice")
}

func TestWebhookToleratesStrippedPadding(t *testing.T) {
	f := newWebhookFixture(t)
	stripped := strings.TrimRight(testAgencyID, "=")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, signedRequest(t, callbackTarget(stripped), `{"status": "Valid"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookAcceptsForwardedAuthHeader(t *testing.T) {
	f := newWebhookFixture(t)
	target := callbackTarget(testAgencyID)

	req := signedRequest(t, target, `{"status": "Valid"}`)
	req.Header.Set(forwardedAuthHeader, req.Header.Get("Authorization"))
	req.Header.Del("Authorization")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t)

	req := signedRequest(t, callbackTarget(testAgencyID), `{"status": "Valid"}`)
	header, err := amx.ParseHeader(req.Header.Get("Authorization"))
	require.NoError(t, err)
	header.Nonce = "tampered-nonce"
	req.Header.Set("Authorization", header.String())

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.assignments.updates)
}

func TestWebhookMissingAuthHeaderIsBadRequest(t *testing.T) {
	f := newWebhookFixture(t)

	req := httptest.NewRequest(http.MethodPost, callbackTarget(testAgencyID), strings.NewReader(`{"status": "Valid"}`))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code, "an absent header is a missing parameter, not an auth failure")
	assert.Empty(t, f.assignments.updates)
}

func TestWebhookMalformedAuthHeader(t *testing.T) {
	f := newWebhookFixture(t)

	req := httptest.NewRequest(http.MethodPost, callbackTarget(testAgencyID), strings.NewReader(`{"status": "Valid"}`))
	req.Header.Set("Authorization", "amx not-enough-parts")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookUnknownAgency(t *testing.T) {
	f := newWebhookFixture(t)
	target := "http://provider-callbacks.example/callback?agency_id=bm9wZQ==&assignment_id=7"

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, signedRequest(t, target, `{"status": "Valid"}`))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookUnknownAssignment(t *testing.T) {
	f := newWebhookFixture(t)
	target := "http://provider-callbacks.example/callback?agency_id=" + testAgencyID + "&assignment_id=999"

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, signedRequest(t, target, `{"status": "Valid"}`))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookMissingStatusBody(t *testing.T) {
	f := newWebhookFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, signedRequest(t, callbackTarget(testAgencyID), `{}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookUnclassifiableStatus(t *testing.T) {
	f := newWebhookFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, signedRequest(t, callbackTarget(testAgencyID), `{"status": "pending"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.assignments.updates)
}

func TestWebhookMissingQueryParams(t *testing.T) {
	f := newWebhookFixture(t)

	cases := []struct {
		name   string
		target string
	}{
		{"missing agency_id", "http://provider-callbacks.example/callback?assignment_id=7"},
		{"missing assignment_id", "http://provider-callbacks.example/callback?agency_id=" + testAgencyID},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, signedRequest(t, tc.target, `{"status": "Valid"}`))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
