package notify

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretrack/competency-hub/internal/domain/notification"
	"github.com/caretrack/competency-hub/internal/infrastructure/observability"
)

// recordingSender fails for addresses listed in failFor and records every
// attempted delivery.
type recordingSender struct {
	mu      sync.Mutex
	sent    []string
	failFor map[string]bool
}

func (s *recordingSender) Send(_ context.Context, recipient notification.Recipient, _ notification.Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, recipient.Email)
	s.mu.Unlock()
	if s.failFor[recipient.Email] {
		return errors.New("mailbox unavailable")
	}
	return nil
}

func TestDispatchSettlesAllRecipients(t *testing.T) {
	sender := &recordingSender{failFor: map[string]bool{"b@test": true}}
	dispatcher := NewDispatcher(sender, nil, nil)

	recipients := []notification.Recipient{
		{Email: "a@test"}, {Email: "b@test"}, {Email: "c@test"},
	}
	results := dispatcher.Dispatch(context.Background(), recipients, notification.Message{EventKey: "exam_completion"})

	// Every recipient was attempted despite the failure in the middle.
	require.Len(t, results, 3)
	assert.ElementsMatch(t, []string{"a@test", "b@test", "c@test"}, sender.sent)

	byEmail := make(map[string]notification.DeliveryResult)
	for _, r := range results {
		byEmail[r.Recipient.Email] = r
	}
	assert.True(t, byEmail["a@test"].Delivered())
	assert.False(t, byEmail["b@test"].Delivered())
	assert.True(t, byEmail["c@test"].Delivered())
}

func TestDispatchNoRecipients(t *testing.T) {
	sender := &recordingSender{}
	dispatcher := NewDispatcher(sender, nil, nil)

	results := dispatcher.Dispatch(context.Background(), nil, notification.Message{})
	assert.Nil(t, results)
	assert.Empty(t, sender.sent)
}

func TestDispatchRecordsDeliveryOutcomes(t *testing.T) {
	sender := &recordingSender{failFor: map[string]bool{"b@test": true}}
	metrics := observability.NewMetrics()
	dispatcher := NewDispatcher(sender, metrics, nil)

	recipients := []notification.Recipient{
		{Email: "a@test"}, {Email: "b@test"}, {Email: "c@test"},
	}
	dispatcher.Dispatch(context.Background(), recipients, notification.Message{EventKey: "exam_completion"})

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `competency_notifications_total{outcome="delivered"} 2`)
	assert.Contains(t, body, `competency_notifications_total{outcome="failed"} 1`)
}
