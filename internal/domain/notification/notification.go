// Package notification defines the payload contract and delivery port for
// status-transition notifications. Template rendering and actual delivery
// belong to the downstream notification service; this core only decides who
// gets notified and hands over structured context.
package notification

import (
	"context"
	"time"
)

// Recipient is a resolved delivery target.
type Recipient struct {
	Email string
	Role  string
}

// Message is the templated-payload contract handed to the notification
// service. It carries assignment context, never rendered text.
type Message struct {
	EventKey      string    `json:"event_key"`
	AssignmentID  int64     `json:"assignment_id"`
	SubjectUserID string    `json:"subject_user_id"`
	AgencyID      string    `json:"agency_id"`
	OldStatus     string    `json:"old_status"`
	NewStatus     string    `json:"new_status"`
	FinalAttempt  bool      `json:"final_attempt"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Sender delivers one message to one recipient. Implementations own retries,
// templates, and transport; at-least-once is the only guarantee callers may
// rely on.
type Sender interface {
	Send(ctx context.Context, recipient Recipient, message Message) error
}

// DeliveryResult records the outcome of one recipient's delivery attempt.
type DeliveryResult struct {
	Recipient Recipient
	Err       error
}

// Delivered reports whether the attempt succeeded.
func (r DeliveryResult) Delivered() bool {
	return r.Err == nil
}
