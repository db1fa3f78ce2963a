package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/caretrack/competency-hub/internal/domain/notification"
	"github.com/caretrack/competency-hub/internal/infrastructure/observability"
)

// Dispatcher fans a message out to every recipient concurrently and waits for
// all deliveries to settle. One recipient's failure never prevents the others
// from being attempted, and never propagates to the caller: the status write
// that triggered the notification must not be rolled back by delivery issues.
type Dispatcher struct {
	sender  notification.Sender
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher over a delivery port. metrics may be nil.
func NewDispatcher(sender notification.Sender, metrics *observability.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sender: sender, metrics: metrics, logger: logger}
}

// Dispatch sends the message to each recipient and returns per-recipient
// results after all attempts have settled.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []notification.Recipient, message notification.Message) []notification.DeliveryResult {
	if len(recipients) == 0 {
		return nil
	}

	results := make([]notification.DeliveryResult, len(recipients))
	var wg sync.WaitGroup
	for i, recipient := range recipients {
		wg.Add(1)
		go func(i int, recipient notification.Recipient) {
			defer wg.Done()
			err := d.sender.Send(ctx, recipient, message)
			results[i] = notification.DeliveryResult{Recipient: recipient, Err: err}
			if err != nil {
				d.metrics.RecordNotification("failed")
				d.logger.Error("notification delivery failed",
					"recipient", recipient.Email,
					"assignment_id", message.AssignmentID,
					"event", message.EventKey,
					"error", err,
				)
				return
			}
			d.metrics.RecordNotification("delivered")
		}(i, recipient)
	}
	wg.Wait()
	return results
}
