// Package service contains outbound adapters for application ports.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/caretrack/competency-hub/internal/domain/notification"
	"github.com/caretrack/competency-hub/pkg/circuitbreaker"
	"github.com/caretrack/competency-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// HTTP NOTIFIER
// ══════════════════════════════════════════════════════════════════════════════

// HTTPNotifierConfig contains configuration for HTTPNotifier.
type HTTPNotifierConfig struct {
	// Endpoint is the notification service delivery URL.
	Endpoint string

	// AuthToken, when set, is sent as a bearer token.
	AuthToken string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultHTTPNotifierConfig returns sensible defaults.
func DefaultHTTPNotifierConfig(endpoint string) HTTPNotifierConfig {
	return HTTPNotifierConfig{
		Endpoint: endpoint,
		Timeout:  10 * time.Second,
	}
}

// HTTPNotifier delivers notifications by posting them to the notification
// service. It implements notification.Sender.
type HTTPNotifier struct {
	config     HTTPNotifierConfig
	httpClient *http.Client
	logger     *slog.Logger
	retrier    *retry.Retrier
	breaker    *circuitbreaker.CircuitBreaker
}

// NewHTTPNotifier creates a new HTTP notifier.
func NewHTTPNotifier(config HTTPNotifierConfig) *HTTPNotifier {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	return &HTTPNotifier{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     config.Logger,
		retrier:    retry.NotifierRetrier(),
		breaker:    circuitbreaker.NotifierBreaker(nil),
	}
}

// deliveryRequest is the wire payload posted to the notification service.
type deliveryRequest struct {
	Recipient notification.Recipient `json:"recipient"`
	Message   notification.Message   `json:"message"`
}

// Send posts one message to one recipient. Transient failures are retried
// with backoff; a 4xx from the notification service surfaces immediately.
func (n *HTTPNotifier) Send(ctx context.Context, recipient notification.Recipient, message notification.Message) error {
	body, err := json.Marshal(deliveryRequest{Recipient: recipient, Message: message})
	if err != nil {
		return fmt.Errorf("marshal delivery request: %w", err)
	}

	operation := func(ctx context.Context) error {
		return n.breaker.Execute(ctx, func(ctx context.Context) error {
			return n.sendOnce(ctx, body)
		})
	}

	return n.retrier.Do(ctx, operation)
}

func (n *HTTPNotifier) sendOnce(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create delivery request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if n.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+n.config.AuthToken)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return retry.Retryable(fmt.Errorf("notification service unreachable: %w", err))
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return retry.Retryable(fmt.Errorf("notification service returned %d", resp.StatusCode))
	default:
		return retry.Permanent(fmt.Errorf("notification service rejected delivery: %d: %s", resp.StatusCode, string(respBody)))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGGING STUB
// ══════════════════════════════════════════════════════════════════════════════

// NotifierStub implements notification.Sender by logging deliveries instead of
// sending them. Used when no notification service endpoint is configured.
type NotifierStub struct {
	logger *slog.Logger
}

// NewNotifierStub creates a logging stub sender.
func NewNotifierStub(logger *slog.Logger) *NotifierStub {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifierStub{logger: logger}
}

// Send logs the delivery and succeeds.
func (s *NotifierStub) Send(_ context.Context, recipient notification.Recipient, message notification.Message) error {
	s.logger.Info("stub: delivering notification",
		"recipient", recipient.Email,
		"role", recipient.Role,
		"event_key", message.EventKey,
		"assignment_id", message.AssignmentID,
	)
	return nil
}

var (
	_ notification.Sender = (*HTTPNotifier)(nil)
	_ notification.Sender = (*NotifierStub)(nil)
)
