// Package proctor implements the proctoring provider API client. Every
// request is signed with the per-agency amx credential; transient failures
// are retried and sustained failures trip a circuit breaker so a provider
// outage cannot stall a whole reconciliation tick on timeouts.
package proctor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/caretrack/competency-hub/internal/domain/agency"
	"github.com/caretrack/competency-hub/internal/domain/shared"
	"github.com/caretrack/competency-hub/pkg/amx"
	"github.com/caretrack/competency-hub/pkg/circuitbreaker"
	"github.com/caretrack/competency-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the provider client.
type ClientConfig struct {
	// BaseURL is the provider status endpoint base URL.
	BaseURL string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the proctoring provider API client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	retrier    *retry.Retrier
	breaker    *circuitbreaker.CircuitBreaker
}

// NewClient creates a new provider client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     config.Logger,
		retrier:    retry.ProctorRetrier(),
		breaker:    circuitbreaker.ProctorBreaker(nil),
	}
}

// FetchStatus performs the signed status GET for one assignment and returns
// the effective raw status text.
//
// courseID is the exam definition, activityID the assignment, participantID
// the subject user. 5xx and transport errors are retried; 4xx responses are
// permanent and surface immediately.
func (c *Client) FetchStatus(ctx context.Context, cred agency.ProviderCredential, courseID string, activityID int64, participantID string) (string, error) {
	if !cred.Configured() {
		return "", shared.ErrCredentialMissing
	}

	params := url.Values{}
	params.Set("courseid", courseID)
	params.Set("activityid", strconv.FormatInt(activityID, 10))
	params.Set("participantidentifier", participantID)
	fullURL := c.config.BaseURL + "?" + params.Encode()

	var raw string
	operation := func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			status, err := c.fetchOnce(ctx, cred, fullURL)
			if err != nil {
				return err
			}
			raw = status
			return nil
		})
	}

	if err := c.retrier.Do(ctx, operation); err != nil {
		return "", err
	}
	return raw, nil
}

func (c *Client) fetchOnce(ctx context.Context, cred agency.ProviderCredential, fullURL string) (string, error) {
	header, err := amx.Authorize(cred.AppID, cred.APIKey, http.MethodGet, fullURL)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("sign provider request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("create provider request: %w", err))
	}
	req.Header.Set("Authorization", header)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", retry.Retryable(fmt.Errorf("%w: %v", shared.ErrProctorUnavailable, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", retry.Retryable(fmt.Errorf("%w: read body: %v", shared.ErrProctorUnavailable, err))
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", retry.Retryable(fmt.Errorf("%w: provider returned %d", shared.ErrProctorUnavailable, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return "", retry.Permanent(fmt.Errorf("%w: provider returned %d: %s", shared.ErrProctorInvalidResponse, resp.StatusCode, string(body)))
	}

	var dto StatusResponse
	if err := json.Unmarshal(body, &dto); err != nil {
		return "", retry.Permanent(fmt.Errorf("%w: %v", shared.ErrProctorInvalidResponse, err))
	}

	return dto.EffectiveStatus(), nil
}
