// Package handlers contains the HTTP handlers for the provider callback and
// health endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/caretrack/competency-hub/internal/application/reconcile"
	"github.com/caretrack/competency-hub/internal/domain/agency"
	"github.com/caretrack/competency-hub/internal/domain/assignment"
	"github.com/caretrack/competency-hub/internal/domain/shared"
	"github.com/caretrack/competency-hub/internal/infrastructure/observability"
	"github.com/caretrack/competency-hub/pkg/amx"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROVIDER CALLBACK
// ══════════════════════════════════════════════════════════════════════════════

// forwardedAuthHeader carries the original Authorization value when an
// upstream proxy consumes the header itself.
const forwardedAuthHeader = "Redirect-Http-Authorization"

// WebhookHandler receives the proctoring provider's status callbacks. One
// HTTP call is one reconciliation attempt; the handler holds no state between
// calls.
type WebhookHandler struct {
	agencies    agency.Repository
	assignments assignment.Repository
	engine      *reconcile.Engine
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewWebhookHandler creates the provider callback handler.
func NewWebhookHandler(
	agencies agency.Repository,
	assignments assignment.Repository,
	engine *reconcile.Engine,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		agencies:    agencies,
		assignments: assignments,
		engine:      engine,
		metrics:     metrics,
		logger:      logger.With("handler", "provider_callback"),
	}
}

type callbackBody struct {
	Status string `json:"status"`
}

type callbackResponse struct {
	Result string `json:"result"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ServeHTTP handles POST /callback.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.handle(w, r)
	h.metrics.RecordWebhook(strconv.Itoa(status))
}

// handle runs the callback pipeline and returns the HTTP status it wrote.
func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) int {
	// An absent header is a missing parameter (400); 401 is reserved for
	// headers that are present but malformed or fail verification.
	authValue := r.Header.Get("Authorization")
	if authValue == "" {
		authValue = r.Header.Get(forwardedAuthHeader)
	}
	if authValue == "" {
		return writeError(w, http.StatusBadRequest, "authorization header is required")
	}
	header, err := amx.ParseHeader(authValue)
	if err != nil {
		return writeError(w, http.StatusUnauthorized, "malformed authorization header")
	}

	// An upstream proxy may strip trailing base64 padding from the agency id.
	agencyID := agency.NormalizeID(r.URL.Query().Get("agency_id"))
	if agencyID == "" {
		return writeError(w, http.StatusBadRequest, "agency_id is required")
	}
	assignmentID, err := strconv.ParseInt(r.URL.Query().Get("assignment_id"), 10, 64)
	if err != nil || assignmentID <= 0 {
		return writeError(w, http.StatusBadRequest, "assignment_id is required")
	}

	logger := h.logger.With("agency_id", agencyID, "assignment_id", assignmentID)

	ag, err := h.agencies.FindByID(r.Context(), agencyID)
	switch {
	case errors.Is(err, shared.ErrAgencyNotFound):
		return writeError(w, http.StatusNotFound, "unknown agency")
	case err != nil:
		logger.Error("failed to load agency for callback", "error", err)
		return writeError(w, http.StatusInternalServerError, "internal error")
	}

	a, err := h.assignments.FindByID(r.Context(), assignmentID)
	switch {
	case errors.Is(err, shared.ErrAssignmentNotFound):
		return writeError(w, http.StatusNotFound, "unknown assignment")
	case err != nil:
		logger.Error("failed to load assignment for callback", "error", err)
		return writeError(w, http.StatusInternalServerError, "internal error")
	}

	if !ag.Credential.Configured() || header.AppID != ag.Credential.AppID {
		return writeError(w, http.StatusUnauthorized, "signature verification failed")
	}
	uri := originalURI(r)
	if !amx.Verify(header.AppID, ag.Credential.APIKey, r.Method, uri,
		header.Timestamp, header.Nonce, header.Signature) {
		logger.Warn("callback signature mismatch", "uri", uri)
		return writeError(w, http.StatusUnauthorized, "signature verification failed")
	}

	var body callbackBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		return writeError(w, http.StatusBadRequest, "status is required")
	}

	outcome, err := h.engine.ApplyProviderStatus(r.Context(), a, body.Status)
	switch {
	case errors.Is(err, shared.ErrUnrecognizedProviderStatus) || errors.Is(err, shared.ErrInvalidState):
		return writeError(w, http.StatusBadRequest, "unclassifiable provider status")
	case err != nil:
		logger.Error("failed to apply callback status",
			"provider_status", body.Status,
			"error", err,
		)
		return writeError(w, http.StatusInternalServerError, "internal error")
	}

	logger.Info("provider callback processed", "outcome", outcome)
	return writeJSON(w, http.StatusOK, callbackResponse{Result: string(outcome)})
}

// originalURI reconstructs the URI the provider signed. The service usually
// sits behind a TLS-terminating proxy, so the forwarded scheme and host win
// over what the local listener saw.
func originalURI(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) int {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
	return status
}

func writeError(w http.ResponseWriter, status int, message string) int {
	return writeJSON(w, status, errorResponse{Error: message})
}
