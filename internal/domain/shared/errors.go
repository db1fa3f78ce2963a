// Package shared contains common domain types, errors, and events that are
// used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation   = errors.New("validation error")
	ErrInvalidID    = errors.New("invalid ID")
	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyValue   = errors.New("value cannot be empty")

	// Authentication errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// Reconciliation errors
	ErrNoVerdict      = errors.New("no deterministic status mapping")
	ErrIntegrityGap   = errors.New("revision history gap")
	ErrFlagDisabled   = errors.New("feature flag disabled")
	ErrTickSuperseded = errors.New("reconciliation tick already running")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "assignment", "agency", "proctor"
	Op      string // Operation that failed, e.g., "Classify", "UpdateStatus"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// Assignment domain errors
var (
	ErrAssignmentNotFound         = NewDomainError("assignment", "Find", ErrNotFound, "assignment not found")
	ErrUnknownStatus              = NewDomainError("assignment", "Validate", ErrInvalidState, "unknown assignment status")
	ErrUnrecognizedProviderStatus = NewDomainError("assignment", "Classify", ErrInvalidInput, "unrecognized provider status")
)

// Agency domain errors
var (
	ErrAgencyNotFound      = NewDomainError("agency", "Find", ErrNotFound, "agency not found")
	ErrCredentialMissing   = NewDomainError("agency", "Credential", ErrEmptyValue, "agency has no provider credential")
	ErrSignatureMismatch   = NewDomainError("agency", "Verify", ErrUnauthorized, "request signature mismatch")
	ErrMalformedAuthHeader = NewDomainError("agency", "Verify", ErrValidation, "malformed authorization header")
)

// Revision domain errors. A missing previous revision is an expected condition
// for records imported from the legacy system with no write history; it is a
// distinguishable outcome, not a failure.
var (
	ErrMissingCurrentRevision  = NewDomainError("revision", "Diff", ErrNotFound, "no revision snapshots for item")
	ErrMissingPreviousRevision = NewDomainError("revision", "Diff", ErrIntegrityGap, "only one revision snapshot for item")
)

// External service errors
var (
	ErrProctorUnavailable     = NewDomainError("proctor", "Request", ErrServiceUnavailable, "proctoring provider is unavailable")
	ErrProctorTimeout         = NewDomainError("proctor", "Request", ErrTimeout, "proctoring provider request timeout")
	ErrProctorInvalidResponse = NewDomainError("proctor", "Parse", ErrInvalidInput, "invalid response from proctoring provider")
	ErrNotificationFailed     = NewDomainError("notification", "Send", ErrExternalService, "failed to send notification")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue)
}

// IsUnauthorized checks if the error is an authentication failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}

// IsIntegrityGap checks for the benign missing-previous-revision condition.
func IsIntegrityGap(err error) bool {
	return errors.Is(err, ErrIntegrityGap)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
