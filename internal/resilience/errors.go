// Package resilience provides the engine's error taxonomy plus retry and
// circuit breaker patterns for external provider calls.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps a provider error that is safe to retry (429,
// 5xx-equivalent, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PermanentError wraps a provider error that must not be retried: quota
// exhaustion, auth failure, invalid criteria. Permanent errors abort the
// execution.
type PermanentError struct {
	Err      error
	Provider string
}

func (e *PermanentError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Err.Error())
	}
	return e.Err.Error()
}
func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError wraps an error as a fatal provider failure.
func NewPermanentError(provider string, err error) *PermanentError {
	return &PermanentError{Err: err, Provider: provider}
}

// ValidationError reports bad campaign configuration detected before the
// pipeline starts.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError wraps an error as a pre-start validation failure.
func NewValidationError(err error) *ValidationError { return &ValidationError{Err: err} }

// ConflictError reports a start request for a campaign that already has an
// active execution.
type ConflictError struct {
	CampaignID  string
	ExecutionID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("campaign %s already has active execution %s", e.CampaignID, e.ExecutionID)
}

// BudgetExceededError reports that starting another batch would cross the
// campaign's configured budget cap. It stops the execution gracefully.
type BudgetExceededError struct {
	BudgetUSD    float64
	ProjectedUSD float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("projected cost $%.4f exceeds budget cap $%.2f", e.ProjectedUSD, e.BudgetUSD)
}

// SendFailure reports a per-lead send that exhausted its retries. It is
// counted, never fatal to the execution.
type SendFailure struct {
	LeadID   string
	Attempts int
	Err      error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("send to lead %s failed after %d attempts: %s", e.LeadID, e.Attempts, e.Err.Error())
}
func (e *SendFailure) Unwrap() error { return e.Err }

// IsConflict reports whether err is a duplicate-start conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsValidation reports whether err is a pre-start validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsBudgetExceeded reports whether err is a budget cap violation.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}

// IsPermanent reports whether err is a fatal provider failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsFatal reports whether err must abort the execution rather than being
// handled per lead.
func IsFatal(err error) bool {
	return IsPermanent(err) || IsValidation(err) || IsBudgetExceeded(err)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient network patterns.
// Errors explicitly marked permanent are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if IsPermanent(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}

// ClassifyHTTPStatus converts a non-2xx HTTP status into the matching error
// wrapper: transient statuses retry, auth/payment statuses are permanent,
// anything else passes through unchanged.
func ClassifyHTTPStatus(provider string, statusCode int, err error) error {
	if IsTransientHTTPStatus(statusCode) {
		return NewTransientError(err, statusCode)
	}
	switch statusCode {
	case 401, 402, 403:
		return NewPermanentError(provider, err)
	}
	return err
}
