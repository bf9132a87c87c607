// Package apperr defines the error taxonomy shared by ingestion, queries and
// reconciliation, and maps it onto transport status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers that must decide between retrying,
// rejecting and reporting.
type Kind string

const (
	KindInternal   Kind = "internal"
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindStorage    Kind = "storage"
)

// ValidationError reports malformed input. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validation builds a ValidationError.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// AuthError reports a signature or credential failure.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// Auth builds an AuthError.
func Auth(message string) error {
	return &AuthError{Message: message}
}

// StorageError reports a storage failure that survived local retries.
type StorageError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ReconciliationMismatch reports a rollup counter that disagrees with the
// event log.
// An empty CampaignID is the global counter.
type ReconciliationMismatch struct {
	Date       string `json:"date"`
	EventType  string `json:"event_type"`
	CampaignID string `json:"campaign_id,omitempty"`
	Rollup     int64  `json:"rollup"`
	Events     int64  `json:"events"`
}

func (e *ReconciliationMismatch) Error() string {
	if e.CampaignID != "" {
		return fmt.Sprintf("rollup mismatch on %s/%s/%s: rollup=%d events=%d", e.Date, e.EventType, e.CampaignID, e.Rollup, e.Events)
	}
	return fmt.Sprintf("rollup mismatch on %s/%s: rollup=%d events=%d", e.Date, e.EventType, e.Rollup, e.Events)
}

// KindOf classifies err. Unrecognized errors are internal.
func KindOf(err error) Kind {
	var (
		validation *ValidationError
		auth       *AuthError
		storage    *StorageError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &auth):
		return KindAuth
	case errors.As(err, &storage):
		return KindStorage
	default:
		return KindInternal
	}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// HTTPStatus maps err to the status code exposed to callers.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show to callers. Storage and
// internal failures collapse to a generic message.
func PublicMessage(err error) string {
	switch KindOf(err) {
	case KindValidation, KindAuth:
		return err.Error()
	default:
		return "internal server error"
	}
}
