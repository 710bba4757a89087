package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound is returned when an entity or queue item does not exist locally.
	ErrNotFound = errors.New("not found")
	// ErrEntityDeleted is returned when editing an entity that is waiting to be deleted.
	ErrEntityDeleted = errors.New("entity is pending deletion")
	// ErrItemInFlight is returned when discarding an item a pass is pushing.
	ErrItemInFlight = errors.New("queue item is being synced")
)

// BackendError is a failed call to the remote CRM. StatusCode is zero when
// the request never got a response. Its message is what a failed queue item
// records, so it stays readable on its own.
type BackendError struct {
	Operation  string // "create companies", "list deals"
	StatusCode int
	Message    string // status text, refined by the remote's own message
	Kind       Kind
	EntityID   string
	Body       string // raw response body, for debugging
	Err        error
}

func (e *BackendError) Error() string {
	var b strings.Builder
	b.WriteString("HubSpot ")
	b.WriteString(e.Operation)
	if e.EntityID != "" {
		fmt.Fprintf(&b, " (%s)", e.EntityID)
	}
	b.WriteString(" failed: ")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, "%d ", e.StatusCode)
	}
	b.WriteString(e.Message)
	return b.String()
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsNotFound reports a 404, e.g. deleting a record already removed remotely.
func (e *BackendError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports a rejected or under-scoped access token.
func (e *BackendError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsServerError reports a 5xx.
func (e *BackendError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// NewBackendError creates a BackendError. An empty message falls back to
// the HTTP status text.
func NewBackendError(operation string, statusCode int, message string) *BackendError {
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return &BackendError{
		Operation:  operation,
		StatusCode: statusCode,
		Message:    message,
	}
}

// WithEntity records which local record the call was for.
func (e *BackendError) WithEntity(kind Kind, id string) *BackendError {
	e.Kind = kind
	e.EntityID = id
	return e
}

func (e *BackendError) WithBody(body string) *BackendError {
	e.Body = body
	return e
}

func (e *BackendError) WithError(err error) *BackendError {
	e.Err = err
	return e
}

// SQLiteError is a failed local store operation.
type SQLiteError struct {
	Op       string
	Err      error
	Kind     Kind
	EntityID string // entity id, or queue item id for queue operations
}

func (e *SQLiteError) Error() string {
	target := string(e.Kind)
	if e.EntityID != "" {
		target = strings.TrimSpace(target + " " + e.EntityID)
	}
	if target == "" {
		return fmt.Sprintf("sqlite %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("sqlite %s failed for %s: %v", e.Op, target, e.Err)
}

func (e *SQLiteError) Unwrap() error {
	return e.Err
}
