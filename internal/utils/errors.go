package utils

import (
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a helpful suggestion for the user
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface
func (e *ErrorWithSuggestion) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%v\n\nSuggestion: %s", e.Err, e.Suggestion)
	}
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// Common error constructors with suggestions

// ErrEntityNotFound creates an error when a local record is missing
func ErrEntityNotFound(kind, id string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("%s '%s' not found", kind, id),
		Suggestion: "Run 'crmsync refresh' to pull the latest records from HubSpot",
	}
}

// ErrQueueItemNotFound creates an error when a queue item id is unknown or not in the expected state
func ErrQueueItemNotFound(id int64) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("queue item %d not found", id),
		Suggestion: "Run 'crmsync queue list' to see queued changes",
	}
}

// ErrQueueItemInFlight creates an error when discarding an item a pass is pushing
func ErrQueueItemInFlight(id int64) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("queue item %d is being synced", id),
		Suggestion: "Wait for the pass to finish, or run 'crmsync sync --reconcile' if a crashed pass left it behind",
	}
}

// ErrInvalidKind creates an error for an unknown entity kind
func ErrInvalidKind(kind string, validKinds []string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid entity kind: %s", kind),
		Suggestion: fmt.Sprintf("Valid kinds: %s", strings.Join(validKinds, ", ")),
	}
}

// ErrRemoteOffline creates an error when HubSpot cannot be reached
func ErrRemoteOffline(reason string) error {
	suggestion := "Check your internet connection and try again. Changes stay queued locally"
	if strings.Contains(reason, "DNS") || strings.Contains(reason, "no such host") {
		suggestion = "Check your DNS settings and internet connection"
	} else if strings.Contains(reason, "refused") {
		suggestion = "Check that the API host is reachable from this network"
	} else if strings.Contains(reason, "timeout") || strings.Contains(reason, "deadline") {
		suggestion = "HubSpot may be slow or unreachable. Try again later"
	}

	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("HubSpot is unreachable: %s", reason),
		Suggestion: suggestion,
	}
}

// ErrAuthenticationFailed creates an error when HubSpot rejects the token
func ErrAuthenticationFailed() error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("HubSpot rejected the access token"),
		Suggestion: "Check the token with 'crmsync credentials show' and replace it with 'crmsync credentials set'",
	}
}

// ErrConfigFileNotFound creates an error when config file is not found
func ErrConfigFileNotFound(path string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("config file not found at %s", path),
		Suggestion: "Create it or omit --config to use ~/.config/crmsync/config.yaml",
	}
}

// ErrInvalidConfig creates an error for invalid configuration
func ErrInvalidConfig(field string, reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid configuration for '%s': %s", field, reason),
		Suggestion: fmt.Sprintf("Check ~/.config/crmsync/config.yaml (or CRMSYNC_* variables) and fix the '%s' field", field),
	}
}

// WrapWithSuggestion wraps an existing error with a suggestion
func WrapWithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}
