package utils

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorWithSuggestion_Error(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		suggestion     string
		wantContains   []string
		wantNotContain string
	}{
		{
			name:         "with suggestion",
			err:          errors.New("contact not found"),
			suggestion:   "Try searching with a different term",
			wantContains: []string{"contact not found", "Suggestion:", "Try searching"},
		},
		{
			name:           "without suggestion",
			err:            errors.New("simple error"),
			suggestion:     "",
			wantContains:   []string{"simple error"},
			wantNotContain: "Suggestion:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &ErrorWithSuggestion{
				Err:        tt.err,
				Suggestion: tt.suggestion,
			}

			result := e.Error()

			for _, want := range tt.wantContains {
				if !strings.Contains(result, want) {
					t.Errorf("Error() = %q, want to contain %q", result, want)
				}
			}

			if tt.wantNotContain != "" && strings.Contains(result, tt.wantNotContain) {
				t.Errorf("Error() = %q, should not contain %q", result, tt.wantNotContain)
			}
		})
	}
}

func TestErrorWithSuggestion_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	wrapped := &ErrorWithSuggestion{
		Err:        originalErr,
		Suggestion: "do something",
	}

	unwrapped := wrapped.Unwrap()
	if unwrapped != originalErr {
		t.Errorf("Unwrap() returned %v, want %v", unwrapped, originalErr)
	}

	// Test with errors.Is
	if !errors.Is(wrapped, originalErr) {
		t.Error("errors.Is should work with wrapped error")
	}
}

func TestErrEntityNotFound(t *testing.T) {
	err := ErrEntityNotFound("contact", "42")

	errStr := err.Error()
	if !strings.Contains(errStr, "contact '42' not found") {
		t.Errorf("Error should name the record, got: %s", errStr)
	}
	if !strings.Contains(errStr, "crmsync refresh") {
		t.Errorf("Error should suggest refresh, got: %s", errStr)
	}
}

func TestErrQueueItemNotFound(t *testing.T) {
	err := ErrQueueItemNotFound(7)

	errStr := err.Error()
	if !strings.Contains(errStr, "queue item 7") {
		t.Errorf("Error should contain the id, got: %s", errStr)
	}
	if !strings.Contains(errStr, "crmsync queue list") {
		t.Errorf("Error should suggest 'crmsync queue list', got: %s", errStr)
	}
}

func TestErrQueueItemInFlight(t *testing.T) {
	errStr := ErrQueueItemInFlight(3).Error()
	if !strings.Contains(errStr, "queue item 3 is being synced") {
		t.Errorf("Error should name the item, got: %s", errStr)
	}
	if !strings.Contains(errStr, "crmsync sync --reconcile") {
		t.Errorf("Error should suggest reconcile, got: %s", errStr)
	}
}

func TestErrInvalidKind(t *testing.T) {
	err := ErrInvalidKind("lead", []string{"contact", "company"})

	errStr := err.Error()
	if !strings.Contains(errStr, "lead") || !strings.Contains(errStr, "contact, company") {
		t.Errorf("unexpected error: %s", errStr)
	}
}

func TestErrRemoteOffline(t *testing.T) {
	tests := []struct {
		name           string
		reason         string
		wantSuggestion string
	}{
		{
			name:           "DNS error",
			reason:         "lookup api.hubapi.com: no such host",
			wantSuggestion: "DNS settings",
		},
		{
			name:           "Connection refused",
			reason:         "connection refused",
			wantSuggestion: "reachable from this network",
		},
		{
			name:           "Timeout",
			reason:         "context deadline exceeded",
			wantSuggestion: "slow or unreachable",
		},
		{
			name:           "Generic error",
			reason:         "unknown error",
			wantSuggestion: "stay queued locally",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ErrRemoteOffline(tt.reason)

			errStr := err.Error()
			if !strings.Contains(errStr, tt.reason) {
				t.Errorf("Error should contain reason, got: %s", errStr)
			}
			if !strings.Contains(errStr, tt.wantSuggestion) {
				t.Errorf("Error should contain suggestion about '%s', got: %s", tt.wantSuggestion, errStr)
			}
		})
	}
}

func TestErrInvalidConfig(t *testing.T) {
	errStr := ErrInvalidConfig("sync.page_size", "must be between 1 and 100").Error()
	if !strings.Contains(errStr, "sync.page_size") || !strings.Contains(errStr, "between 1 and 100") {
		t.Errorf("unexpected error: %s", errStr)
	}
}

func TestWrapWithSuggestion(t *testing.T) {
	if WrapWithSuggestion(nil, "ignored") != nil {
		t.Error("WrapWithSuggestion(nil) should return nil")
	}

	base := errors.New("base")
	err := WrapWithSuggestion(base, "try again")
	if !errors.Is(err, base) {
		t.Error("wrapped error should match base with errors.Is")
	}
	if !strings.Contains(err.Error(), "try again") {
		t.Errorf("Error should contain suggestion, got: %s", err.Error())
	}
}
