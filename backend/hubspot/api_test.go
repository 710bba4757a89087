package hubspot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"crmsync/backend"
)

// pagedServer serves total contacts in pages, using the offset as cursor.
// Requests carrying an empty cursor are counted in emptyCursor.
func pagedServer(t *testing.T, total int, requests, emptyCursor *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodGet || r.URL.Path != "/crm/v3/objects/contacts" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		atomic.AddInt32(requests, 1)
		if r.URL.Query().Has("after") && r.URL.Query().Get("after") == "" {
			atomic.AddInt32(emptyCursor, 1)
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset := 0
		if after := r.URL.Query().Get("after"); after != "" {
			offset, _ = strconv.Atoi(after)
		}
		end := offset + limit
		if end > total {
			end = total
		}

		page := map[string]any{}
		var results []map[string]any
		for i := offset; i < end; i++ {
			results = append(results, map[string]any{
				"id":         strconv.Itoa(i + 1),
				"properties": map[string]string{"firstname": fmt.Sprintf("Contact %d", i+1)},
				"updatedAt":  "2024-03-01T10:00:00Z",
			})
		}
		page["results"] = results
		if end < total {
			page["paging"] = map[string]any{"next": map[string]any{"after": strconv.Itoa(end)}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(page)
	}))
}

// TestFetchAllPagination tests that every page is requested exactly once
func TestFetchAllPagination(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		pageSize int
		requests int32
	}{
		{"empty", 0, 3, 1},
		{"single page", 2, 3, 1},
		{"exact pages", 6, 3, 2},
		{"partial last page", 7, 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests, emptyCursor int32
			server := pagedServer(t, tt.total, &requests, &emptyCursor)
			defer server.Close()

			client := New("test-token", WithBaseURL(server.URL), WithPageSize(tt.pageSize))
			entities, err := client.FetchAll(context.Background(), backend.KindContact)
			if err != nil {
				t.Fatalf("FetchAll() error = %v", err)
			}
			if len(entities) != tt.total {
				t.Errorf("got %d entities, want %d", len(entities), tt.total)
			}
			if got := atomic.LoadInt32(&requests); got != tt.requests {
				t.Errorf("got %d requests, want %d", got, tt.requests)
			}
			if got := atomic.LoadInt32(&emptyCursor); got != 0 {
				t.Errorf("%d requests sent an empty after cursor", got)
			}

			seen := make(map[string]bool)
			for _, e := range entities {
				id := e.Meta().ID
				if seen[id] {
					t.Errorf("duplicate id %s", id)
				}
				seen[id] = true
				if e.Meta().SyncStatus != backend.StatusSynced {
					t.Errorf("entity %s status = %s, want synced", id, e.Meta().SyncStatus)
				}
			}
		})
	}
}

// TestFetchAllMapsFields tests property and association mapping on fetch
func TestFetchAllMapsFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"id":"501","properties":{"firstname":"Jane","lastname":"Cooper","email":"jane@example.com"},
			"updatedAt":"2024-03-01T10:00:00Z",
			"associations":{"companies":{"results":[{"id":"77","type":"contact_to_company"}]}}}]}`))
	}))
	defer server.Close()

	client := New("test-token", WithBaseURL(server.URL))
	entities, err := client.FetchAll(context.Background(), backend.KindContact)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("got %d entities, want 1", len(entities))
	}
	c := entities[0].(*backend.Contact)
	if c.ID != "501" || c.FirstName != "Jane" || c.LastName != "Cooper" || c.Email != "jane@example.com" {
		t.Errorf("unexpected contact %+v", c)
	}
	if c.CompanyID != "77" {
		t.Errorf("CompanyID = %q, want 77", c.CompanyID)
	}
	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	if c.UpdatedAt != want {
		t.Errorf("UpdatedAt = %d, want %d", c.UpdatedAt, want)
	}
}

// TestCreateParsesRecord tests that the server id and timestamp are returned
func TestCreateParsesRecord(t *testing.T) {
	var gotProps map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/crm/v3/objects/contacts":
			var req propertiesRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			gotProps = req.Properties
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"42","properties":{},"updatedAt":"2024-03-01T10:00:00Z"}`))
		case r.Method == http.MethodPut:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := New("test-token", WithBaseURL(server.URL))
	rec, err := client.Create(context.Background(), &backend.Contact{
		SyncMeta:  backend.SyncMeta{ID: "temp-1"},
		FirstName: "Ada",
		Email:     "ada@example.com",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec.ID != "42" {
		t.Errorf("ID = %q, want 42", rec.ID)
	}
	if want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli(); rec.UpdatedAt != want {
		t.Errorf("UpdatedAt = %d, want %d", rec.UpdatedAt, want)
	}
	if gotProps["firstname"] != "Ada" || gotProps["email"] != "ada@example.com" {
		t.Errorf("unexpected properties %v", gotProps)
	}
	if _, ok := gotProps["id"]; ok {
		t.Error("local id should not be sent as a property")
	}
}

// TestErrorMessages tests that failures carry the HTTP status text
func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantSubstr string
	}{
		{"forbidden", http.StatusForbidden, "", "403 Forbidden"},
		{"server error", http.StatusInternalServerError, "", "500 Internal Server Error"},
		{"hubspot message", http.StatusBadRequest, `{"status":"error","message":"Property values were not valid"}`, "400 Bad Request: Property values were not valid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := New("test-token", WithBaseURL(server.URL))
			_, err := client.Update(context.Background(), backend.KindDeal, "9", map[string]any{"amount": 500.0})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSubstr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantSubstr)
			}

			var be *backend.BackendError
			if !errors.As(err, &be) {
				t.Fatalf("expected *backend.BackendError, got %T", err)
			}
			if be.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", be.StatusCode, tt.status)
			}
			if be.EntityID != "9" {
				t.Errorf("EntityID = %q, want 9", be.EntityID)
			}
		})
	}
}

// TestNetworkError tests that an unreachable host surfaces as an error
func TestNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := New("test-token", WithBaseURL(url))
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected error from closed server")
	}
}

// TestUpdateMapsProperties tests that only mapped fields are sent
func TestUpdateMapsProperties(t *testing.T) {
	var gotPath string
	var gotProps map[string]string
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		gotPath = r.URL.Path
		if r.Method != http.MethodPatch {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req propertiesRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotProps = req.Properties
		_, _ = w.Write([]byte(`{"id":"9","updatedAt":"2024-03-02T00:00:00Z"}`))
	}))
	defer server.Close()

	client := New("test-token", WithBaseURL(server.URL))
	rec, err := client.Update(context.Background(), backend.KindDeal, "9", map[string]any{
		"amount":     json.Number("1500"),
		"stageLabel": "Closed Won",
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if gotPath != "/crm/v3/objects/deals/9" {
		t.Errorf("path = %q", gotPath)
	}
	if gotProps["amount"] != "1500" {
		t.Errorf("amount = %q, want 1500", gotProps["amount"])
	}
	if len(gotProps) != 1 {
		t.Errorf("unexpected properties %v", gotProps)
	}
	if rec.ID != "9" {
		t.Errorf("ID = %q, want 9", rec.ID)
	}

	// Label-only changes have nothing to send.
	if _, err := client.Update(context.Background(), backend.KindDeal, "9", map[string]any{"stageLabel": "x"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("got %d calls, want 1", calls)
	}
}

// TestDeleteActivityUsesTypePath tests that an activity delete targets its engagement object
func TestDeleteActivityUsesTypePath(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := New("test-token", WithBaseURL(server.URL))
	err := client.Delete(context.Background(), &backend.Activity{
		SyncMeta: backend.SyncMeta{ID: "300"},
		Type:     backend.ActivityCall,
	})
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/crm/v3/objects/calls/300" {
		t.Errorf("got %s %s", gotMethod, gotPath)
	}
}

// TestNewRemoteDemoFallback tests that an empty token selects the demo client
func TestNewRemoteDemoFallback(t *testing.T) {
	if _, ok := NewRemote("").(*DemoClient); !ok {
		t.Error("empty token should return *DemoClient")
	}
	if _, ok := NewRemote("token").(*Client); !ok {
		t.Error("token should return *Client")
	}
}
