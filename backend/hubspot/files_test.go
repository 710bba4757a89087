package hubspot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"crmsync/backend"
)

// TestDecodeAttachment tests base64 and data URL input
func TestDecodeAttachment(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr bool
	}{
		{"raw base64", "aGVsbG8=", "hello", false},
		{"data url", "data:text/plain;base64,aGVsbG8=", "hello", false},
		{"malformed data url", "data:text/plain;base64", "", true},
		{"invalid base64", "!!!", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeAttachment(tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeAttachment() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && string(got) != tt.want {
				t.Errorf("decodeAttachment() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestCreateActivityWithAttachments tests upload, attachment ids and association codes
func TestCreateActivityWithAttachments(t *testing.T) {
	var mu sync.Mutex
	var created map[string]string
	var associations []string
	uploads := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/files/v3/files":
			uploads++
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if r.FormValue("folderPath") != "/uploaded_from_pwa" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, header, err := r.FormFile("file")
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			// The second file fails to upload.
			if header.Filename == "broken.pdf" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(`{"id":"file-` + header.Filename + `"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/crm/v3/objects/notes":
			var req propertiesRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			created = req.Properties
			_, _ = w.Write([]byte(`{"id":"900","updatedAt":"2024-03-01T10:00:00Z"}`))
		case r.Method == http.MethodPut:
			associations = append(associations, r.URL.Path)
			// Linking to the deal fails; the create still succeeds.
			if r.URL.Path == "/crm/v3/objects/notes/900/associations/deals/55/214" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := New("test-token", WithBaseURL(server.URL))
	rec, err := client.Create(context.Background(), &backend.Activity{
		SyncMeta:  backend.SyncMeta{ID: "temp"},
		Type:      backend.ActivityNote,
		Body:      "Met at the booth",
		Timestamp: 1709287200000,
		ContactID: "11",
		DealID:    "55",
		Attachments: []backend.Attachment{
			{Name: "card.png", Type: "image/png", Data: "aGVsbG8="},
			{Name: "broken.pdf", Type: "application/pdf", Data: "aGVsbG8="},
		},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec.ID != "900" {
		t.Errorf("ID = %q, want 900", rec.ID)
	}

	mu.Lock()
	defer mu.Unlock()
	if uploads != 2 {
		t.Errorf("got %d uploads, want 2", uploads)
	}
	if created["hs_attachment_ids"] != "file-card.png" {
		t.Errorf("hs_attachment_ids = %q, want file-card.png", created["hs_attachment_ids"])
	}
	if created["hs_note_body"] != "Met at the booth" {
		t.Errorf("hs_note_body = %q", created["hs_note_body"])
	}
	if created["hs_timestamp"] != "2024-03-01T10:00:00.000Z" {
		t.Errorf("hs_timestamp = %q", created["hs_timestamp"])
	}

	sort.Strings(associations)
	want := []string{
		"/crm/v3/objects/notes/900/associations/contacts/11/202",
		"/crm/v3/objects/notes/900/associations/deals/55/214",
	}
	if len(associations) != len(want) {
		t.Fatalf("associations = %v, want %v", associations, want)
	}
	for i := range want {
		if associations[i] != want[i] {
			t.Errorf("association[%d] = %q, want %q", i, associations[i], want[i])
		}
	}
}

// TestCreateContactAssociatesCompany tests the default association for records
func TestCreateContactAssociatesCompany(t *testing.T) {
	var associated string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			_, _ = w.Write([]byte(`{"id":"12"}`))
		case http.MethodPut:
			associated = r.URL.Path
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer server.Close()

	client := New("test-token", WithBaseURL(server.URL))
	_, err := client.Create(context.Background(), &backend.Contact{FirstName: "Ada", CompanyID: "7"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if associated != "/crm/v4/objects/contacts/12/associations/default/companies/7" {
		t.Errorf("associated = %q", associated)
	}
}

// TestAssociationCode tests the engagement association table
func TestAssociationCode(t *testing.T) {
	for _, at := range backend.AllActivityTypes() {
		for _, target := range []string{"contacts", "companies", "deals", "tickets"} {
			if _, ok := AssociationCode(at, target); !ok {
				t.Errorf("missing association code for %s -> %s", at, target)
			}
		}
	}
	if code, _ := AssociationCode(backend.ActivityCall, "contacts"); code != 194 {
		t.Errorf("call->contacts = %d, want 194", code)
	}
}
