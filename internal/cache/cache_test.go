package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"crmsync/backend"
)

func setCacheHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", dir)
	return dir
}

func TestGetCacheDir(t *testing.T) {
	dir := setCacheHome(t)

	got, err := GetCacheDir()
	if err != nil {
		t.Fatalf("GetCacheDir() error = %v", err)
	}
	if want := filepath.Join(dir, "crmsync"); got != want {
		t.Errorf("GetCacheDir() = %q, want %q", got, want)
	}
	if info, err := os.Stat(got); err != nil || !info.IsDir() {
		t.Errorf("cache dir not created: %v", err)
	}
}

// TestLoadSyncStateMissing tests that no state file yields an empty state
func TestLoadSyncStateMissing(t *testing.T) {
	setCacheHome(t)

	state, err := LoadSyncState()
	if err != nil {
		t.Fatalf("LoadSyncState() error = %v", err)
	}
	if !state.LastPass.IsZero() || len(state.LastRefresh) != 0 {
		t.Errorf("expected empty state, got %+v", state)
	}
}

// TestRecordPass tests persisting the last pass time
func TestRecordPass(t *testing.T) {
	setCacheHome(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := RecordPass(at); err != nil {
		t.Fatalf("RecordPass() error = %v", err)
	}
	if err := RecordPass(at.Add(-time.Hour)); err != nil {
		t.Fatalf("RecordPass(older) error = %v", err)
	}

	state, err := LoadSyncState()
	if err != nil {
		t.Fatalf("LoadSyncState() error = %v", err)
	}
	if !state.LastPass.Equal(at) {
		t.Errorf("LastPass = %v, want %v", state.LastPass, at)
	}
}

// TestRecordRefresh tests per-kind refresh times
func TestRecordRefresh(t *testing.T) {
	setCacheHome(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := RecordPass(at); err != nil {
		t.Fatalf("RecordPass() error = %v", err)
	}
	if err := RecordRefresh(at, backend.KindContact, backend.KindDeal); err != nil {
		t.Fatalf("RecordRefresh() error = %v", err)
	}

	state, err := LoadSyncState()
	if err != nil {
		t.Fatalf("LoadSyncState() error = %v", err)
	}
	if !state.LastRefresh[backend.KindContact].Equal(at) || !state.LastRefresh[backend.KindDeal].Equal(at) {
		t.Errorf("unexpected refresh times: %v", state.LastRefresh)
	}
	if _, ok := state.LastRefresh[backend.KindTicket]; ok {
		t.Error("ticket was not refreshed")
	}
	if !state.LastPass.Equal(at) {
		t.Error("RecordRefresh should keep LastPass")
	}
}

// TestLoadSyncStateCorrupt tests that a corrupt file is reported and replaced
func TestLoadSyncStateCorrupt(t *testing.T) {
	setCacheHome(t)
	file, err := GetCacheFile()
	if err != nil {
		t.Fatalf("GetCacheFile() error = %v", err)
	}
	if err := os.WriteFile(file, []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := LoadSyncState(); err == nil {
		t.Error("LoadSyncState() should fail for a corrupt file")
	}
	if err := RecordPass(time.Now()); err != nil {
		t.Fatalf("RecordPass() error = %v", err)
	}
	if _, err := LoadSyncState(); err != nil {
		t.Errorf("state should be readable after RecordPass: %v", err)
	}
}
