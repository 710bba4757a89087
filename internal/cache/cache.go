package cache

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"crmsync/backend"
	"crmsync/internal/utils"
)

// SyncState records when the queue was last pushed and each kind last
// refreshed, so a new process can report it.
type SyncState struct {
	LastPass    time.Time                  `json:"lastPass,omitempty"`
	LastRefresh map[backend.Kind]time.Time `json:"lastRefresh,omitempty"`
}

// GetCacheDir returns the cache directory, creating it if needed.
func GetCacheDir() (string, error) {
	cacheDir, err := utils.CacheDir()
	if err != nil {
		return "", err
	}
	return cacheDir, os.MkdirAll(cacheDir, 0755)
}

// GetCacheFile returns the full path to the sync state file
func GetCacheFile() (string, error) {
	cacheDir, err := GetCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "state.json"), nil
}

// LoadSyncState reads the state file. A missing file yields an empty state.
func LoadSyncState() (*SyncState, error) {
	state := &SyncState{LastRefresh: make(map[backend.Kind]time.Time)}

	cacheFile, err := GetCacheFile()
	if err != nil {
		return state, err
	}
	data, err := os.ReadFile(cacheFile)
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, err
	}
	if err := json.Unmarshal(data, state); err != nil {
		return state, err
	}
	if state.LastRefresh == nil {
		state.LastRefresh = make(map[backend.Kind]time.Time)
	}
	return state, nil
}

// SaveSyncState writes the state file atomically.
func SaveSyncState(state *SyncState) error {
	cacheFile, err := GetCacheFile()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(cacheFile), "state-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), cacheFile)
}

// RecordPass stores the completion time of a sync pass. Older times are ignored.
func RecordPass(at time.Time) error {
	state, err := LoadSyncState()
	if err != nil {
		utils.Debugf("Discarding unreadable sync state: %v", err)
	}
	if !at.After(state.LastPass) {
		return nil
	}
	state.LastPass = at
	return SaveSyncState(state)
}

// RecordRefresh stores the refresh time for each kind.
func RecordRefresh(at time.Time, kinds ...backend.Kind) error {
	if len(kinds) == 0 {
		return nil
	}
	state, err := LoadSyncState()
	if err != nil {
		utils.Debugf("Discarding unreadable sync state: %v", err)
	}
	for _, kind := range kinds {
		state.LastRefresh[kind] = at
	}
	return SaveSyncState(state)
}
