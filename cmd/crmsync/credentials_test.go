package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"

	"crmsync/backend"
	"crmsync/internal/credentials"
)

// TestCredentialsShow tests reporting the token source
func TestCredentialsShow(t *testing.T) {
	setupCLI(t, backend.NewMockRemote())

	out := mustRun(t, "credentials", "show")
	if !strings.Contains(out, "demo CRM") {
		t.Errorf("expected demo notice without a token: %s", out)
	}

	t.Setenv(credentials.TokenEnvVar, "pat-na1-abcd1234")
	st := decodeJSON[map[string]any](t, mustRun(t, "credentials", "show", "-o", "json"))
	if st["source"] != "env" || st["token"] != "************1234" {
		t.Errorf("unexpected credential status: %v", st)
	}
}

// TestCredentialsSetDelete tests keyring storage through the CLI
func TestCredentialsSetDelete(t *testing.T) {
	keyring.MockInit()
	setupCLI(t, backend.NewMockRemote())

	out := mustRun(t, "credentials", "set", "pat-secret-9876")
	if !strings.Contains(out, "Token stored") {
		t.Errorf("unexpected set output: %s", out)
	}
	if got, err := credentials.Get(credentials.DefaultProfile); err != nil || got != "pat-secret-9876" {
		t.Fatalf("keyring token = %q, %v", got, err)
	}

	mustRun(t, "credentials", "set", "--profile", "sandbox", "pat-sandbox")
	if got, _ := credentials.Get("sandbox"); got != "pat-sandbox" {
		t.Errorf("sandbox token = %q", got)
	}

	if out := mustRun(t, "credentials", "delete", "--force"); !strings.Contains(out, "removed") {
		t.Errorf("unexpected delete output: %s", out)
	}
	if out := mustRun(t, "credentials", "delete", "--force"); !strings.Contains(out, "No keyring token") {
		t.Errorf("second delete should report nothing stored: %s", out)
	}
}

// TestConfigInitAndShow tests writing the sample and printing the result
func TestConfigInitAndShow(t *testing.T) {
	dir := setupCLI(t, backend.NewMockRemote())
	path := filepath.Join(dir, "custom", "config.yaml")

	out := mustRun(t, "--config", path, "config", "init")
	if !strings.Contains(out, path) {
		t.Errorf("init should report the path: %s", out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if _, err := runCLI(t, "--config", path, "config", "init"); err == nil {
		t.Error("init should refuse to overwrite without --force")
	}
	mustRun(t, "--config", path, "config", "init", "--force")

	out = mustRun(t, "--config", path, "config", "show")
	if !strings.Contains(out, "# "+path) || !strings.Contains(out, "page_size: 100") {
		t.Errorf("unexpected config show output: %s", out)
	}

	t.Setenv("CRMSYNC_HUBSPOT_TOKEN", "pat-hidden")
	out = mustRun(t, "--config", path, "config", "show")
	if strings.Contains(out, "pat-hidden") {
		t.Error("config show must not print the token")
	}
}

// TestMissingConfigFile tests that --config pointing nowhere fails
func TestMissingConfigFile(t *testing.T) {
	dir := setupCLI(t, backend.NewMockRemote())
	if _, err := runCLI(t, "--config", filepath.Join(dir, "nope.yaml"), "status"); err == nil {
		t.Error("status with a missing config file should fail")
	}
}
