package credentials

import (
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestKeyringRoundTrip(t *testing.T) {
	keyring.MockInit()

	if err := Set("", "pat-na1-abc"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := Get(DefaultProfile)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "pat-na1-abc" {
		t.Errorf("Get() = %q, want %q", got, "pat-na1-abc")
	}

	if err := Delete(""); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := Get(""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestSet_EmptyToken(t *testing.T) {
	keyring.MockInit()
	if err := Set("sandbox", ""); err == nil {
		t.Error("Set() with empty token should fail")
	}
}

func TestDelete_NotFound(t *testing.T) {
	keyring.MockInit()
	if err := Delete("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

func TestKeyringProfilesAreSeparate(t *testing.T) {
	keyring.MockInit()
	if err := Set("prod", "prod-token"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := Set("sandbox", "sandbox-token"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, _ := Get("prod"); got != "prod-token" {
		t.Errorf("Get(prod) = %q", got)
	}
	if got, _ := Get("sandbox"); got != "sandbox-token" {
		t.Errorf("Get(sandbox) = %q", got)
	}
}

func TestIsAvailable_Mock(t *testing.T) {
	keyring.MockInit()
	if !IsAvailable() {
		t.Error("mock keyring should be available")
	}
}

func TestKeyringErrorPropagates(t *testing.T) {
	keyring.MockInitWithError(errors.New("dbus unavailable"))
	defer keyring.MockInit()

	_, err := Get("")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want a keyring failure", err)
	}
	if IsAvailable() {
		t.Error("IsAvailable() should be false when the keyring errors")
	}
}
