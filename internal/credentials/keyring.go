package credentials

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name for all crmsync keyring entries
	KeyringService = "crmsync"
	// DefaultProfile names the account used when no profile is configured
	DefaultProfile = "hubspot"
)

// ErrNotFound is returned when no token is stored for a profile.
var ErrNotFound = errors.New("no token stored in keyring")

func account(profile string) string {
	if profile == "" {
		return DefaultProfile
	}
	return profile
}

// Set stores a token in the OS keyring
func Set(profile, token string) error {
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	if err := keyring.Set(KeyringService, account(profile), token); err != nil {
		return fmt.Errorf("failed to store token in keyring: %w", err)
	}
	return nil
}

// Get retrieves a token from the OS keyring
func Get(profile string) (string, error) {
	token, err := keyring.Get(KeyringService, account(profile))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w for profile %q", ErrNotFound, account(profile))
		}
		return "", fmt.Errorf("failed to retrieve token from keyring: %w", err)
	}
	return token, nil
}

// Delete removes a token from the OS keyring
func Delete(profile string) error {
	if err := keyring.Delete(KeyringService, account(profile)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w for profile %q", ErrNotFound, account(profile))
		}
		return fmt.Errorf("failed to delete token from keyring: %w", err)
	}
	return nil
}

// IsAvailable checks if the keyring is accessible
func IsAvailable() bool {
	// A working keyring answers ErrNotFound for an entry that does not exist.
	_, err := keyring.Get(KeyringService+"-keyring-test", "test")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}
