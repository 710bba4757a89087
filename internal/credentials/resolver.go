package credentials

import (
	"fmt"
	"strings"
)

// Source indicates where the token was found
type Source string

const (
	SourceKeyring Source = "keyring"
	SourceEnv     Source = "env"
	SourceConfig  Source = "config"
	SourceNone    Source = "none"
)

// Credentials is a resolved HubSpot access token
type Credentials struct {
	Profile string `json:"profile" yaml:"profile"`
	Token   string `json:"-" yaml:"-"`
	Source  Source `json:"source" yaml:"source"`
}

// Masked returns the token with all but its last four characters hidden.
func (c *Credentials) Masked() string {
	if c == nil || c.Token == "" {
		return ""
	}
	if len(c.Token) <= 4 {
		return strings.Repeat("*", len(c.Token))
	}
	return strings.Repeat("*", len(c.Token)-4) + c.Token[len(c.Token)-4:]
}

// Resolver finds the token for a profile.
// Priority order: Keyring > Environment Variables > Config file
type Resolver struct {
	useKeyring bool
}

// NewResolver creates a new credential resolver
func NewResolver() *Resolver {
	return &Resolver{useKeyring: true}
}

// WithoutKeyring skips the keyring, for environments without a session bus.
func (r *Resolver) WithoutKeyring() *Resolver {
	r.useKeyring = false
	return r
}

// Resolve returns the token for profile, trying the keyring, then the
// environment, then configToken. A missing token is not an error: the
// returned credentials have SourceNone and the caller falls back to demo mode.
func (r *Resolver) Resolve(profile, configToken string) (*Credentials, error) {
	creds := &Credentials{Profile: account(profile), Source: SourceNone}

	if r.useKeyring && IsAvailable() {
		token, err := Get(profile)
		if err == nil && token != "" {
			creds.Token = token
			creds.Source = SourceKeyring
			return creds, nil
		}
	}

	if token := GetEnvToken(profile); token != "" {
		creds.Token = token
		creds.Source = SourceEnv
		return creds, nil
	}

	if token := strings.TrimSpace(configToken); token != "" {
		if strings.ContainsAny(token, " \t\n") {
			return nil, fmt.Errorf("configured token for profile %q contains whitespace", creds.Profile)
		}
		creds.Token = token
		creds.Source = SourceConfig
		return creds, nil
	}

	return creds, nil
}
