package credentials

import (
	"os"
	"strings"
)

// TokenEnvVar is consulted for the default profile.
const TokenEnvVar = "CRMSYNC_HUBSPOT_TOKEN"

// normalizeProfile converts a profile name to the format used in environment variables
// Example: "sandbox-eu" becomes "SANDBOX_EU"
func normalizeProfile(profile string) string {
	normalized := strings.ToUpper(profile)
	normalized = strings.ReplaceAll(normalized, "-", "_")
	return normalized
}

// EnvVarName returns the environment variable holding a profile's token
func EnvVarName(profile string) string {
	if profile == "" || profile == DefaultProfile {
		return TokenEnvVar
	}
	return "CRMSYNC_" + normalizeProfile(profile) + "_TOKEN"
}

// GetEnvToken retrieves the token from environment variables
// Looks for: CRMSYNC_HUBSPOT_TOKEN, or CRMSYNC_{PROFILE}_TOKEN for other profiles
func GetEnvToken(profile string) string {
	return strings.TrimSpace(os.Getenv(EnvVarName(profile)))
}
