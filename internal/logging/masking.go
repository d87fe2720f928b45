// Package logging builds the process logger and masks secrets before they
// reach it.
package logging

import (
	"strings"
)

// MaskHeader redacts sensitive header values based on header name.
// Returns the redacted value suitable for logging.
//
// Rules:
// - Password/secret headers: "[REDACTED]" (no partial reveal)
// - Authorization and API key headers: "****" + last4chars (e.g., "****ab3f")
// - Other headers: returned unchanged
func MaskHeader(name, value string) string {
	lowerName := strings.ToLower(name)

	// Password/secret headers - full redaction
	if strings.Contains(lowerName, "password") ||
		strings.Contains(lowerName, "secret") ||
		strings.Contains(lowerName, "private-key") {
		return "[REDACTED]"
	}

	// Token/API key headers - show last 4 chars
	if lowerName == "authorization" ||
		lowerName == "x-auth-key" ||
		lowerName == "x-auth-email" ||
		lowerName == "x-api-key" {
		return MaskToken(value)
	}

	// All other headers - return unchanged
	return value
}

// MaskToken hides all but the last four characters of a credential.
// Values shorter than eight characters are hidden completely.
func MaskToken(token string) string {
	if len(token) < 8 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}
