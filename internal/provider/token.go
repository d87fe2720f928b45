package provider

import (
	"fmt"
	"regexp"
)

var tokenRe = regexp.MustCompile(`^[A-Za-z0-9_-]{40}$`)

// ValidateToken checks the shape of an API token without contacting the
// provider.
func ValidateToken(token string) error {
	if token == "" {
		return fmt.Errorf("%w: token is empty", ErrInvalidToken)
	}
	if !tokenRe.MatchString(token) {
		return fmt.Errorf("%w: expected 40 characters of letters, digits, '-' or '_', got %d characters", ErrInvalidToken, len(token))
	}
	return nil
}
