package token

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the session-token payload. The user claim is deliberately typed
// as any: a token whose user claim is not a string must be rejected as
// invalid, not crash or coerce.
type Claims struct {
	User      any    `json:"user"`
	MFA       bool   `json:"mfa"`
	CSRFToken string `json:"csrf-token,omitempty"`
	jwt.RegisteredClaims
}

// Username returns the user claim and whether it is a non-empty string.
func (c *Claims) Username() (string, bool) {
	s, ok := c.User.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// HasCSRFBinding reports whether the session was issued with a CSRF token
// that callers must echo back.
func (c *Claims) HasCSRFBinding() bool {
	return c.CSRFToken != ""
}
