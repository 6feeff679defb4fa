package token

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/tinyauth/tinyauth/services"
)

// CSRFStrategy selects how a session's CSRF token is delivered to the
// client at issuance time.
type CSRFStrategy string

const (
	// StrategyHeaderToken embeds a CSRF token in the session and returns it
	// to the caller; every subsequent use must echo it in the CSRF header.
	// The only strategy that produces a CSRF binding.
	StrategyHeaderToken CSRFStrategy = "header-token"

	// StrategyCookie issues a session with no CSRF binding. The calling
	// service delivers the token in a cookie and handles CSRF itself.
	StrategyCookie CSRFStrategy = "cookie"

	// StrategyNone issues a session with no CSRF binding, for callers that
	// never present the token from a browser context.
	StrategyNone CSRFStrategy = "none"
)

// ParseStrategy validates a caller-supplied strategy name. The empty string
// defaults to header-token, the safest choice for API callers.
func ParseStrategy(s string) (CSRFStrategy, error) {
	switch CSRFStrategy(s) {
	case StrategyHeaderToken, StrategyCookie, StrategyNone:
		return CSRFStrategy(s), nil
	case "":
		return StrategyHeaderToken, nil
	default:
		return "", fmt.Errorf("unknown csrf strategy %q", s)
	}
}

// VerifyCSRF enforces the double-submit check for a resolved session.
// Sessions without a CSRF binding pass unconditionally. Bound sessions
// require the presented value to match in constant time; a missing header
// is just an empty presented value and fails the same way.
func VerifyCSRF(claims *Claims, presented string) error {
	if !claims.HasCSRFBinding() {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(claims.CSRFToken), []byte(presented)) != 1 {
		return services.NewAuthorizationError(services.CodeCsrfError, errors.New("csrf token mismatch"))
	}
	return nil
}
