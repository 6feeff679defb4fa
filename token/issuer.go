package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tinyauth/tinyauth/config"
	"github.com/tinyauth/tinyauth/models"
	"github.com/tinyauth/tinyauth/services"
)

// UserSource resolves stored users for credential checks and session lookups.
// Satisfied by repositories.UserRepository.
type UserSource interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// IssuedToken is the result of a successful issuance.
type IssuedToken struct {
	Token     string
	CSRFToken string
	ExpiresAt time.Time
}

// Issuer mints signed session tokens for authenticated users.
type Issuer struct {
	cfg      config.TokenConfig
	users    UserSource
	verifier PasswordVerifier
	now      func() time.Time
}

// NewIssuer creates an Issuer.
func NewIssuer(cfg config.TokenConfig, users UserSource, verifier PasswordVerifier) *Issuer {
	return &Issuer{
		cfg:      cfg,
		users:    users,
		verifier: verifier,
		now:      time.Now,
	}
}

// IssueForLogin verifies a primary credential and mints a session token.
// Unknown user, user without a stored credential, and wrong secret all
// return the same generic authentication error; only logs see the cause.
func (i *Issuer) IssueForLogin(ctx context.Context, username, secret string, strategy CSRFStrategy) (*IssuedToken, error) {
	user, err := i.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, services.NewAuthenticationError(err)
	}
	if !user.HasCredential() {
		return nil, services.NewAuthenticationError(errors.New("no credential on record"))
	}
	if err := i.verifier.Verify(user.PasswordHash, secret); err != nil {
		return nil, services.NewAuthenticationError(err)
	}
	return i.Issue(user.Username, strategy)
}

// Issue mints a session token for an already-authenticated username.
// Only the header-token strategy binds a fresh CSRF token into the
// session; cookie and none sessions carry no binding.
func (i *Issuer) Issue(username string, strategy CSRFStrategy) (*IssuedToken, error) {
	now := i.now().UTC()
	expiresAt := now.Add(i.cfg.TTL)

	claims := &Claims{
		User: username,
		MFA:  false,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	var csrfToken string
	if strategy == StrategyHeaderToken {
		csrfToken = uuid.NewString()
		claims.CSRFToken = csrfToken
	}

	tok := jwt.NewWithClaims(signingMethod(i.cfg.Algorithm), claims)
	signed, err := tok.SignedString([]byte(i.cfg.SigningKey))
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	return &IssuedToken{
		Token:     signed,
		CSRFToken: csrfToken,
		ExpiresAt: expiresAt,
	}, nil
}

// signingMethod maps a validated algorithm name to its jwt method.
// Config validation guarantees the name is in the HMAC allow-list.
func signingMethod(alg string) jwt.SigningMethod {
	switch alg {
	case "HS384":
		return jwt.SigningMethodHS384
	case "HS512":
		return jwt.SigningMethodHS512
	default:
		return jwt.SigningMethodHS256
	}
}
