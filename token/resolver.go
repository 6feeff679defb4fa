package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tinyauth/tinyauth/config"
	"github.com/tinyauth/tinyauth/models"
	"github.com/tinyauth/tinyauth/repositories"
	"github.com/tinyauth/tinyauth/services"
)

// Resolver validates inbound session tokens and maps them back to live
// identities. The accepted signing algorithm is the configured one only;
// the token header never picks the algorithm.
type Resolver struct {
	cfg   config.TokenConfig
	users UserSource
}

// NewResolver creates a Resolver.
func NewResolver(cfg config.TokenConfig, users UserSource) *Resolver {
	return &Resolver{cfg: cfg, users: users}
}

// Resolve verifies a session token and returns the identity it names,
// re-fetched from the store, along with the validated claims.
//
// Error mapping: an expired token reports ExpiredSignature; every other
// validation failure, including a non-string user claim and a token signed
// with an unexpected algorithm, reports InvalidSignature. A valid token
// naming an identity that no longer exists reports NoSuchKey.
func (r *Resolver) Resolve(ctx context.Context, tokenString string) (*models.User, *Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return []byte(r.cfg.SigningKey), nil
		},
		jwt.WithValidMethods([]string{r.cfg.Algorithm}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, nil, services.NewAuthorizationError(services.CodeExpiredSignature, err)
		}
		return nil, nil, services.NewAuthorizationError(services.CodeInvalidSignature, err)
	}

	username, ok := claims.Username()
	if !ok {
		return nil, nil, services.NewAuthorizationError(services.CodeInvalidSignature, errors.New("user claim is not a string"))
	}

	user, err := r.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil, services.NewAuthorizationError(services.CodeNoSuchKey, err)
		}
		return nil, nil, fmt.Errorf("load session identity: %w", err)
	}

	return user, claims, nil
}
