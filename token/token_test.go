package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tinyauth/tinyauth/config"
	"github.com/tinyauth/tinyauth/models"
	"github.com/tinyauth/tinyauth/repositories"
	"github.com/tinyauth/tinyauth/services"
)

type stubUsers struct {
	users map[string]*models.User
}

func (s *stubUsers) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	u, ok := s.users[username]
	if !ok {
		return nil, fmt.Errorf("user not found: %s: %w", username, repositories.ErrNotFound)
	}
	return u, nil
}

func testTokenConfig() config.TokenConfig {
	return config.TokenConfig{
		SigningKey:    "test-signing-key",
		Algorithm:     "HS256",
		TTL:           8 * time.Hour,
		ServiceName:   "tinyauth",
		SessionCookie: "tinysess",
		CSRFCookie:    "tinycsrf",
		CSRFHeader:    "X-CSRF-Token",
	}
}

func testVerifier() *BcryptVerifier {
	return &BcryptVerifier{Cost: bcrypt.MinCost}
}

func storedUser(t *testing.T, username, password string) *models.User {
	t.Helper()
	hash, err := testVerifier().Hash(password)
	require.NoError(t, err)
	return &models.User{
		ID:           "11111111-1111-1111-1111-111111111111",
		Username:     username,
		PasswordHash: hash,
	}
}

func TestIssueForLoginAndResolveRoundTrip(t *testing.T) {
	cfg := testTokenConfig()
	store := &stubUsers{users: map[string]*models.User{
		"charles": storedUser(t, "charles", "mrfluffy"),
	}}
	issuer := NewIssuer(cfg, store, testVerifier())
	resolver := NewResolver(cfg, store)

	issued, err := issuer.IssueForLogin(context.Background(), "charles", "mrfluffy", StrategyHeaderToken)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
	assert.NotEmpty(t, issued.CSRFToken)
	assert.WithinDuration(t, time.Now().Add(cfg.TTL), issued.ExpiresAt, time.Minute)

	user, claims, err := resolver.Resolve(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "charles", user.Subject())
	assert.Equal(t, "arn:tinyauth:users:charles", user.ARN())
	assert.Equal(t, issued.CSRFToken, claims.CSRFToken)
	assert.True(t, claims.HasCSRFBinding())
}

func TestIssueCSRFBindingPerStrategy(t *testing.T) {
	cfg := testTokenConfig()
	store := &stubUsers{users: map[string]*models.User{
		"charles": storedUser(t, "charles", "mrfluffy"),
	}}
	issuer := NewIssuer(cfg, store, testVerifier())
	resolver := NewResolver(cfg, store)

	tests := []struct {
		strategy  CSRFStrategy
		wantBound bool
	}{
		{StrategyHeaderToken, true},
		{StrategyCookie, false},
		{StrategyNone, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			issued, err := issuer.Issue("charles", tt.strategy)
			require.NoError(t, err)

			_, claims, err := resolver.Resolve(context.Background(), issued.Token)
			require.NoError(t, err)

			if tt.wantBound {
				assert.NotEmpty(t, issued.CSRFToken)
				assert.True(t, claims.HasCSRFBinding())
			} else {
				assert.Empty(t, issued.CSRFToken)
				assert.False(t, claims.HasCSRFBinding())
			}
		})
	}
}

func TestIssueForLoginFailuresAreUniform(t *testing.T) {
	cfg := testTokenConfig()
	store := &stubUsers{users: map[string]*models.User{
		"charles": storedUser(t, "charles", "mrfluffy"),
		"ghost":   {ID: "2", Username: "ghost"}, // no stored credential
	}}
	issuer := NewIssuer(cfg, store, testVerifier())

	tests := []struct {
		name     string
		username string
		secret   string
	}{
		{"unknown user", "nobody", "mrfluffy"},
		{"wrong secret", "charles", "wrong"},
		{"no credential on record", "ghost", "anything"},
		{"empty secret", "charles", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issued, err := issuer.IssueForLogin(context.Background(), tt.username, tt.secret, StrategyHeaderToken)
			assert.Nil(t, issued)
			require.Error(t, err)
			assert.True(t, services.IsAuthenticationError(err))
			assert.Contains(t, err.Error(), services.InvalidCredentials)
		})
	}
}

func TestResolveRejectsTamperedToken(t *testing.T) {
	cfg := testTokenConfig()
	store := &stubUsers{users: map[string]*models.User{
		"charles": storedUser(t, "charles", "mrfluffy"),
	}}
	issuer := NewIssuer(cfg, store, testVerifier())
	resolver := NewResolver(cfg, store)

	issued, err := issuer.Issue("charles", StrategyNone)
	require.NoError(t, err)

	// Flip a character in the signature segment.
	tampered := issued.Token[:len(issued.Token)-1]
	if strings.HasSuffix(issued.Token, "A") {
		tampered += "B"
	} else {
		tampered += "A"
	}

	_, _, err = resolver.Resolve(context.Background(), tampered)
	require.Error(t, err)
	assert.Equal(t, services.CodeInvalidSignature, services.AuthorizationCode(err))
}

func TestResolveRejectsExpiredToken(t *testing.T) {
	cfg := testTokenConfig()
	store := &stubUsers{users: map[string]*models.User{
		"charles": storedUser(t, "charles", "mrfluffy"),
	}}
	issuer := NewIssuer(cfg, store, testVerifier())
	issuer.now = func() time.Time { return time.Now().Add(-9 * time.Hour) }
	resolver := NewResolver(cfg, store)

	issued, err := issuer.Issue("charles", StrategyNone)
	require.NoError(t, err)

	_, _, err = resolver.Resolve(context.Background(), issued.Token)
	require.Error(t, err)
	assert.Equal(t, services.CodeExpiredSignature, services.AuthorizationCode(err))
}

func TestResolveRejectsNonStringUserClaim(t *testing.T) {
	cfg := testTokenConfig()
	store := &stubUsers{users: map[string]*models.User{
		"charles": storedUser(t, "charles", "mrfluffy"),
	}}
	resolver := NewResolver(cfg, store)

	now := time.Now().UTC()
	tests := []struct {
		name string
		user any
	}{
		{"object user claim", map[string]any{"name": "charles"}},
		{"numeric user claim", 42},
		{"null user claim", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"user": tt.user,
				"mfa":  false,
				"iat":  now.Unix(),
				"exp":  now.Add(time.Hour).Unix(),
			})
			signed, err := raw.SignedString([]byte(cfg.SigningKey))
			require.NoError(t, err)

			_, _, err = resolver.Resolve(context.Background(), signed)
			require.Error(t, err)
			assert.Equal(t, services.CodeInvalidSignature, services.AuthorizationCode(err))
		})
	}
}

func TestResolveRejectsUnexpectedAlgorithm(t *testing.T) {
	cfg := testTokenConfig()
	store := &stubUsers{users: map[string]*models.User{
		"charles": storedUser(t, "charles", "mrfluffy"),
	}}
	resolver := NewResolver(cfg, store)

	now := time.Now().UTC()
	raw := jwt.NewWithClaims(jwt.SigningMethodHS384, jwt.MapClaims{
		"user": "charles",
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
	})
	signed, err := raw.SignedString([]byte(cfg.SigningKey))
	require.NoError(t, err)

	_, _, err = resolver.Resolve(context.Background(), signed)
	require.Error(t, err)
	assert.Equal(t, services.CodeInvalidSignature, services.AuthorizationCode(err))
}

func TestResolveVanishedIdentityReportsNoSuchKey(t *testing.T) {
	cfg := testTokenConfig()
	store := &stubUsers{users: map[string]*models.User{
		"charles": storedUser(t, "charles", "mrfluffy"),
	}}
	issuer := NewIssuer(cfg, store, testVerifier())
	resolver := NewResolver(cfg, store)

	issued, err := issuer.Issue("charles", StrategyNone)
	require.NoError(t, err)

	delete(store.users, "charles")

	_, _, err = resolver.Resolve(context.Background(), issued.Token)
	require.Error(t, err)
	assert.Equal(t, services.CodeNoSuchKey, services.AuthorizationCode(err))
}

func TestVerifyCSRF(t *testing.T) {
	bound := &Claims{User: "charles", CSRFToken: "f3a1c2d4"}
	unbound := &Claims{User: "charles"}

	t.Run("unbound session passes without a header", func(t *testing.T) {
		assert.NoError(t, VerifyCSRF(unbound, ""))
	})

	t.Run("bound session passes with the matching token", func(t *testing.T) {
		assert.NoError(t, VerifyCSRF(bound, "f3a1c2d4"))
	})

	t.Run("bound session rejects a mismatched token", func(t *testing.T) {
		err := VerifyCSRF(bound, "other")
		require.Error(t, err)
		assert.Equal(t, services.CodeCsrfError, services.AuthorizationCode(err))
	})

	t.Run("bound session rejects a missing token", func(t *testing.T) {
		err := VerifyCSRF(bound, "")
		require.Error(t, err)
		assert.Equal(t, services.CodeCsrfError, services.AuthorizationCode(err))
	})
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		input   string
		want    CSRFStrategy
		wantErr bool
	}{
		{"header-token", StrategyHeaderToken, false},
		{"cookie", StrategyCookie, false},
		{"none", StrategyNone, false},
		{"", StrategyHeaderToken, false},
		{"double-submit", "", true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("input %q", tt.input), func(t *testing.T) {
			got, err := ParseStrategy(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthorizationErrorComparesByCode(t *testing.T) {
	err := services.NewAuthorizationError(services.CodeCsrfError, errors.New("underlying"))
	assert.True(t, errors.Is(err, services.NewAuthorizationError(services.CodeCsrfError, nil)))
	assert.False(t, errors.Is(err, services.NewAuthorizationError(services.CodeInvalidSignature, nil)))
}
