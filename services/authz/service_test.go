package authz

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/tinyauth/tinyauth/config"
	"github.com/tinyauth/tinyauth/models"
	"github.com/tinyauth/tinyauth/repositories"
	"github.com/tinyauth/tinyauth/services"
	"github.com/tinyauth/tinyauth/token"
)

type fakeUsers struct {
	users map[string]*models.User
}

func (f *fakeUsers) Create(ctx context.Context, user *models.User) error { return nil }
func (f *fakeUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	return nil, repositories.ErrNotFound
}
func (f *fakeUsers) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	u, ok := f.users[username]
	if !ok {
		return nil, fmt.Errorf("user not found: %s: %w", username, repositories.ErrNotFound)
	}
	return u, nil
}
func (f *fakeUsers) List(ctx context.Context) ([]*models.User, error)                   { return nil, nil }
func (f *fakeUsers) SetPassword(ctx context.Context, username, passwordHash string) error { return nil }
func (f *fakeUsers) Delete(ctx context.Context, username string) error                  { return nil }
func (f *fakeUsers) WithTx(tx repositories.Transaction) repositories.UserRepository     { return f }

type fakeAccounts struct {
	accounts map[string]*models.ServiceAccount
}

func (f *fakeAccounts) Create(ctx context.Context, account *models.ServiceAccount) error { return nil }
func (f *fakeAccounts) GetByAccessKey(ctx context.Context, accessKeyID string) (*models.ServiceAccount, error) {
	a, ok := f.accounts[accessKeyID]
	if !ok {
		return nil, fmt.Errorf("service account not found: %s: %w", accessKeyID, repositories.ErrNotFound)
	}
	return a, nil
}
func (f *fakeAccounts) List(ctx context.Context) ([]*models.ServiceAccount, error) { return nil, nil }
func (f *fakeAccounts) Delete(ctx context.Context, accessKeyID string) error       { return nil }

type fakePolicies struct {
	byUser    map[string][]models.PolicyDocument
	byAccount map[string][]models.PolicyDocument
}

func (f *fakePolicies) Create(ctx context.Context, policy *models.Policy) error { return nil }
func (f *fakePolicies) GetByName(ctx context.Context, name string) (*models.Policy, error) {
	return nil, repositories.ErrNotFound
}
func (f *fakePolicies) List(ctx context.Context) ([]*models.Policy, error)      { return nil, nil }
func (f *fakePolicies) Update(ctx context.Context, policy *models.Policy) error { return nil }
func (f *fakePolicies) Delete(ctx context.Context, name string) error           { return nil }
func (f *fakePolicies) AttachToUser(ctx context.Context, policyName, username string) error {
	return nil
}
func (f *fakePolicies) DetachFromUser(ctx context.Context, policyName, username string) error {
	return nil
}
func (f *fakePolicies) AttachToGroup(ctx context.Context, policyName, groupName string) error {
	return nil
}
func (f *fakePolicies) DetachFromGroup(ctx context.Context, policyName, groupName string) error {
	return nil
}
func (f *fakePolicies) AttachToServiceAccount(ctx context.Context, policyName, accountName string) error {
	return nil
}
func (f *fakePolicies) DocumentsForUser(ctx context.Context, username string) ([]models.PolicyDocument, error) {
	return f.byUser[username], nil
}
func (f *fakePolicies) DocumentsForServiceAccount(ctx context.Context, accountName string) ([]models.PolicyDocument, error) {
	return f.byAccount[accountName], nil
}
func (f *fakePolicies) WithTx(tx repositories.Transaction) repositories.PolicyRepository { return f }

func allowDoc(stmts ...models.Statement) models.PolicyDocument {
	return models.PolicyDocument{Version: "2012-10-17", Statements: stmts}
}

func mustHash(t *testing.T, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

type fixture struct {
	svc    *Service
	issuer *token.Issuer
	cfg    config.TokenConfig
}

func newFixture(t *testing.T, users *fakeUsers, accounts *fakeAccounts, policies *fakePolicies) *fixture {
	t.Helper()
	cfg := config.TokenConfig{
		SigningKey:    "test-signing-key",
		Algorithm:     "HS256",
		TTL:           8 * time.Hour,
		ServiceName:   "tinyauth",
		SessionCookie: "tinysess",
		CSRFCookie:    "tinycsrf",
		CSRFHeader:    "X-CSRF-Token",
	}
	verifier := &token.BcryptVerifier{Cost: bcrypt.MinCost}
	resolver := token.NewResolver(cfg, users)
	svc := NewService(cfg, resolver, users, accounts, policies, verifier, zap.NewNop())
	return &fixture{
		svc:    svc,
		issuer: token.NewIssuer(cfg, users, verifier),
		cfg:    cfg,
	}
}

// sessionHeaders builds forwarded headers carrying a fresh session for the
// user, with the CSRF token echoed the way a well-behaved client would.
func (f *fixture) sessionHeaders(t *testing.T, username string) http.Header {
	t.Helper()
	issued, err := f.issuer.Issue(username, token.StrategyHeaderToken)
	require.NoError(t, err)

	h := http.Header{}
	h.Set("Cookie", fmt.Sprintf("%s=%s", f.cfg.SessionCookie, issued.Token))
	h.Set(f.cfg.CSRFHeader, issued.CSRFToken)
	return h
}

func charlesFixture(t *testing.T, docs ...models.PolicyDocument) *fixture {
	t.Helper()
	users := &fakeUsers{users: map[string]*models.User{
		"charles": {ID: "1", Username: "charles", PasswordHash: mustHash(t, "mrfluffy")},
	}}
	policies := &fakePolicies{byUser: map[string][]models.PolicyDocument{"charles": docs}}
	return newFixture(t, users, &fakeAccounts{}, policies)
}

func TestExternalAuthorizeGrantsAndDeniesAsData(t *testing.T) {
	f := charlesFixture(t, allowDoc(
		models.Statement{Effect: models.EffectAllow, Action: "myservice:read", Resource: "arn:tinyauth:myservice:*"},
	))
	headers := f.sessionHeaders(t, "charles")

	t.Run("grant", func(t *testing.T) {
		result, err := f.svc.ExternalAuthorize(context.Background(), "myservice:read", "arn:tinyauth:myservice:doc1", headers, nil)
		require.NoError(t, err)
		assert.True(t, result.Authorized)
		assert.Equal(t, "charles", result.Identity)
		assert.Empty(t, result.ErrorCode)
	})

	t.Run("denial is data not error", func(t *testing.T) {
		result, err := f.svc.ExternalAuthorize(context.Background(), "myservice:write", "arn:tinyauth:myservice:doc1", headers, nil)
		require.NoError(t, err)
		assert.False(t, result.Authorized)
		assert.Equal(t, services.CodeNotPermitted, result.ErrorCode)
		assert.Empty(t, result.Identity)
	})
}

func TestExternalAuthorizeSessionFailuresAbort(t *testing.T) {
	f := charlesFixture(t)

	t.Run("no token presented", func(t *testing.T) {
		_, err := f.svc.ExternalAuthorize(context.Background(), "a", "r", http.Header{}, nil)
		require.Error(t, err)
		assert.Equal(t, services.CodeInvalidSignature, services.AuthorizationCode(err))
	})

	t.Run("garbage token", func(t *testing.T) {
		h := http.Header{}
		h.Set("Authorization", "Bearer not-a-token")
		_, err := f.svc.ExternalAuthorize(context.Background(), "a", "r", h, nil)
		require.Error(t, err)
		assert.Equal(t, services.CodeInvalidSignature, services.AuthorizationCode(err))
	})

	t.Run("missing csrf header", func(t *testing.T) {
		h := f.sessionHeaders(t, "charles")
		h.Del(f.cfg.CSRFHeader)
		_, err := f.svc.ExternalAuthorize(context.Background(), "a", "r", h, nil)
		require.Error(t, err)
		assert.Equal(t, services.CodeCsrfError, services.AuthorizationCode(err))
	})

	t.Run("mismatched csrf header", func(t *testing.T) {
		h := f.sessionHeaders(t, "charles")
		h.Set(f.cfg.CSRFHeader, "stale-value")
		_, err := f.svc.ExternalAuthorize(context.Background(), "a", "r", h, nil)
		require.Error(t, err)
		assert.Equal(t, services.CodeCsrfError, services.AuthorizationCode(err))
	})
}

func TestExternalAuthorizeBearerTokenWithoutCSRFBinding(t *testing.T) {
	f := charlesFixture(t, allowDoc(
		models.Statement{Effect: models.EffectAllow, Action: "*", Resource: "*"},
	))

	issued, err := f.issuer.Issue("charles", token.StrategyNone)
	require.NoError(t, err)

	h := http.Header{}
	h.Set("Authorization", "Bearer "+issued.Token)

	result, err := f.svc.ExternalAuthorize(context.Background(), "myservice:read", "x", h, nil)
	require.NoError(t, err)
	assert.True(t, result.Authorized)
}

func TestExternalAuthorizeCookieStrategySessionNeedsNoCSRFHeader(t *testing.T) {
	f := charlesFixture(t, allowDoc(
		models.Statement{Effect: models.EffectAllow, Action: "myservice:read", Resource: "*"},
	))

	issued, err := f.issuer.Issue("charles", token.StrategyCookie)
	require.NoError(t, err)
	assert.Empty(t, issued.CSRFToken)

	h := http.Header{}
	h.Set("Authorization", "Bearer "+issued.Token)

	result, err := f.svc.ExternalAuthorize(context.Background(), "myservice:read", "x", h, nil)
	require.NoError(t, err)
	assert.True(t, result.Authorized)
	assert.Equal(t, "charles", result.Identity)
}

func TestExternalAuthorizeLogin(t *testing.T) {
	f := charlesFixture(t, allowDoc(
		models.Statement{Effect: models.EffectAllow, Action: "myservice:read", Resource: "*"},
	))

	t.Run("valid credentials", func(t *testing.T) {
		h := http.Header{}
		req := http.Request{Header: h}
		req.SetBasicAuth("charles", "mrfluffy")

		result, err := f.svc.ExternalAuthorizeLogin(context.Background(), "myservice:read", "x", h, nil)
		require.NoError(t, err)
		assert.True(t, result.Authorized)
		assert.Equal(t, "charles", result.Identity)
	})

	t.Run("wrong password", func(t *testing.T) {
		h := http.Header{}
		req := http.Request{Header: h}
		req.SetBasicAuth("charles", "wrong")

		_, err := f.svc.ExternalAuthorizeLogin(context.Background(), "myservice:read", "x", h, nil)
		require.Error(t, err)
		assert.True(t, services.IsAuthenticationError(err))
	})

	t.Run("missing credentials", func(t *testing.T) {
		_, err := f.svc.ExternalAuthorizeLogin(context.Background(), "myservice:read", "x", http.Header{}, nil)
		require.Error(t, err)
		assert.True(t, services.IsAuthenticationError(err))
	})
}

func TestInternalAuthorize(t *testing.T) {
	accounts := &fakeAccounts{accounts: map[string]*models.ServiceAccount{
		"AKID1": {AccessKeyID: "AKID1", Name: "billing", SecretHash: mustHash(t, "sekrit")},
	}}
	policies := &fakePolicies{byAccount: map[string][]models.PolicyDocument{
		"billing": {allowDoc(
			models.Statement{Effect: models.EffectAllow, Action: "Authorize", Resource: "arn:tinyauth:services:tinyauth"},
		)},
	}}
	f := newFixture(t, &fakeUsers{}, accounts, policies)

	serviceCreds := func(key, secret string) http.Header {
		h := http.Header{}
		req := http.Request{Header: h}
		req.SetBasicAuth(key, secret)
		return h
	}

	t.Run("permitted service", func(t *testing.T) {
		account, err := f.svc.InternalAuthorize(context.Background(), "Authorize", f.svc.OwnARN(), serviceCreds("AKID1", "sekrit"))
		require.NoError(t, err)
		assert.Equal(t, "billing", account.Name)
		assert.Equal(t, "arn:tinyauth:services:billing", account.ARN())
	})

	tests := []struct {
		name    string
		action  string
		headers http.Header
	}{
		{"unknown access key", "Authorize", serviceCreds("AKID9", "sekrit")},
		{"wrong secret", "Authorize", serviceCreds("AKID1", "nope")},
		{"action not granted", "GetTokenForLogin", serviceCreds("AKID1", "sekrit")},
	}
	for _, tt := range tests {
		t.Run(tt.name+" fails closed", func(t *testing.T) {
			_, err := f.svc.InternalAuthorize(context.Background(), tt.action, f.svc.OwnARN(), tt.headers)
			require.Error(t, err)
			assert.Equal(t, services.CodeNotPermitted, services.AuthorizationCode(err))
		})
	}
}

func TestInternalAuthorizeWithUserSession(t *testing.T) {
	users := &fakeUsers{users: map[string]*models.User{
		"charles": {ID: "1", Username: "charles", PasswordHash: mustHash(t, "mrfluffy")},
	}}
	policies := &fakePolicies{byUser: map[string][]models.PolicyDocument{
		"charles": {allowDoc(
			models.Statement{Effect: models.EffectAllow, Action: "ListUsers", Resource: "arn:tinyauth:users:*"},
		)},
	}}
	f := newFixture(t, users, &fakeAccounts{}, policies)

	t.Run("permitted session passes with no account", func(t *testing.T) {
		headers := f.sessionHeaders(t, "charles")
		account, err := f.svc.InternalAuthorize(context.Background(), "ListUsers", "arn:tinyauth:users:*", headers)
		require.NoError(t, err)
		assert.Nil(t, account)
	})

	t.Run("session without the needed grant fails closed", func(t *testing.T) {
		headers := f.sessionHeaders(t, "charles")
		_, err := f.svc.InternalAuthorize(context.Background(), "DeleteUser", "arn:tinyauth:users:bob", headers)
		require.Error(t, err)
		assert.Equal(t, services.CodeNotPermitted, services.AuthorizationCode(err))
	})

	t.Run("session with a stale csrf header keeps its own code", func(t *testing.T) {
		headers := f.sessionHeaders(t, "charles")
		headers.Set(f.cfg.CSRFHeader, "stale-value")
		_, err := f.svc.InternalAuthorize(context.Background(), "ListUsers", "arn:tinyauth:users:*", headers)
		require.Error(t, err)
		assert.Equal(t, services.CodeCsrfError, services.AuthorizationCode(err))
	})

	t.Run("no credentials at all reports a session failure", func(t *testing.T) {
		_, err := f.svc.InternalAuthorize(context.Background(), "ListUsers", "arn:tinyauth:users:*", http.Header{})
		require.Error(t, err)
		assert.Equal(t, services.CodeInvalidSignature, services.AuthorizationCode(err))
	})
}

func TestBatchAuthorizePartitionsOutcomes(t *testing.T) {
	f := charlesFixture(t, allowDoc(
		models.Statement{Effect: models.EffectAllow, Action: "myservice:read", Resource: "*"},
		models.Statement{Effect: models.EffectDeny, Action: "myservice:write", Resource: "a"},
	))
	headers := f.sessionHeaders(t, "charles")

	permit := map[string][]string{
		"read":  {"a", "b"},
		"write": {"a"},
	}

	result, err := f.svc.BatchAuthorize(context.Background(), "myservice", permit, headers, nil)
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{"read": {"a", "b"}}, result.Permitted)
	assert.Equal(t, map[string][]string{"write": {"a"}}, result.NotPermitted)
	assert.False(t, result.Authorized)
	assert.Equal(t, services.CodeNotPermitted, result.ErrorCode)
	assert.Empty(t, result.Identity)
}

func TestBatchAuthorizeAllGranted(t *testing.T) {
	f := charlesFixture(t, allowDoc(
		models.Statement{Effect: models.EffectAllow, Action: "myservice:*", Resource: "*"},
	))
	headers := f.sessionHeaders(t, "charles")

	permit := map[string][]string{
		"read":  {"a", "b"},
		"write": {"a"},
	}

	result, err := f.svc.BatchAuthorize(context.Background(), "myservice", permit, headers, nil)
	require.NoError(t, err)

	assert.True(t, result.Authorized)
	assert.Equal(t, "charles", result.Identity)
	assert.Empty(t, result.NotPermitted)
	assert.Empty(t, result.ErrorCode)
	assert.Len(t, result.Permitted["read"], 2)
}

func TestBatchAuthorizeEmptyPermitIsUnauthorized(t *testing.T) {
	f := charlesFixture(t, allowDoc(
		models.Statement{Effect: models.EffectAllow, Action: "*", Resource: "*"},
	))
	headers := f.sessionHeaders(t, "charles")

	result, err := f.svc.BatchAuthorize(context.Background(), "myservice", map[string][]string{}, headers, nil)
	require.NoError(t, err)

	assert.False(t, result.Authorized)
	assert.Empty(t, result.Permitted)
	assert.Empty(t, result.NotPermitted)
}

func TestBatchAuthorizeBadSessionAborts(t *testing.T) {
	f := charlesFixture(t)

	h := http.Header{}
	h.Set("Authorization", "Bearer tampered")

	_, err := f.svc.BatchAuthorize(context.Background(), "myservice", map[string][]string{"read": {"a"}}, h, nil)
	require.Error(t, err)
	assert.Equal(t, services.CodeInvalidSignature, services.AuthorizationCode(err))
}
