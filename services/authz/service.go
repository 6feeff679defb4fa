package authz

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tinyauth/tinyauth/config"
	"github.com/tinyauth/tinyauth/models"
	"github.com/tinyauth/tinyauth/policy"
	"github.com/tinyauth/tinyauth/repositories"
	"github.com/tinyauth/tinyauth/services"
	"github.com/tinyauth/tinyauth/token"
)

// Service orchestrates session resolution, CSRF enforcement and policy
// evaluation for the three authorization entry points: internal gating of
// this deployment's own endpoints, single-decision calls made by other
// services on behalf of their users, and batch (action x resource) calls.
type Service struct {
	cfg      config.TokenConfig
	resolver *token.Resolver
	users    repositories.UserRepository
	accounts repositories.ServiceAccountRepository
	policies repositories.PolicyRepository
	verifier token.PasswordVerifier
	logger   *zap.Logger
}

// NewService creates an authorization Service.
func NewService(
	cfg config.TokenConfig,
	resolver *token.Resolver,
	users repositories.UserRepository,
	accounts repositories.ServiceAccountRepository,
	policies repositories.PolicyRepository,
	verifier token.PasswordVerifier,
	logger *zap.Logger,
) *Service {
	return &Service{
		cfg:      cfg,
		resolver: resolver,
		users:    users,
		accounts: accounts,
		policies: policies,
		verifier: verifier,
		logger:   logger,
	}
}

// OwnARN returns this deployment's own resource identifier, the resource
// gated by internal authorization on the service endpoints.
func (s *Service) OwnARN() string {
	return models.FormatARN("services", s.cfg.ServiceName)
}

// InternalAuthorize gates one of this deployment's own endpoints. Another
// service presents access-key credentials via Basic auth; a browser admin
// presents its own session instead, and the user's policy set is evaluated
// against the same action and resource. Account credential failures and
// non-Allow decisions fail closed with the same NotPermitted error, while
// session and CSRF failures keep their own codes. The returned account is
// nil for session callers.
func (s *Service) InternalAuthorize(ctx context.Context, action, resource string, headers http.Header) (*models.ServiceAccount, error) {
	accessKeyID, secret, ok := basicAuth(headers)
	if !ok {
		return nil, s.internalAuthorizeSession(ctx, action, resource, headers)
	}

	account, err := s.accounts.GetByAccessKey(ctx, accessKeyID)
	if err != nil {
		return nil, services.NewAuthorizationError(services.CodeNotPermitted, err)
	}
	if err := s.verifier.Verify(account.SecretHash, secret); err != nil {
		return nil, services.NewAuthorizationError(services.CodeNotPermitted, err)
	}

	docs, err := s.policies.DocumentsForServiceAccount(ctx, account.Name)
	if err != nil {
		return nil, fmt.Errorf("load service policies: %w", err)
	}

	decision := policy.Evaluate(docs, action, resource, nil)
	if !decision.Allowed() {
		s.logger.Warn("internal authorization denied",
			zap.String("service", account.Name),
			zap.String("action", action),
			zap.String("resource", resource))
		return nil, services.NewAuthorizationError(services.CodeNotPermitted, fmt.Errorf("service %s may not %s on %s", account.Name, action, resource))
	}

	return account, nil
}

// internalAuthorizeSession gates a management call made with an end-user
// session instead of service credentials.
func (s *Service) internalAuthorizeSession(ctx context.Context, action, resource string, headers http.Header) error {
	user, err := s.resolveSession(ctx, headers)
	if err != nil {
		return err
	}

	docs, err := s.policies.DocumentsForUser(ctx, user.Username)
	if err != nil {
		return fmt.Errorf("load user policies: %w", err)
	}

	decision := policy.Evaluate(docs, action, resource, nil)
	if !decision.Allowed() {
		s.logger.Warn("internal authorization denied",
			zap.String("user", user.Username),
			zap.String("action", action),
			zap.String("resource", resource))
		return services.NewAuthorizationError(services.CodeNotPermitted, fmt.Errorf("user %s may not %s on %s", user.Username, action, resource))
	}

	return nil
}

// ExternalAuthorize decides whether the end user behind a forwarded
// session may perform action on resource. A policy denial is data, not an
// error; only session resolution and CSRF failures abort the call.
func (s *Service) ExternalAuthorize(ctx context.Context, action, resource string, headers http.Header, reqContext map[string]interface{}) (*models.AuthorizationResult, error) {
	user, err := s.resolveSession(ctx, headers)
	if err != nil {
		return nil, err
	}
	return s.evaluateForUser(ctx, user, action, resource, reqContext)
}

// ExternalAuthorizeLogin decides action on resource for a caller that
// forwarded primary credentials (Basic auth) instead of a session token.
func (s *Service) ExternalAuthorizeLogin(ctx context.Context, action, resource string, headers http.Header, reqContext map[string]interface{}) (*models.AuthorizationResult, error) {
	user, err := s.authenticateBasic(ctx, headers)
	if err != nil {
		return nil, err
	}
	return s.evaluateForUser(ctx, user, action, resource, reqContext)
}

// BatchAuthorize evaluates every (action, resource) pair in the permit
// map, with each action namespaced under the calling service's name. The
// caller's session is resolved once and its policy set reused across the
// batch; outcomes are merged only after all pairs are evaluated.
func (s *Service) BatchAuthorize(ctx context.Context, service string, permit map[string][]string, headers http.Header, reqContext map[string]interface{}) (*models.BatchAuthorizationResult, error) {
	user, err := s.resolveSession(ctx, headers)
	if err != nil {
		return nil, err
	}

	docs, err := s.policies.DocumentsForUser(ctx, user.Username)
	if err != nil {
		return nil, fmt.Errorf("load user policies: %w", err)
	}

	result := &models.BatchAuthorizationResult{
		Permitted:    map[string][]string{},
		NotPermitted: map[string][]string{},
	}

	// Sorted for stable output and audit entries; the decision set is
	// order-independent.
	actions := make([]string, 0, len(permit))
	for action := range permit {
		actions = append(actions, action)
	}
	sort.Strings(actions)

	for _, action := range actions {
		namespaced := strings.Join([]string{service, action}, ":")
		for _, resource := range permit[action] {
			decision := policy.Evaluate(docs, namespaced, resource, reqContext)
			if decision.Allowed() {
				result.Permitted[action] = append(result.Permitted[action], resource)
				continue
			}
			result.NotPermitted[action] = append(result.NotPermitted[action], resource)
			result.ErrorCode = services.CodeNotPermitted
		}
	}

	if len(result.NotPermitted) == 0 && len(result.Permitted) > 0 {
		result.Authorized = true
		result.Identity = user.Subject()
	}

	return result, nil
}

// resolveSession extracts the forwarded session token, verifies it and
// enforces the CSRF check for sessions carrying a binding.
func (s *Service) resolveSession(ctx context.Context, headers http.Header) (*models.User, error) {
	raw, err := sessionToken(headers, s.cfg.SessionCookie)
	if err != nil {
		return nil, err
	}

	user, claims, err := s.resolver.Resolve(ctx, raw)
	if err != nil {
		return nil, err
	}

	if err := token.VerifyCSRF(claims, headers.Get(s.cfg.CSRFHeader)); err != nil {
		return nil, err
	}

	return user, nil
}

// authenticateBasic verifies forwarded primary credentials. Every failure
// mode reports the same generic authentication error.
func (s *Service) authenticateBasic(ctx context.Context, headers http.Header) (*models.User, error) {
	username, password, ok := basicAuth(headers)
	if !ok {
		return nil, services.NewAuthenticationError(errors.New("no credentials presented"))
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, services.NewAuthenticationError(err)
	}
	if !user.HasCredential() {
		return nil, services.NewAuthenticationError(errors.New("no credential on record"))
	}
	if err := s.verifier.Verify(user.PasswordHash, password); err != nil {
		return nil, services.NewAuthenticationError(err)
	}

	return user, nil
}

func (s *Service) evaluateForUser(ctx context.Context, user *models.User, action, resource string, reqContext map[string]interface{}) (*models.AuthorizationResult, error) {
	docs, err := s.policies.DocumentsForUser(ctx, user.Username)
	if err != nil {
		return nil, fmt.Errorf("load user policies: %w", err)
	}

	decision := policy.Evaluate(docs, action, resource, reqContext)
	if !decision.Allowed() {
		return &models.AuthorizationResult{
			Authorized: false,
			ErrorCode:  services.CodeNotPermitted,
		}, nil
	}

	return &models.AuthorizationResult{
		Authorized: true,
		Identity:   user.Subject(),
	}, nil
}

// sessionToken pulls the session credential out of forwarded headers:
// the session cookie on browser flows, a bearer Authorization header on
// programmatic flows. Absence is indistinguishable from a forged token.
func sessionToken(headers http.Header, cookieName string) (string, error) {
	req := http.Request{Header: headers}
	if c, err := req.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}

	auth := headers.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		if raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); raw != "" {
			return raw, nil
		}
	}

	return "", services.NewAuthorizationError(services.CodeInvalidSignature, errors.New("no session token presented"))
}

// basicAuth decodes Basic credentials from a header set without needing a
// full request.
func basicAuth(headers http.Header) (string, string, bool) {
	req := http.Request{Header: headers}
	return req.BasicAuth()
}
