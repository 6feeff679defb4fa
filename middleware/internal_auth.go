package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/tinyauth/tinyauth/models"
	"github.com/tinyauth/tinyauth/utils"
)

// InternalAuthorizer gates this deployment's own endpoints against the
// calling service's access-key credentials, or against an end-user
// session when none are presented. Satisfied by authz.Service.
type InternalAuthorizer interface {
	InternalAuthorize(ctx context.Context, action, resource string, headers http.Header) (*models.ServiceAccount, error)
	OwnARN() string
}

// InternalAuthMiddleware protects management routes: only services whose
// policies allow the named action on this deployment's ARN get through.
type InternalAuthMiddleware struct {
	authorizer InternalAuthorizer
	logger     *zap.Logger
}

// NewInternalAuthMiddleware creates an InternalAuthMiddleware
func NewInternalAuthMiddleware(authorizer InternalAuthorizer, logger *zap.Logger) *InternalAuthMiddleware {
	return &InternalAuthMiddleware{
		authorizer: authorizer,
		logger:     logger,
	}
}

// Require returns route middleware that fails closed unless the caller is
// permitted to perform action on this deployment. A service caller's
// authenticated account is stored on the request context for handlers;
// session callers leave no account.
func (m *InternalAuthMiddleware) Require(action string) func(http.Handler) http.Handler {
	return m.RequireOn(action, func(*http.Request) string {
		return m.authorizer.OwnARN()
	})
}

// RequireOn is Require with a per-request resource, for routes whose
// gated resource depends on a path parameter.
func (m *InternalAuthMiddleware) RequireOn(action string, resource func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, err := m.authorizer.InternalAuthorize(r.Context(), action, resource(r), r.Header)
			if err != nil {
				m.logger.Warn("internal authorization rejected",
					zap.String("action", action),
					zap.String("path", r.URL.Path),
					zap.Error(err))
				_ = utils.WriteAuthFailure(w, err)
				return
			}

			ctx := r.Context()
			if account != nil {
				ctx = WithCaller(ctx, account)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
