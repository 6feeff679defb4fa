package middleware

import (
	"context"

	"github.com/tinyauth/tinyauth/models"
)

// Context key type to avoid collisions
type contextKey string

const (
	// CallerKey is the context key for the authenticated calling service
	CallerKey contextKey = "caller"
)

// GetCallerFromContext retrieves the authenticated calling service from
// context, or nil outside an internally-authorized route.
func GetCallerFromContext(ctx context.Context) *models.ServiceAccount {
	if val := ctx.Value(CallerKey); val != nil {
		if account, ok := val.(*models.ServiceAccount); ok {
			return account
		}
	}
	return nil
}

// WithCaller adds the authenticated calling service to the context
func WithCaller(ctx context.Context, account *models.ServiceAccount) context.Context {
	return context.WithValue(ctx, CallerKey, account)
}
