package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tinyauth/tinyauth/app"
	"github.com/tinyauth/tinyauth/handlers"
	"github.com/tinyauth/tinyauth/models"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", deps.Config.Token.CSRFHeader},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	healthHandler := handlers.NewHealthHandler(deps.DB, deps.AuditSink, deps.Logger)
	frontendHandler := handlers.NewFrontendHandler(deps.Config.Token, deps.Issuer, deps.Resolver, deps.Logger)
	serviceHandler := handlers.NewServiceHandler(deps.Authz, deps.Issuer, deps.Recorder, deps.Validator, deps.Logger)
	usersHandler := handlers.NewUsersHandler(deps.Users, deps.Groups, deps.TxManager, deps.Verifier, deps.Validator, deps.Logger)
	policiesHandler := handlers.NewPoliciesHandler(deps.Policies, deps.Validator, deps.Logger)
	groupsHandler := handlers.NewGroupsHandler(deps.Groups, deps.Validator, deps.Logger)
	auditHandler := handlers.NewAuditHandler(deps.AuditLogs, deps.Logger)
	accountsHandler := handlers.NewServiceAccountsHandler(deps.ServiceAccounts, deps.Verifier, deps.Validator, deps.Logger)

	auth := deps.InternalAuth

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	// Browser flow
	r.Get("/", frontendHandler.HandleIndex)
	r.Get("/login", frontendHandler.HandleLogin)
	r.Get("/logout", frontendHandler.HandleLogout)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", healthHandler.HandleHealth)

		// Service-to-service authorization endpoints. These gate and audit
		// themselves; the caller's credentials are part of the recorded
		// operation, so no route middleware here.
		r.Post("/authorize-login", serviceHandler.HandleAuthorizeLogin)
		r.Post("/authorize", serviceHandler.HandleAuthorize)
		r.Route("/services/{service}", func(r chi.Router) {
			r.Post("/get-token-for-login", serviceHandler.HandleGetTokenForLogin)
			r.Post("/authorize-by-token", serviceHandler.HandleBatchAuthorize)
			r.With(auth.Require("AttachServicePolicy")).Put("/policies/{name}", policiesHandler.HandleAttachToServiceAccount)
		})

		// Service account registration
		r.Route("/service-accounts", func(r chi.Router) {
			r.With(auth.Require("ListServiceAccounts")).Get("/", accountsHandler.HandleList)
			r.With(auth.Require("CreateServiceAccount")).Post("/", accountsHandler.HandleCreate)
			r.With(auth.Require("DeleteServiceAccount")).Delete("/{accessKeyID}", accountsHandler.HandleDelete)
		})

		// User management, gated per operation against the target user's ARN
		r.Route("/users", func(r chi.Router) {
			r.With(auth.RequireOn("ListUsers", usersARN)).Get("/", usersHandler.HandleList)
			r.With(auth.RequireOn("CreateUser", usersARN)).Post("/", usersHandler.HandleCreate)

			r.Route("/{username}", func(r chi.Router) {
				r.With(auth.RequireOn("GetUser", userARN)).Get("/", usersHandler.HandleGet)
				r.With(auth.RequireOn("DeleteUser", userARN)).Delete("/", usersHandler.HandleDelete)
				r.With(auth.RequireOn("SetUserPassword", userARN)).Put("/password", usersHandler.HandleSetPassword)
				r.With(auth.RequireOn("GetUser", userARN)).Get("/groups", usersHandler.HandleGroups)
				r.With(auth.RequireOn("AttachUserPolicy", userARN)).Put("/policies/{name}", policiesHandler.HandleAttachToUser)
				r.With(auth.RequireOn("DetachUserPolicy", userARN)).Delete("/policies/{name}", policiesHandler.HandleDetachFromUser)
			})
		})

		// Policy management
		r.Route("/policies", func(r chi.Router) {
			r.With(auth.Require("ListPolicies")).Get("/", policiesHandler.HandleList)
			r.With(auth.Require("CreatePolicy")).Post("/", policiesHandler.HandleCreate)
			r.With(auth.Require("GetPolicy")).Get("/{name}", policiesHandler.HandleGet)
			r.With(auth.Require("UpdatePolicy")).Put("/{name}", policiesHandler.HandleUpdate)
			r.With(auth.Require("DeletePolicy")).Delete("/{name}", policiesHandler.HandleDelete)
		})

		// Group management
		r.Route("/groups", func(r chi.Router) {
			r.With(auth.Require("ListGroups")).Get("/", groupsHandler.HandleList)
			r.With(auth.Require("CreateGroup")).Post("/", groupsHandler.HandleCreate)

			r.Route("/{group}", func(r chi.Router) {
				r.With(auth.Require("GetGroup")).Get("/", groupsHandler.HandleGet)
				r.With(auth.Require("DeleteGroup")).Delete("/", groupsHandler.HandleDelete)
				r.With(auth.Require("AddUserToGroup")).Put("/users/{username}", groupsHandler.HandleAddUser)
				r.With(auth.Require("RemoveUserFromGroup")).Delete("/users/{username}", groupsHandler.HandleRemoveUser)
				r.With(auth.Require("AttachGroupPolicy")).Put("/policies/{name}", policiesHandler.HandleAttachToGroup)
				r.With(auth.Require("DetachGroupPolicy")).Delete("/policies/{name}", policiesHandler.HandleDetachFromGroup)
			})
		})

		// Audit trail, read side
		r.With(auth.Require("ListAuditLogs")).Get("/audit/logs", auditHandler.HandleList)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}

// userARN names the user a management route operates on.
func userARN(r *http.Request) string {
	return models.FormatARN("users", chi.URLParam(r, "username"))
}

// usersARN covers collection-level user operations.
func usersARN(*http.Request) string {
	return models.FormatARN("users", "*")
}
