package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tinyauth/tinyauth/models"
	"github.com/tinyauth/tinyauth/repositories"
	"github.com/tinyauth/tinyauth/token"
	"github.com/tinyauth/tinyauth/utils"
)

// CreateServiceAccountRequest represents a request to register a calling
// service
type CreateServiceAccountRequest struct {
	Name string `json:"name" validate:"required,min=1,max=64"`
}

// CreateServiceAccountResponse carries the generated credentials. The
// secret is returned exactly once; only its hash is stored.
type CreateServiceAccountResponse struct {
	Name        string `json:"name"`
	AccessKeyID string `json:"access_key_id"`
	Secret      string `json:"secret"`
}

// ServiceAccountsHandler handles the service account management API
type ServiceAccountsHandler struct {
	accounts repositories.ServiceAccountRepository
	verifier token.PasswordVerifier
	validate *validator.Validate
	logger   *zap.Logger
}

// NewServiceAccountsHandler creates a ServiceAccountsHandler
func NewServiceAccountsHandler(accounts repositories.ServiceAccountRepository, verifier token.PasswordVerifier, validate *validator.Validate, logger *zap.Logger) *ServiceAccountsHandler {
	return &ServiceAccountsHandler{
		accounts: accounts,
		verifier: verifier,
		validate: validate,
		logger:   logger,
	}
}

// HandleList handles GET /api/v1/service-accounts
func (h *ServiceAccountsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list service accounts", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}
	_ = utils.WriteOK(w, accounts)
}

// HandleCreate handles POST /api/v1/service-accounts
func (h *ServiceAccountsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateServiceAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Validation failed", nil)
		return
	}

	accessKeyID := uuid.NewString()
	secret := uuid.NewString()

	hash, err := h.verifier.Hash(secret)
	if err != nil {
		h.logger.Error("failed to hash service secret", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	account := &models.ServiceAccount{
		AccessKeyID: accessKeyID,
		Name:        req.Name,
		SecretHash:  hash,
	}

	if err := h.accounts.Create(r.Context(), account); err != nil {
		if errors.Is(err, repositories.ErrAlreadyExists) {
			_ = utils.WriteConflict(w, "Service account already exists", nil)
			return
		}
		h.logger.Error("failed to create service account", zap.String("name", req.Name), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	_ = utils.WriteCreated(w, CreateServiceAccountResponse{
		Name:        account.Name,
		AccessKeyID: accessKeyID,
		Secret:      secret,
	})
}

// HandleDelete handles DELETE /api/v1/service-accounts/{accessKeyID}
func (h *ServiceAccountsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	accessKeyID := chi.URLParam(r, "accessKeyID")

	if err := h.accounts.Delete(r.Context(), accessKeyID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Service account not found")
			return
		}
		h.logger.Error("failed to delete service account", zap.String("access_key_id", accessKeyID), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	utils.WriteNoContent(w)
}
