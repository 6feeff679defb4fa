package handlers

import (
	"context"
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

// CreateUserRequest represents a request to create a user. Password is
// optional: users provisioned without one cannot log in until a credential
// is set.
type CreateUserRequest struct {
	Username string   `json:"username" validate:"required,min=1,max=64"`
	Password string   `json:"password,omitempty"`
	Groups   []string `json:"groups,omitempty"`
}

// SetPasswordRequest represents a request to replace a user's credential
type SetPasswordRequest struct {
	Password string `json:"password" validate:"required,min=8"`
}

// UsersHandler handles the user management API
type UsersHandler struct {
	users    repositories.UserRepository
	groups   repositories.GroupRepository
	tx       repositories.TransactionManager
	verifier token.PasswordVerifier
	validate *validator.Validate
	logger   *zap.Logger
}

// NewUsersHandler creates a UsersHandler
func NewUsersHandler(users repositories.UserRepository, groups repositories.GroupRepository, tx repositories.TransactionManager, verifier token.PasswordVerifier, validate *validator.Validate, logger *zap.Logger) *UsersHandler {
	return &UsersHandler{
		users:    users,
		groups:   groups,
		tx:       tx,
		verifier: verifier,
		validate: validate,
		logger:   logger,
	}
}

// HandleList handles GET /api/v1/users
func (h *UsersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}
	_ = utils.WriteOK(w, users)
}

// HandleCreate handles POST /api/v1/users
func (h *UsersHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Validation failed", nil)
		return
	}

	user := &models.User{
		ID:       uuid.NewString(),
		Username: req.Username,
	}
	if req.Password != "" {
		hash, err := h.verifier.Hash(req.Password)
		if err != nil {
			h.logger.Error("failed to hash password", zap.Error(err))
			_ = utils.WriteInternalServerError(w, "")
			return
		}
		user.PasswordHash = hash
	}

	// The user row and any initial group memberships land together or not
	// at all.
	err := h.tx.InTransaction(r.Context(), func(ctx context.Context, _ repositories.Transaction) error {
		if err := h.users.Create(ctx, user); err != nil {
			return err
		}
		for _, group := range req.Groups {
			if err := h.groups.AddUser(ctx, group, req.Username); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrAlreadyExists) {
			_ = utils.WriteConflict(w, "User already exists", nil)
			return
		}
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteBadRequest(w, "Unknown group", nil)
			return
		}
		h.logger.Error("failed to create user", zap.String("username", req.Username), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	_ = utils.WriteCreated(w, user)
}

// HandleGet handles GET /api/v1/users/{username}
func (h *UsersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	user, err := h.users.GetByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "User not found")
			return
		}
		h.logger.Error("failed to load user", zap.String("username", username), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	_ = utils.WriteOK(w, user)
}

// HandleDelete handles DELETE /api/v1/users/{username}
func (h *UsersHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	if err := h.users.Delete(r.Context(), username); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "User not found")
			return
		}
		h.logger.Error("failed to delete user", zap.String("username", username), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	utils.WriteNoContent(w)
}

// HandleSetPassword handles PUT /api/v1/users/{username}/password
func (h *UsersHandler) HandleSetPassword(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	var req SetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Validation failed", nil)
		return
	}

	hash, err := h.verifier.Hash(req.Password)
	if err != nil {
		h.logger.Error("failed to hash password", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	if err := h.users.SetPassword(r.Context(), username, hash); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "User not found")
			return
		}
		h.logger.Error("failed to set password", zap.String("username", username), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	utils.WriteNoContent(w)
}

// HandleGroups handles GET /api/v1/users/{username}/groups
func (h *UsersHandler) HandleGroups(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	if _, err := h.users.GetByUsername(r.Context(), username); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "User not found")
			return
		}
		h.logger.Error("failed to load user", zap.String("username", username), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	groups, err := h.groups.GroupsForUser(r.Context(), username)
	if err != nil {
		h.logger.Error("failed to list groups for user", zap.String("username", username), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	_ = utils.WriteOK(w, groups)
}
