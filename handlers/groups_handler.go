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
	"github.com/tinyauth/tinyauth/utils"
)

// CreateGroupRequest represents a request to create a group
type CreateGroupRequest struct {
	Name string `json:"name" validate:"required,min=1,max=64"`
}

// GroupsHandler handles the group management API
type GroupsHandler struct {
	groups   repositories.GroupRepository
	validate *validator.Validate
	logger   *zap.Logger
}

// NewGroupsHandler creates a GroupsHandler
func NewGroupsHandler(groups repositories.GroupRepository, validate *validator.Validate, logger *zap.Logger) *GroupsHandler {
	return &GroupsHandler{
		groups:   groups,
		validate: validate,
		logger:   logger,
	}
}

// HandleList handles GET /api/v1/groups
func (h *GroupsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groups.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list groups", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}
	_ = utils.WriteOK(w, groups)
}

// HandleCreate handles POST /api/v1/groups
func (h *GroupsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Validation failed", nil)
		return
	}

	group := &models.Group{
		ID:   uuid.NewString(),
		Name: req.Name,
	}

	if err := h.groups.Create(r.Context(), group); err != nil {
		if errors.Is(err, repositories.ErrAlreadyExists) {
			_ = utils.WriteConflict(w, "Group already exists", nil)
			return
		}
		h.logger.Error("failed to create group", zap.String("group", req.Name), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	_ = utils.WriteCreated(w, group)
}

// HandleGet handles GET /api/v1/groups/{group}
func (h *GroupsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "group")

	group, err := h.groups.GetByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Group not found")
			return
		}
		h.logger.Error("failed to load group", zap.String("group", name), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	_ = utils.WriteOK(w, group)
}

// HandleDelete handles DELETE /api/v1/groups/{group}
func (h *GroupsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "group")

	if err := h.groups.Delete(r.Context(), name); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Group not found")
			return
		}
		h.logger.Error("failed to delete group", zap.String("group", name), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	utils.WriteNoContent(w)
}

// HandleAddUser handles PUT /api/v1/groups/{group}/users/{username}
func (h *GroupsHandler) HandleAddUser(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	username := chi.URLParam(r, "username")

	if err := h.groups.AddUser(r.Context(), group, username); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Group or user not found")
			return
		}
		h.logger.Error("failed to add user to group",
			zap.String("group", group), zap.String("username", username), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	utils.WriteNoContent(w)
}

// HandleRemoveUser handles DELETE /api/v1/groups/{group}/users/{username}
func (h *GroupsHandler) HandleRemoveUser(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	username := chi.URLParam(r, "username")

	if err := h.groups.RemoveUser(r.Context(), group, username); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Group or user not found")
			return
		}
		h.logger.Error("failed to remove user from group",
			zap.String("group", group), zap.String("username", username), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	utils.WriteNoContent(w)
}
