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

// PolicyRequest represents a request to create or replace a policy
type PolicyRequest struct {
	Name   string          `json:"name" validate:"required,min=1,max=64"`
	Policy json.RawMessage `json:"policy" validate:"required"`
}

// PoliciesHandler handles the policy management API
type PoliciesHandler struct {
	policies repositories.PolicyRepository
	validate *validator.Validate
	logger   *zap.Logger
}

// NewPoliciesHandler creates a PoliciesHandler
func NewPoliciesHandler(policies repositories.PolicyRepository, validate *validator.Validate, logger *zap.Logger) *PoliciesHandler {
	return &PoliciesHandler{
		policies: policies,
		validate: validate,
		logger:   logger,
	}
}

// decodePolicy parses the body and rejects documents that do not decode
// into well-formed statements. A malformed stored policy would silently
// deny everything, so it is refused at the door instead.
func (h *PoliciesHandler) decodePolicy(w http.ResponseWriter, r *http.Request) (*PolicyRequest, bool) {
	var req PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return nil, false
	}
	if err := h.validate.Struct(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Validation failed", nil)
		return nil, false
	}

	var doc models.PolicyDocument
	if err := json.Unmarshal(req.Policy, &doc); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid policy document", nil)
		return nil, false
	}
	for _, stmt := range doc.Statements {
		if stmt.Effect != models.EffectAllow && stmt.Effect != models.EffectDeny {
			_ = utils.WriteBadRequest(w, "Statement effect must be Allow or Deny", nil)
			return nil, false
		}
	}

	return &req, true
}

// HandleList handles GET /api/v1/policies
func (h *PoliciesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	policies, err := h.policies.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list policies", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}
	_ = utils.WriteOK(w, policies)
}

// HandleCreate handles POST /api/v1/policies
func (h *PoliciesHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodePolicy(w, r)
	if !ok {
		return
	}

	policy := &models.Policy{
		ID:       uuid.NewString(),
		Name:     req.Name,
		Document: req.Policy,
	}

	if err := h.policies.Create(r.Context(), policy); err != nil {
		if errors.Is(err, repositories.ErrAlreadyExists) {
			_ = utils.WriteConflict(w, "Policy already exists", nil)
			return
		}
		h.logger.Error("failed to create policy", zap.String("policy", req.Name), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	_ = utils.WriteCreated(w, policy)
}

// HandleGet handles GET /api/v1/policies/{name}
func (h *PoliciesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	policy, err := h.policies.GetByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Policy not found")
			return
		}
		h.logger.Error("failed to load policy", zap.String("policy", name), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	_ = utils.WriteOK(w, policy)
}

// HandleUpdate handles PUT /api/v1/policies/{name}
func (h *PoliciesHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	req, ok := h.decodePolicy(w, r)
	if !ok {
		return
	}

	policy := &models.Policy{
		Name:     name,
		Document: req.Policy,
	}

	if err := h.policies.Update(r.Context(), policy); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Policy not found")
			return
		}
		h.logger.Error("failed to update policy", zap.String("policy", name), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	_ = utils.WriteOK(w, policy)
}

// HandleDelete handles DELETE /api/v1/policies/{name}
func (h *PoliciesHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.policies.Delete(r.Context(), name); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Policy not found")
			return
		}
		h.logger.Error("failed to delete policy", zap.String("policy", name), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	utils.WriteNoContent(w)
}

// HandleAttachToUser handles PUT /api/v1/users/{username}/policies/{name}
func (h *PoliciesHandler) HandleAttachToUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	name := chi.URLParam(r, "name")

	if err := h.policies.AttachToUser(r.Context(), name, username); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "User or policy not found")
			return
		}
		h.logger.Error("failed to attach policy",
			zap.String("policy", name), zap.String("username", username), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	utils.WriteNoContent(w)
}

// HandleDetachFromUser handles DELETE /api/v1/users/{username}/policies/{name}
func (h *PoliciesHandler) HandleDetachFromUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	name := chi.URLParam(r, "name")

	if err := h.policies.DetachFromUser(r.Context(), name, username); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "User or policy not found")
			return
		}
		h.logger.Error("failed to detach policy",
			zap.String("policy", name), zap.String("username", username), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	utils.WriteNoContent(w)
}

// HandleAttachToServiceAccount handles PUT /api/v1/services/{service}/policies/{name}
func (h *PoliciesHandler) HandleAttachToServiceAccount(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	name := chi.URLParam(r, "name")

	if err := h.policies.AttachToServiceAccount(r.Context(), name, service); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Service account or policy not found")
			return
		}
		h.logger.Error("failed to attach policy to service account",
			zap.String("policy", name), zap.String("service", service), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	utils.WriteNoContent(w)
}

// HandleAttachToGroup handles PUT /api/v1/groups/{group}/policies/{name}
func (h *PoliciesHandler) HandleAttachToGroup(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	name := chi.URLParam(r, "name")

	if err := h.policies.AttachToGroup(r.Context(), name, group); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Group or policy not found")
			return
		}
		h.logger.Error("failed to attach policy to group",
			zap.String("policy", name), zap.String("group", group), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	utils.WriteNoContent(w)
}

// HandleDetachFromGroup handles DELETE /api/v1/groups/{group}/policies/{name}
func (h *PoliciesHandler) HandleDetachFromGroup(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	name := chi.URLParam(r, "name")

	if err := h.policies.DetachFromGroup(r.Context(), name, group); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Group or policy not found")
			return
		}
		h.logger.Error("failed to detach policy from group",
			zap.String("policy", name), zap.String("group", group), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	utils.WriteNoContent(w)
}
