package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tinyauth/tinyauth/models"
	"github.com/tinyauth/tinyauth/services"
	"github.com/tinyauth/tinyauth/services/audit"
	"github.com/tinyauth/tinyauth/services/authz"
	"github.com/tinyauth/tinyauth/token"
	"github.com/tinyauth/tinyauth/utils"
)

// errRequestHandled signals that the handler already wrote a response
// (malformed input) and the audit wrapper should not write another.
var errRequestHandled = errors.New("request handled")

// ServiceHandler serves the service-to-service authorization endpoints.
// Every endpoint is gated by internal authorization of the calling service
// and wrapped in audit capture.
type ServiceHandler struct {
	authz    *authz.Service
	issuer   *token.Issuer
	recorder *audit.Recorder
	validate *validator.Validate
	logger   *zap.Logger
}

// NewServiceHandler creates a ServiceHandler
func NewServiceHandler(authzSvc *authz.Service, issuer *token.Issuer, recorder *audit.Recorder, validate *validator.Validate, logger *zap.Logger) *ServiceHandler {
	return &ServiceHandler{
		authz:    authzSvc,
		issuer:   issuer,
		recorder: recorder,
		validate: validate,
		logger:   logger,
	}
}

// tokenForLoginRequest is the body of get-token-for-login.
type tokenForLoginRequest struct {
	Username     string `json:"username" validate:"required"`
	Password     string `json:"password" validate:"required"`
	CSRFStrategy string `json:"csrf-strategy" validate:"required"`
}

// tokenForLoginResponse carries the minted session token, plus the CSRF
// token to echo back when the strategy calls for one.
type tokenForLoginResponse struct {
	Token string `json:"token"`
	CSRF  string `json:"csrf,omitempty"`
}

// HandleAuthorizeLogin handles POST /api/v1/authorize-login: a single
// authorization decision for a caller forwarding primary credentials.
func (h *ServiceHandler) HandleAuthorizeLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var result *models.AuthorizationResult
	err := h.recorder.Record(ctx, "AuthorizeByLogin", func(e *audit.Entry) error {
		if _, err := h.authz.InternalAuthorize(ctx, "Authorize", h.authz.OwnARN(), r.Header); err != nil {
			return err
		}

		req, err := h.decodeAuthorizationRequest(w, r, e)
		if err != nil {
			return err
		}

		result, err = h.authz.ExternalAuthorizeLogin(ctx, req.Action, req.Resource, req.ForwardedHeaders(), req.Context)
		if err != nil {
			return err
		}

		h.recordDecision(e, result)
		return nil
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleAuthorize handles POST /api/v1/authorize: a single authorization
// decision for a caller forwarding an end-user session.
func (h *ServiceHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var result *models.AuthorizationResult
	err := h.recorder.Record(ctx, "AuthorizeByToken", func(e *audit.Entry) error {
		e.SetRequest("legacy", true)

		if _, err := h.authz.InternalAuthorize(ctx, "Authorize", h.authz.OwnARN(), r.Header); err != nil {
			return err
		}

		req, err := h.decodeAuthorizationRequest(w, r, e)
		if err != nil {
			return err
		}

		result, err = h.authz.ExternalAuthorize(ctx, req.Action, req.Resource, req.ForwardedHeaders(), req.Context)
		if err != nil {
			return err
		}

		h.recordDecision(e, result)
		return nil
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleGetTokenForLogin handles POST /api/v1/services/{service}/get-token-for-login:
// mints a session token for one of the calling service's users.
func (h *ServiceHandler) HandleGetTokenForLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	service := chi.URLParam(r, "service")

	var resp tokenForLoginResponse
	err := h.recorder.Record(ctx, "GetTokenForLogin", func(e *audit.Entry) error {
		e.SetRequest("service", service)

		if _, err := h.authz.InternalAuthorize(ctx, "GetTokenForLogin", models.FormatARN("services", service), r.Header); err != nil {
			return err
		}

		var req tokenForLoginRequest
		if err := h.decode(w, r, &req); err != nil {
			return err
		}

		e.SetRequest("username", req.Username)
		e.SetRequest("csrf-strategy", req.CSRFStrategy)

		strategy, err := token.ParseStrategy(req.CSRFStrategy)
		if err != nil {
			// Unknown strategies report like any other bad login so the
			// endpoint has a single failure shape.
			return services.NewAuthenticationError(err)
		}

		issued, err := h.issuer.IssueForLogin(ctx, req.Username, req.Password, strategy)
		if err != nil {
			return err
		}

		resp = tokenForLoginResponse{Token: issued.Token, CSRF: issued.CSRFToken}
		e.SetResponse("token-issued", true)
		return nil
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	_ = utils.WriteOK(w, resp)
}

// HandleBatchAuthorize handles POST /api/v1/services/{service}/authorize-by-token:
// one decision per (action, resource) pair in the permit map, with actions
// namespaced under the calling service's name.
func (h *ServiceHandler) HandleBatchAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	service := chi.URLParam(r, "service")

	var result *models.BatchAuthorizationResult
	err := h.recorder.Record(ctx, "AuthorizeByToken", func(e *audit.Entry) error {
		e.SetRequest("service", service)
		e.SetResponse("authorized", false)

		if _, err := h.authz.InternalAuthorize(ctx, "BatchAuthorizeByToken", models.FormatARN("services", service), r.Header); err != nil {
			return err
		}

		var req models.BatchAuthorizationRequest
		if err := h.decode(w, r, &req); err != nil {
			return err
		}

		actions := make([]string, 0, len(req.Permit))
		resources := []string{}
		for action := range req.Permit {
			actions = append(actions, action)
		}
		sort.Strings(actions)
		for _, action := range actions {
			resources = append(resources, req.Permit[action]...)
		}

		e.SetRequest("actions", actions)
		e.SetRequest("resources", resources)
		e.SetRequest("permit", audit.FormatPermit(req.Permit))
		e.SetRequest("headers", audit.FormatHeaders(req.ForwardedHeaders()))
		e.SetRequest("context", req.Context)

		var err error
		result, err = h.authz.BatchAuthorize(ctx, service, req.Permit, req.ForwardedHeaders(), req.Context)
		if err != nil {
			return err
		}

		e.SetResponse("permitted", audit.FormatPermit(result.Permitted))
		e.SetResponse("not-permitted", audit.FormatPermit(result.NotPermitted))
		e.SetResponse("authorized", result.Authorized)
		if result.Identity != "" {
			e.SetResponse("identity", result.Identity)
		}
		return nil
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	_ = utils.WriteOK(w, result)
}

// decodeAuthorizationRequest parses and audits a single-decision request
// body. A malformed body writes its own 400 and returns errRequestHandled.
func (h *ServiceHandler) decodeAuthorizationRequest(w http.ResponseWriter, r *http.Request, e *audit.Entry) (*models.AuthorizationRequest, error) {
	var req models.AuthorizationRequest
	if err := h.decode(w, r, &req); err != nil {
		return nil, err
	}

	e.SetRequest("actions", []string{req.Action})
	e.SetRequest("resources", []string{req.Resource})
	e.SetRequest("permit", audit.FormatPermit(req.PermitDocument()))
	e.SetRequest("headers", audit.FormatHeaders(req.ForwardedHeaders()))
	e.SetRequest("context", req.Context)
	return &req, nil
}

// decode parses and validates a JSON body, writing the 400 itself on
// failure.
func (h *ServiceHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return errRequestHandled
	}
	if err := h.validate.Struct(dst); err != nil {
		details := map[string]interface{}{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
		}
		_ = utils.WriteBadRequest(w, "Validation failed", details)
		return errRequestHandled
	}
	return nil
}

func (h *ServiceHandler) recordDecision(e *audit.Entry, result *models.AuthorizationResult) {
	e.SetResponse("authorized", result.Authorized)
	if result.Identity != "" {
		e.SetResponse("identity", result.Identity)
	}
}

// writeFailure maps a recorded error to its response. Bodies already
// written (bad request) pass through untouched.
func (h *ServiceHandler) writeFailure(w http.ResponseWriter, err error) {
	if errors.Is(err, errRequestHandled) {
		return
	}
	if services.IsAuthenticationError(err) || services.IsAuthorizationError(err) {
		_ = utils.WriteAuthFailure(w, err)
		return
	}
	h.logger.Error("authorization endpoint failed", zap.Error(err))
	_ = utils.WriteInternalServerError(w, "")
}
