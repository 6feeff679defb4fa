package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/tinyauth/tinyauth/repositories"
	"github.com/tinyauth/tinyauth/utils"
)

const (
	defaultAuditPageSize = 100
	maxAuditPageSize     = 1000
)

// AuditHandler serves the read side of the audit trail.
type AuditHandler struct {
	auditLogs repositories.AuditLogRepository
	logger    *zap.Logger
}

// NewAuditHandler creates an AuditHandler
func NewAuditHandler(auditLogs repositories.AuditLogRepository, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		auditLogs: auditLogs,
		logger:    logger,
	}
}

// HandleList handles GET /api/v1/audit/logs with limit/offset paging,
// newest entries first.
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultAuditPageSize)
	if limit < 1 || limit > maxAuditPageSize {
		limit = defaultAuditPageSize
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	logs, err := h.auditLogs.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list audit logs", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	_ = utils.WriteOK(w, map[string]interface{}{
		"logs":   logs,
		"limit":  limit,
		"offset": offset,
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
