package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tinyauth/tinyauth/models"
	"github.com/tinyauth/tinyauth/services"
)

// Entry is the call-scoped field set accumulated while one authorization
// call runs. The wrapped call populates request-side fields as it parses
// its input and response-side fields as it completes.
type Entry struct {
	Operation string
	Timestamp time.Time

	request  map[string]interface{}
	response map[string]interface{}
}

func newEntry(operation string) *Entry {
	return &Entry{
		Operation: operation,
		Timestamp: time.Now().UTC(),
		request:   map[string]interface{}{},
		response:  map[string]interface{}{},
	}
}

// SetRequest records a request-side field.
func (e *Entry) SetRequest(key string, value interface{}) {
	e.request[key] = value
}

// SetResponse records a response-side field.
func (e *Entry) SetResponse(key string, value interface{}) {
	e.response[key] = value
}

// Recorder wraps authorization calls in audit capture. Every recorded call
// emits exactly one entry, whatever the outcome: a structured log line
// written synchronously, plus a persisted row handed to the async sink
// when one is configured.
type Recorder struct {
	logger *zap.Logger
	sink   *Service
}

// NewRecorder creates a Recorder. sink may be nil when persistence is
// disabled (entries still reach the structured log).
func NewRecorder(logger *zap.Logger, sink *Service) *Recorder {
	return &Recorder{logger: logger, sink: sink}
}

// Record runs fn inside a call-scoped audit entry. The entry is emitted on
// every exit path, including error returns and panics, before the outcome
// propagates to the caller.
func (r *Recorder) Record(ctx context.Context, operation string, fn func(e *Entry) error) (err error) {
	entry := newEntry(operation)
	defer func() {
		r.emit(ctx, entry, err)
	}()
	err = fn(entry)
	return err
}

func (r *Recorder) emit(ctx context.Context, entry *Entry, callErr error) {
	code := errorCode(callErr)

	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.Time("timestamp", entry.Timestamp),
		zap.Any("request", entry.request),
		zap.Any("response", entry.response),
	}
	if reqID := chimiddleware.GetReqID(ctx); reqID != "" {
		fields = append(fields, zap.String("request_id", reqID))
		entry.request["requestId"] = reqID
	}
	if code != "" {
		fields = append(fields, zap.String("error_code", code))
	}
	r.logger.Info("audit", fields...)

	if r.sink == nil {
		return
	}

	log := models.NewAuditLog(entry.Operation, entry.Timestamp).
		WithRequest(entry.request).
		WithResponse(entry.response)
	if code != "" {
		log.WithError(code)
	}
	if err := r.sink.LogEventBlocking(ctx, &Event{Log: log}); err != nil {
		r.logger.Warn("audit entry not persisted",
			zap.String("operation", entry.Operation),
			zap.Error(err))
	}
}

// errorCode maps a call outcome to the code stored on the audit row.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	if code := services.AuthorizationCode(err); code != "" {
		return code
	}
	if services.IsAuthenticationError(err) {
		return "InvalidCredentials"
	}
	return "InternalError"
}

// redactedHeaders hold credentials and are never written to the audit trail
// verbatim.
var redactedHeaders = map[string]bool{
	"Authorization": true,
	"Cookie":        true,
	"Set-Cookie":    true,
}

// FormatHeaders renders forwarded headers as sorted "Name: value" lines
// with credential-bearing values redacted.
func FormatHeaders(h http.Header) []string {
	lines := make([]string, 0, len(h))
	for name, values := range h {
		canonical := http.CanonicalHeaderKey(name)
		for _, v := range values {
			if redactedHeaders[canonical] {
				v = "*redacted*"
			}
			lines = append(lines, fmt.Sprintf("%s: %s", canonical, v))
		}
	}
	sort.Strings(lines)
	return lines
}

// FormatPermit pretty-prints a permit document for the audit trail.
func FormatPermit(permit map[string][]string) string {
	data, err := json.MarshalIndent(permit, "", "    ")
	if err != nil {
		return fmt.Sprintf("%v", permit)
	}
	return strings.TrimSpace(string(data))
}
