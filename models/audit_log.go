package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditLog is one append-only audit-trail entry: exactly one is written per
// handled call, whether the call succeeded, was denied, or raised an error.
type AuditLog struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Operation string          `json:"operation" db:"operation"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Request   json.RawMessage `json:"request" db:"request"`   // JSONB request-side fields
	Response  json.RawMessage `json:"response" db:"response"` // JSONB response-side fields
	ErrorCode string          `json:"error_code,omitempty" db:"error_code"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(operation string, timestamp time.Time) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		Operation: operation,
		Timestamp: timestamp,
	}
}

// WithRequest sets the request-side field set.
func (a *AuditLog) WithRequest(fields interface{}) *AuditLog {
	if data, err := json.Marshal(fields); err == nil {
		a.Request = data
	}
	return a
}

// WithResponse sets the response-side field set.
func (a *AuditLog) WithResponse(fields interface{}) *AuditLog {
	if data, err := json.Marshal(fields); err == nil {
		a.Response = data
	}
	return a
}

// WithError records the error code the call raised.
func (a *AuditLog) WithError(code string) *AuditLog {
	a.ErrorCode = code
	return a
}
