package models

import (
	"encoding/json"
	"time"
)

// Effect is the outcome a statement contributes when it matches.
type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

// Statement is one Allow/Deny rule within a policy document, pairing an
// action pattern with a resource pattern. Patterns are colon-delimited
// ARN-like strings where * matches any run of characters, including across
// segment boundaries.
type Statement struct {
	Effect   Effect `json:"Effect"`
	Action   string `json:"Action"`
	Resource string `json:"Resource"`
}

// PolicyDocument is an ordered sequence of statements. Statement order does
// not affect evaluation; only the set of matching effects matters.
type PolicyDocument struct {
	Version    string      `json:"Version"`
	Statements []Statement `json:"Statement"`
}

// Policy is a stored, named policy document that can be attached to users
// and groups (many-to-many).
type Policy struct {
	ID        string          `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Document  json.RawMessage `json:"policy" db:"document"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Policy model
func (Policy) TableName() string {
	return "policies"
}

// ParseDocument decodes the stored JSON document.
func (p *Policy) ParseDocument() (PolicyDocument, error) {
	var doc PolicyDocument
	if err := json.Unmarshal(p.Document, &doc); err != nil {
		return PolicyDocument{}, err
	}
	return doc, nil
}
