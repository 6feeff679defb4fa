package models

import (
	"net/http"
)

// AuthorizationRequest is the body of a single-decision authorization call.
// Headers are the caller's forwarded request headers as name/value pairs;
// Context is an opaque map plumbed through to policy evaluation.
type AuthorizationRequest struct {
	Action   string                 `json:"action" validate:"required"`
	Resource string                 `json:"resource" validate:"required"`
	Headers  [][]string             `json:"headers" validate:"required"`
	Context  map[string]interface{} `json:"context" validate:"required"`
}

// ForwardedHeaders converts the raw header pairs to an http.Header.
// Pairs with fewer than two elements are skipped.
func (r *AuthorizationRequest) ForwardedHeaders() http.Header {
	return HeaderPairs(r.Headers)
}

// PermitDocument renders the single action/resource pair in the batch
// permit-map shape, used for uniform audit output.
func (r *AuthorizationRequest) PermitDocument() map[string][]string {
	return map[string][]string{r.Action: {r.Resource}}
}

// BatchAuthorizationRequest is the body of a batch authorization call.
// Permit maps each requested action to the resources it should cover.
type BatchAuthorizationRequest struct {
	Permit  map[string][]string    `json:"permit" validate:"required"`
	Headers [][]string             `json:"headers" validate:"required"`
	Context map[string]interface{} `json:"context" validate:"required"`
}

// ForwardedHeaders converts the raw header pairs to an http.Header.
func (r *BatchAuthorizationRequest) ForwardedHeaders() http.Header {
	return HeaderPairs(r.Headers)
}

// HeaderPairs builds an http.Header from name/value pairs.
func HeaderPairs(pairs [][]string) http.Header {
	h := http.Header{}
	for _, pair := range pairs {
		if len(pair) < 2 {
			continue
		}
		h.Add(pair[0], pair[1])
	}
	return h
}

// AuthorizationResult is the outcome of a single authorization decision.
// A denial is a well-formed result with Authorized false, never an error.
// Field names are part of the wire contract.
type AuthorizationResult struct {
	Authorized bool   `json:"Authorized"`
	Identity   string `json:"Identity,omitempty"`
	ErrorCode  string `json:"ErrorCode,omitempty"`
}

// BatchAuthorizationResult partitions every requested (action, resource)
// pair into Permitted or NotPermitted, keyed by action. Authorized is true
// only when nothing was denied and at least one pair was granted; Identity
// is reported only in that case. ErrorCode carries the code of the last
// denied pair; callers needing per-resource reasons inspect NotPermitted.
type BatchAuthorizationResult struct {
	Authorized   bool                `json:"Authorized"`
	Permitted    map[string][]string `json:"Permitted"`
	NotPermitted map[string][]string `json:"NotPermitted"`
	Identity     string              `json:"Identity,omitempty"`
	ErrorCode    string              `json:"ErrorCode,omitempty"`
}
