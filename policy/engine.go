package policy

import "github.com/tinyauth/tinyauth/models"

// Decision is the outcome of evaluating a policy set against one
// (action, resource) pair.
type Decision struct {
	Effect     models.Effect
	MatchedAny bool
}

// Allowed reports whether the decision permits the action.
func (d Decision) Allowed() bool {
	return d.Effect == models.EffectAllow
}

// Evaluate runs every statement across all documents against the given
// action and resource and combines the matching effects: any matching Deny
// wins over any matching Allow, and a policy set with no matching statement
// denies by default.
//
// The context map is carried for condition-clause evaluation in a future
// revision; this version does not inspect it.
func Evaluate(docs []models.PolicyDocument, action, resource string, reqContext map[string]interface{}) Decision {
	_ = reqContext

	decision := Decision{Effect: models.EffectDeny}
	for _, doc := range docs {
		for _, stmt := range doc.Statements {
			if !Match(stmt.Action, action) || !Match(stmt.Resource, resource) {
				continue
			}
			decision.MatchedAny = true
			if stmt.Effect == models.EffectDeny {
				// Explicit deny is final.
				return Decision{Effect: models.EffectDeny, MatchedAny: true}
			}
			if stmt.Effect == models.EffectAllow {
				decision.Effect = models.EffectAllow
			}
		}
	}
	return decision
}
