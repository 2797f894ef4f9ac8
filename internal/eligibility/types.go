// Package eligibility implements the rule evaluation engine that decides
// whether a user may enter a release.  Rule descriptions are stored as
// JSON on the release, parsed into a typed AST and evaluated against an
// immutable snapshot of the user's current standing.  The package is
// pure: it never touches the database itself and receives everything it
// needs through the RuleSource and ContextBuilder interfaces.
package eligibility

// Decision is the outcome of an eligibility evaluation.
type Decision string

const (
	// DecisionAllow permits participation unconditionally.
	DecisionAllow Decision = "ALLOW"
	// DecisionDeny refuses participation.
	DecisionDeny Decision = "DENY"
	// DecisionAllowWithRequirements permits participation while flagging
	// outstanding requirements the user still has to satisfy, such as a
	// pending document verification.
	DecisionAllowWithRequirements Decision = "ALLOW_WITH_REQUIREMENTS"
	// DecisionWaitlist neither allows nor denies: the user is eligible
	// but no quota is currently available for them.
	DecisionWaitlist Decision = "WAITLIST"
)

// RequirementTypeDocument marks a requirement that is satisfied by
// uploading (and having verified) a document of a given type.
const RequirementTypeDocument = "document"

// Requirement describes one outstanding prerequisite attached to an
// ALLOW_WITH_REQUIREMENTS decision.
type Requirement struct {
	Type         string  `json:"type"`
	DocumentType string  `json:"document_type,omitempty"`
	OptionID     *uint64 `json:"option_id,omitempty"`
	Description  string  `json:"description,omitempty"`
}

// Result is the full outcome of evaluating a rule tree: the decision, a
// human-readable reason, any outstanding requirements and operator
// specific metadata (e.g. the available quota count for WAITLIST).
type Result struct {
	Decision     Decision       `json:"decision"`
	Reason       string         `json:"reason"`
	Requirements []Requirement  `json:"requirements,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func allow(reason string) Result {
	return Result{Decision: DecisionAllow, Reason: reason}
}

func deny(reason string) Result {
	return Result{Decision: DecisionDeny, Reason: reason}
}
