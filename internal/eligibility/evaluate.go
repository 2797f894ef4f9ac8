package eligibility

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// CustomFunc implements a custom rule operator.  Implementations must be
// pure with respect to the context snapshot.
type CustomFunc func(params json.RawMessage, ec *EvaluationContext) (Result, error)

// StructuralError reports a rule that cannot be evaluated at all: an
// operator outside the closed set, or a custom operator with no
// registered implementation.  Structural errors are never retried since
// re-running a malformed rule cannot fix it.
type StructuralError struct {
	Op   Operator
	Name string // custom operator name, when Op is OpCustom
}

func (e *StructuralError) Error() string {
	if e.Op == OpCustom {
		return fmt.Sprintf("no implementation registered for custom operator %q", e.Name)
	}
	return fmt.Sprintf("no evaluator for operator %q", e.Op)
}

// Evaluator walks a parsed rule tree against an evaluation context.
// Dispatch goes through a fixed lookup table keyed by operator; the only
// open extension point is the custom operator registry, which is fixed
// at construction time.
type Evaluator struct {
	custom map[string]CustomFunc
}

// NewEvaluator returns an Evaluator with the given custom operator
// registry.  A nil registry is valid; evaluating any custom node then
// yields a StructuralError.
func NewEvaluator(custom map[string]CustomFunc) *Evaluator {
	return &Evaluator{custom: custom}
}

type evalFunc func(*Evaluator, *Node, *EvaluationContext) (Result, error)

// evalTable maps every operator to its evaluation function.  Composite
// operators recurse through Evaluator.Evaluate.
var evalTable map[Operator]evalFunc

// The table is filled in init to break the initialization cycle between
// evalTable and the composite evaluators that recurse through Evaluate.
func init() {
	evalTable = map[Operator]evalFunc{
		OpAnd:              evalAnd,
		OpOr:               evalOr,
		OpNot:              evalNot,
		OpGroupMember:      evalGroupMember,
		OpRole:             evalRole,
		OpMetadata:         evalMetadata,
		OpSurveyCompleted:  evalSurveyCompleted,
		OpSurveyApproved:   evalSurveyApproved,
		OpSurveyAllocated:  evalSurveyAllocated,
		OpDocumentVerified: evalDocumentVerified,
		OpDocumentUploaded: evalDocumentUploaded,
		OpTimeWindow:       evalTimeWindow,
		OpTimeBefore:       evalTimeBefore,
		OpTimeAfter:        evalTimeAfter,
		OpQuotaAvailable:   evalQuotaAvailable,
		OpCustom:           evalCustom,
	}
}

// Evaluate dispatches the node to its operator's evaluation function.
func (ev *Evaluator) Evaluate(n *Node, ec *EvaluationContext) (Result, error) {
	fn, ok := evalTable[n.Op]
	if !ok {
		return Result{}, &StructuralError{Op: n.Op}
	}
	return fn(ev, n, ec)
}

// evalAnd short-circuits on the first DENY.  Requirements from
// ALLOW_WITH_REQUIREMENTS children are merged; a WAITLIST child turns
// the whole conjunction into WAITLIST unless some child denies.
func evalAnd(ev *Evaluator, n *Node, ec *EvaluationContext) (Result, error) {
	var reqs []Requirement
	var waitlisted *Result
	for _, child := range n.Children {
		res, err := ev.Evaluate(child, ec)
		if err != nil {
			return Result{}, err
		}
		switch res.Decision {
		case DecisionDeny:
			return res, nil
		case DecisionAllowWithRequirements:
			reqs = append(reqs, res.Requirements...)
		case DecisionWaitlist:
			if waitlisted == nil {
				w := res
				waitlisted = &w
			}
		}
	}
	if waitlisted != nil {
		waitlisted.Requirements = append(waitlisted.Requirements, reqs...)
		return *waitlisted, nil
	}
	if len(reqs) > 0 {
		return Result{
			Decision:     DecisionAllowWithRequirements,
			Reason:       "requirements outstanding",
			Requirements: reqs,
		}, nil
	}
	return allow("all conditions satisfied"), nil
}

// evalOr short-circuits on the first ALLOW or ALLOW_WITH_REQUIREMENTS.
// A WAITLIST branch is remembered and preferred over an outright DENY
// when no branch allows.
func evalOr(ev *Evaluator, n *Node, ec *EvaluationContext) (Result, error) {
	var reasons []string
	var waitlisted *Result
	for _, child := range n.Children {
		res, err := ev.Evaluate(child, ec)
		if err != nil {
			return Result{}, err
		}
		switch res.Decision {
		case DecisionAllow, DecisionAllowWithRequirements:
			return res, nil
		case DecisionWaitlist:
			if waitlisted == nil {
				w := res
				waitlisted = &w
			}
		case DecisionDeny:
			reasons = append(reasons, res.Reason)
		}
	}
	if waitlisted != nil {
		return *waitlisted, nil
	}
	return deny(strings.Join(reasons, "; ")), nil
}

// evalNot inverts DENY and ALLOW.  Requirement and waitlist results are
// treated as non-DENY, so negating them denies.
func evalNot(ev *Evaluator, n *Node, ec *EvaluationContext) (Result, error) {
	res, err := ev.Evaluate(n.Children[0], ec)
	if err != nil {
		return Result{}, err
	}
	if res.Decision == DecisionDeny {
		return allow("negated condition did not hold"), nil
	}
	return deny("negated condition holds: " + res.Reason), nil
}

func evalGroupMember(_ *Evaluator, n *Node, ec *EvaluationContext) (Result, error) {
	if ec.InGroup(n.Group) {
		return allow(fmt.Sprintf("member of group %q", n.Group)), nil
	}
	return deny(fmt.Sprintf("not a member of group %q", n.Group)), nil
}

func evalRole(_ *Evaluator, n *Node, ec *EvaluationContext) (Result, error) {
	if ec.Role == n.Role {
		return allow(fmt.Sprintf("has role %q", n.Role)), nil
	}
	return deny(fmt.Sprintf("requires role %q", n.Role)), nil
}

func evalMetadata(_ *Evaluator, n *Node, ec *EvaluationContext) (Result, error) {
	val, ok := ec.Metadata[n.Key]
	if !ok {
		return deny(fmt.Sprintf("metadata %q not set", n.Key)), nil
	}
	switch n.Cmp {
	case CmpEquals:
		if val == n.Value {
			return allow(fmt.Sprintf("metadata %q equals %q", n.Key, n.Value)), nil
		}
		return deny(fmt.Sprintf("metadata %q is %q, expected %q", n.Key, val, n.Value)), nil
	case CmpContains:
		if strings.Contains(val, n.Value) {
			return allow(fmt.Sprintf("metadata %q contains %q", n.Key, n.Value)), nil
		}
		return deny(fmt.Sprintf("metadata %q does not contain %q", n.Key, n.Value)), nil
	}
	// Ordering comparators coerce both sides to numbers.
	have, err1 := strconv.ParseFloat(val, 64)
	want, err2 := strconv.ParseFloat(n.Value, 64)
	if err1 != nil || err2 != nil {
		return deny(fmt.Sprintf("metadata %q is not comparable numerically", n.Key)), nil
	}
	var pass bool
	switch n.Cmp {
	case CmpGT:
		pass = have > want
	case CmpLT:
		pass = have < want
	case CmpGTE:
		pass = have >= want
	case CmpLTE:
		pass = have <= want
	}
	if pass {
		return allow(fmt.Sprintf("metadata %q satisfies %s %s", n.Key, n.Cmp, n.Value)), nil
	}
	return deny(fmt.Sprintf("metadata %q does not satisfy %s %s", n.Key, n.Cmp, n.Value)), nil
}

func evalSurveyCompleted(_ *Evaluator, n *Node, ec *EvaluationContext) (Result, error) {
	if p, ok := ec.Prior[n.ReleaseID]; ok && p.Submitted {
		return allow(fmt.Sprintf("completed release %d", n.ReleaseID)), nil
	}
	return deny(fmt.Sprintf("release %d not completed", n.ReleaseID)), nil
}

func evalSurveyApproved(_ *Evaluator, n *Node, ec *EvaluationContext) (Result, error) {
	if p, ok := ec.Prior[n.ReleaseID]; ok && p.Approved {
		return allow(fmt.Sprintf("approved in release %d", n.ReleaseID)), nil
	}
	return deny(fmt.Sprintf("not approved in release %d", n.ReleaseID)), nil
}

func evalSurveyAllocated(_ *Evaluator, n *Node, ec *EvaluationContext) (Result, error) {
	if p, ok := ec.Prior[n.ReleaseID]; ok && p.Allocated {
		return allow(fmt.Sprintf("allocated in release %d", n.ReleaseID)), nil
	}
	return deny(fmt.Sprintf("not allocated in release %d", n.ReleaseID)), nil
}

// evalDocumentVerified allows when a verified document of the required
// type exists.  A missing or still-unverified document yields
// ALLOW_WITH_REQUIREMENTS rather than DENY, so the lifecycle can proceed
// while the requirement is flagged to the user.
func evalDocumentVerified(_ *Evaluator, n *Node, ec *EvaluationContext) (Result, error) {
	if d, ok := ec.FindDocument(n.DocumentType, n.OptionID); ok && d.Verified {
		return allow(fmt.Sprintf("document %q verified", n.DocumentType)), nil
	}
	return Result{
		Decision: DecisionAllowWithRequirements,
		Reason:   fmt.Sprintf("document %q pending verification", n.DocumentType),
		Requirements: []Requirement{{
			Type:         RequirementTypeDocument,
			DocumentType: n.DocumentType,
			OptionID:     n.OptionID,
			Description:  fmt.Sprintf("upload a verified %q document", n.DocumentType),
		}},
	}, nil
}

func evalDocumentUploaded(_ *Evaluator, n *Node, ec *EvaluationContext) (Result, error) {
	if _, ok := ec.FindDocument(n.DocumentType, n.OptionID); ok {
		return allow(fmt.Sprintf("document %q uploaded", n.DocumentType)), nil
	}
	return Result{
		Decision: DecisionAllowWithRequirements,
		Reason:   fmt.Sprintf("document %q not uploaded", n.DocumentType),
		Requirements: []Requirement{{
			Type:         RequirementTypeDocument,
			DocumentType: n.DocumentType,
			OptionID:     n.OptionID,
			Description:  fmt.Sprintf("upload a %q document", n.DocumentType),
		}},
	}, nil
}

func evalTimeWindow(_ *Evaluator, n *Node, ec *EvaluationContext) (Result, error) {
	if ec.Now.Before(n.Start) {
		return deny("window not yet open"), nil
	}
	if ec.Now.After(n.End) {
		return deny("window closed"), nil
	}
	return allow("within time window"), nil
}

func evalTimeBefore(_ *Evaluator, n *Node, ec *EvaluationContext) (Result, error) {
	if ec.Now.Before(n.At) {
		return allow("before deadline"), nil
	}
	return deny("deadline passed"), nil
}

func evalTimeAfter(_ *Evaluator, n *Node, ec *EvaluationContext) (Result, error) {
	if ec.Now.After(n.At) {
		return allow("after opening time"), nil
	}
	return deny("not yet open"), nil
}

// evalQuotaAvailable aggregates quota across the user's groups.  When
// the aggregate is below the required minimum it returns WAITLIST, a
// distinct decision carrying the available count, so the caller can
// queue the user instead of refusing them.
func evalQuotaAvailable(_ *Evaluator, n *Node, ec *EvaluationContext) (Result, error) {
	min := n.Min
	if min == 0 {
		min = 1
	}
	avail := ec.QuotaAvailable()
	if avail < min {
		return Result{
			Decision: DecisionWaitlist,
			Reason:   "insufficient quota for user's groups",
			Metadata: map[string]any{"available": avail},
		}, nil
	}
	return allow(fmt.Sprintf("%d quota units available", avail)), nil
}

func evalCustom(ev *Evaluator, n *Node, ec *EvaluationContext) (Result, error) {
	fn, ok := ev.custom[n.Name]
	if !ok {
		return Result{}, &StructuralError{Op: OpCustom, Name: n.Name}
	}
	return fn(n.Params, ec)
}
