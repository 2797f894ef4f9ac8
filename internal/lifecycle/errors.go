package lifecycle

import "fmt"

// InvalidTransitionError is returned when the requested (from, to) pair
// is not in the transition table.  The participation is left untouched.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("no transition from %s to %s", e.From, e.To)
}

// Guard failure codes.
const (
	GuardCodeValidation        = "VALIDATION"
	GuardCodeNoWorkflow        = "NO_WORKFLOW"
	GuardCodeWorkflowRequired  = "WORKFLOW_REQUIRED"
	GuardCodeApprovalsPending  = "APPROVALS_PENDING"
	GuardCodeAllocationPending = "ALLOCATION_PENDING"
)

// GuardError is a structured refusal from a transition guard.  It is a
// recoverable result, not an internal failure: callers can branch on the
// code (e.g. fall back to a waitlist) instead of aborting outright.
type GuardError struct {
	Code   string
	Reason string
}

func (e *GuardError) Error() string {
	return e.Code + ": " + e.Reason
}
