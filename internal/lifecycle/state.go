// Package lifecycle implements the participation state machine: a fixed,
// data-driven table of transitions with guards and before/after hooks.
// The machine is the only code allowed to change a participation's state
// and, through its hooks, the only path into the hold manager's capacity
// mutations.
package lifecycle

// State is a participation lifecycle state.
type State string

const (
	StateEligible        State = "ELIGIBLE"
	StateIneligible      State = "INELIGIBLE"
	StateViewing         State = "VIEWING"
	StateHoldActive      State = "HOLD_ACTIVE"
	StateSubmitted       State = "SUBMITTED"
	StatePendingApproval State = "PENDING_APPROVAL"
	StateApproved        State = "APPROVED"
	StateRejected        State = "REJECTED"
	StateAllocated       State = "ALLOCATED"
	StateWaitlisted      State = "WAITLISTED"
)

var allStates = map[State]struct{}{
	StateEligible:        {},
	StateIneligible:      {},
	StateViewing:         {},
	StateHoldActive:      {},
	StateSubmitted:       {},
	StatePendingApproval: {},
	StateApproved:        {},
	StateRejected:        {},
	StateAllocated:       {},
	StateWaitlisted:      {},
}

// Valid reports whether s is one of the defined lifecycle states.
func (s State) Valid() bool {
	_, ok := allStates[s]
	return ok
}
