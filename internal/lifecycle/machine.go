package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iliyamo/survey-participation/internal/model"
	"github.com/iliyamo/survey-participation/internal/queue"
)

// Request carries everything a single transition needs.  The transaction
// is the caller's: guard, hooks and the state write all run inside it,
// so a failure anywhere rolls the whole operation back.
type Request struct {
	Ctx           context.Context
	Tx            *sql.Tx
	Participation *model.Participation
	Target        State
	ActorID       uint64

	// Operation inputs consumed by specific transitions.
	OptionID      uint64
	QuotaBucketID *uint64
	Selections    []uint64
	Answers       json.RawMessage

	// Now overrides the transition timestamp; zero means time.Now.
	Now      time.Time
	Metadata map[string]any

	// Hold is set by the VIEWING->HOLD_ACTIVE before hook so the caller
	// can return the created hold to the client.
	Hold *model.Hold
}

// Guard is a predicate that must hold for a transition to run.  It
// returns a *GuardError to refuse the transition; any other error is an
// internal failure and aborts the transaction.
type Guard func(*Request) error

// Hook is a transition side effect.  Before hooks run while the
// participation is still in its old state (capacity mutations live
// here); After hooks run once the new state is persisted (timestamping).
type Hook func(*Request) error

// Transition is one row of the machine's table.
type Transition struct {
	From   State
	To     State
	Guard  Guard
	Before Hook
	After  Hook
}

// ParticipationStore persists the state column.  It is the machine's
// only write path into the participation row.
type ParticipationStore interface {
	UpdateStateTx(ctx context.Context, tx *sql.Tx, id uint64, state string, at time.Time) error
}

// AuditSink receives one event per executed transition.  Implementations
// must be fire-and-forget; the machine ignores delivery failures.
type AuditSink interface {
	Emit(ctx context.Context, ev queue.AuditEvent)
}

type tableKey struct {
	from State
	to   State
}

// Machine executes transitions against a fixed table built at startup.
// It is safe for concurrent use; per-participation serialization is the
// caller's responsibility via row locks on the participation row.
type Machine struct {
	table map[tableKey]Transition
	store ParticipationStore
	audit AuditSink
}

// New validates the transition table and returns a Machine.  Duplicate
// (from, to) pairs and undefined states are rejected so a broken table
// fails at startup, not mid-request.
func New(store ParticipationStore, audit AuditSink, transitions []Transition) (*Machine, error) {
	if store == nil {
		return nil, fmt.Errorf("lifecycle: nil participation store")
	}
	table := make(map[tableKey]Transition, len(transitions))
	for _, t := range transitions {
		if !t.From.Valid() || !t.To.Valid() {
			return nil, fmt.Errorf("lifecycle: transition %s -> %s uses undefined state", t.From, t.To)
		}
		k := tableKey{t.From, t.To}
		if _, dup := table[k]; dup {
			return nil, fmt.Errorf("lifecycle: duplicate transition %s -> %s", t.From, t.To)
		}
		table[k] = t
	}
	return &Machine{table: table, store: store, audit: audit}, nil
}

// Apply executes the transition from the participation's current state
// to req.Target: lookup, guard, before hook, state write, after hook,
// audit.  Guard failures return *GuardError; unknown pairs return
// *InvalidTransitionError.  On any error the caller must roll back its
// transaction, which leaves participation and capacity untouched.
func (m *Machine) Apply(req *Request) error {
	from := State(req.Participation.State)
	t, ok := m.table[tableKey{from, req.Target}]
	if !ok {
		return &InvalidTransitionError{From: from, To: req.Target}
	}
	if t.Guard != nil {
		if err := t.Guard(req); err != nil {
			return err
		}
	}
	if t.Before != nil {
		if err := t.Before(req); err != nil {
			return err
		}
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if err := m.store.UpdateStateTx(req.Ctx, req.Tx, req.Participation.ID, string(req.Target), now); err != nil {
		return err
	}
	req.Participation.State = string(req.Target)
	req.Participation.StateUpdatedAt = now
	if t.After != nil {
		if err := t.After(req); err != nil {
			return err
		}
	}
	if m.audit != nil {
		m.audit.Emit(req.Ctx, queue.AuditEvent{
			Actor:     req.ActorID,
			Action:    "participation.transition",
			Entity:    "participation",
			EntityID:  req.Participation.ID,
			FromState: string(from),
			ToState:   string(req.Target),
			Metadata:  req.Metadata,
			At:        now.Format(time.RFC3339),
		})
	}
	return nil
}

// CanTransition reports whether the table defines (from, to).  Handlers
// use it to distinguish invalid-state errors from guard failures without
// attempting the transition.
func (m *Machine) CanTransition(from, to State) bool {
	_, ok := m.table[tableKey{from, to}]
	return ok
}
