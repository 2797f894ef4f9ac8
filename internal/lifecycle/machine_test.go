package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/survey-participation/internal/model"
	"github.com/iliyamo/survey-participation/internal/queue"
)

type fakeStore struct {
	updates []struct {
		ID    uint64
		State string
		At    time.Time
	}
	err error
}

func (f *fakeStore) UpdateStateTx(_ context.Context, _ *sql.Tx, id uint64, state string, at time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.updates = append(f.updates, struct {
		ID    uint64
		State string
		At    time.Time
	}{id, state, at})
	return nil
}

type fakeAudit struct {
	events []queue.AuditEvent
}

func (f *fakeAudit) Emit(_ context.Context, ev queue.AuditEvent) {
	f.events = append(f.events, ev)
}

func newParticipation(state State) *model.Participation {
	return &model.Participation{
		ID:        77,
		UserID:    10,
		ReleaseID: 1,
		State:     string(state),
	}
}

func TestNew_TableValidation(t *testing.T) {
	t.Parallel()

	t.Run("nil store rejected", func(t *testing.T) {
		t.Parallel()
		_, err := New(nil, nil, nil)
		require.Error(t, err)
	})

	t.Run("undefined state rejected", func(t *testing.T) {
		t.Parallel()
		_, err := New(&fakeStore{}, nil, []Transition{
			{From: State("LIMBO"), To: StateViewing},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "undefined state")
	})

	t.Run("duplicate pair rejected", func(t *testing.T) {
		t.Parallel()
		_, err := New(&fakeStore{}, nil, []Transition{
			{From: StateEligible, To: StateViewing},
			{From: StateEligible, To: StateViewing},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate transition")
	})

	t.Run("nil audit sink is allowed", func(t *testing.T) {
		t.Parallel()
		m, err := New(&fakeStore{}, nil, []Transition{
			{From: StateEligible, To: StateViewing},
		})
		require.NoError(t, err)

		p := newParticipation(StateEligible)
		err = m.Apply(&Request{Ctx: context.Background(), Participation: p, Target: StateViewing})
		require.NoError(t, err)
		assert.Equal(t, string(StateViewing), p.State)
	})
}

func TestMachine_Apply_InvalidTransition(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	m, err := New(store, nil, []Transition{
		{From: StateEligible, To: StateViewing},
	})
	require.NoError(t, err)

	p := newParticipation(StateSubmitted)
	err = m.Apply(&Request{Ctx: context.Background(), Participation: p, Target: StateViewing})

	var ite *InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, StateSubmitted, ite.From)
	assert.Equal(t, StateViewing, ite.To)

	assert.Equal(t, string(StateSubmitted), p.State, "state must not change")
	assert.Empty(t, store.updates, "no state write on invalid transition")
}

func TestMachine_Apply_GuardRefusal(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	beforeRan := false
	m, err := New(store, nil, []Transition{
		{
			From: StateViewing,
			To:   StateHoldActive,
			Guard: func(*Request) error {
				return &GuardError{Code: GuardCodeValidation, Reason: "option_id required"}
			},
			Before: func(*Request) error {
				beforeRan = true
				return nil
			},
		},
	})
	require.NoError(t, err)

	p := newParticipation(StateViewing)
	err = m.Apply(&Request{Ctx: context.Background(), Participation: p, Target: StateHoldActive})

	var ge *GuardError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, GuardCodeValidation, ge.Code)

	assert.False(t, beforeRan, "guard refusal must stop the before hook")
	assert.Equal(t, string(StateViewing), p.State)
	assert.Empty(t, store.updates)
}

func TestMachine_Apply_Ordering(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	audit := &fakeAudit{}
	var order []string
	m, err := New(store, audit, []Transition{
		{
			From: StateEligible,
			To:   StateViewing,
			Guard: func(*Request) error {
				order = append(order, "guard")
				return nil
			},
			Before: func(req *Request) error {
				order = append(order, "before")
				assert.Equal(t, string(StateEligible), req.Participation.State, "before hook sees the old state")
				return nil
			},
			After: func(req *Request) error {
				order = append(order, "after")
				assert.Equal(t, string(StateViewing), req.Participation.State, "after hook sees the new state")
				return nil
			},
		},
	})
	require.NoError(t, err)

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	p := newParticipation(StateEligible)
	err = m.Apply(&Request{
		Ctx:           context.Background(),
		Participation: p,
		Target:        StateViewing,
		ActorID:       10,
		Now:           now,
		Metadata:      map[string]any{"source": "test"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"guard", "before", "after"}, order)
	assert.Equal(t, string(StateViewing), p.State)
	assert.Equal(t, now, p.StateUpdatedAt)

	require.Len(t, store.updates, 1)
	assert.Equal(t, uint64(77), store.updates[0].ID)
	assert.Equal(t, string(StateViewing), store.updates[0].State)
	assert.Equal(t, now, store.updates[0].At)

	require.Len(t, audit.events, 1)
	ev := audit.events[0]
	assert.Equal(t, "participation.transition", ev.Action)
	assert.Equal(t, "participation", ev.Entity)
	assert.Equal(t, uint64(77), ev.EntityID)
	assert.Equal(t, uint64(10), ev.Actor)
	assert.Equal(t, string(StateEligible), ev.FromState)
	assert.Equal(t, string(StateViewing), ev.ToState)
	assert.Equal(t, now.Format(time.RFC3339), ev.At)
	assert.Equal(t, "test", ev.Metadata["source"])
}

func TestMachine_Apply_HookFailures(t *testing.T) {
	t.Parallel()

	t.Run("before failure stops the state write", func(t *testing.T) {
		t.Parallel()
		store := &fakeStore{}
		audit := &fakeAudit{}
		m, err := New(store, audit, []Transition{
			{
				From:   StateEligible,
				To:     StateViewing,
				Before: func(*Request) error { return errors.New("capacity full") },
			},
		})
		require.NoError(t, err)

		p := newParticipation(StateEligible)
		err = m.Apply(&Request{Ctx: context.Background(), Participation: p, Target: StateViewing})
		require.Error(t, err)
		assert.Equal(t, string(StateEligible), p.State)
		assert.Empty(t, store.updates)
		assert.Empty(t, audit.events)
	})

	t.Run("store failure leaves in-memory state alone", func(t *testing.T) {
		t.Parallel()
		store := &fakeStore{err: errors.New("write failed")}
		m, err := New(store, nil, []Transition{
			{From: StateEligible, To: StateViewing},
		})
		require.NoError(t, err)

		p := newParticipation(StateEligible)
		err = m.Apply(&Request{Ctx: context.Background(), Participation: p, Target: StateViewing})
		require.Error(t, err)
		assert.Equal(t, string(StateEligible), p.State)
	})

	t.Run("after failure suppresses the audit event", func(t *testing.T) {
		t.Parallel()
		audit := &fakeAudit{}
		m, err := New(&fakeStore{}, audit, []Transition{
			{
				From:  StateEligible,
				To:    StateViewing,
				After: func(*Request) error { return errors.New("stamp failed") },
			},
		})
		require.NoError(t, err)

		p := newParticipation(StateEligible)
		err = m.Apply(&Request{Ctx: context.Background(), Participation: p, Target: StateViewing})
		require.Error(t, err)
		assert.Empty(t, audit.events, "a failed transition must not be audited")
	})
}

func TestMachine_Apply_DefaultsTimestamp(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	m, err := New(store, nil, []Transition{
		{From: StateEligible, To: StateViewing},
	})
	require.NoError(t, err)

	before := time.Now().UTC()
	p := newParticipation(StateEligible)
	err = m.Apply(&Request{Ctx: context.Background(), Participation: p, Target: StateViewing})
	require.NoError(t, err)

	require.Len(t, store.updates, 1)
	assert.False(t, store.updates[0].At.Before(before))
	assert.Equal(t, "UTC", store.updates[0].At.Location().String())
}

func TestMachine_CanTransition(t *testing.T) {
	t.Parallel()

	m, err := New(&fakeStore{}, nil, []Transition{
		{From: StateEligible, To: StateViewing},
	})
	require.NoError(t, err)

	assert.True(t, m.CanTransition(StateEligible, StateViewing))
	assert.False(t, m.CanTransition(StateViewing, StateEligible))
}
