package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/survey-participation/internal/model"
)

type fakeHoldOps struct {
	created   []uint64 // option ids passed to CreateHold
	createErr error
	released  int
	converted []model.Hold
	freed     []uint64 // option ids passed to ReleaseFilled
}

func (f *fakeHoldOps) CreateHold(_ context.Context, _ *sql.Tx, optionID, userID, releaseID uint64, bucketID *uint64) (*model.Hold, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, optionID)
	return &model.Hold{
		ID:            100,
		OptionID:      optionID,
		UserID:        userID,
		ReleaseID:     releaseID,
		QuotaBucketID: bucketID,
		Status:        model.HoldStatusActive,
		ExpiresAt:     time.Now().UTC().Add(5 * time.Minute),
	}, nil
}

func (f *fakeHoldOps) ReleaseActive(context.Context, *sql.Tx, uint64, uint64) (int, error) {
	f.released++
	return 1, nil
}

func (f *fakeHoldOps) ConvertActive(context.Context, *sql.Tx, uint64, uint64) ([]model.Hold, error) {
	return f.converted, nil
}

func (f *fakeHoldOps) ReleaseFilled(_ context.Context, _ *sql.Tx, optionID uint64, _ *uint64) error {
	f.freed = append(f.freed, optionID)
	return nil
}

type fakeParticipationOps struct {
	saved       []model.Selection
	savedAnswer json.RawMessage
	selections  []model.Selection
	submittedAt *time.Time
	approvedAt  *time.Time
	allocatedAt *time.Time
	hasAlloc    bool
}

func (f *fakeParticipationOps) SaveSubmissionTx(_ context.Context, _ *sql.Tx, _ uint64, sels []model.Selection, answers json.RawMessage) error {
	f.saved = sels
	f.savedAnswer = answers
	return nil
}

func (f *fakeParticipationOps) SelectionsTx(context.Context, *sql.Tx, uint64) ([]model.Selection, error) {
	return f.selections, nil
}

func (f *fakeParticipationOps) StampSubmittedTx(_ context.Context, _ *sql.Tx, _ uint64, at time.Time) error {
	f.submittedAt = &at
	return nil
}

func (f *fakeParticipationOps) StampApprovedTx(_ context.Context, _ *sql.Tx, _ uint64, at time.Time) error {
	f.approvedAt = &at
	return nil
}

func (f *fakeParticipationOps) StampAllocatedTx(_ context.Context, _ *sql.Tx, _ uint64, at time.Time) error {
	f.allocatedAt = &at
	return nil
}

func (f *fakeParticipationOps) HasAllocationTx(context.Context, *sql.Tx, uint64) (bool, error) {
	return f.hasAlloc, nil
}

type fakeReleaseOps struct {
	requiresApproval bool
}

func (f *fakeReleaseOps) RequiresApprovalTx(context.Context, *sql.Tx, uint64) (bool, error) {
	return f.requiresApproval, nil
}

type fakeApprovalOps struct {
	allApproved bool
}

func (f *fakeApprovalOps) AllApprovedTx(context.Context, *sql.Tx, uint64, uint64) (bool, error) {
	return f.allApproved, nil
}

type fixtures struct {
	holds          *fakeHoldOps
	participations *fakeParticipationOps
	releases       *fakeReleaseOps
	approvals      *fakeApprovalOps
	store          *fakeStore
	machine        *Machine
}

func newFixtures(t *testing.T) *fixtures {
	t.Helper()
	f := &fixtures{
		holds:          &fakeHoldOps{},
		participations: &fakeParticipationOps{},
		releases:       &fakeReleaseOps{},
		approvals:      &fakeApprovalOps{},
		store:          &fakeStore{},
	}
	m, err := New(f.store, nil, DefaultTransitions(Deps{
		Holds:          f.holds,
		Participations: f.participations,
		Releases:       f.releases,
		Approvals:      f.approvals,
	}))
	require.NoError(t, err)
	f.machine = m
	return f
}

func TestDefaultTransitions_TableShape(t *testing.T) {
	t.Parallel()

	f := newFixtures(t)

	defined := [][2]State{
		{StateEligible, StateViewing},
		{StateEligible, StateIneligible},
		{StateViewing, StateHoldActive},
		{StateHoldActive, StateViewing},
		{StateHoldActive, StateSubmitted},
		{StateSubmitted, StatePendingApproval},
		{StateSubmitted, StateApproved},
		{StatePendingApproval, StateApproved},
		{StatePendingApproval, StateRejected},
		{StateApproved, StateAllocated},
		{StateApproved, StateWaitlisted},
	}
	for _, pair := range defined {
		assert.True(t, f.machine.CanTransition(pair[0], pair[1]), "%s -> %s should exist", pair[0], pair[1])
	}

	// Terminal and backwards pairs must stay out of the table.
	undefined := [][2]State{
		{StateIneligible, StateViewing},
		{StateSubmitted, StateHoldActive},
		{StateRejected, StateApproved},
		{StateAllocated, StateApproved},
		{StateWaitlisted, StateApproved},
	}
	for _, pair := range undefined {
		assert.False(t, f.machine.CanTransition(pair[0], pair[1]), "%s -> %s must not exist", pair[0], pair[1])
	}
}

func TestDefaultTransitions_Hold(t *testing.T) {
	t.Parallel()

	t.Run("requires an option id", func(t *testing.T) {
		t.Parallel()
		f := newFixtures(t)
		p := newParticipation(StateViewing)
		err := f.machine.Apply(&Request{Ctx: context.Background(), Participation: p, Target: StateHoldActive})

		var ge *GuardError
		require.True(t, errors.As(err, &ge))
		assert.Equal(t, GuardCodeValidation, ge.Code)
		assert.Empty(t, f.holds.created)
	})

	t.Run("creates the hold and hands it back", func(t *testing.T) {
		t.Parallel()
		f := newFixtures(t)
		p := newParticipation(StateViewing)
		req := &Request{Ctx: context.Background(), Participation: p, Target: StateHoldActive, OptionID: 3}
		require.NoError(t, f.machine.Apply(req))

		require.NotNil(t, req.Hold)
		assert.Equal(t, uint64(3), req.Hold.OptionID)
		assert.Equal(t, uint64(10), req.Hold.UserID)
		assert.Equal(t, string(StateHoldActive), p.State)
	})

	t.Run("capacity failure aborts before the state write", func(t *testing.T) {
		t.Parallel()
		f := newFixtures(t)
		f.holds.createErr = errors.New("capacity full")
		p := newParticipation(StateViewing)
		err := f.machine.Apply(&Request{Ctx: context.Background(), Participation: p, Target: StateHoldActive, OptionID: 3})
		require.Error(t, err)
		assert.Equal(t, string(StateViewing), p.State)
		assert.Empty(t, f.store.updates)
	})

	t.Run("releasing returns to viewing", func(t *testing.T) {
		t.Parallel()
		f := newFixtures(t)
		p := newParticipation(StateHoldActive)
		require.NoError(t, f.machine.Apply(&Request{Ctx: context.Background(), Participation: p, Target: StateViewing}))
		assert.Equal(t, 1, f.holds.released)
		assert.Equal(t, string(StateViewing), p.State)
	})
}

func TestDefaultTransitions_Submit(t *testing.T) {
	t.Parallel()

	bucket := uint64(9)

	t.Run("requires at least one selection", func(t *testing.T) {
		t.Parallel()
		f := newFixtures(t)
		p := newParticipation(StateHoldActive)
		err := f.machine.Apply(&Request{Ctx: context.Background(), Participation: p, Target: StateSubmitted})

		var ge *GuardError
		require.True(t, errors.As(err, &ge))
		assert.Equal(t, GuardCodeValidation, ge.Code)
	})

	t.Run("rejects a selection without a matching hold", func(t *testing.T) {
		t.Parallel()
		f := newFixtures(t)
		f.holds.converted = []model.Hold{{OptionID: 3}}
		p := newParticipation(StateHoldActive)
		err := f.machine.Apply(&Request{
			Ctx:           context.Background(),
			Participation: p,
			Target:        StateSubmitted,
			Selections:    []uint64{3, 5},
		})

		var ge *GuardError
		require.True(t, errors.As(err, &ge))
		assert.Contains(t, ge.Reason, "option 5")
		assert.Nil(t, f.participations.saved)
	})

	t.Run("persists selections carrying the hold's bucket", func(t *testing.T) {
		t.Parallel()
		f := newFixtures(t)
		f.holds.converted = []model.Hold{
			{OptionID: 3, QuotaBucketID: &bucket},
			{OptionID: 4},
		}
		now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
		p := newParticipation(StateHoldActive)
		answers := json.RawMessage(`{"q1": "yes"}`)
		require.NoError(t, f.machine.Apply(&Request{
			Ctx:           context.Background(),
			Participation: p,
			Target:        StateSubmitted,
			Selections:    []uint64{3, 4},
			Answers:       answers,
			Now:           now,
		}))

		require.Len(t, f.participations.saved, 2)
		assert.Equal(t, uint64(3), f.participations.saved[0].OptionID)
		assert.Equal(t, &bucket, f.participations.saved[0].QuotaBucketID)
		assert.Nil(t, f.participations.saved[1].QuotaBucketID)
		assert.Equal(t, answers, f.participations.savedAnswer)

		require.NotNil(t, f.participations.submittedAt)
		assert.Equal(t, now, *f.participations.submittedAt)
		assert.Equal(t, string(StateSubmitted), p.State)
	})
}

func TestDefaultTransitions_ApprovalRouting(t *testing.T) {
	t.Parallel()

	t.Run("workflow release goes to pending approval", func(t *testing.T) {
		t.Parallel()
		f := newFixtures(t)
		f.releases.requiresApproval = true

		p := newParticipation(StateSubmitted)
		require.NoError(t, f.machine.Apply(&Request{Ctx: context.Background(), Participation: p, Target: StatePendingApproval}))
		assert.Equal(t, string(StatePendingApproval), p.State)

		// The direct route is closed when a workflow exists.
		p2 := newParticipation(StateSubmitted)
		err := f.machine.Apply(&Request{Ctx: context.Background(), Participation: p2, Target: StateApproved})
		var ge *GuardError
		require.True(t, errors.As(err, &ge))
		assert.Equal(t, GuardCodeWorkflowRequired, ge.Code)
	})

	t.Run("workflow-free release approves directly", func(t *testing.T) {
		t.Parallel()
		f := newFixtures(t)

		p := newParticipation(StateSubmitted)
		require.NoError(t, f.machine.Apply(&Request{Ctx: context.Background(), Participation: p, Target: StateApproved}))
		assert.Equal(t, string(StateApproved), p.State)
		assert.NotNil(t, f.participations.approvedAt)

		p2 := newParticipation(StateSubmitted)
		err := f.machine.Apply(&Request{Ctx: context.Background(), Participation: p2, Target: StatePendingApproval})
		var ge *GuardError
		require.True(t, errors.As(err, &ge))
		assert.Equal(t, GuardCodeNoWorkflow, ge.Code)
	})

	t.Run("pending approvals block the approve transition", func(t *testing.T) {
		t.Parallel()
		f := newFixtures(t)

		p := newParticipation(StatePendingApproval)
		err := f.machine.Apply(&Request{Ctx: context.Background(), Participation: p, Target: StateApproved})
		var ge *GuardError
		require.True(t, errors.As(err, &ge))
		assert.Equal(t, GuardCodeApprovalsPending, ge.Code)
		assert.Equal(t, string(StatePendingApproval), p.State)

		f.approvals.allApproved = true
		require.NoError(t, f.machine.Apply(&Request{Ctx: context.Background(), Participation: p, Target: StateApproved}))
		assert.Equal(t, string(StateApproved), p.State)
		assert.NotNil(t, f.participations.approvedAt)
	})

	t.Run("rejection frees the filled units", func(t *testing.T) {
		t.Parallel()
		f := newFixtures(t)
		f.participations.selections = []model.Selection{
			{OptionID: 3},
			{OptionID: 4},
		}

		p := newParticipation(StatePendingApproval)
		require.NoError(t, f.machine.Apply(&Request{Ctx: context.Background(), Participation: p, Target: StateRejected}))
		assert.Equal(t, []uint64{3, 4}, f.holds.freed)
		assert.Equal(t, string(StateRejected), p.State)
	})
}

func TestDefaultTransitions_Allocation(t *testing.T) {
	t.Parallel()

	t.Run("blocked until the allocation pass ran", func(t *testing.T) {
		t.Parallel()
		f := newFixtures(t)

		p := newParticipation(StateApproved)
		err := f.machine.Apply(&Request{Ctx: context.Background(), Participation: p, Target: StateAllocated})
		var ge *GuardError
		require.True(t, errors.As(err, &ge))
		assert.Equal(t, GuardCodeAllocationPending, ge.Code)

		f.participations.hasAlloc = true
		require.NoError(t, f.machine.Apply(&Request{Ctx: context.Background(), Participation: p, Target: StateAllocated}))
		assert.Equal(t, string(StateAllocated), p.State)
		assert.NotNil(t, f.participations.allocatedAt)
	})

	t.Run("waitlisting needs no guard", func(t *testing.T) {
		t.Parallel()
		f := newFixtures(t)
		p := newParticipation(StateApproved)
		require.NoError(t, f.machine.Apply(&Request{Ctx: context.Background(), Participation: p, Target: StateWaitlisted}))
		assert.Equal(t, string(StateWaitlisted), p.State)
	})
}
