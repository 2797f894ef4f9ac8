// Package service hosts the participation façade that ties the
// eligibility engine, the lifecycle machine and the hold manager
// together.  Every mutating operation runs inside one transaction with
// the participation row locked, so concurrent requests on the same
// participation serialize at the database.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/iliyamo/survey-participation/internal/eligibility"
	"github.com/iliyamo/survey-participation/internal/lifecycle"
	"github.com/iliyamo/survey-participation/internal/model"
	"github.com/iliyamo/survey-participation/internal/repository"
)

// TxRunner opens the transaction each mutating operation runs in and
// retries it on transient failures.  database.Runner satisfies it.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// HoldCreator is the one hold-manager call the service makes directly;
// every other capacity mutation goes through the machine's hooks.
type HoldCreator interface {
	CreateHold(ctx context.Context, tx *sql.Tx, optionID, userID, releaseID uint64, bucketID *uint64) (*model.Hold, error)
}

// ReleaseStore covers the release reads the service needs.
type ReleaseStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Release, error)
	RequiresApprovalTx(ctx context.Context, tx *sql.Tx, releaseID uint64) (bool, error)
}

// ParticipationStore covers the participation rows the service touches
// outside the machine's own hooks.
type ParticipationStore interface {
	CreateTx(ctx context.Context, tx *sql.Tx, p *model.Participation) error
	GetByIDForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Participation, error)
	GetByUserAndReleaseForUpdateTx(ctx context.Context, tx *sql.Tx, userID, releaseID uint64) (*model.Participation, error)
	GetByUserAndRelease(ctx context.Context, userID, releaseID uint64) (*model.Participation, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.Participation, error)
	CreateAllocationTx(ctx context.Context, tx *sql.Tx, a *model.Allocation) error
}

// ApprovalStore records approver decisions.
type ApprovalStore interface {
	RecordDecisionTx(ctx context.Context, tx *sql.Tx, a *model.Approval) error
}

// ErrReleaseClosed is returned when an operation targets a release whose
// participation window is not open.
var ErrReleaseClosed = errors.New("release window is not open")

// ErrAlreadyParticipating is returned when a user starts a second
// participation on the same release.
var ErrAlreadyParticipating = errors.New("participation already exists for this release")

// ParticipationService is the single entry point the handlers call.  It
// owns transaction boundaries; the machine and the hold manager always
// run inside a transaction this service opened.
type ParticipationService struct {
	runner         TxRunner
	engine         *eligibility.Engine
	machine        *lifecycle.Machine
	holds          HoldCreator
	releases       ReleaseStore
	participations ParticipationStore
	approvals      ApprovalStore
}

// NewParticipationService wires the façade.
func NewParticipationService(runner TxRunner, engine *eligibility.Engine, machine *lifecycle.Machine,
	holds HoldCreator, releases ReleaseStore,
	participations ParticipationStore, approvals ApprovalStore) *ParticipationService {
	return &ParticipationService{
		runner:         runner,
		engine:         engine,
		machine:        machine,
		holds:          holds,
		releases:       releases,
		participations: participations,
		approvals:      approvals,
	}
}

// CheckEligibility evaluates the user against the release's rules
// without creating or changing anything.
func (s *ParticipationService) CheckEligibility(ctx context.Context, userID, releaseID uint64) (*eligibility.Result, error) {
	if _, err := s.openRelease(ctx, releaseID); err != nil {
		return nil, err
	}
	return s.engine.Evaluate(ctx, userID, releaseID)
}

// StartParticipation evaluates eligibility, creates the participation
// row with the decision snapshot and moves it to VIEWING, or to
// INELIGIBLE when the decision is DENY.  A WAITLIST decision still
// proceeds to VIEWING: the quota check is advisory here and is enforced
// for real when a hold is attempted.
func (s *ParticipationService) StartParticipation(ctx context.Context, userID, releaseID uint64) (*model.Participation, *eligibility.Result, error) {
	if _, err := s.openRelease(ctx, releaseID); err != nil {
		return nil, nil, err
	}
	var (
		p      *model.Participation
		result *eligibility.Result
	)
	// Evaluation, snapshot and the row itself are built inside the
	// closure so a retry after a transient failure replays from a fresh
	// ELIGIBLE row rather than re-applying the transition to the copy
	// the failed attempt already mutated.
	err := s.runner.RunInTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = s.engine.Evaluate(ctx, userID, releaseID)
		if err != nil {
			return err
		}
		snapshot, err := json.Marshal(result)
		if err != nil {
			return err
		}
		target := lifecycle.StateViewing
		if result.Decision == eligibility.DecisionDeny {
			target = lifecycle.StateIneligible
		}
		p = &model.Participation{
			UserID:            userID,
			ReleaseID:         releaseID,
			State:             string(lifecycle.StateEligible),
			EligibilityResult: snapshot,
		}
		if err := s.participations.CreateTx(ctx, tx, p); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrAlreadyParticipating
			}
			return err
		}
		return s.machine.Apply(&lifecycle.Request{
			Ctx:           ctx,
			Tx:            tx,
			Participation: p,
			Target:        target,
			ActorID:       userID,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return p, result, nil
}

// HoldOption claims one unit of the option's capacity for the user.  The
// first hold drives the VIEWING -> HOLD_ACTIVE transition; further holds
// while already in HOLD_ACTIVE go straight to the hold manager, since
// the lifecycle state does not change.
func (s *ParticipationService) HoldOption(ctx context.Context, userID, releaseID, optionID uint64, bucketID *uint64) (*model.Hold, error) {
	if _, err := s.openRelease(ctx, releaseID); err != nil {
		return nil, err
	}
	var created *model.Hold
	err := s.runner.RunInTx(ctx, func(tx *sql.Tx) error {
		p, err := s.participations.GetByUserAndReleaseForUpdateTx(ctx, tx, userID, releaseID)
		if err != nil {
			return err
		}
		if p.State == string(lifecycle.StateHoldActive) {
			created, err = s.holds.CreateHold(ctx, tx, optionID, userID, releaseID, bucketID)
			return err
		}
		req := &lifecycle.Request{
			Ctx:           ctx,
			Tx:            tx,
			Participation: p,
			Target:        lifecycle.StateHoldActive,
			ActorID:       userID,
			OptionID:      optionID,
			QuotaBucketID: bucketID,
		}
		if err := s.machine.Apply(req); err != nil {
			return err
		}
		created = req.Hold
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ReleaseHold voluntarily gives back all of the user's active holds on
// the release and returns the participation to VIEWING.
func (s *ParticipationService) ReleaseHold(ctx context.Context, userID, releaseID uint64) (*model.Participation, error) {
	var p *model.Participation
	err := s.runner.RunInTx(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = s.participations.GetByUserAndReleaseForUpdateTx(ctx, tx, userID, releaseID)
		if err != nil {
			return err
		}
		return s.machine.Apply(&lifecycle.Request{
			Ctx:           ctx,
			Tx:            tx,
			Participation: p,
			Target:        lifecycle.StateViewing,
			ActorID:       userID,
		})
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SubmitSurvey converts the user's holds, records selections and
// answers, and routes the submission onward in the same transaction:
// releases with an approval workflow land in PENDING_APPROVAL, the rest
// are approved immediately.
func (s *ParticipationService) SubmitSurvey(ctx context.Context, userID, releaseID uint64, selections []uint64, answers json.RawMessage) (*model.Participation, error) {
	if _, err := s.openRelease(ctx, releaseID); err != nil {
		return nil, err
	}
	var p *model.Participation
	err := s.runner.RunInTx(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = s.participations.GetByUserAndReleaseForUpdateTx(ctx, tx, userID, releaseID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := s.machine.Apply(&lifecycle.Request{
			Ctx:           ctx,
			Tx:            tx,
			Participation: p,
			Target:        lifecycle.StateSubmitted,
			ActorID:       userID,
			Selections:    selections,
			Answers:       answers,
			Now:           now,
		}); err != nil {
			return err
		}
		required, err := s.releases.RequiresApprovalTx(ctx, tx, releaseID)
		if err != nil {
			return err
		}
		target := lifecycle.StateApproved
		if required {
			target = lifecycle.StatePendingApproval
		}
		return s.machine.Apply(&lifecycle.Request{
			Ctx:           ctx,
			Tx:            tx,
			Participation: p,
			Target:        target,
			ActorID:       userID,
			Now:           now,
		})
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Approve records an approver's APPROVED decision on one workflow step.
// When the decision completes the workflow the participation moves to
// APPROVED; otherwise it stays in PENDING_APPROVAL awaiting the
// remaining steps.
func (s *ParticipationService) Approve(ctx context.Context, approverID, participationID, stepID uint64, reason string) (*model.Participation, error) {
	var p *model.Participation
	err := s.runner.RunInTx(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = s.participations.GetByIDForUpdateTx(ctx, tx, participationID)
		if err != nil {
			return err
		}
		if err := s.approvals.RecordDecisionTx(ctx, tx, &model.Approval{
			ParticipationID: participationID,
			StepID:          stepID,
			ApproverID:      approverID,
			Decision:        model.ApprovalDecisionApproved,
			Reason:          reason,
		}); err != nil {
			return err
		}
		err = s.machine.Apply(&lifecycle.Request{
			Ctx:           ctx,
			Tx:            tx,
			Participation: p,
			Target:        lifecycle.StateApproved,
			ActorID:       approverID,
		})
		var guard *lifecycle.GuardError
		if errors.As(err, &guard) && guard.Code == lifecycle.GuardCodeApprovalsPending {
			// More steps outstanding; the decision itself still counts.
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Reject records a REJECTED decision and moves the participation to
// REJECTED, giving its filled units back to the pool.
func (s *ParticipationService) Reject(ctx context.Context, approverID, participationID, stepID uint64, reason string) (*model.Participation, error) {
	var p *model.Participation
	err := s.runner.RunInTx(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = s.participations.GetByIDForUpdateTx(ctx, tx, participationID)
		if err != nil {
			return err
		}
		if err := s.approvals.RecordDecisionTx(ctx, tx, &model.Approval{
			ParticipationID: participationID,
			StepID:          stepID,
			ApproverID:      approverID,
			Decision:        model.ApprovalDecisionRejected,
			Reason:          reason,
		}); err != nil {
			return err
		}
		return s.machine.Apply(&lifecycle.Request{
			Ctx:           ctx,
			Tx:            tx,
			Participation: p,
			Target:        lifecycle.StateRejected,
			ActorID:       approverID,
			Metadata:      map[string]any{"reason": reason},
		})
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Allocate records the allocation pass outcome for one approved
// participation and moves it to ALLOCATED.
func (s *ParticipationService) Allocate(ctx context.Context, actorID, participationID, optionID uint64) (*model.Participation, error) {
	var p *model.Participation
	err := s.runner.RunInTx(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = s.participations.GetByIDForUpdateTx(ctx, tx, participationID)
		if err != nil {
			return err
		}
		if err := s.participations.CreateAllocationTx(ctx, tx, &model.Allocation{
			ParticipationID: participationID,
			OptionID:        optionID,
		}); err != nil {
			return err
		}
		return s.machine.Apply(&lifecycle.Request{
			Ctx:           ctx,
			Tx:            tx,
			Participation: p,
			Target:        lifecycle.StateAllocated,
			ActorID:       actorID,
			Metadata:      map[string]any{"option_id": optionID},
		})
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Waitlist parks an approved participation that did not receive an
// allocation in the pass.
func (s *ParticipationService) Waitlist(ctx context.Context, actorID, participationID uint64) (*model.Participation, error) {
	var p *model.Participation
	err := s.runner.RunInTx(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = s.participations.GetByIDForUpdateTx(ctx, tx, participationID)
		if err != nil {
			return err
		}
		return s.machine.Apply(&lifecycle.Request{
			Ctx:           ctx,
			Tx:            tx,
			Participation: p,
			Target:        lifecycle.StateWaitlisted,
			ActorID:       actorID,
		})
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetMine returns the user's participation on a release.
func (s *ParticipationService) GetMine(ctx context.Context, userID, releaseID uint64) (*model.Participation, error) {
	return s.participations.GetByUserAndRelease(ctx, userID, releaseID)
}

// ListMine returns all of the user's participations.
func (s *ParticipationService) ListMine(ctx context.Context, userID uint64) ([]model.Participation, error) {
	return s.participations.ListByUser(ctx, userID)
}

// openRelease loads the release and verifies its participation window
// contains now.
func (s *ParticipationService) openRelease(ctx context.Context, releaseID uint64) (*model.Release, error) {
	rel, err := s.releases.GetByID(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if now.Before(rel.OpensAt) || !now.Before(rel.ClosesAt) {
		return nil, ErrReleaseClosed
	}
	return rel, nil
}
