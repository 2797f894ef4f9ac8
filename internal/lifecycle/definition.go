package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iliyamo/survey-participation/internal/model"
)

// HoldOps is the hold manager surface the transition hooks use.  All
// capacity mutation flows through it; hooks never issue capacity SQL
// themselves.
type HoldOps interface {
	CreateHold(ctx context.Context, tx *sql.Tx, optionID, userID, releaseID uint64, bucketID *uint64) (*model.Hold, error)
	ReleaseActive(ctx context.Context, tx *sql.Tx, userID, releaseID uint64) (int, error)
	ConvertActive(ctx context.Context, tx *sql.Tx, userID, releaseID uint64) ([]model.Hold, error)
	ReleaseFilled(ctx context.Context, tx *sql.Tx, optionID uint64, bucketID *uint64) error
}

// ParticipationOps covers the participation writes the hooks perform
// besides the state column itself.
type ParticipationOps interface {
	SaveSubmissionTx(ctx context.Context, tx *sql.Tx, participationID uint64, selections []model.Selection, answers json.RawMessage) error
	SelectionsTx(ctx context.Context, tx *sql.Tx, participationID uint64) ([]model.Selection, error)
	StampSubmittedTx(ctx context.Context, tx *sql.Tx, id uint64, at time.Time) error
	StampApprovedTx(ctx context.Context, tx *sql.Tx, id uint64, at time.Time) error
	StampAllocatedTx(ctx context.Context, tx *sql.Tx, id uint64, at time.Time) error
	HasAllocationTx(ctx context.Context, tx *sql.Tx, participationID uint64) (bool, error)
}

// ReleaseOps answers release-level questions needed by guards.
type ReleaseOps interface {
	RequiresApprovalTx(ctx context.Context, tx *sql.Tx, releaseID uint64) (bool, error)
}

// ApprovalOps answers approval-workflow questions needed by guards.
type ApprovalOps interface {
	AllApprovedTx(ctx context.Context, tx *sql.Tx, participationID, releaseID uint64) (bool, error)
}

// Deps bundles the collaborators the transition table closes over.
type Deps struct {
	Holds          HoldOps
	Participations ParticipationOps
	Releases       ReleaseOps
	Approvals      ApprovalOps
}

func stamp(req *Request) time.Time {
	if !req.Now.IsZero() {
		return req.Now
	}
	return time.Now().UTC()
}

// DefaultTransitions builds the participation transition table.  The
// table is assembled once at startup and handed to New; nothing is
// registered at runtime.
func DefaultTransitions(deps Deps) []Transition {
	return []Transition{
		{From: StateEligible, To: StateViewing},
		{From: StateEligible, To: StateIneligible},
		{
			From: StateViewing,
			To:   StateHoldActive,
			Guard: func(req *Request) error {
				if req.OptionID == 0 {
					return &GuardError{Code: GuardCodeValidation, Reason: "option_id required"}
				}
				return nil
			},
			Before: func(req *Request) error {
				p := req.Participation
				h, err := deps.Holds.CreateHold(req.Ctx, req.Tx, req.OptionID, p.UserID, p.ReleaseID, req.QuotaBucketID)
				if err != nil {
					return err
				}
				req.Hold = h
				return nil
			},
		},
		{
			From: StateHoldActive,
			To:   StateViewing,
			Before: func(req *Request) error {
				p := req.Participation
				_, err := deps.Holds.ReleaseActive(req.Ctx, req.Tx, p.UserID, p.ReleaseID)
				return err
			},
		},
		{
			From: StateHoldActive,
			To:   StateSubmitted,
			Guard: func(req *Request) error {
				if len(req.Selections) == 0 {
					return &GuardError{Code: GuardCodeValidation, Reason: "at least one selection required"}
				}
				return nil
			},
			Before: func(req *Request) error {
				p := req.Participation
				converted, err := deps.Holds.ConvertActive(req.Ctx, req.Tx, p.UserID, p.ReleaseID)
				if err != nil {
					return err
				}
				held := make(map[uint64]model.Hold, len(converted))
				for _, h := range converted {
					held[h.OptionID] = h
				}
				selections := make([]model.Selection, 0, len(req.Selections))
				for _, optID := range req.Selections {
					h, ok := held[optID]
					if !ok {
						return &GuardError{
							Code:   GuardCodeValidation,
							Reason: fmt.Sprintf("option %d is not held by this user", optID),
						}
					}
					selections = append(selections, model.Selection{
						ParticipationID: p.ID,
						OptionID:        optID,
						QuotaBucketID:   h.QuotaBucketID,
					})
				}
				return deps.Participations.SaveSubmissionTx(req.Ctx, req.Tx, p.ID, selections, req.Answers)
			},
			After: func(req *Request) error {
				return deps.Participations.StampSubmittedTx(req.Ctx, req.Tx, req.Participation.ID, stamp(req))
			},
		},
		{
			From: StateSubmitted,
			To:   StatePendingApproval,
			Guard: func(req *Request) error {
				required, err := deps.Releases.RequiresApprovalTx(req.Ctx, req.Tx, req.Participation.ReleaseID)
				if err != nil {
					return err
				}
				if !required {
					return &GuardError{Code: GuardCodeNoWorkflow, Reason: "release has no approval workflow"}
				}
				return nil
			},
		},
		{
			From: StateSubmitted,
			To:   StateApproved,
			Guard: func(req *Request) error {
				required, err := deps.Releases.RequiresApprovalTx(req.Ctx, req.Tx, req.Participation.ReleaseID)
				if err != nil {
					return err
				}
				if required {
					return &GuardError{Code: GuardCodeWorkflowRequired, Reason: "release requires an approval workflow"}
				}
				return nil
			},
			After: func(req *Request) error {
				return deps.Participations.StampApprovedTx(req.Ctx, req.Tx, req.Participation.ID, stamp(req))
			},
		},
		{
			From: StatePendingApproval,
			To:   StateApproved,
			Guard: func(req *Request) error {
				done, err := deps.Approvals.AllApprovedTx(req.Ctx, req.Tx, req.Participation.ID, req.Participation.ReleaseID)
				if err != nil {
					return err
				}
				if !done {
					return &GuardError{Code: GuardCodeApprovalsPending, Reason: "required approvals not yet satisfied"}
				}
				return nil
			},
			After: func(req *Request) error {
				return deps.Participations.StampApprovedTx(req.Ctx, req.Tx, req.Participation.ID, stamp(req))
			},
		},
		{
			From: StatePendingApproval,
			To:   StateRejected,
			Before: func(req *Request) error {
				// Rejection gives the filled units back to the pool.
				sels, err := deps.Participations.SelectionsTx(req.Ctx, req.Tx, req.Participation.ID)
				if err != nil {
					return err
				}
				for _, s := range sels {
					if err := deps.Holds.ReleaseFilled(req.Ctx, req.Tx, s.OptionID, s.QuotaBucketID); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			From: StateApproved,
			To:   StateAllocated,
			Guard: func(req *Request) error {
				has, err := deps.Participations.HasAllocationTx(req.Ctx, req.Tx, req.Participation.ID)
				if err != nil {
					return err
				}
				if !has {
					return &GuardError{Code: GuardCodeAllocationPending, Reason: "allocation pass has not assigned this participation"}
				}
				return nil
			},
			After: func(req *Request) error {
				return deps.Participations.StampAllocatedTx(req.Ctx, req.Tx, req.Participation.ID, stamp(req))
			},
		},
		{From: StateApproved, To: StateWaitlisted},
	}
}
