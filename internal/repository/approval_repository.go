package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/survey-participation/internal/model"
)

// ApprovalRepo provides data access to the approval_steps and approvals
// tables.
type ApprovalRepo struct {
	db *sql.DB
}

// NewApprovalRepo returns an ApprovalRepo bound to the provided
// database.
func NewApprovalRepo(db *sql.DB) *ApprovalRepo { return &ApprovalRepo{db: db} }

// CreateStep inserts a workflow step for a release.
func (r *ApprovalRepo) CreateStep(ctx context.Context, s *model.ApprovalStep) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO approval_steps (release_id, name, position) VALUES (?, ?, ?)`,
		s.ReleaseID, s.Name, s.Position)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	return nil
}

// StepsByRelease returns the release's workflow steps in order.
func (r *ApprovalRepo) StepsByRelease(ctx context.Context, releaseID uint64) ([]model.ApprovalStep, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, release_id, name, position, created_at
		 FROM approval_steps WHERE release_id = ? ORDER BY position, id`, releaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ApprovalStep
	for rows.Next() {
		var s model.ApprovalStep
		if err := rows.Scan(&s.ID, &s.ReleaseID, &s.Name, &s.Position, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordDecisionTx stores one approver's decision.  A second decision on
// the same (participation, step) is a conflict; decisions are not
// overwritten.
func (r *ApprovalRepo) RecordDecisionTx(ctx context.Context, tx *sql.Tx, a *model.Approval) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO approvals (participation_id, step_id, approver_id, decision, reason)
		 VALUES (?, ?, ?, ?, ?)`,
		a.ParticipationID, a.StepID, a.ApproverID, a.Decision, a.Reason)
	if err != nil {
		if isDuplicateEntry(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	return nil
}

// AllApprovedTx reports whether every workflow step of the release has
// an APPROVED decision for the participation.  A release with no steps
// counts as approved.
func (r *ApprovalRepo) AllApprovedTx(ctx context.Context, tx *sql.Tx, participationID, releaseID uint64) (bool, error) {
	var pending int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM approval_steps s
		 WHERE s.release_id = ?
		   AND NOT EXISTS (
		     SELECT 1 FROM approvals a
		     WHERE a.participation_id = ? AND a.step_id = s.id AND a.decision = ?
		   )`,
		releaseID, participationID, model.ApprovalDecisionApproved).Scan(&pending)
	if err != nil {
		return false, err
	}
	return pending == 0, nil
}

// DecisionsByParticipation returns the recorded decisions for one
// participation.
func (r *ApprovalRepo) DecisionsByParticipation(ctx context.Context, participationID uint64) ([]model.Approval, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, participation_id, step_id, approver_id, decision, reason, created_at
		 FROM approvals WHERE participation_id = ? ORDER BY created_at`, participationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Approval
	for rows.Next() {
		var a model.Approval
		if err := rows.Scan(&a.ID, &a.ParticipationID, &a.StepID, &a.ApproverID, &a.Decision, &a.Reason, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
