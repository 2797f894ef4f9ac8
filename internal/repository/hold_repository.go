package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/survey-participation/internal/model"
)

// HoldRepo provides data access to the holds table.  Status is a strict
// one-way progression from ACTIVE to one of RELEASED, CONVERTED or
// EXPIRED; UpdateStatusTx therefore only ever moves rows out of ACTIVE.
type HoldRepo struct {
	db *sql.DB
}

// NewHoldRepo returns a HoldRepo bound to the provided database.
func NewHoldRepo(db *sql.DB) *HoldRepo { return &HoldRepo{db: db} }

// CreateTx inserts a new ACTIVE hold.  The holds table carries a unique
// index over (user_id, option_id, active_flag) where active_flag is a
// generated column that is 1 for ACTIVE rows and NULL otherwise, so a
// second active hold for the same user and option fails with a duplicate
// entry error, surfaced as ErrDuplicateHold.
func (r *HoldRepo) CreateTx(ctx context.Context, tx *sql.Tx, h *model.Hold) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO holds (option_id, user_id, release_id, quota_bucket_id, status, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		h.OptionID, h.UserID, h.ReleaseID, h.QuotaBucketID, h.Status, h.ExpiresAt.UTC())
	if err != nil {
		if isDuplicateEntry(err) {
			return ErrDuplicateHold
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	h.ID = uint64(id)
	return nil
}

const holdColumns = `id, option_id, user_id, release_id, quota_bucket_id, status, expires_at, created_at`

func scanHolds(rows *sql.Rows) ([]model.Hold, error) {
	defer rows.Close()
	var out []model.Hold
	for rows.Next() {
		var h model.Hold
		if err := rows.Scan(&h.ID, &h.OptionID, &h.UserID, &h.ReleaseID, &h.QuotaBucketID, &h.Status, &h.ExpiresAt, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ActiveByUserAndReleaseTx returns the user's ACTIVE holds on a release
// without locking, ordered by option so callers can plan capacity lock
// acquisition before taking any row locks.
func (r *HoldRepo) ActiveByUserAndReleaseTx(ctx context.Context, tx *sql.Tx, userID, releaseID uint64) ([]model.Hold, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+holdColumns+` FROM holds
		 WHERE user_id = ? AND release_id = ? AND status = ?
		 ORDER BY option_id`,
		userID, releaseID, model.HoldStatusActive)
	if err != nil {
		return nil, err
	}
	return scanHolds(rows)
}

// ActiveByUserAndReleaseForUpdateTx returns the user's ACTIVE holds on a
// release with their rows locked, so conversion and release can verify
// status and expiry against a stable view.  Ordered by option so every
// caller locks hold rows in the same sequence.
func (r *HoldRepo) ActiveByUserAndReleaseForUpdateTx(ctx context.Context, tx *sql.Tx, userID, releaseID uint64) ([]model.Hold, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+holdColumns+` FROM holds
		 WHERE user_id = ? AND release_id = ? AND status = ?
		 ORDER BY option_id FOR UPDATE`,
		userID, releaseID, model.HoldStatusActive)
	if err != nil {
		return nil, err
	}
	return scanHolds(rows)
}

// ExpiredByOptionForUpdateTx returns the option's ACTIVE holds whose
// expiry has passed, row-locked for the sweep.  Rows already moved out
// of ACTIVE are not returned, which is what makes the sweep idempotent.
func (r *HoldRepo) ExpiredByOptionForUpdateTx(ctx context.Context, tx *sql.Tx, optionID uint64, now time.Time) ([]model.Hold, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+holdColumns+` FROM holds
		 WHERE option_id = ? AND status = ? AND expires_at < ? FOR UPDATE`,
		optionID, model.HoldStatusActive, now.UTC())
	if err != nil {
		return nil, err
	}
	return scanHolds(rows)
}

// UpdateStatusTx moves a hold out of ACTIVE.  The WHERE clause keeps the
// progression one-way: a terminal row is never rewritten.
func (r *HoldRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, holdID uint64, status string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE holds SET status = ? WHERE id = ? AND status = ?`,
		status, holdID, model.HoldStatusActive)
	return err
}

// OptionsWithExpired lists the distinct option IDs that currently have
// expired ACTIVE holds.  The sweep uses it to decide which options to
// lock; it runs outside any transaction.
func (r *HoldRepo) OptionsWithExpired(ctx context.Context, now time.Time) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT option_id FROM holds WHERE status = ? AND expires_at < ?`,
		model.HoldStatusActive, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ActiveByUser returns the user's ACTIVE holds across all releases,
// unlocked, for display.
func (r *HoldRepo) ActiveByUser(ctx context.Context, userID uint64) ([]model.Hold, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+holdColumns+` FROM holds WHERE user_id = ? AND status = ?`,
		userID, model.HoldStatusActive)
	if err != nil {
		return nil, err
	}
	return scanHolds(rows)
}
