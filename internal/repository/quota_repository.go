package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/survey-participation/internal/model"
)

// QuotaRepo provides access to the quota_buckets table.  Bucket counters
// follow the same lock-then-adjust discipline as capacities; the bucket
// row is always locked after the option's capacity row, never before.
type QuotaRepo struct {
	db *sql.DB
}

// NewQuotaRepo returns a QuotaRepo bound to the provided database.
func NewQuotaRepo(db *sql.DB) *QuotaRepo { return &QuotaRepo{db: db} }

// CreateTx inserts a quota bucket for an option.
func (r *QuotaRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.QuotaBucket) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO quota_buckets (option_id, rule_key, quota, current_held, current_filled) VALUES (?, ?, ?, 0, 0)`,
		b.OptionID, b.RuleKey, b.Quota)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	return nil
}

// Create is the non-transactional variant of CreateTx.
func (r *QuotaRepo) Create(ctx context.Context, b *model.QuotaBucket) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := r.CreateTx(ctx, tx, b); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// LockByIDTx reads a bucket under a pessimistic row lock.
func (r *QuotaRepo) LockByIDTx(ctx context.Context, tx *sql.Tx, bucketID uint64) (*model.QuotaBucket, error) {
	var b model.QuotaBucket
	err := tx.QueryRowContext(ctx,
		`SELECT id, option_id, rule_key, quota, current_held, current_filled, created_at, updated_at
		 FROM quota_buckets WHERE id = ? FOR UPDATE`,
		bucketID).Scan(&b.ID, &b.OptionID, &b.RuleKey, &b.Quota, &b.CurrentHeld, &b.CurrentFilled, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuotaBucketNotFound
		}
		return nil, err
	}
	return &b, nil
}

// AdjustTx applies deltas to the held and filled counters, flooring at
// zero like CapacityRepo.AdjustTx.
func (r *QuotaRepo) AdjustTx(ctx context.Context, tx *sql.Tx, bucketID uint64, heldDelta, filledDelta int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE quota_buckets
		 SET current_held   = GREATEST(0, CAST(current_held AS SIGNED) + ?),
		     current_filled = GREATEST(0, CAST(current_filled AS SIGNED) + ?),
		     updated_at     = UTC_TIMESTAMP()
		 WHERE id = ?`,
		heldDelta, filledDelta, bucketID)
	return err
}

// ListByOption returns all buckets of an option, unlocked, for display.
func (r *QuotaRepo) ListByOption(ctx context.Context, optionID uint64) ([]model.QuotaBucket, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, option_id, rule_key, quota, current_held, current_filled, created_at, updated_at
		 FROM quota_buckets WHERE option_id = ? ORDER BY id`,
		optionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.QuotaBucket
	for rows.Next() {
		var b model.QuotaBucket
		if err := rows.Scan(&b.ID, &b.OptionID, &b.RuleKey, &b.Quota, &b.CurrentHeld, &b.CurrentFilled, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListByRelease returns all buckets attached to any option of the
// release.  The eligibility context builder uses this to compute quota
// availability per group.
func (r *QuotaRepo) ListByRelease(ctx context.Context, releaseID uint64) ([]model.QuotaBucket, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT b.id, b.option_id, b.rule_key, b.quota, b.current_held, b.current_filled, b.created_at, b.updated_at
		 FROM quota_buckets b JOIN options o ON o.id = b.option_id
		 WHERE o.release_id = ? ORDER BY b.id`,
		releaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.QuotaBucket
	for rows.Next() {
		var b model.QuotaBucket
		if err := rows.Scan(&b.ID, &b.OptionID, &b.RuleKey, &b.Quota, &b.CurrentHeld, &b.CurrentFilled, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
