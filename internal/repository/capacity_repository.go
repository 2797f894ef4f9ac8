package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/survey-participation/internal/model"
)

// CapacityRepo provides locked access to the capacities table.  Every
// mutation goes through AdjustTx inside a transaction that first called
// LockByOptionTx; the hold manager is the only caller.
type CapacityRepo struct {
	db *sql.DB
}

// NewCapacityRepo returns a CapacityRepo bound to the provided database.
func NewCapacityRepo(db *sql.DB) *CapacityRepo { return &CapacityRepo{db: db} }

// CreateTx inserts the capacity row for a newly defined option.
func (r *CapacityRepo) CreateTx(ctx context.Context, tx *sql.Tx, optionID uint64, total uint32) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO capacities (option_id, total_capacity, reserved_count, filled_count) VALUES (?, ?, 0, 0)`,
		optionID, total)
	return err
}

// LockByOptionTx reads the option's capacity row under a pessimistic row
// lock.  The lock is held until the transaction commits or rolls back,
// serializing all concurrent holders of the same option.  Availability
// must always be computed from the row returned here, never from an
// earlier unlocked read.
func (r *CapacityRepo) LockByOptionTx(ctx context.Context, tx *sql.Tx, optionID uint64) (*model.Capacity, error) {
	var c model.Capacity
	err := tx.QueryRowContext(ctx,
		`SELECT id, option_id, total_capacity, reserved_count, filled_count, updated_at
		 FROM capacities WHERE option_id = ? FOR UPDATE`,
		optionID).Scan(&c.ID, &c.OptionID, &c.TotalCapacity, &c.ReservedCount, &c.FilledCount, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCapacityNotFound
		}
		return nil, err
	}
	return &c, nil
}

// AdjustTx applies deltas to the reserved and filled counters.  Negative
// deltas floor at zero in SQL; retries, duplicate sweeps or clock skew
// must never drive a counter negative, since that would corrupt every
// later availability check.
func (r *CapacityRepo) AdjustTx(ctx context.Context, tx *sql.Tx, optionID uint64, reservedDelta, filledDelta int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE capacities
		 SET reserved_count = GREATEST(0, CAST(reserved_count AS SIGNED) + ?),
		     filled_count   = GREATEST(0, CAST(filled_count AS SIGNED) + ?),
		     updated_at     = UTC_TIMESTAMP()
		 WHERE option_id = ?`,
		reservedDelta, filledDelta, optionID)
	return err
}

// GetByOption reads the capacity row without locking, for display only.
func (r *CapacityRepo) GetByOption(ctx context.Context, optionID uint64) (*model.Capacity, error) {
	var c model.Capacity
	err := r.db.QueryRowContext(ctx,
		`SELECT id, option_id, total_capacity, reserved_count, filled_count, updated_at
		 FROM capacities WHERE option_id = ?`,
		optionID).Scan(&c.ID, &c.OptionID, &c.TotalCapacity, &c.ReservedCount, &c.FilledCount, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCapacityNotFound
		}
		return nil, err
	}
	return &c, nil
}
