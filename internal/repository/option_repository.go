package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/survey-participation/internal/model"
)

// OptionRepo provides data access to the options table.
type OptionRepo struct {
	db *sql.DB
}

// NewOptionRepo returns an OptionRepo bound to the provided database.
func NewOptionRepo(db *sql.DB) *OptionRepo { return &OptionRepo{db: db} }

// OptionWithAvailability pairs an option with its live capacity counters
// for catalogue listings.  The availability figure is an unlocked read
// and may be stale by the time a hold is attempted.
type OptionWithAvailability struct {
	Option    model.Option
	Total     uint32
	Available int
}

// CreateTx inserts an option together with its capacity row.  Both
// inserts share the caller's transaction so an option never exists
// without counters.
func (r *OptionRepo) CreateTx(ctx context.Context, tx *sql.Tx, opt *model.Option, total uint32) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO options (release_id, name, position) VALUES (?, ?, ?)`,
		opt.ReleaseID, opt.Name, opt.Position)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	opt.ID = uint64(id)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO capacities (option_id, total_capacity, reserved_count, filled_count)
		 VALUES (?, ?, 0, 0)`,
		opt.ID, total)
	return err
}

// CreateWithCapacity is the non-transactional variant of CreateTx for
// callers without an open transaction.
func (r *OptionRepo) CreateWithCapacity(ctx context.Context, opt *model.Option, total uint32) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := r.CreateTx(ctx, tx, opt, total); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// GetByID fetches a single option.
func (r *OptionRepo) GetByID(ctx context.Context, id uint64) (*model.Option, error) {
	var opt model.Option
	err := r.db.QueryRowContext(ctx,
		`SELECT id, release_id, name, position, created_at, updated_at
		 FROM options WHERE id = ?`, id).
		Scan(&opt.ID, &opt.ReleaseID, &opt.Name, &opt.Position, &opt.CreatedAt, &opt.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrOptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &opt, nil
}

// ListByRelease returns the release's options joined with their capacity
// counters, ordered by position.
func (r *OptionRepo) ListByRelease(ctx context.Context, releaseID uint64) ([]OptionWithAvailability, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT o.id, o.release_id, o.name, o.position, o.created_at, o.updated_at,
		        c.total_capacity, c.reserved_count, c.filled_count
		 FROM options o
		 JOIN capacities c ON c.option_id = o.id
		 WHERE o.release_id = ?
		 ORDER BY o.position, o.id`, releaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OptionWithAvailability
	for rows.Next() {
		var item OptionWithAvailability
		var reserved, filled uint32
		if err := rows.Scan(&item.Option.ID, &item.Option.ReleaseID, &item.Option.Name,
			&item.Option.Position, &item.Option.CreatedAt, &item.Option.UpdatedAt,
			&item.Total, &reserved, &filled); err != nil {
			return nil, err
		}
		item.Available = int(item.Total) - int(reserved) - int(filled)
		out = append(out, item)
	}
	return out, rows.Err()
}
