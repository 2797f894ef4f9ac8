package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/iliyamo/survey-participation/internal/model"
)

// ParticipationRepo provides data access to the participations,
// selections and allocations tables.  The state column is written only
// through UpdateStateTx; services drive it via the lifecycle machine.
type ParticipationRepo struct {
	db *sql.DB
}

// NewParticipationRepo returns a ParticipationRepo bound to the provided
// database.
func NewParticipationRepo(db *sql.DB) *ParticipationRepo {
	return &ParticipationRepo{db: db}
}

// CreateTx inserts a new participation row with its eligibility snapshot
// and sets the generated ID.  A unique index over (user_id, release_id)
// rejects a second participation, surfaced as ErrConflict.
func (r *ParticipationRepo) CreateTx(ctx context.Context, tx *sql.Tx, p *model.Participation) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO participations (user_id, release_id, state, eligibility_result, state_updated_at)
		 VALUES (?, ?, ?, ?, UTC_TIMESTAMP())`,
		p.UserID, p.ReleaseID, p.State, []byte(p.EligibilityResult))
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
	p.ID = uint64(id)
	return nil
}

const participationColumns = `id, user_id, release_id, state, eligibility_result, submitted_at, approved_at, allocated_at, state_updated_at, created_at`

func scanParticipation(scan func(dest ...any) error) (*model.Participation, error) {
	var p model.Participation
	var result sql.NullString
	err := scan(&p.ID, &p.UserID, &p.ReleaseID, &p.State, &result,
		&p.SubmittedAt, &p.ApprovedAt, &p.AllocatedAt, &p.StateUpdatedAt, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrParticipationNotFound
	}
	if err != nil {
		return nil, err
	}
	if result.Valid {
		p.EligibilityResult = json.RawMessage(result.String)
	}
	return &p, nil
}

// GetByID fetches a single participation without locking.
func (r *ParticipationRepo) GetByID(ctx context.Context, id uint64) (*model.Participation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+participationColumns+` FROM participations WHERE id = ?`, id)
	return scanParticipation(row.Scan)
}

// GetByIDForUpdateTx fetches a participation with its row locked.  Every
// transition loads the row this way so concurrent transitions on the
// same participation serialize.
func (r *ParticipationRepo) GetByIDForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Participation, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+participationColumns+` FROM participations WHERE id = ? FOR UPDATE`, id)
	return scanParticipation(row.Scan)
}

// GetByUserAndRelease fetches the user's participation on a release.
func (r *ParticipationRepo) GetByUserAndRelease(ctx context.Context, userID, releaseID uint64) (*model.Participation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+participationColumns+` FROM participations WHERE user_id = ? AND release_id = ?`,
		userID, releaseID)
	return scanParticipation(row.Scan)
}

// GetByUserAndReleaseForUpdateTx is the locked variant used when a
// transition starts from an operation keyed by (user, release).
func (r *ParticipationRepo) GetByUserAndReleaseForUpdateTx(ctx context.Context, tx *sql.Tx, userID, releaseID uint64) (*model.Participation, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+participationColumns+` FROM participations
		 WHERE user_id = ? AND release_id = ? FOR UPDATE`,
		userID, releaseID)
	return scanParticipation(row.Scan)
}

// UpdateStateTx writes the state column and its change timestamp.
func (r *ParticipationRepo) UpdateStateTx(ctx context.Context, tx *sql.Tx, id uint64, state string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE participations SET state = ?, state_updated_at = ? WHERE id = ?`,
		state, at.UTC(), id)
	return err
}

// SaveSubmissionTx records a submission's selections and answers.
func (r *ParticipationRepo) SaveSubmissionTx(ctx context.Context, tx *sql.Tx, participationID uint64, selections []model.Selection, answers json.RawMessage) error {
	for _, s := range selections {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO selections (participation_id, option_id, quota_bucket_id) VALUES (?, ?, ?)`,
			participationID, s.OptionID, s.QuotaBucketID); err != nil {
			return err
		}
	}
	if len(answers) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO submissions (participation_id, answers) VALUES (?, ?)`,
		participationID, []byte(answers))
	return err
}

// SelectionsTx returns the participation's recorded selections.
func (r *ParticipationRepo) SelectionsTx(ctx context.Context, tx *sql.Tx, participationID uint64) ([]model.Selection, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, participation_id, option_id, quota_bucket_id, created_at
		 FROM selections WHERE participation_id = ?`, participationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Selection
	for rows.Next() {
		var s model.Selection
		if err := rows.Scan(&s.ID, &s.ParticipationID, &s.OptionID, &s.QuotaBucketID, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *ParticipationRepo) stampTx(ctx context.Context, tx *sql.Tx, column string, id uint64, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE participations SET `+column+` = ? WHERE id = ?`, at.UTC(), id)
	return err
}

// StampSubmittedTx records the submission timestamp.
func (r *ParticipationRepo) StampSubmittedTx(ctx context.Context, tx *sql.Tx, id uint64, at time.Time) error {
	return r.stampTx(ctx, tx, "submitted_at", id, at)
}

// StampApprovedTx records the approval timestamp.
func (r *ParticipationRepo) StampApprovedTx(ctx context.Context, tx *sql.Tx, id uint64, at time.Time) error {
	return r.stampTx(ctx, tx, "approved_at", id, at)
}

// StampAllocatedTx records the allocation timestamp.
func (r *ParticipationRepo) StampAllocatedTx(ctx context.Context, tx *sql.Tx, id uint64, at time.Time) error {
	return r.stampTx(ctx, tx, "allocated_at", id, at)
}

// HasAllocationTx reports whether an allocation row exists for the
// participation.
func (r *ParticipationRepo) HasAllocationTx(ctx context.Context, tx *sql.Tx, participationID uint64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM allocations WHERE participation_id = ?`, participationID).Scan(&n)
	return n > 0, err
}

// CreateAllocationTx records the allocation pass outcome for one
// approved participation.  The unique index over participation_id makes
// a repeated pass a conflict rather than a double allocation.
func (r *ParticipationRepo) CreateAllocationTx(ctx context.Context, tx *sql.Tx, a *model.Allocation) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO allocations (participation_id, option_id) VALUES (?, ?)`,
		a.ParticipationID, a.OptionID)
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

// ListByUser returns the user's participations, newest first.
func (r *ParticipationRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Participation, error) {
	return r.list(ctx, `SELECT `+participationColumns+` FROM participations
		 WHERE user_id = ? ORDER BY created_at DESC`, userID)
}

// ListPendingByRelease returns the release's participations awaiting
// approval, oldest first so reviewers work in submission order.
func (r *ParticipationRepo) ListPendingByRelease(ctx context.Context, releaseID uint64, state string) ([]model.Participation, error) {
	return r.list(ctx, `SELECT `+participationColumns+` FROM participations
		 WHERE release_id = ? AND state = ? ORDER BY submitted_at ASC`, releaseID, state)
}

func (r *ParticipationRepo) list(ctx context.Context, query string, args ...any) ([]model.Participation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Participation
	for rows.Next() {
		p, err := scanParticipation(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// PriorByUser returns the user's participation history keyed by release,
// used to build eligibility evaluation contexts.
func (r *ParticipationRepo) PriorByUser(ctx context.Context, userID uint64) (map[uint64]model.Participation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+participationColumns+` FROM participations WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uint64]model.Participation)
	for rows.Next() {
		p, err := scanParticipation(rows.Scan)
		if err != nil {
			return nil, err
		}
		out[p.ReleaseID] = *p
	}
	return out, rows.Err()
}
