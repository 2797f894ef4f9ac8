package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/iliyamo/survey-participation/internal/model"
)

// ReleaseRepo provides data access to the releases table.
type ReleaseRepo struct {
	db *sql.DB
}

// NewReleaseRepo returns a ReleaseRepo bound to the provided database.
func NewReleaseRepo(db *sql.DB) *ReleaseRepo { return &ReleaseRepo{db: db} }

// Create inserts a new release and sets its generated ID.
func (r *ReleaseRepo) Create(ctx context.Context, rel *model.Release) error {
	var rules interface{}
	if len(rel.RuleDescription) > 0 {
		rules = []byte(rel.RuleDescription)
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO releases (survey_id, title, rule_description, requires_approval, opens_at, closes_at, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rel.SurveyID, rel.Title, rules, rel.RequiresApproval,
		rel.OpensAt.UTC(), rel.ClosesAt.UTC(), rel.CreatedBy)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rel.ID = uint64(id)
	return nil
}

const releaseColumns = `id, survey_id, title, rule_description, requires_approval, opens_at, closes_at, created_by, created_at, updated_at`

func scanRelease(row *sql.Row) (*model.Release, error) {
	var rel model.Release
	var rules sql.NullString
	err := row.Scan(&rel.ID, &rel.SurveyID, &rel.Title, &rules, &rel.RequiresApproval,
		&rel.OpensAt, &rel.ClosesAt, &rel.CreatedBy, &rel.CreatedAt, &rel.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrReleaseNotFound
	}
	if err != nil {
		return nil, err
	}
	if rules.Valid {
		rel.RuleDescription = json.RawMessage(rules.String)
	}
	return &rel, nil
}

// GetByID fetches a single release.
func (r *ReleaseRepo) GetByID(ctx context.Context, id uint64) (*model.Release, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+releaseColumns+` FROM releases WHERE id = ?`, id)
	return scanRelease(row)
}

// ListOpen returns releases whose participation window contains now,
// newest first.
func (r *ReleaseRepo) ListOpen(ctx context.Context) ([]model.Release, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+releaseColumns+` FROM releases
		 WHERE opens_at <= UTC_TIMESTAMP() AND closes_at > UTC_TIMESTAMP()
		 ORDER BY opens_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Release
	for rows.Next() {
		var rel model.Release
		var rules sql.NullString
		if err := rows.Scan(&rel.ID, &rel.SurveyID, &rel.Title, &rules, &rel.RequiresApproval,
			&rel.OpensAt, &rel.ClosesAt, &rel.CreatedBy, &rel.CreatedAt, &rel.UpdatedAt); err != nil {
			return nil, err
		}
		if rules.Valid {
			rel.RuleDescription = json.RawMessage(rules.String)
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// RuleDescription returns the release's eligibility rule JSON.  A
// release with no rules yields a nil document, which evaluates to ALLOW.
func (r *ReleaseRepo) RuleDescription(ctx context.Context, releaseID uint64) (json.RawMessage, error) {
	var rules sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT rule_description FROM releases WHERE id = ?`, releaseID).Scan(&rules)
	if err == sql.ErrNoRows {
		return nil, ErrReleaseNotFound
	}
	if err != nil {
		return nil, err
	}
	if !rules.Valid {
		return nil, nil
	}
	return json.RawMessage(rules.String), nil
}

// UpdateRules replaces the release's eligibility rule description.
func (r *ReleaseRepo) UpdateRules(ctx context.Context, releaseID uint64, rules json.RawMessage) error {
	var doc interface{}
	if len(rules) > 0 {
		doc = []byte(rules)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE releases SET rule_description = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
		doc, releaseID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrReleaseNotFound
	}
	return nil
}

// RequiresApprovalTx reports whether submissions on the release must go
// through the approval workflow.  Read inside the caller's transaction
// so the submit transition sees a consistent value.
func (r *ReleaseRepo) RequiresApprovalTx(ctx context.Context, tx *sql.Tx, releaseID uint64) (bool, error) {
	var required bool
	err := tx.QueryRowContext(ctx,
		`SELECT requires_approval FROM releases WHERE id = ?`, releaseID).Scan(&required)
	if err == sql.ErrNoRows {
		return false, ErrReleaseNotFound
	}
	return required, err
}
