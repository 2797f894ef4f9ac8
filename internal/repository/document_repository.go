package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/survey-participation/internal/model"
)

// DocumentRepo provides data access to the documents table.
type DocumentRepo struct {
	db *sql.DB
}

// NewDocumentRepo returns a DocumentRepo bound to the provided database.
func NewDocumentRepo(db *sql.DB) *DocumentRepo { return &DocumentRepo{db: db} }

// Create records a newly uploaded document in UPLOADED status.
func (r *DocumentRepo) Create(ctx context.Context, d *model.Document) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (user_id, type, option_id, status) VALUES (?, ?, ?, ?)`,
		d.UserID, d.Type, d.OptionID, model.DocumentStatusUploaded)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	d.ID = uint64(id)
	d.Status = model.DocumentStatusUploaded
	return nil
}

// SetStatus moves a document to VERIFIED or REJECTED, stamping
// verified_at when verifying.
func (r *DocumentRepo) SetStatus(ctx context.Context, documentID uint64, status string) error {
	if status == model.DocumentStatusVerified {
		_, err := r.db.ExecContext(ctx,
			`UPDATE documents SET status = ?, verified_at = UTC_TIMESTAMP() WHERE id = ?`,
			status, documentID)
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE documents SET status = ? WHERE id = ?`, status, documentID)
	return err
}

// ListByUser returns all of the user's documents, newest first.
func (r *DocumentRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, type, option_id, status, uploaded_at, verified_at
		 FROM documents WHERE user_id = ? ORDER BY uploaded_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.UserID, &d.Type, &d.OptionID, &d.Status, &d.UploadedAt, &d.VerifiedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
