package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/survey-participation/internal/model"
)

// GroupRepo provides data access to the groups and group_memberships
// tables.
type GroupRepo struct {
	db *sql.DB
}

// NewGroupRepo returns a GroupRepo bound to the provided database.
func NewGroupRepo(db *sql.DB) *GroupRepo { return &GroupRepo{db: db} }

// Create inserts a new group.  A duplicate name returns ErrConflict.
func (r *GroupRepo) Create(ctx context.Context, g *model.Group) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO groups (name) VALUES (?)`, g.Name)
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
	g.ID = uint64(id)
	return nil
}

// AddMember links a user to a group.  Adding an existing member is not
// an error.
func (r *GroupRepo) AddMember(ctx context.Context, groupID, userID uint64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO group_memberships (group_id, user_id) VALUES (?, ?)`,
		groupID, userID)
	if isDuplicateEntry(err) {
		return nil
	}
	return err
}

// RemoveMember unlinks a user from a group.
func (r *GroupRepo) RemoveMember(ctx context.Context, groupID, userID uint64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM group_memberships WHERE group_id = ? AND user_id = ?`,
		groupID, userID)
	return err
}

// NamesByUser returns the names of every group the user belongs to.
// Eligibility contexts and quota bucket matching consume this.
func (r *GroupRepo) NamesByUser(ctx context.Context, userID uint64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT g.name FROM groups g
		 JOIN group_memberships m ON m.group_id = g.id
		 WHERE m.user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// List returns all groups ordered by name.
func (r *GroupRepo) List(ctx context.Context) ([]model.Group, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Group
	for rows.Next() {
		var g model.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
