package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/survey-participation/internal/model"
)

// UserRepo provides data access to the users table.
type UserRepo struct {
	db *sql.DB
}

// NewUserRepo returns a UserRepo bound to the provided database.
func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user and sets the generated ID.  A duplicate
// email returns ErrEmailExists.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	var meta interface{}
	if len(u.Metadata) > 0 {
		meta = u.Metadata
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, role, metadata, is_active)
		 VALUES (?, ?, ?, ?, ?)`,
		u.Email, u.PasswordHash, u.Role, meta, u.IsActive)
	if err != nil {
		if isDuplicateEntry(err) {
			return ErrEmailExists
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	return nil
}

const userColumns = `id, email, password_hash, role, metadata, is_active, created_at, updated_at`

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	var meta sql.NullString
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &meta, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if meta.Valid {
		u.Metadata = []byte(meta.String)
	}
	return &u, nil
}

// GetByEmail fetches a user by email.  Returns (nil, nil) when no user
// exists so callers can distinguish absence from failure.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// GetByID fetches a user by primary key.  Returns (nil, nil) when no
// user exists.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}
