package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/repository"
	"github.com/jwalitptl/authz-api/pkg/errors"
)

const userColumns = `id, email, role, organization_id, display_name, last_login_at, created_at, updated_at`

type userDirectory struct {
	BaseRepository
	now func() time.Time
}

func NewUserDirectory(base BaseRepository) repository.UserDirectory {
	return &userDirectory{BaseRepository: base, now: time.Now}
}

func (r *userDirectory) Ensure(ctx context.Context, id, email string) (*model.DirectoryUser, error) {
	query := `
		INSERT INTO users (id, email, role, last_login_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4, $4)
		ON CONFLICT (id) DO UPDATE SET
			email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
			last_login_at = EXCLUDED.last_login_at
		RETURNING ` + userColumns

	var user model.DirectoryUser
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &user, query, id, email, model.RoleUser, r.now())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	return &user, nil
}

func (r *userDirectory) Get(ctx context.Context, id string) (*model.DirectoryUser, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	var user model.DirectoryUser
	err := r.db.GetContext(ctx, &user, query, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", id, errors.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

func (r *userDirectory) SetRole(ctx context.Context, id string, role model.Role) error {
	query := `UPDATE users SET role = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, role, r.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %s: %w", id, errors.ErrRecordNotFound)
	}

	return nil
}
