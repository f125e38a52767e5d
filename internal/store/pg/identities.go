package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"arewa.org/internal/access"
	"arewa.org/internal/apperr"
	"arewa.org/internal/auth"
)

var _ auth.IdentityStore = (*IdentityRepository)(nil)

// IdentityRepository reads users for authentication.
type IdentityRepository struct {
	db *sql.DB
}

const userColumns = `id, coalesce(name, ''), email, user_type, is_active`

func (r *IdentityRepository) FindByEmail(ctx context.Context, email string) (*auth.Credentials, error) {
	var c auth.Credentials
	row := r.db.QueryRowContext(ctx, `
		select `+userColumns+`, password_hash
		from users
		where lower(email) = $1
	`, strings.ToLower(strings.TrimSpace(email)))
	err := row.Scan(&c.User.ID, &c.User.Name, &c.User.Email, &c.User.Type, &c.User.Active, &c.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, apperr.Infrastructure("pg.users.find_by_email", err)
	}
	return &c, nil
}

func (r *IdentityRepository) FindByID(ctx context.Context, id string) (*access.User, error) {
	var u access.User
	row := r.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Type, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, apperr.Infrastructure("pg.users.find", err)
	}
	return &u, nil
}
