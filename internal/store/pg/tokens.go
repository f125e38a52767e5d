package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"arewa.org/internal/apperr"
	"arewa.org/internal/token"
)

var _ token.Repository = (*TokenRepository)(nil)

// TokenRepository stores bearer token hashes in api_tokens.
type TokenRepository struct {
	db *sql.DB
}

func (r *TokenRepository) Create(ctx context.Context, t *token.Token) error {
	_, err := r.db.ExecContext(ctx, `
		insert into api_tokens (id, user_id, token_hash, device_id, issued_at, expires_at, last_used_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.UserID, t.Hash, nullIfEmpty(t.DeviceID), t.IssuedAt, t.ExpiresAt, nullTime(t.LastUsedAt))
	if err != nil {
		return apperr.Infrastructure("pg.tokens.create", err)
	}
	return nil
}

func (r *TokenRepository) FindByID(ctx context.Context, id string) (*token.Token, error) {
	var (
		t        token.Token
		device   sql.NullString
		lastUsed sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, device_id, issued_at, expires_at, last_used_at
		from api_tokens
		where id = $1
	`, id).Scan(&t.ID, &t.UserID, &t.Hash, &device, &t.IssuedAt, &t.ExpiresAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("token")
	}
	if err != nil {
		return nil, apperr.Infrastructure("pg.tokens.find", err)
	}
	t.DeviceID = device.String
	t.LastUsedAt = timePtr(lastUsed)
	return &t, nil
}

func (r *TokenRepository) Touch(ctx context.Context, id string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `update api_tokens set last_used_at = $2 where id = $1`, id, at); err != nil {
		return apperr.Infrastructure("pg.tokens.touch", err)
	}
	return nil
}

func (r *TokenRepository) DeleteExpired(ctx context.Context, userID string, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `delete from api_tokens where user_id = $1 and expires_at < $2`, userID, before)
	if err != nil {
		return 0, apperr.Infrastructure("pg.tokens.delete_expired", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *TokenRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `delete from api_tokens where expires_at < $1`, before)
	if err != nil {
		return 0, apperr.Infrastructure("pg.tokens.purge", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
