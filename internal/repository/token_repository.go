package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dreamteamprod/digiscript-live/internal/database"
)

// TokenRepo stores refresh tokens by their hash. A token is usable once:
// rotating it revokes it and stores its successor in the same transaction.
type TokenRepo struct{ db *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{db: db} }

func storeRefresh(ctx context.Context, q querier, userID uint64, tokenHash string, exp time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		userID, tokenHash, database.Millis(exp), now())
	return err
}

// revoke marks active tokens matching where as revoked and reports how
// many changed.
func revoke(ctx context.Context, q querier, where string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ? WHERE revoked_at IS NULL AND `+where,
		append([]any{now()}, args...)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StoreRefresh records a newly issued token.
func (r *TokenRepo) StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error {
	return storeRefresh(ctx, r.db, userID, tokenHash, exp)
}

// Rotate consumes the active, unexpired token oldHash and stores newHash
// for the same user. It returns the user, or ErrNotFound when oldHash is
// unknown, revoked or expired. Of two concurrent rotations of one token
// only the first succeeds.
func (r *TokenRepo) Rotate(ctx context.Context, oldHash, newHash string, exp time.Time) (uint64, error) {
	var userID uint64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		n, err := revoke(ctx, tx, `token_hash = ? AND expires_at > ?`, oldHash, now())
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		err = tx.QueryRowContext(ctx,
			`SELECT user_id FROM refresh_tokens WHERE token_hash = ?`, oldHash,
		).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return storeRefresh(ctx, tx, userID, newHash, exp)
	})
	return userID, err
}

// RevokeByHash revokes one token. Unknown or already revoked tokens are
// ignored.
func (r *TokenRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	_, err := revoke(ctx, r.db, `token_hash = ?`, tokenHash)
	return err
}

// RevokeAllForUser revokes every active token of a user.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64) error {
	_, err := revoke(ctx, r.db, `user_id = ?`, userID)
	return err
}
