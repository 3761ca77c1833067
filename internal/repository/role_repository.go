package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dreamteamprod/digiscript-live/internal/model"
)

// RoleRepo stores the per-show role bits of users.
type RoleRepo struct{ db *sql.DB }

func NewRoleRepo(db *sql.DB) *RoleRepo { return &RoleRepo{db: db} }

// Grant adds role bits for a user on a show, keeping bits already held.
func (r *RoleRepo) Grant(ctx context.Context, userID, showID uint64, mask uint8) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var current uint8
		err := tx.QueryRowContext(ctx,
			`SELECT role_mask FROM show_roles WHERE user_id = ? AND show_id = ?`, userID, showID,
		).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx,
				`INSERT INTO show_roles (user_id, show_id, role_mask) VALUES (?, ?, ?)`, userID, showID, mask)
			return err
		case err != nil:
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE show_roles SET role_mask = ? WHERE user_id = ? AND show_id = ?`, current|mask, userID, showID)
		return err
	})
}

// Mask returns the role bits a user holds on a show; zero when none.
func (r *RoleRepo) Mask(ctx context.Context, userID, showID uint64) (uint8, error) {
	var mask uint8
	err := r.db.QueryRowContext(ctx,
		`SELECT role_mask FROM show_roles WHERE user_id = ? AND show_id = ?`, userID, showID,
	).Scan(&mask)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return mask, err
}

// HasRole reports whether a user holds every bit of want on a show.
// Admins hold every role on every show.
func (r *RoleRepo) HasRole(ctx context.Context, userID, showID uint64, want uint8) (bool, error) {
	var admin bool
	err := r.db.QueryRowContext(ctx, `SELECT is_admin FROM users WHERE id = ? AND is_active = 1`, userID).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if admin {
		return true, nil
	}
	mask, err := r.Mask(ctx, userID, showID)
	if err != nil {
		return false, err
	}
	return mask&want == want, nil
}

// ListForShow returns every role grant on a show.
func (r *RoleRepo) ListForShow(ctx context.Context, showID uint64) ([]model.ShowRole, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, show_id, role_mask FROM show_roles WHERE show_id = ? ORDER BY user_id`, showID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ShowRole{}
	for rows.Next() {
		var sr model.ShowRole
		if err := rows.Scan(&sr.UserID, &sr.ShowID, &sr.RoleMask); err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}
