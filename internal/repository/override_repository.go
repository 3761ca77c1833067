package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dreamteamprod/digiscript-live/internal/model"
)

// OverrideRepo stores per-user display overrides of other rows.
type OverrideRepo struct{ db *sql.DB }

func NewOverrideRepo(db *sql.DB) *OverrideRepo { return &OverrideRepo{db: db} }

// Upsert stores the settings document of a user for one referenced row,
// replacing any previous document.
func (r *OverrideRepo) Upsert(ctx context.Context, o model.UserOverride) (*model.UserOverride, error) {
	if !json.Valid([]byte(o.Settings)) {
		return nil, fmt.Errorf("%w: settings must be a JSON document", ErrIntegrity)
	}
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE user_overrides SET settings = ? WHERE user_id = ? AND settings_type = ? AND ref_id = ?`,
			o.Settings, o.UserID, o.SettingsType, o.RefID,
		); err != nil {
			return err
		}
		var id uint64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM user_overrides WHERE user_id = ? AND settings_type = ? AND ref_id = ?`,
			o.UserID, o.SettingsType, o.RefID).Scan(&id)
		if err == nil {
			o.ID = id
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		ins, err := tx.ExecContext(ctx,
			`INSERT INTO user_overrides (user_id, settings_type, ref_id, settings) VALUES (?, ?, ?, ?)`,
			o.UserID, o.SettingsType, o.RefID, o.Settings)
		if err != nil {
			return err
		}
		o.ID, err = lastID(ins)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListForUser returns the overrides of a user, optionally filtered by type.
func (r *OverrideRepo) ListForUser(ctx context.Context, userID uint64, settingsType string) ([]model.UserOverride, error) {
	q := `SELECT id, user_id, settings_type, ref_id, settings FROM user_overrides WHERE user_id = ?`
	args := []any{userID}
	if settingsType != "" {
		q += ` AND settings_type = ?`
		args = append(args, settingsType)
	}
	rows, err := r.db.QueryContext(ctx, q+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.UserOverride{}
	for rows.Next() {
		var o model.UserOverride
		if err := rows.Scan(&o.ID, &o.UserID, &o.SettingsType, &o.RefID, &o.Settings); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// DeleteForRefTx removes every user's override of one referenced row.
func (r *OverrideRepo) DeleteForRefTx(ctx context.Context, tx *sql.Tx, settingsType string, refID uint64) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM user_overrides WHERE settings_type = ? AND ref_id = ?`, settingsType, refID)
	return err
}

// CueTypeCleanup is a CueTypeDeleteHook that drops overrides of the
// deleted cue type.
func (r *OverrideRepo) CueTypeCleanup(ctx context.Context, tx *sql.Tx, cueTypeID uint64) error {
	return r.DeleteForRefTx(ctx, tx, "cue_types", cueTypeID)
}
