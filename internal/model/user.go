package model

import "time"

// User represents an application user record as stored in the
// `users` table. IsAdmin users bypass per-show role checks.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	IsAdmin      bool      // users.is_admin
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
}

// UserOverride stores per-user display settings for a row of another
// table, e.g. the colour of a cue type.
//
// Fields:
//  SettingsType – table the override applies to (e.g. "cue_types").
//  RefID        – primary key of the overridden row.
//  Settings     – JSON document of overridden fields.
type UserOverride struct {
	ID           uint64 `json:"id"`            // user_overrides.id
	UserID       uint64 `json:"user_id"`       // user_overrides.user_id
	SettingsType string `json:"settings_type"` // user_overrides.settings_type
	RefID        uint64 `json:"ref_id"`        // user_overrides.ref_id
	Settings     string `json:"settings"`      // user_overrides.settings
}
