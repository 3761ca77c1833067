package model

import "time"

// Show is the production being managed. A show owns one script, its cue
// types and the history of its live sessions.
//
// Fields:
//  ID               – primary key identifier.
//  Name             – display name of the production.
//  CurrentSessionID – running ShowSession, nil when no session is live.
//  CreatedAt        – creation timestamp.
type Show struct {
	ID               uint64    `json:"id"`                 // shows.id
	Name             string    `json:"name"`               // shows.name
	CurrentSessionID *uint64   `json:"current_session_id"` // shows.current_session_id (nullable)
	CreatedAt        time.Time `json:"created_at"`         // shows.created_at
}

// Role bits held by a user on a show.
const (
	RoleRead    uint8 = 1 << iota // view script and follow along
	RoleWrite                     // edit script, revisions and cues
	RoleExecute                   // drive live sessions
)

// ShowRole grants a set of role bits to a user for one show.
type ShowRole struct {
	UserID   uint64 `json:"user_id"`   // show_roles.user_id
	ShowID   uint64 `json:"show_id"`   // show_roles.show_id
	RoleMask uint8  `json:"role_mask"` // show_roles.role_mask
}
