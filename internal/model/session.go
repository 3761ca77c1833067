package model

import "time"

// ShowSession status values.
const (
	SessionLive     = "LIVE"
	SessionInterval = "INTERVAL"
	SessionEnded    = "ENDED"
)

// ShowSession is one live run of a show.
//
// Fields:
//  ID                – primary key identifier.
//  ShowID            – show being performed.
//  UserID            – user who started the session.
//  Status            – LIVE, INTERVAL or ENDED.
//  StartedAt/EndedAt – wall clock bounds of the run.
//  CurrentIntervalID – open interval, nil outside an act break.
//  LatestLineRef     – current live position, opaque to the server.
//  ClientInternalID  – connection that is the authoritative position source.
//  OriginClientID    – connection that started the session and holds its editor lock.
type ShowSession struct {
	ID                uint64     `json:"id"`                  // show_sessions.id
	ShowID            uint64     `json:"show_id"`             // show_sessions.show_id
	UserID            *uint64    `json:"user_id"`             // show_sessions.user_id (nullable)
	Status            string     `json:"status"`              // show_sessions.status
	StartedAt         time.Time  `json:"start_date_time"`     // show_sessions.start_datetime
	EndedAt           *time.Time `json:"end_date_time"`       // show_sessions.end_datetime (nullable)
	CurrentIntervalID *uint64    `json:"current_interval_id"` // show_sessions.current_interval_id (nullable)
	LatestLineRef     *string    `json:"latest_line_ref"`     // show_sessions.latest_line_ref (nullable)
	ClientInternalID  *string    `json:"client_internal_id"`  // show_sessions.client_internal_id (nullable)
	OriginClientID    *string    `json:"origin_client_id"`    // show_sessions.origin_client_id (nullable)
}

// Interval is an act break inside a session.
type Interval struct {
	ID            uint64     `json:"id"`             // intervals.id
	SessionID     uint64     `json:"session_id"`     // intervals.session_id
	ActID         *uint64    `json:"act_id"`         // intervals.act_id (nullable)
	StartedAt     time.Time  `json:"start_datetime"` // intervals.start_datetime
	EndedAt       *time.Time `json:"end_datetime"`   // intervals.end_datetime (nullable)
	InitialLength int64      `json:"initial_length"` // intervals.initial_length, seconds
}

// Open reports whether the interval has not been ended.
func (i Interval) Open() bool { return i.EndedAt == nil }

// Connection is the record of one connected realtime client.
type Connection struct {
	InternalID string     `json:"internal_id"` // sessions.internal_id
	ShowID     uint64     `json:"show_id"`     // sessions.show_id
	UserID     *uint64    `json:"user_id"`     // sessions.user_id (nullable)
	RemoteIP   string     `json:"remote_ip"`   // sessions.remote_ip
	LastPing   *time.Time `json:"last_ping"`   // sessions.last_ping (nullable)
	LastPong   *time.Time `json:"last_pong"`   // sessions.last_pong (nullable)
	IsEditor   bool       `json:"is_editor"`   // sessions.is_editor
	CreatedAt  time.Time  `json:"created_at"`  // sessions.created_at
}
