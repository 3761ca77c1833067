// Package queue defines the audit events exchanged over the message broker
// and the background consumer that records them.
package queue

import "time"

// QueueName is the durable queue audit events travel on.
const QueueName = "show.events"

// Event kinds.
const (
	KindRevisionCreated = "revision.created"
	KindRevisionDeleted = "revision.deleted"
	KindOrphansRepaired = "revision.orphans_repaired"
	KindCueTypeDeleted  = "cue_type.deleted"
	KindSessionStarted  = "session.started"
	KindSessionStopped  = "session.stopped"
	KindIntervalEnded   = "interval.ended"
	KindEditorReaped    = "editor.reaped"
)

// ShowEvent is published after a state change of a show commits. It
// carries enough context for downstream consumers to log or analyse the
// change without querying the primary database.
type ShowEvent struct {
	Kind       string    `json:"kind"`
	ShowID     uint64    `json:"show_id"`
	UserID     *uint64   `json:"user_id,omitempty"`
	SessionID  *uint64   `json:"session_id,omitempty"`
	RevisionID *uint64   `json:"revision_id,omitempty"`
	ClientID   string    `json:"client_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
