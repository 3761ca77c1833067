package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dreamteamprod/digiscript-live/internal/database"
	"github.com/dreamteamprod/digiscript-live/internal/model"
)

// ConnectionRepo stores one row per connected realtime client in the
// sessions table. The row flagged is_editor holds the editor lock of its
// show.
type ConnectionRepo struct{ db *sql.DB }

func NewConnectionRepo(db *sql.DB) *ConnectionRepo { return &ConnectionRepo{db: db} }

const connectionColumns = `internal_id, show_id, user_id, remote_ip, last_ping, last_pong, is_editor, created_at`

func scanConnection(row interface{ Scan(...any) error }) (*model.Connection, error) {
	var (
		c          model.Connection
		user       sql.NullInt64
		ping, pong sql.NullInt64
		created    int64
	)
	if err := row.Scan(&c.InternalID, &c.ShowID, &user, &c.RemoteIP, &ping, &pong, &c.IsEditor, &created); err != nil {
		return nil, err
	}
	c.UserID = nullID(user)
	c.LastPing, c.LastPong = nullTime(ping), nullTime(pong)
	c.CreatedAt = database.FromMillis(created)
	return &c, nil
}

// Create records a new connection. Its pong time starts at creation so a
// client that never answers is reaped after the tolerance.
func (r *ConnectionRepo) Create(ctx context.Context, c model.Connection) error {
	ts := now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (internal_id, show_id, user_id, remote_ip, last_pong, is_editor, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		c.InternalID, c.ShowID, idArg(c.UserID), c.RemoteIP, ts, ts)
	return err
}

// Get returns one connection or ErrNotFound.
func (r *ConnectionRepo) Get(ctx context.Context, internalID string) (*model.Connection, error) {
	return connectionByID(ctx, r.db, internalID)
}

func connectionByID(ctx context.Context, q querier, internalID string) (*model.Connection, error) {
	c, err := scanConnection(q.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM sessions WHERE internal_id = ?`, internalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// TouchPing records that a ping was sent to the client.
func (r *ConnectionRepo) TouchPing(ctx context.Context, internalID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET last_ping = ? WHERE internal_id = ?`, database.Millis(at), internalID)
	return err
}

// TouchPong records that the client answered.
func (r *ConnectionRepo) TouchPong(ctx context.Context, internalID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET last_pong = ? WHERE internal_id = ?`, database.Millis(at), internalID)
	return err
}

// DeleteTx removes a connection row. Removing the editor's row releases
// the editor lock with it.
func (r *ConnectionRepo) DeleteTx(ctx context.Context, tx *sql.Tx, internalID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE internal_id = ?`, internalID)
	return err
}

// GetTx is Get inside the caller's transaction.
func (r *ConnectionRepo) GetTx(ctx context.Context, tx *sql.Tx, internalID string) (*model.Connection, error) {
	return connectionByID(ctx, tx, internalID)
}

// EditorTx returns the connection holding the editor lock of a show, or
// ErrNotFound.
func (r *ConnectionRepo) EditorTx(ctx context.Context, tx *sql.Tx, showID uint64) (*model.Connection, error) {
	return editorOf(ctx, tx, showID)
}

// Editor is EditorTx outside a transaction.
func (r *ConnectionRepo) Editor(ctx context.Context, showID uint64) (*model.Connection, error) {
	return editorOf(ctx, r.db, showID)
}

func editorOf(ctx context.Context, q querier, showID uint64) (*model.Connection, error) {
	c, err := scanConnection(q.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM sessions WHERE show_id = ? AND is_editor = 1 LIMIT 1`, showID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// SetEditorTx flags or clears the editor bit of a connection.
func (r *ConnectionRepo) SetEditorTx(ctx context.Context, tx *sql.Tx, internalID string, editor bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET is_editor = ? WHERE internal_id = ?`, editor, internalID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 && editor {
		return ErrNotFound
	}
	return nil
}

// Stale returns connections whose last pong is older than cutoff.
func (r *ConnectionRepo) Stale(ctx context.Context, cutoff time.Time) ([]model.Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM sessions WHERE COALESCE(last_pong, created_at) < ? ORDER BY created_at`,
		database.Millis(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ListForShow returns the connections of a show.
func (r *ConnectionRepo) ListForShow(ctx context.Context, showID uint64) ([]model.Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM sessions WHERE show_id = ? ORDER BY created_at`, showID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Connection{}
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// DeleteAll removes every connection row. The server calls it at startup
// because no client survives a restart.
func (r *ConnectionRepo) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
