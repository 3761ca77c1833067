package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dreamteamprod/digiscript-live/internal/database"
	"github.com/dreamteamprod/digiscript-live/internal/model"
)

// ShowSessionRepo stores live sessions and their intervals. Methods with a
// Tx suffix take part in the caller's transaction; the live controller
// composes them under the show's named lock.
type ShowSessionRepo struct{ db *sql.DB }

func NewShowSessionRepo(db *sql.DB) *ShowSessionRepo { return &ShowSessionRepo{db: db} }

const sessionColumns = `id, show_id, user_id, status, start_datetime, end_datetime, current_interval_id, latest_line_ref, client_internal_id, origin_client_id`

func scanSession(row interface{ Scan(...any) error }) (*model.ShowSession, error) {
	var (
		s               model.ShowSession
		user, interval  sql.NullInt64
		started         int64
		ended           sql.NullInt64
		lineRef, client sql.NullString
		origin          sql.NullString
	)
	if err := row.Scan(&s.ID, &s.ShowID, &user, &s.Status, &started, &ended, &interval, &lineRef, &client, &origin); err != nil {
		return nil, err
	}
	s.UserID, s.CurrentIntervalID = nullID(user), nullID(interval)
	s.StartedAt = database.FromMillis(started)
	s.EndedAt = nullTime(ended)
	s.LatestLineRef, s.ClientInternalID = nullString(lineRef), nullString(client)
	s.OriginClientID = nullString(origin)
	return &s, nil
}

// CreateTx inserts a LIVE session. clientID, when set, becomes both the
// origin and the initial position source.
func (r *ShowSessionRepo) CreateTx(ctx context.Context, tx *sql.Tx, showID uint64, userID *uint64, clientID *string) (*model.ShowSession, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO show_sessions (show_id, user_id, status, start_datetime, client_internal_id, origin_client_id) VALUES (?, ?, ?, ?, ?, ?)`,
		showID, idArg(userID), model.SessionLive, now(), strArg(clientID), strArg(clientID))
	if err != nil {
		return nil, err
	}
	id, err := lastID(res)
	if err != nil {
		return nil, err
	}
	return sessionByID(ctx, tx, id)
}

// Get returns one session or ErrNotFound.
func (r *ShowSessionRepo) Get(ctx context.Context, id uint64) (*model.ShowSession, error) {
	return sessionByID(ctx, r.db, id)
}

// GetTx is Get inside the caller's transaction.
func (r *ShowSessionRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.ShowSession, error) {
	return sessionByID(ctx, tx, id)
}

func sessionByID(ctx context.Context, q querier, id uint64) (*model.ShowSession, error) {
	s, err := scanSession(q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM show_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// ListForShow returns the sessions of a show, newest first.
func (r *ShowSessionRepo) ListForShow(ctx context.Context, showID uint64) ([]model.ShowSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM show_sessions WHERE show_id = ? ORDER BY id DESC`, showID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ShowSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// SetStatusTx updates the status and interval pointer of a session.
func (r *ShowSessionRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status string, intervalID *uint64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE show_sessions SET status = ?, current_interval_id = ? WHERE id = ?`, status, idArg(intervalID), id)
	return err
}

// EndTx marks a session ENDED and stamps its end time.
func (r *ShowSessionRepo) EndTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE show_sessions SET status = ?, end_datetime = ?, current_interval_id = NULL WHERE id = ?`,
		model.SessionEnded, now(), id)
	return err
}

// SetPositionTx records the latest line reference of a session.
func (r *ShowSessionRepo) SetPositionTx(ctx context.Context, tx *sql.Tx, id uint64, lineRef string) error {
	_, err := tx.ExecContext(ctx, `UPDATE show_sessions SET latest_line_ref = ? WHERE id = ?`, lineRef, id)
	return err
}

// SetClientTx changes the authoritative client of a session.
func (r *ShowSessionRepo) SetClientTx(ctx context.Context, tx *sql.Tx, id uint64, clientID *string) error {
	_, err := tx.ExecContext(ctx, `UPDATE show_sessions SET client_internal_id = ? WHERE id = ?`, strArg(clientID), id)
	return err
}

const intervalColumns = `id, session_id, act_id, start_datetime, end_datetime, initial_length`

func scanInterval(row interface{ Scan(...any) error }) (*model.Interval, error) {
	var (
		iv      model.Interval
		act     sql.NullInt64
		started int64
		ended   sql.NullInt64
	)
	if err := row.Scan(&iv.ID, &iv.SessionID, &act, &started, &ended, &iv.InitialLength); err != nil {
		return nil, err
	}
	iv.ActID = nullID(act)
	iv.StartedAt = database.FromMillis(started)
	iv.EndedAt = nullTime(ended)
	return &iv, nil
}

// CreateIntervalTx opens an interval for a session.
func (r *ShowSessionRepo) CreateIntervalTx(ctx context.Context, tx *sql.Tx, sessionID uint64, actID *uint64, initialLength int64) (*model.Interval, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO intervals (session_id, act_id, start_datetime, initial_length) VALUES (?, ?, ?, ?)`,
		sessionID, idArg(actID), now(), initialLength)
	if err != nil {
		return nil, err
	}
	id, err := lastID(res)
	if err != nil {
		return nil, err
	}
	return intervalByID(ctx, tx, id)
}

// Interval returns one interval or ErrNotFound.
func (r *ShowSessionRepo) Interval(ctx context.Context, id uint64) (*model.Interval, error) {
	return intervalByID(ctx, r.db, id)
}

// IntervalTx returns one interval or ErrNotFound.
func (r *ShowSessionRepo) IntervalTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Interval, error) {
	return intervalByID(ctx, tx, id)
}

func intervalByID(ctx context.Context, q querier, id uint64) (*model.Interval, error) {
	iv, err := scanInterval(q.QueryRowContext(ctx, `SELECT `+intervalColumns+` FROM intervals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return iv, err
}

// OpenIntervalTx returns the open interval of a session, or ErrNotFound.
func (r *ShowSessionRepo) OpenIntervalTx(ctx context.Context, tx *sql.Tx, sessionID uint64) (*model.Interval, error) {
	iv, err := scanInterval(tx.QueryRowContext(ctx,
		`SELECT `+intervalColumns+` FROM intervals WHERE session_id = ? AND end_datetime IS NULL LIMIT 1`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return iv, err
}

// EndIntervalTx closes an interval now and returns the closed row.
func (r *ShowSessionRepo) EndIntervalTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Interval, error) {
	if _, err := tx.ExecContext(ctx,
		`UPDATE intervals SET end_datetime = ? WHERE id = ? AND end_datetime IS NULL`, now(), id,
	); err != nil {
		return nil, err
	}
	return intervalByID(ctx, tx, id)
}

// Intervals returns the intervals of a session in start order.
func (r *ShowSessionRepo) Intervals(ctx context.Context, sessionID uint64) ([]model.Interval, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+intervalColumns+` FROM intervals WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Interval{}
	for rows.Next() {
		iv, err := scanInterval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *iv)
	}
	return out, rows.Err()
}
