// Package repository contains data access logic for shows. A Show is the
// production that owns a script, its cue types and its live sessions.
package repository

import (
	"context"      // context for controlling query lifetime
	"database/sql" // sql provides DB abstraction
	"errors"       // errors for sentinel comparison

	"github.com/dreamteamprod/digiscript-live/internal/database"
	"github.com/dreamteamprod/digiscript-live/internal/model"
)

// ShowRepo manages persistence for shows.
type ShowRepo struct {
	db *sql.DB
}

// NewShowRepo constructs a ShowRepo with the given DB handle.
func NewShowRepo(db *sql.DB) *ShowRepo {
	return &ShowRepo{db: db}
}

const showColumns = `id, name, current_session_id, created_at`

func scanShow(row interface{ Scan(...any) error }) (*model.Show, error) {
	var (
		s       model.Show
		current sql.NullInt64
		created int64
	)
	if err := row.Scan(&s.ID, &s.Name, &current, &created); err != nil {
		return nil, err
	}
	s.CurrentSessionID = nullID(current)
	s.CreatedAt = database.FromMillis(created)
	return &s, nil
}

// Create inserts a new show and returns it with its generated ID.
func (r *ShowRepo) Create(ctx context.Context, name string) (*model.Show, error) {
	ts := now()
	res, err := r.db.ExecContext(ctx, `INSERT INTO shows (name, created_at) VALUES (?, ?)`, name, ts) // execute insertion
	if err != nil {
		return nil, err
	}
	id, err := lastID(res) // obtain the auto-incremented ID
	if err != nil {
		return nil, err
	}
	return &model.Show{ID: id, Name: name, CreatedAt: database.FromMillis(ts)}, nil
}

// GetByID retrieves a show by its ID. It returns ErrNotFound if there is no
// matching row.
func (r *ShowRepo) GetByID(ctx context.Context, id uint64) (*model.Show, error) {
	return showByID(ctx, r.db, id)
}

// GetByIDTx is GetByID inside the caller's transaction.
func (r *ShowRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Show, error) {
	return showByID(ctx, tx, id)
}

func showByID(ctx context.Context, q querier, id uint64) (*model.Show, error) {
	s, err := scanShow(q.QueryRowContext(ctx, `SELECT `+showColumns+` FROM shows WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// List returns all shows ordered by ID. When no shows exist it returns an
// empty slice and nil error.
func (r *ShowRepo) List(ctx context.Context) ([]model.Show, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+showColumns+` FROM shows ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []model.Show{}
	for rows.Next() {
		s, err := scanShow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

// SetCurrentSessionTx points the show at a running session, or clears the
// pointer when sessionID is nil.
func (r *ShowRepo) SetCurrentSessionTx(ctx context.Context, tx *sql.Tx, showID uint64, sessionID *uint64) error {
	res, err := tx.ExecContext(ctx, `UPDATE shows SET current_session_id = ? WHERE id = ?`, idArg(sessionID), showID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
