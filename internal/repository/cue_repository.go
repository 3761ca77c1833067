package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dreamteamprod/digiscript-live/internal/model"
)

// CueTypeDeleteHook runs inside the transaction that deletes a cue type,
// after its cues are gone and before the type row is removed.
type CueTypeDeleteHook func(ctx context.Context, tx *sql.Tx, cueTypeID uint64) error

// CueRepo is the cue store: cue types, cues and their placement on the
// lines of revisions. A cue lives only while at least one association
// references it.
type CueRepo struct {
	db    *sql.DB
	hooks []CueTypeDeleteHook
}

func NewCueRepo(db *sql.DB) *CueRepo { return &CueRepo{db: db} }

// OnCueTypeDelete registers cleanup that must share the cue type delete
// transaction, such as removing user overrides of the type.
func (r *CueRepo) OnCueTypeDelete(h CueTypeDeleteHook) { r.hooks = append(r.hooks, h) }

// cueSweep collects the cues touched by a cascade so that reference counting
// runs once per cue after every association in the cascade is gone.
type cueSweep struct {
	touched map[uint64]struct{}
	order   []uint64
}

func newCueSweep() *cueSweep { return &cueSweep{touched: map[uint64]struct{}{}} }

func (s *cueSweep) touch(cueID uint64) {
	if _, ok := s.touched[cueID]; ok {
		return
	}
	s.touched[cueID] = struct{}{}
	s.order = append(s.order, cueID)
}

func (s *cueSweep) touchQuery(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		s.touch(id)
	}
	return rows.Err()
}

func (s *cueSweep) touchRevision(ctx context.Context, tx *sql.Tx, revisionID uint64) error {
	return s.touchQuery(ctx, tx, `SELECT DISTINCT cue_id FROM cue_associations WHERE revision_id = ?`, revisionID)
}

func (s *cueSweep) touchLine(ctx context.Context, tx *sql.Tx, lineID uint64) error {
	return s.touchQuery(ctx, tx, `SELECT DISTINCT cue_id FROM cue_associations WHERE line_id = ?`, lineID)
}

// run deletes every touched cue that no association references any more.
func (s *cueSweep) run(ctx context.Context, tx *sql.Tx) ([]uint64, error) {
	deleted := []uint64{}
	for _, id := range s.order {
		n, err := countAssociations(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cues WHERE id = ?`, id); err != nil {
			return nil, err
		}
		deleted = append(deleted, id)
	}
	return deleted, nil
}

func countAssociations(ctx context.Context, q querier, cueID uint64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM cue_associations WHERE cue_id = ?`, cueID).Scan(&n)
	return n, err
}

// CountAssociations returns how many lines reference a cue.
func (r *CueRepo) CountAssociations(ctx context.Context, cueID uint64) (int, error) {
	return countAssociations(ctx, r.db, cueID)
}

// CreateCueType adds a cue type to a show.
func (r *CueRepo) CreateCueType(ctx context.Context, ct model.CueType) (*model.CueType, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM shows WHERE id = ?`, ct.ShowID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: show %d does not exist", ErrIntegrity, ct.ShowID)
	}
	if err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO cue_types (show_id, prefix, description, colour) VALUES (?, ?, ?, ?)`,
		ct.ShowID, ct.Prefix, ct.Description, ct.Colour)
	if err != nil {
		return nil, err
	}
	if ct.ID, err = lastID(res); err != nil {
		return nil, err
	}
	return &ct, nil
}

// ListCueTypes returns the cue types of a show.
func (r *CueRepo) ListCueTypes(ctx context.Context, showID uint64) ([]model.CueType, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, show_id, prefix, description, colour FROM cue_types WHERE show_id = ? ORDER BY id`, showID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.CueType{}
	for rows.Next() {
		var ct model.CueType
		if err := rows.Scan(&ct.ID, &ct.ShowID, &ct.Prefix, &ct.Description, &ct.Colour); err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

// CueType returns one cue type or ErrNotFound.
func (r *CueRepo) CueType(ctx context.Context, id uint64) (*model.CueType, error) {
	var ct model.CueType
	err := r.db.QueryRowContext(ctx,
		`SELECT id, show_id, prefix, description, colour FROM cue_types WHERE id = ?`, id,
	).Scan(&ct.ID, &ct.ShowID, &ct.Prefix, &ct.Description, &ct.Colour)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ct, nil
}

// DeleteCueType removes a cue type, every cue of that type with all their
// associations, and whatever the registered hooks clean up, in one
// transaction.
func (r *CueRepo) DeleteCueType(ctx context.Context, cueTypeID uint64) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM cue_types WHERE id = ?`, cueTypeID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cue_associations WHERE cue_id IN (SELECT id FROM cues WHERE cue_type_id = ?)`, cueTypeID,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cues WHERE cue_type_id = ?`, cueTypeID); err != nil {
			return err
		}
		for _, h := range r.hooks {
			if err := h(ctx, tx, cueTypeID); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM cue_types WHERE id = ?`, cueTypeID)
		return err
	})
}

// lineInRevision loads the line type of lineID and checks it belongs to
// revisionID.
func lineInRevision(ctx context.Context, q querier, revisionID, lineID uint64) (model.LineType, error) {
	var lt int
	err := q.QueryRowContext(ctx,
		`SELECT line_type FROM script_lines WHERE id = ? AND revision_id = ?`, lineID, revisionID,
	).Scan(&lt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: line %d is not part of revision %d", ErrIntegrity, lineID, revisionID)
	}
	return model.LineType(lt), err
}

// CreateCue creates a cue and places it on a line of a revision in one
// transaction. Spacing lines cannot carry cues.
func (r *CueRepo) CreateCue(ctx context.Context, cueTypeID uint64, ident string, revisionID, lineID uint64) (*model.Cue, error) {
	var cue *model.Cue
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		lt, err := lineInRevision(ctx, tx, revisionID, lineID)
		if err != nil {
			return err
		}
		if lt == model.LineSpacing {
			return fmt.Errorf("%w: cannot add cue to a spacing line", ErrIntegrity)
		}
		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM cue_types WHERE id = ?`, cueTypeID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: cue type %d does not exist", ErrIntegrity, cueTypeID)
		}
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO cues (cue_type_id, ident) VALUES (?, ?)`, cueTypeID, ident)
		if err != nil {
			return err
		}
		id, err := lastID(res)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cue_associations (revision_id, line_id, cue_id) VALUES (?, ?, ?)`, revisionID, lineID, id,
		); err != nil {
			return err
		}
		cue = &model.Cue{ID: id, CueTypeID: cueTypeID, Ident: ident}
		return nil
	})
	return cue, err
}

// UpdateCue changes the type and ident of a cue.
func (r *CueRepo) UpdateCue(ctx context.Context, cue model.Cue) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE cues SET cue_type_id = ?, ident = ? WHERE id = ?`, cue.CueTypeID, cue.Ident, cue.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// MySQL reports zero rows for an unchanged row; confirm it exists.
		if _, err := r.CueByID(ctx, cue.ID); err != nil {
			return err
		}
	}
	return nil
}

// CueByID returns one cue or ErrNotFound.
func (r *CueRepo) CueByID(ctx context.Context, cueID uint64) (*model.Cue, error) {
	var c model.Cue
	err := r.db.QueryRowContext(ctx, `SELECT id, cue_type_id, ident FROM cues WHERE id = ?`, cueID).
		Scan(&c.ID, &c.CueTypeID, &c.Ident)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Associate places an existing cue on a line of a revision. Placing a cue
// where it already is succeeds without change.
func (r *CueRepo) Associate(ctx context.Context, revisionID, lineID, cueID uint64) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		lt, err := lineInRevision(ctx, tx, revisionID, lineID)
		if err != nil {
			return err
		}
		if lt == model.LineSpacing {
			return fmt.Errorf("%w: cannot add cue to a spacing line", ErrIntegrity)
		}
		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM cues WHERE id = ?`, cueID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: cue %d does not exist", ErrIntegrity, cueID)
		}
		if err != nil {
			return err
		}
		err = tx.QueryRowContext(ctx,
			`SELECT 1 FROM cue_associations WHERE revision_id = ? AND line_id = ? AND cue_id = ?`,
			revisionID, lineID, cueID,
		).Scan(&exists)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO cue_associations (revision_id, line_id, cue_id) VALUES (?, ?, ?)`, revisionID, lineID, cueID)
		return err
	})
}

// Disassociate removes one placement of a cue. It reports whether the cue
// itself was deleted because no placement remained.
func (r *CueRepo) Disassociate(ctx context.Context, revisionID, lineID, cueID uint64) (bool, error) {
	removed := false
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM cue_associations WHERE revision_id = ? AND line_id = ? AND cue_id = ?`,
			revisionID, lineID, cueID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		sweep := newCueSweep()
		sweep.touch(cueID)
		deleted, err := sweep.run(ctx, tx)
		removed = len(deleted) > 0
		return err
	})
	return removed, err
}

// DeleteLine removes a line of a revision with its parts and cue
// placements, drops cues left without placements and rewrites the stored
// content of the revision without the line.
func (r *CueRepo) DeleteLine(ctx context.Context, revisionID, lineID uint64) ([]uint64, error) {
	var deleted []uint64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := lineInRevision(ctx, tx, revisionID, lineID); err != nil {
			return err
		}
		sweep := newCueSweep()
		if err := sweep.touchLine(ctx, tx, lineID); err != nil {
			return err
		}
		for _, stmt := range []string{
			`DELETE FROM cue_associations WHERE line_id = ?`,
			`DELETE FROM script_line_parts WHERE line_id = ?`,
			`DELETE FROM script_lines WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, lineID); err != nil {
				return err
			}
		}
		var err error
		if deleted, err = sweep.run(ctx, tx); err != nil {
			return err
		}
		return rewriteContentTx(ctx, tx, revisionID)
	})
	return deleted, err
}

// CuesForRevision returns every cue placed in a revision with its line.
func (r *CueRepo) CuesForRevision(ctx context.Context, revisionID uint64) ([]model.PlacedCue, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.cue_type_id, c.ident, a.line_id
		 FROM cue_associations a JOIN cues c ON c.id = a.cue_id
		 WHERE a.revision_id = ? ORDER BY a.line_id, c.id`, revisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.PlacedCue{}
	for rows.Next() {
		var pc model.PlacedCue
		if err := rows.Scan(&pc.ID, &pc.CueTypeID, &pc.Ident, &pc.LineID); err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}
