package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/dreamteamprod/digiscript-live/internal/database"
	"github.com/dreamteamprod/digiscript-live/internal/model"
)

// ScriptRepo is the revision store. It owns scripts, the revision chain of
// each script and the lines of every revision. Every mutating method runs
// in a single transaction: either all of its rows change or none do.
type ScriptRepo struct {
	db  *sql.DB
	log *slog.Logger
}

// NewScriptRepo constructs a ScriptRepo.
func NewScriptRepo(db *sql.DB, log *slog.Logger) *ScriptRepo {
	if log == nil {
		log = slog.Default()
	}
	return &ScriptRepo{db: db, log: log}
}

// RepairReport summarises one orphan repair pass over a script.
type RepairReport struct {
	ScriptID   uint64   `json:"script_id"`
	RootID     *uint64  `json:"root_id"`
	Repaired   []uint64 `json:"repaired"`
	Unresolved []uint64 `json:"unresolved"`
}

const revisionColumns = `id, script_id, revision, previous_revision_id, description, created_at, edited_at`

func scanRevision(row interface{ Scan(...any) error }) (*model.ScriptRevision, error) {
	var (
		rev             model.ScriptRevision
		prev            sql.NullInt64
		created, edited int64
	)
	if err := row.Scan(&rev.ID, &rev.ScriptID, &rev.Revision, &prev, &rev.Description, &created, &edited); err != nil {
		return nil, err
	}
	rev.PreviousRevisionID = nullID(prev)
	rev.CreatedAt = database.FromMillis(created)
	rev.EditedAt = database.FromMillis(edited)
	return &rev, nil
}

// CreateScript creates the script of a show. A show has at most one script.
func (r *ScriptRepo) CreateScript(ctx context.Context, showID uint64) (*model.Script, error) {
	var s *model.Script
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM shows WHERE id = ?`, showID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: show %d does not exist", ErrIntegrity, showID)
		}
		if err != nil {
			return err
		}
		if _, err := scriptByShow(ctx, tx, showID); err == nil {
			return fmt.Errorf("%w: show %d already has a script", ErrConflict, showID)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO scripts (show_id) VALUES (?)`, showID)
		if err != nil {
			return err
		}
		id, err := lastID(res)
		if err != nil {
			return err
		}
		s = &model.Script{ID: id, ShowID: showID}
		return nil
	})
	return s, err
}

// ScriptByShow returns the script of a show or ErrNotFound.
func (r *ScriptRepo) ScriptByShow(ctx context.Context, showID uint64) (*model.Script, error) {
	return scriptByShow(ctx, r.db, showID)
}

// ScriptByShowTx is ScriptByShow inside the caller's transaction.
func (r *ScriptRepo) ScriptByShowTx(ctx context.Context, tx *sql.Tx, showID uint64) (*model.Script, error) {
	return scriptByShow(ctx, tx, showID)
}

// ScriptByID returns a script or ErrNotFound.
func (r *ScriptRepo) ScriptByID(ctx context.Context, scriptID uint64) (*model.Script, error) {
	return scriptByID(ctx, r.db, scriptID)
}

func scriptByShow(ctx context.Context, q querier, showID uint64) (*model.Script, error) {
	return scanScript(q.QueryRowContext(ctx, `SELECT id, show_id, current_revision FROM scripts WHERE show_id = ?`, showID))
}

func scriptByID(ctx context.Context, q querier, scriptID uint64) (*model.Script, error) {
	return scanScript(q.QueryRowContext(ctx, `SELECT id, show_id, current_revision FROM scripts WHERE id = ?`, scriptID))
}

func scanScript(row *sql.Row) (*model.Script, error) {
	var (
		s   model.Script
		cur sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.ShowID, &cur); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.CurrentRevision = nullID(cur)
	return &s, nil
}

// CreateRevision appends a revision to the chain of scriptID and makes it
// the current revision. The new revision is numbered max+1 and links to
// the current revision; the first revision of a script is number 1 with no
// previous revision. Lines are stored as rows and as a compressed blob.
// Lines naming a SourceLineID inherit the cue associations of that line in
// the previous current revision.
func (r *ScriptRepo) CreateRevision(ctx context.Context, scriptID uint64, lines []model.LineContent, description string) (*model.ScriptRevision, error) {
	var rev *model.ScriptRevision
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		rev, err = r.CreateRevisionTx(ctx, tx, scriptID, lines, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}

// CreateRevisionTx is CreateRevision inside the caller's transaction.
func (r *ScriptRepo) CreateRevisionTx(ctx context.Context, tx *sql.Tx, scriptID uint64, lines []model.LineContent, description string) (*model.ScriptRevision, error) {
	script, err := scriptByID(ctx, tx, scriptID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: script %d does not exist", ErrIntegrity, scriptID)
	}
	if err != nil {
		return nil, err
	}
	if err := validateLines(lines); err != nil {
		return nil, err
	}

	var maxRev sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(revision) FROM script_revisions WHERE script_id = ?`, scriptID,
	).Scan(&maxRev); err != nil {
		return nil, err
	}

	var prev *uint64
	switch {
	case script.CurrentRevision != nil:
		prev = script.CurrentRevision
	case maxRev.Valid:
		// No current pointer but history exists: link to the newest entry so
		// the new revision does not start life as an orphan.
		var latest uint64
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM script_revisions WHERE script_id = ? AND revision = ?`, scriptID, maxRev.Int64,
		).Scan(&latest); err != nil {
			return nil, err
		}
		prev = &latest
	}

	number := 1
	if maxRev.Valid {
		number = int(maxRev.Int64) + 1
	}
	if number != 1 && prev == nil {
		return nil, fmt.Errorf("%w: revision %d of script %d has no predecessor", ErrIntegrity, number, scriptID)
	}

	if prev != nil {
		sourceIDs := make([]uint64, 0)
		for _, l := range lines {
			if l.SourceLineID != nil {
				sourceIDs = append(sourceIDs, *l.SourceLineID)
			}
		}
		if err := requireLinesInRevision(ctx, tx, *prev, sourceIDs); err != nil {
			return nil, err
		}
	} else {
		for _, l := range lines {
			if l.SourceLineID != nil {
				return nil, fmt.Errorf("%w: first revision cannot carry source lines", ErrIntegrity)
			}
		}
	}

	blob, err := CompressContent(lines)
	if err != nil {
		return nil, err
	}
	ts := now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO script_revisions (script_id, revision, previous_revision_id, description, compressed_data, created_at, edited_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		scriptID, number, idArg(prev), description, blob, ts, ts,
	)
	if err != nil {
		return nil, err
	}
	revID, err := lastID(res)
	if err != nil {
		return nil, err
	}

	for pos, l := range lines {
		lineID, err := insertLine(ctx, tx, revID, pos, l)
		if err != nil {
			return nil, err
		}
		if l.SourceLineID != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO cue_associations (revision_id, line_id, cue_id)
				 SELECT ?, ?, cue_id FROM cue_associations WHERE revision_id = ? AND line_id = ?`,
				revID, lineID, *prev, *l.SourceLineID,
			); err != nil {
				return nil, err
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE scripts SET current_revision = ? WHERE id = ?`, revID, scriptID); err != nil {
		return nil, err
	}
	return revisionByID(ctx, tx, revID)
}

func validateLines(lines []model.LineContent) error {
	for i := range lines {
		if lines[i].LineType == 0 {
			lines[i].LineType = model.LineDialogue
		}
		if !lines[i].LineType.Valid() {
			return fmt.Errorf("%w: line %d has unknown line type %d", ErrIntegrity, i, lines[i].LineType)
		}
	}
	return nil
}

func requireLinesInRevision(ctx context.Context, q querier, revisionID uint64, lineIDs []uint64) error {
	if len(lineIDs) == 0 {
		return nil
	}
	seen := make(map[uint64]struct{}, len(lineIDs))
	args := []any{revisionID}
	marks := make([]string, 0, len(lineIDs))
	for _, id := range lineIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		args = append(args, id)
		marks = append(marks, "?")
	}
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM script_lines WHERE revision_id = ? AND id IN (`+strings.Join(marks, ",")+`)`,
		args...,
	).Scan(&n)
	if err != nil {
		return err
	}
	if n != len(seen) {
		return fmt.Errorf("%w: source lines must belong to revision %d", ErrIntegrity, revisionID)
	}
	return nil
}

func insertLine(ctx context.Context, tx *sql.Tx, revisionID uint64, pos int, l model.LineContent) (uint64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO script_lines (revision_id, position, act_id, scene_id, page, line_type) VALUES (?, ?, ?, ?, ?, ?)`,
		revisionID, pos, idArg(l.ActID), idArg(l.SceneID), l.Page, int(l.LineType),
	)
	if err != nil {
		return 0, err
	}
	lineID, err := lastID(res)
	if err != nil {
		return 0, err
	}
	for i, p := range l.Parts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO script_line_parts (line_id, part_index, character_id, character_group_id, line_text) VALUES (?, ?, ?, ?, ?)`,
			lineID, i, idArg(p.CharacterID), idArg(p.CharacterGroupID), p.LineText,
		); err != nil {
			return 0, err
		}
	}
	return lineID, nil
}

// Revision returns one revision or ErrNotFound.
func (r *ScriptRepo) Revision(ctx context.Context, revisionID uint64) (*model.ScriptRevision, error) {
	return revisionByID(ctx, r.db, revisionID)
}

func revisionByID(ctx context.Context, q querier, revisionID uint64) (*model.ScriptRevision, error) {
	rev, err := scanRevision(q.QueryRowContext(ctx,
		`SELECT `+revisionColumns+` FROM script_revisions WHERE id = ?`, revisionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rev, err
}

// ListRevisions returns every revision of a script ordered by number.
func (r *ScriptRepo) ListRevisions(ctx context.Context, scriptID uint64) ([]model.ScriptRevision, error) {
	return listRevisions(ctx, r.db, scriptID)
}

func listRevisions(ctx context.Context, q querier, scriptID uint64) ([]model.ScriptRevision, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+revisionColumns+` FROM script_revisions WHERE script_id = ? ORDER BY revision ASC`, scriptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ScriptRevision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rev)
	}
	return out, rows.Err()
}

// Chain yields the revisions of a script from revision 1 to the current
// revision by following previous_revision_id. Nothing is read until the
// sequence is ranged over and every range recomputes it. If the walk back
// from the current revision does not reach revision 1 within as many steps
// as the script has revisions, or a link goes to a revision that is not
// older, the sequence yields a single ErrChainBroken.
func (r *ScriptRepo) Chain(ctx context.Context, scriptID uint64) iter.Seq2[model.ScriptRevision, error] {
	return func(yield func(model.ScriptRevision, error) bool) {
		path, err := r.walkBack(ctx, scriptID)
		if err != nil {
			yield(model.ScriptRevision{}, err)
			return
		}
		for i := len(path) - 1; i >= 0; i-- {
			if !yield(path[i], nil) {
				return
			}
		}
	}
}

// ChainSlice collects Chain into a slice.
func (r *ScriptRepo) ChainSlice(ctx context.Context, scriptID uint64) ([]model.ScriptRevision, error) {
	var out []model.ScriptRevision
	for rev, err := range r.Chain(ctx, scriptID) {
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, nil
}

// walkBack returns the chain from the current revision back to the root.
func (r *ScriptRepo) walkBack(ctx context.Context, scriptID uint64) ([]model.ScriptRevision, error) {
	script, err := scriptByID(ctx, r.db, scriptID)
	if err != nil {
		return nil, err
	}
	if script.CurrentRevision == nil {
		return nil, nil
	}
	all, err := listRevisions(ctx, r.db, scriptID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint64]model.ScriptRevision, len(all))
	for _, rev := range all {
		byID[rev.ID] = rev
	}

	var path []model.ScriptRevision
	cursor := *script.CurrentRevision
	for steps := 0; steps < len(all); steps++ {
		rev, ok := byID[cursor]
		if !ok {
			return nil, fmt.Errorf("%w: script %d references missing revision %d", ErrChainBroken, scriptID, cursor)
		}
		if n := len(path); n > 0 && rev.Revision >= path[n-1].Revision {
			return nil, fmt.Errorf("%w: revision %d links forward to %d", ErrChainBroken, path[n-1].ID, rev.ID)
		}
		path = append(path, rev)
		if rev.PreviousRevisionID == nil {
			if rev.Revision != 1 {
				return nil, fmt.Errorf("%w: revision %d (number %d) is orphaned", ErrChainBroken, rev.ID, rev.Revision)
			}
			return path, nil
		}
		cursor = *rev.PreviousRevisionID
	}
	return nil, fmt.Errorf("%w: script %d chain does not reach its root in %d steps", ErrChainBroken, scriptID, len(all))
}

// RepairOrphans links every orphaned revision of a script to the script's
// revision 1. It restores connectivity only; the true predecessor is not
// reconstructed. Running it again finds nothing to repair. When the
// script has orphans but no root they are reported as unresolved and a
// warning is logged.
func (r *ScriptRepo) RepairOrphans(ctx context.Context, scriptID uint64) (RepairReport, error) {
	var report RepairReport
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		report, err = r.RepairOrphansTx(ctx, tx, scriptID)
		return err
	})
	return report, err
}

// RepairOrphansTx is RepairOrphans inside the caller's transaction.
func (r *ScriptRepo) RepairOrphansTx(ctx context.Context, tx *sql.Tx, scriptID uint64) (RepairReport, error) {
	report := RepairReport{ScriptID: scriptID, Repaired: []uint64{}, Unresolved: []uint64{}}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, revision FROM script_revisions
		 WHERE script_id = ? AND previous_revision_id IS NULL AND revision <> 1
		 ORDER BY revision ASC`, scriptID)
	if err != nil {
		return report, err
	}
	type orphan struct {
		id     uint64
		number int
	}
	var orphans []orphan
	for rows.Next() {
		var o orphan
		if err := rows.Scan(&o.id, &o.number); err != nil {
			rows.Close()
			return report, err
		}
		orphans = append(orphans, o)
	}
	if err := rows.Close(); err != nil {
		return report, err
	}
	if len(orphans) == 0 {
		return report, nil
	}

	var rootID uint64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM script_revisions WHERE script_id = ? AND revision = 1 ORDER BY id ASC LIMIT 1`, scriptID,
	).Scan(&rootID)
	if errors.Is(err, sql.ErrNoRows) {
		for _, o := range orphans {
			report.Unresolved = append(report.Unresolved, o.id)
			r.log.Warn("orphaned revision left unresolved, script has no initial revision",
				"script_id", scriptID, "revision", o.number, "revision_id", o.id)
		}
		return report, nil
	}
	if err != nil {
		return report, err
	}
	report.RootID = &rootID

	for _, o := range orphans {
		if _, err := tx.ExecContext(ctx,
			`UPDATE script_revisions SET previous_revision_id = ? WHERE id = ?`, rootID, o.id,
		); err != nil {
			return report, err
		}
		report.Repaired = append(report.Repaired, o.id)
		r.log.Info("linked orphaned revision to initial revision",
			"script_id", scriptID, "revision", o.number, "revision_id", o.id, "root_id", rootID)
	}
	return report, nil
}

// RepairAllOrphansTx repairs every script that has orphans. It is the body
// of the startup repair migration.
func (r *ScriptRepo) RepairAllOrphansTx(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT script_id FROM script_revisions WHERE previous_revision_id IS NULL AND revision <> 1`)
	if err != nil {
		return err
	}
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := r.RepairOrphansTx(ctx, tx, id); err != nil {
			return fmt.Errorf("repair script %d: %w", id, err)
		}
	}
	return nil
}

// CompressedContent returns the raw stored blob of a revision. A revision
// without stored content yields an empty string.
func (r *ScriptRepo) CompressedContent(ctx context.Context, revisionID uint64) (string, error) {
	var blob sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT compressed_data FROM script_revisions WHERE id = ?`, revisionID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return blob.String, nil
}

// DecodedContent decodes the stored blob of a revision into its lines.
func (r *ScriptRepo) DecodedContent(ctx context.Context, revisionID uint64) ([]model.LineContent, error) {
	blob, err := r.CompressedContent(ctx, revisionID)
	if err != nil {
		return nil, err
	}
	if blob == "" {
		return nil, nil
	}
	var lines []model.LineContent
	if err := DecompressContent(blob, &lines); err != nil {
		r.log.Error("stored revision content unreadable", "revision_id", revisionID, "err", err)
		return nil, err
	}
	return lines, nil
}

// SetCompressedContent replaces the stored blob of a revision.
func (r *ScriptRepo) SetCompressedContent(ctx context.Context, revisionID uint64, content any) error {
	blob, err := CompressContent(content)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE script_revisions SET compressed_data = ?, edited_at = ? WHERE id = ?`, blob, now(), revisionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Lines returns the lines of a revision with their parts, in order.
func (r *ScriptRepo) Lines(ctx context.Context, revisionID uint64) ([]model.ScriptLine, error) {
	return linesOf(ctx, r.db, revisionID)
}

func linesOf(ctx context.Context, q querier, revisionID uint64) ([]model.ScriptLine, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, revision_id, position, act_id, scene_id, page, line_type
		 FROM script_lines WHERE revision_id = ? ORDER BY position ASC`, revisionID)
	if err != nil {
		return nil, err
	}
	var (
		lines []model.ScriptLine
		index = map[uint64]int{}
	)
	for rows.Next() {
		var (
			l          model.ScriptLine
			act, scene sql.NullInt64
			lt         int
		)
		if err := rows.Scan(&l.ID, &l.RevisionID, &l.Position, &act, &scene, &l.Page, &lt); err != nil {
			rows.Close()
			return nil, err
		}
		l.ActID, l.SceneID, l.LineType = nullID(act), nullID(scene), model.LineType(lt)
		l.Parts = []model.ScriptLinePart{}
		index[l.ID] = len(lines)
		lines = append(lines, l)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return lines, nil
	}

	parts, err := q.QueryContext(ctx,
		`SELECT p.id, p.line_id, p.part_index, p.character_id, p.character_group_id, p.line_text
		 FROM script_line_parts p JOIN script_lines l ON l.id = p.line_id
		 WHERE l.revision_id = ? ORDER BY p.line_id, p.part_index`, revisionID)
	if err != nil {
		return nil, err
	}
	defer parts.Close()
	for parts.Next() {
		var (
			p         model.ScriptLinePart
			ch, group sql.NullInt64
		)
		if err := parts.Scan(&p.ID, &p.LineID, &p.PartIndex, &ch, &group, &p.LineText); err != nil {
			return nil, err
		}
		p.CharacterID, p.CharacterGroupID = nullID(ch), nullID(group)
		if i, ok := index[p.LineID]; ok {
			lines[i].Parts = append(lines[i].Parts, p)
		}
	}
	return lines, parts.Err()
}

// rewriteContentTx re-encodes the stored blob of a revision from its line
// rows so both describe the same lines after a line is removed. Source
// line references only matter when a revision is created and are not kept.
func rewriteContentTx(ctx context.Context, tx *sql.Tx, revisionID uint64) error {
	lines, err := linesOf(ctx, tx, revisionID)
	if err != nil {
		return err
	}
	content := make([]model.LineContent, 0, len(lines))
	for _, l := range lines {
		lc := model.LineContent{ActID: l.ActID, SceneID: l.SceneID, Page: l.Page, LineType: l.LineType, Parts: []model.PartContent{}}
		for _, p := range l.Parts {
			lc.Parts = append(lc.Parts, model.PartContent{CharacterID: p.CharacterID, CharacterGroupID: p.CharacterGroupID, LineText: p.LineText})
		}
		content = append(content, lc)
	}
	blob, err := CompressContent(content)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE script_revisions SET compressed_data = ?, edited_at = ? WHERE id = ?`, blob, now(), revisionID)
	return err
}

// SetCurrentRevision points the script at one of its own revisions.
func (r *ScriptRepo) SetCurrentRevision(ctx context.Context, scriptID, revisionID uint64) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		rev, err := revisionByID(ctx, tx, revisionID)
		if err != nil {
			return err
		}
		if rev.ScriptID != scriptID {
			return fmt.Errorf("%w: revision %d does not belong to script %d", ErrIntegrity, revisionID, scriptID)
		}
		_, err = tx.ExecContext(ctx, `UPDATE scripts SET current_revision = ? WHERE id = ?`, revisionID, scriptID)
		return err
	})
}

// DeleteRevision removes a non-root revision of a script together with its
// lines and cue associations, and garbage-collects cues left without
// associations. If it was the current revision the script falls back to
// its predecessor. Revisions that pointed at it are relinked to its
// predecessor so the chain stays connected. It reports whether the
// current revision changed.
func (r *ScriptRepo) DeleteRevision(ctx context.Context, scriptID, revisionID uint64) (bool, error) {
	changed := false
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		rev, err := revisionByID(ctx, tx, revisionID)
		if err != nil {
			return err
		}
		if rev.ScriptID != scriptID {
			return fmt.Errorf("%w: revision %d does not belong to script %d", ErrIntegrity, revisionID, scriptID)
		}
		if rev.Revision == 1 {
			return fmt.Errorf("%w: cannot delete first script revision", ErrConflict)
		}
		script, err := scriptByID(ctx, tx, scriptID)
		if err != nil {
			return err
		}

		fallback := rev.PreviousRevisionID
		if fallback == nil {
			var root uint64
			if err := tx.QueryRowContext(ctx,
				`SELECT id FROM script_revisions WHERE script_id = ? AND revision = 1`, scriptID,
			).Scan(&root); err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			} else if err == nil {
				fallback = &root
			}
		}

		if script.CurrentRevision != nil && *script.CurrentRevision == revisionID {
			changed = true
			if _, err := tx.ExecContext(ctx,
				`UPDATE scripts SET current_revision = ? WHERE id = ?`, idArg(fallback), scriptID,
			); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE script_revisions SET previous_revision_id = ? WHERE previous_revision_id = ?`,
			idArg(fallback), revisionID,
		); err != nil {
			return err
		}

		// Phase 1 removes the revision and its children; phase 2 runs once
		// over every cue the cascade touched.
		sweep := newCueSweep()
		if err := sweep.touchRevision(ctx, tx, revisionID); err != nil {
			return err
		}
		for _, stmt := range []string{
			`DELETE FROM cue_associations WHERE revision_id = ?`,
			`DELETE FROM script_line_parts WHERE line_id IN (SELECT id FROM script_lines WHERE revision_id = ?)`,
			`DELETE FROM script_lines WHERE revision_id = ?`,
			`DELETE FROM script_revisions WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, revisionID); err != nil {
				return err
			}
		}
		_, err = sweep.run(ctx, tx)
		return err
	})
	return changed, err
}
