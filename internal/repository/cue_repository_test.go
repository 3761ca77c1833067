package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamteamprod/digiscript-live/internal/model"
)

func (f *fixture) cueType(t *testing.T) *model.CueType {
	t.Helper()
	ct, err := f.cues.CreateCueType(context.Background(), model.CueType{ShowID: f.show.ID, Prefix: "SND", Colour: "#00ff00"})
	require.NoError(t, err)
	return ct
}

func TestDisassociate_DeletesLastReference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rev := f.revision(t, dialogue("a"))
	line := f.lines(t, rev.ID)[0]
	ct := f.cueType(t)

	cue, err := f.cues.CreateCue(ctx, ct.ID, "C", rev.ID, line.ID)
	require.NoError(t, err)

	removed, err := f.cues.Disassociate(ctx, rev.ID, line.ID, cue.ID)
	require.NoError(t, err)
	require.True(t, removed)
	_, err = f.cues.CueByID(ctx, cue.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.cues.Disassociate(ctx, rev.ID, line.ID, cue.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDisassociate_KeepsSharedCue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rev := f.revision(t, dialogue("a"), dialogue("b"))
	lines := f.lines(t, rev.ID)
	ct := f.cueType(t)

	cue, err := f.cues.CreateCue(ctx, ct.ID, "C", rev.ID, lines[0].ID)
	require.NoError(t, err)
	require.NoError(t, f.cues.Associate(ctx, rev.ID, lines[1].ID, cue.ID))

	removed, err := f.cues.Disassociate(ctx, rev.ID, lines[0].ID, cue.ID)
	require.NoError(t, err)
	require.False(t, removed)
	n, err := f.cues.CountAssociations(ctx, cue.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestAssociate_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rev := f.revision(t, dialogue("a"))
	line := f.lines(t, rev.ID)[0]
	cue, err := f.cues.CreateCue(ctx, f.cueType(t).ID, "1", rev.ID, line.ID)
	require.NoError(t, err)

	require.NoError(t, f.cues.Associate(ctx, rev.ID, line.ID, cue.ID))
	require.NoError(t, f.cues.Associate(ctx, rev.ID, line.ID, cue.ID))
	n, err := f.cues.CountAssociations(ctx, cue.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestAssociate_Rejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rev := f.revision(t, dialogue("a"), model.LineContent{LineType: model.LineSpacing})
	lines := f.lines(t, rev.ID)
	ct := f.cueType(t)

	_, err := f.cues.CreateCue(ctx, ct.ID, "1", rev.ID, lines[1].ID)
	require.ErrorIs(t, err, ErrIntegrity, "spacing lines carry no cues")

	cue, err := f.cues.CreateCue(ctx, ct.ID, "1", rev.ID, lines[0].ID)
	require.NoError(t, err)
	require.ErrorIs(t, f.cues.Associate(ctx, rev.ID, lines[1].ID, cue.ID), ErrIntegrity)
	require.ErrorIs(t, f.cues.Associate(ctx, rev.ID+1, lines[0].ID, cue.ID), ErrIntegrity)
	require.ErrorIs(t, f.cues.Associate(ctx, rev.ID, lines[0].ID, cue.ID+1), ErrIntegrity)
}

func TestDeleteRevision_SweepsCuesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r1 := f.revision(t, dialogue("a"))
	r2 := f.revision(t, dialogue("a"), dialogue("b"), dialogue("c"))
	lines := f.lines(t, r2.ID)
	ct := f.cueType(t)

	// shared sits on three lines of r2 only; kept also sits in r1.
	shared, err := f.cues.CreateCue(ctx, ct.ID, "1", r2.ID, lines[0].ID)
	require.NoError(t, err)
	require.NoError(t, f.cues.Associate(ctx, r2.ID, lines[1].ID, shared.ID))
	require.NoError(t, f.cues.Associate(ctx, r2.ID, lines[2].ID, shared.ID))
	kept, err := f.cues.CreateCue(ctx, ct.ID, "2", r1.ID, f.lines(t, r1.ID)[0].ID)
	require.NoError(t, err)
	require.NoError(t, f.cues.Associate(ctx, r2.ID, lines[0].ID, kept.ID))

	_, err = f.scripts.DeleteRevision(ctx, f.script.ID, r2.ID)
	require.NoError(t, err)

	_, err = f.cues.CueByID(ctx, shared.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.cues.CueByID(ctx, kept.ID)
	require.NoError(t, err)
	assertNoDanglingAssociations(t, f.db)
}

func TestDeleteLine_SweepsCues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rev := f.revision(t, dialogue("a"), dialogue("b"))
	lines := f.lines(t, rev.ID)
	cue, err := f.cues.CreateCue(ctx, f.cueType(t).ID, "1", rev.ID, lines[0].ID)
	require.NoError(t, err)

	deleted, err := f.cues.DeleteLine(ctx, rev.ID, lines[0].ID)
	require.NoError(t, err)
	require.Equal(t, []uint64{cue.ID}, deleted)
	require.Len(t, f.lines(t, rev.ID), 1)
}

func TestDeleteLine_RewritesStoredContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rev := f.revision(t, dialogue("a"), dialogue("b"), dialogue("c"))
	lines := f.lines(t, rev.ID)

	_, err := f.cues.DeleteLine(ctx, rev.ID, lines[0].ID)
	require.NoError(t, err)
	_, err = f.cues.DeleteLine(ctx, rev.ID, lines[2].ID)
	require.NoError(t, err)

	content, err := f.scripts.DecodedContent(ctx, rev.ID)
	require.NoError(t, err)
	require.Len(t, content, len(f.lines(t, rev.ID)))
	require.Len(t, content, 1)
	require.Equal(t, model.LineDialogue, content[0].LineType)
	require.Equal(t, "b", content[0].Parts[0].LineText)
}

func TestDeleteCueType_CascadesAndRunsHooks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	users := NewUserRepo(f.db)
	overrides := NewOverrideRepo(f.db)
	f.cues.OnCueTypeDelete(overrides.CueTypeCleanup)

	uid, err := users.Create(ctx, "sm@example.com", "password123", 4)
	require.NoError(t, err)
	rev := f.revision(t, dialogue("a"))
	line := f.lines(t, rev.ID)[0]
	ct := f.cueType(t)
	other := f.cueType(t)
	cue, err := f.cues.CreateCue(ctx, ct.ID, "1", rev.ID, line.ID)
	require.NoError(t, err)
	survivor, err := f.cues.CreateCue(ctx, other.ID, "1", rev.ID, line.ID)
	require.NoError(t, err)

	_, err = overrides.Upsert(ctx, model.UserOverride{UserID: uid, SettingsType: "cue_types", RefID: ct.ID, Settings: `{"colour":"#ff0000"}`})
	require.NoError(t, err)
	_, err = overrides.Upsert(ctx, model.UserOverride{UserID: uid, SettingsType: "cue_types", RefID: other.ID, Settings: `{}`})
	require.NoError(t, err)

	require.NoError(t, f.cues.DeleteCueType(ctx, ct.ID))

	_, err = f.cues.CueByID(ctx, cue.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.cues.CueByID(ctx, survivor.ID)
	require.NoError(t, err)
	_, err = f.cues.CueType(ctx, ct.ID)
	require.ErrorIs(t, err, ErrNotFound)

	left, err := overrides.ListForUser(ctx, uid, "cue_types")
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, other.ID, left[0].RefID)
	assertNoDanglingAssociations(t, f.db)

	require.ErrorIs(t, f.cues.DeleteCueType(ctx, ct.ID), ErrNotFound)
}

func TestDeleteCueType_HookFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rev := f.revision(t, dialogue("a"))
	ct := f.cueType(t)
	cue, err := f.cues.CreateCue(ctx, ct.ID, "1", rev.ID, f.lines(t, rev.ID)[0].ID)
	require.NoError(t, err)

	f.cues.OnCueTypeDelete(func(ctx context.Context, tx *sql.Tx, id uint64) error { return ErrConflict })
	require.ErrorIs(t, f.cues.DeleteCueType(ctx, ct.ID), ErrConflict)

	_, err = f.cues.CueByID(ctx, cue.ID)
	require.NoError(t, err)
}

func TestOverrideUpsert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	overrides := NewOverrideRepo(f.db)
	uid, err := NewUserRepo(f.db).Create(ctx, "a@example.com", "password123", 4)
	require.NoError(t, err)

	first, err := overrides.Upsert(ctx, model.UserOverride{UserID: uid, SettingsType: "cue_types", RefID: 1, Settings: `{"a":1}`})
	require.NoError(t, err)
	second, err := overrides.Upsert(ctx, model.UserOverride{UserID: uid, SettingsType: "cue_types", RefID: 1, Settings: `{"a":2}`})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	_, err = overrides.Upsert(ctx, model.UserOverride{UserID: uid, SettingsType: "cue_types", RefID: 1, Settings: `{`})
	require.ErrorIs(t, err, ErrIntegrity)
}

// assertNoDanglingAssociations checks that every cue has a placement and
// every placement references existing rows.
func assertNoDanglingAssociations(t *testing.T, db *sql.DB) {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM cues c WHERE NOT EXISTS (SELECT 1 FROM cue_associations a WHERE a.cue_id = c.id)`,
	).Scan(&n))
	require.Zero(t, n, "cues without associations")
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM cue_associations a
		 LEFT JOIN cues c ON c.id = a.cue_id
		 LEFT JOIN script_lines l ON l.id = a.line_id
		 LEFT JOIN script_revisions r ON r.id = a.revision_id
		 WHERE c.id IS NULL OR l.id IS NULL OR r.id IS NULL`,
	).Scan(&n))
	require.Zero(t, n, "associations with missing rows")
}

