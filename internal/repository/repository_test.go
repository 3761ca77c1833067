package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamteamprod/digiscript-live/internal/model"
	"github.com/dreamteamprod/digiscript-live/internal/testutil"
)

type fixture struct {
	db      *sql.DB
	shows   *ShowRepo
	scripts *ScriptRepo
	cues    *CueRepo
	show    *model.Show
	script  *model.Script
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := testutil.OpenDB(t)
	f := &fixture{
		db:      db,
		shows:   NewShowRepo(db),
		scripts: NewScriptRepo(db, testutil.Logger()),
		cues:    NewCueRepo(db),
	}
	var err error
	f.show, err = f.shows.Create(ctx, "Hamlet")
	require.NoError(t, err)
	f.script, err = f.scripts.CreateScript(ctx, f.show.ID)
	require.NoError(t, err)
	return f
}

func dialogue(text string) model.LineContent {
	return model.LineContent{LineType: model.LineDialogue, Parts: []model.PartContent{{LineText: text}}}
}

func (f *fixture) revision(t *testing.T, lines ...model.LineContent) *model.ScriptRevision {
	t.Helper()
	rev, err := f.scripts.CreateRevision(context.Background(), f.script.ID, lines, "")
	require.NoError(t, err)
	return rev
}

func (f *fixture) lines(t *testing.T, revisionID uint64) []model.ScriptLine {
	t.Helper()
	lines, err := f.scripts.Lines(context.Background(), revisionID)
	require.NoError(t, err)
	return lines
}

func numbers(revs []model.ScriptRevision) []int {
	out := make([]int, len(revs))
	for i, r := range revs {
		out[i] = r.Revision
	}
	return out
}
