package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrate_AppliesOnce(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	require.NoError(t, Migrate(ctx, db, SQLite, nil))
	require.NoError(t, Migrate(ctx, db, SQLite, nil), "re-running must be a no-op")

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	require.Equal(t, len(Schema), n)
}

func TestMigrate_LineTypeReplacesStageDirection(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	require.NoError(t, ensureMigrationTable(ctx, db, SQLite))
	require.NoError(t, apply(ctx, db, SQLite, Schema[0]))

	now := Millis(time.Now())
	_, err := db.Exec(`INSERT INTO shows (name, created_at) VALUES ('Hamlet', ?)`, now)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO scripts (show_id) VALUES (1)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO script_revisions (script_id, revision, created_at, edited_at) VALUES (1, 1, ?, ?)`, now, now)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO script_lines (revision_id, position, stage_direction) VALUES (1, 0, 1), (1, 1, 0), (1, 2, NULL)`)
	require.NoError(t, err)

	require.NoError(t, Migrate(ctx, db, SQLite, nil))

	rows, err := db.Query(`SELECT line_type FROM script_lines ORDER BY position`)
	require.NoError(t, err)
	defer rows.Close()
	var got []int
	for rows.Next() {
		var lt int
		require.NoError(t, rows.Scan(&lt))
		got = append(got, lt)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []int{2, 1, 1}, got)
}

func TestMigrate_RunsExtraGoMigration(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	calls := 0
	extra := Migration{Name: "0100_extra", Run: func(ctx context.Context, tx *sql.Tx) error {
		calls++
		_, err := tx.ExecContext(ctx, `INSERT INTO shows (name, created_at) VALUES ('extra', 0)`)
		return err
	}}
	require.NoError(t, Migrate(ctx, db, SQLite, nil, extra))
	require.NoError(t, Migrate(ctx, db, SQLite, nil, extra))
	require.Equal(t, 1, calls)
}

func TestSplitStatements(t *testing.T) {
	got := SplitStatements("-- +migrate Up\nCREATE TABLE a (id INT);\n\n-- note\nUPDATE a SET id = 1;\n")
	require.Equal(t, []string{"CREATE TABLE a (id INT)", "UPDATE a SET id = 1"}, got)
}

func TestMillisRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 19, 30, 0, 0, time.UTC)
	require.True(t, ts.Equal(FromMillis(Millis(ts))))
}
