package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/dreamteamprod/digiscript-live/internal/database/migrations"
)

const migrationTable = "schema_migrations"

// Migration is one forward step of the schema. File names a SQL file
// present in every dialect directory; Run is a data migration executed in
// Go. A migration sets exactly one of them.
type Migration struct {
	Name string
	File string
	Run  func(ctx context.Context, tx *sql.Tx) error
}

// Schema lists the SQL migrations in the order they apply.
var Schema = []Migration{
	{Name: "0001_init", File: "0001_init.sql"},
	{Name: "0002_line_type", File: "0002_line_type.sql"},
}

// Migrate applies every migration of Schema followed by extra, each at most
// once. Each migration runs in its own transaction and is recorded in
// schema_migrations on success.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect, log *slog.Logger, extra ...Migration) error {
	if db == nil {
		return fmt.Errorf("sql db is required")
	}
	if err := ensureMigrationTable(ctx, db, dialect); err != nil {
		return err
	}

	all := append(append([]Migration{}, Schema...), extra...)
	for _, m := range all {
		applied, err := isApplied(ctx, db, m.Name)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", m.Name, err)
		}
		if applied {
			continue
		}
		if err := apply(ctx, db, dialect, m); err != nil {
			return err
		}
		if log != nil {
			log.Info("migration applied", "name", m.Name, "dialect", string(dialect))
		}
	}
	return nil
}

func ensureMigrationTable(ctx context.Context, db *sql.DB, dialect Dialect) error {
	keyType := "TEXT"
	if dialect == MySQL {
		keyType = "VARCHAR(255)"
	}
	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    name %s PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`, migrationTable, keyType)
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, dialect Dialect, m Migration) error {
	var stmts []string
	if m.File != "" {
		content, err := fs.ReadFile(migrations.FS, string(dialect)+"/"+m.File)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", m.Name, err)
		}
		stmts = SplitStatements(ExtractUpMigration(string(content)))
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration transaction %s: %w", m.Name, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration %s: %w", m.Name, err)
		}
	}
	if m.Run != nil {
		if err := m.Run(ctx, tx); err != nil {
			return fmt.Errorf("run migration %s: %w", m.Name, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO "+migrationTable+" (name, applied_at) VALUES (?, ?)",
		m.Name, time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("record migration %s: %w", m.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.Name, err)
	}
	committed = true
	return nil
}

// ExtractUpMigration returns the SQL in the -- +migrate Up section.
func ExtractUpMigration(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, "-- +migrate Down")
	if downIdx == -1 {
		return content[upIdx+len("-- +migrate Up"):]
	}
	return content[upIdx+len("-- +migrate Up") : downIdx]
}

// SplitStatements breaks a script into single statements. The MySQL driver
// rejects multi-statement Exec calls unless multiStatements is enabled.
// Statements must not contain semicolons inside string literals.
func SplitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		stmt := strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func isApplied(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var found int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM "+migrationTable+" WHERE name = ?", name).Scan(&found)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Millis converts t to the unix-millisecond form used by every timestamp
// column.
func Millis(t time.Time) int64 { return t.UTC().UnixMilli() }

// FromMillis is the inverse of Millis.
func FromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }
