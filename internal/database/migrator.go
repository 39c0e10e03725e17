// Package database applies the SQL schema migrations.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
)

const createVersionsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Migrator applies *.up.sql files in lexical order, each in its own
// transaction, and records applied versions in schema_migrations.
type Migrator struct {
	db  *sql.DB
	log *slog.Logger
}

func NewMigrator(db *sql.DB, log *slog.Logger) *Migrator {
	if log == nil {
		log = slog.Default()
	}

	return &Migrator{db: db, log: log}
}

// ApplyDir applies pending migrations found in dir on disk.
func (m *Migrator) ApplyDir(ctx context.Context, dir string) (int, error) {
	return m.Apply(ctx, os.DirFS(dir), ".")
}

// Apply applies pending migrations under root in fsys and returns how many ran.
func (m *Migrator) Apply(ctx context.Context, fsys fs.FS, root string) (int, error) {
	names, err := ListMigrations(fsys, root)
	if err != nil {
		return 0, fmt.Errorf("list migrations in %q: %w", root, err)
	}

	log := m.log.With(slog.String("dir", root))
	if len(names) == 0 {
		log.Info("no .up.sql migrations found")
		return 0, nil
	}

	if _, err := m.db.ExecContext(ctx, createVersionsTable); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, name := range names {
		version := Version(name)
		if _, ok := applied[version]; ok {
			continue
		}

		data, err := fs.ReadFile(fsys, path.Join(root, name))
		if err != nil {
			return count, fmt.Errorf("read migration %q: %w", name, err)
		}

		if err := m.applyOne(ctx, log.With(slog.String("version", version)), version, string(data)); err != nil {
			return count, err
		}
		count++
	}

	log.Info("migrations applied", slog.Int("count", count), slog.Int("total", len(names)))
	return count, nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]struct{}, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("load applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = struct{}{}
	}

	return applied, rows.Err()
}

func (m *Migrator) applyOne(ctx context.Context, log *slog.Logger, version, statement string) error {
	statement = strings.TrimSpace(statement)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", version, err)
	}

	rollback := func(cause error) error {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Error("rollback error", slog.Any("error", rbErr))
		}
		return cause
	}

	if statement == "" {
		log.Warn("migration is empty")
	} else {
		log.Info("applying migration")
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return rollback(fmt.Errorf("execute migration %s: %w", version, err))
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return rollback(fmt.Errorf("record migration %s: %w", version, err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}

	return nil
}

// Version strips the .up.sql suffix from a migration file name.
func Version(name string) string {
	return strings.TrimSuffix(name, ".up.sql")
}

func isUpMigration(name string) bool {
	return strings.HasSuffix(name, ".up.sql")
}

// ListMigrations returns all .up.sql files under root in lexical order.
func ListMigrations(fsys fs.FS, root string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !isUpMigration(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}

	sort.Strings(names)
	return names, nil
}
