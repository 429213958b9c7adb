package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/protezlab/reportgate/internal/store/migrations"
)

const migrationTable = "schema_migrations"

// Store persists users and reports in SQLite.
type Store struct {
	db     *sql.DB
	logger hclog.Logger
	now    func() time.Time
}

// Open opens (creating it when needed) the SQLite database at path. Open
// doesn't apply migrations, see Migrate.
//
// Supported options: WithLogger, WithNow
func Open(path string, opt ...Option) (*Store, error) {
	const op = "store.Open"
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%s: database path is empty: %w", op, ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("%s: unable to create database dir: %w", op, err)
		}
	}
	dsn := "file:" + cleanPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to open database: %w", op, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: unable to reach database: %w", op, err)
	}
	opts.withLogger.Debug("database opened", "path", cleanPath)
	return &Store{db: db, logger: opts.withLogger, now: opts.withNowFunc}, nil
}

// Close the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Users returns the users DAO.
func (s *Store) Users() *Users { return &Users{s: s} }

// Reports returns the reports DAO.
func (s *Store) Reports() *Reports { return &Reports{s: s} }

// Migrate applies every embedded migration that hasn't been applied yet, in
// file name order. It returns the names of the migrations it applied.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	const op = "Store.Migrate"
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotOpen)
	}
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read migrations: %w", op, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationTable+` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return nil, fmt.Errorf("%s: unable to create migration table: %w", op, err)
	}

	var applied []string
	for _, name := range files {
		done, err := s.isApplied(ctx, name)
		if err != nil {
			return applied, fmt.Errorf("%s: %s: %w", op, name, err)
		}
		if done {
			continue
		}
		content, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return applied, fmt.Errorf("%s: %s: %w", op, name, err)
		}
		if err := s.apply(ctx, name, upMigration(string(content))); err != nil {
			return applied, fmt.Errorf("%s: %s: %w", op, name, err)
		}
		s.logger.Info("migration applied", "name", name)
		applied = append(applied, name)
	}
	return applied, nil
}

func (s *Store) isApplied(ctx context.Context, name string) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM `+migrationTable+` WHERE name = ?`, name).Scan(&found)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (s *Store) apply(ctx context.Context, name, upSQL string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if strings.TrimSpace(upSQL) != "" {
		if _, err := tx.ExecContext(ctx, upSQL); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`, name, toMillis(s.nowUTC())); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// upMigration returns the SQL of the migration's "-- +migrate Up" section.
func upMigration(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	i := strings.Index(content, up)
	if i == -1 {
		return content
	}
	content = content[i+len(up):]
	if j := strings.Index(content, down); j != -1 {
		content = content[:j]
	}
	return content
}

func (s *Store) nowUTC() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

func toMillis(t time.Time) int64   { return t.UTC().UnixMilli() }
func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }
