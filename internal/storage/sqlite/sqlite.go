// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/receiptsync/internal/models"
	"github.com/mmynk/receiptsync/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	if err := runMigrations(dsn); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; versions are read-modify-write.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing when it returns nil.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// bumpVersion advances the group's last-modified stamp and returns the new
// version. The stamp strictly increases even if the clock does not.
func (s *SQLiteStore) bumpVersion(ctx context.Context, q querier, groupID string) (models.Version, error) {
	var prev int64
	err := q.QueryRowContext(ctx, "SELECT updated_at FROM groups WHERE id = ?", groupID).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("group %s: %w", groupID, storage.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read group version: %w", err)
	}

	next := max(s.now().UnixNano(), prev+1)
	if _, err := q.ExecContext(ctx, "UPDATE groups SET updated_at = ? WHERE id = ?", next, groupID); err != nil {
		return "", fmt.Errorf("failed to bump group version: %w", err)
	}
	return formatVersion(next), nil
}

func formatVersion(stamp int64) models.Version {
	return models.Version(strconv.FormatInt(stamp, 10))
}

// newSlug encodes a fresh UUID as 22 URL-safe characters.
func newSlug() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// replaceNames rewrites an ordered name list in one of the *_people or
// entry_assignments tables.
func replaceNames(ctx context.Context, q querier, table, ownerCol, ownerID string, names []string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+ownerCol+" = ?", ownerID); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	for i, name := range names {
		_, err := q.ExecContext(ctx,
			"INSERT INTO "+table+" ("+ownerCol+", name, position) VALUES (?, ?, ?)",
			ownerID, name, i,
		)
		if err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
	}
	return nil
}

// loadNames reads an ordered name list. An empty list is returned as a
// non-nil slice so JSON renders [] rather than null.
func loadNames(ctx context.Context, q querier, table, ownerCol, ownerID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT name FROM "+table+" WHERE "+ownerCol+" = ? ORDER BY position",
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", table, err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", table, err)
	}
	return names, nil
}

// uniqueNames rejects empty or repeated names.
func uniqueNames(what string, names []string) error {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" {
			return fmt.Errorf("%s: empty name: %w", what, storage.ErrInvalid)
		}
		if seen[n] {
			return fmt.Errorf("%s: duplicate name %q: %w", what, n, storage.ErrInvalid)
		}
		seen[n] = true
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
