// Package storage provides the SQLite-backed catalog store.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Veraticus/flowmatch/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage implements service.CatalogStore using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveCandidates upserts catalog items, preserving insertion order via
// a monotonically increasing position column.
func (s *SQLiteStorage) SaveCandidates(ctx context.Context, candidates []model.CandidateItem) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}
	for i := range candidates {
		if err := candidates[i].Validate(); err != nil {
			return fmt.Errorf("invalid candidate %q: %w", candidates[i].ID, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), 0) FROM candidates`).Scan(&next); err != nil {
		return fmt.Errorf("failed to read catalog position: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candidates (id, title, description, owner_id, window_start, window_end, budget, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			owner_id = excluded.owner_id,
			window_start = excluded.window_start,
			window_end = excluded.window_end,
			budget = excluded.budget`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range candidates {
		next++
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.Title, c.Description, c.OwnerID,
			c.WindowStart.UTC(), c.WindowEnd.UTC(), c.Budget, next); err != nil {
			return fmt.Errorf("failed to save candidate %q: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit candidates: %w", err)
	}
	return nil
}

// ListCandidates returns the full catalog in insertion order.
func (s *SQLiteStorage) ListCandidates(ctx context.Context) ([]model.CandidateItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, owner_id, window_start, window_end, budget
		FROM candidates
		ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []model.CandidateItem
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}
	return candidates, nil
}

// GetCandidate returns one catalog item by id, or sql.ErrNoRows wrapped
// when it does not exist.
func (s *SQLiteStorage) GetCandidate(ctx context.Context, id string) (*model.CandidateItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, owner_id, window_start, window_end, budget
		FROM candidates
		WHERE id = ?`, id)

	c, err := scanCandidate(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get candidate %q: %w", id, err)
	}
	return &c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row rowScanner) (model.CandidateItem, error) {
	var c model.CandidateItem
	var start, end time.Time
	if err := row.Scan(&c.ID, &c.Title, &c.Description, &c.OwnerID, &start, &end, &c.Budget); err != nil {
		return model.CandidateItem{}, fmt.Errorf("failed to scan candidate: %w", err)
	}
	c.WindowStart = start.UTC()
	c.WindowEnd = end.UTC()
	return c, nil
}
