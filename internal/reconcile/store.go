// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package reconcile maintains the one-to-one mapping between neurostore
// base-study ids and ns-pond ids, and verifies it against ns-pond in
// batches. Detected divergence is recorded as a conflict and never resolved
// by overwriting either side.
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/neurostuff/ingest-engine/pkg/types"
)

// Store manages the identifier mapping table. Both id columns are unique,
// so the one-to-one invariant is enforced at the schema level as well.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the mapping database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("mapping db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating mapping directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening mapping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating mapping schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	_, err := s.db.Exec(
		`CREATE TABLE IF NOT EXISTS identifier_mappings (
			neurostore_id TEXT PRIMARY KEY,
			pond_id TEXT NOT NULL UNIQUE,
			sync_status TEXT NOT NULL,
			last_verified TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("executing schema statement: %w", err)
	}
	return nil
}

// Get returns the mapping for a neurostore id. The second return value
// reports whether a mapping exists.
func (s *Store) Get(ctx context.Context, id types.NeurostoreStudyID) (types.IdentifierMapping, bool, error) {
	return s.get(ctx, `SELECT neurostore_id, pond_id, sync_status, last_verified
		FROM identifier_mappings WHERE neurostore_id = ?`, string(id))
}

// GetByPond returns the mapping that owns a pond id, if any.
func (s *Store) GetByPond(ctx context.Context, id types.PondID) (types.IdentifierMapping, bool, error) {
	return s.get(ctx, `SELECT neurostore_id, pond_id, sync_status, last_verified
		FROM identifier_mappings WHERE pond_id = ?`, string(id))
}

func (s *Store) get(ctx context.Context, query, arg string) (types.IdentifierMapping, bool, error) {
	var m types.IdentifierMapping
	var nsID, pondID, status, verified string

	err := s.db.QueryRowContext(ctx, query, arg).Scan(&nsID, &pondID, &status, &verified)
	if errors.Is(err, sql.ErrNoRows) {
		return m, false, nil
	}
	if err != nil {
		return m, false, fmt.Errorf("querying mapping: %w", err)
	}

	m.NeurostoreID = types.NeurostoreStudyID(nsID)
	m.PondID = types.PondID(pondID)
	m.Status = types.SyncStatus(status)
	if t, err := time.Parse(time.RFC3339Nano, verified); err == nil {
		m.LastVerified = t
	}
	return m, true, nil
}

// Create records a new mapping with status ok. The unique constraints make
// a duplicate neurostore or pond id an error rather than an overwrite.
func (s *Store) Create(ctx context.Context, nsID types.NeurostoreStudyID, pondID types.PondID) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identifier_mappings (neurostore_id, pond_id, sync_status, last_verified)
		 VALUES (?, ?, ?, ?)`,
		string(nsID), string(pondID), types.SyncOK, now)
	if err != nil {
		return fmt.Errorf("creating mapping %s -> %s: %w", nsID, pondID, err)
	}
	return nil
}

// MarkVerified refreshes the verification timestamp of an existing mapping.
// The pond id and status are left as they are.
func (s *Store) MarkVerified(ctx context.Context, nsID types.NeurostoreStudyID) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE identifier_mappings SET last_verified = ? WHERE neurostore_id = ?`,
		now, string(nsID))
	if err != nil {
		return fmt.Errorf("marking mapping %s verified: %w", nsID, err)
	}
	return nil
}

// MarkConflict flags a mapping as conflicted. The recorded pond id is kept
// untouched; resolution is an operator decision.
func (s *Store) MarkConflict(ctx context.Context, nsID types.NeurostoreStudyID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE identifier_mappings SET sync_status = ? WHERE neurostore_id = ?`,
		types.SyncConflict, string(nsID))
	if err != nil {
		return fmt.Errorf("marking mapping %s conflicted: %w", nsID, err)
	}
	return nil
}

// Conflicts lists all mappings currently flagged as conflicted.
func (s *Store) Conflicts(ctx context.Context) ([]types.IdentifierMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT neurostore_id, pond_id, sync_status, last_verified
		 FROM identifier_mappings WHERE sync_status = ? ORDER BY neurostore_id`,
		types.SyncConflict)
	if err != nil {
		return nil, fmt.Errorf("querying conflicts: %w", err)
	}
	defer rows.Close()

	var mappings []types.IdentifierMapping
	for rows.Next() {
		var nsID, pondID, status, verified string
		if err := rows.Scan(&nsID, &pondID, &status, &verified); err != nil {
			return nil, fmt.Errorf("scanning conflict row: %w", err)
		}
		m := types.IdentifierMapping{
			NeurostoreID: types.NeurostoreStudyID(nsID),
			PondID:       types.PondID(pondID),
			Status:       types.SyncStatus(status),
		}
		if t, err := time.Parse(time.RFC3339Nano, verified); err == nil {
			m.LastVerified = t
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}
