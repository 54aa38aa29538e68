// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package track persists per-candidate pipeline state in SQLite and makes
// re-running the orchestrator safe: already-completed or terminally failed
// candidates are never handed out again.
package track

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/neurostuff/ingest-engine/pkg/types"
)

const defaultRetryLimit = 3

// ErrNotFound is returned when a candidate has no pipeline record.
var ErrNotFound = errors.New("pipeline record not found")

// Store manages the pipeline record database. Updates to one candidate run
// inside their own transaction; unrelated candidates proceed independently.
type Store struct {
	db         *sql.DB
	retryLimit int
}

// Outcome describes one stage attempt for one candidate.
type Outcome struct {
	Succeeded bool

	// Reason describes the failure when Succeeded is false.
	Reason string
}

// NewStore opens or creates the pipeline record database at cfg.DBPath,
// creating the schema if needed.
func NewStore(cfg types.TrackerConfig) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("tracker db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating tracker directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening tracker database: %w", err)
	}

	retryLimit := cfg.RetryLimit
	if retryLimit <= 0 {
		retryLimit = defaultRetryLimit
	}

	s := &Store{db: db, retryLimit: retryLimit}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tracker schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RetryLimit returns the configured per-stage retry budget.
func (s *Store) RetryLimit() int {
	return s.retryLimit
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_records (
			candidate_id TEXT PRIMARY KEY,
			candidate TEXT NOT NULL,
			source TEXT,
			title TEXT,
			highest_stage TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			failed_stage TEXT,
			failure_reason TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_attempt TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_stage ON pipeline_records(highest_stage, status)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Register creates records for candidates on first sighting. Candidates
// already on record are left untouched, so registration is idempotent.
func (s *Store) Register(ctx context.Context, candidates []types.StudyCandidate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO pipeline_records
		 (candidate_id, candidate, source, title, highest_stage, status)
		 VALUES (?, ?, ?, ?, '', ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candidates {
		blob, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encoding candidate %s: %w", c.HashID(), err)
		}
		if _, err := stmt.ExecContext(ctx, c.HashID(), string(blob), c.Source, c.Title, types.StatusInProgress); err != nil {
			return fmt.Errorf("registering candidate %s: %w", c.HashID(), err)
		}
	}
	return tx.Commit()
}

// Pending returns candidates whose highest completed stage is the immediate
// predecessor of stage and whose status is not terminal, in registration
// order. Completed and failed-at-stage candidates are never returned.
func (s *Store) Pending(ctx context.Context, stage types.Stage) ([]types.PipelineRecord, error) {
	if stage.Index() < 0 {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT candidate_id, candidate, source, title, highest_stage, status,
		        COALESCE(failed_stage, ''), COALESCE(failure_reason, ''),
		        retry_count, COALESCE(last_attempt, '')
		 FROM pipeline_records
		 WHERE highest_stage = ? AND status = ?
		 ORDER BY rowid`,
		string(stage.Pred()), types.StatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("querying pending records: %w", err)
	}
	defer rows.Close()

	var records []types.PipelineRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns the record for one candidate, or ErrNotFound.
func (s *Store) Get(ctx context.Context, candidateID string) (types.PipelineRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT candidate_id, candidate, source, title, highest_stage, status,
		        COALESCE(failed_stage, ''), COALESCE(failure_reason, ''),
		        retry_count, COALESCE(last_attempt, '')
		 FROM pipeline_records WHERE candidate_id = ?`, candidateID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PipelineRecord{}, ErrNotFound
	}
	return rec, err
}

// RecordAttempt records the outcome of one stage attempt. A success at a new
// stage advances the highest completed stage and resets the retry count; a
// success at a stage the candidate already completed (a re-seeded worklist
// replaying discovery, say) only stamps the attempt time, so it never
// reopens a terminal failure or refreshes a retry budget. A failure
// increments the retry count and, once the retry budget is exhausted,
// transitions the candidate to failed-at-stage. A run-canceled outcome only
// stamps the attempt time; it does not count against the budget.
func (s *Store) RecordAttempt(ctx context.Context, candidateID string, stage types.Stage, outcome Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var highest string
	var retryCount int
	err = tx.QueryRowContext(ctx,
		`SELECT highest_stage, retry_count FROM pipeline_records WHERE candidate_id = ?`,
		candidateID).Scan(&highest, &retryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading record %s: %w", candidateID, err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	switch {
	case outcome.Succeeded && stage.Index() <= types.Stage(highest).Index():
		// Replayed stage: the candidate is already past it. Only requeue
		// puts a terminally failed candidate back in the pipeline.
		_, err = tx.ExecContext(ctx,
			`UPDATE pipeline_records SET last_attempt = ? WHERE candidate_id = ?`,
			now, candidateID)

	case outcome.Succeeded:
		status := types.StatusInProgress
		if stage == types.StageSync {
			status = types.StatusCompleted
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE pipeline_records
			 SET highest_stage = ?, status = ?, failed_stage = NULL,
			     failure_reason = NULL, retry_count = 0, last_attempt = ?
			 WHERE candidate_id = ?`,
			string(stage), status, now, candidateID)

	case outcome.Reason == types.ReasonRunCanceled:
		_, err = tx.ExecContext(ctx,
			`UPDATE pipeline_records SET last_attempt = ? WHERE candidate_id = ?`,
			now, candidateID)

	default:
		retryCount++
		status := types.StatusInProgress
		var failedStage any
		if retryCount >= s.retryLimit {
			status = types.StatusFailed
			failedStage = string(stage)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE pipeline_records
			 SET status = ?, failed_stage = ?, failure_reason = ?,
			     retry_count = ?, last_attempt = ?
			 WHERE candidate_id = ?`,
			status, failedStage, outcome.Reason, retryCount, now, candidateID)
	}
	if err != nil {
		return fmt.Errorf("updating record %s: %w", candidateID, err)
	}
	return tx.Commit()
}

// RecordTerminalFailure moves a candidate straight to failed-at-stage,
// bypassing the remaining retry budget.
func (s *Store) RecordTerminalFailure(ctx context.Context, candidateID string, stage types.Stage, reason string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_records
		 SET status = ?, failed_stage = ?, failure_reason = ?, last_attempt = ?
		 WHERE candidate_id = ?`,
		types.StatusFailed, string(stage), reason, now, candidateID)
	if err != nil {
		return fmt.Errorf("recording terminal failure for %s: %w", candidateID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Requeue puts a terminally failed candidate back in progress with a fresh
// retry budget. Requeueing is always an explicit operator action; the engine
// never does it on its own.
func (s *Store) Requeue(ctx context.Context, candidateID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_records
		 SET status = ?, failed_stage = NULL, failure_reason = NULL, retry_count = 0
		 WHERE candidate_id = ? AND status = ?`,
		types.StatusInProgress, candidateID, types.StatusFailed)
	if err != nil {
		return fmt.Errorf("requeueing %s: %w", candidateID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: no terminally failed record to requeue", candidateID)
	}
	return nil
}

// StatusCounts summarizes the tracker contents for reporting.
type StatusCounts struct {
	InProgress int
	Completed  int
	Failed     int

	// ByStage counts in-progress candidates by highest completed stage.
	ByStage map[types.Stage]int

	// FailedByStage counts terminal failures by the stage they failed at.
	FailedByStage map[types.Stage]int
}

// Counts returns candidate totals grouped by status and stage.
func (s *Store) Counts(ctx context.Context) (StatusCounts, error) {
	counts := StatusCounts{
		ByStage:       make(map[types.Stage]int),
		FailedByStage: make(map[types.Stage]int),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, highest_stage, COALESCE(failed_stage, ''), COUNT(*)
		 FROM pipeline_records GROUP BY status, highest_stage, failed_stage`)
	if err != nil {
		return counts, fmt.Errorf("querying status counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, highest, failed string
		var n int
		if err := rows.Scan(&status, &highest, &failed, &n); err != nil {
			return counts, fmt.Errorf("scanning status counts: %w", err)
		}
		switch types.Status(status) {
		case types.StatusCompleted:
			counts.Completed += n
		case types.StatusFailed:
			counts.Failed += n
			counts.FailedByStage[types.Stage(failed)] += n
		default:
			counts.InProgress += n
			counts.ByStage[types.Stage(highest)] += n
		}
	}
	return counts, rows.Err()
}

// Failures lists all terminally failed candidates, oldest first.
func (s *Store) Failures(ctx context.Context) ([]types.PipelineRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT candidate_id, candidate, source, title, highest_stage, status,
		        COALESCE(failed_stage, ''), COALESCE(failure_reason, ''),
		        retry_count, COALESCE(last_attempt, '')
		 FROM pipeline_records WHERE status = ? ORDER BY rowid`,
		types.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("querying failures: %w", err)
	}
	defer rows.Close()

	var records []types.PipelineRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (types.PipelineRecord, error) {
	var rec types.PipelineRecord
	var candidate, highest, status, failedStage, lastAttempt string

	err := sc.Scan(&rec.CandidateID, &candidate, &rec.Source, &rec.Title,
		&highest, &status, &failedStage, &rec.FailureReason,
		&rec.RetryCount, &lastAttempt)
	if err != nil {
		return rec, err
	}

	if err := json.Unmarshal([]byte(candidate), &rec.Candidate); err != nil {
		return rec, fmt.Errorf("decoding candidate %s: %w", rec.CandidateID, err)
	}
	rec.HighestStage = types.Stage(highest)
	rec.Status = types.Status(status)
	rec.FailedStage = types.Stage(failedStage)
	if lastAttempt != "" {
		if t, err := time.Parse(time.RFC3339Nano, lastAttempt); err == nil {
			rec.LastAttempt = t
		}
	}
	return rec, nil
}
