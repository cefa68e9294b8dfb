// Package auditlog persists run history to SQLite.
//
// Every run writes one row to runs, one task_events row per applied result
// and the final feature statuses to feature_outcomes. The store doubles as
// the query surface for the audit CLI: recent runs, per-run events and full
// run exports.
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ferrolane/guild/internal/models"
)

// Store manages the SQLite database holding run history.
type Store struct {
	db     *sql.DB
	dbPath string
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	Project    string        `json:"project"`
	Features   int           `json:"features"`
	Tasks      int           `json:"tasks"`
	Status     string        `json:"status"`
	Cause      string        `json:"cause,omitempty"`
	Iterations int           `json:"iterations"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// RunExport bundles everything recorded about one run for JSON export.
type RunExport struct {
	Run      RunSummary              `json:"run"`
	Features []models.FeatureOutcome `json:"features"`
	Records  []models.TaskRecord     `json:"records"`
}

// NewStore creates a new Store instance and initializes the database.
func NewStore(dbPath string) (*Store, error) {
	// Handle in-memory database
	if dbPath == ":memory:" {
		return openAndInitStore(dbPath)
	}

	// Ensure parent directory exists for file-based databases
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	return openAndInitStore(dbPath)
}

// openAndInitStore opens the database connection and initializes the schema.
func openAndInitStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Configure SQLite for concurrent access with retry logic.
	// Set busy_timeout FIRST so subsequent operations wait on locks.
	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	store := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

// execWithRetry executes a SQL statement with exponential backoff retry on
// lock errors.
func execWithRetry(db *sql.DB, query string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(query)
		if err == nil {
			return nil
		}

		// Only retry on "database is locked" errors
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}

		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// MarkAbandonedRuns flags unfinished runs left behind by a dead process and
// returns how many rows it touched. Only the run lock holder may call this:
// the lock serializes runs per workspace, so under it any unfinished row
// belongs to a process that never reached FinishRun. Read-only consumers
// must not sweep, or they would abandon a run that is still live.
func (s *Store) MarkAbandonedRuns() (int64, error) {
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, cause = 'interrupted' WHERE finished_at IS NULL`,
		string(models.ProjectAbandoned),
	)
	if err != nil {
		return 0, fmt.Errorf("update unfinished runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// tableExists checks if a table exists in the database
func (s *Store) tableExists(tableName string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
	err := s.db.QueryRow(query, tableName).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check table existence: %w", err)
	}
	return count > 0, nil
}

// indexExists checks if an index exists in the database
func (s *Store) indexExists(indexName string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?`
	err := s.db.QueryRow(query, indexName).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check index existence: %w", err)
	}
	return count > 0, nil
}

// BeginRun records the start of a run.
func (s *Store) BeginRun(runID string, p *models.Project, startedAt time.Time) error {
	if p == nil {
		return fmt.Errorf("project cannot be nil")
	}

	query := `INSERT INTO runs (run_id, project, features, tasks, started_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, runID, p.Name, len(p.Features), len(p.Tasks), startedAt)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", runID, err)
	}
	return nil
}

// RecordTask records one applied task result.
func (s *Store) RecordTask(runID string, rec models.TaskRecord) error {
	query := `INSERT INTO task_events
		(run_id, iteration, task_id, capability, feature, attempt, outcome, detail, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		runID,
		rec.Iteration,
		rec.TaskID,
		rec.Capability,
		rec.Feature,
		rec.Attempt,
		string(rec.Outcome),
		rec.Detail,
		rec.Duration.Seconds(),
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert task event %s: %w", rec.TaskID, err)
	}
	return nil
}

// FinishRun records the final report for a run.
func (s *Store) FinishRun(runID string, report *models.RunReport) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin finish transaction: %w", err)
	}
	defer tx.Rollback()

	query := `UPDATE runs SET
		status = ?, cause = ?, iterations = ?,
		succeeded = ?, failed = ?, skipped = ?,
		finished_at = ?, duration_seconds = ?
		WHERE run_id = ?`

	res, err := tx.Exec(query,
		string(report.Status),
		report.Cause,
		report.Iterations,
		report.Succeeded,
		report.Failed,
		report.Skipped,
		time.Now(),
		report.Duration.Seconds(),
		runID,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s was never recorded", runID)
	}

	for _, f := range report.Features {
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO feature_outcomes (run_id, feature, status, reason) VALUES (?, ?, ?, ?)`,
			runID, f.Name, string(f.Status), f.Reason,
		)
		if err != nil {
			return fmt.Errorf("insert feature outcome %s: %w", f.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finish: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT run_id, project, features, tasks, status, cause, iterations,
		succeeded, failed, skipped, started_at, finished_at, duration_seconds
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Run returns one run by id. Short unique prefixes are accepted.
func (s *Store) Run(runID string) (*RunSummary, error) {
	query := `SELECT run_id, project, features, tasks, status, cause, iterations,
		succeeded, failed, skipped, started_at, finished_at, duration_seconds
		FROM runs WHERE run_id LIKE ? ORDER BY started_at DESC`

	rows, err := s.db.Query(query, runID+"%")
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", runID, err)
	}
	defer rows.Close()

	var matches []RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("run %s not found", runID)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("run prefix %s is ambiguous (%d matches)", runID, len(matches))
	}
}

// TaskEvents returns the applied results for one run in application order.
func (s *Store) TaskEvents(runID string) ([]models.TaskRecord, error) {
	query := `SELECT iteration, task_id, capability, feature, attempt, outcome, detail, duration_seconds, created_at
		FROM task_events WHERE run_id = ? ORDER BY id ASC`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("query task events: %w", err)
	}
	defer rows.Close()

	var records []models.TaskRecord
	for rows.Next() {
		var (
			rec     models.TaskRecord
			outcome string
			detail  sql.NullString
			seconds float64
		)
		err := rows.Scan(&rec.Iteration, &rec.TaskID, &rec.Capability, &rec.Feature,
			&rec.Attempt, &outcome, &detail, &seconds, &rec.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		rec.Outcome = models.Outcome(outcome)
		rec.Detail = detail.String
		rec.Duration = time.Duration(seconds * float64(time.Second))
		records = append(records, rec)
	}
	return records, rows.Err()
}

// FeatureOutcomes returns the recorded feature statuses for one run.
func (s *Store) FeatureOutcomes(runID string) ([]models.FeatureOutcome, error) {
	query := `SELECT feature, status, reason FROM feature_outcomes WHERE run_id = ? ORDER BY feature ASC`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("query feature outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []models.FeatureOutcome
	for rows.Next() {
		var (
			f      models.FeatureOutcome
			status string
		)
		if err := rows.Scan(&f.Name, &status, &f.Reason); err != nil {
			return nil, fmt.Errorf("scan feature outcome: %w", err)
		}
		f.Status = models.FeatureStatus(status)
		outcomes = append(outcomes, f)
	}
	return outcomes, rows.Err()
}

// Export assembles the full record of one run.
func (s *Store) Export(runID string) (*RunExport, error) {
	run, err := s.Run(runID)
	if err != nil {
		return nil, err
	}

	features, err := s.FeatureOutcomes(run.RunID)
	if err != nil {
		return nil, err
	}

	records, err := s.TaskEvents(run.RunID)
	if err != nil {
		return nil, err
	}

	return &RunExport{Run: *run, Features: features, Records: records}, nil
}

// scanRun reads one RunSummary row.
func scanRun(rows *sql.Rows) (RunSummary, error) {
	var (
		run      RunSummary
		finished sql.NullTime
		seconds  float64
	)
	err := rows.Scan(&run.RunID, &run.Project, &run.Features, &run.Tasks,
		&run.Status, &run.Cause, &run.Iterations,
		&run.Succeeded, &run.Failed, &run.Skipped,
		&run.StartedAt, &finished, &seconds)
	if err != nil {
		return RunSummary{}, fmt.Errorf("scan run: %w", err)
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	run.Duration = time.Duration(seconds * float64(time.Second))
	return run, nil
}
