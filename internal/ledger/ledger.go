// Package ledger keeps a local SQLite journal of migration runs and their
// per-issue results. The journal is informational: the MigrationTag on the
// target stays the only idempotency key.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/mantis2ado/mantis2ado/internal/tracker"
)

// ErrNoRuns is returned when the ledger has no matching run.
var ErrNoRuns = errors.New("no previous migration run recorded")

// Ledger is a run journal backed by a SQLite file.
type Ledger struct {
	db  *sqlx.DB
	now func() time.Time
}

// RunInfo describes a run when it starts.
type RunInfo struct {
	Organization string
	Project      string
	Source       string // export path or "mysql"
	DryRun       bool
	ForceUpdate  bool
}

// Run is one recorded migration run.
type Run struct {
	ID           string     `db:"id"`
	Organization string     `db:"organization"`
	Project      string     `db:"project"`
	Source       string     `db:"source"`
	DryRun       bool       `db:"dry_run"`
	ForceUpdate  bool       `db:"force_update"`
	StartedAt    time.Time  `db:"started_at"`
	FinishedAt   *time.Time `db:"finished_at"`
	Canceled     bool       `db:"canceled"`

	Created             int `db:"created"`
	Updated             int `db:"updated"`
	Skipped             int `db:"skipped"`
	Failed              int `db:"failed"`
	CommentsAdded       int `db:"comments_added"`
	MetadataAdded       int `db:"metadata_added"`
	AttachmentsUploaded int `db:"attachments_uploaded"`
	AttachmentsSkipped  int `db:"attachments_skipped"`
	AttachmentsFailed   int `db:"attachments_failed"`
}

// Finished reports whether the run recorded its summary.
func (r *Run) Finished() bool {
	return r.FinishedAt != nil
}

// Result is one recorded issue outcome.
type Result struct {
	RunID               string    `db:"run_id"`
	LegacyID            int       `db:"legacy_id"`
	WorkItemID          int       `db:"work_item_id"`
	Route               string    `db:"route"`
	Outcome             string    `db:"outcome"`
	Stage               string    `db:"stage"`
	Kind                string    `db:"kind"`
	Error               string    `db:"error"`
	CommentsAdded       int       `db:"comments_added"`
	AttachmentsUploaded int       `db:"attachments_uploaded"`
	AttachmentsFailed   int       `db:"attachments_failed"`
	RecordedAt          time.Time `db:"recorded_at"`
}

// Open opens (or creates) the ledger at path and applies pending
// schema migrations.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", strings.TrimPrefix(pragma, "PRAGMA "), err)
		}
	}

	l := &Ledger{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := l.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running ledger migrations: %w", err)
	}
	return l, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (l *Ledger) runMigrations() error {
	current := 0

	var tableCount int
	err := l.db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := l.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := l.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// StartRun records the start of a run and returns its ID.
func (l *Ledger) StartRun(ctx context.Context, info RunInfo) (*Run, error) {
	run := &Run{
		ID:           uuid.New().String(),
		Organization: info.Organization,
		Project:      info.Project,
		Source:       info.Source,
		DryRun:       info.DryRun,
		ForceUpdate:  info.ForceUpdate,
		StartedAt:    l.now(),
	}
	_, err := l.db.NamedExecContext(ctx, `
		INSERT INTO runs (id, organization, project, source, dry_run, force_update, started_at)
		VALUES (:id, :organization, :project, :source, :dry_run, :force_update, :started_at)`, run)
	if err != nil {
		return nil, fmt.Errorf("recording run start: %w", err)
	}
	return run, nil
}

// RecordIssue stores one issue result for run. Recording the same issue
// twice in a run keeps the latest result.
func (l *Ledger) RecordIssue(ctx context.Context, runID string, r *tracker.IssueResult) error {
	res := Result{
		RunID:               runID,
		LegacyID:            r.LegacyID,
		WorkItemID:          r.WorkItemID,
		Route:               string(r.Route),
		Outcome:             string(r.Outcome),
		Stage:               string(r.Stage()),
		CommentsAdded:       r.CommentsAdded,
		AttachmentsUploaded: r.AttachmentsUploaded,
		AttachmentsFailed:   r.AttachmentsFailed,
		RecordedAt:          l.now(),
	}
	if r.Failed() {
		res.Kind = string(r.Kind())
		res.Error = r.Err().Error()
	}
	_, err := l.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO issue_results (
			run_id, legacy_id, work_item_id, route, outcome, stage, kind, error,
			comments_added, attachments_uploaded, attachments_failed, recorded_at
		) VALUES (
			:run_id, :legacy_id, :work_item_id, :route, :outcome, :stage, :kind, :error,
			:comments_added, :attachments_uploaded, :attachments_failed, :recorded_at
		)`, res)
	if err != nil {
		return fmt.Errorf("recording result for Mantis-%d: %w", r.LegacyID, err)
	}
	return nil
}

// FinishRun stores the run summary.
func (l *Ledger) FinishRun(ctx context.Context, runID string, s *tracker.RunSummary) error {
	finished := s.FinishedAt
	if finished.IsZero() {
		finished = l.now()
	}
	res, err := l.db.ExecContext(ctx, `
		UPDATE runs SET
			finished_at = ?, canceled = ?,
			created = ?, updated = ?, skipped = ?, failed = ?,
			comments_added = ?, metadata_added = ?,
			attachments_uploaded = ?, attachments_skipped = ?, attachments_failed = ?
		WHERE id = ?`,
		finished.UTC(), s.Canceled,
		s.Created, s.Updated, s.Skipped, s.Failed,
		s.CommentsAdded, s.MetadataAdded,
		s.AttachmentsUploaded, s.AttachmentsSkipped, s.AttachmentsFailed,
		runID)
	if err != nil {
		return fmt.Errorf("recording run summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNoRuns)
	}
	return nil
}

// Runs returns the most recent runs for a target, newest first. An empty
// organization or project matches any.
func (l *Ledger) Runs(ctx context.Context, organization, project string, limit int) ([]Run, error) {
	query, args := runQuery(organization, project, false)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	var runs []Run
	if err := l.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// LastRun returns the newest run that wrote to the target, skipping dry
// runs. ErrNoRuns when there is none.
func (l *Ledger) LastRun(ctx context.Context, organization, project string) (*Run, error) {
	query, args := runQuery(organization, project, true)
	var run Run
	err := l.db.GetContext(ctx, &run, query+" LIMIT 1", args...)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNoRuns
		}
		return nil, fmt.Errorf("reading last run: %w", err)
	}
	return &run, nil
}

// Results returns the recorded issue results of a run in legacy ID order.
func (l *Ledger) Results(ctx context.Context, runID string) ([]Result, error) {
	var results []Result
	err := l.db.SelectContext(ctx, &results,
		"SELECT * FROM issue_results WHERE run_id = ? ORDER BY legacy_id", runID)
	if err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}
	return results, nil
}

// FailedIDs returns the legacy IDs that failed in the last non-dry run
// against the target, as an allow list for a retry.
func (l *Ledger) FailedIDs(ctx context.Context, organization, project string) (map[int]bool, *Run, error) {
	run, err := l.LastRun(ctx, organization, project)
	if err != nil {
		return nil, nil, err
	}
	var ids []int
	err = l.db.SelectContext(ctx, &ids,
		"SELECT legacy_id FROM issue_results WHERE run_id = ? AND outcome = ? ORDER BY legacy_id",
		run.ID, string(tracker.OutcomeFailed))
	if err != nil {
		return nil, nil, fmt.Errorf("reading failed issues: %w", err)
	}
	only := make(map[int]bool, len(ids))
	for _, id := range ids {
		only[id] = true
	}
	return only, run, nil
}

// History returns every recorded result for one legacy issue, newest first.
func (l *Ledger) History(ctx context.Context, legacyID int) ([]Result, error) {
	var results []Result
	err := l.db.SelectContext(ctx, &results,
		"SELECT * FROM issue_results WHERE legacy_id = ? ORDER BY recorded_at DESC", legacyID)
	if err != nil {
		return nil, fmt.Errorf("reading history for Mantis-%d: %w", legacyID, err)
	}
	return results, nil
}

func runQuery(organization, project string, writesOnly bool) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	if organization != "" {
		conditions = append(conditions, "LOWER(organization) = LOWER(?)")
		args = append(args, organization)
	}
	if project != "" {
		conditions = append(conditions, "LOWER(project) = LOWER(?)")
		args = append(args, project)
	}
	if writesOnly {
		conditions = append(conditions, "dry_run = 0")
	}
	query := "SELECT * FROM runs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	return query + " ORDER BY started_at DESC, rowid DESC", args
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
