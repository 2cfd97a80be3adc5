package backend

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed history_schema.sql
var historySchemaSQL string

// historySchemaVersion is bumped when history_schema.sql changes.
const historySchemaVersion = 1

// ErrSchemaMismatch indicates the history database was written by a different schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// RunKind names what a recorded run did.
type RunKind string

const (
	RunScan   RunKind = "scan"
	RunMatch  RunKind = "match"
	RunDedupe RunKind = "dedupe"
)

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID         string    `json:"id"`
	Kind       RunKind   `json:"kind"`
	Root       string    `json:"root"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Items is the number of tracks considered; Accepted the matches or removals decided.
	Items    int    `json:"items"`
	Accepted int    `json:"accepted"`
	Failures int    `json:"failures"`
	Note     string `json:"note,omitempty"`
}

// DuplicateAction records what happened to a duplicate removal.
type DuplicateAction string

const (
	ActionReported    DuplicateAction = "reported"
	ActionQuarantined DuplicateAction = "quarantined"
	ActionDeleted     DuplicateAction = "deleted"
)

// DuplicateRow is one removal decision stored with a dedupe run.
type DuplicateRow struct {
	AlbumKey    string          `json:"album_key"`
	Cluster     int             `json:"cluster"`
	KeeperPath  string          `json:"keeper_path"`
	RemovalPath string          `json:"removal_path"`
	Action      DuplicateAction `json:"action"`
}

// MatchRow is one accepted match stored with a match run.
type MatchRow struct {
	MetadataID string `json:"metadata_id"`
	Title      string `json:"title"`
	Provider   string `json:"provider"`
	TrackID    string `json:"track_id"`
	AlbumID    string `json:"album_id"`
	Score      int    `json:"score"`
}

// History persists run summaries in SQLite.
type History struct {
	db   *sql.DB
	path string
}

// historyTimeFormat is fixed-width so timestamps sort as text.
const historyTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// OpenHistory opens (creating if needed) the history database at path.
func OpenHistory(path string) (*History, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	h := &History{db: db, path: path}
	if err := h.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

// Close closes the underlying database connection.
func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

// Path returns the database file location.
func (h *History) Path() string { return h.path }

func (h *History) initSchema(ctx context.Context) error {
	var tableExists int
	err := h.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return h.createSchema(ctx)
	}

	var version int
	if err := h.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != historySchemaVersion {
		return fmt.Errorf("%w: history database has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, historySchemaVersion, h.path)
	}
	return nil
}

func (h *History) createSchema(ctx context.Context) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, historySchemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", historySchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// RecordRun stores a run with its match and duplicate rows in one
// transaction. An empty run.ID is assigned a new UUID, which is returned.
func (h *History) RecordRun(ctx context.Context, run RunRecord, matches []MatchRow, duplicates []DuplicateRow) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Kind == "" {
		return "", fmt.Errorf("run kind is required")
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = run.FinishedAt
	}

	err := retryOnBusy(ctx, func() error {
		tx, err := h.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin run tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO runs (id, kind, root, started_at, finished_at, items, accepted, failures, note)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, string(run.Kind), run.Root,
			run.StartedAt.UTC().Format(historyTimeFormat), run.FinishedAt.UTC().Format(historyTimeFormat),
			run.Items, run.Accepted, run.Failures, nullableString(run.Note),
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		for _, m := range matches {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO matches (run_id, metadata_id, title, provider, track_id, album_id, score)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				run.ID, m.MetadataID, m.Title, m.Provider, m.TrackID, m.AlbumID, m.Score,
			); err != nil {
				return fmt.Errorf("insert match: %w", err)
			}
		}
		for _, d := range duplicates {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO duplicates (run_id, album_key, cluster, keeper_path, removal_path, action)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				run.ID, d.AlbumKey, d.Cluster, d.KeeperPath, d.RemovalPath, string(d.Action),
			); err != nil {
				return fmt.Errorf("insert duplicate: %w", err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all runs.
func (h *History) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `SELECT id, kind, root, started_at, finished_at, items, accepted, failures, note
		FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			run                 RunRecord
			kind                string
			startedRaw, doneRaw string
			note                sql.NullString
		)
		if err := rows.Scan(&run.ID, &kind, &run.Root, &startedRaw, &doneRaw,
			&run.Items, &run.Accepted, &run.Failures, &note); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Kind = RunKind(kind)
		run.StartedAt = parseTimestamp(startedRaw)
		run.FinishedAt = parseTimestamp(doneRaw)
		run.Note = note.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Matches returns the match rows of a run ordered by score.
func (h *History) Matches(ctx context.Context, runID string) ([]MatchRow, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT metadata_id, COALESCE(title, ''), COALESCE(provider, ''), COALESCE(track_id, ''), COALESCE(album_id, ''), score
		 FROM matches WHERE run_id = ? ORDER BY score DESC, metadata_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var out []MatchRow
	for rows.Next() {
		var m MatchRow
		if err := rows.Scan(&m.MetadataID, &m.Title, &m.Provider, &m.TrackID, &m.AlbumID, &m.Score); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Duplicates returns the duplicate rows of a run in cluster order.
func (h *History) Duplicates(ctx context.Context, runID string) ([]DuplicateRow, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT album_key, cluster, keeper_path, removal_path, action
		 FROM duplicates WHERE run_id = ? ORDER BY album_key, cluster, removal_path`, runID)
	if err != nil {
		return nil, fmt.Errorf("list duplicates: %w", err)
	}
	defer rows.Close()

	var out []DuplicateRow
	for rows.Next() {
		var (
			d      DuplicateRow
			action string
		)
		if err := rows.Scan(&d.AlbumKey, &d.Cluster, &d.KeeperPath, &d.RemovalPath, &action); err != nil {
			return nil, fmt.Errorf("scan duplicate: %w", err)
		}
		d.Action = DuplicateAction(action)
		out = append(out, d)
	}
	return out, rows.Err()
}

// MatchRows flattens a match run for RecordRun.
func MatchRows(run MatchRun) []MatchRow {
	out := make([]MatchRow, 0, len(run.Matches))
	for _, m := range run.Matches {
		out = append(out, MatchRow{
			MetadataID: m.Target.MetadataID,
			Title:      m.Target.Title,
			Provider:   m.Candidate.Provider,
			TrackID:    m.Candidate.TrackID,
			AlbumID:    m.AlbumID,
			Score:      m.Score,
		})
	}
	return out
}

// DuplicateRows flattens duplicate reports for RecordRun. actions maps a
// removal path to what was done with it; missing paths are "reported".
func DuplicateRows(reports []DuplicateReport, actions map[string]DuplicateAction) []DuplicateRow {
	var out []DuplicateRow
	for _, report := range reports {
		for i, cluster := range report.Clusters {
			for _, removal := range cluster.Removals {
				action, ok := actions[removal.Path]
				if !ok {
					action = ActionReported
				}
				out = append(out, DuplicateRow{
					AlbumKey:    report.AlbumKey,
					Cluster:     i,
					KeeperPath:  cluster.Keeper.Path,
					RemovalPath: removal.Path,
					Action:      action,
				})
			}
		}
	}
	return out
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func parseTimestamp(raw string) time.Time {
	t, err := time.Parse(historyTimeFormat, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
