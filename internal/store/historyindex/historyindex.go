// Package historyindex maintains a read-only SQLite projection of the
// state document's append-only history log, purely so the CLI's
// status/history reporting can run filtered, aggregated queries without
// re-parsing the whole JSON document on every call (spec §4.9). It is never
// a second writer of truth: the JSON document written under the state lock
// (internal/store) remains authoritative, and the index is always safe to
// delete and rebuild from it.
package historyindex

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"

	"github.com/dotcommander/storyforge/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Index is the SQLite-backed history mirror.
type Index struct {
	db *sql.DB
}

// Open opens (creating if necessary) the history index database under root
// and applies any pending goose migrations.
func Open(root string) (*Index, error) {
	path := filepath.Join(root, "history_index.db")
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history index: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return nil, fmt.Errorf("apply history index migrations: %w", err)
	}

	return &Index{db: db}, nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error { return idx.db.Close() }

// Rebuild truncates the index and replays every history entry from every
// story in doc, in per-story order. Safe to call at any time; it is how the
// orchestrator recovers from a missing or stale index at startup.
func (idx *Index) Rebuild(ctx context.Context, stories map[string]*models.Story) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history_entries`); err != nil {
		return fmt.Errorf("truncate history index: %w", err)
	}

	for storyID, story := range stories {
		for _, entry := range story.History {
			if err := insertEntry(ctx, tx, storyID, entry); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// Append mirrors a single newly-appended history entry. The scheduler calls
// it for entries it has not yet mirrored and ignores a returned error; a
// failure here is never fatal, since the index is a derived convenience, not
// a source of truth.
func (idx *Index) Append(ctx context.Context, storyID string, entry models.HistoryEntry) error {
	_, err := idx.db.ExecContext(ctx, insertSQL,
		storyID, stepIDOrNil(entry.StepID), entry.WorkerID, string(entry.Action), detailsJSON(entry.Details), entry.Timestamp)
	if err != nil {
		return fmt.Errorf("append history index entry: %w", err)
	}
	return nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, storyID string, entry models.HistoryEntry) error {
	_, err := tx.ExecContext(ctx, insertSQL,
		storyID, stepIDOrNil(entry.StepID), entry.WorkerID, string(entry.Action), detailsJSON(entry.Details), entry.Timestamp)
	if err != nil {
		return fmt.Errorf("insert history index entry: %w", err)
	}
	return nil
}

const insertSQL = `
	INSERT INTO history_entries (story_id, step_id, worker_id, action, details, occurred_at)
	VALUES (?, ?, ?, ?, ?, ?)
`

func stepIDOrNil(id *int) any {
	if id == nil {
		return nil
	}
	return *id
}

func detailsJSON(d map[string]string) string {
	if len(d) == 0 {
		return "{}"
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Row is one record returned by a history query.
type Row struct {
	StoryID    string    `json:"story_id"`
	StepID     *int      `json:"step_id"`
	WorkerID   string    `json:"worker_id"`
	Action     string    `json:"action"`
	Details    string    `json:"details"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Query filters the history index by story ID and/or action tag
// (either may be empty to mean "any"), most recent first, bounded by limit.
func (idx *Index) Query(ctx context.Context, storyID, action string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT story_id, step_id, worker_id, action, details, occurred_at FROM history_entries WHERE 1=1`
	var args []any
	if storyID != "" {
		query += ` AND story_id = ?`
		args = append(args, storyID)
	}
	if action != "" {
		query += ` AND action = ?`
		args = append(args, action)
	}
	query += ` ORDER BY occurred_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := idx.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history index: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Row
	for rows.Next() {
		var r Row
		var stepID sql.NullInt64
		if err := rows.Scan(&r.StoryID, &stepID, &r.WorkerID, &r.Action, &r.Details, &r.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan history index row: %w", err)
		}
		if stepID.Valid {
			v := int(stepID.Int64)
			r.StepID = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
