// Package journal records terminal command outcomes per device, giving
// operators a queryable history of what the bridge was asked to do and
// how each request ended.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultRetention is how long entries are kept before Prune removes
// them.
const DefaultRetention = 30 * 24 * time.Hour

// Entry is a single journalled command outcome.
type Entry struct {
	ID        string
	Serial    string         // device serial, colon form
	Command   string         // set_power, set_color, refresh, remove, ...
	CommandID string         // client correlation ID, may be empty
	Outcome   string         // confirmed, rejected, unreachable, cancelled, failed
	Detail    map[string]any // attempts, elapsed_ms, error code, ...
	CreatedAt time.Time
}

// Filter controls which entries List returns.
type Filter struct {
	Serial  string // optional: restrict to one device
	Command string // optional: restrict to one command name
	Outcome string // optional: restrict to one outcome
	Limit   int    // default 50, max 200
	Offset  int    // pagination offset
}

// ListResult contains the paginated journal results.
type ListResult struct {
	Entries []Entry
	Total   int
	Limit   int
	Offset  int
}

// Recorder defines the interface for journal operations.
type Recorder interface {
	Record(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRecorder persists journal entries in SQLite.
type SQLiteRecorder struct {
	db *sql.DB
}

// Ensure SQLiteRecorder implements Recorder.
var _ Recorder = (*SQLiteRecorder)(nil)

// NewSQLiteRecorder creates a journal recorder. The db parameter should
// be an open SQLite connection with the command_journal migration
// applied.
func NewSQLiteRecorder(db *sql.DB) *SQLiteRecorder {
	return &SQLiteRecorder{db: db}
}

// Record inserts a journal entry. The ID and CreatedAt are generated if
// empty.
func (r *SQLiteRecorder) Record(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = "jnl-" + uuid.NewString()[:8]
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var detailJSON *string
	if entry.Detail != nil {
		b, err := json.Marshal(entry.Detail)
		if err != nil {
			return fmt.Errorf("marshalling journal detail: %w", err)
		}
		s := string(b)
		detailJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_journal (id, serial, command, command_id, outcome, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Serial, entry.Command,
		nullableString(entry.CommandID), entry.Outcome, detailJSON,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRecorder) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.Serial != "" {
		conditions = append(conditions, "serial = ?")
		args = append(args, filter.Serial)
	}
	if filter.Command != "" {
		conditions = append(conditions, "command = ?")
		args = append(args, filter.Command)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// WHERE is assembled from fixed fragments with ? placeholders; the
	// filter values never enter the SQL string.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM command_journal %s", where)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}

	query := fmt.Sprintf(
		"SELECT id, serial, command, command_id, outcome, detail, created_at FROM command_journal %s ORDER BY created_at DESC, id LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var commandID, detailJSON sql.NullString

		if err := rows.Scan(&e.ID, &e.Serial, &e.Command,
			&commandID, &e.Outcome, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}

		if commandID.Valid {
			e.CommandID = commandID.String
		}
		if detailJSON.Valid && detailJSON.String != "" {
			var detail map[string]any
			if json.Unmarshal([]byte(detailJSON.String), &detail) == nil {
				e.Detail = detail
			}
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}

	if entries == nil {
		entries = []Entry{}
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// Prune deletes entries created before the cutoff and reports how many
// went.
func (r *SQLiteRecorder) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM command_journal WHERE created_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	return removed, nil
}
