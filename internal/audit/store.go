package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/swcache/internal/db"
	"github.com/ziadkadry99/swcache/internal/proxy"
)

// timeLayout is fixed-width so timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store provides access to journal entries.
type Store struct {
	db  *db.DB
	now func() time.Time
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database, now: time.Now}
}

// Log inserts a new journal entry. If entry.ID is empty a UUID is
// generated; a zero Timestamp means now.
func (s *Store) Log(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	paths, err := json.Marshal(entry.Paths)
	if err != nil {
		return fmt.Errorf("marshalling paths: %w", err)
	}

	var errText sql.NullString
	if entry.Error != "" {
		errText = sql.NullString{String: entry.Error, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_events (
			id, timestamp, action, generation, worker, summary, paths, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Timestamp.UTC().Format(timeLayout),
		string(entry.Action),
		entry.Generation,
		entry.Worker,
		entry.Summary,
		string(paths),
		errText,
	)
	if err != nil {
		return fmt.Errorf("inserting cache event: %w", err)
	}
	return nil
}

// Record journals a worker lifecycle event.
func (s *Store) Record(ctx context.Context, e proxy.Event) error {
	entry := Entry{
		Action:     Action(e.Kind),
		Generation: e.Generation,
		Worker:     e.Worker,
		Summary:    e.Summary,
		Paths:      e.Paths,
	}
	if e.Err != nil {
		entry.Error = e.Err.Error()
	}
	return s.Log(ctx, entry)
}

// GetByID retrieves a single journal entry.
func (s *Store) GetByID(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, timestamp, action, generation, worker, summary, paths, error
		FROM cache_events WHERE id = ?`, id)

	return scanInto(row)
}

// QueryFilter controls which entries are returned by Query.
type QueryFilter struct {
	Generation string
	Action     Action
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// Query returns entries matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Entry, error) {
	var (
		clauses []string
		args    []any
	)

	if filter.Generation != "" {
		clauses = append(clauses, "generation = ?")
		args = append(args, filter.Generation)
	}
	if filter.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	if filter.Until != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, filter.Until.UTC().Format(timeLayout))
	}

	query := "SELECT id, timestamp, action, generation, worker, summary, paths, error FROM cache_events"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC, rowid DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	} else if filter.Offset > 0 {
		query += fmt.Sprintf(" LIMIT -1 OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying cache events: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanInto(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// DeleteBefore removes all entries older than the given time.
// Returns the number of deleted rows.
func (s *Store) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM cache_events WHERE timestamp < ?",
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting old cache events: %w", err)
	}
	return res.RowsAffected()
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanInto(sc scanner) (*Entry, error) {
	var (
		e         Entry
		action    string
		ts        string
		pathsJSON string
		errText   sql.NullString
	)

	err := sc.Scan(&e.ID, &ts, &action, &e.Generation, &e.Worker, &e.Summary, &pathsJSON, &errText)
	if err != nil {
		return nil, err
	}

	e.Action = Action(action)
	if t, parseErr := time.Parse(timeLayout, ts); parseErr == nil {
		e.Timestamp = t
	}
	if errText.Valid {
		e.Error = errText.String
	}
	if err := json.Unmarshal([]byte(pathsJSON), &e.Paths); err != nil {
		e.Paths = nil
	}

	return &e, nil
}
