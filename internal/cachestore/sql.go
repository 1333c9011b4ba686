package cachestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ziadkadry99/swcache/internal/db"
)

// SQLStorage persists generations in SQLite. Bodies are zstd-compressed
// once they pass minCompressSize.
type SQLStorage struct {
	db *db.DB
}

// NewSQLStorage creates a SQLStorage backed by the given database.
func NewSQLStorage(database *db.DB) *SQLStorage {
	return &SQLStorage{db: database}
}

func (s *SQLStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM cache_generations ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("querying generations: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning generation: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLStorage) Open(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_generations (name, seq)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM cache_generations))
		ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return fmt.Errorf("opening generation %s: %w", name, err)
	}
	return nil
}

func (s *SQLStorage) Has(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_generations WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking generation %s: %w", name, err)
	}
	return n > 0, nil
}

func (s *SQLStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE generation = ?`, name); err != nil {
		return false, fmt.Errorf("deleting entries of %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM cache_generations WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("deleting generation %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLStorage) Match(ctx context.Context, name, key string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, status, response_type, headers, body, compressed, digest, stored_at
		FROM cache_entries WHERE generation = ? AND key = ?`, name, key)

	var (
		e          Entry
		headers    string
		body       []byte
		compressed int
		storedAt   string
	)
	err := row.Scan(&e.Key, &e.Status, &e.Type, &headers, &body, &compressed, &e.Digest, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning entry %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(headers), &e.Header); err != nil {
		return nil, fmt.Errorf("decoding headers of %s: %w", key, err)
	}
	if e.Header == nil {
		e.Header = http.Header{}
	}
	e.Body, err = decompressBody(body, compressed != 0)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", key, err)
	}
	if storedAt != "" {
		e.StoredAt, _ = time.Parse(time.RFC3339Nano, storedAt)
	}
	return &e, nil
}

func (s *SQLStorage) Put(ctx context.Context, name, key string, e Entry) error {
	headers, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("marshalling headers: %w", err)
	}
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now().UTC()
	}
	if e.Digest == "" {
		e.Digest = digest(e.Body)
	}
	if e.Type == "" {
		e.Type = "basic"
	}
	stored, compressed := compressBody(e.Body)
	if stored == nil {
		stored = []byte{}
	}
	flag := 0
	if compressed {
		flag = 1
	}

	if err := s.Open(ctx, name); err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (generation, key, status, response_type, headers, body, compressed, digest, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(generation, key) DO UPDATE SET
			status = excluded.status,
			response_type = excluded.response_type,
			headers = excluded.headers,
			body = excluded.body,
			compressed = excluded.compressed,
			digest = excluded.digest,
			stored_at = excluded.stored_at`,
		name, key, e.Status, e.Type, string(headers), stored, flag, e.Digest,
		e.StoredAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("storing %s in %s: %w", key, name, err)
	}
	return nil
}

func (s *SQLStorage) List(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM cache_entries WHERE generation = ? ORDER BY key`, name)
	if err != nil {
		return nil, fmt.Errorf("listing entries of %s: %w", name, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning entry key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
