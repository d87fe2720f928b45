package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/sipico/freesub/internal/record"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dbPath (or ":memory:" for tests) and
// initialises the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Open database connection
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite requires single connection for in-process file databases
	// to avoid "database is locked" errors, and :memory: databases are per connection
	db.SetMaxOpenConns(1)

	// Initialize schema
	if err := InitSchema(db); err != nil {
		_ = db.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Enable WAL mode for better concurrent access support
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	// Set busy timeout to wait for locks instead of failing immediately (5 seconds)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the record stored under key.
func (s *SQLiteStore) Get(ctx context.Context, key record.Key) (*record.Registered, error) {
	key = record.NewKey(key.Domain, key.Label)
	query := "SELECT payload FROM records WHERE domain = ? AND label = ?"

	var payload string
	err := s.db.QueryRowContext(ctx, query, key.Domain, key.Label).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query record: %w", err)
	}
	return decodePayload(payload)
}

// Put inserts or replaces the record.
func (s *SQLiteStore) Put(ctx context.Context, rec *record.Registered) error {
	key := rec.Key()
	if key.Domain == "" || key.Label == "" {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key.String())
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	query := `INSERT INTO records (domain, label, owner, record_type, provider_record_id, status, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain, label) DO UPDATE SET
			owner = excluded.owner,
			record_type = excluded.record_type,
			provider_record_id = excluded.provider_record_id,
			status = excluded.status,
			payload = excluded.payload,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		key.Domain,
		key.Label,
		strings.ToLower(rec.Owner.Username),
		string(rec.Record.Type),
		rec.ProviderRecordID,
		string(rec.Status),
		string(payload),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	return nil
}

// Delete removes the record for key.
func (s *SQLiteStore) Delete(ctx context.Context, key record.Key) error {
	key = record.NewKey(key.Domain, key.Label)
	result, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE domain = ? AND label = ?", key.Domain, key.Label)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every stored record.
func (s *SQLiteStore) List(ctx context.Context) ([]*record.Registered, error) {
	return s.query(ctx, "SELECT domain, label, payload FROM records ORDER BY domain, label")
}

// ListDomain returns the records under domain.
func (s *SQLiteStore) ListDomain(ctx context.Context, domain string) ([]*record.Registered, error) {
	return s.query(ctx, "SELECT domain, label, payload FROM records WHERE domain = ? ORDER BY label", strings.ToLower(domain))
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*record.Registered, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() {
		//nolint:errcheck
		rows.Close()
	}()

	var recs []*record.Registered
	failures := make(map[string]error)
	for rows.Next() {
		var domain, label, payload string
		if err := rows.Scan(&domain, &label, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec, err := decodePayload(payload)
		if err != nil {
			failures[label+"."+domain] = err
			continue
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	if len(failures) > 0 {
		return recs, &PartialError{Failures: failures}
	}
	return recs, nil
}

func decodePayload(payload string) (*record.Registered, error) {
	var rec record.Registered
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}
