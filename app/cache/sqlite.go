package cache

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// SQLiteBuckets keeps buckets in a SQLite database, surviving restarts so a
// successfully installed version doesn't need a re-install on every start.
type SQLiteBuckets struct {
	db *sqlx.DB
}

// NewSQLiteBuckets opens (or creates) the bucket database and prepares the schema
func NewSQLiteBuckets(dbPath string) (*SQLiteBuckets, error) {
	db, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to set WAL mode: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS buckets (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			bucket TEXT NOT NULL,
			key TEXT NOT NULL,
			status INTEGER NOT NULL,
			header TEXT NOT NULL,
			body BLOB,
			stored_at INTEGER,
			PRIMARY KEY (bucket, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_bucket ON entries(bucket)`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				return nil, fmt.Errorf("failed to create schema: %w (also failed to close db: %v)", err, closeErr)
			}
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &SQLiteBuckets{db: db}, nil
}

// Open registers the named bucket and returns a store bound to it
func (b *SQLiteBuckets) Open(name string) (Store, error) {
	if name == "" {
		return nil, fmt.Errorf("bucket name can't be empty")
	}
	if _, err := b.db.Exec(`INSERT OR IGNORE INTO buckets (name, created_at) VALUES (?, ?)`,
		name, time.Now().Unix()); err != nil {
		return nil, fmt.Errorf("failed to register bucket %q: %w", name, err)
	}
	return &sqliteStore{db: b.db, bucket: name}, nil
}

// List returns all registered bucket names, sorted
func (b *SQLiteBuckets) List() ([]string, error) {
	names := []string{}
	if err := b.db.Select(&names, `SELECT name FROM buckets ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	return names, nil
}

// Delete removes the named bucket with all its entries
func (b *SQLiteBuckets) Delete(name string) error {
	tx, err := b.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op
	if _, err := tx.Exec(`DELETE FROM entries WHERE bucket = ?`, name); err != nil {
		return fmt.Errorf("failed to delete entries of bucket %q: %w", name, err)
	}
	if _, err := tx.Exec(`DELETE FROM buckets WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete bucket %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of bucket %q: %w", name, err)
	}
	return nil
}

// Close closes the underlying database
func (b *SQLiteBuckets) Close() error {
	return b.db.Close()
}

type sqliteStore struct {
	db     *sqlx.DB
	bucket string
}

type entryRow struct {
	Key      string `db:"key"`
	Status   int    `db:"status"`
	Header   string `db:"header"`
	Body     []byte `db:"body"`
	StoredAt int64  `db:"stored_at"`
}

func (s *sqliteStore) Get(key string) (Entry, bool) {
	var row entryRow
	err := s.db.Get(&row, `SELECT key, status, header, body, stored_at FROM entries WHERE bucket = ? AND key = ?`,
		s.bucket, key)
	if err != nil {
		return Entry{}, false
	}

	hdr := http.Header{}
	if err := json.Unmarshal([]byte(row.Header), &hdr); err != nil {
		log.Printf("[WARN] failed to decode header for %q in %q: %v", key, s.bucket, err)
		return Entry{}, false
	}

	return Entry{Status: row.Status, Header: hdr, Body: row.Body, StoredAt: time.Unix(row.StoredAt, 0)}, true
}

func (s *sqliteStore) Set(key string, e Entry) error {
	hdr, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("failed to encode header for %q: %w", key, err)
	}
	storedAt := e.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO entries (bucket, key, status, header, body, stored_at) VALUES (?, ?, ?, ?, ?, ?)`,
		s.bucket, key, e.Status, string(hdr), e.Body, storedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to store %q in bucket %q: %w", key, s.bucket, err)
	}
	return nil
}

func (s *sqliteStore) Keys() ([]string, error) {
	keys := []string{}
	if err := s.db.Select(&keys, `SELECT key FROM entries WHERE bucket = ? ORDER BY key`, s.bucket); err != nil {
		return nil, fmt.Errorf("failed to list keys of bucket %q: %w", s.bucket, err)
	}
	return keys, nil
}

func (s *sqliteStore) Len() int {
	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM entries WHERE bucket = ?`, s.bucket); err != nil {
		log.Printf("[WARN] failed to count entries of bucket %q: %v", s.bucket, err)
		return 0
	}
	return count
}
