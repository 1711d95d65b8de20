package persistence

import (
	"database/sql"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/mlevkov/offsite/app/web/enums"
)

// EventInfo is a recorded cache lifecycle event
type EventInfo struct {
	ID        int64
	Type      enums.EventType
	Version   string
	Detail    string
	CreatedAt time.Time
}

// SQLiteStore implements persistence using SQLite
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and prepares the schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to set WAL mode: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS preferences (
			visitor_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at INTEGER,
			PRIMARY KEY (visitor_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			version TEXT,
			detail TEXT,
			created_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at)`,
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				return nil, fmt.Errorf("failed to execute query: %w (also failed to close db: %v)", err, closeErr)
			}
			return nil, fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// SetPreference stores a single preference value for a visitor
func (s *SQLiteStore) SetPreference(visitorID, key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO preferences (visitor_id, key, value, updated_at) VALUES (?, ?, ?, ?)`,
		visitorID, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save preference %s for %s: %w", key, visitorID, err)
	}
	return nil
}

// GetPreference retrieves a single preference value for a visitor
func (s *SQLiteStore) GetPreference(visitorID, key string) (value string, found bool, err error) {
	err = s.db.Get(&value, `SELECT value FROM preferences WHERE visitor_id = ? AND key = ?`, visitorID, key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read preference %s for %s: %w", key, visitorID, err)
	}
	return value, true, nil
}

// RecordEvent appends a cache lifecycle event to the history
func (s *SQLiteStore) RecordEvent(ev EventInfo) error {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO events (type, version, detail, created_at) VALUES (?, ?, ?, ?)`,
		ev.Type.String(), ev.Version, ev.Detail, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent events, newest first
func (s *SQLiteStore) ListEvents(limit int) ([]EventInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Queryx(`SELECT id, type, version, detail, created_at FROM events ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close() //nolint:errcheck // rows close error is not actionable

	events := []EventInfo{}
	for rows.Next() {
		var (
			ev        EventInfo
			evType    string
			createdAt sql.NullInt64
			version   sql.NullString
			detail    sql.NullString
		)
		if err := rows.Scan(&ev.ID, &evType, &version, &detail, &createdAt); err != nil {
			log.Printf("[WARN] failed to scan event row: %v", err)
			continue
		}
		parsed, err := enums.ParseEventType(evType)
		if err != nil {
			log.Printf("[WARN] invalid event type %q: %v", evType, err)
			continue
		}
		ev.Type = parsed
		ev.Version = version.String
		ev.Detail = detail.String
		if createdAt.Valid {
			ev.CreatedAt = time.Unix(createdAt.Int64, 0)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return events, nil
}

// CleanupOldEvents keeps only the most recent limit events
func (s *SQLiteStore) CleanupOldEvents(limit int) error {
	_, err := s.db.Exec(`DELETE FROM events WHERE id NOT IN (SELECT id FROM events ORDER BY created_at DESC, id DESC LIMIT ?)`, limit)
	if err != nil {
		return fmt.Errorf("failed to cleanup events: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
