package predcache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration

	"github.com/orbit/passgo/internal/passes"
)

// Store persists prediction cache entries to SQLite so a restart picks up
// the last known passes without spending upstream budget.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the SQLite database at path.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS prediction_cache (
		norad_id   INTEGER NOT NULL,
		lat        REAL    NOT NULL,
		lon        REAL    NOT NULL,
		alt_m      REAL    NOT NULL DEFAULT 0,
		fetched_at INTEGER NOT NULL,
		passes     TEXT    NOT NULL,
		PRIMARY KEY (norad_id, lat, lon)
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Save writes an entry (insert or replace).
func (s *Store) Save(e *Entry) error {
	data, err := json.Marshal(e.Passes)
	if err != nil {
		return fmt.Errorf("encoding passes: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO prediction_cache (norad_id, lat, lon, alt_m, fetched_at, passes) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Key.NORADID, e.Key.Lat, e.Key.Lon, e.AltM, e.FetchedAt.Unix(), string(data),
	)
	if err != nil {
		return fmt.Errorf("saving cache entry: %w", err)
	}
	return nil
}

// LoadAll reads every persisted entry.
func (s *Store) LoadAll() ([]*Entry, error) {
	rows, err := s.db.Query(`SELECT norad_id, lat, lon, alt_m, fetched_at, passes FROM prediction_cache`)
	if err != nil {
		return nil, fmt.Errorf("loading cache entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var (
			e       Entry
			fetched int64
			data    string
		)
		if err := rows.Scan(&e.Key.NORADID, &e.Key.Lat, &e.Key.Lon, &e.AltM, &fetched, &data); err != nil {
			return nil, fmt.Errorf("scanning cache row: %w", err)
		}
		e.FetchedAt = time.Unix(fetched, 0).UTC()
		var ps []passes.Pass
		if err := json.Unmarshal([]byte(data), &ps); err != nil {
			// A corrupt row is skipped, not fatal.
			continue
		}
		e.Passes = ps
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Delete removes one entry.
func (s *Store) Delete(key Key) error {
	_, err := s.db.Exec(
		`DELETE FROM prediction_cache WHERE norad_id = ? AND lat = ? AND lon = ?`,
		key.NORADID, key.Lat, key.Lon,
	)
	return err
}

// Clear removes every entry.
func (s *Store) Clear() error {
	_, err := s.db.Exec(`DELETE FROM prediction_cache`)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
