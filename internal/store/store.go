// Package store persists published catalog snapshots in a local sqlite
// database so the cache survives restarts. Each published generation is one
// row; only the newest few are retained.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/snapetech/xtreamcache/internal/catalog"
	"github.com/snapetech/xtreamcache/internal/logx"
)

// keepGenerations bounds the snapshot history kept on disk.
const keepGenerations = 3

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	built_at TEXT NOT NULL,
	saved_at TEXT NOT NULL,
	payload  BLOB NOT NULL
);
`

// Store is a sqlite-backed snapshot archive. Safe for concurrent use.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the snapshot database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store: database path required")
	}
	path = filepath.Clean(path)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &Store{db: db, log: logx.WithComponent("store")}, nil
}

// Save appends snap as the newest generation and prunes old rows.
func (s *Store) Save(snap *catalog.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.Exec(
		`INSERT INTO snapshots (built_at, saved_at, payload) VALUES (?, ?, ?)`,
		snap.BuiltAt().UTC().Format(time.RFC3339Nano), now, payload,
	); err != nil {
		return fmt.Errorf("store: insert snapshot: %w", err)
	}
	if _, err := tx.Exec(
		`DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`,
		keepGenerations,
	); err != nil {
		return fmt.Errorf("store: prune snapshots: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	s.log.Debug().
		Str("event", "store.save").
		Int("entries", snap.EntryCount()).
		Msg("snapshot persisted")
	return nil
}

// LoadLatest returns the newest persisted snapshot, or (nil, nil) when the
// store is empty.
func (s *Store) LoadLatest() (*catalog.Snapshot, error) {
	var payload []byte
	err := s.db.QueryRow(
		`SELECT payload FROM snapshots ORDER BY id DESC LIMIT 1`,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load: %w", err)
	}
	var snap catalog.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("store: decode snapshot: %w", err)
	}
	return &snap, nil
}

// Generations returns the number of retained snapshot rows.
func (s *Store) Generations() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Clear drops all persisted generations (cache invalidation).
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM snapshots`); err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
