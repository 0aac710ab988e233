package tokenstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"go-procurement-client/internal/model"
)

// Store is the durable mirror of the current credential and identity
// snapshot. It survives process restarts and holds at most one row: the
// client has exactly one session. Credential and identity are written and
// cleared together so they can never be partially present.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

const schema = `
CREATE TABLE IF NOT EXISTS session (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	credential TEXT NOT NULL,
	identity   TEXT NOT NULL DEFAULT '',
	saved_at   TIMESTAMP NOT NULL
);`

func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create token store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}

	// One session row, one writer. A pool would only add lock contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure token store schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Save persists the credential and identity snapshot in a single statement.
func (s *Store) Save(credential string, identity *model.SessionIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return model.ErrStoreClosed
	}

	encoded := ""
	if identity != nil {
		data, err := json.Marshal(identity)
		if err != nil {
			return fmt.Errorf("failed to encode identity snapshot: %w", err)
		}
		encoded = string(data)
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO session (id, credential, identity, saved_at) VALUES (1, ?, ?, ?)`,
		credential, encoded, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	return nil
}

// Load returns the persisted credential and identity. An absent row yields
// ("", nil, nil). A corrupt identity blob is tolerated: the credential is
// returned with a nil identity so the caller re-fetches the profile.
func (s *Store) Load() (string, *model.SessionIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", nil, model.ErrStoreClosed
	}

	var credential, encoded string
	err := s.db.QueryRow(`SELECT credential, identity FROM session WHERE id = 1`).Scan(&credential, &encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to read session: %w", err)
	}

	if encoded == "" {
		return credential, nil, nil
	}

	var identity model.SessionIdentity
	if err := json.Unmarshal([]byte(encoded), &identity); err != nil {
		slog.Warn("stored identity snapshot is unreadable, dropping it", "error", err)
		return credential, nil, nil
	}

	return credential, &identity, nil
}

// Clear removes the session row. Clearing an empty store is a no-op.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return model.ErrStoreClosed
	}

	if _, err := s.db.Exec(`DELETE FROM session WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}
