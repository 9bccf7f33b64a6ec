package session

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"mecha/internal/logging"
)

// Registry tracks sessions in a local SQLite database and hands out their
// journals. Journal files live next to the database, one per session id.
type Registry struct {
	mu   sync.Mutex
	db   *sql.DB
	dir  string
	open map[string]*Journal
}

// SessionInfo is one registry row.
type SessionInfo struct {
	ID        string
	CreatedAt time.Time
}

// OpenRegistry opens (creating if needed) the registry under dir.
func OpenRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "sessions.db"))
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	logging.Session("registry opened at %s", dir)
	return &Registry{db: db, dir: dir, open: make(map[string]*Journal)}, nil
}

func (r *Registry) journalPath(id string) string {
	return filepath.Join(r.dir, id+".journal")
}

// Create registers a new session and opens its empty journal.
func (r *Registry) Create(id string) (*Journal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.Exec("INSERT INTO sessions (id) VALUES (?)", id); err != nil {
		return nil, fmt.Errorf("register session %s: %w", id, err)
	}
	j, err := OpenJournal(r.journalPath(id))
	if err != nil && !errors.Is(err, ErrTruncatedJournal) {
		return nil, err
	}
	r.open[id] = j
	logging.Session("created session %s", id)
	return j, nil
}

// Open returns the journal for an existing session. Unknown ids fail with
// ErrSessionNotFound; a truncated journal is returned usable alongside the
// wrapped ErrTruncatedJournal.
func (r *Registry) Open(id string) (*Journal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if j, ok := r.open[id]; ok {
		return j, nil
	}

	var found string
	err := r.db.QueryRow("SELECT id FROM sessions WHERE id = ?", id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session %s: %w", id, err)
	}

	j, jerr := OpenJournal(r.journalPath(id))
	if jerr != nil && !errors.Is(jerr, ErrTruncatedJournal) {
		return nil, jerr
	}
	r.open[id] = j
	return j, jerr
}

// List returns all registered sessions, newest first.
func (r *Registry) List() ([]SessionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query("SELECT id, created_at FROM sessions ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.ID, &info.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Close closes every open journal and the database.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, j := range r.open {
		if err := j.Close(); err != nil {
			logging.SessionError("closing journal %s: %v", id, err)
		}
	}
	r.open = make(map[string]*Journal)
	return r.db.Close()
}
