// Package registry owns API-key records and their embedded LinkedIn
// credentials. It is the only component that touches the database.
package registry

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"linkedin-gateway/internal/logger"
)

// ErrNotFound is returned when a key or user record does not exist.
var ErrNotFound = errors.New("key not found")

// ErrUnauthorized is returned when a presented API key is missing, unknown,
// or revoked.
var ErrUnauthorized = errors.New("invalid api key")

// ErrNoActiveKey is returned when a user has no active key to read
// credentials from.
var ErrNoActiveKey = errors.New("no active key for user")

// Registry stores API keys and per-key LinkedIn credentials in SQLite.
type Registry struct {
	db  *sql.DB
	log *logger.Logger

	// keyLocks serializes credential writes per user.
	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

// Open opens (creating if needed) the registry database at dbPath.
func Open(dbPath string, log *logger.Logger) (*Registry, error) {
	if dbPath == "" {
		return nil, errors.New("registry db path is required")
	}
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Registry{
		db:       db,
		log:      log.WithComponent("registry"),
		keyLocks: make(map[string]*sync.Mutex),
	}
	if err := r.init(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Registry) init() error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			created_at_utc TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			key_prefix TEXT NOT NULL,
			key_hash TEXT NOT NULL UNIQUE,
			instance_id TEXT NOT NULL DEFAULT '',
			instance_name TEXT NOT NULL DEFAULT '',
			browser_info TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			csrf_token TEXT NOT NULL DEFAULT '',
			cookies_json TEXT NOT NULL DEFAULT '{}',
			gemini_json TEXT,
			created_at_utc TEXT NOT NULL,
			last_used_at_utc TEXT,
			revoked_at_utc TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_user_active
			ON api_keys (user_id, instance_id, active);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// userLock returns the mutex serializing credential writes for a user.
func (r *Registry) userLock(userID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.keyLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		r.keyLocks[userID] = l
	}
	return l
}
