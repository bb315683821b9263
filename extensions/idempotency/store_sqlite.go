package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	x402 "github.com/kudoprotocol/kudo-x402"
)

// SQLiteStore persists successful settlements so a replayed payment header
// is recognised after a restart. In-flight markers stay in memory; a crash
// mid-settlement leaves no marker behind.
type SQLiteStore struct {
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	inFlight map[string]chan struct{}
}

// NewSQLiteStore opens (or creates) the database at path
func NewSQLiteStore(path string, ttl time.Duration, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create settlement store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open settlement store: %w", err)
	}
	// sqlite3 allows one writer; a single connection also keeps ":memory:"
	// databases shared across calls.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:       db,
		ttl:      ttl,
		logger:   logger,
		inFlight: make(map[string]chan struct{}),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS settlements (
			key TEXT PRIMARY KEY,
			response TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_settlements_expires ON settlements(expires_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate settlement store: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CheckAndMark atomically checks the database and marks the key as in-flight if needed.
// A database error is logged and treated as a miss, so settlement still proceeds.
func (s *SQLiteStore) CheckAndMark(key string) (SettlementStatus, *x402.SettleResponse, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.lookup(key)
	if err != nil {
		s.logger.Warn("settlement store lookup failed", "key", key, "error", err)
	}
	if result != nil {
		return StatusCached, result, nil
	}

	if done, exists := s.inFlight[key]; exists {
		return StatusInFlight, nil, done
	}

	done := make(chan struct{})
	s.inFlight[key] = done
	return StatusNotFound, nil, done
}

// WaitForResult waits for an in-flight request to complete, respecting context cancellation.
func (s *SQLiteStore) WaitForResult(ctx context.Context, key string, done chan struct{}) (*x402.SettleResponse, error) {
	select {
	case <-done:
		return s.lookup(key)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Complete writes the response and wakes waiters.
func (s *SQLiteStore) Complete(key string, response *x402.SettleResponse, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store(key, response); err != nil {
		s.logger.Warn("settlement store write failed", "key", key, "error", err)
	}
	delete(s.inFlight, key)
	close(done)
}

// Fail removes the in-flight marker without caching a result.
func (s *SQLiteStore) Fail(key string, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inFlight, key)
	close(done)
}

func (s *SQLiteStore) lookup(key string) (*x402.SettleResponse, error) {
	var raw string
	var expiresAt int64
	err := s.db.QueryRow(`SELECT response, expires_at FROM settlements WHERE key = ?`, key).Scan(&raw, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if time.Now().UnixMilli() >= expiresAt {
		if _, err := s.db.Exec(`DELETE FROM settlements WHERE key = ?`, key); err != nil {
			return nil, err
		}
		return nil, nil
	}

	var resp x402.SettleResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("corrupt settlement record: %w", err)
	}
	return &resp, nil
}

func (s *SQLiteStore) store(key string, response *x402.SettleResponse) error {
	raw, err := json.Marshal(response)
	if err != nil {
		return err
	}
	now := time.Now()
	if _, err := s.db.Exec(`DELETE FROM settlements WHERE expires_at <= ?`, now.UnixMilli()); err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO settlements (key, response, expires_at) VALUES (?, ?, ?)`,
		key, string(raw), now.Add(s.ttl).UnixMilli(),
	)
	return err
}

var _ SettlementStore = (*SQLiteStore)(nil)
