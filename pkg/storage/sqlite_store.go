package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/scragly/dreaf/pkg/log"
	_ "modernc.org/sqlite"
)

// ErrNotInitialized is returned by every method called before Init.
var ErrNotInitialized = errors.New("store not initialized")

// Store wraps an embedded SQLite database holding gift codes, their rewards,
// per-player redemptions, registered game accounts and small bot metadata.
// It uses modernc.org/sqlite for CGO-less builds.
type Store struct {
	dbPath string
	db     *sql.DB
}

// NewStore creates a new Store pointing to dbPath. Call Init() before using it.
func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

// Init opens the SQLite database, configures pragmas, and ensures the schema exists.
func (s *Store) Init() error {
	if s.db != nil {
		return nil
	}
	if s.dbPath == "" {
		return fmt.Errorf("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o755); err != nil {
		return fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	// Pragmas for durability and concurrency
	pragmas := []struct{ stmt, what string }{
		{`PRAGMA journal_mode=WAL;`, "set WAL"},
		{`PRAGMA foreign_keys=ON;`, "enable FKs"},
		{`PRAGMA busy_timeout=5000;`, "set busy_timeout"},
		{`PRAGMA synchronous=NORMAL;`, "set synchronous"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("%s: %w", p.what, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	log.DatabaseLogger().Info("Store initialized", "path", s.dbPath)
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// foldCode applies the case-insensitive key rule for gift codes.
func foldCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// ensureSchema creates required tables and indexes if they don't exist.
func ensureSchema(db *sql.DB) error {
	const createCodes = `
CREATE TABLE IF NOT EXISTS codes (
  code    TEXT PRIMARY KEY,
  expiry  INTEGER,
  posted  INTEGER NOT NULL DEFAULT 0
);`

	const createRewards = `
CREATE TABLE IF NOT EXISTS code_rewards (
  code    TEXT NOT NULL REFERENCES codes(code) ON DELETE CASCADE,
  reward  TEXT NOT NULL,
  qty     INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (code, reward)
);`

	const createRedeemed = `
CREATE TABLE IF NOT EXISTS redeemed_codes (
  player_id    INTEGER NOT NULL,
  code         TEXT NOT NULL REFERENCES codes(code) ON DELETE CASCADE,
  redeemed_at  TIMESTAMP NOT NULL,
  PRIMARY KEY (player_id, code)
);
CREATE INDEX IF NOT EXISTS idx_redeemed_code ON redeemed_codes(code);`

	const createPlayers = `
CREATE TABLE IF NOT EXISTS players (
  game_id     INTEGER PRIMARY KEY,
  discord_id  TEXT,
  main        INTEGER NOT NULL DEFAULT 0,
  name        TEXT,
  server_id   INTEGER,
  level       INTEGER,
  seq         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_players_discord ON players(discord_id);`

	const createMeta = `
CREATE TABLE IF NOT EXISTS bot_meta (
  key         TEXT PRIMARY KEY,
  value       TEXT NOT NULL,
  updated_at  TIMESTAMP NOT NULL
);`

	for _, stmt := range []string{createCodes, createRewards, createRedeemed, createPlayers, createMeta} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
