package storage

import (
	"database/sql"
	"errors"
	"time"
)

// SetMeta stores a persistent bot-level value such as the code board message ID.
func (s *Store) SetMeta(key, value string) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	_, err := s.db.Exec(
		`INSERT INTO bot_meta (key, value, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	return err
}

// GetMeta returns the stored value of key, if any.
func (s *Store) GetMeta(key string) (string, bool, error) {
	if s.db == nil {
		return "", false, ErrNotInitialized
	}
	var v string
	if err := s.db.QueryRow(`SELECT value FROM bot_meta WHERE key=?`, key).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

// DeleteMeta removes key.
func (s *Store) DeleteMeta(key string) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	_, err := s.db.Exec(`DELETE FROM bot_meta WHERE key=?`, key)
	return err
}
