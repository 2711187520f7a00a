package storage

import (
	"database/sql"
	"errors"
)

// PlayerRecord is a registered game account. DiscordID is empty when the account
// has no known owner; Name, ServerID and Level are zero until the vendor roster
// has been fetched.
type PlayerRecord struct {
	GameID    int64
	DiscordID string
	Main      bool
	Name      string
	ServerID  int64
	Level     int64
}

const playerColumns = `game_id, discord_id, main, name, server_id, level`

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

func scanPlayer(scan func(dest ...any) error) (PlayerRecord, error) {
	var (
		rec      PlayerRecord
		discord  sql.NullString
		main     int64
		name     sql.NullString
		serverID sql.NullInt64
		level    sql.NullInt64
	)
	if err := scan(&rec.GameID, &discord, &main, &name, &serverID, &level); err != nil {
		return PlayerRecord{}, err
	}
	rec.DiscordID = discord.String
	rec.Main = main != 0
	rec.Name = name.String
	rec.ServerID = serverID.Int64
	rec.Level = level.Int64
	return rec, nil
}

// RegisterPlayer links a game account to an owner. An existing account keeps its
// main flag, name, server and level.
func (s *Store) RegisterPlayer(gameID int64, discordID string) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	_, err := s.db.Exec(
		`INSERT INTO players (game_id, discord_id, seq)
         VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM players))
         ON CONFLICT(game_id) DO UPDATE SET discord_id=excluded.discord_id`,
		gameID, nullString(discordID),
	)
	return err
}

// UpsertPlayer writes every field of the record, keeping the registration order
// of an existing account.
func (s *Store) UpsertPlayer(rec PlayerRecord) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	_, err := s.db.Exec(
		`INSERT INTO players (game_id, discord_id, main, name, server_id, level, seq)
         VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM players))
         ON CONFLICT(game_id) DO UPDATE SET
           discord_id=excluded.discord_id,
           main=excluded.main,
           name=excluded.name,
           server_id=excluded.server_id,
           level=excluded.level`,
		rec.GameID, nullString(rec.DiscordID), boolInt(rec.Main), nullString(rec.Name), nullInt(rec.ServerID), nullInt(rec.Level),
	)
	return err
}

// GetPlayer returns the account, or nil when it is not registered.
func (s *Store) GetPlayer(gameID int64) (*PlayerRecord, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	row := s.db.QueryRow(`SELECT `+playerColumns+` FROM players WHERE game_id=?`, gameID)
	rec, err := scanPlayer(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListPlayersByOwner returns the owner's accounts in registration order.
func (s *Store) ListPlayersByOwner(discordID string) ([]PlayerRecord, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.db.Query(`SELECT `+playerColumns+` FROM players WHERE discord_id=? ORDER BY seq, game_id`, discordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlayerRecord
	for rows.Next() {
		rec, err := scanPlayer(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetMainPlayer returns the owner's main account, falling back to the first
// registered one. Nil when the owner has no accounts.
func (s *Store) GetMainPlayer(discordID string) (*PlayerRecord, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	row := s.db.QueryRow(
		`SELECT `+playerColumns+` FROM players WHERE discord_id=? ORDER BY main DESC, seq, game_id LIMIT 1`,
		discordID,
	)
	rec, err := scanPlayer(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// SetMainPlayer flags gameID as the owner's main account and clears the flag on
// the owner's other accounts. Reports false when the owner does not own gameID.
func (s *Store) SetMainPlayer(discordID string, gameID int64) (bool, error) {
	if s.db == nil {
		return false, ErrNotInitialized
	}
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`UPDATE players SET main=1 WHERE game_id=? AND discord_id=?`, gameID, discordID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if _, err := tx.Exec(`UPDATE players SET main=0 WHERE discord_id=? AND game_id<>?`, discordID, gameID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// SetPlayerName sets the display name. Reports whether the account exists.
func (s *Store) SetPlayerName(gameID int64, name string) (bool, error) {
	if s.db == nil {
		return false, ErrNotInitialized
	}
	res, err := s.db.Exec(`UPDATE players SET name=? WHERE game_id=?`, nullString(name), gameID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeletePlayer removes an account owned by discordID. Reports whether a row was removed.
func (s *Store) DeletePlayer(gameID int64, discordID string) (bool, error) {
	if s.db == nil {
		return false, ErrNotInitialized
	}
	res, err := s.db.Exec(`DELETE FROM players WHERE game_id=? AND discord_id=?`, gameID, discordID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
