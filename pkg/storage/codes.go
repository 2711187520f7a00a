package storage

import (
	"database/sql"
	"errors"
	"time"
)

// CodeRecord is a stored gift code. Expiry is only meaningful when HasExpiry is set.
type CodeRecord struct {
	Code      string
	Expiry    time.Time
	HasExpiry bool
	Posted    bool
}

// RewardRecord is one reward line of a code.
type RewardRecord struct {
	Code   string
	Reward string
	Qty    int64
}

func expiryArg(t time.Time, has bool) any {
	if !has {
		return nil
	}
	return t.UTC().Unix()
}

func scanCode(scan func(dest ...any) error) (CodeRecord, error) {
	var rec CodeRecord
	var expiry sql.NullInt64
	var posted int64
	if err := scan(&rec.Code, &expiry, &posted); err != nil {
		return CodeRecord{}, err
	}
	if expiry.Valid {
		rec.HasExpiry = true
		rec.Expiry = time.Unix(expiry.Int64, 0).UTC()
	}
	rec.Posted = posted != 0
	return rec, nil
}

// UpsertCode inserts a code or updates its expiry and posted flag.
func (s *Store) UpsertCode(rec CodeRecord) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	_, err := s.db.Exec(
		`INSERT INTO codes (code, expiry, posted) VALUES (?, ?, ?)
         ON CONFLICT(code) DO UPDATE SET
           expiry=excluded.expiry,
           posted=excluded.posted`,
		foldCode(rec.Code), expiryArg(rec.Expiry, rec.HasExpiry), boolInt(rec.Posted),
	)
	return err
}

// GetCode returns the code record, or nil when the code is unknown.
func (s *Store) GetCode(code string) (*CodeRecord, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	row := s.db.QueryRow(`SELECT code, expiry, posted FROM codes WHERE code=?`, foldCode(code))
	rec, err := scanCode(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListCodes returns codes ordered by expiry (unknown expiry last), then by code.
// Codes whose expiry is at or before now are skipped unless includeExpired is set.
func (s *Store) ListCodes(includeExpired bool, now time.Time) ([]CodeRecord, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.db.Query(
		`SELECT code, expiry, posted FROM codes
         WHERE ? OR expiry IS NULL OR expiry > ?
         ORDER BY expiry IS NULL, expiry, code`,
		boolInt(includeExpired), now.UTC().Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CodeRecord
	for rows.Next() {
		rec, err := scanCode(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteCode removes a code with its rewards and redemption records.
// Reports whether the code existed.
func (s *Store) DeleteCode(code string) (bool, error) {
	if s.db == nil {
		return false, ErrNotInitialized
	}
	code = foldCode(code)

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM code_rewards WHERE code=?`, code); err != nil {
		return false, err
	}
	if _, err := tx.Exec(`DELETE FROM redeemed_codes WHERE code=?`, code); err != nil {
		return false, err
	}
	res, err := tx.Exec(`DELETE FROM codes WHERE code=?`, code)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, tx.Commit()
}

// SetCodeExpiry sets or clears the expiry. Reports whether the code exists.
func (s *Store) SetCodeExpiry(code string, expiry time.Time, hasExpiry bool) (bool, error) {
	if s.db == nil {
		return false, ErrNotInitialized
	}
	res, err := s.db.Exec(`UPDATE codes SET expiry=? WHERE code=?`, expiryArg(expiry, hasExpiry), foldCode(code))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkCodeExpired records now as the expiry when the code has none or a later one.
// An earlier known expiry is kept. Reports whether the row changed.
func (s *Store) MarkCodeExpired(code string, now time.Time) (bool, error) {
	if s.db == nil {
		return false, ErrNotInitialized
	}
	ts := now.UTC().Unix()
	res, err := s.db.Exec(
		`UPDATE codes SET expiry=? WHERE code=? AND (expiry IS NULL OR expiry > ?)`,
		ts, foldCode(code), ts,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetCodePosted flags whether the code has been announced.
func (s *Store) SetCodePosted(code string, posted bool) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	_, err := s.db.Exec(`UPDATE codes SET posted=? WHERE code=?`, boolInt(posted), foldCode(code))
	return err
}

// UpsertCodeReward sets the quantity of a reward on a code.
func (s *Store) UpsertCodeReward(code, reward string, qty int64) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	_, err := s.db.Exec(
		`INSERT INTO code_rewards (code, reward, qty) VALUES (?, ?, ?)
         ON CONFLICT(code, reward) DO UPDATE SET qty=excluded.qty`,
		foldCode(code), reward, qty,
	)
	return err
}

// DeleteCodeReward removes a reward from a code. Reports whether it existed.
func (s *Store) DeleteCodeReward(code, reward string) (bool, error) {
	if s.db == nil {
		return false, ErrNotInitialized
	}
	res, err := s.db.Exec(`DELETE FROM code_rewards WHERE code=? AND reward=?`, foldCode(code), reward)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListCodeRewards returns the rewards of a code ordered by name.
func (s *Store) ListCodeRewards(code string) ([]RewardRecord, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.db.Query(`SELECT code, reward, qty FROM code_rewards WHERE code=? ORDER BY reward`, foldCode(code))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RewardRecord
	for rows.Next() {
		var r RewardRecord
		if err := rows.Scan(&r.Code, &r.Reward, &r.Qty); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRewardNames returns every distinct reward name ever recorded.
func (s *Store) ListRewardNames() ([]string, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.db.Query(`SELECT DISTINCT reward FROM code_rewards ORDER BY reward`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// MarkRedeemed records a redemption. Repeated marks are no-ops; the return value
// reports whether a new record was written.
func (s *Store) MarkRedeemed(playerID int64, code string, at time.Time) (bool, error) {
	if s.db == nil {
		return false, ErrNotInitialized
	}
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.Exec(
		`INSERT INTO redeemed_codes (player_id, code, redeemed_at) VALUES (?, ?, ?)
         ON CONFLICT(player_id, code) DO NOTHING`,
		playerID, foldCode(code), at.UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// IsRedeemed reports whether the player has redeemed the code.
func (s *Store) IsRedeemed(playerID int64, code string) (bool, error) {
	if s.db == nil {
		return false, ErrNotInitialized
	}
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM redeemed_codes WHERE player_id=? AND code=?`, playerID, foldCode(code)).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListRedeemedCodes returns the codes redeemed by a player.
func (s *Store) ListRedeemedCodes(playerID int64) ([]string, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.db.Query(`SELECT code FROM redeemed_codes WHERE player_id=? ORDER BY code`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

// CountRedemptions returns how many players have redeemed the code.
func (s *Store) CountRedemptions(code string) (int, error) {
	if s.db == nil {
		return 0, ErrNotInitialized
	}
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM redeemed_codes WHERE code=?`, foldCode(code)).Scan(&n)
	return n, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
