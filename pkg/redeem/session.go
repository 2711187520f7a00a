// Package redeem drives gift code redemption against the vendor: one Session per
// game account, the interactive verification handshake, and batch redemption
// fanned out over every account the vendor lists under the session's login.
package redeem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scragly/dreaf/pkg/giftcode"
	"github.com/scragly/dreaf/pkg/lilith"
	"github.com/scragly/dreaf/pkg/log"
	"github.com/scragly/dreaf/pkg/player"
	"golang.org/x/sync/errgroup"
)

// probeCode is redeemed to test a credential; the vendor has no status endpoint.
const probeCode = "thisisaninvalidcode"

// Vendor is the per-login API a session drives. *lilith.Conn satisfies it.
type Vendor interface {
	SendMail(ctx context.Context, uid int64) error
	VerifyCode(ctx context.Context, uid int64, code string) error
	VerifyAFKCode(ctx context.Context, uid int64, code string) error
	Consume(ctx context.Context, uid int64, cdkey string) (lilith.ConsumeResult, error)
	Users(ctx context.Context, uid int64) ([]lilith.User, error)
	Jar() *lilith.Jar
}

// CodeStore is the shared gift code registry. *giftcode.Registry satisfies it.
type CodeStore interface {
	Get(code string) (giftcode.Code, error)
	IsRedeemed(gameID int64, code string) (bool, error)
	MarkRedeemed(gameID int64, code string, at time.Time) (bool, error)
	MarkExpired(code string, now time.Time) (bool, error)
	Delete(code string) (bool, error)
}

// PlayerStore is the account registry. *player.Registry satisfies it.
type PlayerStore interface {
	Get(gameID int64) (player.Account, error)
	SaveRoster(ownerID string, accounts []player.Account) error
}

// RedeemOptions tunes RedeemCodes.
type RedeemOptions struct {
	// Force skips the local already-redeemed check and always asks the vendor.
	Force bool
}

// Attempt is the outcome of one code for one account. Err is set instead of a
// meaningful Outcome when the call failed outside the known classifications.
type Attempt struct {
	GameID  int64
	Code    string
	Outcome Outcome
	Err     error
}

// PlayerResult lists the codes newly redeemed for one account.
type PlayerResult struct {
	Account  player.Account
	Redeemed []string
}

// Result of a batch. Attempts has one entry per (account, code) pair in roster
// order then input order; Players follows roster order.
type Result struct {
	BatchID  string
	Players  []PlayerResult
	Attempts []Attempt
}

// Redeemed returns the codes newly redeemed for gameID.
func (r *Result) Redeemed(gameID int64) []string {
	if r == nil {
		return nil
	}
	for _, p := range r.Players {
		if p.Account.GameID == gameID {
			return p.Redeemed
		}
	}
	return nil
}

// Count returns how many attempts ended with o.
func (r *Result) Count(o Outcome) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, a := range r.Attempts {
		if a.Err == nil && a.Outcome == o {
			n++
		}
	}
	return n
}

// Codes returns the distinct codes with at least one attempt ending in o.
func (r *Result) Codes(o Outcome) []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, a := range r.Attempts {
		if a.Err == nil && a.Outcome == o && !seen[a.Code] {
			seen[a.Code] = true
			out = append(out, a.Code)
		}
	}
	return out
}

// Session is the vendor login of one game account.
type Session struct {
	gameID   int64
	conn     Vendor
	registry *Registry

	saveMu sync.Mutex
}

// GameID returns the account the session logs in as.
func (s *Session) GameID() int64 { return s.gameID }

// IsVerified probes the vendor with a harmless redemption. The answer is never cached.
// Only an out-of-date login counts as unverified; an unrecognised reply still
// means the vendor accepted the credential.
func (s *Session) IsVerified(ctx context.Context) (bool, error) {
	res, err := s.conn.Consume(ctx, s.gameID, probeCode)
	var unexpected *lilith.UnexpectedResponseError
	if errors.As(err, &unexpected) {
		log.RedeemLogger().Warn("Unrecognised probe reply, treating session as verified", "game_id", s.gameID, "info", unexpected.Info)
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return res != lilith.ConsumeLoginExpired, nil
}

// SendMail asks the vendor to mail a verification code to the account.
func (s *Session) SendMail(ctx context.Context) error {
	if err := s.conn.SendMail(ctx, s.gameID); err != nil {
		if errors.Is(err, lilith.ErrMailTooOften) {
			return &VerifyError{Kind: RateLimited, Err: err}
		}
		return err
	}
	return nil
}

// Save persists the session's credential, replacing older snapshots.
func (s *Session) Save() error {
	creds := s.registry.creds
	if creds == nil {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	data, err := s.conn.Jar().Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot credential: %w", err)
	}
	return creds.Save(s.gameID, data)
}

func (s *Session) redeemOne(ctx context.Context, uid int64, code string, force bool) (Outcome, error) {
	if !force {
		redeemed, err := s.registry.codes.IsRedeemed(uid, code)
		if err != nil {
			return 0, err
		}
		if redeemed {
			return Used, nil
		}
	}

	res, err := s.conn.Consume(ctx, uid, code)
	if err != nil {
		return 0, err
	}
	switch res {
	case lilith.ConsumeOK:
		return Success, nil
	case lilith.ConsumeUsed:
		return Used, nil
	case lilith.ConsumeExpired:
		return Expired, nil
	case lilith.ConsumeNotFound:
		return Invalid, nil
	case lilith.ConsumeLoginExpired:
		return SessionExpired, nil
	default:
		return 0, fmt.Errorf("redeem: unhandled consume result %v", res)
	}
}

// roster fetches and persists the accounts under this login. The session's own
// account is used alone when the vendor lists none.
func (s *Session) roster(ctx context.Context) ([]player.Account, error) {
	users, err := s.conn.Users(ctx, s.gameID)
	if err != nil {
		if errors.Is(err, lilith.ErrLoginExpired) {
			return nil, ErrSessionExpired
		}
		return nil, err
	}

	owner := ""
	if self, err := s.registry.players.Get(s.gameID); err == nil {
		owner = self.OwnerID
	} else if !errors.Is(err, player.ErrNotFound) {
		return nil, err
	}

	if len(users) == 0 {
		return []player.Account{{GameID: s.gameID, OwnerID: owner}}, nil
	}
	accounts := make([]player.Account, 0, len(users))
	for _, u := range users {
		accounts = append(accounts, player.Account{
			GameID:   u.UID,
			OwnerID:  owner,
			IsMain:   u.IsMain,
			Name:     u.Name,
			ServerID: u.ServerID,
			Level:    u.Level,
		})
	}
	if err := s.registry.players.SaveRoster(owner, accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// RedeemCodes redeems codes for every account under this login.
//
// Unknown codes fail with giftcode.ErrNotFound before the vendor is contacted. An
// unverified session fails with ErrSessionExpired. Otherwise every call in the
// batch runs to completion and its effects are persisted: Success and Used mark
// the code redeemed for that account, Expired sets the code's expiry, Invalid
// deletes the code. If any call reported an expired session the partial Result is
// returned with ErrSessionExpired; an unclassified failure is returned the same way.
func (s *Session) RedeemCodes(ctx context.Context, codes []string, opts RedeemOptions) (*Result, error) {
	resolved := make([]string, 0, len(codes))
	for _, c := range codes {
		code, err := s.registry.codes.Get(c)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, code.Code)
	}

	verified, err := s.IsVerified(ctx)
	if err != nil {
		return nil, err
	}
	if !verified {
		return nil, ErrSessionExpired
	}

	accounts, err := s.roster(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{
		BatchID:  uuid.NewString(),
		Attempts: make([]Attempt, len(accounts)*len(resolved)),
	}

	var g errgroup.Group
	g.SetLimit(s.registry.maxConcurrency)
	for i, acct := range accounts {
		for j, code := range resolved {
			idx := i*len(resolved) + j
			g.Go(func() error {
				o, err := s.redeemOne(ctx, acct.GameID, code, opts.Force)
				result.Attempts[idx] = Attempt{GameID: acct.GameID, Code: code, Outcome: o, Err: err}
				return nil
			})
		}
	}
	_ = g.Wait()

	fatal := s.apply(result)

	redeemed := make(map[int64][]string)
	for _, a := range result.Attempts {
		if a.Err == nil && a.Outcome == Success {
			redeemed[a.GameID] = append(redeemed[a.GameID], a.Code)
		}
	}
	for _, acct := range accounts {
		result.Players = append(result.Players, PlayerResult{Account: acct, Redeemed: redeemed[acct.GameID]})
	}

	logger := log.RedeemLogger().With("batch_id", result.BatchID, "game_id", s.gameID)
	logger.Info("Redemption batch finished",
		"accounts", len(accounts),
		"codes", len(resolved),
		"success", result.Count(Success),
		"used", result.Count(Used),
		"expired", result.Count(Expired),
		"invalid", result.Count(Invalid),
		"session_expired", result.Count(SessionExpired),
	)

	if result.Count(SessionExpired) > 0 {
		return result, ErrSessionExpired
	}
	if fatal != nil {
		logger.Error("Redemption batch aborted", "err", fatal)
		return result, fatal
	}
	return result, nil
}

// apply persists the effects of a gathered batch and returns the first
// unclassified call error, or the first storage error.
func (s *Session) apply(result *Result) error {
	codes := s.registry.codes
	now := time.Now()

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	expired := make(map[string]bool)
	invalid := make(map[string]bool)
	var invalidOrder []string
	for _, a := range result.Attempts {
		if a.Err != nil {
			keep(a.Err)
			continue
		}
		switch a.Outcome {
		case Success, Used:
			_, err := codes.MarkRedeemed(a.GameID, a.Code, now)
			keep(err)
		case Expired:
			if !expired[a.Code] {
				expired[a.Code] = true
				_, err := codes.MarkExpired(a.Code, now)
				keep(err)
			}
		case Invalid:
			if !invalid[a.Code] {
				invalid[a.Code] = true
				invalidOrder = append(invalidOrder, a.Code)
			}
		}
	}
	// Deletions run after every mark on the same code.
	for _, code := range invalidOrder {
		_, err := codes.Delete(code)
		keep(err)
	}
	return first
}
