// Package giftcodes holds the gift code commands, the news feed listener and the
// code board.
package giftcodes

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"time"

	"github.com/scragly/dreaf/pkg/discord/prompt"
	"github.com/scragly/dreaf/pkg/giftcode"
	"github.com/scragly/dreaf/pkg/lilith"
	"github.com/scragly/dreaf/pkg/log"
	"github.com/scragly/dreaf/pkg/player"
	"github.com/scragly/dreaf/pkg/redeem"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoAccount means the member has not registered a game ID.
	ErrNoAccount = stderrors.New("no game account registered")
	// ErrNoActiveCodes means there is nothing to redeem.
	ErrNoActiveCodes = stderrors.New("no active codes")
)

// Queue is the background work the commands hand off. *task.RedeemAdapters
// satisfies it.
type Queue interface {
	EnqueueAutoRedeem(codes []string, source string) error
	EnqueueSessionRedeem(gameID int64, codes []string, force bool, source string) error
	EnqueueBoardRefresh() error
}

// Request describes one interactive redemption.
type Request struct {
	// OwnerID is the member whose primary account is redeemed.
	OwnerID string
	// Requester runs the verification handshake; usually OwnerID.
	Requester string
	// Codes to redeem; empty means every active code.
	Codes []string
	Force bool
	// Prompter talks to Requester. Nil disables verification: an unverified
	// session then fails with redeem.ErrSessionExpired.
	Prompter redeem.Prompter
}

// Report is the outcome of an interactive redemption.
type Report struct {
	Account  player.Account
	Result   *redeem.Result
	Verified bool
}

// Redeemed returns the codes newly redeemed across the roster.
func (r *Report) Redeemed() []string {
	if r == nil || r.Result == nil {
		return nil
	}
	return r.Result.Codes(redeem.Success)
}

// Redeemer runs redemptions on behalf of members.
type Redeemer struct {
	codes    *giftcode.Registry
	players  *player.Registry
	sessions *redeem.Registry
	verify   redeem.VerifyOptions
	now      func() time.Time
}

func NewRedeemer(codes *giftcode.Registry, players *player.Registry, sessions *redeem.Registry, verify redeem.VerifyOptions) *Redeemer {
	return &Redeemer{
		codes:    codes,
		players:  players,
		sessions: sessions,
		verify:   verify,
		now:      time.Now,
	}
}

// Codes returns the code registry.
func (r *Redeemer) Codes() *giftcode.Registry { return r.codes }

// Players returns the player registry.
func (r *Redeemer) Players() *player.Registry { return r.players }

// Sessions returns the session registry.
func (r *Redeemer) Sessions() *redeem.Registry { return r.sessions }

func (r *Redeemer) activeCodes() ([]string, error) {
	active, err := r.codes.Active(r.now())
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(active))
	for _, c := range active {
		out = append(out, c.Code)
	}
	return out, nil
}

// Redeem redeems the request's codes on the owner's primary account. When the
// session needs verification and a prompter is set, the handshake runs and the
// batch is retried once.
func (r *Redeemer) Redeem(ctx context.Context, req Request) (*Report, error) {
	acct, err := r.players.Primary(req.OwnerID)
	if err != nil {
		if stderrors.Is(err, player.ErrNotFound) {
			return nil, ErrNoAccount
		}
		return nil, err
	}
	report := &Report{Account: acct}

	codes := req.Codes
	if len(codes) == 0 {
		if codes, err = r.activeCodes(); err != nil {
			return report, err
		}
	}
	if len(codes) == 0 {
		return report, ErrNoActiveCodes
	}

	requester := req.Requester
	if requester == "" {
		requester = req.OwnerID
	}
	if r.sessions.InProgress(requester) {
		return report, &redeem.VerifyError{Kind: redeem.AlreadyInProgress}
	}

	logger := log.RedeemLogger().With("game_id", acct.GameID, "owner", req.OwnerID, "requester", requester)
	session := r.sessions.GetOrCreate(acct.GameID)
	opts := redeem.RedeemOptions{Force: req.Force}

	report.Result, err = session.RedeemCodes(ctx, codes, opts)
	if !stderrors.Is(err, redeem.ErrSessionExpired) {
		return report, err
	}
	if req.Prompter == nil {
		logger.Info("Session not verified and verification disabled")
		return report, err
	}

	logger.Info("Session expired, starting verification")
	if err := session.RequestVerification(ctx, requester, req.Prompter, r.verify); err != nil {
		return report, err
	}
	report.Verified = true

	report.Result, err = session.RedeemCodes(ctx, codes, opts)
	return report, err
}

// RedeemOnVerified redeems codes on every verified session and returns the
// results by game ID.
func (r *Redeemer) RedeemOnVerified(ctx context.Context, codes []string) (map[int64]*redeem.Result, error) {
	sessions := r.sessions.AllVerified(ctx)
	results := make([]*redeem.Result, len(sessions))

	var g errgroup.Group
	g.SetLimit(4)
	for i, s := range sessions {
		g.Go(func() error {
			res, err := s.RedeemCodes(ctx, codes, redeem.RedeemOptions{})
			results[i] = res
			if err != nil && !stderrors.Is(err, giftcode.ErrNotFound) {
				return fmt.Errorf("session %d: %w", s.GameID(), err)
			}
			return nil
		})
	}
	err := g.Wait()

	out := make(map[int64]*redeem.Result, len(sessions))
	for i, s := range sessions {
		if results[i] != nil {
			out[s.GameID()] = results[i]
		}
	}
	return out, err
}

// RedeemedFor reports whether any of owner's accounts redeemed code in results.
func (r *Redeemer) RedeemedFor(ownerID, code string, results map[int64]*redeem.Result) bool {
	accounts, err := r.players.ByOwner(ownerID)
	if err != nil {
		return false
	}
	code = giftcode.Normalize(code)
	for _, res := range results {
		for _, a := range accounts {
			if slices.Contains(res.Redeemed(a.GameID), code) {
				return true
			}
		}
	}
	return false
}

// Guidance turns a redemption failure into advice for the member. ok is false
// for failures without specific advice.
func Guidance(err error) (msg string, ok bool) {
	var verr *redeem.VerifyError
	var unexpected *lilith.UnexpectedResponseError
	switch {
	case err == nil:
		return "", false
	case stderrors.Is(err, ErrNoAccount):
		return "You haven't registered an ID. You can add one with `/id add`.", true
	case stderrors.Is(err, ErrNoActiveCodes):
		return "No active codes.", true
	case prompt.IsDMForbidden(err):
		return "I need to verify your account, but I'm unable to send a DM. " +
			"Please adjust your privacy settings and try again.", true
	case stderrors.As(err, &verr):
		switch verr.Kind {
		case redeem.AlreadyInProgress:
			return "You are already in the middle of verifying.", true
		case redeem.RateLimited:
			return "The game is refusing to send more verification mails right now. " +
				"Please wait a few minutes and try again.", true
		case redeem.Timeout, redeem.RetriesExhausted:
			return "Verification was not completed. Run the command again to restart it.", true
		}
		return "Verification failed.", true
	case stderrors.Is(err, redeem.ErrSessionExpired):
		return "Session isn't verified, stopping.", true
	case stderrors.Is(err, giftcode.ErrNotFound):
		return "That code is not valid.", true
	case stderrors.As(err, &unexpected):
		return "The gift code service gave an unexpected answer, so redemption stopped. " +
			"Please let a deputy know.", true
	}
	return "", false
}
