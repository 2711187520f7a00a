package task

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/scragly/dreaf/pkg/giftcode"
	"github.com/scragly/dreaf/pkg/log"
	"github.com/scragly/dreaf/pkg/redeem"
)

const (
	TaskTypeAutoRedeem       = "redeem.auto"
	TaskTypeRedeemSession    = "redeem.session"
	TaskTypeRefreshCodeBoard = "giftcodes.refresh_board"
	TaskTypeSweepCredentials = "redeem.sweep_credentials"
)

// AutoRedeemPayload fans codes out to every verified session.
type AutoRedeemPayload struct {
	Codes  []string
	Source string
}

// SessionRedeemPayload runs one batch on one session.
type SessionRedeemPayload struct {
	GameID int64
	Codes  []string
	Force  bool
	Source string
}

// BoardRefresher redraws the active code board.
type BoardRefresher interface {
	Refresh(ctx context.Context) error
}

// RedeemReporter is told about every batch the router runs.
type RedeemReporter interface {
	BatchFinished(gameID int64, source string, res *redeem.Result, err error)
}

// RedeemAdapters wires redemption and code board upkeep to the TaskRouter.
type RedeemAdapters struct {
	Router      *TaskRouter
	Sessions    *redeem.Registry
	Credentials *redeem.CredentialStore
	Board       BoardRefresher
	Reporter    RedeemReporter
}

// NewRedeemAdapters creates adapters and registers their task handlers.
func NewRedeemAdapters(router *TaskRouter, sessions *redeem.Registry, creds *redeem.CredentialStore) *RedeemAdapters {
	ad := &RedeemAdapters{Router: router, Sessions: sessions, Credentials: creds}
	ad.RegisterHandlers()
	return ad
}

// SetBoard sets the code board refreshed by TaskTypeRefreshCodeBoard.
func (a *RedeemAdapters) SetBoard(b BoardRefresher) { a.Board = b }

// SetReporter sets who hears about finished batches.
func (a *RedeemAdapters) SetReporter(r RedeemReporter) { a.Reporter = r }

func (a *RedeemAdapters) RegisterHandlers() {
	a.Router.RegisterHandler(TaskTypeAutoRedeem, a.handleAutoRedeem)
	a.Router.RegisterHandler(TaskTypeRedeemSession, a.handleRedeemSession)
	a.Router.RegisterHandler(TaskTypeRefreshCodeBoard, a.handleRefreshBoard)
	a.Router.RegisterHandler(TaskTypeSweepCredentials, a.handleSweepCredentials)
}

// ---- Producer convenience methods ----

func codesKey(codes []string) string {
	norm := make([]string, 0, len(codes))
	for _, c := range codes {
		norm = append(norm, giftcode.Normalize(c))
	}
	slices.Sort(norm)
	return strings.Join(slices.Compact(norm), ",")
}

// EnqueueAutoRedeem redeems codes on every verified session. The same codes
// announced again within ten minutes are ignored.
func (a *RedeemAdapters) EnqueueAutoRedeem(codes []string, source string) error {
	if len(codes) == 0 {
		return nil
	}
	return a.Router.Dispatch(context.Background(), Task{
		Type:    TaskTypeAutoRedeem,
		Payload: AutoRedeemPayload{Codes: codes, Source: source},
		Options: TaskOptions{
			GroupKey:       "auto_redeem",
			IdempotencyKey: "auto:" + codesKey(codes),
			IdempotencyTTL: 10 * time.Minute,
			MaxAttempts:    2,
		},
	})
}

// EnqueueSessionRedeem queues one batch on the session of gameID, serialised with
// any other batch of that account.
func (a *RedeemAdapters) EnqueueSessionRedeem(gameID int64, codes []string, force bool, source string) error {
	if len(codes) == 0 {
		return nil
	}
	return a.Router.Dispatch(context.Background(), Task{
		Type:    TaskTypeRedeemSession,
		Payload: SessionRedeemPayload{GameID: gameID, Codes: codes, Force: force, Source: source},
		Options: TaskOptions{
			GroupKey:       fmt.Sprintf("session:%d", gameID),
			IdempotencyKey: fmt.Sprintf("redeem:%d:%t:%s", gameID, force, codesKey(codes)),
			IdempotencyTTL: time.Minute,
			MaxAttempts:    1,
		},
	})
}

// EnqueueBoardRefresh redraws the code board, coalescing bursts of mutations.
func (a *RedeemAdapters) EnqueueBoardRefresh() error {
	return a.Router.Dispatch(context.Background(), Task{
		Type:    TaskTypeRefreshCodeBoard,
		Payload: struct{}{},
		Options: TaskOptions{
			GroupKey:       "code_board",
			IdempotencyKey: fmt.Sprintf("board:%d", time.Now().Unix()/5),
			IdempotencyTTL: 5 * time.Second,
			MaxAttempts:    2,
		},
	})
}

// ScheduleMaintenance refreshes the code board and sweeps stale credentials
// periodically. A non-positive interval disables that job.
func (a *RedeemAdapters) ScheduleMaintenance(boardEvery, sweepEvery time.Duration) Cancel {
	stopBoard := a.Router.ScheduleEvery(boardEvery, Task{
		Type:    TaskTypeRefreshCodeBoard,
		Payload: struct{}{},
		Options: TaskOptions{GroupKey: "code_board", IdempotencyKey: "board:periodic", IdempotencyTTL: boardEvery / 2},
	})
	stopSweep := a.Router.ScheduleEvery(sweepEvery, Task{
		Type:    TaskTypeSweepCredentials,
		Payload: struct{}{},
		Options: TaskOptions{GroupKey: "credentials", MaxAttempts: 1},
	})
	return func() {
		stopBoard()
		stopSweep()
	}
}

// ---- Handlers ----

func (a *RedeemAdapters) handleAutoRedeem(ctx context.Context, payload any) error {
	if a.Sessions == nil {
		return Permanent(errors.New("session registry is nil"))
	}
	p, ok := payload.(AutoRedeemPayload)
	if !ok || len(p.Codes) == 0 {
		return Permanent(fmt.Errorf("invalid payload for %s", TaskTypeAutoRedeem))
	}

	sessions := a.Sessions.AllVerified(ctx)
	log.RedeemLogger().Info("Auto-redeeming codes", "codes", p.Codes, "source", p.Source, "sessions", len(sessions))

	var errs []error
	for _, s := range sessions {
		err := a.EnqueueSessionRedeem(s.GameID(), p.Codes, false, p.Source)
		if err != nil && !errors.Is(err, ErrDuplicateTask) {
			errs = append(errs, fmt.Errorf("queue session %d: %w", s.GameID(), err))
		}
	}
	return errors.Join(errs...)
}

func (a *RedeemAdapters) handleRedeemSession(ctx context.Context, payload any) error {
	if a.Sessions == nil {
		return Permanent(errors.New("session registry is nil"))
	}
	p, ok := payload.(SessionRedeemPayload)
	if !ok || p.GameID == 0 || len(p.Codes) == 0 {
		return Permanent(fmt.Errorf("invalid payload for %s", TaskTypeRedeemSession))
	}
	s, ok := a.Sessions.Get(p.GameID)
	if !ok {
		return Permanent(fmt.Errorf("no session for game account %d", p.GameID))
	}

	res, err := s.RedeemCodes(ctx, p.Codes, redeem.RedeemOptions{Force: p.Force})
	if a.Reporter != nil {
		a.Reporter.BatchFinished(p.GameID, p.Source, res, err)
	}
	return classifyRedeemError(err)
}

// classifyRedeemError makes every failed batch terminal. Vendor errors are
// reported once and never replayed; the caller decides what happens next.
func classifyRedeemError(err error) error {
	if err == nil {
		return nil
	}
	return Permanent(err)
}

func (a *RedeemAdapters) handleRefreshBoard(ctx context.Context, payload any) error {
	if a.Board == nil {
		return nil
	}
	return a.Board.Refresh(ctx)
}

func (a *RedeemAdapters) handleSweepCredentials(ctx context.Context, payload any) error {
	if a.Credentials == nil {
		return nil
	}
	n, err := a.Credentials.Sweep()
	if err != nil {
		return err
	}
	if n > 0 {
		log.RedeemLogger().Info("Swept stale credentials", "removed", n)
	}
	return nil
}
