package redeem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scragly/dreaf/pkg/lilith"
	"github.com/scragly/dreaf/pkg/log"
)

const (
	DefaultReplyWindow = 600 * time.Second
	DefaultMaxRetries  = 3
)

const (
	msgMailSent = "A verification mail has been sent to you in-game. " +
		"Please reply here with the verification code within %s."
	msgAskCode  = "Please reply here with the verification code shown in-game within %s."
	msgWrong    = "Wrong code, please try again. (%d/%d attempts used)"
	msgTimedOut = "Verification timed out. Please try again."
)

// Prompter carries the handshake conversation with the requesting member.
type Prompter interface {
	Send(ctx context.Context, text string) error
	// Await returns the next reply, or ErrPromptTimeout once window has passed.
	Await(ctx context.Context, window time.Duration) (string, error)
}

// VerifyOptions tunes RequestVerification. Zero values take the defaults.
type VerifyOptions struct {
	// SkipMail assumes a verification mail was already requested.
	SkipMail bool
	// AFKCode submits through the single-step endpoint, which needs no mail.
	AFKCode     bool
	MaxRetries  int
	ReplyWindow time.Duration
}

func (o *VerifyOptions) defaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.ReplyWindow <= 0 {
		o.ReplyWindow = DefaultReplyWindow
	}
}

// RequestVerification runs the verification handshake for requester.
//
// Only one handshake per requester may run at a time; a concurrent call fails at
// once with AlreadyInProgress. Each reply is submitted to the vendor; wrong codes
// re-prompt until MaxRetries submissions were rejected (RetriesExhausted). No reply
// within ReplyWindow ends with Timeout. On success the credential is saved.
func (s *Session) RequestVerification(ctx context.Context, requester string, p Prompter, opts VerifyOptions) error {
	opts.defaults()

	if !s.registry.beginVerification(requester) {
		return &VerifyError{Kind: AlreadyInProgress}
	}
	defer s.registry.endVerification(requester)

	logger := log.RedeemLogger().With("game_id", s.gameID, "requester", requester)

	intro := msgMailSent
	switch {
	case opts.AFKCode:
		intro = msgAskCode
	case !opts.SkipMail:
		if err := s.SendMail(ctx); err != nil {
			return err
		}
	}
	if err := p.Send(ctx, fmt.Sprintf(intro, humanWindow(opts.ReplyWindow))); err != nil {
		return err
	}
	logger.Info("Verification prompt sent")

	submit := s.conn.VerifyCode
	if opts.AFKCode {
		submit = s.conn.VerifyAFKCode
	}

	for attempt := 1; ; attempt++ {
		reply, err := p.Await(ctx, opts.ReplyWindow)
		if err != nil {
			if errors.Is(err, ErrPromptTimeout) {
				if sendErr := p.Send(ctx, msgTimedOut); sendErr != nil {
					logger.Warn("Failed to send timeout notice", "err", sendErr)
				}
				logger.Info("Verification timed out")
				return &VerifyError{Kind: Timeout, Err: err}
			}
			return err
		}

		err = submit(ctx, s.gameID, reply)
		if err == nil {
			logger.Info("Verification succeeded", "attempts", attempt)
			return s.Save()
		}
		if !errors.Is(err, lilith.ErrWrongCode) {
			return err
		}

		logger.Info("Wrong verification code", "attempt", attempt, "max", opts.MaxRetries)
		if attempt >= opts.MaxRetries {
			return &VerifyError{Kind: RetriesExhausted, Err: &VerifyError{Kind: WrongCode, Err: err}}
		}
		if err := p.Send(ctx, fmt.Sprintf(msgWrong, attempt, opts.MaxRetries)); err != nil {
			return err
		}
	}
}

func humanWindow(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		n := int(d / time.Minute)
		if n == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", n)
	default:
		return d.String()
	}
}
