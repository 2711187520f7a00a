// Package prompt carries the verification conversation over Discord DMs.
package prompt

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/scragly/dreaf/pkg/errors"
	"github.com/scragly/dreaf/pkg/log"
	"github.com/scragly/dreaf/pkg/redeem"
)

// Session is the part of *discordgo.Session the prompter uses.
type Session interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type waitKey struct {
	channelID string
	userID    string
}

// Waiter routes direct-message replies to the handshakes waiting for them.
type Waiter struct {
	mu      sync.Mutex
	waiting map[waitKey]chan string
}

// NewWaiter creates a Waiter. Register OnMessageCreate as a session handler.
func NewWaiter() *Waiter {
	return &Waiter{waiting: make(map[waitKey]chan string)}
}

// OnMessageCreate delivers DM replies from users that are being waited on.
func (w *Waiter) OnMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot || m.GuildID != "" {
		return
	}
	w.deliver(m.ChannelID, m.Author.ID, m.Content)
}

func (w *Waiter) deliver(channelID, userID, content string) bool {
	w.mu.Lock()
	ch, ok := w.waiting[waitKey{channelID, userID}]
	w.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- strings.TrimSpace(content):
		return true
	default:
		return false
	}
}

// Await returns the next message userID sends in channelID, or
// redeem.ErrPromptTimeout once window has passed.
func (w *Waiter) Await(ctx context.Context, channelID, userID string, window time.Duration) (string, error) {
	key := waitKey{channelID, userID}
	ch := make(chan string, 1)

	w.mu.Lock()
	w.waiting[key] = ch
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		if w.waiting[key] == ch {
			delete(w.waiting, key)
		}
		w.mu.Unlock()
	}()

	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case reply := <-ch:
		return reply, nil
	case <-timer.C:
		return "", redeem.ErrPromptTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Waiting reports how many replies are awaited.
func (w *Waiter) Waiting() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.waiting)
}

// DM is a redeem.Prompter talking to one user through direct messages.
type DM struct {
	session Session
	waiter  *Waiter
	handler *errors.ErrorHandler
	userID  string
	mu      sync.Mutex
	channel string
}

var _ redeem.Prompter = (*DM)(nil)

// NewDM creates a prompter for userID. Sends are retried through handler.
func NewDM(session Session, waiter *Waiter, handler *errors.ErrorHandler, userID string) *DM {
	if handler == nil {
		handler = errors.NewErrorHandler()
	}
	return &DM{session: session, waiter: waiter, handler: handler, userID: userID}
}

func (d *DM) channelID(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channel != "" {
		return d.channel, nil
	}
	err := d.handler.ExecuteWithRetry(ctx, errors.CategoryDiscord, "prompt", "open_dm", func() error {
		ch, err := d.session.UserChannelCreate(d.userID)
		if err != nil {
			return err
		}
		d.channel = ch.ID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("open DM with %s: %w", d.userID, err)
	}
	return d.channel, nil
}

// Send writes text to the user's DM channel.
func (d *DM) Send(ctx context.Context, text string) error {
	channelID, err := d.channelID(ctx)
	if err != nil {
		return err
	}
	err = d.handler.ExecuteWithRetry(ctx, errors.CategoryDiscord, "prompt", "send_dm", func() error {
		_, err := d.session.ChannelMessageSend(channelID, text)
		return err
	})
	if err != nil {
		if IsDMForbidden(err) {
			log.DiscordLogger().Info("User does not accept DMs", "user_id", d.userID)
		}
		return fmt.Errorf("send DM to %s: %w", d.userID, err)
	}
	return nil
}

// Await waits for the user's next DM.
func (d *DM) Await(ctx context.Context, window time.Duration) (string, error) {
	channelID, err := d.channelID(ctx)
	if err != nil {
		return "", err
	}
	return d.waiter.Await(ctx, channelID, d.userID, window)
}

// IsDMForbidden reports whether err means the user cannot be messaged directly.
func IsDMForbidden(err error) bool {
	var restErr *discordgo.RESTError
	if !stderrors.As(err, &restErr) || restErr.Message == nil {
		return false
	}
	return restErr.Message.Code == discordgo.ErrCodeCannotSendMessagesToThisUser
}
