package giftcodes

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/scragly/dreaf/pkg/discord/prompt"
	"github.com/scragly/dreaf/pkg/errors"
	"github.com/scragly/dreaf/pkg/log"
)

// boardMessageKey is the bot_meta key holding the code board message ID.
const boardMessageKey = "code_message_id"

// Messenger is the part of *discordgo.Session the board, feed and reporter use.
type Messenger interface {
	prompt.Session
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
}

// MetaStore keeps small persistent values. *storage.Store satisfies it.
type MetaStore interface {
	GetMeta(key string) (string, bool, error)
	SetMeta(key, value string) error
}

// BoardOptions configures a Board.
type BoardOptions struct {
	ChannelID     string
	LogsChannelID string
	Waiter        *prompt.Waiter
	Handler       *errors.ErrorHandler
}

// Board is the persistent "Active Gift Codes" message. Reacting to it with 🎁
// redeems every active code for the reacting member.
type Board struct {
	ctx      context.Context
	msgr     Messenger
	redeemer *Redeemer
	meta     MetaStore
	opts     BoardOptions
	logger   *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewBoard creates a board. ctx bounds the redemptions started by reactions.
func NewBoard(ctx context.Context, msgr Messenger, redeemer *Redeemer, meta MetaStore, opts BoardOptions) *Board {
	if opts.Handler == nil {
		opts.Handler = errors.NewErrorHandler()
	}
	return &Board{
		ctx:      ctx,
		msgr:     msgr,
		redeemer: redeemer,
		meta:     meta,
		opts:     opts,
		logger:   log.DiscordLogger().With("component", "code_board"),
		now:      time.Now,
	}
}

// MessageID returns the stored board message ID, or "".
func (b *Board) MessageID() string {
	id, ok, err := b.meta.GetMeta(boardMessageKey)
	if err != nil {
		b.logger.Warn("Failed to read code board message ID", "err", err)
		return ""
	}
	if !ok {
		return ""
	}
	return id
}

// Refresh redraws the board, posting a new message when the stored one is gone.
func (b *Board) Refresh(ctx context.Context) error {
	if b.opts.ChannelID == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	codes, err := b.redeemer.Codes().Active(b.now())
	if err != nil {
		return fmt.Errorf("list active codes: %w", err)
	}
	embed := boardEmbed(codes)

	if id := b.MessageID(); id != "" {
		_, err := b.msgr.ChannelMessageEditEmbed(b.opts.ChannelID, id, embed)
		if err == nil {
			return b.ensureReaction(ctx, id)
		}
		if !isUnknownMessage(err) {
			return fmt.Errorf("edit code board: %w", err)
		}
		b.logger.Info("Code board message not found, posting a new one", "message_id", id)
	}

	var msg *discordgo.Message
	err = b.opts.Handler.ExecuteWithRetry(ctx, errors.CategoryDiscord, "code_board", "post_board", func() error {
		var err error
		msg, err = b.msgr.ChannelMessageSendEmbed(b.opts.ChannelID, embed)
		return err
	})
	if err != nil {
		return fmt.Errorf("post code board: %w", err)
	}
	if err := b.meta.SetMeta(boardMessageKey, msg.ID); err != nil {
		return fmt.Errorf("store code board message ID: %w", err)
	}
	b.logger.Info("Code board posted", "message_id", msg.ID, "codes", len(codes))
	return b.ensureReaction(ctx, msg.ID)
}

func (b *Board) ensureReaction(ctx context.Context, messageID string) error {
	return b.opts.Handler.ExecuteWithRetry(ctx, errors.CategoryDiscord, "code_board", "add_reaction", func() error {
		return b.msgr.MessageReactionAdd(b.opts.ChannelID, messageID, giftEmoji)
	})
}

func isUnknownMessage(err error) bool {
	var restErr *discordgo.RESTError
	if !stderrors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMessage {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

// OnReactionAdd starts a redemption when a member reacts to the board with 🎁.
func (b *Board) OnReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r == nil || r.MessageReaction == nil || r.Emoji.Name != giftEmoji {
		return
	}
	if s != nil && s.State != nil && s.State.User != nil && r.UserID == s.State.User.ID {
		return
	}
	if r.Member != nil && r.Member.User != nil && r.Member.User.Bot {
		return
	}
	if id := b.MessageID(); id == "" || r.MessageID != id {
		return
	}
	b.HandleGift(b.ctx, r.MessageID, r.UserID, r.Member)
}

// HandleGift redeems every active code for userID, reporting by DM and in the
// code logs channel.
func (b *Board) HandleGift(ctx context.Context, messageID, userID string, member *discordgo.Member) {
	who := displayName(member, userID)
	logger := b.logger.With("user_id", userID)
	logger.Info("Gift reaction used")

	if err := b.msgr.MessageReactionRemove(b.opts.ChannelID, messageID, giftEmoji, userID); err != nil {
		logger.Warn("Failed to remove gift reaction", "err", err)
	}

	var logMsg *discordgo.Message
	if b.opts.LogsChannelID != "" {
		var err error
		if logMsg, err = b.msgr.ChannelMessageSend(b.opts.LogsChannelID, who+" is redeeming giftcodes."); err != nil {
			logger.Warn("Failed to post to code logs channel", "err", err)
		}
	}

	dm := prompt.NewDM(b.msgr, b.opts.Waiter, b.opts.Handler, userID)
	report, err := b.redeemer.Redeem(ctx, Request{OwnerID: userID, Prompter: dm})
	if err != nil {
		b.reportFailure(ctx, dm, logMsg, who, userID, err)
		return
	}

	if err := b.Refresh(ctx); err != nil {
		logger.Warn("Failed to refresh code board", "err", err)
	}

	logger.Info("Gift redemption finished", "game_id", report.Account.GameID, "redeemed", len(report.Redeemed()))
	b.editLog(logMsg, logLine(who, report))

	embed := reportEmbed(report, who)
	err = b.opts.Handler.ExecuteWithRetry(ctx, errors.CategoryDiscord, "code_board", "send_report", func() error {
		ch, err := b.msgr.UserChannelCreate(userID)
		if err != nil {
			return err
		}
		_, err = b.msgr.ChannelMessageSendEmbed(ch.ID, embed)
		return err
	})
	if err != nil {
		b.dmFailed(userID, err)
	}
}

func (b *Board) reportFailure(ctx context.Context, dm *prompt.DM, logMsg *discordgo.Message, who, userID string, err error) {
	msg, known := Guidance(err)
	if !known {
		b.logger.Error("Gift redemption failed", "user_id", userID, "err", err)
		msg = "Something went wrong while redeeming your codes. Please try again later."
	} else {
		b.logger.Info("Gift redemption stopped", "user_id", userID, "reason", msg, "err", err)
	}
	b.editLog(logMsg, fmt.Sprintf("%s could not redeem giftcodes: %s", who, msg))

	if prompt.IsDMForbidden(err) {
		b.dmFailed(userID, err)
		return
	}
	if sendErr := dm.Send(ctx, msg); sendErr != nil {
		b.dmFailed(userID, sendErr)
	}
}

// dmFailed tells the member in the logs channel when DMs are closed.
func (b *Board) dmFailed(userID string, err error) {
	if !prompt.IsDMForbidden(err) {
		b.logger.Warn("Failed to DM member", "user_id", userID, "err", err)
		return
	}
	if b.opts.LogsChannelID == "" {
		return
	}
	msg, _ := Guidance(err)
	if _, err := b.msgr.ChannelMessageSend(b.opts.LogsChannelID, fmt.Sprintf("<@%s>\n%s", userID, msg)); err != nil {
		b.logger.Warn("Failed to post DM notice", "user_id", userID, "err", err)
	}
}

func (b *Board) editLog(msg *discordgo.Message, content string) {
	if msg == nil {
		return
	}
	if _, err := b.msgr.ChannelMessageEdit(msg.ChannelID, msg.ID, content); err != nil {
		b.logger.Warn("Failed to edit code log message", "err", err)
	}
}
