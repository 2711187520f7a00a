package giftcodes

import (
	stderrors "errors"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/scragly/dreaf/pkg/giftcode"
	"github.com/scragly/dreaf/pkg/log"
)

// FeedListener watches the news feed channel for announced codes.
type FeedListener struct {
	msgr      Messenger
	codes     *giftcode.Registry
	queue     Queue
	channelID string
	logger    *slog.Logger
}

func NewFeedListener(msgr Messenger, codes *giftcode.Registry, queue Queue, channelID string) *FeedListener {
	return &FeedListener{
		msgr:      msgr,
		codes:     codes,
		queue:     queue,
		channelID: channelID,
		logger:    log.DiscordLogger().With("component", "code_feed"),
	}
}

// OnMessageCreate handles posts in the feed channel.
func (f *FeedListener) OnMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if f.channelID == "" || m == nil || m.Message == nil || m.ChannelID != f.channelID {
		return
	}
	if m.Author != nil && s != nil && s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	f.Handle(m.Message)
}

// Handle reacts ❎ to posts without a code. Otherwise it reacts ✅, learns the
// code or its new expiry, and queues redemption of new codes on every verified
// session.
func (f *FeedListener) Handle(msg *discordgo.Message) {
	fc, ok := giftcode.ParseFeedMessage(msg.Content)
	if !ok {
		f.react(msg, crossEmoji)
		return
	}
	f.react(msg, checkEmoji)
	logger := f.logger.With("code", fc.Code, "message_id", msg.ID)

	existing, err := f.codes.Get(fc.Code)
	switch {
	case err == nil:
		if fc.Expiry == nil || (existing.Expiry != nil && existing.Expiry.Equal(*fc.Expiry)) {
			f.say(msg, "Detected existing code '"+fc.Code+"'.")
			return
		}
		if err := f.codes.SetExpiry(fc.Code, fc.Expiry); err != nil {
			logger.Error("Failed to update code expiry from feed", "err", err)
			return
		}
		logger.Info("Code expiry updated from feed", "expiry", fc.Expiry)
		f.say(msg, "Detected existing code '"+fc.Code+"'. Updated expiry to "+fc.Expiry.Format("Jan 2, 2006")+".")
		f.refreshBoard()

	case stderrors.Is(err, giftcode.ErrNotFound):
		if _, _, err := f.codes.Add(fc.Code, fc.Expiry); err != nil {
			logger.Error("Failed to save code from feed", "err", err)
			return
		}
		logger.Info("New code detected in feed", "expiry", fc.Expiry)
		if f.queue != nil {
			if err := f.queue.EnqueueAutoRedeem([]string{fc.Code}, "feed"); err != nil {
				logger.Warn("Failed to queue auto-redemption", "err", err)
			}
		}
		f.refreshBoard()

	default:
		logger.Error("Failed to look up code from feed", "err", err)
	}
}

func (f *FeedListener) refreshBoard() {
	if f.queue == nil {
		return
	}
	if err := f.queue.EnqueueBoardRefresh(); err != nil {
		f.logger.Debug("Board refresh not queued", "err", err)
	}
}

func (f *FeedListener) react(msg *discordgo.Message, emoji string) {
	if err := f.msgr.MessageReactionAdd(msg.ChannelID, msg.ID, emoji); err != nil {
		f.logger.Warn("Failed to react to feed message", "message_id", msg.ID, "err", err)
	}
}

func (f *FeedListener) say(msg *discordgo.Message, text string) {
	if _, err := f.msgr.ChannelMessageSend(msg.ChannelID, text); err != nil {
		f.logger.Warn("Failed to reply in feed channel", "err", err)
	}
}
