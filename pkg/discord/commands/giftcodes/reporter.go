package giftcodes

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/scragly/dreaf/pkg/log"
	"github.com/scragly/dreaf/pkg/redeem"
)

// LogReporter posts background redemption results to the code logs channel.
type LogReporter struct {
	msgr      Messenger
	channelID string
}

func NewLogReporter(msgr Messenger, channelID string) *LogReporter {
	return &LogReporter{msgr: msgr, channelID: channelID}
}

// BatchFinished implements task.RedeemReporter.
func (r *LogReporter) BatchFinished(gameID int64, source string, res *redeem.Result, err error) {
	logger := log.RedeemLogger().With("game_id", gameID, "source", source)
	switch {
	case stderrors.Is(err, redeem.ErrSessionExpired):
		logger.Info("Background redemption skipped, session expired")
		return
	case err != nil:
		logger.Warn("Background redemption failed", "err", err)
	}

	line := batchLine(source, res)
	if line == "" || r.channelID == "" {
		return
	}
	if _, err := r.msgr.ChannelMessageSend(r.channelID, line); err != nil {
		logger.Warn("Failed to post redemption log", "err", err)
	}
}

// batchLine describes a batch, or is empty when nothing was redeemed.
func batchLine(source string, res *redeem.Result) string {
	if res.Count(redeem.Success) == 0 {
		return ""
	}
	var parts []string
	for _, p := range res.Players {
		if len(p.Redeemed) == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("**%s**: %s", accountName(p.Account), strings.Join(p.Redeemed, ", ")))
	}
	return fmt.Sprintf("Auto-redeemed (%s):\n%s", source, strings.Join(parts, "\n"))
}
