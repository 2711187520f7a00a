package giftcodes

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/scragly/dreaf/pkg/discord/prompt"
	"github.com/scragly/dreaf/pkg/errors"
)

func newTestBoard(env *testEnv, msgr *fakeMessenger, waiter *prompt.Waiter) *Board {
	eh := errors.NewErrorHandler()
	eh.SetRetryStrategy(errors.CategoryDiscord, errors.RetryStrategy{MaxAttempts: 1})
	return NewBoard(context.Background(), msgr, env.redeemer, env.store, BoardOptions{
		ChannelID:     "codes",
		LogsChannelID: "logs",
		Waiter:        waiter,
		Handler:       eh,
	})
}

func TestBoardRefreshPostsAndStoresMessage(t *testing.T) {
	env := newTestEnv(t)
	env.addCodes(t, "alpha")
	msgr := &fakeMessenger{}
	b := newTestBoard(env, msgr, prompt.NewWaiter())

	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	posts := msgr.sentTo("codes")
	if len(posts) != 1 || posts[0].embed == nil || posts[0].embed.Title != boardTitle {
		t.Fatalf("board not posted: %+v", posts)
	}
	id := b.MessageID()
	if id == "" {
		t.Fatalf("board message ID not stored")
	}
	if len(msgr.reactions) != 1 || msgr.reactions[0].emoji != giftEmoji || msgr.reactions[0].messageID != id {
		t.Fatalf("gift reaction missing: %+v", msgr.reactions)
	}

	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if len(msgr.sentTo("codes")) != 1 || len(msgr.edits) != 1 {
		t.Fatalf("second refresh should edit, sent=%d edits=%d", len(msgr.sentTo("codes")), len(msgr.edits))
	}
}

func TestBoardRefreshReplacesDeletedMessage(t *testing.T) {
	env := newTestEnv(t)
	if err := env.store.SetMeta(boardMessageKey, "gone"); err != nil {
		t.Fatalf("set meta: %v", err)
	}
	msgr := &fakeMessenger{editErr: &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMessage},
	}}
	b := newTestBoard(env, msgr, prompt.NewWaiter())

	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if id := b.MessageID(); id == "gone" || id == "" {
		t.Fatalf("message ID not replaced: %q", id)
	}
	if posts := msgr.sentTo("codes"); len(posts) != 1 || posts[0].embed.Description != "No active codes." {
		t.Fatalf("unexpected posts: %+v", posts)
	}
}

func TestBoardWithoutChannelIsNoop(t *testing.T) {
	env := newTestEnv(t)
	msgr := &fakeMessenger{}
	b := NewBoard(context.Background(), msgr, env.redeemer, env.store, BoardOptions{})
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(msgr.sent) != 0 {
		t.Fatalf("nothing should be posted")
	}
}

func TestHandleGiftRedeemsAndReports(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, 1001, "u1", newFakeVendor(false))
	env.addCodes(t, "alpha")
	msgr := &fakeMessenger{}
	b := newTestBoard(env, msgr, prompt.NewWaiter())

	member := &discordgo.Member{Nick: "Scout", User: &discordgo.User{ID: "u1", Username: "scout"}}
	b.HandleGift(context.Background(), "board", "u1", member)

	if len(msgr.reactions) == 0 || !msgr.reactions[0].removed || msgr.reactions[0].userID != "u1" {
		t.Fatalf("member reaction should be removed first: %+v", msgr.reactions)
	}
	logs := msgr.sentTo("logs")
	if len(logs) != 1 || logs[0].content != "Scout is redeeming giftcodes." {
		t.Fatalf("unexpected log posts: %+v", logs)
	}
	var edited bool
	for _, e := range msgr.edits {
		if strings.HasPrefix(e.content, "Scout redeemed 1 giftcode.") {
			edited = true
		}
	}
	if !edited {
		t.Fatalf("log message not updated: %+v", msgr.edits)
	}
	dms := msgr.sentTo("dm-u1")
	if len(dms) != 1 || dms[0].embed == nil || dms[0].embed.Title != "1 Code Redeemed" {
		t.Fatalf("report not DMed: %+v", dms)
	}
	if ok, _ := env.codes.IsRedeemed(1001, "alpha"); !ok {
		t.Fatalf("redemption not recorded")
	}
}

func TestHandleGiftRunsHandshakeOverDM(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, 1001, "u1", newFakeVendor(true))
	env.addCodes(t, "alpha")
	msgr := &fakeMessenger{}
	waiter := prompt.NewWaiter()
	b := newTestBoard(env, msgr, waiter)

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.HandleGift(context.Background(), "board", "u1", nil)
	}()

	deadline := time.After(5 * time.Second)
	for waiter.Waiting() == 0 {
		select {
		case <-deadline:
			t.Fatalf("handshake never waited for a reply")
		case <-time.After(5 * time.Millisecond):
		}
	}
	waiter.OnMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: "dm-u1",
		Content:   "123456",
		Author:    &discordgo.User{ID: "u1"},
	}})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("gift redemption did not finish")
	}
	if ok, _ := env.codes.IsRedeemed(1001, "alpha"); !ok {
		t.Fatalf("redemption not recorded after handshake")
	}
}

func TestHandleGiftWithoutAccountSendsGuidance(t *testing.T) {
	env := newTestEnv(t)
	env.addCodes(t, "alpha")
	msgr := &fakeMessenger{}
	b := newTestBoard(env, msgr, prompt.NewWaiter())

	b.HandleGift(context.Background(), "board", "u9", nil)

	dms := msgr.sentTo("dm-u9")
	if len(dms) != 1 || !strings.Contains(dms[0].content, "/id add") {
		t.Fatalf("guidance not DMed: %+v", dms)
	}
	var edited bool
	for _, e := range msgr.edits {
		if strings.Contains(e.content, "could not redeem giftcodes") {
			edited = true
		}
	}
	if !edited {
		t.Fatalf("log message not updated: %+v", msgr.edits)
	}
}

func TestHandleGiftWithClosedDMsPostsNotice(t *testing.T) {
	env := newTestEnv(t)
	env.addCodes(t, "alpha")
	msgr := &fakeMessenger{dmErr: &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusForbidden},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeCannotSendMessagesToThisUser},
	}}
	b := newTestBoard(env, msgr, prompt.NewWaiter())

	b.HandleGift(context.Background(), "board", "u9", nil)

	logs := msgr.sentTo("logs")
	if len(logs) != 2 || !strings.HasPrefix(logs[1].content, "<@u9>\n") {
		t.Fatalf("DM notice not posted: %+v", logs)
	}
}
