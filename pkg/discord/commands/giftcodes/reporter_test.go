package giftcodes

import (
	"testing"

	"github.com/scragly/dreaf/pkg/player"
	"github.com/scragly/dreaf/pkg/redeem"
)

func TestLogReporterPostsSuccesses(t *testing.T) {
	msgr := &fakeMessenger{}
	r := NewLogReporter(msgr, "logs")

	res := &redeem.Result{
		Players: []redeem.PlayerResult{
			{Account: player.Account{GameID: 1001, Name: "Scout"}, Redeemed: []string{"alpha", "bravo"}},
			{Account: player.Account{GameID: 1002}},
		},
		Attempts: []redeem.Attempt{
			{GameID: 1001, Code: "alpha", Outcome: redeem.Success},
			{GameID: 1001, Code: "bravo", Outcome: redeem.Success},
			{GameID: 1002, Code: "alpha", Outcome: redeem.Used},
		},
	}
	r.BatchFinished(1001, "feed", res, nil)

	logs := msgr.sentTo("logs")
	if len(logs) != 1 || logs[0].content != "Auto-redeemed (feed):\n**Scout**: alpha, bravo" {
		t.Fatalf("unexpected log posts: %+v", logs)
	}
}

func TestLogReporterStaysQuiet(t *testing.T) {
	msgr := &fakeMessenger{}
	r := NewLogReporter(msgr, "logs")

	r.BatchFinished(1001, "feed", nil, redeem.ErrSessionExpired)
	r.BatchFinished(1001, "schedule", &redeem.Result{Attempts: []redeem.Attempt{{Code: "alpha", Outcome: redeem.Used}}}, nil)

	if len(msgr.sent) != 0 {
		t.Fatalf("nothing should be posted: %+v", msgr.sent)
	}
}
