package giftcode

import (
	"testing"
	"time"
)

func TestFriendlyNumber(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1K"},
		{1500, "1K"},
		{250000, "250K"},
		{999998, "999K"},
		{999999, "999,999"},
		{1000000, "1M"},
		{2500000, "2M"},
		{1500000000, "1,500M"},
	}
	for _, c := range cases {
		if got := FriendlyNumber(c.in); got != c.want {
			t.Errorf("FriendlyNumber(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("  WinTer2024 \n"); got != "winter2024" {
		t.Fatalf("Normalize = %q", got)
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if _, known := (Code{}).IsExpired(now); known {
		t.Fatalf("nil expiry must be unknown")
	}
	if expired, known := (Code{Expiry: &past}).IsExpired(now); !expired || !known {
		t.Fatalf("past expiry should be expired")
	}
	if expired, _ := (Code{Expiry: &future}).IsExpired(now); expired {
		t.Fatalf("future expiry should not be expired")
	}
}

func TestParseFeedMessage(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		ok     bool
		code   string
		expiry string
	}{
		{
			name:   "code with expiry",
			text:   "New code!\n```\nAFKWinter24\n```\nValid until 2024/12/31 23:59:59 UTC",
			ok:     true,
			code:   "afkwinter24",
			expiry: "2024-12-31T23:59:59Z",
		},
		{
			name: "inline fence without expiry",
			text: "Redeem ```  hello123 ``` now",
			ok:   true,
			code: "hello123",
		},
		{
			name: "no fence",
			text: "Patch notes for version 1.2",
		},
		{
			name: "too short",
			text: "```ab```",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			fc, ok := ParseFeedMessage(c.text)
			if ok != c.ok {
				t.Fatalf("ok = %v, want %v", ok, c.ok)
			}
			if !ok {
				return
			}
			if fc.Code != c.code {
				t.Fatalf("code = %q, want %q", fc.Code, c.code)
			}
			if c.expiry == "" {
				if fc.Expiry != nil {
					t.Fatalf("unexpected expiry %v", fc.Expiry)
				}
				return
			}
			if fc.Expiry == nil || fc.Expiry.Format(time.RFC3339) != c.expiry {
				t.Fatalf("expiry = %v, want %s", fc.Expiry, c.expiry)
			}
		})
	}
}
