package giftcode

import (
	"regexp"
	"strings"
	"time"
)

var (
	feedCodePattern   = regexp.MustCompile(".?```\\s*(\\w+[^\\s]\\w+)\\s*```")
	feedExpiryPattern = regexp.MustCompile(`(\d\d\d\d/\d\d/\d\d \d\d:\d\d:\d\d) UTC`)
)

const feedExpiryLayout = "2006/01/02 15:04:05"

// FeedCode is a code announced in the game's news feed.
type FeedCode struct {
	Code   string
	Expiry *time.Time
}

// ParseFeedMessage extracts a fenced code and an optional "YYYY/MM/DD hh:mm:ss UTC"
// expiry from a feed post. ok is false when the post carries no code.
func ParseFeedMessage(text string) (FeedCode, bool) {
	m := feedCodePattern.FindStringSubmatch(text)
	if m == nil {
		return FeedCode{}, false
	}
	fc := FeedCode{Code: Normalize(m[1])}

	if em := feedExpiryPattern.FindStringSubmatch(text); em != nil {
		if t, err := time.ParseInLocation(feedExpiryLayout, strings.TrimSpace(em[1]), time.UTC); err == nil {
			fc.Expiry = &t
		}
	}
	return fc, true
}
