// Package giftcode holds the gift code registry shared by every game account.
package giftcode

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned for codes the registry does not know.
var ErrNotFound = errors.New("gift code not found")

// Reward is one reward line of a code.
type Reward struct {
	Name string
	Qty  int64
}

// Code is a redeemable gift code. A nil Expiry means the expiry is unknown.
type Code struct {
	Code    string
	Expiry  *time.Time
	Posted  bool
	Rewards []Reward
}

// HasExpiry reports whether the expiry is known.
func (c Code) HasExpiry() bool { return c.Expiry != nil }

// IsExpired reports whether the code expired at or before now. known is false when
// the expiry is unknown.
func (c Code) IsExpired(now time.Time) (expired, known bool) {
	if c.Expiry == nil {
		return false, false
	}
	return !c.Expiry.After(now), true
}

// Normalize trims and case-folds a code so lookups are case-insensitive.
func Normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// FriendlyNumber shortens reward quantities: 1500 becomes "1K", 2500000 becomes "2M"
// and 999 stays "999". The remaining digits keep thousands separators.
func FriendlyNumber(n int64) string {
	unit := ""
	switch {
	case n > 999 && n < 999999:
		n /= 1000
		unit = "K"
	case n > 999999:
		n /= 1000000
		unit = "M"
	}
	return groupThousands(n) + unit
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	sign := ""
	if n < 0 {
		sign, s = "-", s[1:]
	}
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	head := len(s) % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return sign + b.String()
}
