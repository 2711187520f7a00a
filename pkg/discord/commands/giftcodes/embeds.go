package giftcodes

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/scragly/dreaf/pkg/discord/commands/core"
	"github.com/scragly/dreaf/pkg/giftcode"
	"github.com/scragly/dreaf/pkg/player"
	"github.com/scragly/dreaf/pkg/redeem"
)

const (
	giftEmoji  = "\U0001f381"
	checkEmoji = "\u2705"
	crossEmoji = "\u274e"

	boardTitle     = "Active Gift Codes"
	zeroWidthSpace = "\u200b"

	// Discord rejects embeds with more fields.
	maxEmbedFields = 25
)

// formatRewards lists rewards as "Name x qty" lines when verbose, otherwise as
// the quantities alone.
func formatRewards(c giftcode.Code, verbose bool) string {
	if len(c.Rewards) == 0 {
		return zeroWidthSpace
	}
	parts := make([]string, 0, len(c.Rewards))
	for _, rw := range c.Rewards {
		qty := giftcode.FriendlyNumber(rw.Qty)
		if verbose {
			parts = append(parts, fmt.Sprintf("%s x %s", rw.Name, qty))
		} else {
			parts = append(parts, fmt.Sprintf("%s %s", qty, rw.Name))
		}
	}
	if verbose {
		return strings.Join(parts, "\n")
	}
	return strings.Join(parts, ", ")
}

// codeEmbed shows one code: red when expired, green otherwise.
func codeEmbed(c giftcode.Code, now time.Time) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       c.Code,
		Description: formatRewards(c, true),
		Color:       core.ColorSuccess,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Expiry Unknown"},
	}
	if expired, known := c.IsExpired(now); known && expired {
		embed.Color = core.ColorError
	}
	if c.Expiry != nil {
		embed.Timestamp = c.Expiry.UTC().Format(time.RFC3339)
		embed.Footer.Text = "Gift Code Expiry"
	}
	return embed
}

// listEmbed lists codes. With a redeemed set, redeemed codes are ticked.
func listEmbed(codes []giftcode.Code, redeemed map[string]bool, footer string, verbose bool) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Title: boardTitle, Color: core.ColorInfo}
	for i, c := range codes {
		if i == maxEmbedFields {
			embed.Description = fmt.Sprintf("%d more codes not shown.", len(codes)-maxEmbedFields)
			break
		}
		name := c.Code
		if redeemed[c.Code] {
			name = "✓ " + name
		}
		if c.Expiry != nil {
			name = fmt.Sprintf("%s (until <t:%d:d>)", name, c.Expiry.Unix())
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  name,
			Value: formatRewards(c, verbose),
		})
	}
	if len(codes) == 0 {
		embed.Description = "No active codes."
	}
	if footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: footer}
	}
	return embed
}

// boardEmbed is the persistent code board message.
func boardEmbed(codes []giftcode.Code) *discordgo.MessageEmbed {
	return listEmbed(codes, nil, "Click reaction to redeem.", true)
}

// reportEmbed summarises an interactive redemption.
func reportEmbed(report *Report, who string) *discordgo.MessageEmbed {
	redeemed := report.Redeemed()
	var embed *discordgo.MessageEmbed
	if n := len(redeemed); n > 0 {
		embed = &discordgo.MessageEmbed{
			Title: fmt.Sprintf("%d Code%s Redeemed", n, plural(n)),
			Color: core.ColorSuccess,
		}
		for _, p := range report.Result.Players {
			if len(p.Redeemed) == 0 {
				continue
			}
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:   accountName(p.Account),
				Value:  strings.Join(p.Redeemed, ", "),
				Inline: true,
			})
		}
	} else {
		embed = &discordgo.MessageEmbed{
			Title:       "No Codes Redeemed.",
			Color:       core.ColorError,
			Description: "You're up to date!",
		}
	}
	if expired := report.Result.Codes(redeem.Expired); len(expired) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Expired",
			Value: strings.Join(expired, ", "),
		})
	}
	embed.Footer = &discordgo.MessageEmbedFooter{
		Text: fmt.Sprintf("Redemptions for %s (%d)", who, report.Account.GameID),
	}
	return embed
}

// logLine describes a finished redemption for the code logs channel.
func logLine(who string, report *Report) string {
	redeemed := report.Redeemed()
	if len(redeemed) == 0 {
		return fmt.Sprintf("%s redeemed 0 giftcodes, as they were up to date.", who)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s redeemed %d giftcode%s.", who, len(redeemed), plural(len(redeemed)))
	for _, p := range report.Result.Players {
		if len(p.Redeemed) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n**%s**\n%s", accountName(p.Account), strings.Join(p.Redeemed, ", "))
	}
	return b.String()
}

func accountName(a player.Account) string {
	if a.Name != "" {
		return a.Name
	}
	return fmt.Sprintf("%d", a.GameID)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// displayName picks the best name of a member for messages.
func displayName(m *discordgo.Member, userID string) string {
	if m != nil {
		if m.Nick != "" {
			return m.Nick
		}
		if m.User != nil {
			if m.User.GlobalName != "" {
				return m.User.GlobalName
			}
			if m.User.Username != "" {
				return m.User.Username
			}
		}
	}
	return "<@" + userID + ">"
}
