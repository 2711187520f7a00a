package core

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/scragly/dreaf/pkg/config"
)

// OptionExtractor simplifies extraction of options for Discord commands
type OptionExtractor struct {
	options []*discordgo.ApplicationCommandInteractionDataOption
}

func NewOptionExtractor(options []*discordgo.ApplicationCommandInteractionDataOption) *OptionExtractor {
	return &OptionExtractor{options: options}
}

func (e *OptionExtractor) find(name string) *discordgo.ApplicationCommandInteractionDataOption {
	for _, opt := range e.options {
		if opt.Name == name {
			return opt
		}
	}
	return nil
}

// String extracts a trimmed string option by name
func (e *OptionExtractor) String(name string) string {
	if opt := e.find(name); opt != nil {
		return strings.TrimSpace(opt.StringValue())
	}
	return ""
}

// StringRequired extracts a required string option
func (e *OptionExtractor) StringRequired(name string) (string, error) {
	value := e.String(name)
	if value == "" {
		return "", NewValidationError(name, fmt.Sprintf("Option '%s' is required", name))
	}
	return value, nil
}

func (e *OptionExtractor) Bool(name string) bool {
	if opt := e.find(name); opt != nil {
		return opt.BoolValue()
	}
	return false
}

func (e *OptionExtractor) Int(name string) int64 {
	if opt := e.find(name); opt != nil {
		return opt.IntValue()
	}
	return 0
}

// User returns the user ID of a user option, or "".
func (e *OptionExtractor) User(name string) string {
	opt := e.find(name)
	if opt == nil {
		return ""
	}
	if id, ok := opt.Value.(string); ok {
		return id
	}
	return ""
}

func (e *OptionExtractor) HasOption(name string) bool {
	return e.find(name) != nil
}

const ownerCacheTTL = 30 * time.Minute

// PermissionChecker decides who is a deputy: the guild owner and holders of a
// configured deputy role.
type PermissionChecker struct {
	session *discordgo.Session
	config  *config.Config
	owners  *expirable.LRU[string, string]
}

func NewPermissionChecker(session *discordgo.Session, cfg *config.Config) *PermissionChecker {
	return &PermissionChecker{
		session: session,
		config:  cfg,
		owners:  expirable.NewLRU[string, string](64, nil, ownerCacheTTL),
	}
}

// getOwnerID resolves the guild owner using cache -> state -> REST (with write-backs)
func (pc *PermissionChecker) getOwnerID(guildID string) (string, bool) {
	if oid, ok := pc.owners.Get(guildID); ok {
		return oid, true
	}
	if pc.session == nil {
		return "", false
	}
	if pc.session.State != nil {
		if g, _ := pc.session.State.Guild(guildID); g != nil && g.OwnerID != "" {
			pc.owners.Add(guildID, g.OwnerID)
			return g.OwnerID, true
		}
	}
	if g, err := pc.session.Guild(guildID); err == nil && g != nil && g.OwnerID != "" {
		pc.owners.Add(guildID, g.OwnerID)
		return g.OwnerID, true
	}
	return "", false
}

// getMember resolves a guild member using state -> REST
func (pc *PermissionChecker) getMember(guildID, userID string) (*discordgo.Member, bool) {
	if pc.session == nil {
		return nil, false
	}
	if pc.session.State != nil {
		if m, _ := pc.session.State.Member(guildID, userID); m != nil {
			return m, true
		}
	}
	if m, err := pc.session.GuildMember(guildID, userID); err == nil && m != nil {
		return m, true
	}
	return nil, false
}

// HasPermission checks whether the user is a deputy, looking the member up.
func (pc *PermissionChecker) HasPermission(guildID, userID string) bool {
	if guildID == "" || userID == "" {
		return false
	}
	if pc.IsOwner(guildID, userID) {
		return true
	}
	member, ok := pc.getMember(guildID, userID)
	if !ok {
		return false
	}
	return pc.hasDeputyRole(member.Roles)
}

// MemberHasPermission is HasPermission for a member already at hand, such as
// the one attached to an interaction.
func (pc *PermissionChecker) MemberHasPermission(guildID string, member *discordgo.Member) bool {
	if guildID == "" || member == nil {
		return false
	}
	if pc.hasDeputyRole(member.Roles) {
		return true
	}
	return member.User != nil && pc.IsOwner(guildID, member.User.ID)
}

func (pc *PermissionChecker) hasDeputyRole(roles []string) bool {
	if pc.config == nil {
		return false
	}
	return slices.ContainsFunc(roles, pc.config.IsDeputyRole)
}

// IsOwner checks whether the user owns the guild
func (pc *PermissionChecker) IsOwner(guildID, userID string) bool {
	if guildID == "" {
		return false
	}
	ownerID, ok := pc.getOwnerID(guildID)
	return ok && ownerID == userID
}

// TruncateString shortens s to maxLen runes, ending in "..." when cut.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// CreateChoicesFromStrings creates autocomplete choices whose name and value are the item.
func CreateChoicesFromStrings(items []string) []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, len(items))
	for i, item := range items {
		choices[i] = &discordgo.ApplicationCommandOptionChoice{
			Name:  TruncateString(item, 100),
			Value: item,
		}
	}
	return choices
}

// CompareCommands compares two commands to check if they are semantically equal
func CompareCommands(a, b *discordgo.ApplicationCommand) bool {
	type shape struct {
		Name        string                                `json:"name"`
		Description string                                `json:"description"`
		Options     []*discordgo.ApplicationCommandOption `json:"options"`
	}
	ba, _ := json.Marshal(shape{a.Name, a.Description, a.Options})
	bb, _ := json.Marshal(shape{b.Name, b.Description, b.Options})
	return string(ba) == string(bb)
}
