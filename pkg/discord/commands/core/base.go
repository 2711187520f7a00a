package core

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/scragly/dreaf/pkg/log"
)

// ContextBuilder creates contexts for command execution
type ContextBuilder struct {
	ctx       context.Context
	session   *discordgo.Session
	checker   *PermissionChecker
	responder *ResponseManager
}

// NewContextBuilder creates a new context builder. ctx becomes the parent of every
// command's Context.Ctx.
func NewContextBuilder(ctx context.Context, session *discordgo.Session, checker *PermissionChecker, responder *ResponseManager) *ContextBuilder {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ContextBuilder{
		ctx:       ctx,
		session:   session,
		checker:   checker,
		responder: responder,
	}
}

// BuildContext creates a complete context for command execution
func (cb *ContextBuilder) BuildContext(i *discordgo.InteractionCreate) *Context {
	userID := extractUserID(i)
	guildID := i.GuildID

	isDeputy := false
	if guildID != "" && cb.checker != nil {
		if i.Member != nil {
			isDeputy = cb.checker.MemberHasPermission(guildID, i.Member)
		} else {
			isDeputy = cb.checker.HasPermission(guildID, userID)
		}
	}

	logger := log.DiscordLogger().With(
		"command", commandPathSafe(i),
		"guild_id", guildID,
		"user_id", userID,
	)

	return &Context{
		Ctx:         cb.ctx,
		Session:     cb.session,
		Interaction: i,
		Logger:      logger,
		GuildID:     guildID,
		UserID:      userID,
		IsDeputy:    isDeputy,
		Responder:   cb.responder,
	}
}

// extractUserID extracts the user ID from the interaction
func extractUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	} else if i.User != nil {
		return i.User.ID
	}
	return ""
}

// GetSubCommandName extracts the subcommand name from the interaction
func GetSubCommandName(i *discordgo.InteractionCreate) string {
	options := i.ApplicationCommandData().Options
	if len(options) > 0 && options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return options[0].Name
	}
	return ""
}

// GetSubCommandOptions extracts the subcommand options from the interaction
func GetSubCommandOptions(i *discordgo.InteractionCreate) []*discordgo.ApplicationCommandInteractionDataOption {
	options := i.ApplicationCommandData().Options
	if len(options) > 0 && options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return options[0].Options
	}
	return options // Returns direct options if not a subcommand
}

// HasFocusedOption checks if there is a focused option (for autocomplete)
func HasFocusedOption(options []*discordgo.ApplicationCommandInteractionDataOption) (*discordgo.ApplicationCommandInteractionDataOption, bool) {
	for _, opt := range options {
		if opt.Focused {
			return opt, true
		}
		if opt.Type == discordgo.ApplicationCommandOptionSubCommand && len(opt.Options) > 0 {
			if focused, found := HasFocusedOption(opt.Options); found {
				return focused, true
			}
		}
	}
	return nil, false
}

// GetCommandPath returns the full command path (command + subcommand if present)
func GetCommandPath(i *discordgo.InteractionCreate) string {
	path := i.ApplicationCommandData().Name

	subCmd := GetSubCommandName(i)
	if subCmd != "" {
		path += " " + subCmd
	}

	return path
}

func commandPathSafe(i *discordgo.InteractionCreate) string {
	if !IsSlashCommandInteraction(i) && !IsAutocompleteInteraction(i) {
		return ""
	}
	return GetCommandPath(i)
}

// IsAutocompleteInteraction checks if the interaction is for autocomplete
func IsAutocompleteInteraction(i *discordgo.InteractionCreate) bool {
	return i.Type == discordgo.InteractionApplicationCommandAutocomplete
}

// IsSlashCommandInteraction checks if the interaction is a slash command
func IsSlashCommandInteraction(i *discordgo.InteractionCreate) bool {
	return i.Type == discordgo.InteractionApplicationCommand
}

// ValidateUserContext validates if the context has the required user information
func ValidateUserContext(ctx *Context) error {
	if ctx.UserID == "" {
		return NewCommandError("Unable to identify user", true)
	}
	return nil
}
