package core

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Command is a top-level slash command.
type Command interface {
	Name() string
	Description() string
	Options() []*discordgo.ApplicationCommandOption
	Handle(ctx *Context) error
	RequiresGuild() bool
	// RequiresPermissions restricts the command to deputies and the guild owner.
	RequiresPermissions() bool
}

// SubCommand is one subcommand of a GroupCommand.
type SubCommand interface {
	Name() string
	Description() string
	Options() []*discordgo.ApplicationCommandOption
	Handle(ctx *Context) error
	RequiresGuild() bool
	RequiresPermissions() bool
}

// Context carries everything a handler needs about one interaction.
type Context struct {
	// Ctx is cancelled when the bot shuts down.
	Ctx         context.Context
	Session     *discordgo.Session
	Interaction *discordgo.InteractionCreate
	Logger      *slog.Logger
	GuildID     string
	UserID      string
	IsDeputy    bool
	Responder   *ResponseManager
}

// Options returns an extractor over the invoked subcommand's options, or the
// command's own options when there is no subcommand.
func (c *Context) Options() *OptionExtractor {
	return NewOptionExtractor(GetSubCommandOptions(c.Interaction))
}

// CommandRegistry maps names to commands and subcommands.
type CommandRegistry struct {
	commands    map[string]Command
	subcommands map[string]map[string]SubCommand // [commandName][subcommandName]
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands:    make(map[string]Command),
		subcommands: make(map[string]map[string]SubCommand),
	}
}

// Register adds cmd, replacing any command with the same name.
func (r *CommandRegistry) Register(cmd Command) {
	r.commands[cmd.Name()] = cmd
}

func (r *CommandRegistry) RegisterSubCommand(parentName string, subcmd SubCommand) {
	if r.subcommands[parentName] == nil {
		r.subcommands[parentName] = make(map[string]SubCommand)
	}
	r.subcommands[parentName][subcmd.Name()] = subcmd
}

func (r *CommandRegistry) GetCommand(name string) (Command, bool) {
	cmd, exists := r.commands[name]
	return cmd, exists
}

func (r *CommandRegistry) GetSubCommand(parentName, subName string) (SubCommand, bool) {
	if subs, exists := r.subcommands[parentName]; exists {
		if sub, exists := subs[subName]; exists {
			return sub, true
		}
	}
	return nil, false
}

func (r *CommandRegistry) GetAllCommands() map[string]Command {
	return r.commands
}

// AutocompleteHandler answers autocomplete requests for one command.
type AutocompleteHandler interface {
	HandleAutocomplete(ctx *Context, focusedOption string) ([]*discordgo.ApplicationCommandOptionChoice, error)
}

// CommandError is shown to the invoking user as is.
type CommandError struct {
	Message   string
	Ephemeral bool
}

func (e *CommandError) Error() string {
	return e.Message
}

func NewCommandError(message string, ephemeral bool) *CommandError {
	return &CommandError{
		Message:   message,
		Ephemeral: ephemeral,
	}
}

// ValidationError reports a bad option value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
