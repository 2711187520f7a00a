package core

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bwmarrin/discordgo"
	"github.com/scragly/dreaf/pkg/errutil"
	"github.com/scragly/dreaf/pkg/log"
)

// CommandRouter routes interactions to registered commands
type CommandRouter struct {
	registry        *CommandRegistry
	contextBuilder  *ContextBuilder
	responder       *ResponseManager
	permChecker     *PermissionChecker
	autocompleteMap map[string]AutocompleteHandler
}

// NewCommandRouter creates a router. checker may be nil, in which case every
// permission-gated command is refused.
func NewCommandRouter(ctx context.Context, session *discordgo.Session, checker *PermissionChecker) *CommandRouter {
	responder := NewResponseManager(session)
	return &CommandRouter{
		registry:        NewCommandRegistry(),
		contextBuilder:  NewContextBuilder(ctx, session, checker, responder),
		responder:       responder,
		permChecker:     checker,
		autocompleteMap: make(map[string]AutocompleteHandler),
	}
}

func (cr *CommandRouter) RegisterCommand(cmd Command) {
	cr.registry.Register(cmd)
}

func (cr *CommandRouter) RegisterSubCommand(parentName string, subcmd SubCommand) {
	cr.registry.RegisterSubCommand(parentName, subcmd)
}

func (cr *CommandRouter) RegisterAutocomplete(commandName string, handler AutocompleteHandler) {
	cr.autocompleteMap[commandName] = handler
}

// HandleInteraction is the discordgo handler for InteractionCreate events.
func (cr *CommandRouter) HandleInteraction(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if IsAutocompleteInteraction(i) {
		cr.handleAutocomplete(i)
		return
	}

	if !IsSlashCommandInteraction(i) {
		return
	}

	cr.handleSlashCommand(i)
}

func (cr *CommandRouter) handleSlashCommand(i *discordgo.InteractionCreate) {
	ctx := cr.contextBuilder.BuildContext(i)
	commandName := i.ApplicationCommandData().Name

	ctx.Logger.Debug("Processing slash command")

	cmd, exists := cr.registry.GetCommand(commandName)
	if !exists {
		ctx.Logger.Error("Command not found")
		cr.respond(ctx, cr.responder.Ephemeral(i, "Command not found"))
		return
	}

	if cmd.RequiresGuild() && ctx.GuildID == "" {
		ctx.Logger.Warn("Command used outside of guild")
		cr.respond(ctx, cr.responder.Ephemeral(i, "This command can only be used in a server"))
		return
	}

	if cmd.RequiresPermissions() && !ctx.IsDeputy {
		ctx.Logger.Warn("User without permission tried to use command")
		cr.respond(ctx, cr.responder.Ephemeral(i, "You do not have permission to use this command"))
		return
	}

	ctx.Logger.Info("Executing command")
	if err := cmd.Handle(ctx); err != nil {
		cr.reportError(ctx, err)
	}
}

// reportError turns a handler error into a reply. Command and validation errors
// carry a user-facing message; anything else is logged and replaced with a
// generic one.
func (cr *CommandRouter) reportError(ctx *Context, err error) {
	i := ctx.Interaction

	var cmdErr *CommandError
	var valErr *ValidationError
	switch {
	case stderrors.As(err, &cmdErr):
		ctx.Logger.Info("Command refused", "reason", cmdErr.Message)
		if cmdErr.Ephemeral {
			cr.respond(ctx, cr.responder.Ephemeral(i, cmdErr.Message))
		} else {
			cr.respond(ctx, cr.responder.Error(i, cmdErr.Message))
		}
	case stderrors.As(err, &valErr):
		ctx.Logger.Info("Invalid command option", "field", valErr.Field, "reason", valErr.Message)
		cr.respond(ctx, cr.responder.Ephemeral(i, valErr.Message))
	default:
		ctx.Logger.Error("Command execution failed", "err", err)
		cr.respond(ctx, cr.responder.Ephemeral(i, "An error occurred while executing the command"))
	}
}

func (cr *CommandRouter) respond(ctx *Context, err error) {
	if err != nil {
		ctx.Logger.Warn("Failed to respond to interaction", "err", err)
	}
}

func (cr *CommandRouter) handleAutocomplete(i *discordgo.InteractionCreate) {
	ctx := cr.contextBuilder.BuildContext(i)
	commandName := i.ApplicationCommandData().Name

	handler, exists := cr.autocompleteMap[commandName]
	if !exists {
		cr.respond(ctx, cr.responder.Autocomplete(i, []*discordgo.ApplicationCommandOptionChoice{}))
		return
	}

	focusedOpt, hasFocus := HasFocusedOption(i.ApplicationCommandData().Options)
	if !hasFocus {
		cr.respond(ctx, cr.responder.Autocomplete(i, []*discordgo.ApplicationCommandOptionChoice{}))
		return
	}

	choices, err := handler.HandleAutocomplete(ctx, focusedOpt.Name)
	if err != nil {
		ctx.Logger.Error("Autocomplete handler failed", "err", err)
		choices = []*discordgo.ApplicationCommandOptionChoice{}
	}

	cr.respond(ctx, cr.responder.Autocomplete(i, choices))
}

// GetRegistry returns the command registry
func (cr *CommandRouter) GetRegistry() *CommandRegistry {
	return cr.registry
}

// GetResponder returns the responder
func (cr *CommandRouter) GetResponder() *ResponseManager {
	return cr.responder
}

// GetPermissionChecker returns the permission checker
func (cr *CommandRouter) GetPermissionChecker() *PermissionChecker {
	return cr.permChecker
}

// CommandManager keeps the application commands registered with Discord in
// step with the router.
type CommandManager struct {
	session *discordgo.Session
	router  *CommandRouter
	guildID string
	logger  *slog.Logger
}

// NewCommandManager creates a manager. A non-empty guildID registers the commands
// on that guild only, which makes changes visible immediately.
func NewCommandManager(ctx context.Context, session *discordgo.Session, checker *PermissionChecker, guildID string) *CommandManager {
	return &CommandManager{
		session: session,
		router:  NewCommandRouter(ctx, session, checker),
		guildID: guildID,
		logger:  log.DiscordLogger().With("component", "command_manager"),
	}
}

func (cm *CommandManager) GetRouter() *CommandRouter {
	return cm.router
}

// SetupCommands installs the interaction handler and synchronises commands incrementally:
// unchanged commands are skipped, changed ones edited, and orphans removed.
func (cm *CommandManager) SetupCommands() error {
	cm.session.AddHandler(cm.router.HandleInteraction)

	if cm.session.State == nil || cm.session.State.User == nil {
		return fmt.Errorf("session user is unknown; open the session first")
	}
	appID := cm.session.State.User.ID

	var registered []*discordgo.ApplicationCommand
	err := errutil.HandleDiscordError("list_application_commands", func() error {
		var err error
		registered, err = cm.session.ApplicationCommands(appID, cm.guildID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to fetch registered commands: %w", err)
	}

	regByName := make(map[string]*discordgo.ApplicationCommand, len(registered))
	for _, rc := range registered {
		regByName[rc.Name] = rc
	}

	codeCommands := cm.router.registry.GetAllCommands()
	names := make([]string, 0, len(codeCommands))
	for name := range codeCommands {
		names = append(names, name)
	}
	sort.Strings(names)

	created, updated, unchanged := 0, 0, 0
	for _, name := range names {
		cmd := codeCommands[name]
		desired := &discordgo.ApplicationCommand{
			Name:        cmd.Name(),
			Description: cmd.Description(),
			Options:     cmd.Options(),
		}

		if existing, ok := regByName[name]; ok {
			if CompareCommands(existing, desired) {
				cm.logger.Debug("Command unchanged, skipping", "command", name)
				unchanged++
				continue
			}
			err := errutil.HandleDiscordError("edit_application_command", func() error {
				_, err := cm.session.ApplicationCommandEdit(appID, cm.guildID, existing.ID, desired)
				return err
			})
			if err != nil {
				return fmt.Errorf("error updating command '%s': %w", name, err)
			}
			cm.logger.Info("Command updated", "command", name)
			updated++
			continue
		}

		err := errutil.HandleDiscordError("create_application_command", func() error {
			_, err := cm.session.ApplicationCommandCreate(appID, cm.guildID, desired)
			return err
		})
		if err != nil {
			return fmt.Errorf("error creating command '%s': %w", name, err)
		}
		cm.logger.Info("Command created", "command", name)
		created++
	}

	deleted := 0
	for _, rc := range registered {
		if _, exists := codeCommands[rc.Name]; exists {
			continue
		}
		if err := cm.session.ApplicationCommandDelete(appID, cm.guildID, rc.ID); err != nil {
			cm.logger.Warn("Error removing orphan command", "command", rc.Name, "err", err)
			continue
		}
		cm.logger.Info("Orphan command removed", "command", rc.Name)
		deleted++
	}

	cm.logger.Info("Command synchronization completed",
		"created", created,
		"updated", updated,
		"deleted", deleted,
		"unchanged", unchanged,
		"total", len(codeCommands),
		"guild_id", cm.guildID,
	)
	return nil
}

// GroupCommand is a command made of subcommands
type GroupCommand struct {
	name        string
	description string
	subcommands map[string]SubCommand
	order       []string
}

func NewGroupCommand(name, description string) *GroupCommand {
	return &GroupCommand{
		name:        name,
		description: description,
		subcommands: make(map[string]SubCommand),
	}
}

// AddSubCommand adds subcmd; subcommands are offered in insertion order.
func (gc *GroupCommand) AddSubCommand(subcmd SubCommand) {
	if _, exists := gc.subcommands[subcmd.Name()]; !exists {
		gc.order = append(gc.order, subcmd.Name())
	}
	gc.subcommands[subcmd.Name()] = subcmd
}

func (gc *GroupCommand) Name() string        { return gc.name }
func (gc *GroupCommand) Description() string { return gc.description }

func (gc *GroupCommand) Options() []*discordgo.ApplicationCommandOption {
	options := make([]*discordgo.ApplicationCommandOption, 0, len(gc.order))
	for _, name := range gc.order {
		subcmd := gc.subcommands[name]
		options = append(options, &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        subcmd.Name(),
			Description: subcmd.Description(),
			Options:     subcmd.Options(),
		})
	}
	return options
}

// RequiresGuild reports whether any subcommand needs a guild.
func (gc *GroupCommand) RequiresGuild() bool {
	for _, subcmd := range gc.subcommands {
		if subcmd.RequiresGuild() {
			return true
		}
	}
	return false
}

// RequiresPermissions is false: the group checks each subcommand itself so
// that ordinary members can reach the public subcommands.
func (gc *GroupCommand) RequiresPermissions() bool {
	return false
}

func (gc *GroupCommand) Handle(ctx *Context) error {
	subCommandName := GetSubCommandName(ctx.Interaction)
	if subCommandName == "" {
		return NewCommandError("No subcommand specified", true)
	}

	subcmd, exists := gc.subcommands[subCommandName]
	if !exists {
		return NewCommandError("Unknown subcommand", true)
	}

	if subcmd.RequiresGuild() && ctx.GuildID == "" {
		return NewCommandError("This subcommand can only be used in a server", true)
	}

	if subcmd.RequiresPermissions() && !ctx.IsDeputy {
		return NewCommandError("You don't have permission to use this subcommand", true)
	}

	return subcmd.Handle(ctx)
}

// SimpleCommand implements Command and SubCommand around a function.
type SimpleCommand struct {
	name                string
	description         string
	options             []*discordgo.ApplicationCommandOption
	handler             func(ctx *Context) error
	requiresGuild       bool
	requiresPermissions bool
}

func NewSimpleCommand(
	name, description string,
	options []*discordgo.ApplicationCommandOption,
	handler func(ctx *Context) error,
	requiresGuild, requiresPermissions bool,
) *SimpleCommand {
	return &SimpleCommand{
		name:                name,
		description:         description,
		options:             options,
		handler:             handler,
		requiresGuild:       requiresGuild,
		requiresPermissions: requiresPermissions,
	}
}

func (sc *SimpleCommand) Name() string        { return sc.name }
func (sc *SimpleCommand) Description() string { return sc.description }
func (sc *SimpleCommand) Options() []*discordgo.ApplicationCommandOption {
	return sc.options
}
func (sc *SimpleCommand) Handle(ctx *Context) error { return sc.handler(ctx) }
func (sc *SimpleCommand) RequiresGuild() bool       { return sc.requiresGuild }
func (sc *SimpleCommand) RequiresPermissions() bool { return sc.requiresPermissions }
