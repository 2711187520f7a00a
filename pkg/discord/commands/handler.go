package commands

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/scragly/dreaf/pkg/config"
	"github.com/scragly/dreaf/pkg/discord/commands/admin"
	"github.com/scragly/dreaf/pkg/discord/commands/core"
	"github.com/scragly/dreaf/pkg/discord/commands/giftcodes"
	"github.com/scragly/dreaf/pkg/discord/commands/players"
	"github.com/scragly/dreaf/pkg/log"
)

// CommandHandler is the main handler that coordinates all bot commands
type CommandHandler struct {
	ctx            context.Context
	session        *discordgo.Session
	cfg            *config.Config
	giftCodes      *giftcodes.Commands
	players        *players.Commands
	admin          *admin.Commands
	commandManager *core.CommandManager
}

// NewCommandHandler creates a new CommandHandler instance
func NewCommandHandler(
	ctx context.Context,
	session *discordgo.Session,
	cfg *config.Config,
	giftCodes *giftcodes.Commands,
	playerCommands *players.Commands,
) *CommandHandler {
	return &CommandHandler{
		ctx:       ctx,
		session:   session,
		cfg:       cfg,
		giftCodes: giftCodes,
		players:   playerCommands,
	}
}

// SetAdminCommands adds the deputy-only /admin group.
func (ch *CommandHandler) SetAdminCommands(a *admin.Commands) { ch.admin = a }

// SetupCommands registers every command and syncs them with Discord.
func (ch *CommandHandler) SetupCommands() error {
	log.ApplicationLogger().Info("Setting up bot commands...")

	checker := core.NewPermissionChecker(ch.session, ch.cfg)
	ch.commandManager = core.NewCommandManager(ch.ctx, ch.session, checker, ch.cfg.Discord.GuildID)

	router := ch.commandManager.GetRouter()
	if ch.giftCodes != nil {
		ch.giftCodes.RegisterCommands(router)
	}
	if ch.players != nil {
		ch.players.RegisterCommands(router)
	}
	if ch.admin != nil {
		ch.admin.RegisterCommands(router)
	}

	if err := ch.commandManager.SetupCommands(); err != nil {
		return fmt.Errorf("failed to setup commands: %w", err)
	}

	log.ApplicationLogger().Info("Bot commands setup completed successfully", "commands", len(router.GetRegistry().GetAllCommands()))
	return nil
}

// Shutdown performs cleanup for the command handler resources
func (ch *CommandHandler) Shutdown() error {
	log.ApplicationLogger().Info("Shutting down command handler...")
	return nil
}

// GetCommandManager returns the command manager (for tests or extensions)
func (ch *CommandHandler) GetCommandManager() *core.CommandManager {
	return ch.commandManager
}
