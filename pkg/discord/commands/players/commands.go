// Package players implements /id, /player and /verified.
package players

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/scragly/dreaf/pkg/discord/commands/core"
	"github.com/scragly/dreaf/pkg/player"
	"github.com/scragly/dreaf/pkg/redeem"
)

// Commands links members to game accounts and reports session state.
type Commands struct {
	players  *player.Registry
	sessions *redeem.Registry
}

func NewCommands(players *player.Registry, sessions *redeem.Registry) *Commands {
	return &Commands{players: players, sessions: sessions}
}

func gameIDOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        "game_id",
		Description: "In-game player ID",
		Required:    true,
		MinValue:    &minGameID,
	}
}

var minGameID = 1.0

func memberOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        "member",
		Description: description,
	}
}

// RegisterCommands adds the player commands to router.
func (c *Commands) RegisterCommands(router *core.CommandRouter) {
	id := core.NewGroupCommand("id", "Game IDs registered to members")
	id.AddSubCommand(&idShowCommand{c})
	id.AddSubCommand(&idAddCommand{c})
	id.AddSubCommand(&idRemoveCommand{c})
	router.RegisterCommand(id)

	pl := core.NewGroupCommand("player", "Player information")
	pl.AddSubCommand(core.NewSimpleCommand("show", "Show information on a player",
		[]*discordgo.ApplicationCommandOption{gameIDOption()}, c.handlePlayerShow, false, false))
	pl.AddSubCommand(core.NewSimpleCommand("main", "Set one of your players as your main account",
		[]*discordgo.ApplicationCommandOption{gameIDOption()}, c.handlePlayerMain, false, false))
	pl.AddSubCommand(core.NewSimpleCommand("name", "Set the in-game name of a player",
		[]*discordgo.ApplicationCommandOption{gameIDOption(), {
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "name",
			Description: "In-game name",
			Required:    true,
		}}, c.handlePlayerName, false, true))
	router.RegisterCommand(pl)

	router.RegisterCommand(core.NewSimpleCommand("verified", "Check which of your players can still redeem without verifying",
		[]*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionBoolean,
			Name:        "all",
			Description: "List every verified player (deputies only)",
		}}, c.handleVerified, false, false))
}

// memberName returns the display name of userID as far as the interaction or
// state knows it.
func memberName(ctx *core.Context, userID string) string {
	i := ctx.Interaction
	if i.Member != nil && i.Member.User != nil && i.Member.User.ID == userID {
		return displayName(i.Member, i.Member.User)
	}
	if data, ok := i.Data.(discordgo.ApplicationCommandInteractionData); ok && data.Resolved != nil {
		if m, ok := data.Resolved.Members[userID]; ok {
			return displayName(m, data.Resolved.Users[userID])
		}
		if u, ok := data.Resolved.Users[userID]; ok {
			return displayName(nil, u)
		}
	}
	if ctx.Session != nil && ctx.GuildID != "" {
		if m, err := ctx.Session.State.Member(ctx.GuildID, userID); err == nil {
			return displayName(m, m.User)
		}
	}
	return "User ID " + userID
}

func displayName(m *discordgo.Member, u *discordgo.User) string {
	if m != nil && m.Nick != "" {
		return m.Nick
	}
	if u != nil {
		if u.GlobalName != "" {
			return u.GlobalName
		}
		return u.Username
	}
	return ""
}

func accountLine(a player.Account) string {
	line := fmt.Sprintf("%d", a.GameID)
	if a.Name != "" {
		line += " - " + a.Name
	}
	return line
}

type idShowCommand struct{ c *Commands }

func (cmd *idShowCommand) Name() string        { return "show" }
func (cmd *idShowCommand) Description() string { return "Show the IDs of yourself or another member" }
func (cmd *idShowCommand) Options() []*discordgo.ApplicationCommandOption {
	return []*discordgo.ApplicationCommandOption{memberOption("Member to look up")}
}
func (cmd *idShowCommand) RequiresGuild() bool       { return false }
func (cmd *idShowCommand) RequiresPermissions() bool { return false }

func (cmd *idShowCommand) Handle(ctx *core.Context) error {
	memberID := ctx.Options().User("member")
	if memberID == "" {
		memberID = ctx.UserID
	}
	name := memberName(ctx, memberID)

	accounts, err := cmd.c.players.ByOwner(memberID)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return ctx.Responder.Info(ctx.Interaction,
			fmt.Sprintf("No ID is set yet for %s. You can add it with `/id add`.", name))
	}

	lines := make([]string, 0, len(accounts))
	for _, a := range accounts {
		prefix := ""
		if a.IsMain {
			prefix = "*"
		}
		lines = append(lines, prefix+accountLine(a))
	}
	return ctx.Responder.Embed(ctx.Interaction, false, &discordgo.MessageEmbed{
		Title:       "Registered IDs",
		Description: strings.Join(lines, "\n"),
		Author:      &discordgo.MessageEmbedAuthor{Name: name},
		Color:       core.ColorInfo,
	})
}

type idAddCommand struct{ c *Commands }

func (cmd *idAddCommand) Name() string        { return "add" }
func (cmd *idAddCommand) Description() string { return "Register a game ID" }
func (cmd *idAddCommand) Options() []*discordgo.ApplicationCommandOption {
	return []*discordgo.ApplicationCommandOption{
		gameIDOption(),
		memberOption("Member to register the ID to (deputies only)"),
	}
}
func (cmd *idAddCommand) RequiresGuild() bool       { return false }
func (cmd *idAddCommand) RequiresPermissions() bool { return false }

func (cmd *idAddCommand) Handle(ctx *core.Context) error {
	opts := ctx.Options()
	gameID := opts.Int("game_id")
	if gameID <= 0 {
		return core.NewValidationError("game_id", "Game IDs are positive numbers.")
	}
	ownerID := opts.User("member")
	if ownerID == "" {
		ownerID = ctx.UserID
	}
	if ownerID != ctx.UserID && !ctx.IsDeputy {
		return core.NewCommandError("Unable to set the ID of other members, sorry!", true)
	}

	existing, err := cmd.c.players.Get(gameID)
	switch {
	case err == nil:
		holder := "User ID " + existing.OwnerID
		if existing.OwnerID != "" {
			holder = memberName(ctx, existing.OwnerID)
		}
		return ctx.Responder.Warning(ctx.Interaction,
			fmt.Sprintf("Player '%d' is already registered to %s.", gameID, holder))
	case !stderrors.Is(err, player.ErrNotFound):
		return err
	}

	if _, err := cmd.c.players.Register(gameID, ownerID); err != nil {
		return err
	}
	ctx.Logger.Info("Game ID registered", "game_id", gameID, "owner", ownerID)
	return ctx.Responder.Success(ctx.Interaction,
		fmt.Sprintf("Player '%d' added to %s.", gameID, memberName(ctx, ownerID)))
}

type idRemoveCommand struct{ c *Commands }

func (cmd *idRemoveCommand) Name() string        { return "remove" }
func (cmd *idRemoveCommand) Description() string { return "Remove a game ID" }
func (cmd *idRemoveCommand) Options() []*discordgo.ApplicationCommandOption {
	return []*discordgo.ApplicationCommandOption{gameIDOption()}
}
func (cmd *idRemoveCommand) RequiresGuild() bool       { return false }
func (cmd *idRemoveCommand) RequiresPermissions() bool { return false }

func (cmd *idRemoveCommand) Handle(ctx *core.Context) error {
	gameID := ctx.Options().Int("game_id")
	acct, err := cmd.c.players.Get(gameID)
	if stderrors.Is(err, player.ErrNotFound) {
		return core.NewCommandError("This ID doesn't exist.", true)
	}
	if err != nil {
		return err
	}

	own := acct.OwnerID == ctx.UserID
	if !own && !ctx.IsDeputy {
		return core.NewCommandError("Unable to delete IDs belonging to other members, sorry!", true)
	}
	if err := cmd.c.players.Remove(gameID, acct.OwnerID); err != nil {
		return err
	}
	ctx.Logger.Info("Game ID removed", "game_id", gameID, "owner", acct.OwnerID)

	if acct.OwnerID == "" {
		return ctx.Responder.Success(ctx.Interaction, fmt.Sprintf("ID %d has been removed.", gameID))
	}
	return ctx.Responder.Success(ctx.Interaction,
		fmt.Sprintf("ID %d has been removed from %s.", gameID, memberName(ctx, acct.OwnerID)))
}

func (c *Commands) lookup(ctx *core.Context) (player.Account, error) {
	gameID := ctx.Options().Int("game_id")
	acct, err := c.players.Get(gameID)
	if stderrors.Is(err, player.ErrNotFound) {
		return acct, core.NewCommandError(fmt.Sprintf("Player with ID %d not found.", gameID), true)
	}
	return acct, err
}

func (c *Commands) handlePlayerShow(ctx *core.Context) error {
	acct, err := c.lookup(ctx)
	if err != nil {
		return err
	}
	name := acct.Name
	if name == "" {
		name = "No name set."
	}
	owner := "Nobody"
	if acct.OwnerID != "" {
		owner = memberName(ctx, acct.OwnerID)
	}
	desc := fmt.Sprintf("Name: %s\nRegistered to: %s\nMain: %t", name, owner, acct.IsMain)
	if acct.Level > 0 {
		desc += fmt.Sprintf("\nLevel: %d", acct.Level)
	}
	if acct.ServerID > 0 {
		desc += fmt.Sprintf("\nServer: %d", acct.ServerID)
	}
	return ctx.Responder.Embed(ctx.Interaction, false, &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%d", acct.GameID),
		Description: desc,
		Color:       core.ColorInfo,
	})
}

func (c *Commands) handlePlayerMain(ctx *core.Context) error {
	acct, err := c.lookup(ctx)
	if err != nil {
		return err
	}
	if acct.OwnerID != ctx.UserID {
		return core.NewCommandError(fmt.Sprintf("Player %d is not registered to you.", acct.GameID), true)
	}
	if err := c.players.SetMain(ctx.UserID, acct.GameID); err != nil {
		return err
	}
	label := acct.Name
	if label == "" {
		label = fmt.Sprintf("%d", acct.GameID)
	}
	return ctx.Responder.Success(ctx.Interaction, fmt.Sprintf("Player '%s' is now set to main.", label))
}

func (c *Commands) handlePlayerName(ctx *core.Context) error {
	acct, err := c.lookup(ctx)
	if err != nil {
		return err
	}
	name, err := ctx.Options().StringRequired("name")
	if err != nil {
		return err
	}
	if err := c.players.SetName(acct.GameID, name); err != nil {
		return err
	}
	return ctx.Responder.Success(ctx.Interaction, fmt.Sprintf("Player name is now set to '%s'.", name))
}

func (c *Commands) handleVerified(ctx *core.Context) error {
	all := ctx.Options().Bool("all")
	if all && !ctx.IsDeputy {
		return core.NewCommandError("You do not have permission to list every verified player.", true)
	}

	var accounts []player.Account
	if !all {
		var err error
		if accounts, err = c.players.ByOwner(ctx.UserID); err != nil {
			return err
		}
		if len(accounts) == 0 {
			return ctx.Responder.Info(ctx.Interaction, "You don't have an ID registered. You can add it with `/id add`.")
		}
	}

	// Probes call the vendor API.
	if err := ctx.Responder.DeferResponse(ctx.Interaction, false); err != nil {
		return err
	}

	var lines []string
	if all {
		for _, s := range c.sessions.AllVerified(ctx.Ctx) {
			lines = append(lines, c.verifiedLine(ctx, s.GameID()))
		}
		if len(lines) == 0 {
			return ctx.Responder.EditResponse(ctx.Interaction, "No Player IDs are verified currently.")
		}
	} else {
		for _, a := range accounts {
			s, ok := c.sessions.Get(a.GameID)
			if !ok {
				continue
			}
			verified, err := s.IsVerified(ctx.Ctx)
			if err != nil {
				ctx.Logger.Warn("Session probe failed", "game_id", a.GameID, "err", err)
				continue
			}
			if verified {
				lines = append(lines, accountLine(a))
			}
		}
		if len(lines) == 0 {
			return ctx.Responder.EditResponse(ctx.Interaction, "None of your Player IDs are verified currently.")
		}
	}
	return ctx.Responder.EditResponse(ctx.Interaction,
		"The following Player IDs are still verified:\n"+strings.Join(lines, "\n"))
}

func (c *Commands) verifiedLine(ctx *core.Context, gameID int64) string {
	acct, err := c.players.Get(gameID)
	if err != nil {
		return fmt.Sprintf("Unregistered: %d", gameID)
	}
	owner := "Not in guild"
	if acct.OwnerID != "" {
		owner = memberName(ctx, acct.OwnerID)
	}
	return fmt.Sprintf("%s: %s", owner, acct.Label())
}
