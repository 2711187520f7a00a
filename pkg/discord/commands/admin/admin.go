// Package admin implements the deputy-only /admin commands.
package admin

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/scragly/dreaf/pkg/discord/commands/core"
	"github.com/scragly/dreaf/pkg/service"
	"github.com/scragly/dreaf/pkg/task"
)

// ServiceLister reports the state of the bot's services.
type ServiceLister interface {
	Services() []service.ServiceInfo
}

// TaskStats reports the background task router's load.
type TaskStats interface {
	Stats() task.Stats
}

// SessionCounter reports how many vendor sessions are loaded.
type SessionCounter interface {
	Count() int
}

// Commands provides administrative commands for service management
type Commands struct {
	services ServiceLister
	tasks    TaskStats
	sessions SessionCounter
	started  time.Time
	now      func() time.Time
}

// NewCommands creates the admin commands. Any source may be nil.
func NewCommands(services ServiceLister, tasks TaskStats, sessions SessionCounter) *Commands {
	return &Commands{
		services: services,
		tasks:    tasks,
		sessions: sessions,
		started:  time.Now(),
		now:      time.Now,
	}
}

// RegisterCommands registers all admin commands with the router
func (c *Commands) RegisterCommands(router *core.CommandRouter) {
	adminCmd := core.NewGroupCommand("admin", "Administrative commands for bot management")
	adminCmd.AddSubCommand(&statusCommand{c})
	router.RegisterCommand(adminCmd)
}

// statusCommand shows services, background tasks and loaded vendor sessions.
type statusCommand struct {
	c *Commands
}

func (cmd *statusCommand) Name() string        { return "status" }
func (cmd *statusCommand) Description() string { return "Show the state of the bot's services" }
func (cmd *statusCommand) Options() []*discordgo.ApplicationCommandOption {
	return nil
}
func (cmd *statusCommand) RequiresGuild() bool       { return false }
func (cmd *statusCommand) RequiresPermissions() bool { return true }

func (cmd *statusCommand) Handle(ctx *core.Context) error {
	return ctx.Responder.Embed(ctx.Interaction, true, cmd.c.statusEmbed())
}

func (c *Commands) statusEmbed() *discordgo.MessageEmbed {
	now := c.now()
	embed := &discordgo.MessageEmbed{
		Title:       "Bot Status",
		Description: fmt.Sprintf("Uptime: %s", now.Sub(c.started).Round(time.Second)),
		Color:       0x5865F2,
		Timestamp:   now.Format(time.RFC3339),
	}

	if c.services != nil {
		var lines []string
		for _, info := range c.services.Services() {
			line := fmt.Sprintf("%s **%s**: %s", stateIcon(info.State), info.Service.Name(), info.State)
			if info.State == service.StateRunning && info.StartTime != nil {
				line += fmt.Sprintf(" (%s)", now.Sub(*info.StartTime).Round(time.Second))
			}
			if info.State == service.StateError && info.LastError != nil {
				line += fmt.Sprintf("\n  `%v`", info.LastError)
			}
			lines = append(lines, line)
		}
		if len(lines) == 0 {
			lines = append(lines, "No services registered.")
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Services", Value: strings.Join(lines, "\n")})
	}

	if c.tasks != nil {
		st := c.tasks.Stats()
		value := fmt.Sprintf("Groups: %d\nIn flight: %d\nHandlers: %d", st.GroupsCount, st.InflightCount, st.RegisteredTypes)
		if st.RouterClosed {
			value += "\nRouter closed"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Tasks", Value: value, Inline: true})
	}

	if c.sessions != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Vendor sessions",
			Value:  fmt.Sprintf("%d loaded", c.sessions.Count()),
			Inline: true,
		})
	}
	return embed
}

func stateIcon(s service.ServiceState) string {
	switch s {
	case service.StateRunning:
		return "✅"
	case service.StateError:
		return "❌"
	case service.StateStopped, service.StateUninitialized:
		return "⏹️"
	default:
		return "⏳"
	}
}
