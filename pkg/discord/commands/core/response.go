package core

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

// Embed colours used across the bot.
const (
	ColorSuccess = 0x57F287
	ColorError   = 0xED4245
	ColorWarning = 0xFEE75C
	ColorInfo    = 0x5865F2
	ColorMuted   = 0x99AAB5
)

// ResponseType selects the prefix or embed style of a reply
type ResponseType int

const (
	ResponseSuccess ResponseType = iota
	ResponseError
	ResponseWarning
	ResponseInfo
	ResponseLoading
)

// ResponseConfig configures a ResponseManager
type ResponseConfig struct {
	Ephemeral bool
	Title     string
	Color     int
	WithEmbed bool
	Footer    string
	Timestamp bool
}

// ResponseManager answers interactions
type ResponseManager struct {
	session *discordgo.Session
	config  ResponseConfig
}

func NewResponseManager(session *discordgo.Session) *ResponseManager {
	return &ResponseManager{
		session: session,
		config:  ResponseConfig{},
	}
}

// WithConfig returns a copy of rm using config.
func (rm *ResponseManager) WithConfig(config ResponseConfig) *ResponseManager {
	return &ResponseManager{
		session: rm.session,
		config:  config,
	}
}

func (rm *ResponseManager) Success(i *discordgo.InteractionCreate, message string) error {
	return rm.sendResponse(i, message, ResponseSuccess)
}

func (rm *ResponseManager) Error(i *discordgo.InteractionCreate, message string) error {
	return rm.sendResponse(i, message, ResponseError)
}

func (rm *ResponseManager) Warning(i *discordgo.InteractionCreate, message string) error {
	return rm.sendResponse(i, message, ResponseWarning)
}

func (rm *ResponseManager) Info(i *discordgo.InteractionCreate, message string) error {
	return rm.sendResponse(i, message, ResponseInfo)
}

// Ephemeral sends an ephemeral error-styled reply.
func (rm *ResponseManager) Ephemeral(i *discordgo.InteractionCreate, message string) error {
	config := rm.config
	config.Ephemeral = true
	return rm.WithConfig(config).Error(i, message)
}

// Embed replies with embeds, optionally visible to the invoker only.
func (rm *ResponseManager) Embed(i *discordgo.InteractionCreate, ephemeral bool, embeds ...*discordgo.MessageEmbed) error {
	return rm.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: embeds,
			Flags:  flagsFor(ephemeral),
		},
	})
}

func (rm *ResponseManager) sendResponse(i *discordgo.InteractionCreate, message string, responseType ResponseType) error {
	data := &discordgo.InteractionResponseData{Flags: flagsFor(rm.config.Ephemeral)}
	if rm.config.WithEmbed {
		data.Embeds = []*discordgo.MessageEmbed{rm.createEmbed(message, responseType)}
	} else {
		data.Content = formatTextMessage(message, responseType)
	}
	return rm.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
}

func flagsFor(ephemeral bool) discordgo.MessageFlags {
	if ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}

func formatTextMessage(message string, responseType ResponseType) string {
	switch responseType {
	case ResponseSuccess:
		return "✅ " + message
	case ResponseError:
		return "❌ " + message
	case ResponseWarning:
		return "⚠️ " + message
	case ResponseInfo:
		return "ℹ️ " + message
	case ResponseLoading:
		return "⏳ " + message
	default:
		return message
	}
}

func (rm *ResponseManager) createEmbed(message string, responseType ResponseType) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Description: message,
		Color:       rm.colorFor(responseType),
		Title:       rm.config.Title,
	}
	if embed.Title == "" {
		embed.Title = titleFor(responseType)
	}
	if rm.config.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: rm.config.Footer}
	}
	if rm.config.Timestamp {
		embed.Timestamp = time.Now().Format(time.RFC3339)
	}
	return embed
}

func (rm *ResponseManager) colorFor(responseType ResponseType) int {
	if rm.config.Color != 0 {
		return rm.config.Color
	}
	switch responseType {
	case ResponseSuccess:
		return ColorSuccess
	case ResponseError:
		return ColorError
	case ResponseWarning:
		return ColorWarning
	case ResponseInfo, ResponseLoading:
		return ColorInfo
	default:
		return ColorMuted
	}
}

func titleFor(responseType ResponseType) string {
	switch responseType {
	case ResponseSuccess:
		return "Success"
	case ResponseError:
		return "Error"
	case ResponseWarning:
		return "Warning"
	case ResponseInfo:
		return "Information"
	case ResponseLoading:
		return "Working..."
	default:
		return ""
	}
}

// Autocomplete answers an autocomplete request with at most 25 choices.
func (rm *ResponseManager) Autocomplete(i *discordgo.InteractionCreate, choices []*discordgo.ApplicationCommandOptionChoice) error {
	if len(choices) > 25 {
		choices = choices[:25]
	}
	return rm.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	})
}

// DeferResponse acknowledges the interaction for long-running work.
func (rm *ResponseManager) DeferResponse(i *discordgo.InteractionCreate, ephemeral bool) error {
	return rm.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flagsFor(ephemeral)},
	})
}

func (rm *ResponseManager) EditResponse(i *discordgo.InteractionCreate, content string) error {
	_, err := rm.session.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
	return err
}

func (rm *ResponseManager) EditResponseWithEmbed(i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) error {
	_, err := rm.session.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Embeds: &[]*discordgo.MessageEmbed{embed},
	})
	return err
}

func (rm *ResponseManager) FollowUp(i *discordgo.InteractionCreate, content string, ephemeral bool) error {
	_, err := rm.session.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   flagsFor(ephemeral),
	})
	return err
}
