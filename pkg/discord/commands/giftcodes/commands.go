package giftcodes

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/scragly/dreaf/pkg/discord/commands/core"
	"github.com/scragly/dreaf/pkg/discord/prompt"
	"github.com/scragly/dreaf/pkg/errors"
	"github.com/scragly/dreaf/pkg/giftcode"
	"github.com/scragly/dreaf/pkg/player"
	"github.com/scragly/dreaf/pkg/redeem"
)

// Commands implements /code and /redeem.
type Commands struct {
	redeemer *Redeemer
	queue    Queue
	waiter   *prompt.Waiter
	handler  *errors.ErrorHandler
	now      func() time.Time

	// newPrompter opens the DM conversation used for verification.
	newPrompter func(ctx *core.Context, userID string) redeem.Prompter
}

// NewCommands creates the gift code commands. queue may be nil, which disables
// background work such as board refreshes.
func NewCommands(redeemer *Redeemer, queue Queue, waiter *prompt.Waiter, handler *errors.ErrorHandler) *Commands {
	c := &Commands{
		redeemer: redeemer,
		queue:    queue,
		waiter:   waiter,
		handler:  handler,
		now:      time.Now,
	}
	c.newPrompter = func(ctx *core.Context, userID string) redeem.Prompter {
		return prompt.NewDM(ctx.Session, c.waiter, c.handler, userID)
	}
	return c
}

func codeOption(required, autocomplete bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionString,
		Name:         "code",
		Description:  "Gift code",
		Required:     required,
		Autocomplete: autocomplete,
	}
}

func expiryOption(required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "expiry",
		Description: "Expiry in UTC, e.g. 2024-12-31 23:59; \"none\" clears it",
		Required:    required,
	}
}

func memberOption(description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        "member",
		Description: description,
		Required:    required,
	}
}

// RegisterCommands adds /code and /redeem to router.
func (c *Commands) RegisterCommands(router *core.CommandRouter) {
	code := core.NewGroupCommand("code", "Gift code information")
	code.AddSubCommand(core.NewSimpleCommand("show", "Show what is known about a gift code",
		[]*discordgo.ApplicationCommandOption{codeOption(true, true)}, c.handleShow, false, false))
	code.AddSubCommand(core.NewSimpleCommand("add", "Add a new gift code or update its expiry",
		[]*discordgo.ApplicationCommandOption{codeOption(true, false), expiryOption(false)}, c.handleAdd, false, false))
	code.AddSubCommand(core.NewSimpleCommand("expires", "Set the expiry of an existing code",
		[]*discordgo.ApplicationCommandOption{codeOption(true, true), expiryOption(true)}, c.handleExpires, false, false))
	code.AddSubCommand(core.NewSimpleCommand("reward-add", "Add a reward to a code",
		[]*discordgo.ApplicationCommandOption{
			codeOption(true, true),
			{Type: discordgo.ApplicationCommandOptionString, Name: "reward", Description: "Reward name", Required: true, Autocomplete: true},
			{Type: discordgo.ApplicationCommandOptionInteger, Name: "qty", Description: "Quantity", Required: true, MinValue: floatPtr(1)},
		}, c.handleRewardAdd, false, true))
	code.AddSubCommand(core.NewSimpleCommand("reward-remove", "Remove a reward from a code",
		[]*discordgo.ApplicationCommandOption{
			codeOption(true, true),
			{Type: discordgo.ApplicationCommandOptionString, Name: "reward", Description: "Reward name", Required: true, Autocomplete: true},
		}, c.handleRewardRemove, false, true))
	code.AddSubCommand(core.NewSimpleCommand("list", "Show all active codes",
		[]*discordgo.ApplicationCommandOption{memberOption("Tick the codes this member has redeemed", false)}, c.handleList, false, false))
	code.AddSubCommand(core.NewSimpleCommand("noexpiry", "Show active codes that are missing an expiry",
		nil, c.handleNoExpiry, false, false))
	router.RegisterCommand(code)
	router.RegisterAutocomplete("code", c)

	rd := core.NewGroupCommand("redeem", "Redeem gift codes")
	rd.AddSubCommand(core.NewSimpleCommand("now", "Redeem every active code on your account",
		[]*discordgo.ApplicationCommandOption{codeOption(false, false)}, c.handleRedeemNow, false, false))
	rd.AddSubCommand(core.NewSimpleCommand("other", "Redeem for another member without verifying",
		[]*discordgo.ApplicationCommandOption{memberOption("Member to redeem for", true)}, c.handleRedeemOther, true, true))
	rd.AddSubCommand(core.NewSimpleCommand("force", "Redeem again, ignoring what was already recorded",
		[]*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionBoolean,
			Name:        "everyone",
			Description: "Queue a forced redemption on every verified session",
		}}, c.handleRedeemForce, true, true))
	router.RegisterCommand(rd)
}

func floatPtr(f float64) *float64 { return &f }

// HandleAutocomplete suggests codes and reward names.
func (c *Commands) HandleAutocomplete(ctx *core.Context, focusedOption string) ([]*discordgo.ApplicationCommandOptionChoice, error) {
	query := ""
	if opt, ok := core.HasFocusedOption(ctx.Interaction.ApplicationCommandData().Options); ok {
		query = strings.TrimSpace(opt.StringValue())
	}

	switch focusedOption {
	case "reward":
		names, err := c.redeemer.Codes().SuggestRewards(query, 25)
		if err != nil {
			return nil, err
		}
		return core.CreateChoicesFromStrings(names), nil
	case "code":
		codes, err := c.redeemer.Codes().All()
		if err != nil {
			return nil, err
		}
		query = giftcode.Normalize(query)
		var names []string
		for _, code := range codes {
			if strings.HasPrefix(code.Code, query) {
				names = append(names, code.Code)
			}
		}
		return core.CreateChoicesFromStrings(names), nil
	}
	return nil, nil
}

func (c *Commands) refreshBoard(ctx *core.Context) {
	if c.queue == nil {
		return
	}
	if err := c.queue.EnqueueBoardRefresh(); err != nil {
		ctx.Logger.Debug("Board refresh not queued", "err", err)
	}
}

func (c *Commands) getCode(name string) (giftcode.Code, error) {
	code, err := c.redeemer.Codes().Get(name)
	if stderrors.Is(err, giftcode.ErrNotFound) {
		return code, core.NewCommandError(fmt.Sprintf("Code '%s' not found.", giftcode.Normalize(name)), true)
	}
	return code, err
}

func (c *Commands) handleShow(ctx *core.Context) error {
	name, err := ctx.Options().StringRequired("code")
	if err != nil {
		return err
	}
	code, err := c.getCode(name)
	if err != nil {
		return err
	}
	return ctx.Responder.Embed(ctx.Interaction, false, codeEmbed(code, c.now()))
}

func (c *Commands) handleAdd(ctx *core.Context) error {
	opts := ctx.Options()
	name, err := opts.StringRequired("code")
	if err != nil {
		return err
	}
	var expiry *time.Time
	if raw := opts.String("expiry"); raw != "" {
		if expiry, err = parseExpiry(raw); err != nil {
			return err
		}
	}

	code, result, err := c.redeemer.Codes().Add(name, expiry)
	if err != nil {
		return err
	}
	switch result {
	case giftcode.Unchanged:
		return ctx.Responder.Info(ctx.Interaction, fmt.Sprintf("Code '%s' already exists.", code.Code))
	case giftcode.Updated:
		c.refreshBoard(ctx)
		return ctx.Responder.Success(ctx.Interaction, fmt.Sprintf("Code '%s' has been updated.", code.Code))
	}

	if err := ctx.Responder.DeferResponse(ctx.Interaction, false); err != nil {
		return err
	}
	results, err := c.redeemer.RedeemOnVerified(ctx.Ctx, []string{code.Code})
	if err != nil {
		ctx.Logger.Warn("Auto-redemption of new code incomplete", "code", code.Code, "err", err)
	}
	defer c.refreshBoard(ctx)

	if _, err := c.redeemer.Codes().Get(code.Code); stderrors.Is(err, giftcode.ErrNotFound) {
		return ctx.Responder.EditResponse(ctx.Interaction, fmt.Sprintf("Code '%s' is not valid.", code.Code))
	}
	msg := fmt.Sprintf("Code '%s' has been added.", code.Code)
	if c.redeemer.RedeemedFor(ctx.UserID, code.Code, results) {
		msg = fmt.Sprintf("Code '%s' has been added and automatically redeemed to your account.", code.Code)
	}
	return ctx.Responder.EditResponse(ctx.Interaction, msg)
}

func (c *Commands) handleExpires(ctx *core.Context) error {
	opts := ctx.Options()
	name, err := opts.StringRequired("code")
	if err != nil {
		return err
	}
	raw, err := opts.StringRequired("expiry")
	if err != nil {
		return err
	}
	var expiry *time.Time
	if !isNoExpiry(raw) {
		if expiry, err = parseExpiry(raw); err != nil {
			return err
		}
	}
	if _, err := c.getCode(name); err != nil {
		return err
	}
	if err := c.redeemer.Codes().SetExpiry(name, expiry); err != nil {
		return err
	}
	code, err := c.getCode(name)
	if err != nil {
		return err
	}
	c.refreshBoard(ctx)
	return ctx.Responder.Embed(ctx.Interaction, false, codeEmbed(code, c.now()))
}

func (c *Commands) handleRewardAdd(ctx *core.Context) error {
	opts := ctx.Options()
	name, err := opts.StringRequired("code")
	if err != nil {
		return err
	}
	reward, err := opts.StringRequired("reward")
	if err != nil {
		return err
	}
	qty := opts.Int("qty")
	if qty <= 0 {
		return core.NewValidationError("qty", "Quantity must be positive.")
	}
	if _, err := c.getCode(name); err != nil {
		return err
	}
	stored, err := c.redeemer.Codes().AddReward(name, reward, qty)
	if err != nil {
		return err
	}
	c.refreshBoard(ctx)
	return ctx.Responder.Success(ctx.Interaction,
		fmt.Sprintf("Added %s x %s to gift code '%s'.", giftcode.FriendlyNumber(qty), stored, giftcode.Normalize(name)))
}

func (c *Commands) handleRewardRemove(ctx *core.Context) error {
	opts := ctx.Options()
	name, err := opts.StringRequired("code")
	if err != nil {
		return err
	}
	reward, err := opts.StringRequired("reward")
	if err != nil {
		return err
	}
	if _, err := c.getCode(name); err != nil {
		return err
	}
	removed, err := c.redeemer.Codes().RemoveReward(name, reward)
	if err != nil {
		return core.NewCommandError(fmt.Sprintf("No reward matching '%s' on that code.", reward), true)
	}
	c.refreshBoard(ctx)
	return ctx.Responder.Success(ctx.Interaction,
		fmt.Sprintf("Removed %s from gift code '%s'.", removed, giftcode.Normalize(name)))
}

func (c *Commands) handleList(ctx *core.Context) error {
	codes, err := c.redeemer.Codes().Active(c.now())
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		return ctx.Responder.Info(ctx.Interaction, "No active codes.")
	}

	memberID := ctx.Options().User("member")
	if memberID == "" {
		memberID = ctx.UserID
	}

	footer := "Code List"
	var redeemed map[string]bool
	acct, err := c.redeemer.Players().Primary(memberID)
	switch {
	case err == nil:
		done, err := c.redeemer.Codes().RedeemedBy(acct.GameID)
		if err != nil {
			return err
		}
		redeemed = make(map[string]bool, len(done))
		for _, code := range done {
			redeemed[code] = true
		}
		footer = fmt.Sprintf("Code List for %s (%d)", resolvedName(ctx, memberID), acct.GameID)
	case !stderrors.Is(err, player.ErrNotFound):
		return err
	}
	return ctx.Responder.Embed(ctx.Interaction, false, listEmbed(codes, redeemed, footer, false))
}

func (c *Commands) handleNoExpiry(ctx *core.Context) error {
	codes, err := c.redeemer.Codes().MissingExpiry(c.now())
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		return ctx.Responder.Info(ctx.Interaction, "Every active code has an expiry.")
	}
	embed := listEmbed(codes, nil, "Codes missing an expiry", true)
	return ctx.Responder.Embed(ctx.Interaction, false, embed)
}

func (c *Commands) handleRedeemNow(ctx *core.Context) error {
	if raw := ctx.Options().String("code"); raw != "" {
		if _, _, err := c.redeemer.Codes().Add(raw, nil); err != nil {
			return err
		}
	}
	return c.runInteractive(ctx, Request{
		OwnerID:  ctx.UserID,
		Prompter: c.newPrompter(ctx, ctx.UserID),
	})
}

func (c *Commands) handleRedeemOther(ctx *core.Context) error {
	memberID := ctx.Options().User("member")
	if memberID == "" {
		return core.NewValidationError("member", "Option 'member' is required")
	}
	return c.runInteractive(ctx, Request{OwnerID: memberID, Requester: ctx.UserID})
}

func (c *Commands) handleRedeemForce(ctx *core.Context) error {
	if !ctx.Options().Bool("everyone") {
		return c.runInteractive(ctx, Request{
			OwnerID:  ctx.UserID,
			Force:    true,
			Prompter: c.newPrompter(ctx, ctx.UserID),
		})
	}

	if c.queue == nil {
		return core.NewCommandError("Background redemption is not available.", true)
	}
	codes, err := c.redeemer.activeCodes()
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		return ctx.Responder.Info(ctx.Interaction, "No active codes.")
	}
	if err := ctx.Responder.DeferResponse(ctx.Interaction, true); err != nil {
		return err
	}
	queued := 0
	for _, s := range c.redeemer.Sessions().AllVerified(ctx.Ctx) {
		if err := c.queue.EnqueueSessionRedeem(s.GameID(), codes, true, "force"); err != nil {
			ctx.Logger.Warn("Forced redemption not queued", "game_id", s.GameID(), "err", err)
			continue
		}
		queued++
	}
	return ctx.Responder.EditResponse(ctx.Interaction,
		fmt.Sprintf("Queued a forced redemption of %d code%s on %d session%s.", len(codes), plural(len(codes)), queued, plural(queued)))
}

// runInteractive defers the reply, redeems, and edits the reply with the result.
func (c *Commands) runInteractive(ctx *core.Context, req Request) error {
	if err := ctx.Responder.DeferResponse(ctx.Interaction, false); err != nil {
		return err
	}
	report, err := c.redeemer.Redeem(ctx.Ctx, req)
	if err != nil {
		msg, known := Guidance(err)
		if !known {
			ctx.Logger.Error("Redemption failed", "owner", req.OwnerID, "err", err)
			msg = "Something went wrong while redeeming. Please try again later."
		}
		return ctx.Responder.EditResponse(ctx.Interaction, msg)
	}
	c.refreshBoard(ctx)
	return ctx.Responder.EditResponseWithEmbed(ctx.Interaction, reportEmbed(report, resolvedName(ctx, req.OwnerID)))
}

// resolvedName names userID using the interaction's resolved data or member.
func resolvedName(ctx *core.Context, userID string) string {
	i := ctx.Interaction
	if userID == ctx.UserID && i.Member != nil {
		return displayName(i.Member, userID)
	}
	if i.Type == discordgo.InteractionApplicationCommand {
		if res := i.ApplicationCommandData().Resolved; res != nil {
			m := res.Members[userID]
			if m != nil && m.User == nil {
				m.User = res.Users[userID]
			}
			if m == nil && res.Users[userID] != nil {
				m = &discordgo.Member{User: res.Users[userID]}
			}
			return displayName(m, userID)
		}
	}
	return displayName(nil, userID)
}

var expiryLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02",
	"2006/01/02",
}

// parseExpiry reads an expiry given in UTC. Date-only values mean the end of that day.
func parseExpiry(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "UTC"))
	for _, layout := range expiryLayouts {
		t, err := time.ParseInLocation(layout, raw, time.UTC)
		if err != nil {
			continue
		}
		if layout == "2006-01-02" || layout == "2006/01/02" {
			t = t.Add(24*time.Hour - time.Second)
		}
		t = t.UTC()
		return &t, nil
	}
	return nil, core.NewValidationError("expiry", fmt.Sprintf("Couldn't read '%s' as a date. Try 2024-12-31 23:59.", raw))
}

func isNoExpiry(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "none", "unknown", "clear":
		return true
	}
	return false
}
