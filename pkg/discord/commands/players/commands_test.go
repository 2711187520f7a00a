package players

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/scragly/dreaf/pkg/config"
	"github.com/scragly/dreaf/pkg/discord/commands/core"
	"github.com/scragly/dreaf/pkg/giftcode"
	"github.com/scragly/dreaf/pkg/lilith"
	"github.com/scragly/dreaf/pkg/player"
	"github.com/scragly/dreaf/pkg/redeem"
	"github.com/scragly/dreaf/pkg/storage"
)

// probeVendor only answers session probes.
type probeVendor struct {
	loginExpired bool
	jar          *lilith.Jar
}

func (v *probeVendor) SendMail(context.Context, int64) error             { return nil }
func (v *probeVendor) VerifyCode(context.Context, int64, string) error    { return nil }
func (v *probeVendor) VerifyAFKCode(context.Context, int64, string) error { return nil }
func (v *probeVendor) Users(context.Context, int64) ([]lilith.User, error) {
	return nil, nil
}
func (v *probeVendor) Jar() *lilith.Jar { return v.jar }
func (v *probeVendor) Consume(context.Context, int64, string) (lilith.ConsumeResult, error) {
	if v.loginExpired {
		return lilith.ConsumeLoginExpired, nil
	}
	return lilith.ConsumeNotFound, nil
}

// recorder keeps the visible text of every reply and reply edit in order.
type recorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *recorder) add(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.texts) == 0 {
		return ""
	}
	return r.texts[len(r.texts)-1]
}

type harness struct {
	players  *player.Registry
	sessions *redeem.Registry
	router   *core.CommandRouter
	rec      *recorder
	next     *probeVendor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/callback"):
			var resp discordgo.InteractionResponse
			_ = json.NewDecoder(r.Body).Decode(&resp)
			if d := resp.Data; d != nil {
				switch {
				case d.Content != "":
					rec.add(d.Content)
				case len(d.Embeds) > 0:
					rec.add(d.Embeds[0].Title + "\n" + d.Embeds[0].Description)
				}
			}
			w.WriteHeader(http.StatusNoContent)
		case strings.HasSuffix(r.URL.Path, "/messages/@original"):
			var edit discordgo.WebhookEdit
			_ = json.NewDecoder(r.Body).Decode(&edit)
			if edit.Content != nil {
				rec.add(*edit.Content)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"reply"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	oldAPI, oldWebhooks := discordgo.EndpointAPI, discordgo.EndpointWebhooks
	discordgo.EndpointAPI = server.URL + "/"
	discordgo.EndpointWebhooks = server.URL + "/webhooks/"
	t.Cleanup(func() {
		discordgo.EndpointAPI = oldAPI
		discordgo.EndpointWebhooks = oldWebhooks
	})

	s, err := discordgo.New("Bot test-token")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	s.ShouldRetryOnRateLimit = false
	s.MaxRestRetries = 0
	_ = s.State.GuildAdd(&discordgo.Guild{ID: "guild", OwnerID: "owner"})
	_ = s.State.MemberAdd(&discordgo.Member{GuildID: "guild", Nick: "Scout", User: &discordgo.User{ID: "u2", Username: "scout"}})

	dir := t.TempDir()
	store := storage.NewStore(filepath.Join(dir, "players.db"))
	if err := store.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	codes, err := giftcode.NewRegistry(store, 8)
	if err != nil {
		t.Fatalf("codes: %v", err)
	}

	h := &harness{players: player.NewRegistry(store), rec: rec}
	h.sessions = redeem.NewRegistry(redeem.RegistryOptions{
		Codes:   codes,
		Players: h.players,
		NewConn: func(*lilith.Jar) redeem.Vendor {
			v := h.next
			if v == nil {
				v = &probeVendor{loginExpired: true}
			}
			h.next = nil
			v.jar = lilith.NewJar()
			return v
		},
	})

	cfg := config.Default()
	cfg.Discord.DeputyRoleIDs = []string{"deputy"}
	h.router = core.NewCommandRouter(context.Background(), s, core.NewPermissionChecker(s, cfg))
	NewCommands(h.players, h.sessions).RegisterCommands(h.router)
	return h
}

// register links gameID to owner and opens its session.
func (h *harness) register(t *testing.T, gameID int64, owner string, verified bool) {
	t.Helper()
	if _, err := h.players.Register(gameID, owner); err != nil {
		t.Fatalf("register: %v", err)
	}
	h.next = &probeVendor{loginExpired: !verified}
	h.sessions.GetOrCreate(gameID)
}

func intOpt(name string, v int64) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionInteger, Value: float64(v)}
}

func userOpt(name, id string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionUser, Value: id}
}

func strOpt(name, v string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionString, Value: v}
}

func boolOpt(name string, v bool) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionBoolean, Value: v}
}

func (h *harness) run(command, sub, userID string, roles []string, opts ...*discordgo.ApplicationCommandInteractionDataOption) string {
	options := opts
	if sub != "" {
		options = []*discordgo.ApplicationCommandInteractionDataOption{{
			Name: sub, Type: discordgo.ApplicationCommandOptionSubCommand, Options: opts,
		}}
	}
	h.router.HandleInteraction(nil, &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:      "interaction",
		AppID:   "app",
		Token:   "token",
		Type:    discordgo.InteractionApplicationCommand,
		GuildID: "guild",
		Member:  &discordgo.Member{User: &discordgo.User{ID: userID, Username: userID}, Roles: roles},
		Data:    discordgo.ApplicationCommandInteractionData{Name: command, Options: options},
	}})
	return h.rec.last()
}

func TestIDAddSelf(t *testing.T) {
	h := newHarness(t)

	got := h.run("id", "add", "u1", nil, intOpt("game_id", 1001))
	if !strings.Contains(got, "Player '1001' added to u1.") {
		t.Fatalf("unexpected reply %q", got)
	}
	acct, err := h.players.Get(1001)
	if err != nil || acct.OwnerID != "u1" {
		t.Fatalf("account not registered: %+v %v", acct, err)
	}

	got = h.run("id", "add", "u3", nil, intOpt("game_id", 1001))
	if !strings.Contains(got, "already registered to") {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestIDAddForOtherMember(t *testing.T) {
	h := newHarness(t)

	got := h.run("id", "add", "u1", nil, intOpt("game_id", 1002), userOpt("member", "u2"))
	if !strings.Contains(got, "Unable to set the ID of other members, sorry!") {
		t.Fatalf("unexpected reply %q", got)
	}
	if _, err := h.players.Get(1002); err == nil {
		t.Fatalf("account must not be registered")
	}

	got = h.run("id", "add", "d1", []string{"deputy"}, intOpt("game_id", 1002), userOpt("member", "u2"))
	if !strings.Contains(got, "Player '1002' added to Scout.") {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestIDShow(t *testing.T) {
	h := newHarness(t)

	if got := h.run("id", "show", "u1", nil); !strings.Contains(got, "No ID is set yet for u1.") {
		t.Fatalf("unexpected reply %q", got)
	}

	h.register(t, 1001, "u1", false)
	h.register(t, 1002, "u1", false)
	if err := h.players.SetMain("u1", 1002); err != nil {
		t.Fatalf("set main: %v", err)
	}
	if err := h.players.SetName(1002, "Alt"); err != nil {
		t.Fatalf("set name: %v", err)
	}
	got := h.run("id", "show", "u1", nil)
	if got != "Registered IDs\n1001\n*1002 - Alt" {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestIDRemove(t *testing.T) {
	h := newHarness(t)
	h.register(t, 1001, "u2", false)

	if got := h.run("id", "remove", "u1", nil, intOpt("game_id", 1001)); !strings.Contains(got, "belonging to other members") {
		t.Fatalf("unexpected reply %q", got)
	}
	if got := h.run("id", "remove", "u1", nil, intOpt("game_id", 9999)); !strings.Contains(got, "This ID doesn't exist.") {
		t.Fatalf("unexpected reply %q", got)
	}
	if got := h.run("id", "remove", "d1", []string{"deputy"}, intOpt("game_id", 1001)); !strings.Contains(got, "ID 1001 has been removed from Scout.") {
		t.Fatalf("unexpected reply %q", got)
	}
	if _, err := h.players.Get(1001); err == nil {
		t.Fatalf("account should be gone")
	}
}

func TestPlayerMainAndName(t *testing.T) {
	h := newHarness(t)
	h.register(t, 1001, "u1", false)
	h.register(t, 1002, "u1", false)

	if got := h.run("player", "main", "u2", nil, intOpt("game_id", 1002)); !strings.Contains(got, "not registered to you") {
		t.Fatalf("unexpected reply %q", got)
	}
	if got := h.run("player", "main", "u1", nil, intOpt("game_id", 1002)); !strings.Contains(got, "Player '1002' is now set to main.") {
		t.Fatalf("unexpected reply %q", got)
	}
	if primary, _ := h.players.Primary("u1"); primary.GameID != 1002 {
		t.Fatalf("primary = %d", primary.GameID)
	}

	if got := h.run("player", "name", "u1", nil, intOpt("game_id", 1002), strOpt("name", "Alt")); !strings.Contains(got, "permission") {
		t.Fatalf("naming needs a deputy, got %q", got)
	}
	if got := h.run("player", "name", "d1", []string{"deputy"}, intOpt("game_id", 1002), strOpt("name", "Alt")); !strings.Contains(got, "Player name is now set to 'Alt'.") {
		t.Fatalf("unexpected reply %q", got)
	}
	if got := h.run("player", "show", "u1", nil, intOpt("game_id", 1002)); !strings.Contains(got, "Name: Alt\nRegistered to: u1\nMain: true") {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestVerified(t *testing.T) {
	h := newHarness(t)

	if got := h.run("verified", "", "u1", nil); !strings.Contains(got, "You don't have an ID registered.") {
		t.Fatalf("unexpected reply %q", got)
	}

	h.register(t, 1001, "u1", true)
	h.register(t, 1002, "u1", false)
	h.register(t, 2001, "u2", true)

	if got := h.run("verified", "", "u1", nil); got != "The following Player IDs are still verified:\n1001" {
		t.Fatalf("unexpected reply %q", got)
	}
	if got := h.run("verified", "", "u1", nil, boolOpt("all", true)); !strings.Contains(got, "permission") {
		t.Fatalf("listing all needs a deputy, got %q", got)
	}
	got := h.run("verified", "", "d1", []string{"deputy"}, boolOpt("all", true))
	if got != "The following Player IDs are still verified:\nUser ID u1: 1001\nScout: 2001" {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestVerifiedNoneVerified(t *testing.T) {
	h := newHarness(t)
	h.register(t, 1001, "u1", false)

	if got := h.run("verified", "", "u1", nil); got != "None of your Player IDs are verified currently." {
		t.Fatalf("unexpected reply %q", got)
	}
	if got := h.run("verified", "", "d1", []string{"deputy"}, boolOpt("all", true)); got != "No Player IDs are verified currently." {
		t.Fatalf("unexpected reply %q", got)
	}
}
