package giftcodes

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/scragly/dreaf/pkg/giftcode"
	"github.com/scragly/dreaf/pkg/lilith"
	"github.com/scragly/dreaf/pkg/player"
	"github.com/scragly/dreaf/pkg/redeem"
	"github.com/scragly/dreaf/pkg/storage"
)

// fakeVendor redeems every code except those listed in results. VerifyCode
// accepts "123456" and clears loginExpired.
type fakeVendor struct {
	mu           sync.Mutex
	loginExpired bool
	results      map[string]lilith.ConsumeResult
	consumed     map[string]int
	jar          *lilith.Jar
}

func newFakeVendor(loginExpired bool) *fakeVendor {
	return &fakeVendor{
		loginExpired: loginExpired,
		results:      make(map[string]lilith.ConsumeResult),
		consumed:     make(map[string]int),
		jar:          lilith.NewJar(),
	}
}

func (v *fakeVendor) SendMail(ctx context.Context, uid int64) error { return nil }

func (v *fakeVendor) VerifyCode(ctx context.Context, uid int64, code string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if code != "123456" {
		return lilith.ErrWrongCode
	}
	v.loginExpired = false
	u, _ := url.Parse("https://cdkey.lilith.com/api/verify-code")
	v.jar.SetCookies(u, []*http.Cookie{{Name: "session", Value: fmt.Sprint(uid), Path: "/"}})
	return nil
}

func (v *fakeVendor) VerifyAFKCode(ctx context.Context, uid int64, code string) error {
	return v.VerifyCode(ctx, uid, code)
}

func (v *fakeVendor) Users(ctx context.Context, uid int64) ([]lilith.User, error) {
	return nil, nil
}

func (v *fakeVendor) Jar() *lilith.Jar { return v.jar }

func (v *fakeVendor) Consume(ctx context.Context, uid int64, cdkey string) (lilith.ConsumeResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.loginExpired {
		return lilith.ConsumeLoginExpired, nil
	}
	if cdkey == "thisisaninvalidcode" {
		return lilith.ConsumeNotFound, nil
	}
	v.consumed[cdkey]++
	if res, ok := v.results[cdkey]; ok {
		return res, nil
	}
	return lilith.ConsumeOK, nil
}

func (v *fakeVendor) calls(code string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.consumed[code]
}

type testEnv struct {
	store    *storage.Store
	codes    *giftcode.Registry
	players  *player.Registry
	sessions *redeem.Registry
	redeemer *Redeemer

	mu      sync.Mutex
	pending []*fakeVendor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store := storage.NewStore(filepath.Join(dir, "giftcodes.db"))
	if err := store.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	codes, err := giftcode.NewRegistry(store, 16)
	if err != nil {
		t.Fatalf("code registry: %v", err)
	}
	env := &testEnv{store: store, codes: codes, players: player.NewRegistry(store)}
	env.sessions = redeem.NewRegistry(redeem.RegistryOptions{
		Codes:       codes,
		Players:     env.players,
		Credentials: redeem.NewCredentialStore(filepath.Join(dir, "sessions"), 0),
		NewConn: func(jar *lilith.Jar) redeem.Vendor {
			env.mu.Lock()
			defer env.mu.Unlock()
			if len(env.pending) == 0 {
				t.Errorf("unexpected session creation")
				return newFakeVendor(true)
			}
			v := env.pending[0]
			env.pending = env.pending[1:]
			if jar != nil {
				v.jar = jar
			}
			return v
		},
	})
	env.redeemer = NewRedeemer(codes, env.players, env.sessions, redeem.VerifyOptions{ReplyWindow: 5 * time.Second})
	return env
}

// account registers gameID to owner and creates its session backed by v.
func (e *testEnv) account(t *testing.T, gameID int64, owner string, v *fakeVendor) *redeem.Session {
	t.Helper()
	if _, err := e.players.Register(gameID, owner); err != nil {
		t.Fatalf("register %d: %v", gameID, err)
	}
	e.mu.Lock()
	e.pending = append(e.pending, v)
	e.mu.Unlock()
	return e.sessions.GetOrCreate(gameID)
}

func (e *testEnv) addCodes(t *testing.T, codes ...string) {
	t.Helper()
	for _, c := range codes {
		if _, _, err := e.codes.Add(c, nil); err != nil {
			t.Fatalf("add %s: %v", c, err)
		}
	}
}

// scriptedPrompter replies with the queued answers, then times out.
type scriptedPrompter struct {
	mu      sync.Mutex
	replies []string
	sent    []string
}

func (p *scriptedPrompter) Send(ctx context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, text)
	return nil
}

func (p *scriptedPrompter) Await(ctx context.Context, window time.Duration) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.replies) == 0 {
		return "", redeem.ErrPromptTimeout
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r, nil
}

type sentMessage struct {
	channelID string
	content   string
	embed     *discordgo.MessageEmbed
}

type reaction struct {
	channelID, messageID, emoji, userID string
	removed                             bool
}

// fakeMessenger records what the bot posts.
type fakeMessenger struct {
	mu        sync.Mutex
	nextID    int
	sent      []sentMessage
	edits     []sentMessage
	reactions []reaction
	editErr   error
	dmErr     error
}

func (m *fakeMessenger) id() string {
	m.nextID++
	return fmt.Sprintf("m%d", m.nextID)
}

func (m *fakeMessenger) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: "dm-" + recipientID, Type: discordgo.ChannelTypeDM}, nil
}

func (m *fakeMessenger) send(channelID, content string, embed *discordgo.MessageEmbed) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dmErr != nil && len(channelID) > 3 && channelID[:3] == "dm-" {
		return nil, m.dmErr
	}
	m.sent = append(m.sent, sentMessage{channelID: channelID, content: content, embed: embed})
	return &discordgo.Message{ID: m.id(), ChannelID: channelID, Content: content}, nil
}

func (m *fakeMessenger) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return m.send(channelID, content, nil)
}

func (m *fakeMessenger) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return m.send(channelID, "", embed)
}

func (m *fakeMessenger) ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return nil, m.editErr
	}
	m.edits = append(m.edits, sentMessage{channelID: channelID, embed: embed})
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (m *fakeMessenger) ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, sentMessage{channelID: channelID, content: content})
	return &discordgo.Message{ID: messageID, ChannelID: channelID, Content: content}, nil
}

func (m *fakeMessenger) MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, reaction{channelID: channelID, messageID: messageID, emoji: emojiID})
	return nil
}

func (m *fakeMessenger) MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, reaction{channelID: channelID, messageID: messageID, emoji: emojiID, userID: userID, removed: true})
	return nil
}

func (m *fakeMessenger) sentTo(channelID string) []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentMessage
	for _, s := range m.sent {
		if s.channelID == channelID {
			out = append(out, s)
		}
	}
	return out
}

// recordingQueue collects queued work.
type recordingQueue struct {
	mu        sync.Mutex
	auto      [][]string
	sessions  []int64
	forced    []bool
	refreshes int
}

func (q *recordingQueue) EnqueueAutoRedeem(codes []string, source string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.auto = append(q.auto, codes)
	return nil
}

func (q *recordingQueue) EnqueueSessionRedeem(gameID int64, codes []string, force bool, source string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sessions = append(q.sessions, gameID)
	q.forced = append(q.forced, force)
	return nil
}

func (q *recordingQueue) EnqueueBoardRefresh() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.refreshes++
	return nil
}
