package redeem

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/scragly/dreaf/pkg/giftcode"
	"github.com/scragly/dreaf/pkg/lilith"
	"github.com/scragly/dreaf/pkg/player"
	"github.com/scragly/dreaf/pkg/storage"
)

// fakeVendor answers like the vendor API. Consume results are looked up by
// "uid|code", then by code; anything unlisted succeeds.
type fakeVendor struct {
	mu sync.Mutex

	loginExpired bool
	results      map[string]lilith.ConsumeResult
	errs         map[string]error
	delays       map[string]time.Duration
	users        []lilith.User
	mailErr      error
	goodCode     string

	consumeCalls map[string]int
	verifyCalls  int
	mailCalls    int
	jar          *lilith.Jar
}

func newFakeVendor() *fakeVendor {
	return &fakeVendor{
		results:      make(map[string]lilith.ConsumeResult),
		errs:         make(map[string]error),
		delays:       make(map[string]time.Duration),
		consumeCalls: make(map[string]int),
		goodCode:     "123456",
		jar:          lilith.NewJar(),
	}
}

func key(uid int64, code string) string { return fmt.Sprintf("%d|%s", uid, code) }

func (f *fakeVendor) SendMail(ctx context.Context, uid int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mailCalls++
	return f.mailErr
}

func (f *fakeVendor) VerifyCode(ctx context.Context, uid int64, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	if code != f.goodCode {
		return lilith.ErrWrongCode
	}
	f.loginExpired = false
	u, _ := url.Parse("https://cdkey.lilith.com/api/verify-code")
	f.jar.SetCookies(u, []*http.Cookie{{Name: "session", Value: fmt.Sprintf("uid-%d", uid), Path: "/"}})
	return nil
}

func (f *fakeVendor) VerifyAFKCode(ctx context.Context, uid int64, code string) error {
	return f.VerifyCode(ctx, uid, code)
}

func (f *fakeVendor) Consume(ctx context.Context, uid int64, cdkey string) (lilith.ConsumeResult, error) {
	f.mu.Lock()
	f.consumeCalls[key(uid, cdkey)]++
	delay := f.delays[cdkey]
	loginExpired := f.loginExpired
	err := f.errs[cdkey]
	res, ok := f.results[key(uid, cdkey)]
	if !ok {
		res, ok = f.results[cdkey]
	}
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if loginExpired {
		return lilith.ConsumeLoginExpired, nil
	}
	if err != nil {
		return 0, err
	}
	if cdkey == probeCode {
		return lilith.ConsumeNotFound, nil
	}
	if !ok {
		return lilith.ConsumeOK, nil
	}
	return res, nil
}

func (f *fakeVendor) Users(ctx context.Context, uid int64) ([]lilith.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginExpired {
		return nil, lilith.ErrLoginExpired
	}
	return append([]lilith.User(nil), f.users...), nil
}

func (f *fakeVendor) Jar() *lilith.Jar { return f.jar }

func (f *fakeVendor) calls(uid int64, code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consumeCalls[key(uid, code)]
}

type testEnv struct {
	store    *storage.Store
	codes    *giftcode.Registry
	players  *player.Registry
	creds    *CredentialStore
	registry *Registry
	vendors  map[int64]*fakeVendor
	vendorMu sync.Mutex
	pending  []*fakeVendor
}

// newTestEnv builds a registry over a temp database. Sessions created through it
// receive the fake vendors queued with expectVendor, or a fresh one.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store := storage.NewStore(filepath.Join(dir, "redeem.db"))
	if err := store.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	codes, err := giftcode.NewRegistry(store, 16)
	if err != nil {
		t.Fatalf("code registry: %v", err)
	}
	env := &testEnv{
		store:   store,
		codes:   codes,
		players: player.NewRegistry(store),
		creds:   NewCredentialStore(filepath.Join(dir, "sessions"), DefaultRetention),
		vendors: make(map[int64]*fakeVendor),
	}
	env.registry = NewRegistry(RegistryOptions{
		Codes:       env.codes,
		Players:     env.players,
		Credentials: env.creds,
		NewConn: func(jar *lilith.Jar) Vendor {
			env.vendorMu.Lock()
			defer env.vendorMu.Unlock()
			var fv *fakeVendor
			if len(env.pending) > 0 {
				fv, env.pending = env.pending[0], env.pending[1:]
			} else {
				fv = newFakeVendor()
			}
			if jar != nil {
				fv.jar = jar
			}
			return fv
		},
	})
	return env
}

func (e *testEnv) expectVendor(fv *fakeVendor) {
	e.vendorMu.Lock()
	e.pending = append(e.pending, fv)
	e.vendorMu.Unlock()
}

// session creates the session of gameID backed by fv.
func (e *testEnv) session(t *testing.T, gameID int64, fv *fakeVendor) *Session {
	t.Helper()
	e.expectVendor(fv)
	s := e.registry.GetOrCreate(gameID)
	if s.conn != Vendor(fv) {
		t.Fatalf("session %d already existed with another vendor", gameID)
	}
	return s
}

func (e *testEnv) addCodes(t *testing.T, codes ...string) {
	t.Helper()
	for _, c := range codes {
		if _, _, err := e.codes.Add(c, nil); err != nil {
			t.Fatalf("add code %s: %v", c, err)
		}
	}
}

// scriptedPrompter replays canned replies. When gate is set, Await blocks until
// the gate is closed.
type scriptedPrompter struct {
	mu      sync.Mutex
	replies []string
	sent    []string
	gate    chan struct{}
	waiting chan struct{}
	sendErr error
	// failOn makes Send fail with sendErr only for this exact text.
	failOn string
}

func (p *scriptedPrompter) Send(ctx context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil && (p.failOn == "" || p.failOn == text) {
		return p.sendErr
	}
	p.sent = append(p.sent, text)
	return nil
}

func (p *scriptedPrompter) Await(ctx context.Context, window time.Duration) (string, error) {
	if p.gate != nil {
		if p.waiting != nil {
			close(p.waiting)
			p.waiting = nil
		}
		select {
		case <-p.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.replies) == 0 {
		return "", ErrPromptTimeout
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r, nil
}

func (p *scriptedPrompter) messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}
