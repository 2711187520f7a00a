package redeem

import (
	"context"
	"sort"
	"sync"

	"github.com/scragly/dreaf/pkg/lilith"
	"github.com/scragly/dreaf/pkg/log"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrency bounds the vendor calls of one batch.
const DefaultMaxConcurrency = 16

// RegistryOptions wires a Registry.
type RegistryOptions struct {
	Client      *lilith.Client
	Codes       CodeStore
	Players     PlayerStore
	Credentials *CredentialStore
	// MaxConcurrency bounds concurrent vendor calls per batch.
	MaxConcurrency int
	// NewConn overrides how connections are opened; nil uses Client.
	NewConn func(jar *lilith.Jar) Vendor
}

// Registry owns the one Session per game account and the set of members that are
// mid-handshake.
type Registry struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	active   map[string]struct{}

	codes          CodeStore
	players        PlayerStore
	creds          *CredentialStore
	maxConcurrency int
	newConn        func(jar *lilith.Jar) Vendor
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	newConn := opts.NewConn
	if newConn == nil {
		client := opts.Client
		if client == nil {
			client = lilith.NewClient(lilith.Options{})
		}
		newConn = func(jar *lilith.Jar) Vendor { return client.NewConn(jar) }
	}
	return &Registry{
		sessions:       make(map[int64]*Session),
		active:         make(map[string]struct{}),
		codes:          opts.Codes,
		players:        opts.Players,
		creds:          opts.Credentials,
		maxConcurrency: opts.MaxConcurrency,
		newConn:        newConn,
	}
}

// GetOrCreate returns the session of gameID, creating an unauthenticated one on
// first use. Every call for the same gameID returns the same *Session.
func (r *Registry) GetOrCreate(gameID int64) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(gameID, nil)
}

func (r *Registry) getOrCreateLocked(gameID int64, jar *lilith.Jar) *Session {
	if s, ok := r.sessions[gameID]; ok {
		return s
	}
	s := &Session{gameID: gameID, conn: r.newConn(jar), registry: r}
	r.sessions[gameID] = s
	return s
}

// Get returns the session of gameID if one exists.
func (r *Registry) Get(gameID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[gameID]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions returns every live session ordered by game ID.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].gameID < out[j].gameID })
	return out
}

// AllVerified probes every session concurrently and returns the verified ones
// ordered by game ID. Sessions whose probe fails are logged and left out.
func (r *Registry) AllVerified(ctx context.Context) []*Session {
	sessions := r.Sessions()
	ok := make([]bool, len(sessions))

	var g errgroup.Group
	g.SetLimit(r.maxConcurrency)
	for i, s := range sessions {
		g.Go(func() error {
			verified, err := s.IsVerified(ctx)
			if err != nil {
				log.RedeemLogger().Warn("Session probe failed", "game_id", s.gameID, "err", err)
				return nil
			}
			ok[i] = verified
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*Session, 0, len(sessions))
	for i, s := range sessions {
		if ok[i] {
			out = append(out, s)
		}
	}
	return out
}

// InProgress reports whether requester is mid-handshake.
func (r *Registry) InProgress(requester string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[requester]
	return ok
}

func (r *Registry) beginVerification(requester string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[requester]; ok {
		return false
	}
	r.active[requester] = struct{}{}
	return true
}

func (r *Registry) endVerification(requester string) {
	r.mu.Lock()
	delete(r.active, requester)
	r.mu.Unlock()
}

// Restore loads every persisted credential within retention into a session.
// Accounts that already have a session keep it. Returns how many were restored.
func (r *Registry) Restore() (int, error) {
	if r.creds == nil {
		return 0, nil
	}
	creds, err := r.creds.LoadAll()
	if err != nil {
		return 0, err
	}

	logger := log.RedeemLogger()
	restored := 0
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range creds {
		if _, exists := r.sessions[c.GameID]; exists {
			continue
		}
		jar, err := lilith.LoadJar(c.Data)
		if err != nil {
			logger.Warn("Discarding unreadable credential", "game_id", c.GameID, "file", c.Path, "err", err)
			continue
		}
		r.getOrCreateLocked(c.GameID, jar)
		restored++
	}
	logger.Info("Sessions restored", "count", restored, "dir", r.creds.Dir())
	return restored, nil
}
