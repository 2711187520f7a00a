package giftcode

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/scragly/dreaf/pkg/log"
	"github.com/scragly/dreaf/pkg/storage"
)

// DefaultCacheSize bounds the number of code records kept in memory.
const DefaultCacheSize = 256

// Backend is the persistence the registry needs. *storage.Store satisfies it.
type Backend interface {
	UpsertCode(rec storage.CodeRecord) error
	GetCode(code string) (*storage.CodeRecord, error)
	ListCodes(includeExpired bool, now time.Time) ([]storage.CodeRecord, error)
	DeleteCode(code string) (bool, error)
	SetCodeExpiry(code string, expiry time.Time, hasExpiry bool) (bool, error)
	MarkCodeExpired(code string, now time.Time) (bool, error)
	SetCodePosted(code string, posted bool) error
	UpsertCodeReward(code, reward string, qty int64) error
	DeleteCodeReward(code, reward string) (bool, error)
	ListCodeRewards(code string) ([]storage.RewardRecord, error)
	ListRewardNames() ([]string, error)
	MarkRedeemed(playerID int64, code string, at time.Time) (bool, error)
	IsRedeemed(playerID int64, code string) (bool, error)
	ListRedeemedCodes(playerID int64) ([]string, error)
}

// AddResult describes what Add did.
type AddResult int

const (
	Unchanged AddResult = iota
	Created
	Updated
)

func (r AddResult) String() string {
	switch r {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Registry is the shared gift code store. Reads go through an LRU of full
// records (rewards included); every mutation evicts the affected entry.
//
// A fill read from the store before a mutation must not land in the cache after
// that mutation evicted the key. gen counts mutations; a fill is only cached
// when gen has not moved since its store read began.
type Registry struct {
	store Backend
	cache *lru.Cache[string, Code]

	mu  sync.Mutex
	gen uint64
}

// NewRegistry creates a registry over store. cacheSize <= 0 uses DefaultCacheSize.
func NewRegistry(store Backend, cacheSize int) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("giftcode: nil store")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, Code](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("giftcode: create cache: %w", err)
	}
	return &Registry{store: store, cache: cache}, nil
}

func (r *Registry) generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

// invalidate runs after a store mutation so in-flight fills are discarded.
func (r *Registry) invalidate(key string) {
	r.mu.Lock()
	r.gen++
	r.cache.Remove(key)
	r.mu.Unlock()
}

func (r *Registry) fill(c Code, gen uint64) {
	r.mu.Lock()
	if r.gen == gen {
		r.cache.Add(c.Code, c)
	}
	r.mu.Unlock()
}

// load builds the full record. gen is the generation taken before rec was read.
func (r *Registry) load(rec storage.CodeRecord, gen uint64) (Code, error) {
	c := Code{Code: rec.Code, Posted: rec.Posted}
	if rec.HasExpiry {
		exp := rec.Expiry
		c.Expiry = &exp
	}
	rewards, err := r.store.ListCodeRewards(rec.Code)
	if err != nil {
		return Code{}, err
	}
	for _, rw := range rewards {
		c.Rewards = append(c.Rewards, Reward{Name: rw.Reward, Qty: rw.Qty})
	}
	r.fill(c, gen)
	return c, nil
}

// Get returns the code, or ErrNotFound.
func (r *Registry) Get(code string) (Code, error) {
	key := Normalize(code)
	if c, ok := r.cache.Get(key); ok {
		return c, nil
	}
	gen := r.generation()
	rec, err := r.store.GetCode(key)
	if err != nil {
		return Code{}, err
	}
	if rec == nil {
		return Code{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return r.load(*rec, gen)
}

// Add creates a code or learns its expiry. A nil expiry never clears a known one.
func (r *Registry) Add(code string, expiry *time.Time) (Code, AddResult, error) {
	key := Normalize(code)
	if key == "" {
		return Code{}, Unchanged, fmt.Errorf("giftcode: empty code")
	}

	existing, err := r.store.GetCode(key)
	if err != nil {
		return Code{}, Unchanged, err
	}

	rec := storage.CodeRecord{Code: key}
	if expiry != nil {
		rec.Expiry, rec.HasExpiry = *expiry, true
	}

	result := Created
	if existing != nil {
		if expiry == nil || (existing.HasExpiry && existing.Expiry.Equal(expiry.UTC().Truncate(time.Second))) {
			c, err := r.Get(key)
			return c, Unchanged, err
		}
		rec.Posted = existing.Posted
		result = Updated
	}

	r.cache.Remove(key)
	err = r.store.UpsertCode(rec)
	r.invalidate(key)
	if err != nil {
		return Code{}, Unchanged, err
	}
	log.DatabaseLogger().Info("Gift code saved", "code", key, "result", result.String())

	c, err := r.Get(key)
	return c, result, err
}

// Save writes the code and its rewards.
func (r *Registry) Save(c Code) error {
	key := Normalize(c.Code)
	rec := storage.CodeRecord{Code: key, Posted: c.Posted}
	if c.Expiry != nil {
		rec.Expiry, rec.HasExpiry = *c.Expiry, true
	}
	r.cache.Remove(key)
	defer r.invalidate(key)
	if err := r.store.UpsertCode(rec); err != nil {
		return err
	}
	for _, rw := range c.Rewards {
		if err := r.store.UpsertCodeReward(key, rw.Name, rw.Qty); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the code with its rewards and redemption records.
func (r *Registry) Delete(code string) (bool, error) {
	key := Normalize(code)
	r.cache.Remove(key)
	existed, err := r.store.DeleteCode(key)
	r.invalidate(key)
	if err == nil && existed {
		log.DatabaseLogger().Info("Gift code deleted", "code", key)
	}
	return existed, err
}

// SetExpiry sets the expiry, or clears it when expiry is nil.
func (r *Registry) SetExpiry(code string, expiry *time.Time) error {
	key := Normalize(code)
	var t time.Time
	if expiry != nil {
		t = *expiry
	}
	r.cache.Remove(key)
	found, err := r.store.SetCodeExpiry(key, t, expiry != nil)
	r.invalidate(key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

// MarkExpired records that the vendor reported the code expired at now. Expiry is a
// property of the code, so this affects every account.
func (r *Registry) MarkExpired(code string, now time.Time) (bool, error) {
	key := Normalize(code)
	r.cache.Remove(key)
	defer r.invalidate(key)
	return r.store.MarkCodeExpired(key, now)
}

// SetPosted flags the code as announced.
func (r *Registry) SetPosted(code string, posted bool) error {
	key := Normalize(code)
	r.cache.Remove(key)
	defer r.invalidate(key)
	return r.store.SetCodePosted(key, posted)
}

// Active returns the codes that are not known to be expired at now.
func (r *Registry) Active(now time.Time) ([]Code, error) {
	return r.list(false, now)
}

// All returns every stored code, expired ones included.
func (r *Registry) All() ([]Code, error) {
	return r.list(true, time.Now())
}

// MissingExpiry returns the active codes whose expiry is unknown.
func (r *Registry) MissingExpiry(now time.Time) ([]Code, error) {
	codes, err := r.Active(now)
	if err != nil {
		return nil, err
	}
	out := codes[:0]
	for _, c := range codes {
		if !c.HasExpiry() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *Registry) list(includeExpired bool, now time.Time) ([]Code, error) {
	gen := r.generation()
	recs, err := r.store.ListCodes(includeExpired, now)
	if err != nil {
		return nil, err
	}
	out := make([]Code, 0, len(recs))
	for _, rec := range recs {
		c, err := r.load(rec, gen)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// IsRedeemed reports whether the account has redeemed the code.
func (r *Registry) IsRedeemed(gameID int64, code string) (bool, error) {
	return r.store.IsRedeemed(gameID, Normalize(code))
}

// MarkRedeemed records a redemption; repeated marks do not duplicate the record.
func (r *Registry) MarkRedeemed(gameID int64, code string, at time.Time) (bool, error) {
	return r.store.MarkRedeemed(gameID, Normalize(code), at)
}

// RedeemedBy returns the codes the account has redeemed.
func (r *Registry) RedeemedBy(gameID int64) ([]string, error) {
	return r.store.ListRedeemedCodes(gameID)
}
