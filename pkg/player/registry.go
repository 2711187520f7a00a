// Package player maps Discord members to the game accounts they registered.
package player

import (
	"errors"
	"fmt"

	"github.com/scragly/dreaf/pkg/log"
	"github.com/scragly/dreaf/pkg/storage"
)

// ErrNotFound is returned when an account or an owner's accounts are unknown.
var ErrNotFound = errors.New("player not found")

// Account is one game account. OwnerID is the Discord user ID, empty when unknown.
type Account struct {
	GameID   int64
	OwnerID  string
	IsMain   bool
	Name     string
	ServerID int64
	Level    int64
}

// Label returns the account name with its ID, or just the ID when unnamed.
func (a Account) Label() string {
	if a.Name == "" {
		return fmt.Sprintf("%d", a.GameID)
	}
	return fmt.Sprintf("%s (%d)", a.Name, a.GameID)
}

// Backend is the persistence the registry needs. *storage.Store satisfies it.
type Backend interface {
	RegisterPlayer(gameID int64, discordID string) error
	UpsertPlayer(rec storage.PlayerRecord) error
	GetPlayer(gameID int64) (*storage.PlayerRecord, error)
	ListPlayersByOwner(discordID string) ([]storage.PlayerRecord, error)
	GetMainPlayer(discordID string) (*storage.PlayerRecord, error)
	SetMainPlayer(discordID string, gameID int64) (bool, error)
	SetPlayerName(gameID int64, name string) (bool, error)
	DeletePlayer(gameID int64, discordID string) (bool, error)
}

type Registry struct {
	store Backend
}

func NewRegistry(store Backend) *Registry {
	return &Registry{store: store}
}

func fromRecord(rec storage.PlayerRecord) Account {
	return Account{
		GameID:   rec.GameID,
		OwnerID:  rec.DiscordID,
		IsMain:   rec.Main,
		Name:     rec.Name,
		ServerID: rec.ServerID,
		Level:    rec.Level,
	}
}

func toRecord(a Account) storage.PlayerRecord {
	return storage.PlayerRecord{
		GameID:    a.GameID,
		DiscordID: a.OwnerID,
		Main:      a.IsMain,
		Name:      a.Name,
		ServerID:  a.ServerID,
		Level:     a.Level,
	}
}

// Get returns the account, or ErrNotFound.
func (r *Registry) Get(gameID int64) (Account, error) {
	rec, err := r.store.GetPlayer(gameID)
	if err != nil {
		return Account{}, err
	}
	if rec == nil {
		return Account{}, fmt.Errorf("%w: %d", ErrNotFound, gameID)
	}
	return fromRecord(*rec), nil
}

// ByOwner returns the owner's accounts in registration order.
func (r *Registry) ByOwner(ownerID string) ([]Account, error) {
	recs, err := r.store.ListPlayersByOwner(ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]Account, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fromRecord(rec))
	}
	return out, nil
}

// Primary returns the owner's main account, or the first one registered when none
// is flagged main.
func (r *Registry) Primary(ownerID string) (Account, error) {
	rec, err := r.store.GetMainPlayer(ownerID)
	if err != nil {
		return Account{}, err
	}
	if rec == nil {
		return Account{}, fmt.Errorf("%w: no accounts for %s", ErrNotFound, ownerID)
	}
	return fromRecord(*rec), nil
}

// Register links gameID to ownerID.
func (r *Registry) Register(gameID int64, ownerID string) (Account, error) {
	if gameID <= 0 {
		return Account{}, fmt.Errorf("invalid game id %d", gameID)
	}
	if err := r.store.RegisterPlayer(gameID, ownerID); err != nil {
		return Account{}, err
	}
	log.DatabaseLogger().Info("Game account registered", "game_id", gameID, "owner", ownerID)
	return r.Get(gameID)
}

// Remove unlinks an account. Only its owner may remove it.
func (r *Registry) Remove(gameID int64, ownerID string) error {
	ok, err := r.store.DeletePlayer(gameID, ownerID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d is not registered to %s", ErrNotFound, gameID, ownerID)
	}
	return nil
}

// SetMain makes gameID the owner's main account.
func (r *Registry) SetMain(ownerID string, gameID int64) error {
	ok, err := r.store.SetMainPlayer(ownerID, gameID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d is not registered to %s", ErrNotFound, gameID, ownerID)
	}
	return nil
}

// SetName sets the display name of an account.
func (r *Registry) SetName(gameID int64, name string) error {
	ok, err := r.store.SetPlayerName(gameID, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, gameID)
	}
	return nil
}

// SaveRoster persists the accounts the vendor lists under one login, all owned by
// ownerID. Names, servers, levels and main flags come from the vendor.
func (r *Registry) SaveRoster(ownerID string, accounts []Account) error {
	for _, a := range accounts {
		a.OwnerID = ownerID
		if err := r.store.UpsertPlayer(toRecord(a)); err != nil {
			return fmt.Errorf("save roster account %d: %w", a.GameID, err)
		}
	}
	return nil
}
