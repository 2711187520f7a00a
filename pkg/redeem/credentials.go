package redeem

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/scragly/dreaf/pkg/log"
)

const credentialExt = ".session"

// DefaultRetention is how long a persisted credential is trusted.
const DefaultRetention = 14 * 24 * time.Hour

// Credential is one persisted vendor login.
type Credential struct {
	GameID  int64
	SavedAt time.Time
	Data    []byte
	Path    string
}

// CredentialStore keeps one snapshot file per game account, named
// <game id>_<unix seconds>.session.
type CredentialStore struct {
	dir       string
	retention time.Duration
	now       func() time.Time
	mu        sync.Mutex
}

func NewCredentialStore(dir string, retention time.Duration) *CredentialStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &CredentialStore{dir: dir, retention: retention, now: time.Now}
}

// Dir returns the directory holding the snapshots.
func (cs *CredentialStore) Dir() string { return cs.dir }

func credentialName(gameID int64, at time.Time) string {
	return fmt.Sprintf("%d_%d%s", gameID, at.Unix(), credentialExt)
}

func parseCredentialName(name string) (gameID int64, savedAt time.Time, ok bool) {
	if !strings.HasSuffix(name, credentialExt) {
		return 0, time.Time{}, false
	}
	id, ts, found := strings.Cut(strings.TrimSuffix(name, credentialExt), "_")
	if !found {
		return 0, time.Time{}, false
	}
	gameID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	return gameID, time.Unix(unix, 0), true
}

// Save replaces every snapshot of gameID with data.
func (cs *CredentialStore) Save(gameID int64, data []byte) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err := os.MkdirAll(cs.dir, 0o700); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	if err := cs.purgeLocked(gameID); err != nil {
		return err
	}

	path := filepath.Join(cs.dir, credentialName(gameID, cs.now()))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit credential: %w", err)
	}
	log.RedeemLogger().Info("Credential saved", "game_id", gameID, "file", filepath.Base(path))
	return nil
}

// Purge removes every snapshot of gameID.
func (cs *CredentialStore) Purge(gameID int64) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.purgeLocked(gameID)
}

func (cs *CredentialStore) purgeLocked(gameID int64) error {
	matches, err := filepath.Glob(filepath.Join(cs.dir, fmt.Sprintf("%d_*%s", gameID, credentialExt)))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if id, _, ok := parseCredentialName(filepath.Base(m)); !ok || id != gameID {
			continue
		}
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("purge credential: %w", err)
		}
	}
	return nil
}

// LoadAll deletes snapshots older than the retention window without reading them
// and returns the others, newest per game account, ordered by game ID.
func (cs *CredentialStore) LoadAll() ([]Credential, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	entries, err := os.ReadDir(cs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	logger := log.RedeemLogger()
	now := cs.now()
	latest := make(map[int64]Credential)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != credentialExt {
			continue
		}
		path := filepath.Join(cs.dir, e.Name())
		gameID, savedAt, ok := parseCredentialName(e.Name())
		if !ok {
			logger.Warn("Skipping malformed credential file", "file", e.Name())
			continue
		}
		if savedAt.Add(cs.retention).Before(now) {
			logger.Info("Credential older than retention, removing", "file", e.Name(), "retention", cs.retention)
			_ = os.Remove(path)
			continue
		}
		if prev, ok := latest[gameID]; ok && !savedAt.After(prev.SavedAt) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("Unreadable credential file", "file", e.Name(), "err", err)
			continue
		}
		latest[gameID] = Credential{GameID: gameID, SavedAt: savedAt, Data: data, Path: path}
	}

	out := make([]Credential, 0, len(latest))
	for _, c := range latest {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out, nil
}

// Sweep removes snapshots older than the retention window and reports how many.
func (cs *CredentialStore) Sweep() (int, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	entries, err := os.ReadDir(cs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	now := cs.now()
	removed := 0
	for _, e := range entries {
		_, savedAt, ok := parseCredentialName(e.Name())
		if !ok || !savedAt.Add(cs.retention).Before(now) {
			continue
		}
		if err := os.Remove(filepath.Join(cs.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
