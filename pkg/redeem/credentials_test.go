package redeem

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scragly/dreaf/pkg/lilith"
)

func snapshotWith(t *testing.T, value string) []byte {
	t.Helper()
	jar := lilith.NewJar()
	u, _ := url.Parse("https://cdkey.lilith.com/api/verify-code")
	jar.SetCookies(u, []*http.Cookie{{Name: "session", Value: value, Path: "/"}})
	data, err := jar.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return data
}

func writeCredential(t *testing.T, dir string, gameID int64, at time.Time, data []byte) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, credentialName(gameID, at))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write credential: %v", err)
	}
	return path
}

func TestCredentialNameRoundTrip(t *testing.T) {
	at := time.Unix(1700000000, 0)
	name := credentialName(12345, at)
	if name != "12345_1700000000.session" {
		t.Fatalf("unexpected name %q", name)
	}
	id, savedAt, ok := parseCredentialName(name)
	if !ok || id != 12345 || !savedAt.Equal(at) {
		t.Fatalf("parse mismatch: %d %v %v", id, savedAt, ok)
	}
	for _, bad := range []string{"12345.session", "abc_1.session", "1_abc.session", "1_2.json"} {
		if _, _, ok := parseCredentialName(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestCredentialStoreSaveReplacesOlder(t *testing.T) {
	dir := t.TempDir()
	cs := NewCredentialStore(dir, DefaultRetention)
	now := time.Now()
	old := writeCredential(t, dir, 12345, now.Add(-time.Hour), snapshotWith(t, "old"))
	other := writeCredential(t, dir, 67890, now.Add(-time.Hour), snapshotWith(t, "other"))

	if err := cs.Save(12345, snapshotWith(t, "new")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("older snapshot should be purged")
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("other accounts must be untouched: %v", err)
	}

	creds, err := cs.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(creds) != 2 || creds[0].GameID != 12345 || creds[1].GameID != 67890 {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
	jar, err := lilith.LoadJar(creds[0].Data)
	if err != nil || jar.Len() != 1 {
		t.Fatalf("saved snapshot unreadable: %v", err)
	}
}

func TestCredentialStoreRetention(t *testing.T) {
	dir := t.TempDir()
	cs := NewCredentialStore(dir, DefaultRetention)
	now := time.Now()
	stale := writeCredential(t, dir, 111, now.Add(-15*24*time.Hour), snapshotWith(t, "stale"))
	fresh := writeCredential(t, dir, 222, now.Add(-10*24*time.Hour), snapshotWith(t, "fresh"))

	creds, err := cs.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(creds) != 1 || creds[0].GameID != 222 || creds[0].Path != fresh {
		t.Fatalf("expected only the fresh credential, got %+v", creds)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale credential should be removed")
	}
}

func TestCredentialStoreNewestWins(t *testing.T) {
	dir := t.TempDir()
	cs := NewCredentialStore(dir, DefaultRetention)
	now := time.Now()
	writeCredential(t, dir, 12345, now.Add(-2*time.Hour), snapshotWith(t, "older"))
	newer := writeCredential(t, dir, 12345, now.Add(-time.Hour), snapshotWith(t, "newer"))
	writeCredential(t, dir, 1, now, []byte("x"))
	if err := os.WriteFile(filepath.Join(dir, "garbage.session"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	creds, err := cs.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(creds) != 2 || creds[1].Path != newer {
		t.Fatalf("expected newest snapshot per account, got %+v", creds)
	}
}

func TestCredentialStoreSweep(t *testing.T) {
	dir := t.TempDir()
	cs := NewCredentialStore(dir, 24*time.Hour)
	now := time.Now()
	writeCredential(t, dir, 1, now.Add(-48*time.Hour), []byte("[]"))
	writeCredential(t, dir, 2, now, []byte("[]"))

	removed, err := cs.Sweep()
	if err != nil || removed != 1 {
		t.Fatalf("expected one removal, got %d %v", removed, err)
	}
	if n, err := NewCredentialStore(filepath.Join(dir, "missing"), 0).Sweep(); err != nil || n != 0 {
		t.Fatalf("missing dir should sweep nothing, got %d %v", n, err)
	}
}

func TestRegistryRestore(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	writeCredential(t, env.creds.Dir(), 12345, now.Add(-10*24*time.Hour), snapshotWith(t, "fresh"))
	writeCredential(t, env.creds.Dir(), 67890, now.Add(-15*24*time.Hour), snapshotWith(t, "stale"))
	writeCredential(t, env.creds.Dir(), 424242, now, []byte("not json"))

	n, err := env.registry.Restore()
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one restored session, got %d", n)
	}
	s, ok := env.registry.Get(12345)
	if !ok {
		t.Fatalf("session 12345 not restored")
	}
	if s.conn.Jar().Len() != 1 {
		t.Fatalf("restored session should carry its cookies")
	}
	if _, ok := env.registry.Get(67890); ok {
		t.Fatalf("stale credential must not be restored")
	}

	// A second restore keeps the live session.
	if n, err := env.registry.Restore(); err != nil || n != 0 {
		t.Fatalf("expected nothing new on second restore, got %d %v", n, err)
	}
	if again, _ := env.registry.Get(12345); again != s {
		t.Fatalf("restore replaced a live session")
	}
}
