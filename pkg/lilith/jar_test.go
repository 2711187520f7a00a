package lilith

import (
	"net/http"
	"net/url"
	"testing"
	"time"
)

func TestJarSnapshotRoundTrip(t *testing.T) {
	u, _ := url.Parse("https://cdkey.lilith.com/api/verify-code")
	j := NewJar()
	j.SetCookies(u, []*http.Cookie{
		{Name: "session", Value: "abc", Path: "/"},
		{Name: "persist", Value: "xyz", Path: "/", MaxAge: 3600},
		{Name: "gone", Value: "1", Path: "/", MaxAge: -1},
	})
	if j.Len() != 2 {
		t.Fatalf("expected 2 live cookies, got %d", j.Len())
	}

	blob, err := j.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	restored, err := LoadJar(blob)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	target, _ := url.Parse("https://cdkey.lilith.com/api/cd-key/consume")
	got := map[string]string{}
	for _, c := range restored.Cookies(target) {
		got[c.Name] = c.Value
	}
	if got["session"] != "abc" || got["persist"] != "xyz" {
		t.Fatalf("restored cookies = %v", got)
	}
	if _, ok := got["gone"]; ok {
		t.Fatalf("deleted cookie restored")
	}
}

func TestJarDropsExpiredOnSnapshot(t *testing.T) {
	u, _ := url.Parse("https://cdkey.lilith.com/")
	j := NewJar()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return base }
	j.SetCookies(u, []*http.Cookie{{Name: "short", Value: "1", Path: "/", MaxAge: 60}})

	j.now = func() time.Time { return base.Add(2 * time.Minute) }
	if j.Len() != 0 {
		t.Fatalf("expired cookie still counted")
	}
	blob, _ := j.Snapshot()
	if string(blob) != "[]" {
		t.Fatalf("snapshot = %s", blob)
	}
}

func TestLoadJarRejectsGarbage(t *testing.T) {
	if _, err := LoadJar([]byte("not json")); err == nil {
		t.Fatalf("expected error")
	}
}
