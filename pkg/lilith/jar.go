package lilith

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"sync"
	"time"
)

// StoredCookie is the persisted form of one cookie and the URL that set it.
type StoredCookie struct {
	URL      string    `json:"url"`
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

func (c StoredCookie) expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

// Jar is an http.CookieJar whose contents can be snapshotted and restored.
type Jar struct {
	mu      sync.Mutex
	inner   *cookiejar.Jar
	entries map[string]StoredCookie
	now     func() time.Time
}

// NewJar returns an empty jar.
func NewJar() *Jar {
	inner, _ := cookiejar.New(nil)
	return &Jar{inner: inner, entries: make(map[string]StoredCookie), now: time.Now}
}

// LoadJar restores a jar from a Snapshot. Cookies that expired meanwhile are dropped.
func LoadJar(data []byte) (*Jar, error) {
	var cookies []StoredCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, err
	}
	j := NewJar()
	for _, c := range cookies {
		u, err := url.Parse(c.URL)
		if err != nil {
			continue
		}
		j.SetCookies(u, []*http.Cookie{{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}})
	}
	return j, nil
}

func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)

	origin := (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
	now := j.now()

	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		sc := StoredCookie{
			URL:      origin,
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}
		// Max-Age is relative; pin it so a reload does not extend the lifetime.
		switch {
		case c.MaxAge > 0:
			sc.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		case c.MaxAge < 0:
			sc.Expires = now
		}
		key := origin + "|" + c.Domain + "|" + c.Path + "|" + c.Name
		if sc.expired(now) {
			delete(j.entries, key)
			continue
		}
		j.entries[key] = sc
	}
}

func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

// Snapshot serialises the live cookies.
func (j *Jar) Snapshot() ([]byte, error) {
	now := j.now()
	j.mu.Lock()
	keys := make([]string, 0, len(j.entries))
	for k, c := range j.entries {
		if !c.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]StoredCookie, 0, len(keys))
	for _, k := range keys {
		out = append(out, j.entries[k])
	}
	j.mu.Unlock()
	return json.Marshal(out)
}

// Len reports how many live cookies the jar holds.
func (j *Jar) Len() int {
	now := j.now()
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, c := range j.entries {
		if !c.expired(now) {
			n++
		}
	}
	return n
}
