package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// persistentJar wraps a cookiejar.Jar and mirrors every SetCookies call
// into the settings store, so a later process sees the same session
// cookies. The store value doubles as the "cookies non-empty" signal the
// session manager checks before reusing a token.
type persistentJar struct {
	store CookieStore
	key   string

	mu    sync.Mutex
	inner http.CookieJar
	saved map[string][]savedCookie // origin -> cookies
}

type savedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Path    string    `json:"path,omitempty"`
	Domain  string    `json:"domain,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
	Secure  bool      `json:"secure,omitempty"`
}

func newPersistentJar(store CookieStore, key string) *persistentJar {
	j := &persistentJar{
		store: store,
		key:   key,
		inner: mustJar(),
		saved: map[string][]savedCookie{},
	}
	j.load()
	return j
}

func mustJar() http.CookieJar {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		// cookiejar.New never fails with a non-nil options list.
		panic(err)
	}
	return jar
}

func (j *persistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner.SetCookies(u, cookies)
	origin := u.Scheme + "://" + u.Host
	entry := j.saved[origin]
	for _, c := range cookies {
		entry = append(entry, savedCookie{
			Name:    c.Name,
			Value:   c.Value,
			Path:    c.Path,
			Domain:  c.Domain,
			Expires: c.Expires,
			Secure:  c.Secure,
		})
	}
	j.saved[origin] = entry
	j.persistLocked()
}

func (j *persistentJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.inner.Cookies(u)
}

func (j *persistentJar) clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner = mustJar()
	j.saved = map[string][]savedCookie{}
	if j.store != nil {
		_ = j.store.Remove(j.key)
	}
}

func (j *persistentJar) load() {
	if j.store == nil {
		return
	}
	raw := j.store.Get(j.key)
	if raw == "" {
		return
	}
	if err := json.Unmarshal([]byte(raw), &j.saved); err != nil {
		j.saved = map[string][]savedCookie{}
		return
	}
	for origin, cookies := range j.saved {
		u, err := url.Parse(origin)
		if err != nil {
			continue
		}
		restored := make([]*http.Cookie, 0, len(cookies))
		for _, c := range cookies {
			restored = append(restored, &http.Cookie{
				Name:    c.Name,
				Value:   c.Value,
				Path:    c.Path,
				Domain:  c.Domain,
				Expires: c.Expires,
				Secure:  c.Secure,
			})
		}
		j.inner.SetCookies(u, restored)
	}
}

func (j *persistentJar) persistLocked() {
	if j.store == nil {
		return
	}
	data, err := json.Marshal(j.saved)
	if err != nil {
		return
	}
	_ = j.store.Set(j.key, string(data))
}
