// Package session owns the login state machine: token issuance and expiry,
// credential handling, and the retry-with-relogin policy every
// authenticated call goes through.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dutiptv/dutiptv/internal/gui"
	"github.com/dutiptv/dutiptv/internal/httpx"
	"github.com/dutiptv/dutiptv/internal/metrics"
	"github.com/dutiptv/dutiptv/internal/provider"
	"github.com/dutiptv/dutiptv/internal/settings"
)

// Settings keys owned by the manager. Underscore-prefixed keys are internal
// state, the rest are user-entered.
const (
	KeyCookies          = "_cookies"
	KeySessionToken     = "_session_token"
	KeySessionAge       = "_session_age"
	KeyLastLoginSuccess = "_last_login_success"
	KeyUsername         = "username"
	KeyPassword         = "password"
)

// sessionTTL is how long an issued token stays valid.
const sessionTTL = 2 * time.Hour

// EnsureOpts controls how EnsureSession obtains a usable session.
type EnsureOpts struct {
	// Force logs in even when a valid session exists, prompting for a
	// missing password.
	Force bool
	// AllowRetry is carried into the login's own calls; the forced relogin
	// inside a retry runs with it off so the chain cannot recurse.
	AllowRetry bool
	// RefreshChannels requests a catalog refresh after login and disables
	// session reuse so the refresh runs against a fresh session.
	RefreshChannels bool
}

// ChannelRefresher lets the manager trigger a catalog refresh after a
// successful login, the way the providers' apps do. The refresh runs on the
// Doer the manager provides (the login already holds the session lock).
type ChannelRefresher interface {
	Needed() bool
	Refresh(ctx context.Context, d provider.Doer) error
}

// Manager implements provider.Doer for all post-login traffic. A single
// mutex serializes authenticated requests; no two may run concurrently
// against the same session.
type Manager struct {
	store *settings.Store
	sess  *httpx.Session
	prov  provider.Provider
	g     gui.Prompter
	log   zerolog.Logger

	// SavePassword persists the password after login; otherwise only the
	// username is kept.
	SavePassword bool
	// Channels is optional; wired by the caller after construction.
	Channels ChannelRefresher

	mu       sync.Mutex
	loggedIn bool
	now      func() time.Time
}

func NewManager(store *settings.Store, sess *httpx.Session, prov provider.Provider, g gui.Prompter, log zerolog.Logger) *Manager {
	if g == nil {
		g = gui.None{}
	}
	return &Manager{
		store: store,
		sess:  sess,
		prov:  prov,
		g:     g,
		log:   log.With().Str("component", "session").Logger(),
		now:   time.Now,
	}
}

// LoggedIn reports whether the last EnsureSession succeeded in this process.
func (m *Manager) LoggedIn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loggedIn
}

// SetCredentials stores the username and password for subsequent logins.
func (m *Manager) SetCredentials(username, password string) error {
	if err := m.store.Set(KeyUsername, username); err != nil {
		return err
	}
	return m.store.Set(KeyPassword, password)
}

// EnsureSession makes the session usable: it reuses a cached unexpired
// token without touching the network, or performs the provider's login.
// A nil return means authenticated; ErrNotConfigured is the silent
// "no credentials" case.
func (m *Manager) EnsureSession(ctx context.Context, opts EnsureOpts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensure(ctx, opts)
}

func (m *Manager) ensure(ctx context.Context, opts EnsureOpts) error {
	username := m.store.Get(KeyUsername)
	password := m.store.Get(KeyPassword)
	cookies := m.store.Get(KeyCookies)
	token := m.store.Get(KeySessionToken)
	issuedAt := m.store.GetInt(KeySessionAge)
	lastSuccess := m.store.GetBool(KeyLastLoginSuccess)

	if cookies != "" && username != "" && !opts.Force && !opts.RefreshChannels &&
		lastSuccess && m.now().Unix()-issuedAt < int64(sessionTTL/time.Second) {
		m.loggedIn = true
		m.sess.SetBaseHeaders(m.prov.BaseHeaders())
		m.sess.SetBearer(token)
		metrics.SessionReuse.Inc()
		m.log.Debug().Msg("session reused")
		return nil
	}

	m.loggedIn = false
	if username == "" {
		m.setLoginSuccess(false)
		metrics.LoginAttempts.WithLabelValues(m.prov.Name(), "not_configured").Inc()
		return provider.ErrNotConfigured
	}
	if password == "" {
		if !opts.Force {
			// Expected and silent: never prompt unless the caller forced a
			// login.
			m.setLoginSuccess(false)
			metrics.LoginAttempts.WithLabelValues(m.prov.Name(), "not_configured").Inc()
			return provider.ErrNotConfigured
		}
		password = m.prov.AskPassword(m.g)
		if password == "" {
			m.g.OK("No password entered.", "Login failed")
			m.setLoginSuccess(false)
			metrics.LoginAttempts.WithLabelValues(m.prov.Name(), "not_configured").Inc()
			return fmt.Errorf("empty password: %w", provider.ErrNotConfigured)
		}
	}

	err := m.login(ctx, provider.Credentials{Username: username, Password: password}, opts)
	m.setLoginSuccess(err == nil)
	return err
}

// login runs the provider's procedure and persists the outcome so later
// process launches see consistent state.
func (m *Manager) login(ctx context.Context, creds provider.Credentials, opts EnsureOpts) error {
	m.clearSession()

	token, err := m.prov.Login(ctx, loginDoer{m}, creds)
	if err != nil {
		m.clearSession()
		var aerr *provider.AuthError
		if errors.As(err, &aerr) {
			m.g.OK(aerr.Message, "Login failed")
			metrics.LoginAttempts.WithLabelValues(m.prov.Name(), "auth_error").Inc()
		} else {
			metrics.LoginAttempts.WithLabelValues(m.prov.Name(), "error").Inc()
		}
		m.log.Warn().Err(err).Msg("login failed")
		return err
	}

	if token != "" {
		if err := m.store.Set(KeySessionToken, token); err != nil {
			return err
		}
	}
	if err := m.store.SetInt(KeySessionAge, m.now().Unix()); err != nil {
		return err
	}
	if m.SavePassword {
		_ = m.store.Set(KeyPassword, creds.Password)
	} else {
		_ = m.store.Set(KeyPassword, "")
	}
	_ = m.store.Set(KeyUsername, creds.Username)

	m.loggedIn = true
	m.sess.SetBaseHeaders(m.prov.BaseHeaders())
	m.sess.SetBearer(token)
	metrics.LoginAttempts.WithLabelValues(m.prov.Name(), "success").Inc()
	m.log.Info().Msg("logged in")

	if m.Channels != nil && (opts.RefreshChannels || m.Channels.Needed()) {
		if rerr := m.Channels.Refresh(ctx, loginDoer{m}); rerr != nil {
			m.log.Warn().Err(rerr).Msg("channel refresh after login failed")
		}
	}
	return nil
}

// clearSession wipes cookies and token, in memory and in the store.
func (m *Manager) clearSession() {
	m.loggedIn = false
	m.sess.ClearCookies()
	m.sess.SetBearer("")
	_ = m.store.Remove(KeyCookies)
	_ = m.store.Remove(KeySessionToken)
}

func (m *Manager) setLoginSuccess(ok bool) {
	_ = m.store.SetBool(KeyLastLoginSuccess, ok)
}

// Download performs one authenticated call. When the status is outside
// opts.ExpectCode or shape validation fails and opts.AllowRetry is set, it
// forces a fresh login (itself non-retrying) and replays the exact same
// request once. A second failure returns the sentinel error; callers must
// not treat it as empty data.
func (m *Manager) Download(ctx context.Context, req httpx.Request, opts provider.DownloadOpts) (*httpx.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.download(ctx, req, opts)
}

func (m *Manager) download(ctx context.Context, req httpx.Request, opts provider.DownloadOpts) (*httpx.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, provider.ErrAborted
	}
	resp, err := m.sess.Do(ctx, req)
	if failure := m.validate(req, resp, err, opts); failure != nil {
		if !opts.AllowRetry {
			return nil, failure
		}
		metrics.RetryRelogin.Inc()
		m.log.Debug().Str("url", req.URL).Msg("forcing relogin and replaying request")
		if lerr := m.ensure(ctx, EnsureOpts{Force: true}); lerr != nil {
			return nil, failure
		}
		resp, err = m.sess.Do(ctx, req)
		if failure = m.validate(req, resp, err, opts); failure != nil {
			return nil, failure
		}
	}
	return resp, nil
}

// validate returns nil when the response is acceptable.
func (m *Manager) validate(req httpx.Request, resp *httpx.Response, err error, opts provider.DownloadOpts) error {
	if err != nil {
		return err
	}
	if len(opts.ExpectCode) > 0 && !slices.Contains(opts.ExpectCode, resp.StatusCode) {
		return &provider.ShapeError{URL: req.URL, Status: resp.StatusCode}
	}
	if opts.CheckShape && !m.prov.CheckShape(resp.Body) {
		return &provider.ShapeError{URL: req.URL, Status: resp.StatusCode, Missing: "valid envelope"}
	}
	return nil
}

// SetHeaders, SetBearer and ClearCookies forward to the shared HTTP
// session (provider.Doer surface).
func (m *Manager) SetHeaders(h map[string]string) { m.sess.SetBaseHeaders(h) }
func (m *Manager) SetBearer(token string)         { m.sess.SetBearer(token) }
func (m *Manager) ClearCookies()                  { m.sess.ClearCookies() }

// loginDoer is the Doer handed to provider.Login. It reuses the manager's
// internals without re-acquiring the mutex (the caller already holds it)
// and never allows retry, so a failing login step cannot recurse.
type loginDoer struct{ m *Manager }

func (d loginDoer) Download(ctx context.Context, req httpx.Request, opts provider.DownloadOpts) (*httpx.Response, error) {
	opts.AllowRetry = false
	return d.m.download(ctx, req, opts)
}

func (d loginDoer) SetHeaders(h map[string]string) { d.m.sess.SetBaseHeaders(h) }
func (d loginDoer) SetBearer(token string)         { d.m.sess.SetBearer(token) }
func (d loginDoer) ClearCookies()                  { d.m.sess.ClearCookies() }
