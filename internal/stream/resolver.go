// Package stream resolves playable URLs: it drives the provider's play
// endpoint, handles the start-over prompt, coordinates with a running channel
// sweep, and rewrites stream URLs onto the local proxy.
package stream

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/dutiptv/dutiptv/internal/gui"
	"github.com/dutiptv/dutiptv/internal/provider"
	"github.com/dutiptv/dutiptv/internal/settings"
)

// Settings keys shared between the resolver, the sweep, and the proxy.
const (
	// KeyLastPlaying is the unix time real playback last started. The sweep
	// refuses to run while this is recent.
	KeyLastPlaying = "_last_playing"
	// KeyTestRunning is set while a sweep is probing channels.
	KeyTestRunning = "_test_running"
	// KeyStreamHostname is the scheme://host of the last resolved stream,
	// used by the proxy as its upstream.
	KeyStreamHostname = "_stream_hostname"
	// License renewal state for providers that hand out per-play DRM tokens.
	KeyRenewPath   = "_renew_path"
	KeyRenewToken  = "_renew_token"
	KeyDRMTokenAge = "_drm_token_age"
)

// PlaybackGuard is how recent a playback stamp has to be to count as active.
const PlaybackGuard = 300 * time.Second

// Resolver turns a play request into a concrete PlayData.
type Resolver struct {
	prov  provider.Provider
	d     provider.Doer
	store *settings.Store
	g     gui.Prompter
	log   zerolog.Logger

	// ProxyPort is the local proxy port streams are rewritten to. Zero
	// disables rewriting.
	ProxyPort int
	// AskStartFromBeginning enables the start-over prompt for providers that
	// support it.
	AskStartFromBeginning bool
	// WaitTicks bounds how many one-second ticks a real play waits for a
	// running sweep to yield.
	WaitTicks int

	now  func() time.Time
	tick func(context.Context) error
}

func NewResolver(prov provider.Provider, d provider.Doer, store *settings.Store, g gui.Prompter, log zerolog.Logger) *Resolver {
	return &Resolver{
		prov:      prov,
		d:         d,
		store:     store,
		g:         g,
		log:       log.With().Str("component", "stream").Logger(),
		WaitTicks: 15,
		now:       time.Now,
		tick: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
				return nil
			}
		},
	}
}

// Resolve produces the playable URL for req. Real plays take priority over a
// running sweep, stamp the playback guard, and get rewritten onto the proxy;
// test plays skip all three.
func (r *Resolver) Resolve(ctx context.Context, req provider.PlayRequest) (provider.PlayData, error) {
	if !req.Test {
		if err := r.waitForSweep(ctx); err != nil {
			return provider.PlayData{}, err
		}
		if err := r.store.SetInt(KeyLastPlaying, r.now().Unix()); err != nil {
			return provider.PlayData{}, err
		}
		if req.Kind == provider.KindChannel && !req.FromBeginning &&
			r.AskStartFromBeginning && r.prov.CanStartOver() {
			req.FromBeginning = r.g.YesNo("Play from the beginning of the current program?", "Start over")
		}
	}

	// Starting over plays the current program's asset, so resolve it first.
	if req.Kind == provider.KindChannel && req.FromBeginning && req.ContentID == "" {
		now, err := r.prov.NowPlaying(ctx, r.d, req.ChannelID)
		if err != nil || now.ProgramID == "" {
			r.log.Warn().Err(err).Str("channel", req.ChannelID).Msg("no current program, playing live")
			req.FromBeginning = false
		} else {
			req.ContentID = now.ProgramID
		}
	}

	pd, err := r.prov.StreamURL(ctx, r.d, req)
	if err != nil {
		return provider.PlayData{}, err
	}
	if pd.Path == "" {
		return provider.PlayData{}, fmt.Errorf("resolve %s: empty stream url", req.ChannelID)
	}
	if !req.Test && r.ProxyPort > 0 {
		pd.Path, err = r.rewrite(pd.Path)
		if err != nil {
			return provider.PlayData{}, err
		}
	}
	if pd.Token != "" && !req.Test {
		// Token renewal replays the (proxied) play URL.
		_ = r.store.Set(KeyRenewPath, pd.Path)
		_ = r.store.Set(KeyRenewToken, pd.Token)
		_ = r.store.SetInt(KeyDRMTokenAge, r.now().Unix())
	}
	r.log.Debug().Str("channel", req.ChannelID).Bool("test", req.Test).Msg("stream resolved")
	return pd, nil
}

// waitForSweep gives a running sweep a bounded window to notice the playback
// stamp and yield. After the window the play proceeds regardless.
func (r *Resolver) waitForSweep(ctx context.Context) error {
	if !r.store.GetBool(KeyTestRunning) {
		return nil
	}
	// Let the sweep see us coming.
	if err := r.store.SetInt(KeyLastPlaying, r.now().Unix()); err != nil {
		return err
	}
	for i := 0; i < r.WaitTicks; i++ {
		if !r.store.GetBool(KeyTestRunning) {
			return nil
		}
		if err := r.tick(ctx); err != nil {
			return err
		}
	}
	r.log.Warn().Msg("sweep still running, playing anyway")
	return nil
}

// rewrite points the stream URL at the local proxy and records the original
// origin as the proxy upstream.
func (r *Resolver) rewrite(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	if err := r.store.Set(KeyStreamHostname, u.Scheme+"://"+u.Host); err != nil {
		return "", err
	}
	u.Scheme = "http"
	u.Host = fmt.Sprintf("127.0.0.1:%d", r.ProxyPort)
	return u.String(), nil
}
