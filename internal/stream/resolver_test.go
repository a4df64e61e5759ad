package stream

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dutiptv/dutiptv/internal/gui"
	"github.com/dutiptv/dutiptv/internal/provider"
	"github.com/dutiptv/dutiptv/internal/settings"
)

// playProvider resolves every request to a fixed PlayData.
type playProvider struct {
	pd        provider.PlayData
	now       provider.NowInfo
	startOver bool
	requests  []provider.PlayRequest
}

func (p *playProvider) Name() string                    { return "play" }
func (p *playProvider) PluginID() string                { return "plugin.video.play" }
func (p *playProvider) BaseHeaders() map[string]string  { return nil }
func (p *playProvider) AskPassword(gui.Prompter) string { return "" }
func (p *playProvider) CheckShape([]byte) bool          { return true }
func (p *playProvider) CanStartOver() bool              { return p.startOver }
func (p *playProvider) Login(context.Context, provider.Doer, provider.Credentials) (string, error) {
	return "", nil
}
func (p *playProvider) Channels(context.Context, provider.Doer) ([]provider.Channel, error) {
	return nil, nil
}
func (p *playProvider) PlaylistPath(provider.Channel) string { return "" }
func (p *playProvider) NowPlaying(context.Context, provider.Doer, string) (provider.NowInfo, error) {
	return p.now, nil
}
func (p *playProvider) StreamURL(_ context.Context, _ provider.Doer, req provider.PlayRequest) (provider.PlayData, error) {
	p.requests = append(p.requests, req)
	return p.pd, nil
}
func (p *playProvider) ReplayProgramID(context.Context, provider.Doer, string) (string, error) {
	return "", nil
}

func newTestResolver(t *testing.T, prov provider.Provider, g gui.Prompter) (*Resolver, *settings.Store) {
	t.Helper()
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	r := NewResolver(prov, nil, store, g, zerolog.Nop())
	if g == nil {
		r.g = gui.None{}
	}
	r.tick = func(context.Context) error { return nil }
	return r, store
}

func TestResolveRewritesOntoProxy(t *testing.T) {
	prov := &playProvider{pd: provider.PlayData{Path: "https://cdn.example.com/stream/manifest.mpd?t=1"}}
	r, store := newTestResolver(t, prov, nil)
	r.ProxyPort = 9478

	pd, err := r.Resolve(context.Background(), provider.PlayRequest{Kind: provider.KindChannel, ChannelID: "1"})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9478/stream/manifest.mpd?t=1", pd.Path)
	assert.Equal(t, "https://cdn.example.com", store.Get(KeyStreamHostname))
	assert.NotZero(t, store.GetInt(KeyLastPlaying), "real plays stamp the guard")
}

func TestResolveTestModeSkipsRewriteAndStamp(t *testing.T) {
	prov := &playProvider{pd: provider.PlayData{Path: "https://cdn.example.com/stream/manifest.mpd"}}
	r, store := newTestResolver(t, prov, nil)
	r.ProxyPort = 9478

	pd, err := r.Resolve(context.Background(), provider.PlayRequest{Kind: provider.KindChannel, ChannelID: "1", Test: true})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/stream/manifest.mpd", pd.Path)
	assert.Zero(t, store.GetInt(KeyLastPlaying))
	assert.Empty(t, store.Get(KeyStreamHostname))
}

func TestResolveNoProxyPortLeavesURL(t *testing.T) {
	prov := &playProvider{pd: provider.PlayData{Path: "https://cdn.example.com/x.mpd"}}
	r, _ := newTestResolver(t, prov, nil)

	pd, err := r.Resolve(context.Background(), provider.PlayRequest{Kind: provider.KindChannel, ChannelID: "1"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/x.mpd", pd.Path)
}

func TestResolvePersistsRenewState(t *testing.T) {
	prov := &playProvider{pd: provider.PlayData{Path: "https://cdn.example.com/x.mpd", Token: "drm-1"}}
	r, store := newTestResolver(t, prov, nil)
	r.ProxyPort = 9478

	_, err := r.Resolve(context.Background(), provider.PlayRequest{Kind: provider.KindChannel, ChannelID: "1"})
	require.NoError(t, err)
	assert.Equal(t, "drm-1", store.Get(KeyRenewToken))
	assert.Equal(t, "http://127.0.0.1:9478/x.mpd", store.Get(KeyRenewPath), "renewal uses the proxied path")
	assert.NotZero(t, store.GetInt(KeyDRMTokenAge))
}

func TestResolveFromBeginningResolvesProgram(t *testing.T) {
	prov := &playProvider{
		pd:  provider.PlayData{Path: "https://cdn.example.com/x.mpd"},
		now: provider.NowInfo{ProgramID: "prog-7", Title: "Journaal"},
	}
	r, _ := newTestResolver(t, prov, nil)

	_, err := r.Resolve(context.Background(), provider.PlayRequest{
		Kind: provider.KindChannel, ChannelID: "1", FromBeginning: true,
	})
	require.NoError(t, err)
	require.Len(t, prov.requests, 1)
	assert.True(t, prov.requests[0].FromBeginning)
	assert.Equal(t, "prog-7", prov.requests[0].ContentID)
}

func TestResolveFromBeginningFallsBackToLive(t *testing.T) {
	prov := &playProvider{pd: provider.PlayData{Path: "https://cdn.example.com/x.mpd"}}
	r, _ := newTestResolver(t, prov, nil)

	_, err := r.Resolve(context.Background(), provider.PlayRequest{
		Kind: provider.KindChannel, ChannelID: "1", FromBeginning: true,
	})
	require.NoError(t, err)
	require.Len(t, prov.requests, 1)
	assert.False(t, prov.requests[0].FromBeginning, "no current program, play the live edge")
}

type yesPrompter struct {
	gui.None
	asked int
}

func (y *yesPrompter) YesNo(string, string) bool { y.asked++; return true }

func TestResolveStartOverPrompt(t *testing.T) {
	prov := &playProvider{
		pd:        provider.PlayData{Path: "https://cdn.example.com/x.mpd"},
		now:       provider.NowInfo{ProgramID: "prog-9"},
		startOver: true,
	}
	g := &yesPrompter{}
	r, _ := newTestResolver(t, prov, g)
	r.AskStartFromBeginning = true

	_, err := r.Resolve(context.Background(), provider.PlayRequest{Kind: provider.KindChannel, ChannelID: "1"})
	require.NoError(t, err)
	assert.Equal(t, 1, g.asked)
	require.Len(t, prov.requests, 1)
	assert.True(t, prov.requests[0].FromBeginning)

	// Test plays never prompt.
	_, err = r.Resolve(context.Background(), provider.PlayRequest{Kind: provider.KindChannel, ChannelID: "1", Test: true})
	require.NoError(t, err)
	assert.Equal(t, 1, g.asked)
}

func TestResolveWaitsForSweepThenProceeds(t *testing.T) {
	prov := &playProvider{pd: provider.PlayData{Path: "https://cdn.example.com/x.mpd"}}
	r, store := newTestResolver(t, prov, nil)
	require.NoError(t, store.SetBool(KeyTestRunning, true))

	ticks := 0
	r.tick = func(context.Context) error {
		ticks++
		if ticks == 3 {
			// The sweep noticed the playback stamp and yielded.
			require.NoError(t, store.SetBool(KeyTestRunning, false))
		}
		return nil
	}

	_, err := r.Resolve(context.Background(), provider.PlayRequest{Kind: provider.KindChannel, ChannelID: "1"})
	require.NoError(t, err)
	assert.Equal(t, 3, ticks)
}

func TestResolveSweepTimeoutStillPlays(t *testing.T) {
	prov := &playProvider{pd: provider.PlayData{Path: "https://cdn.example.com/x.mpd"}}
	r, store := newTestResolver(t, prov, nil)
	require.NoError(t, store.SetBool(KeyTestRunning, true))
	r.WaitTicks = 4

	ticks := 0
	r.tick = func(context.Context) error { ticks++; return nil }

	_, err := r.Resolve(context.Background(), provider.PlayRequest{Kind: provider.KindChannel, ChannelID: "1"})
	require.NoError(t, err)
	assert.Equal(t, 4, ticks, "bounded wait, then play anyway")
	require.Len(t, prov.requests, 1)
}
