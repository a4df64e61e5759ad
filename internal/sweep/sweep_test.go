package sweep

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dutiptv/dutiptv/internal/catalog"
	"github.com/dutiptv/dutiptv/internal/gui"
	"github.com/dutiptv/dutiptv/internal/provider"
	"github.com/dutiptv/dutiptv/internal/settings"
	"github.com/dutiptv/dutiptv/internal/stream"
)

const testManifest = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=2500000
main/index.m3u8
`

// probeProvider plays every channel from a fixed manifest server and offers
// replays on demand.
type probeProvider struct {
	manifestURL string
	replayID    string
	playErr     error
}

func (p *probeProvider) Name() string                    { return "probe" }
func (p *probeProvider) PluginID() string                { return "plugin.video.probe" }
func (p *probeProvider) BaseHeaders() map[string]string  { return nil }
func (p *probeProvider) AskPassword(gui.Prompter) string { return "" }
func (p *probeProvider) CheckShape([]byte) bool          { return true }
func (p *probeProvider) CanStartOver() bool              { return false }
func (p *probeProvider) Login(context.Context, provider.Doer, provider.Credentials) (string, error) {
	return "", nil
}
func (p *probeProvider) Channels(context.Context, provider.Doer) ([]provider.Channel, error) {
	return nil, nil
}
func (p *probeProvider) PlaylistPath(provider.Channel) string { return "" }
func (p *probeProvider) NowPlaying(context.Context, provider.Doer, string) (provider.NowInfo, error) {
	return provider.NowInfo{}, nil
}
func (p *probeProvider) StreamURL(context.Context, provider.Doer, provider.PlayRequest) (provider.PlayData, error) {
	if p.playErr != nil {
		return provider.PlayData{}, p.playErr
	}
	return provider.PlayData{Path: p.manifestURL}, nil
}
func (p *probeProvider) ReplayProgramID(context.Context, provider.Doer, string) (string, error) {
	return p.replayID, nil
}

type fixture struct {
	runner  *Runner
	builder *catalog.Builder
	store   *settings.Store
	profile settings.Profile
	prov    *probeProvider
}

func newFixture(t *testing.T, channels []provider.Channel) *fixture {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testManifest))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	store, err := settings.Open(filepath.Join(dir, "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	profile, err := settings.NewProfile(filepath.Join(dir, "profile"))
	require.NoError(t, err)
	require.NoError(t, profile.SaveJSON(catalog.FileChannels, channels))

	prov := &probeProvider{manifestURL: srv.URL + "/manifest.m3u8"}
	builder := catalog.NewBuilder(prov, store, profile, zerolog.Nop())
	resolver := stream.NewResolver(prov, nil, store, gui.None{}, zerolog.Nop())

	runner := NewRunner(builder, resolver, prov, nil, store, profile, "test-agent", zerolog.Nop())
	runner.tick = func(context.Context) error { return nil }
	return &fixture{runner: runner, builder: builder, store: store, profile: profile, prov: prov}
}

func sevenChannels() []provider.Channel {
	return []provider.Channel{
		{ID: "1", Number: 1, Label: "C1"}, {ID: "2", Number: 2, Label: "C2"},
		{ID: "3", Number: 3, Label: "C3"}, {ID: "4", Number: 4, Label: "C4"},
		{ID: "5", Number: 5, Label: "C5"}, {ID: "6", Number: 6, Label: "C6"},
		{ID: "7", Number: 7, Label: "C7"},
	}
}

func TestRunProbesBatchAndAdvancesCursor(t *testing.T) {
	f := newFixture(t, sevenChannels())

	require.NoError(t, f.runner.Run(context.Background()))

	results := f.builder.LoadResults()
	assert.Len(t, results.Channels, BatchSize)
	assert.Equal(t, "5", results.LastTested)
	assert.True(t, results.Channels["1"].Live)
	assert.Equal(t, 2500000, results.Channels["1"].LiveBandwidth)
	assert.False(t, f.store.GetBool(stream.KeyTestRunning), "flag released")

	// The next run resumes after the cursor and wraps.
	require.NoError(t, f.runner.Run(context.Background()))
	results = f.builder.LoadResults()
	assert.Len(t, results.Channels, len(sevenChannels()))
	assert.Equal(t, "3", results.LastTested)
}

func TestRunRecordsDeadChannels(t *testing.T) {
	f := newFixture(t, sevenChannels()[:2])
	f.prov.playErr = &provider.ShapeError{URL: "x", Missing: "url"}

	require.NoError(t, f.runner.Run(context.Background()))

	results := f.builder.LoadResults()
	require.Len(t, results.Channels, 2)
	assert.False(t, results.Channels["1"].Live)
	assert.False(t, results.Channels["1"].Replay)
	assert.Zero(t, results.Channels["1"].LiveBandwidth)
}

func TestRunProbesReplay(t *testing.T) {
	f := newFixture(t, sevenChannels()[:1])
	f.prov.replayID = "prog-1"

	require.NoError(t, f.runner.Run(context.Background()))

	res := f.builder.LoadResults().Channels["1"]
	assert.True(t, res.Replay)
	assert.Equal(t, 2500000, res.ReplayBandwidth)
}

func TestRunUpdatesPrefsOnExit(t *testing.T) {
	f := newFixture(t, sevenChannels()[:1])

	require.NoError(t, f.runner.Run(context.Background()))

	prefs := f.builder.LoadPrefs()
	require.Contains(t, prefs, "1")
	assert.True(t, prefs["1"].Live)
	assert.Equal(t, catalog.ChoiceAuto, prefs["1"].LiveChoice)
	assert.True(t, f.profile.Exists(catalog.FilePlaylist), "playlists regenerated")
}

func TestRunSkipsWhileWatching(t *testing.T) {
	f := newFixture(t, sevenChannels())
	require.NoError(t, f.store.SetInt(stream.KeyLastPlaying, time.Now().Unix()))

	require.NoError(t, f.runner.Run(context.Background()))
	assert.Empty(t, f.builder.LoadResults().Channels)
}

func TestRunDiscardsChannelWhenPlaybackInterruptsProbe(t *testing.T) {
	f := newFixture(t, sevenChannels())
	// Playback begins during the yield window between the live and replay
	// probes of the first channel.
	f.runner.tick = func(context.Context) error {
		return f.store.SetInt(stream.KeyLastPlaying, time.Now().Unix())
	}

	require.NoError(t, f.runner.Run(context.Background()))

	assert.Empty(t, f.builder.LoadResults().Channels, "in-flight probe discarded")
	assert.False(t, f.store.GetBool(stream.KeyTestRunning))
}

func TestRunStopsAfterRecordWhenPlaybackStarts(t *testing.T) {
	f := newFixture(t, sevenChannels())
	// The first channel's mid-probe window passes quietly; playback begins
	// during the long yield window after its result is recorded.
	ticks := 0
	f.runner.tick = func(context.Context) error {
		ticks++
		if ticks > 5 {
			return f.store.SetInt(stream.KeyLastPlaying, time.Now().Unix())
		}
		return nil
	}

	require.NoError(t, f.runner.Run(context.Background()))

	results := f.builder.LoadResults()
	assert.Len(t, results.Channels, 1, "first channel recorded, then yield")
	assert.Equal(t, "1", results.LastTested)
	assert.False(t, f.store.GetBool(stream.KeyTestRunning))
}

func TestRunRefusesSecondInstance(t *testing.T) {
	f := newFixture(t, sevenChannels())
	require.NoError(t, f.store.SetBool(stream.KeyTestRunning, true))

	require.NoError(t, f.runner.Run(context.Background()))
	assert.Empty(t, f.builder.LoadResults().Channels)
	assert.True(t, f.store.GetBool(stream.KeyTestRunning), "foreign flag left alone")
}

func TestRunWithoutChannelListFails(t *testing.T) {
	f := newFixture(t, nil)
	require.Error(t, f.runner.Run(context.Background()))
}

func TestRunMarksGuideFromReplayProbe(t *testing.T) {
	f := newFixture(t, sevenChannels()[:1])
	require.NoError(t, f.profile.WriteFile("1_replay.json", []byte("{}")))

	require.NoError(t, f.runner.Run(context.Background()))
	res := f.builder.LoadResults().Channels["1"]
	assert.True(t, res.Guide)
	assert.True(t, res.EPG, "live channel with a replay schedule gets epg")
}

func TestRunAbortsWhenLastWorkingChannelDies(t *testing.T) {
	f := newFixture(t, sevenChannels())
	seed := catalog.TestResults{
		Channels:   map[string]catalog.TestResult{"2": {Label: "C2", Live: true}},
		LastTested: "2",
	}
	require.NoError(t, f.builder.SaveResults(&seed))
	f.prov.playErr = &provider.ShapeError{URL: "x", Missing: "url"}

	require.NoError(t, f.runner.Run(context.Background()))

	results := f.builder.LoadResults()
	assert.Len(t, results.Channels, 1, "batch never started")
	assert.Equal(t, "2", results.LastTested)
	assert.False(t, f.store.GetBool(stream.KeyTestRunning))
}

func TestStartIndex(t *testing.T) {
	f := newFixture(t, nil)
	channels := sevenChannels()

	assert.Equal(t, 0, f.runner.startIndex(channels, ""))
	assert.Equal(t, 3, f.runner.startIndex(channels, "3"))
	assert.Equal(t, 0, f.runner.startIndex(channels, "7"), "cursor at the end wraps")
	assert.Equal(t, 0, f.runner.startIndex(channels, "unknown"))
}
