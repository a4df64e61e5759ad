package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dutiptv/dutiptv/internal/gui"
	"github.com/dutiptv/dutiptv/internal/httpx"
	"github.com/dutiptv/dutiptv/internal/provider"
	"github.com/dutiptv/dutiptv/internal/settings"
)

// listProvider serves a fixed channel list.
type listProvider struct {
	channels []provider.Channel
	err      error
	fetches  int
}

func (p *listProvider) Name() string                    { return "list" }
func (p *listProvider) PluginID() string                { return "plugin.video.list" }
func (p *listProvider) BaseHeaders() map[string]string  { return nil }
func (p *listProvider) AskPassword(gui.Prompter) string { return "" }
func (p *listProvider) CheckShape([]byte) bool          { return true }
func (p *listProvider) CanStartOver() bool              { return false }
func (p *listProvider) Login(context.Context, provider.Doer, provider.Credentials) (string, error) {
	return "", nil
}
func (p *listProvider) Channels(context.Context, provider.Doer) ([]provider.Channel, error) {
	p.fetches++
	return p.channels, p.err
}
func (p *listProvider) PlaylistPath(ch provider.Channel) string {
	return fmt.Sprintf("plugin://plugin.video.list/?_=play_video&channel=%s&id=%s&type=channel&_l=.pvr", ch.ID, ch.ID)
}
func (p *listProvider) NowPlaying(context.Context, provider.Doer, string) (provider.NowInfo, error) {
	return provider.NowInfo{}, nil
}
func (p *listProvider) StreamURL(context.Context, provider.Doer, provider.PlayRequest) (provider.PlayData, error) {
	return provider.PlayData{}, nil
}
func (p *listProvider) ReplayProgramID(context.Context, provider.Doer, string) (string, error) {
	return "", nil
}

type nopDoer struct{}

func (nopDoer) Download(context.Context, httpx.Request, provider.DownloadOpts) (*httpx.Response, error) {
	return &httpx.Response{StatusCode: 200, Body: []byte("{}")}, nil
}
func (nopDoer) SetHeaders(map[string]string) {}
func (nopDoer) SetBearer(string)             {}
func (nopDoer) ClearCookies()                {}

func newTestBuilder(t *testing.T, prov *listProvider) (*Builder, *settings.Store, settings.Profile) {
	t.Helper()
	dir := t.TempDir()
	store, err := settings.Open(filepath.Join(dir, "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	profile, err := settings.NewProfile(filepath.Join(dir, "profile"))
	require.NoError(t, err)
	return NewBuilder(prov, store, profile, zerolog.Nop()), store, profile
}

func twoChannels() []provider.Channel {
	return []provider.Channel{
		{ID: "1", Number: 1, Label: "NPO1", Image: "http://x/1.png"},
		{ID: "2", Number: 2, Label: "NPO2", Image: "http://x/2.png"},
	}
}

func TestRefreshWritesArtifacts(t *testing.T) {
	prov := &listProvider{channels: twoChannels()}
	b, _, profile := newTestBuilder(t, prov)

	require.True(t, b.Needed(), "fresh profile must need a refresh")
	require.NoError(t, b.Refresh(context.Background(), nopDoer{}))

	assert.Equal(t, twoChannels(), b.LoadChannels())
	assert.True(t, profile.Exists(FilePlaylist))
	assert.True(t, profile.Exists(FilePlaylistAll))
	assert.False(t, b.Needed(), "refresh must stamp the age")
}

func TestNeededHonorsWindow(t *testing.T) {
	prov := &listProvider{channels: twoChannels()}
	b, store, _ := newTestBuilder(t, prov)

	require.NoError(t, store.SetInt(KeyChannelsAge, time.Now().Add(-23*time.Hour).Unix()))
	assert.False(t, b.Needed())
	require.NoError(t, store.SetInt(KeyChannelsAge, time.Now().Add(-25*time.Hour).Unix()))
	assert.True(t, b.Needed())
}

func TestRefreshFailureKeepsOldState(t *testing.T) {
	prov := &listProvider{channels: twoChannels()}
	b, _, _ := newTestBuilder(t, prov)
	require.NoError(t, b.Refresh(context.Background(), nopDoer{}))

	prov.err = fmt.Errorf("upstream down")
	require.Error(t, b.Refresh(context.Background(), nopDoer{}))
	assert.Equal(t, twoChannels(), b.LoadChannels(), "failed refresh must not clobber the list")
}

func TestPlaylistFilterFollowsEPGPref(t *testing.T) {
	prov := &listProvider{channels: twoChannels()}
	b, _, profile := newTestBuilder(t, prov)
	require.NoError(t, b.Refresh(context.Background(), nopDoer{}))

	require.NoError(t, b.SetManual("2", "epg", false))

	filtered, err := profile.ReadFile(FilePlaylist)
	require.NoError(t, err)
	all, err := profile.ReadFile(FilePlaylistAll)
	require.NoError(t, err)

	assert.Contains(t, string(filtered), `tvg-name="NPO1"`)
	assert.NotContains(t, string(filtered), `tvg-name="NPO2"`)
	assert.Contains(t, string(all), `tvg-name="NPO2"`, "tv_all always carries every channel")
}

func TestPlaylistRegenerationIdempotent(t *testing.T) {
	prov := &listProvider{channels: twoChannels()}
	b, _, profile := newTestBuilder(t, prov)
	require.NoError(t, b.Refresh(context.Background(), nopDoer{}))

	first, err := profile.ReadFile(FilePlaylist)
	require.NoError(t, err)
	require.NoError(t, b.WritePlaylists(b.LoadChannels()))
	second, err := profile.ReadFile(FilePlaylist)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestApplyResultsCreatesAndUpdatesAutoPrefs(t *testing.T) {
	prov := &listProvider{channels: twoChannels()}
	b, _, _ := newTestBuilder(t, prov)

	results := &TestResults{Channels: map[string]TestResult{
		"1": {Live: true, Replay: false, EPG: true},
	}}
	prefs, err := b.ApplyResults(results)
	require.NoError(t, err)
	require.Contains(t, prefs, "1")
	assert.True(t, prefs["1"].Live)
	assert.Equal(t, ChoiceAuto, prefs["1"].LiveChoice)
	assert.False(t, prefs["1"].Replay)

	// A later sweep flips the auto fields.
	results.Channels["1"] = TestResult{Live: false, Replay: true, EPG: true}
	prefs, err = b.ApplyResults(results)
	require.NoError(t, err)
	assert.False(t, prefs["1"].Live)
	assert.True(t, prefs["1"].Replay)
}

func TestApplyResultsNeverTouchesManual(t *testing.T) {
	prov := &listProvider{channels: twoChannels()}
	b, _, _ := newTestBuilder(t, prov)
	require.NoError(t, b.Refresh(context.Background(), nopDoer{}))
	require.NoError(t, b.SetManual("1", "live", true))

	results := &TestResults{Channels: map[string]TestResult{
		"1": {Live: false, Replay: true, EPG: false},
	}}
	prefs, err := b.ApplyResults(results)
	require.NoError(t, err)

	assert.True(t, prefs["1"].Live, "manual value survives the sweep")
	assert.Equal(t, ChoiceManual, prefs["1"].LiveChoice)
	assert.True(t, prefs["1"].Replay, "auto fields still follow results")
	assert.Equal(t, ChoiceAuto, prefs["1"].ReplayChoice)
}

func TestApplyResultsLeavesUntestedChannelsAlone(t *testing.T) {
	prov := &listProvider{channels: twoChannels()}
	b, _, _ := newTestBuilder(t, prov)
	require.NoError(t, b.SetManual("2", "replay", false))

	prefs, err := b.ApplyResults(&TestResults{Channels: map[string]TestResult{}})
	require.NoError(t, err)
	assert.False(t, prefs["2"].Replay)
	assert.NotContains(t, prefs, "1")
}

func TestResultsRoundtripWithCursor(t *testing.T) {
	prov := &listProvider{channels: twoChannels()}
	b, _, _ := newTestBuilder(t, prov)

	res := b.LoadResults()
	res.Channels["1"] = TestResult{Label: "NPO1", Live: true, LiveBandwidth: 4_000_000}
	res.LastTested = "1"
	require.NoError(t, b.SaveResults(res))

	got := b.LoadResults()
	assert.Equal(t, "1", got.LastTested)
	assert.Equal(t, 4_000_000, got.Channels["1"].LiveBandwidth)
}

func TestWritePlaylistsSkipsBlankIDs(t *testing.T) {
	prov := &listProvider{channels: append(twoChannels(), provider.Channel{ID: "", Label: "ghost"})}
	b, _, profile := newTestBuilder(t, prov)
	require.NoError(t, b.Refresh(context.Background(), nopDoer{}))

	all, err := profile.ReadFile(FilePlaylistAll)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(all), "ghost"))
}
