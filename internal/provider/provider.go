// Package provider abstracts the two supported Dutch IPTV backends behind a
// single interface: how to log in, how the account's channel catalog is
// fetched, and how a playable stream URL is obtained. The session manager
// owns state and retries; providers own wire formats and endpoints.
package provider

import (
	"context"
	"encoding/json"

	"github.com/dutiptv/dutiptv/internal/gui"
	"github.com/dutiptv/dutiptv/internal/httpx"
)

// Credentials as held by the settings store. Password may be empty when the
// user chose not to remember it.
type Credentials struct {
	Username string
	Password string
}

// Device identifies this installation to the provider. Key is a generated
// serial that providers tie device registrations to; the browser/OS fields
// are derived from the configured User-Agent.
type Device struct {
	Key            string
	BrowserName    string
	BrowserVersion string
	OSName         string
	OSVersion      string
	UserAgent      string
}

// Channel is one normalized catalog entry.
type Channel struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	Label  string `json:"label"`
	Image  string `json:"image_url"`
	// AssetID is the playable asset bound to the channel, when the provider
	// separates the two (KPN). Empty otherwise.
	AssetID string `json:"asset_id,omitempty"`
}

// Kind selects what a play request addresses.
type Kind string

const (
	KindChannel Kind = "channel"
	KindProgram Kind = "program"
	KindVOD     Kind = "vod"
)

// PlayRequest asks for a signed stream URL.
type PlayRequest struct {
	Kind      Kind
	ChannelID string
	// ContentID is the program or VOD identifier; for live-from-beginning it
	// carries the current program's id.
	ContentID string
	// AssetID is the channel's playable asset (KPN live).
	AssetID       string
	FromBeginning bool
	// Test suppresses the metadata lookups a real playback performs.
	Test bool
}

// PlayData is the resolver's result. An empty Path means "cannot play";
// callers must check it rather than rely on errors alone.
type PlayData struct {
	Path    string
	License string // DRM license endpoint, optional
	Token   string // stream token (KPN), optional
	Info    json.RawMessage
}

// NowInfo describes the program currently airing on a channel.
type NowInfo struct {
	ProgramID string
	Title     string
}

// DownloadOpts controls validation and the retry-with-relogin policy for
// one authenticated call.
type DownloadOpts struct {
	// ExpectCode lists acceptable status codes; nil accepts any.
	ExpectCode []int
	// AllowRetry permits one forced relogin + replay when the response is
	// outside ExpectCode or fails shape validation.
	AllowRetry bool
	// CheckShape runs the provider's response-shape validation.
	CheckShape bool
}

// Doer is what providers use to reach the network. The session manager
// implements it; during login a non-reentrant variant is supplied.
type Doer interface {
	Download(ctx context.Context, req httpx.Request, opts DownloadOpts) (*httpx.Response, error)
	// SetHeaders replaces the session's base header set (login handshakes
	// swap header profiles between steps).
	SetHeaders(h map[string]string)
	SetBearer(token string)
	ClearCookies()
}

// Provider is one IPTV backend.
type Provider interface {
	Name() string
	// PluginID is the Kodi add-on id used in generated plugin:// paths.
	PluginID() string
	// BaseHeaders is the header profile for authenticated API traffic.
	BaseHeaders() map[string]string
	// AskPassword prompts for the provider's password style (free-form or
	// numeric PIN). Returns "" when the user cancels.
	AskPassword(g gui.Prompter) string
	// Login runs the provider's login procedure and returns the bearer
	// token, or "" when the provider authenticates by cookie only.
	Login(ctx context.Context, d Doer, creds Credentials) (token string, err error)
	// CheckShape validates a JSON response body's envelope.
	CheckShape(body []byte) bool
	// Channels fetches the account's channel catalog.
	Channels(ctx context.Context, d Doer) ([]Channel, error)
	// PlaylistPath is the plugin:// path for a channel's playlist entry.
	PlaylistPath(ch Channel) string
	// NowPlaying resolves the program currently airing on a channel.
	NowPlaying(ctx context.Context, d Doer, channelID string) (NowInfo, error)
	// CanStartOver reports whether live playback can start from the
	// beginning of the current program.
	CanStartOver() bool
	// StreamURL obtains the signed stream URL plus DRM/token extras.
	StreamURL(ctx context.Context, d Doer, req PlayRequest) (PlayData, error)
	// ReplayProgramID returns a program id from yesterday's schedule,
	// used by the test sweep's replay probe. "" when none.
	ReplayProgramID(ctx context.Context, d Doer, channelID string) (string, error)
}

// Season is one VOD season of a series.
type Season struct {
	ID          string `json:"id"`
	Number      int    `json:"seriesNumber"`
	Description string `json:"desc"`
	Image       string `json:"image"`
}

// Episode is one VOD episode.
type Episode struct {
	ID            string `json:"id"`
	AssetID       string `json:"assetid"`
	Duration      int    `json:"duration"`
	Title         string `json:"title"`
	EpisodeNumber string `json:"episodeNumber"`
	Description   string `json:"desc"`
	Image         string `json:"image"`
}

// VOD is implemented by providers with an on-demand library.
type VOD interface {
	// Subscription lists the content ids the account is entitled to.
	Subscription(ctx context.Context, d Doer) ([]string, error)
	Seasons(ctx context.Context, d Doer, id string) ([]Season, error)
	Season(ctx context.Context, d Doer, id string) ([]Episode, error)
}
