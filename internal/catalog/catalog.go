// Package catalog turns the provider's raw channel list into the persisted
// artifacts everything else consumes: channels.json, the channel preference
// file, and the generated tv.m3u8 / tv_all.m3u8 playlists.
package catalog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dutiptv/dutiptv/internal/playlist"
	"github.com/dutiptv/dutiptv/internal/provider"
	"github.com/dutiptv/dutiptv/internal/settings"
)

// Persisted artifact names. Flat JSON / M3U, last-writer-wins.
const (
	FileChannels    = "channels.json"
	FilePrefs       = "channel_prefs.json"
	FileTests       = "channel_test.json"
	FilePlaylist    = "tv.m3u8"
	FilePlaylistAll = "tv_all.m3u8"
)

// KeyChannelsAge is the settings key holding the unix time of the last
// catalog refresh.
const KeyChannelsAge = "_channels_age"

// DefaultRefreshInterval is how long a channel list stays fresh.
const DefaultRefreshInterval = 24 * time.Hour

// Builder fetches and normalizes the channel catalog and regenerates both
// playlist variants in full on every refresh.
type Builder struct {
	prov    provider.Provider
	store   *settings.Store
	profile settings.Profile
	log     zerolog.Logger

	// RefreshInterval overrides the 24h freshness window.
	RefreshInterval time.Duration
	now             func() time.Time
}

func NewBuilder(prov provider.Provider, store *settings.Store, profile settings.Profile, log zerolog.Logger) *Builder {
	return &Builder{
		prov:            prov,
		store:           store,
		profile:         profile,
		log:             log.With().Str("component", "catalog").Logger(),
		RefreshInterval: DefaultRefreshInterval,
		now:             time.Now,
	}
}

// Needed reports whether the channel list is older than the refresh window.
func (b *Builder) Needed() bool {
	age := b.store.GetInt(KeyChannelsAge)
	return b.now().Unix()-age > int64(b.RefreshInterval/time.Second)
}

// Refresh fetches the catalog over d, persists the normalized list, and
// regenerates both playlists. The refresh timestamp is only advanced on
// success.
func (b *Builder) Refresh(ctx context.Context, d provider.Doer) error {
	channels, err := b.prov.Channels(ctx, d)
	if err != nil {
		return err
	}
	if err := b.profile.SaveJSON(FileChannels, channels); err != nil {
		return err
	}
	if err := b.WritePlaylists(channels); err != nil {
		return err
	}
	if err := b.store.SetInt(KeyChannelsAge, b.now().Unix()); err != nil {
		return err
	}
	b.log.Info().Int("channels", len(channels)).Msg("catalog refreshed")
	return nil
}

// WritePlaylists regenerates tv_all.m3u8 (every channel) and tv.m3u8
// (channels whose EPG preference is on, or that have no preference yet).
// Output is deterministic: identical input produces identical bytes.
func (b *Builder) WritePlaylists(channels []provider.Channel) error {
	prefs := b.LoadPrefs()

	var all, filtered []playlist.Item
	for _, ch := range channels {
		if ch.ID == "" {
			continue
		}
		item := playlist.Item{
			TvgID:   ch.ID,
			TvgChNo: ch.Number,
			Name:    ch.Label,
			Logo:    ch.Image,
			Path:    b.prov.PlaylistPath(ch),
		}
		all = append(all, item)
		if pref, ok := prefs[ch.ID]; !ok || pref.EPG {
			filtered = append(filtered, item)
		}
	}
	if err := b.profile.WriteFile(FilePlaylistAll, playlist.Render(all)); err != nil {
		return err
	}
	return b.profile.WriteFile(FilePlaylist, playlist.Render(filtered))
}

// LoadChannels returns the persisted normalized channel list, or nil.
func (b *Builder) LoadChannels() []provider.Channel {
	var channels []provider.Channel
	if err := b.profile.LoadJSON(FileChannels, &channels); err != nil {
		return nil
	}
	return channels
}
