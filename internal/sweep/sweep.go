// Package sweep probes channels in small resumable batches and records what
// actually plays, feeding the results back into channel preferences and the
// generated playlists.
package sweep

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dutiptv/dutiptv/internal/catalog"
	"github.com/dutiptv/dutiptv/internal/metrics"
	"github.com/dutiptv/dutiptv/internal/provider"
	"github.com/dutiptv/dutiptv/internal/settings"
	"github.com/dutiptv/dutiptv/internal/stream"
)

// BatchSize is how many channels a single run probes before yielding.
const BatchSize = 5

const manifestReadLimit = 4 << 20

// Runner executes one bounded sweep batch per Run call, resuming from the
// persisted cursor.
type Runner struct {
	builder  *catalog.Builder
	resolver *stream.Resolver
	prov     provider.Provider
	d        provider.Doer
	store    *settings.Store
	profile  settings.Profile
	log      zerolog.Logger

	// probe fetches manifests directly, outside the authenticated session.
	probe     *http.Client
	userAgent string

	now  func() time.Time
	tick func(context.Context) error
}

func NewRunner(builder *catalog.Builder, resolver *stream.Resolver, prov provider.Provider, d provider.Doer, store *settings.Store, profile settings.Profile, userAgent string, log zerolog.Logger) *Runner {
	return &Runner{
		builder:   builder,
		resolver:  resolver,
		prov:      prov,
		d:         d,
		store:     store,
		profile:   profile,
		log:       log.With().Str("component", "sweep").Logger(),
		probe:     &http.Client{Timeout: 15 * time.Second},
		userAgent: userAgent,
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

// Run probes the next batch of channels. It refuses to start while playback
// is active or another sweep holds the flag, stops early the moment real
// playback begins, and on every exit path folds the accumulated results into
// the preferences and regenerates the playlists.
func (r *Runner) Run(ctx context.Context) error {
	if r.store.GetBool(stream.KeyTestRunning) {
		r.log.Info().Msg("sweep already running")
		return nil
	}
	if r.playbackActive() {
		r.log.Info().Msg("playback active, skipping sweep")
		return nil
	}
	channels := r.builder.LoadChannels()
	if len(channels) == 0 {
		return fmt.Errorf("sweep: no channel list, refresh first")
	}

	if err := r.store.SetBool(stream.KeyTestRunning, true); err != nil {
		return err
	}
	results := r.builder.LoadResults()
	defer func() {
		if _, err := r.builder.ApplyResults(results); err != nil {
			r.log.Error().Err(err).Msg("apply results")
		}
		if err := r.builder.WritePlaylists(channels); err != nil {
			r.log.Error().Err(err).Msg("rewrite playlists")
		}
		if err := r.store.SetBool(stream.KeyTestRunning, false); err != nil {
			r.log.Error().Err(err).Msg("clear sweep flag")
		}
	}()

	// Canary: when resuming, retest the channel that worked last time. If it
	// no longer plays the session itself is suspect and the batch would only
	// record noise.
	if prev, ok := channelByID(channels, results.LastTested); ok {
		if old, seen := results.Channels[prev.ID]; seen && old.Live {
			live, _ := r.probePlay(ctx, provider.PlayRequest{
				Kind:      provider.KindChannel,
				ChannelID: prev.ID,
				AssetID:   prev.AssetID,
				Test:      true,
			})
			if err := ctx.Err(); err != nil {
				return err
			}
			if !live {
				r.log.Warn().Str("channel", prev.ID).Msg("previously working channel stopped playing, aborting sweep")
				return nil
			}
		}
	}

	start := r.startIndex(channels, results.LastTested)
	for i := 0; i < BatchSize && i < len(channels); i++ {
		ch := channels[(start+i)%len(channels)]
		res, ok, err := r.probeChannel(ctx, ch)
		if err != nil {
			return err
		}
		if !ok {
			r.log.Info().Str("channel", ch.ID).Msg("playback started, discarding probe and stopping sweep")
			return nil
		}
		results.Channels[ch.ID] = res
		results.LastTested = ch.ID
		if err := r.builder.SaveResults(results); err != nil {
			return err
		}
		outcome := "dead"
		if res.Live || res.Replay {
			outcome = "ok"
		}
		metrics.SweepResults.WithLabelValues(outcome).Inc()
		r.log.Info().Str("channel", ch.ID).Str("label", ch.Label).
			Bool("live", res.Live).Bool("replay", res.Replay).Msg("channel probed")

		// Long yield window after each recorded channel.
		if err := r.cooldown(ctx, 15); err != nil {
			return err
		}
		if r.playbackActive() {
			r.log.Info().Msg("playback started, stopping sweep")
			return nil
		}
	}
	return nil
}

func (r *Runner) playbackActive() bool {
	last := r.store.GetInt(stream.KeyLastPlaying)
	return last > 0 && r.now().Unix()-last < int64(stream.PlaybackGuard/time.Second)
}

func (r *Runner) cooldown(ctx context.Context, ticks int) error {
	for i := 0; i < ticks; i++ {
		if r.playbackActive() {
			return nil
		}
		if err := r.tick(ctx); err != nil {
			return err
		}
	}
	return nil
}

func channelByID(channels []provider.Channel, id string) (provider.Channel, bool) {
	if id == "" {
		return provider.Channel{}, false
	}
	for _, ch := range channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return provider.Channel{}, false
}

// startIndex resumes one past the cursor, wrapping around, or at zero when
// the cursor is unknown.
func (r *Runner) startIndex(channels []provider.Channel, cursor string) int {
	if cursor == "" {
		return 0
	}
	for i, ch := range channels {
		if ch.ID == cursor {
			return (i + 1) % len(channels)
		}
	}
	return 0
}

// probeChannel measures a channel's live and replay streams, with a short
// yield window between the two probes. ok is false when playback claimed the
// session mid-probe; the partial result is then discarded.
func (r *Runner) probeChannel(ctx context.Context, ch provider.Channel) (res catalog.TestResult, ok bool, err error) {
	res = catalog.TestResult{Label: ch.Label}

	res.Live, res.LiveBandwidth = r.probePlay(ctx, provider.PlayRequest{
		Kind:      provider.KindChannel,
		ChannelID: ch.ID,
		AssetID:   ch.AssetID,
		Test:      true,
	})

	if err := r.cooldown(ctx, 5); err != nil {
		return res, false, err
	}
	if r.playbackActive() {
		return res, false, nil
	}

	if programID, err := r.prov.ReplayProgramID(ctx, r.d, ch.ID); err == nil && programID != "" {
		res.Replay, res.ReplayBandwidth = r.probePlay(ctx, provider.PlayRequest{
			Kind:      provider.KindProgram,
			ChannelID: ch.ID,
			ContentID: programID,
			Test:      true,
		})
	}

	res.Guide = r.profile.Exists(ch.ID + "_replay.json")
	res.EPG = res.Guide && res.Live
	return res, true, ctx.Err()
}

// probePlay resolves a test play and fetches the manifest directly to verify
// the stream answers and to read its top bandwidth.
func (r *Runner) probePlay(ctx context.Context, req provider.PlayRequest) (bool, int) {
	pd, err := r.resolver.Resolve(ctx, req)
	if err != nil {
		return false, 0
	}
	body, err := r.fetchManifest(ctx, pd.Path)
	if err != nil {
		r.log.Debug().Err(err).Str("channel", req.ChannelID).Msg("manifest fetch failed")
		return false, 0
	}
	return true, stream.HighestBandwidth(body)
}

func (r *Runner) fetchManifest(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := r.probe.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, manifestReadLimit))
}
