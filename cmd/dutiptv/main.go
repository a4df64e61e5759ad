// Command dutiptv: Dutch IPTV client for Canal Digitaal and KPN iTV.
//
//	login    Force a fresh provider login (prompts for the password if needed)
//	refresh  Refresh the channel catalog and regenerate the playlists
//	test     Probe the next batch of channels and update preferences
//	play     Resolve a playable URL for a channel, replay program, or VOD item
//	prefs    Show channel preferences, or pin one field manually
//	vod      List VOD subscription content (KPN)
//	serve    Run the stream proxy, with periodic sweeps when enabled
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dutiptv/dutiptv/internal/catalog"
	"github.com/dutiptv/dutiptv/internal/config"
	"github.com/dutiptv/dutiptv/internal/gui"
	"github.com/dutiptv/dutiptv/internal/httpx"
	"github.com/dutiptv/dutiptv/internal/logx"
	"github.com/dutiptv/dutiptv/internal/provider"
	"github.com/dutiptv/dutiptv/internal/proxy"
	"github.com/dutiptv/dutiptv/internal/session"
	"github.com/dutiptv/dutiptv/internal/settings"
	"github.com/dutiptv/dutiptv/internal/stream"
	"github.com/dutiptv/dutiptv/internal/sweep"
)

type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    *settings.Store
	profile  settings.Profile
	prov     provider.Provider
	mgr      *session.Manager
	builder  *catalog.Builder
	resolver *stream.Resolver
}

// newApp wires the full stack. interactive selects whether prompts reach the
// terminal or are answered with no-ops.
func newApp(cfg *config.Config, log zerolog.Logger, interactive bool) (*app, error) {
	profile, err := settings.NewProfile(cfg.ProfileDir)
	if err != nil {
		return nil, err
	}
	store, err := settings.Open(cfg.SettingsPath())
	if err != nil {
		return nil, err
	}
	key, err := settings.EnsureDeviceKey(store)
	if err != nil {
		store.Close()
		return nil, err
	}
	dev := cfg.Device(key)

	var prov provider.Provider
	switch cfg.Provider {
	case config.ProviderKPN:
		p := provider.NewKPN(dev, log)
		p.EmailLogin = cfg.KPNEmailLogin
		p.Cache = profile
		p.EnableCache = cfg.KPNEnableCache
		prov = p
	default:
		prov = provider.NewCanalDigitaal(dev, log)
	}

	var g gui.Prompter = gui.None{}
	if interactive {
		g = gui.NewTerminal()
	}

	sess := httpx.NewSession(store, session.KeyCookies, cfg.UserAgent)
	mgr := session.NewManager(store, sess, prov, g, log)
	mgr.SavePassword = cfg.SavePassword

	builder := catalog.NewBuilder(prov, store, profile, log)
	builder.RefreshInterval = cfg.ChannelRefreshInterval
	mgr.Channels = builder

	resolver := stream.NewResolver(prov, mgr, store, g, log)
	resolver.ProxyPort = cfg.ProxyPort
	resolver.AskStartFromBeginning = cfg.AskStartFromBeginning

	a := &app{
		cfg:      cfg,
		log:      log,
		store:    store,
		profile:  profile,
		prov:     prov,
		mgr:      mgr,
		builder:  builder,
		resolver: resolver,
	}
	a.seedCredentials()
	return a, nil
}

// seedCredentials copies configured credentials into the settings store.
// An empty configured password never wipes a saved one.
func (a *app) seedCredentials() {
	if a.cfg.Username == "" {
		return
	}
	_ = a.store.Set(session.KeyUsername, a.cfg.Username)
	if a.cfg.Password != "" {
		_ = a.store.Set(session.KeyPassword, a.cfg.Password)
	}
}

func (a *app) Close() error { return a.store.Close() }

func (a *app) sweeper() *sweep.Runner {
	return sweep.NewRunner(a.builder, a.resolver, a.prov, a.mgr, a.store, a.profile, a.cfg.UserAgent, a.log)
}

func main() {
	_ = config.LoadEnvFile(".env")

	loginCmd := flag.NewFlagSet("login", flag.ExitOnError)
	loginUser := loginCmd.String("user", "", "Username / customer number (default: saved or DUTIPTV_USERNAME)")

	refreshCmd := flag.NewFlagSet("refresh", flag.ExitOnError)

	testCmd := flag.NewFlagSet("test", flag.ExitOnError)

	playCmd := flag.NewFlagSet("play", flag.ExitOnError)
	playChannel := playCmd.String("channel", "", "Channel id")
	playProgram := playCmd.String("program", "", "Replay program id (requires -channel)")
	playVOD := playCmd.String("vod", "", "VOD content id")
	playFromStart := playCmd.Bool("from-beginning", false, "Start the current program from the beginning")

	prefsCmd := flag.NewFlagSet("prefs", flag.ExitOnError)
	prefsChannel := prefsCmd.String("channel", "", "Channel id to pin")
	prefsField := prefsCmd.String("field", "", "Field to pin: live, replay or epg")
	prefsValue := prefsCmd.String("value", "", "Value: true or false")

	vodCmd := flag.NewFlagSet("vod", flag.ExitOnError)
	vodSeries := vodCmd.String("series", "", "Series id: list its seasons")
	vodSeason := vodCmd.String("season", "", "Season id: list its episodes")

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	serveSweep := serveCmd.Duration("sweep-interval", 5*time.Minute, "Interval between sweep batches (0 = follow config run_tests)")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <login|refresh|test|play|prefs|vod|serve> [flags]\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(os.Getenv("DUTIPTV_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logx.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	switch os.Args[1] {
	case "login":
		_ = loginCmd.Parse(os.Args[2:])
		runErr = withApp(cfg, log, true, func(a *app) error {
			if *loginUser != "" {
				if err := a.store.Set(session.KeyUsername, *loginUser); err != nil {
					return err
				}
			}
			return a.mgr.EnsureSession(ctx, session.EnsureOpts{Force: true})
		})
	case "refresh":
		_ = refreshCmd.Parse(os.Args[2:])
		runErr = withApp(cfg, log, false, func(a *app) error {
			if err := a.mgr.EnsureSession(ctx, session.EnsureOpts{}); err != nil {
				return err
			}
			return a.builder.Refresh(ctx, a.mgr)
		})
	case "test":
		_ = testCmd.Parse(os.Args[2:])
		runErr = withApp(cfg, log, false, func(a *app) error {
			if err := a.mgr.EnsureSession(ctx, session.EnsureOpts{}); err != nil {
				return err
			}
			return a.sweeper().Run(ctx)
		})
	case "play":
		_ = playCmd.Parse(os.Args[2:])
		runErr = withApp(cfg, log, true, func(a *app) error {
			req, err := playRequest(*playChannel, *playProgram, *playVOD, *playFromStart)
			if err != nil {
				return err
			}
			// Channel plays may need the catalog's asset id (KPN).
			if req.Kind == provider.KindChannel {
				for _, ch := range a.builder.LoadChannels() {
					if ch.ID == req.ChannelID {
						req.AssetID = ch.AssetID
						break
					}
				}
			}
			if err := a.mgr.EnsureSession(ctx, session.EnsureOpts{}); err != nil {
				return err
			}
			pd, err := a.resolver.Resolve(ctx, req)
			if err != nil {
				return err
			}
			fmt.Println(pd.Path)
			if pd.License != "" {
				fmt.Println("license:", pd.License)
			}
			return nil
		})
	case "prefs":
		_ = prefsCmd.Parse(os.Args[2:])
		runErr = withApp(cfg, log, false, func(a *app) error {
			return runPrefs(a, *prefsChannel, *prefsField, *prefsValue)
		})
	case "vod":
		_ = vodCmd.Parse(os.Args[2:])
		runErr = withApp(cfg, log, false, func(a *app) error {
			return runVOD(ctx, a, *vodSeries, *vodSeason)
		})
	case "serve":
		_ = serveCmd.Parse(os.Args[2:])
		runErr = withApp(cfg, log, false, func(a *app) error {
			return runServe(ctx, a, *serveSweep)
		})
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", os.Args[1])
		os.Exit(1)
	}

	if runErr != nil {
		if errors.Is(runErr, provider.ErrNotConfigured) {
			// No credentials yet. Not an error worth a stack of noise.
			log.Info().Msg("not configured, run login first")
			return
		}
		if errors.Is(runErr, context.Canceled) {
			return
		}
		log.Error().Err(runErr).Msg(os.Args[1] + " failed")
		os.Exit(1)
	}
}

func withApp(cfg *config.Config, log zerolog.Logger, interactive bool, fn func(*app) error) error {
	a, err := newApp(cfg, log, interactive)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func playRequest(channel, program, vod string, fromStart bool) (provider.PlayRequest, error) {
	switch {
	case vod != "":
		return provider.PlayRequest{Kind: provider.KindVOD, ContentID: vod}, nil
	case program != "":
		if channel == "" {
			return provider.PlayRequest{}, fmt.Errorf("-program requires -channel")
		}
		return provider.PlayRequest{Kind: provider.KindProgram, ChannelID: channel, ContentID: program}, nil
	case channel != "":
		return provider.PlayRequest{Kind: provider.KindChannel, ChannelID: channel, FromBeginning: fromStart}, nil
	}
	return provider.PlayRequest{}, fmt.Errorf("one of -channel, -program or -vod is required")
}

func runPrefs(a *app, channel, field, value string) error {
	if channel == "" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(a.builder.LoadPrefs())
	}
	if field == "" || value == "" {
		return fmt.Errorf("pinning needs -field and -value")
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("bad -value %q: %w", value, err)
	}
	return a.builder.SetManual(channel, field, v)
}

func runVOD(ctx context.Context, a *app, series, season string) error {
	v, ok := a.prov.(provider.VOD)
	if !ok {
		return fmt.Errorf("provider %s has no VOD catalog", a.prov.Name())
	}
	if err := a.mgr.EnsureSession(ctx, session.EnsureOpts{}); err != nil {
		return err
	}
	switch {
	case season != "":
		episodes, err := v.Season(ctx, a.mgr, season)
		if err != nil {
			return err
		}
		listEpisodes(os.Stdout, episodes)
	case series != "":
		seasons, err := v.Seasons(ctx, a.mgr, series)
		if err != nil {
			return err
		}
		listSeasons(os.Stdout, seasons)
	default:
		ids, err := v.Subscription(ctx, a.mgr)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
	}
	return nil
}

func listEpisodes(w io.Writer, episodes []provider.Episode) {
	for _, ep := range episodes {
		fmt.Fprintf(w, "%s\t%s\n", ep.ID, ep.Title)
	}
}

func listSeasons(w io.Writer, seasons []provider.Season) {
	for _, s := range seasons {
		fmt.Fprintf(w, "%s\t%d\t%s\n", s.ID, s.Number, s.Description)
	}
}

// runServe runs the proxy until the context ends, refreshing the catalog on
// startup when stale and running sweep batches on a timer when enabled.
func runServe(ctx context.Context, a *app, sweepInterval time.Duration) error {
	if err := a.mgr.EnsureSession(ctx, session.EnsureOpts{}); err != nil {
		if !errors.Is(err, provider.ErrNotConfigured) {
			return err
		}
		a.log.Info().Msg("serving without a session, run login to enable streams")
	} else if a.builder.Needed() {
		if err := a.builder.Refresh(ctx, a.mgr); err != nil {
			a.log.Warn().Err(err).Msg("startup catalog refresh failed")
		}
	}

	if a.cfg.RunTests && sweepInterval > 0 {
		runner := a.sweeper()
		go func() {
			t := time.NewTicker(sweepInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						a.log.Warn().Err(err).Msg("sweep batch failed")
					}
				}
			}
		}()
	}

	return proxy.New(a.store, a.cfg.UserAgent, a.log).ListenAndServe(ctx, a.cfg.ProxyPort)
}
