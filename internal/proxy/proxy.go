// Package proxy serves stream segments to the player. Players speak plain
// HTTP to 127.0.0.1 while the proxy relays to whatever upstream the last
// resolved stream recorded.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dutiptv/dutiptv/internal/metrics"
	"github.com/dutiptv/dutiptv/internal/settings"
	"github.com/dutiptv/dutiptv/internal/stream"
)

// Server relays player requests to the recorded stream origin and exposes
// Prometheus metrics on /metrics.
type Server struct {
	store     *settings.Store
	log       zerolog.Logger
	userAgent string
}

func New(store *settings.Store, userAgent string, log zerolog.Logger) *Server {
	return &Server{
		store:     store,
		log:       log.With().Str("component", "proxy").Logger(),
		userAgent: userAgent,
	}
}

// Handler builds the proxy mux. The upstream origin is re-read from the
// settings store on every request, so a channel change retargets the proxy
// without a restart.
func (s *Server) Handler() http.Handler {
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			origin := s.store.Get(stream.KeyStreamHostname)
			u, err := url.Parse(origin)
			if err != nil || u.Host == "" {
				// No upstream recorded yet. Leave the request pointing at an
				// unroutable host so the error handler answers 502.
				pr.Out.URL.Scheme = "http"
				pr.Out.URL.Host = "invalid."
				return
			}
			pr.Out.URL.Scheme = u.Scheme
			pr.Out.URL.Host = u.Host
			pr.Out.Host = u.Host
			if s.userAgent != "" {
				pr.Out.Header.Set("User-Agent", s.userAgent)
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			metrics.ProxyRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			metrics.ProxyRequests.WithLabelValues("502").Inc()
			s.log.Warn().Err(err).Str("path", r.URL.Path).Msg("upstream error")
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		},
		FlushInterval: 100 * time.Millisecond,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", rp)
	return mux
}

// ListenAndServe runs the proxy until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", srv.Addr).Msg("proxy listening")

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
