// Package metrics registers the process-wide Prometheus collectors.
// Exposed on the local proxy's /metrics endpoint in serve mode.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginAttempts counts provider logins by outcome ("success",
	// "auth_error", "not_configured", "error").
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dutiptv_login_attempts_total",
		Help: "Provider login attempts by outcome.",
	}, []string{"provider", "outcome"})

	// SessionReuse counts token reuses that skipped the network entirely.
	SessionReuse = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dutiptv_session_reuse_total",
		Help: "Sessions reused from a cached unexpired token.",
	})

	// RetryRelogin counts forced relogin + replay cycles triggered by an
	// unexpected status or response shape.
	RetryRelogin = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dutiptv_retry_relogin_total",
		Help: "Authenticated calls replayed after a forced relogin.",
	})

	// SweepResults counts channel test outcomes ("ok", "dead").
	SweepResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dutiptv_sweep_results_total",
		Help: "Channel test sweep probe outcomes.",
	}, []string{"result"})

	// ProxyRequests counts requests forwarded to the stream host.
	ProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dutiptv_proxy_requests_total",
		Help: "Requests forwarded by the local stream proxy, by status class.",
	}, []string{"code"})
)
