// Package metrics exposes Prometheus instrumentation for the gateway.
// Collectors register on the default registry and are served through the
// standard promhttp handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache tier labels for TickerServes.
const (
	TierFresh    = "fresh"
	TierCached   = "cached"
	TierStale    = "stale"
	TierFallback = "fallback"
)

var (
	UpstreamState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedgate_upstream_state",
		Help: "Upstream connection state (0 disconnected, 1 connecting, 2 authenticating, 3 open, 4 closing)",
	})
	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedgate_upstream_reconnects_total",
		Help: "Total reconnect attempts against the upstream stream",
	})

	FramesInTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedgate_frames_in_total",
		Help: "Total inbound frames, partitioned by frame type",
	}, []string{"type"})
	FramesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedgate_frames_dropped_total",
		Help: "Total inbound frames dropped as malformed",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedgate_subscribers",
		Help: "Active downstream stream subscribers",
	})
	SubscriberSendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedgate_subscriber_send_errors_total",
		Help: "Total failed sends to downstream subscribers",
	})

	TickerServes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedgate_ticker_serves_total",
		Help: "Ticker responses served, partitioned by cache tier",
	}, []string{"tier"})
	UpstreamFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedgate_upstream_fetch_errors_total",
		Help: "Total failed REST fetches against the upstream API",
	})
)
