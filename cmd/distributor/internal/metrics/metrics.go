package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters and gauges for the distribution core. All registered on the
// default registry and served by promhttp from the main router.
var (
	TicksIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketstream_ticks_ingested_total",
		Help: "Ticks accepted from the upstream provider and written to the price store.",
	})

	TicksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketstream_ticks_dropped_total",
		Help: "Upstream payloads dropped because they were malformed or had no usable price.",
	})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketstream_upstream_reconnects_total",
		Help: "Times the supervisor re-established the upstream connection.",
	})

	FramesPushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketstream_frames_pushed_total",
		Help: "Event frames written to consumer connections.",
	})

	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketstream_frames_dropped_total",
		Help: "Frames dropped because a consumer send buffer was full.",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketstream_active_sessions",
		Help: "Currently connected consumer sessions.",
	})

	SubscribedSymbols = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketstream_subscribed_symbols",
		Help: "Symbols with a positive ref-count in the subscription registry.",
	})
)
