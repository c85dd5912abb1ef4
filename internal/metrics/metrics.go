package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OnlineViewers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "squadlink_online_viewers",
		Help: "Current websocket viewers with a running sync engine.",
	})

	SendsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "squadlink_sends_total",
		Help: "Total messages submitted to the store.",
	})
	SendsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "squadlink_sends_dropped_total",
		Help: "Total send calls dropped because another send was in flight.",
	})
	SendsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "squadlink_sends_failed_total",
		Help: "Total sends rejected by the store.",
	})

	DedupHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "squadlink_dedup_hits_total",
		Help: "Total inbound messages ignored because their id was already applied.",
	})
	StaleContinuations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "squadlink_stale_continuations_total",
		Help: "Total async results discarded because the session generation advanced.",
	})

	ListRefreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "squadlink_list_refreshes_total",
		Help: "Total conversation list refreshes issued.",
	})
	ListRefreshErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "squadlink_list_refresh_errors_total",
		Help: "Total conversation list refreshes that failed.",
	})

	FeedStatus = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "squadlink_feed_status_total",
		Help: "Change feed status transitions by status.",
	}, []string{"status"})

	AnchorFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "squadlink_anchor_fallbacks_total",
		Help: "Total initial anchors that fell back to bottom after retries ran out.",
	})

	OutboxPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "squadlink_outbox_published_total",
		Help: "Total outbox events published to the change feed.",
	})
	OutboxFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "squadlink_outbox_failed_total",
		Help: "Total outbox events that failed to publish.",
	})
)

func Register() {
	prometheus.MustRegister(
		OnlineViewers,
		SendsTotal, SendsDropped, SendsFailed,
		DedupHits, StaleContinuations,
		ListRefreshes, ListRefreshErrors,
		FeedStatus, AnchorFallbacks,
		OutboxPublished, OutboxFailed,
	)
}
