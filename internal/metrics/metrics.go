package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages accepted by the ledger (replays excluded).",
	})

	PushEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_push_events_total",
		Help: "Push delivery events emitted, by kind.",
	}, []string{"kind"})

	ReconciliationGaps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_reconciliation_gaps_total",
		Help: "Buffered change-feed updates dropped after the retry window.",
	})

	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_projection_subscriptions",
		Help: "Live room projection subscriptions.",
	})
)

// Handler returns the http.Handler for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
