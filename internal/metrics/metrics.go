package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OnlineConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "palaver_online_connections",
		Help: "Number of identities with a live registered connection.",
	})

	MessagesPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "palaver_messages_persisted_total",
		Help: "Messages successfully written to storage.",
	}, []string{"kind"})

	PushesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "palaver_pushes_delivered_total",
		Help: "Push events handed to a live connection.",
	}, []string{"event"})

	PushesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "palaver_pushes_dropped_total",
		Help: "Push events dropped because a connection could not take them.",
	}, []string{"event"})
)

// Handler exposes the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
