package sources

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	streamFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamhub_stream_fetch_total",
		Help: "Stream fetches by outcome (ok, empty, error, invalid)",
	}, []string{"stream", "outcome"})

	handshakes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamhub_handshake_total",
		Help: "Webhook subscription handshakes by outcome",
	}, []string{"stream", "outcome"})
)
