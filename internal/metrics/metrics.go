// Package metrics exposes the relay's prometheus collectors. Collectors
// hang off an explicit registerer so tests can construct a fresh set.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultAccepted    = "accepted"
	ResultDuplicate   = "duplicate"
	ResultMalformed   = "malformed"
	ResultRateLimited = "rate_limited"
)

type Metrics struct {
	EventsReceived *prometheus.CounterVec
	Delivered      prometheus.Counter
	DecryptFailed  prometheus.Counter
	PeerSends      prometheus.Counter
	PeerSendFails  prometheus.Counter
	HistoryServed  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshchat_events_received_total",
				Help: "Inbound events by pipeline result",
			},
			[]string{"result"},
		),
		Delivered: f.NewCounter(prometheus.CounterOpts{
			Name: "meshchat_events_delivered_total",
			Help: "Events delivered to the local subscriber",
		}),
		DecryptFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "meshchat_decrypt_failures_total",
			Help: "Events relayed without delivery because decryption failed",
		}),
		PeerSends: f.NewCounter(prometheus.CounterOpts{
			Name: "meshchat_peer_sends_total",
			Help: "Per-peer rebroadcast sends attempted",
		}),
		PeerSendFails: f.NewCounter(prometheus.CounterOpts{
			Name: "meshchat_peer_send_failures_total",
			Help: "Per-peer rebroadcast sends that failed",
		}),
		HistoryServed: f.NewCounter(prometheus.CounterOpts{
			Name: "meshchat_history_requests_total",
			Help: "Catch-up requests served",
		}),
	}
}
