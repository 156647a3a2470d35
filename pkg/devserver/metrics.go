package devserver

import (
	"github.com/prometheus/client_golang/prometheus"
)

type serverMetrics struct {
	mutations *prometheus.CounterVec
	rejected  *prometheus.CounterVec
}

func newServerMetrics(reg prometheus.Registerer, s *Server) *serverMetrics {
	m := &serverMetrics{
		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pipedash",
				Subsystem: "devserver",
				Name:      "mutations_total",
				Help:      "Accepted pipeline mutations by operation.",
			},
			[]string{"operation"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pipedash",
				Subsystem: "devserver",
				Name:      "rejected_total",
				Help:      "Rejected requests by operation and status code.",
			},
			[]string{"operation", "code"},
		),
	}
	if reg == nil {
		return m
	}
	reg.MustRegister(
		m.mutations,
		m.rejected,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "pipedash",
			Subsystem: "devserver",
			Name:      "pipelines",
			Help:      "Pipelines currently held in memory.",
		}, func() float64 { return float64(len(s.store.List())) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "pipedash",
			Subsystem:   "devserver",
			Name:        "stream_peers",
			Help:        "Websocket peers attached to a stream.",
			ConstLabels: prometheus.Labels{"stream": "logs"},
		}, func() float64 { return float64(s.logs.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "pipedash",
			Subsystem:   "devserver",
			Name:        "stream_peers",
			Help:        "Websocket peers attached to a stream.",
			ConstLabels: prometheus.Labels{"stream": "cluster-updates"},
		}, func() float64 { return float64(s.updates.Len()) }),
	)
	return m
}
