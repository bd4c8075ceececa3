package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifeline_hub_frames_routed_total",
			Help: "Frames accepted and routed by the hub",
		},
		[]string{"type"},
	)

	framesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifeline_hub_frames_dropped_total",
			Help: "Frames dropped by the hub",
		},
		[]string{"reason"},
	)

	connectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lifeline_hub_connected_clients",
			Help: "Currently connected WebSocket clients",
		},
	)
)
