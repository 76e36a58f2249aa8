package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_connections_active",
		Help: "Current number of open WebSocket connections on this instance.",
	})
	connectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_connections_total",
		Help: "Total accepted WebSocket connections.",
	})
	authFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_auth_failures_total",
		Help: "Handshakes rejected for missing or invalid credentials.",
	})
	heartbeatTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_heartbeat_timeouts_total",
		Help: "Connections force-closed after missing two heartbeat intervals.",
	})
	busEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_bus_events_total",
		Help: "Envelopes received from the broadcast bus, by event type.",
	}, []string{"event"})
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_deliveries_total",
		Help: "Frames delivered to local sockets, by event type.",
	}, []string{"event"})
	deliveryFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_delivery_failures_total",
		Help: "Frames dropped because the target socket was full or closing.",
	})
)
