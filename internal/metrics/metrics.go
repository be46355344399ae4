// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinkTeardowns counts closed link connections by role and reason.
	LinkTeardowns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segchain_link_teardowns_total",
		Help: "Segment link connections torn down, by role and reason",
	}, []string{"role", "reason"})

	// LinkMessages counts frames exchanged on segment links.
	LinkMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segchain_link_messages_total",
		Help: "Frames exchanged on segment links, by role and direction",
	}, []string{"role", "direction"})

	// LinkRoundTrip tracks client request/reply latency.
	LinkRoundTrip = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "segchain_link_round_trip_seconds",
		Help:    "Command to watchdog reply latency on the follower link",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10), // 0.5ms to ~250ms
	})

	// LinkConnected is 1 while the role has a live peer.
	LinkConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "segchain_link_connected",
		Help: "1 while the segment link role has a live peer",
	}, []string{"role"})

	// IntegrityScore mirrors the driver heartbeat violation score.
	IntegrityScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segchain_integrity_score",
		Help: "Driver heartbeat violation score (negative is healthy)",
	})

	// RelayActions counts controller decisions by action.
	RelayActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segchain_relay_actions_total",
		Help: "Relay controller decisions, by action",
	}, []string{"action"})

	// RelayClosed is 1 while motor power is enabled.
	RelayClosed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segchain_relay_closed",
		Help: "1 while the motor power relay is closed",
	})

	// DriverErrors counts failed driver requests by kind.
	DriverErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segchain_driver_errors_total",
		Help: "Failed driver requests, by kind",
	}, []string{"kind"})

	// RouterCycles counts router cycles by command source.
	RouterCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segchain_router_cycles_total",
		Help: "Router cycles, by source (fresh or fallback)",
	}, []string{"source"})

	// BusMessages counts MQTT bus traffic by topic kind and result.
	BusMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segchain_bus_messages_total",
		Help: "MQTT bus messages, by kind and result",
	}, []string{"kind", "result"})

	// Panics counts recovered loop panics by loop name.
	Panics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segchain_loop_panics_total",
		Help: "Panics recovered at loop boundaries, by loop",
	}, []string{"loop"})
)

// SetBool stores 1 or 0 in a gauge.
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}
