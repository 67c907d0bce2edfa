package ha

import "github.com/prometheus/client_golang/prometheus"

// contextMetrics mirrors rnode's clientMetrics pattern one layer up: one
// vector set per process, labeled by volume so every ha.Context reports
// into the same registry.
type contextMetrics struct {
	inflight           *prometheus.GaugeVec
	peers              *prometheus.GaugeVec
	reconnects         *prometheus.CounterVec
	reconnectFailures  *prometheus.CounterVec
	duplicatesDropped  *prometheus.CounterVec
	heartbeatFailures  *prometheus.CounterVec
}

func newContextMetrics(reg prometheus.Registerer) *contextMetrics {
	m := &contextMetrics{
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ha_inflight", Help: "asynchronous requests currently awaiting completion",
		}, []string{"label"}),
		peers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ha_peers", Help: "peers currently known live",
		}, []string{"label"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ha_reconnects_total", Help: "successful reconnects to a new peer",
		}, []string{"label"}),
		reconnectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ha_reconnect_failures_total", Help: "reconnect attempts that exhausted every candidate peer",
		}, []string{"label"}),
		duplicatesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ha_duplicates_dropped_total", Help: "inflight entries dropped at reconnect because their request id was already in SeenRing",
		}, []string{"label"}),
		heartbeatFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ha_heartbeat_failures_total", Help: "consecutive ping failures against the active peer",
		}, []string{"label"}),
	}
	if reg != nil {
		reg.MustRegister(m.inflight, m.peers, m.reconnects, m.reconnectFailures, m.duplicatesDropped, m.heartbeatFailures)
	}
	return m
}
