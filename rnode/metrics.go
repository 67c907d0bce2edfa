package rnode

import "github.com/prometheus/client_golang/prometheus"

// clientMetrics is one Prometheus vector set per process; every rnode.Client
// reports into it labeled by NodeId, mirroring the teacher's pattern of one
// shared registry with per-target label dimensions rather than one registry
// per connection.
type clientMetrics struct {
	inflight      *prometheus.GaugeVec
	sendQDepth    *prometheus.GaugeVec
	orphanReplies *prometheus.CounterVec
	socketResets  *prometheus.CounterVec
	submitted     *prometheus.CounterVec
	timedOut      *prometheus.CounterVec
	backpressured *prometheus.CounterVec
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	m := &clientMetrics{
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rnode_inflight", Help: "requests currently awaiting a reply",
		}, []string{"node_id"}),
		sendQDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rnode_sendq_depth", Help: "requests queued but not yet sent",
		}, []string{"node_id"}),
		orphanReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rnode_orphan_replies_total", Help: "replies received for a tag no longer tracked",
		}, []string{"node_id"}),
		socketResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rnode_socket_resets_total", Help: "times the worker recreated the socket after a transport error",
		}, []string{"node_id"}),
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rnode_submitted_total", Help: "requests submitted",
		}, []string{"node_id"}),
		timedOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rnode_timed_out_total", Help: "requests that hit their local deadline",
		}, []string{"node_id"}),
		backpressured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rnode_backpressured_total", Help: "requests rejected because net_client_qdepth was reached",
		}, []string{"node_id"}),
	}
	if reg != nil {
		reg.MustRegister(m.inflight, m.sendQDepth, m.orphanReplies, m.socketResets, m.submitted, m.timedOut, m.backpressured)
	}
	return m
}
