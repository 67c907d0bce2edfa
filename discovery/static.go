package discovery

import (
	"context"

	"github.com/ovs-cluster/voldriver-router/cluster"
)

// Static is a fixed, never-changing PeerSource — the degenerate case for a
// hand-configured cluster and the default in tests that don't exercise
// discovery churn.
type Static struct {
	Peers []cluster.Snode
}

func (s Static) ListPeers(context.Context) ([]cluster.Snode, error) {
	out := make([]cluster.Snode, len(s.Peers))
	copy(out, s.Peers)
	return out, nil
}

var _ PeerSource = Static{}
