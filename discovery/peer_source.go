// Package discovery supplies ha.Context with the candidate peer list its
// reconnect loop picks from (spec §4.2 step 2 "refresh peer list").
package discovery

import (
	"context"

	"github.com/ovs-cluster/voldriver-router/cluster"
)

// PeerSource is the external cluster directory this module only consumes
// (spec §2 "Shared resources"). Implementations must return quickly and
// tolerate being polled repeatedly; a failing refresh returns an error and
// ha.Context keeps its previous list minus the known-failed peer.
type PeerSource interface {
	ListPeers(ctx context.Context) ([]cluster.Snode, error)
}
