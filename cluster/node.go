// Package cluster holds the node/peer identity types shared by rnode and ha
// (spec §3 Data Model: NodeId, PeerUri).
package cluster

import "fmt"

// NodeId is an opaque, stable identifier for a cluster node, supplied by the
// cluster directory (metadata server) — an external collaborator this
// module only consumes, never computes.
type NodeId string

// PeerUri is the transport address associated with a NodeId.
type PeerUri string

// Snode ("storage node") pairs a NodeId with its current PeerUri, the unit
// the PeerList (spec §3) is built from.
type Snode struct {
	ID  NodeId
	URI PeerUri
}

func (s Snode) String() string {
	return fmt.Sprintf("%s(%s)", s.ID, s.URI)
}

// Equal compares by ID and URI; two Snodes with the same ID but a different
// URI are NOT equal (the node migrated/reconnected elsewhere).
func (s Snode) Equal(o Snode) bool {
	return s.ID == o.ID && s.URI == o.URI
}
