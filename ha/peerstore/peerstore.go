// Package peerstore holds the current PeerList (spec §3) in an in-memory
// indexed store, so ha.Context can refresh it from a discovery.PeerSource on
// one goroutine while serving Lookup/Snapshot reads from another without a
// bespoke map+mutex. Entries carry a TTL: a node discovery stops reporting
// simply ages out, rather than needing an explicit tombstone message.
package peerstore

import (
	"time"

	"github.com/tidwall/buntdb"

	"github.com/ovs-cluster/voldriver-router/cluster"
	"github.com/ovs-cluster/voldriver-router/cmn"
)

// Store is a TTL-backed table of cluster.Snode, keyed by NodeId.
type Store struct {
	db  *buntdb.DB
	ttl time.Duration
}

// Open creates an in-memory Store. ttl bounds how long a peer survives
// without being re-Put by the next discovery refresh.
func Open(ttl time.Duration) (*Store, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, cmn.Wrap(err, "open peerstore")
	}
	return &Store{db: db, ttl: ttl}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Put inserts or refreshes one peer's TTL.
func (s *Store) Put(n cluster.Snode) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(string(n.ID), string(n.URI), &buntdb.SetOptions{Expires: true, TTL: s.ttl})
		return err
	})
}

// PutAll replaces the TTL clock on every peer in list, the usual shape of a
// discovery.PeerSource refresh.
func (s *Store) PutAll(list []cluster.Snode) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		for _, n := range list {
			if _, _, err := tx.Set(string(n.ID), string(n.URI), &buntdb.SetOptions{Expires: true, TTL: s.ttl}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get looks up one peer by id. found is false if the id is unknown or has
// expired.
func (s *Store) Get(id cluster.NodeId) (n cluster.Snode, found bool) {
	_ = s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(string(id))
		if err != nil {
			return nil //nolint:nilerr // buntdb.ErrNotFound just means "not found"
		}
		n = cluster.Snode{ID: id, URI: cluster.PeerUri(v)}
		found = true
		return nil
	})
	return n, found
}

// Snapshot returns every live peer, the input the HA reconnect loop (spec
// §4.2 step 2) draws its candidate list from.
func (s *Store) Snapshot() []cluster.Snode {
	var out []cluster.Snode
	_ = s.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, value string) bool {
			out = append(out, cluster.Snode{ID: cluster.NodeId(key), URI: cluster.PeerUri(value)})
			return true
		})
	})
	return out
}
