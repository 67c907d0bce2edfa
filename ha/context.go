// Package ha implements the L2 HA Context (spec §4.2): a fault-tolerant
// wrapper around one active rnode.Client that detects peer failure,
// reconnects to a different cluster member, and replays any asynchronous
// request still awaiting completion, without ever completing a caller
// twice.
package ha

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	pkgerrors "github.com/pkg/errors"

	"github.com/ovs-cluster/voldriver-router/cluster"
	"github.com/ovs-cluster/voldriver-router/cmn"
	"github.com/ovs-cluster/voldriver-router/cmn/nlog"
	"github.com/ovs-cluster/voldriver-router/discovery"
	"github.com/ovs-cluster/voldriver-router/ha/peerstore"
	"github.com/ovs-cluster/voldriver-router/ha/seenring"
	"github.com/ovs-cluster/voldriver-router/rnode"
	"github.com/ovs-cluster/voldriver-router/transport"
)

// inflightEntry is one HAInflight record (spec §4.2 "Request id
// assignment"): run re-issues the request against whichever *rnode.Client
// currently owns it, cb is the caller's original callback.
type inflightEntry struct {
	id     transport.RequestId
	client atomic.Pointer[rnode.Client] // current owner; reassigned by replay
	run    func(cl *rnode.Client, id transport.RequestId) (any, error)
	cb     func(result any, err error)
}

// Context is the L2 HA wrapper described by spec §4.2. Label identifies it
// in metrics (typically the volume name).
type Context struct {
	label  string
	cfg    *cmn.Config
	dialer transport.Dialer
	source discovery.PeerSource
	peers  *peerstore.Store
	seen   *seenring.Ring
	mx     *contextMetrics

	active atomic.Pointer[rnode.Client]

	connErrMu sync.Mutex
	connErr   bool

	inflightMu sync.Mutex
	inflight   map[transport.RequestId]*inflightEntry
	reqCtr     uint64

	volMu   sync.Mutex
	volumes map[string]struct{}

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	hbWG sync.WaitGroup
}

// Open constructs an HA context; it does not dial anything until OpenVolume
// is called.
func Open(label string, cfg *cmn.Config, dialer transport.Dialer, source discovery.PeerSource, reg prometheus.Registerer) (*Context, error) {
	if cfg == nil {
		cfg = cmn.DefaultConfig()
	}
	peers, err := peerstore.Open(cfg.PeerRefreshInterval * 3)
	if err != nil {
		return nil, cmn.Wrap(err, "open ha context")
	}
	h := &Context{
		label:    label,
		cfg:      cfg,
		dialer:   dialer,
		source:   source,
		peers:    peers,
		seen:     seenring.New(uint(cfg.SeenRingCapacity)),
		mx:       newContextMetrics(reg),
		inflight: make(map[transport.RequestId]*inflightEntry),
		volumes:  make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go h.run()
	if cfg.HAEnabled {
		h.hbWG.Add(1)
		go h.heartbeat()
	}
	return h, nil
}

// isConnectionError decides whether an rnode.Client failure should trip
// connection_error and wake the reconnect loop (spec §4.2 "Failure
// detection": "set whenever a submission to L1 fails"). cmn.ErrIO covers
// both a locally-originated send failure (cmn.WrapIO) and a remote-reported
// IOError status — either way the active connection looks unhealthy enough
// to warrant trying another peer; the original WorkItem still completes
// exactly once via the normal timeout/replay path if reconnecting doesn't
// help in time.
func isConnectionError(err error) bool {
	return pkgerrors.Is(err, cmn.ErrRequestTimeout) || pkgerrors.Is(err, transport.ErrTerminated) || pkgerrors.Is(err, cmn.ErrIO)
}

func (h *Context) poke() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Context) markError(err error) {
	nlog.Warnf("ha[%s]: connection error: %v", h.label, err)
	h.connErrMu.Lock()
	h.connErr = true
	h.connErrMu.Unlock()
	if h.cfg.HAEnabled {
		h.poke()
	}
}

// Close tears the context down: stops the HA and heartbeat goroutines and
// closes the active client, if any.
func (h *Context) Close() error {
	close(h.stop)
	h.poke()
	<-h.done
	h.hbWG.Wait()
	if cl := h.active.Swap(nil); cl != nil {
		_ = cl.Close()
	}
	return h.peers.Close()
}

// run is the dedicated HA goroutine (spec §4.2 "Reconnect loop"): it wakes
// on connErr being set and drives a reconnect attempt.
func (h *Context) run() {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			return
		case <-h.wake:
		}
		h.connErrMu.Lock()
		errSet := h.connErr
		h.connErrMu.Unlock()
		if !errSet {
			continue
		}
		select {
		case <-h.stop:
			return
		default:
		}
		h.reconnect()
	}
}

// heartbeat pings the active peer periodically so a silently-dead
// connection is detected even with no application traffic in flight (spec
// §4.2 "Failure detection").
func (h *Context) heartbeat() {
	defer h.hbWG.Done()
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()
	fails := 0
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		}
		cl := h.active.Load()
		if cl == nil {
			continue
		}
		if err := cl.Ping(string(cl.NodeId()), h.cfg.HeartbeatInterval); err != nil {
			fails++
			h.mx.heartbeatFailures.WithLabelValues(h.label).Inc()
			if fails >= 3 {
				fails = 0
				h.markError(cmn.Wrap(err, "heartbeat"))
			}
			continue
		}
		fails = 0
	}
}

// reconnect implements the 6-step loop from spec §4.2 verbatim.
func (h *Context) reconnect() {
	// 1. fail visibly stale inflights
	h.inflightMu.Lock()
	replay := make([]*inflightEntry, 0, len(h.inflight))
	for id, e := range h.inflight {
		if h.seen.Seen(id) {
			delete(h.inflight, id)
			h.mx.duplicatesDropped.WithLabelValues(h.label).Inc()
			continue
		}
		replay = append(replay, e)
	}
	h.mx.inflight.WithLabelValues(h.label).Set(float64(len(h.inflight)))
	h.inflightMu.Unlock()

	// 2. refresh peer list
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.RequestTimeout)
	if peers, err := h.source.ListPeers(ctx); err == nil {
		_ = h.peers.PutAll(peers)
	} else {
		nlog.Warnf("ha[%s]: peer list refresh failed, keeping previous: %v", h.label, err)
	}
	cancel()
	h.mx.peers.WithLabelValues(h.label).Set(float64(len(h.peers.Snapshot())))

	// 3. pick a new peer excluding the one that just failed
	failedURI := cluster.PeerUri("")
	if cl := h.active.Load(); cl != nil {
		failedURI = cl.URI()
	}
	candidates := excludeURI(h.peers.Snapshot(), failedURI)
	if len(candidates) == 0 {
		nlog.Errorf("ha[%s]: reconnect failed, no candidate peers", h.label)
		h.mx.reconnectFailures.WithLabelValues(h.label).Inc()
		h.failAll(replay, cmn.ErrIO)
		h.scheduleRetry()
		return
	}
	var (
		pick      cluster.Snode
		newClient *rnode.Client
		err       error
	)
	for _, i := range rand.Perm(len(candidates)) { //nolint:gosec // peer selection, not security-sensitive
		pick = candidates[i]
		if newClient, err = rnode.Open(pick.ID, pick.URI, h.dialer, h.cfg, nil); err == nil {
			break
		}
		nlog.Errorf("ha[%s]: reconnect to %s failed: %v", h.label, pick, err)
	}
	if err != nil {
		h.mx.reconnectFailures.WithLabelValues(h.label).Inc()
		h.failAll(replay, cmn.ErrIO)
		h.scheduleRetry()
		return
	}

	// 4. atomically swap the active L1 pointer
	old := h.active.Swap(newClient)
	if old != nil {
		go func() { _ = old.Close() }() // late replies from old are lost; tolerated (spec §4.2 step 4)
	}
	h.mx.reconnects.WithLabelValues(h.label).Inc()
	nlog.Infof("ha[%s]: reconnected to %s", h.label, pick)

	// 5. replay surviving inflight entries, preserving RequestId
	h.inflightMu.Lock()
	for _, e := range replay {
		e.client.Store(newClient)
	}
	h.inflightMu.Unlock()
	for _, e := range replay {
		go h.runEntry(e)
	}

	// 6. clear connection_error only after replay is enqueued
	h.connErrMu.Lock()
	h.connErr = false
	h.connErrMu.Unlock()
}

// scheduleRetry wakes the HA goroutine again after one peer-refresh
// interval, so a total reconnect failure (spec §4.2: "remains in errored
// state until the peer list is repopulated") doesn't require new
// application traffic to notice the peer list changed.
func (h *Context) scheduleRetry() {
	time.AfterFunc(h.cfg.PeerRefreshInterval, h.poke)
}

func (h *Context) failAll(replay []*inflightEntry, cause error) {
	h.inflightMu.Lock()
	for _, e := range replay {
		delete(h.inflight, e.id)
	}
	h.mx.inflight.WithLabelValues(h.label).Set(float64(len(h.inflight)))
	h.inflightMu.Unlock()
	for _, e := range replay {
		e.cb(nil, cmn.Wrap(cause, "ha reconnect exhausted all peers"))
	}
}

func excludeURI(nodes []cluster.Snode, uri cluster.PeerUri) []cluster.Snode {
	if uri == "" {
		return nodes
	}
	out := nodes[:0:0]
	for _, n := range nodes {
		if n.URI != uri {
			out = append(out, n)
		}
	}
	return out
}

// runEntry executes one inflight entry against whichever client currently
// owns it and routes the outcome through finish.
func (h *Context) runEntry(e *inflightEntry) {
	cl := e.client.Load()
	result, err := e.run(cl, e.id)
	h.finish(e, cl, result, err)
}

// finish applies the at-most-once completion rule (spec §4.2 "Completion
// bookkeeping"): only deliver if usedClient is still the authoritative
// owner of this id — a replay may have already reassigned it to a newer
// client while this call was in flight, in which case this is a late reply
// from an abandoned connection and must be silently discarded.
func (h *Context) finish(e *inflightEntry, usedClient *rnode.Client, result any, err error) {
	h.inflightMu.Lock()
	cur, ok := h.inflight[e.id]
	if !ok || cur.client.Load() != usedClient {
		h.inflightMu.Unlock()
		return
	}
	delete(h.inflight, e.id)
	h.mx.inflight.WithLabelValues(h.label).Set(float64(len(h.inflight)))
	h.inflightMu.Unlock()

	h.seen.Record(e.id)
	if err != nil && isConnectionError(err) {
		h.markError(err)
	}
	e.cb(result, err)
}

// submitAsync registers a new HAInflight entry and launches it. run receives
// the entry's own durable RequestId so it can be carried in the wire
// envelope's opaque field (spec §4.2 step 5) and survive a reconnect-driven
// replay unchanged.
func (h *Context) submitAsync(run func(cl *rnode.Client, id transport.RequestId) (any, error), cb func(result any, err error)) (transport.RequestId, error) {
	cl := h.active.Load()
	if cl == nil {
		return 0, cmn.Wrap(cmn.ErrIO, "ha context has no active connection")
	}
	id := transport.RequestId(atomic.AddUint64(&h.reqCtr, 1))
	e := &inflightEntry{id: id, run: run, cb: cb}
	e.client.Store(cl)

	h.inflightMu.Lock()
	h.inflight[id] = e
	h.mx.inflight.WithLabelValues(h.label).Set(float64(len(h.inflight)))
	h.inflightMu.Unlock()

	go h.runEntry(e)
	return id, nil
}

// SendReadRequest is asynchronous: it returns once the request is
// submitted, not once it completes; cb fires exactly once, from some other
// goroutine, with the result or a terminal error.
func (h *Context) SendReadRequest(object string, offset uint64, size uint32, cb func(data []byte, err error)) (transport.RequestId, error) {
	return h.submitAsync(
		func(cl *rnode.Client, id transport.RequestId) (any, error) { return cl.Read(object, offset, size, id) },
		func(result any, err error) {
			var data []byte
			if result != nil {
				data = result.([]byte)
			}
			cb(data, err)
		},
	)
}

type writeOutcome struct {
	size      uint32
	dtlInSync bool
}

// SendWriteRequest is asynchronous (spec §4.2 "Public operations").
func (h *Context) SendWriteRequest(object string, offset uint64, payload []byte, cb func(size uint32, dtlInSync bool, err error)) (transport.RequestId, error) {
	return h.submitAsync(
		func(cl *rnode.Client, id transport.RequestId) (any, error) {
			size, dtl, err := cl.Write(object, offset, payload, id)
			return writeOutcome{size, dtl}, err
		},
		func(result any, err error) {
			var o writeOutcome
			if result != nil {
				o = result.(writeOutcome)
			}
			cb(o.size, o.dtlInSync, err)
		},
	)
}

// SendFlushRequest is asynchronous; it is the HA-facing name for a Sync.
func (h *Context) SendFlushRequest(object string, cb func(dtlInSync bool, err error)) (transport.RequestId, error) {
	return h.submitAsync(
		func(cl *rnode.Client, id transport.RequestId) (any, error) { return cl.Sync(object, id) },
		func(result any, err error) {
			var dtl bool
			if result != nil {
				dtl = result.(bool)
			}
			cb(dtl, err)
		},
	)
}

// callSync runs a synchronous HA operation (spec §4.2: every other public
// operation) against the active client, surfacing connection-level trouble
// to the failure detector without enrolling the request in HAInflight
// replay — only the three async ops above get that treatment.
func callSync[T any](h *Context, op func(cl *rnode.Client) (T, error)) (T, error) {
	var zero T
	cl := h.active.Load()
	if cl == nil {
		return zero, cmn.Wrap(cmn.ErrIO, "ha context has no active connection")
	}
	v, err := op(cl)
	if err != nil && isConnectionError(err) {
		h.markError(err)
	}
	return v, err
}

// OpenVolume establishes the initial L1 connection toward node and
// registers volumeName as owned by this context.
func (h *Context) OpenVolume(volumeName string, node cluster.Snode) error {
	cl, err := rnode.Open(node.ID, node.URI, h.dialer, h.cfg, nil)
	if err != nil {
		return cmn.Wrap(err, "open_volume")
	}
	if old := h.active.Swap(cl); old != nil {
		_ = old.Close()
	}
	_ = h.peers.Put(node)
	h.volMu.Lock()
	h.volumes[volumeName] = struct{}{}
	h.volMu.Unlock()
	return nil
}

// CloseVolume unregisters volumeName; once no volume remains open the
// active L1 connection is torn down.
func (h *Context) CloseVolume(volumeName string) error {
	h.volMu.Lock()
	delete(h.volumes, volumeName)
	empty := len(h.volumes) == 0
	h.volMu.Unlock()
	if !empty {
		return nil
	}
	if cl := h.active.Swap(nil); cl != nil {
		return cl.Close()
	}
	return nil
}

func (h *Context) ListVolumes() []string {
	h.volMu.Lock()
	defer h.volMu.Unlock()
	out := make([]string, 0, len(h.volumes))
	for v := range h.volumes {
		out = append(out, v)
	}
	return out
}

func (h *Context) ListClusterNodeUri() []cluster.Snode { return h.peers.Snapshot() }

func (h *Context) Create(object, volumeName string, size uint64) error {
	_, err := callSync(h, func(cl *rnode.Client) (struct{}, error) { return struct{}{}, cl.Create(object, volumeName, size) })
	return err
}

func (h *Context) Remove(object string) error {
	_, err := callSync(h, func(cl *rnode.Client) (struct{}, error) { return struct{}{}, cl.Unlink(object) })
	return err
}

func (h *Context) Truncate(object string, newSize uint64) error {
	_, err := callSync(h, func(cl *rnode.Client) (struct{}, error) { return struct{}{}, cl.Resize(object, newSize) })
	return err
}

func (h *Context) SnapshotCreate(object, snapshotID string) error {
	_, err := callSync(h, func(cl *rnode.Client) (struct{}, error) { return struct{}{}, cl.SnapshotCreate(object, snapshotID) })
	return err
}

func (h *Context) SnapshotRemove(object, snapshotID string) error {
	_, err := callSync(h, func(cl *rnode.Client) (struct{}, error) { return struct{}{}, cl.SnapshotRemove(object, snapshotID) })
	return err
}

func (h *Context) SnapshotRollback(object, snapshotID string) error {
	_, err := callSync(h, func(cl *rnode.Client) (struct{}, error) { return struct{}{}, cl.SnapshotRollback(object, snapshotID) })
	return err
}

func (h *Context) ListSnapshots(object string) ([]string, error) {
	return callSync(h, func(cl *rnode.Client) ([]string, error) { return cl.ListSnapshots(object) })
}

func (h *Context) IsSnapshotSynced(object, snapshotID string) (bool, error) {
	return callSync(h, func(cl *rnode.Client) (bool, error) { return cl.IsSnapshotSynced(object, snapshotID) })
}

func (h *Context) Stat(object string) (transport.StatResponse, error) {
	return callSync(h, func(cl *rnode.Client) (transport.StatResponse, error) { return cl.Stat(object) })
}

func (h *Context) Allocate(object string, clusterAddress uint64, count uint32) ([]uint64, error) {
	return callSync(h, func(cl *rnode.Client) ([]uint64, error) { return cl.Allocate(object, clusterAddress, count) })
}

func (h *Context) Deallocate(object string, clusterAddress uint64, count uint32) error {
	_, err := callSync(h, func(cl *rnode.Client) (struct{}, error) {
		return struct{}{}, cl.Deallocate(object, clusterAddress, count)
	})
	return err
}

// Introspection for httpstats.

func (h *Context) ConnectionError() bool {
	h.connErrMu.Lock()
	defer h.connErrMu.Unlock()
	return h.connErr
}

func (h *Context) InflightCount() int {
	h.inflightMu.Lock()
	defer h.inflightMu.Unlock()
	return len(h.inflight)
}

func (h *Context) SeenCount() int { return h.seen.Len() }

func (h *Context) PeerCount() int { return len(h.peers.Snapshot()) }
