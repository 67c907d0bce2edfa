// Package rnode is the L1 remote node client (spec §4.1): one Client
// pipelines many concurrently-submitted requests to a single peer over one
// transport.Frame, correlating replies by Tag and enforcing a per-submit
// timeout. It knows nothing about reconnection or replay across peers; that
// is ha.Context's job (spec §4.2).
package rnode

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ovs-cluster/voldriver-router/auth"
	"github.com/ovs-cluster/voldriver-router/cluster"
	"github.com/ovs-cluster/voldriver-router/cmn"
	"github.com/ovs-cluster/voldriver-router/cmn/debug"
	"github.com/ovs-cluster/voldriver-router/cmn/nlog"
	"github.com/ovs-cluster/voldriver-router/transport"
)

// authTokenTTL is generous on purpose: a Client mints its capability token
// once at Open and holds it for its whole lifetime rather than re-minting
// per request; ha.Context's reconnect already opens a fresh Client (and so
// a fresh token) on every peer swap.
const authTokenTTL = 24 * time.Hour

// Client is a per-peer request pipeline, grounded on the original
// RemoteNode's single Frame plus one dedicated worker goroutine, adapted
// from RemoteNode.cpp's zmq::poll-driven work_() loop to a select over
// transport.Frame.Notify() (spec §9 "Concurrency model").
type Client struct {
	nodeID cluster.NodeId
	uri    cluster.PeerUri
	dialer transport.Dialer
	cfg    *cmn.Config
	mx     *clientMetrics

	tagCtr uint64 // atomic; allocateTag increments it

	authToken []byte // non-nil iff cfg.AuthEnabled; carried in every outbound Envelope.Opaque

	mu        sync.Mutex
	frame     transport.Frame
	sendQueue []*WorkItem
	inflight  map[transport.Tag]*WorkItem
	stopped   bool

	wake chan struct{} // buffered(1); submit/Close poke the worker
	done chan struct{} // closed once the worker goroutine returns
}

// Open dials uri and starts the worker goroutine. The returned Client is
// ready for Read/Write/... calls immediately.
func Open(nodeID cluster.NodeId, uri cluster.PeerUri, dialer transport.Dialer, cfg *cmn.Config, reg prometheus.Registerer) (*Client, error) {
	if cfg == nil {
		cfg = cmn.DefaultConfig()
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()
	fr, err := dialer(ctx, string(uri))
	if err != nil {
		return nil, cmn.Wrap(err, "open remote node client")
	}
	var seed [8]byte
	_, _ = rand.Read(seed[:]) // best effort; a zero seed is still a valid start

	var token []byte
	if cfg.AuthEnabled {
		tok, err := auth.Mint(nodeID, cfg.AuthSecret, authTokenTTL)
		if err != nil {
			_ = fr.Close()
			return nil, cmn.Wrap(err, "mint capability token")
		}
		token = []byte(tok)
	}

	c := &Client{
		nodeID:    nodeID,
		uri:       uri,
		dialer:    dialer,
		cfg:       cfg,
		mx:        newClientMetrics(reg),
		tagCtr:    binary.BigEndian.Uint64(seed[:]),
		authToken: token,
		frame:     fr,
		inflight:  make(map[transport.Tag]*WorkItem),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go c.work()
	return c, nil
}

func (c *Client) NodeId() cluster.NodeId { return c.nodeID }
func (c *Client) URI() cluster.PeerUri   { return c.uri }

// allocateTag hands out a fresh Tag; safe for concurrent callers submitting
// from multiple goroutines (spec §3: Tag is per-connection, not per-caller).
func (c *Client) allocateTag() transport.Tag {
	return transport.Tag(atomic.AddUint64(&c.tagCtr, 1))
}

func (c *Client) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Close drains the worker and releases the underlying Frame. Per spec §4.1
// ("Shutdown"), a caller must not call Close while requests are still
// in-flight it cares about completing; any item still queued or in-flight
// at Close time is dropped, never completed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	debug.Assert(len(c.sendQueue) == 0 && len(c.inflight) == 0,
		"rnode.Client.Close called with pending work", len(c.sendQueue), len(c.inflight))
	c.stopped = true
	c.mu.Unlock()

	c.poke()
	<-c.done
	return c.frame.Close()
}

// submit enqueues req and blocks until it completes, is dropped by timeout,
// or the client is closed. It is the implementation behind every public
// per-opcode method in requests.go.
func (c *Client) submit(req *WorkItem, timeout time.Duration) (Outcome, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return Outcome{}, cmn.Wrap(transport.ErrTerminated, "rnode.Client is closed")
	}
	if depth := len(c.sendQueue) + len(c.inflight); depth >= c.cfg.NetClientQdepth {
		c.mu.Unlock()
		c.mx.backpressured.WithLabelValues(string(c.nodeID)).Inc()
		return Outcome{}, cmn.Wrap(cmn.ErrBackpressure, req.Desc)
	}
	c.sendQueue = append(c.sendQueue, req)
	c.mx.sendQDepth.WithLabelValues(string(c.nodeID)).Set(float64(len(c.sendQueue)))
	c.mx.submitted.WithLabelValues(string(c.nodeID)).Inc()
	c.mu.Unlock()
	c.poke()

	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-req.done:
		return o, nil
	case <-timer.C:
		c.drop(req)
		c.mx.timedOut.WithLabelValues(string(c.nodeID)).Inc()
		return Outcome{}, cmn.Wrap(cmn.ErrRequestTimeout, req.Desc)
	}
}

// drop removes req from whichever of sendQueue/inflight still holds it, so a
// reply that eventually arrives for its tag is treated as orphaned rather
// than delivered to a submitter who already gave up (spec §4.1 "Queued ->
// Sent -> Completed | Dropped").
func (c *Client) drop(req *WorkItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.sendQueue {
		if w == req {
			c.sendQueue = append(c.sendQueue[:i], c.sendQueue[i+1:]...)
			c.mx.sendQDepth.WithLabelValues(string(c.nodeID)).Set(float64(len(c.sendQueue)))
			return
		}
	}
	if w, ok := c.inflight[req.Tag]; ok && w == req {
		delete(c.inflight, req.Tag)
		c.mx.inflight.WithLabelValues(string(c.nodeID)).Set(float64(len(c.inflight)))
	}
}

// work is the single dedicated worker goroutine: it multiplexes socket
// writability, socket readability, and wake-ups (new submit or Close) onto
// one select, mirroring RemoteNode::work_()'s zmq::poll over the DEALER
// socket plus an eventfd, but expressed with channels per the franz-go
// brokerCxn pattern (dedicated read/write plumbing, correlation by id)
// rather than a raw poll syscall.
func (c *Client) work() {
	defer close(c.done)
	for {
		c.retryDial()
		c.drainSend()
		c.drainRecv()

		c.mu.Lock()
		stop := c.stopped
		_, dead := c.frame.(deadFrame)
		// a peer hangup leaves Readable() permanently true (no more data
		// will ever arrive to drain it back to false), so treat it the
		// same as a non-empty send queue: keep polling instead of parking
		// on Notify(), which nothing will signal again once drainRecv has
		// already consumed the one poke Close() sent.
		idle := len(c.sendQueue) == 0 && !dead && !c.frame.Readable()
		c.mu.Unlock()
		if stop {
			return
		}

		if idle {
			select {
			case <-c.wake:
			case <-c.frame.Notify():
			}
		} else {
			// either queued sends the frame wasn't writable for, or a
			// pending reconnect: don't block indefinitely, but don't
			// busy-spin either.
			select {
			case <-c.wake:
			case <-c.frame.Notify():
			case <-time.After(5 * time.Millisecond):
			}
		}
	}
}

// retryDial re-attempts the dial once per work() iteration while the frame
// is parked as deadFrame, i.e. a previous socketReset couldn't reconnect.
func (c *Client) retryDial() {
	c.mu.Lock()
	stopped := c.stopped
	_, dead := c.frame.(deadFrame)
	c.mu.Unlock()
	if stopped || !dead {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()
	fr, err := c.dialer(ctx, string(c.uri))
	if err != nil {
		nlog.Warnf("rnode[%s]: reconnect retry failed: %v", c.nodeID, err)
		return
	}
	c.mu.Lock()
	c.frame = fr
	c.mu.Unlock()
	nlog.Infof("rnode[%s]: reconnected", c.nodeID)
}

// drainSend moves as many queued items as the frame will currently accept
// from sendQueue into inflight.
func (c *Client) drainSend() {
	for {
		c.mu.Lock()
		if c.stopped || len(c.sendQueue) == 0 || !c.frame.Writable() {
			c.mu.Unlock()
			return
		}
		w := c.sendQueue[0]
		c.sendQueue = c.sendQueue[1:]
		c.mu.Unlock()

		env := &transport.Envelope{Type: w.ReqType, Tag: w.Tag, Body: w.Body, Opaque: w.Opaque}
		if w.extraSnd != nil {
			env.Trailing = w.extraSnd()
		}
		ok, err := c.frame.TrySend(env.Parts())
		if err != nil {
			c.drop(w)
			w.complete(Outcome{LocalErr: err})
			c.socketReset(err)
			return
		}
		if !ok {
			// frame flipped back to not-writable between the check above
			// and TrySend; put it back at the front and wait for the next
			// writable edge.
			c.mu.Lock()
			c.sendQueue = append([]*WorkItem{w}, c.sendQueue...)
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		c.inflight[w.Tag] = w
		c.mx.inflight.WithLabelValues(string(c.nodeID)).Set(float64(len(c.inflight)))
		c.mx.sendQDepth.WithLabelValues(string(c.nodeID)).Set(float64(len(c.sendQueue)))
		c.mu.Unlock()
	}
}

// drainRecv drains every reply currently buffered by the frame, completing
// the matching inflight WorkItem or counting an orphan.
func (c *Client) drainRecv() {
	for {
		c.mu.Lock()
		stopped := c.stopped
		c.mu.Unlock()
		if stopped {
			return
		}
		if !c.frame.Readable() {
			return
		}
		parts, ok, err := c.frame.TryRecv()
		if err != nil {
			c.socketReset(err)
			return
		}
		if !ok {
			return
		}
		reply, err := transport.DecodeReply(parts)
		if err != nil {
			nlog.Warnf("rnode[%s]: malformed reply dropped: %v", c.nodeID, err)
			continue
		}

		c.mu.Lock()
		w, found := c.inflight[reply.Tag]
		if found {
			delete(c.inflight, reply.Tag)
			c.mx.inflight.WithLabelValues(string(c.nodeID)).Set(float64(len(c.inflight)))
		}
		c.mu.Unlock()

		if !found {
			c.mx.orphanReplies.WithLabelValues(string(c.nodeID)).Inc()
			nlog.Warnf("rnode[%s]: orphan reply for tag %d (type %s)", c.nodeID, reply.Tag, reply.Type)
			continue
		}

		outcome := Outcome{Type: reply.Type}
		if w.extraRcv != nil {
			if err := w.extraRcv(reply.Trailing); err != nil {
				outcome.Err = err
			}
		}
		w.complete(outcome)
	}
}

// socketReset recreates the underlying Frame after a transport error.
// Per spec §4.1 ("Socket reset"), in-flight items are left exactly where
// they are: the client never resends on their behalf, it only closes the
// broken Frame and opens a fresh one so future submits can proceed; any
// item still inflight at that point times out client-side and is dropped.
func (c *Client) socketReset(err error) {
	c.mu.Lock()
	if c.stopped || transport.IsTerminated(err) {
		c.mu.Unlock()
		return
	}
	old := c.frame
	c.mu.Unlock()

	nlog.Warnf("rnode[%s]: socket reset after transport error: %v", c.nodeID, err)
	c.mx.socketResets.WithLabelValues(string(c.nodeID)).Inc()
	_ = old.Close()

	// Park a deadFrame rather than leaving the now-closed old one in place:
	// the old Frame's Writable()/Readable() contract says nothing about its
	// behavior post-Close, so keeping it risks drainSend silently queueing
	// into a channel nobody drains. retryDial, called from the next work()
	// iteration, repeatedly tries to replace it (spec §9 "reconnect
	// retries").
	c.mu.Lock()
	c.frame = deadFrame{cause: err}
	c.mu.Unlock()
}

// deadFrame stands in for a Frame while a reconnect attempt is pending; it
// answers every call with failure so the worker loop keeps retrying the
// dial instead of spinning on a closed, dead socket.
type deadFrame struct{ cause error }

func (deadFrame) Writable() bool                   { return false }
func (d deadFrame) TrySend([][]byte) (bool, error)  { return false, d.cause }
func (deadFrame) Readable() bool                    { return false }
func (d deadFrame) TryRecv() ([][]byte, bool, error) { return nil, false, d.cause }
func (deadFrame) Notify() <-chan struct{}           { return closedNotify }
func (deadFrame) Close() error                      { return nil }

var closedNotify = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

var _ transport.Frame = deadFrame{}
