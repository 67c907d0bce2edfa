package rnode

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ovs-cluster/voldriver-router/auth"
	"github.com/ovs-cluster/voldriver-router/cluster"
	"github.com/ovs-cluster/voldriver-router/cmn"
	"github.com/ovs-cluster/voldriver-router/transport"
	"github.com/ovs-cluster/voldriver-router/transport/transporttest"
)

func testConfig() *cmn.Config {
	c := cmn.DefaultConfig()
	c.RequestTimeout = 200 * time.Millisecond
	return c
}

// fakeDialer always hands out the clientSide of a pre-wired Pipe pair on
// first call, and pipes from successive pairs thereafter (one per
// reconnect), so tests can simulate socket reset.
type fakeDialer struct {
	pipes []*transporttest.Pipe
	calls int
}

func (d *fakeDialer) dial(ctx context.Context, uri string) (transport.Frame, error) {
	p := d.pipes[d.calls]
	d.calls++
	return p, nil
}

// server echoes back RespOk with no trailing for every request it sees,
// unless a handler override is supplied.
func serveEcho(t *testing.T, peer *transporttest.Pipe, handle func(env *transport.Envelope) *transport.ReplyEnvelope) {
	t.Helper()
	go func() {
		for {
			parts, ok, err := recvBlocking(peer)
			if err != nil {
				return
			}
			if !ok {
				continue
			}
			env, err := transport.DecodeEnvelope(parts)
			if err != nil {
				continue
			}
			var reply *transport.ReplyEnvelope
			if handle != nil {
				reply = handle(env)
			} else {
				reply = &transport.ReplyEnvelope{Type: transport.RespOk, Tag: env.Tag}
			}
			if reply == nil {
				continue // simulate "never reply" for timeout tests
			}
			for {
				ok, err := peer.TrySend(reply.Parts())
				if err != nil {
					return
				}
				if ok {
					break
				}
				time.Sleep(time.Millisecond)
			}
		}
	}()
}

// serveVerifyingEcho is serveEcho plus a capability-token check on every
// request's Opaque part, the way a real remote node would gate access when
// Config.AuthEnabled is set: it decodes the durable RequestId prefix off,
// verifies whatever remains against secret, and answers RespUnknownRequest
// instead of RespOk when that fails.
func serveVerifyingEcho(t *testing.T, peer *transporttest.Pipe, secret string) {
	t.Helper()
	go func() {
		for {
			parts, ok, err := recvBlocking(peer)
			if err != nil {
				return
			}
			if !ok {
				continue
			}
			env, err := transport.DecodeEnvelope(parts)
			if err != nil {
				continue
			}
			_, token := transport.DecodeOpaque(env.Opaque)
			reply := &transport.ReplyEnvelope{Type: transport.RespOk, Tag: env.Tag}
			if _, err := auth.Verify(string(token), secret); err != nil {
				reply = &transport.ReplyEnvelope{Type: transport.RespUnknownRequest, Tag: env.Tag}
			}
			for {
				ok, err := peer.TrySend(reply.Parts())
				if err != nil {
					return
				}
				if ok {
					break
				}
				time.Sleep(time.Millisecond)
			}
		}
	}()
}

func recvBlocking(p *transporttest.Pipe) ([][]byte, bool, error) {
	for i := 0; i < 2000; i++ {
		parts, ok, err := p.TryRecv()
		if err != nil {
			return nil, false, err
		}
		if ok {
			return parts, true, nil
		}
		time.Sleep(time.Millisecond)
	}
	return nil, false, nil
}

func TestClientPingRoundTrip(t *testing.T) {
	a, b := transporttest.NewPipe(8)
	d := &fakeDialer{pipes: []*transporttest.Pipe{a}}
	serveEcho(t, b, nil)

	c, err := Open(cluster.NodeId("n1"), cluster.PeerUri("mem://n1"), d.dial, testConfig(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() {
		// drain is implicit: Ping leaves nothing inflight once it returns
		_ = c.Close()
	}()

	if err := c.Ping("me", 0); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestClientTimeoutDropsRequest(t *testing.T) {
	a, b := transporttest.NewPipe(8)
	d := &fakeDialer{pipes: []*transporttest.Pipe{a}}
	// server never replies
	serveEcho(t, b, func(env *transport.Envelope) *transport.ReplyEnvelope { return nil })

	cfg := testConfig()
	cfg.RequestTimeout = 30 * time.Millisecond
	c, err := Open(cluster.NodeId("n1"), cluster.PeerUri("mem://n1"), d.dial, cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	err = c.Ping("me", 30*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}

	// the dropped request must have been removed from both queue/inflight
	// so Close (which asserts emptiness in debug builds) is safe.
	c.mu.Lock()
	qlen, ilen := len(c.sendQueue), len(c.inflight)
	c.mu.Unlock()
	if qlen != 0 || ilen != 0 {
		t.Fatalf("expected empty queue/inflight after drop, got queue=%d inflight=%d", qlen, ilen)
	}
	_ = c.Close()
}

func TestClientOrphanReplyAfterDrop(t *testing.T) {
	a, b := transporttest.NewPipe(8)
	d := &fakeDialer{pipes: []*transporttest.Pipe{a}}

	released := make(chan struct{})
	serveEcho(t, b, func(env *transport.Envelope) *transport.ReplyEnvelope {
		<-released // hold the reply until after the caller has timed out
		return &transport.ReplyEnvelope{Type: transport.RespOk, Tag: env.Tag}
	})

	cfg := testConfig()
	cfg.RequestTimeout = 20 * time.Millisecond
	c, err := Open(cluster.NodeId("n1"), cluster.PeerUri("mem://n1"), d.dial, cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	err = c.Ping("me", 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout")
	}
	close(released) // now let the late reply arrive; it must be dropped as orphan, not delivered anywhere
	time.Sleep(50 * time.Millisecond)

	_ = c.Close()
}

func TestClientSocketResetReconnects(t *testing.T) {
	a1, b1 := transporttest.NewPipe(8)
	a2, b2 := transporttest.NewPipe(8)
	d := &fakeDialer{pipes: []*transporttest.Pipe{a1, a2}}

	serveEcho(t, b1, nil)
	c, err := Open(cluster.NodeId("n1"), cluster.PeerUri("mem://n1"), d.dial, testConfig(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := c.Ping("me", 0); err != nil {
		t.Fatalf("first ping: %v", err)
	}

	// sever the first connection; the worker must recreate its frame via
	// the dialer (second pipe pair) rather than give up.
	_ = b1.Close()
	time.Sleep(20 * time.Millisecond)

	serveEcho(t, b2, nil)
	if err := c.Ping("me", 200*time.Millisecond); err != nil {
		t.Fatalf("ping after reset: %v", err)
	}
	if d.calls < 2 {
		t.Fatalf("expected dialer called at least twice, got %d", d.calls)
	}
	_ = c.Close()
}

// failSendFrame reports Writable (so drainSend reaches TrySend) but fails
// every send, simulating a local transport error distinct from a peer
// hangup — TestClientSendFailureReportsIOError's fixture.
type failSendFrame struct{ err error }

func (f failSendFrame) Writable() bool                  { return true }
func (f failSendFrame) TrySend([][]byte) (bool, error)   { return false, f.err }
func (f failSendFrame) Readable() bool                   { return false }
func (f failSendFrame) TryRecv() ([][]byte, bool, error) { return nil, false, nil }
func (f failSendFrame) Notify() <-chan struct{}          { return make(chan struct{}) }
func (f failSendFrame) Close() error                     { return nil }

var _ transport.Frame = failSendFrame{}

func TestClientSendFailureReportsIOError(t *testing.T) {
	cause := errors.New("write: broken pipe")
	dial := func(ctx context.Context, uri string) (transport.Frame, error) {
		return failSendFrame{err: cause}, nil
	}

	c, err := Open(cluster.NodeId("n1"), cluster.PeerUri("mem://n1"), dial, testConfig(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = c.Close() }()

	err = c.Ping("me", 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected an error from a failing TrySend")
	}
	if !errors.Is(err, cmn.ErrIO) {
		t.Fatalf("expected cmn.ErrIO, got %v", err)
	}
	if !strings.Contains(err.Error(), cause.Error()) {
		t.Fatalf("expected error to preserve the original cause %q, got %q", cause, err)
	}
}

func TestClientAuthTokenAcceptedByPeer(t *testing.T) {
	a, b := transporttest.NewPipe(8)
	d := &fakeDialer{pipes: []*transporttest.Pipe{a}}
	serveVerifyingEcho(t, b, "cluster-secret")

	cfg := testConfig()
	cfg.AuthEnabled = true
	cfg.AuthSecret = "cluster-secret"
	c, err := Open(cluster.NodeId("n1"), cluster.PeerUri("mem://n1"), d.dial, cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Ping("me", 0); err != nil {
		t.Fatalf("Ping with a valid capability token: %v", err)
	}
}

func TestClientAuthTokenRejectedByPeerOnSecretMismatch(t *testing.T) {
	a, b := transporttest.NewPipe(8)
	d := &fakeDialer{pipes: []*transporttest.Pipe{a}}
	serveVerifyingEcho(t, b, "the-real-secret")

	cfg := testConfig()
	cfg.AuthEnabled = true
	cfg.AuthSecret = "wrong-secret"
	c, err := Open(cluster.NodeId("n1"), cluster.PeerUri("mem://n1"), d.dial, cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = c.Close() }()

	err = c.Ping("me", 0)
	if !errors.Is(err, cmn.ErrProtocol) {
		t.Fatalf("expected cmn.ErrProtocol from a rejected capability token, got %v", err)
	}
}

func TestClientBackpressureRejectsOverCapacity(t *testing.T) {
	a, b := transporttest.NewPipe(8)
	d := &fakeDialer{pipes: []*transporttest.Pipe{a}}

	held := make(chan struct{})
	serveEcho(t, b, func(env *transport.Envelope) *transport.ReplyEnvelope {
		<-held // keep the first request inflight so depth stays at capacity
		return &transport.ReplyEnvelope{Type: transport.RespOk, Tag: env.Tag}
	})

	cfg := testConfig()
	cfg.NetClientQdepth = 1
	c, err := Open(cluster.NodeId("n1"), cluster.PeerUri("mem://n1"), d.dial, cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	firstDone := make(chan error, 1)
	go func() { firstDone <- c.Ping("me", 500*time.Millisecond) }()
	time.Sleep(30 * time.Millisecond) // let the worker move it into inflight

	if err := c.Ping("me", 50*time.Millisecond); !errors.Is(err, cmn.ErrBackpressure) {
		t.Fatalf("expected cmn.ErrBackpressure at net_client_qdepth, got %v", err)
	}

	close(held)
	if err := <-firstDone; err != nil {
		t.Fatalf("first ping: %v", err)
	}
	_ = c.Close()
}

func TestClientReadWriteChecksummedTrailing(t *testing.T) {
	a, b := transporttest.NewPipe(8)
	d := &fakeDialer{pipes: []*transporttest.Pipe{a}}

	payload := []byte("volume payload bytes")
	serveEcho(t, b, func(env *transport.Envelope) *transport.ReplyEnvelope {
		switch env.Type {
		case transport.ReqWrite:
			return &transport.ReplyEnvelope{Type: transport.RespOk, Tag: env.Tag}
		case transport.ReqRead:
			return &transport.ReplyEnvelope{Type: transport.RespOk, Tag: env.Tag, Trailing: transport.ChecksummedTrailing(payload)}
		default:
			return &transport.ReplyEnvelope{Type: transport.RespOk, Tag: env.Tag}
		}
	})

	c, err := Open(cluster.NodeId("n1"), cluster.PeerUri("mem://n1"), d.dial, testConfig(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = c.Close() }()

	if _, _, err := c.Write("obj1", 0, payload, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := c.Read("obj1", 0, uint32(len(payload)), 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}
