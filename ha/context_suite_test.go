package ha

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ovs-cluster/voldriver-router/cluster"
	"github.com/ovs-cluster/voldriver-router/cmn"
	"github.com/ovs-cluster/voldriver-router/discovery"
	"github.com/ovs-cluster/voldriver-router/transport"
	"github.com/ovs-cluster/voldriver-router/transport/transporttest"
)

func TestHASuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "HA Context Suite")
}

// fakePeerDialer hands out pre-wired Pipe client-sides keyed by uri, letting
// a test script a whole cluster's worth of nodes and later sever one.
type fakePeerDialer struct {
	mu    sync.Mutex
	sides map[cluster.PeerUri]*transporttest.Pipe
}

func newFakePeerDialer() *fakePeerDialer {
	return &fakePeerDialer{sides: make(map[cluster.PeerUri]*transporttest.Pipe)}
}

func (d *fakePeerDialer) addPeer(uri cluster.PeerUri, handle func(env *transport.Envelope) *transport.ReplyEnvelope) *transporttest.Pipe {
	client, server := transporttest.NewPipe(8)
	d.mu.Lock()
	d.sides[uri] = client
	d.mu.Unlock()
	echoServe(server, handle)
	return server
}

// echoServe mirrors rnode's serveEcho test helper: it answers every request
// with RespOk and an empty JSON body (so body-decoding calls such as Stat
// succeed), or with whatever handle returns, including nil to simulate a
// node that never replies.
func echoServe(peer *transporttest.Pipe, handle func(env *transport.Envelope) *transport.ReplyEnvelope) {
	go func() {
		for {
			parts, ok, err := peer.TryRecv()
			if err != nil {
				return
			}
			if !ok {
				time.Sleep(time.Millisecond)
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
				reply = &transport.ReplyEnvelope{Type: transport.RespOk, Tag: env.Tag, Trailing: []byte("{}")}
			}
			if reply == nil {
				continue
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

func haTestConfig() *cmn.Config {
	c := cmn.DefaultConfig()
	c.RequestTimeout = 40 * time.Millisecond
	c.PeerRefreshInterval = 20 * time.Millisecond
	c.HeartbeatInterval = time.Hour // driven by sync-call failures in these tests, not the ticker
	c.SeenRingCapacity = 16
	return c
}

var _ = Describe("Context failover", func() {
	var (
		n1, n2 cluster.Snode
		d      *fakePeerDialer
	)

	BeforeEach(func() {
		n1 = cluster.Snode{ID: "n1", URI: "mem://n1"}
		n2 = cluster.Snode{ID: "n2", URI: "mem://n2"}
		d = newFakePeerDialer()
	})

	It("reconnects to a surviving peer once the active one stops answering", func() {
		server1 := d.addPeer(n1.URI, nil)
		_ = d.addPeer(n2.URI, nil)

		dialer := func(_ context.Context, uri string) (transport.Frame, error) {
			d.mu.Lock()
			defer d.mu.Unlock()
			p, ok := d.sides[cluster.PeerUri(uri)]
			Expect(ok).To(BeTrue(), "no fake peer registered for %s", uri)
			return p, nil
		}

		src := discovery.Static{Peers: []cluster.Snode{n1, n2}}
		h, err := Open("vol-a", haTestConfig(), dialer, src, nil)
		Expect(err).NotTo(HaveOccurred())
		defer h.Close()

		Expect(h.OpenVolume("vol-a", n1)).To(Succeed())
		_, err = h.Stat("obj1")
		Expect(err).NotTo(HaveOccurred())

		// sever the active peer; the next sync call must observe a timeout,
		// mark connErr, and the HA goroutine must fail over to n2.
		_ = server1.Close()

		Eventually(func() error {
			_, err := h.Stat("obj1")
			return err
		}, time.Second, 5*time.Millisecond).Should(Succeed())

		Eventually(h.ConnectionError, time.Second, 5*time.Millisecond).Should(BeFalse())
	})

	It("gives up and surfaces an error once no candidate peer remains", func() {
		server1 := d.addPeer(n1.URI, nil)
		dialer := func(_ context.Context, uri string) (transport.Frame, error) {
			d.mu.Lock()
			defer d.mu.Unlock()
			p, ok := d.sides[cluster.PeerUri(uri)]
			Expect(ok).To(BeTrue())
			return p, nil
		}

		src := discovery.Static{Peers: []cluster.Snode{n1}}
		h, err := Open("vol-b", haTestConfig(), dialer, src, nil)
		Expect(err).NotTo(HaveOccurred())
		defer h.Close()

		Expect(h.OpenVolume("vol-b", n1)).To(Succeed())
		_ = server1.Close()

		// the heartbeat is parked in these tests, so a sync call that times
		// out is what marks connErr; with n1 excluded no candidate remains.
		_, err = h.Stat("obj1")
		Expect(err).To(HaveOccurred())

		Eventually(h.ConnectionError, time.Second, 5*time.Millisecond).Should(BeTrue())
	})
})

var _ = Describe("Context duplicate suppression", func() {
	It("delivers a replayed async write to the caller exactly once", func() {
		n1 := cluster.Snode{ID: "n1", URI: "mem://n1"}
		n2 := cluster.Snode{ID: "n2", URI: "mem://n2"}
		d := newFakePeerDialer()

		held := make(chan struct{})
		d.addPeer(n1.URI, func(env *transport.Envelope) *transport.ReplyEnvelope {
			if env.Type == transport.ReqWrite {
				<-held // n1 never answers the write within this test's window
				return nil
			}
			return &transport.ReplyEnvelope{Type: transport.RespOk, Tag: env.Tag}
		})
		d.addPeer(n2.URI, nil)

		dialer := func(_ context.Context, uri string) (transport.Frame, error) {
			d.mu.Lock()
			defer d.mu.Unlock()
			p, ok := d.sides[cluster.PeerUri(uri)]
			Expect(ok).To(BeTrue())
			return p, nil
		}

		src := discovery.Static{Peers: []cluster.Snode{n1, n2}}
		cfg := haTestConfig()
		cfg.RequestTimeout = 300 * time.Millisecond // long enough that n1's own submit doesn't race the forced failover below
		h, err := Open("vol-c", cfg, dialer, src, nil)
		Expect(err).NotTo(HaveOccurred())
		defer func() {
			close(held)
			h.Close()
		}()

		Expect(h.OpenVolume("vol-c", n1)).To(Succeed())

		var calls int
		var mu sync.Mutex
		done := make(chan struct{})
		_, err = h.SendWriteRequest("obj1", 0, []byte("payload"), func(size uint32, dtlInSync bool, err error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 1 {
				close(done)
			}
		})
		Expect(err).NotTo(HaveOccurred())

		// the write is genuinely still inflight against n1 (blocked on held);
		// force the same failure detection a timed-out heartbeat or sibling
		// request would otherwise trigger, so reconnect() finds it still in
		// HAInflight and replays it against n2, which answers immediately.
		time.Sleep(10 * time.Millisecond)
		h.markError(cmn.ErrIO)

		Eventually(done, time.Second, 5*time.Millisecond).Should(BeClosed())

		// only once n1's own submit timeout has had time to fire (and find
		// its entry already gone) are we sure a late, stale completion can't
		// sneak a second delivery through.
		time.Sleep(cfg.RequestTimeout + 100*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		Expect(calls).To(Equal(1))
	})
})
