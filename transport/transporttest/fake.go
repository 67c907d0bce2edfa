// Package transporttest provides an in-memory transport.Frame pair, so
// rnode and ha unit tests can drive the worker loop, induce orphan
// replies, timeouts, and socket resets, without a real socket.
package transporttest

import (
	"errors"
	"sync/atomic"

	"github.com/ovs-cluster/voldriver-router/transport"
)

// ErrPeerClosed is returned by TryRecv once the peer end has Closed: a
// socket-level event (the peer hung up), not the process-wide shutdown
// transport.ErrTerminated signals, so rnode.Client treats it as
// reconnect-worthy rather than fatal.
var ErrPeerClosed = errors.New("transporttest: peer closed its end")

// Pipe is one endpoint of an in-memory duplex channel pair. NewPipe returns
// both ends already connected to each other.
//
// closed and peerClosed point at the same pair of flags from both ends'
// perspective (a's closed is b's peerClosed and vice versa), so Readable
// can report a peer hangup even once its out channel has drained empty.
type Pipe struct {
	out        chan [][]byte
	in         chan [][]byte
	notify     chan struct{}
	peerNotify chan struct{}
	closed     *int32
	peerClosed *int32
}

func NewPipe(depth int) (a, b *Pipe) {
	c1 := make(chan [][]byte, depth)
	c2 := make(chan [][]byte, depth)
	n1 := make(chan struct{}, 1)
	n2 := make(chan struct{}, 1)
	var aClosed, bClosed int32
	a = &Pipe{out: c1, in: c2, notify: n1, peerNotify: n2, closed: &aClosed, peerClosed: &bClosed}
	b = &Pipe{out: c2, in: c1, notify: n2, peerNotify: n1, closed: &bClosed, peerClosed: &aClosed}
	return a, b
}

func poke(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (p *Pipe) poke() { poke(p.peerNotify) }

func (p *Pipe) Notify() <-chan struct{} { return p.notify }

func (p *Pipe) Writable() bool { return atomic.LoadInt32(p.closed) == 0 }

func (p *Pipe) TrySend(parts [][]byte) (bool, error) {
	if atomic.LoadInt32(p.closed) != 0 {
		return false, transport.ErrTerminated
	}
	cp := make([][]byte, len(parts))
	copy(cp, parts)
	select {
	case p.out <- cp:
		p.poke()
		return true, nil
	default:
		return false, nil
	}
}

// Readable reports data waiting in p.in, or the peer having hung up: a
// closed, drained channel has len 0, so without the peerClosed check a
// worker idling on Notify() would never be prompted to call TryRecv and
// observe the hangup.
func (p *Pipe) Readable() bool {
	return len(p.in) > 0 || atomic.LoadInt32(p.peerClosed) != 0
}

func (p *Pipe) TryRecv() ([][]byte, bool, error) {
	select {
	case parts, ok := <-p.in:
		if !ok {
			return nil, false, ErrPeerClosed
		}
		// in just gained room; wake the peer if it's blocked waiting for
		// Writable() to flip back true.
		poke(p.peerNotify)
		return parts, true, nil
	default:
		return nil, false, nil
	}
}

func (p *Pipe) Close() error {
	if atomic.CompareAndSwapInt32(p.closed, 0, 1) {
		close(p.out)
		poke(p.peerNotify)
	}
	return nil
}

// Poke lets a test signal this end's own Notify() directly, e.g. to wake a
// worker loop after manipulating test state out-of-band.
func (p *Pipe) Poke() { poke(p.notify) }

var _ transport.Frame = (*Pipe)(nil)
