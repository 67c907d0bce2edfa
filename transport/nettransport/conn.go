// Package nettransport implements transport.Frame over a plain net.Conn
// (TCP), using length-prefixed multi-part framing. Go has no portable
// "is this socket writable" syscall the way the original C++ implementation
// used ZMQ_POLLOUT, so this implementation fakes the same non-blocking
// contract with a bounded outbound channel drained by a dedicated writer
// goroutine: Writable() reports whether that channel has room, and TrySend
// enqueues onto it. A dedicated reader goroutine does the symmetric thing
// for TryRecv. This mirrors the pattern grounded in franz-go's brokerCxn
// (dedicated read/write goroutines per connection, one flight of requests
// serialized through channels) adapted to this module's Frame contract.
package nettransport

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ovs-cluster/voldriver-router/cmn"
	"github.com/ovs-cluster/voldriver-router/transport"
)

const outboundDepth = 256

type Conn struct {
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	outCh  chan [][]byte
	inCh   chan [][]byte
	notify chan struct{}
	errc   chan error
	closed int32
	wg     sync.WaitGroup
}

// Dial connects to addr (host:port) over TCP and returns a ready Frame.
func Dial(addr string) (*Conn, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, cmn.Wrap(err, "dial")
	}
	return wrap(nc), nil
}

func wrap(nc net.Conn) *Conn {
	c := &Conn{
		conn:   nc,
		r:      bufio.NewReader(nc),
		w:      bufio.NewWriter(nc),
		outCh:  make(chan [][]byte, outboundDepth),
		inCh:   make(chan [][]byte, outboundDepth),
		notify: make(chan struct{}, 1),
		errc:   make(chan error, 2),
	}
	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	return c
}

func (c *Conn) poke() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Conn) Notify() <-chan struct{} { return c.notify }

func (c *Conn) Writable() bool { return len(c.outCh) < outboundDepth }

func (c *Conn) TrySend(parts [][]byte) (bool, error) {
	select {
	case err := <-c.errc:
		return false, err
	default:
	}
	select {
	case c.outCh <- parts:
		return true, nil
	default:
		return false, nil
	}
}

func (c *Conn) Readable() bool { return len(c.inCh) > 0 }

func (c *Conn) TryRecv() ([][]byte, bool, error) {
	select {
	case err := <-c.errc:
		return nil, false, err
	case parts := <-c.inCh:
		return parts, true, nil
	default:
		return nil, false, nil
	}
}

func (c *Conn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	err := c.conn.Close()
	c.wg.Wait()
	return err
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	for parts := range c.outCh {
		if err := writeFrame(c.w, parts); err != nil {
			c.fail(err)
			return
		}
		if err := c.w.Flush(); err != nil {
			c.fail(err)
			return
		}
		// outCh just gained room; wake a worker blocked waiting for
		// Writable() to flip back true.
		c.poke()
	}
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	for {
		parts, err := readFrame(c.r)
		if err != nil {
			c.fail(err)
			return
		}
		c.inCh <- parts
		c.poke()
	}
}

func (c *Conn) fail(err error) {
	select {
	case c.errc <- err:
	default:
	}
	c.poke()
}

// writeFrame writes a multi-part message as: nparts(u32) { len(u32) bytes }*
func writeFrame(w io.Writer, parts [][]byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(parts)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	for _, p := range parts {
		binary.BigEndian.PutUint32(hdr[:], uint32(len(p)))
		if _, err := w.Write(hdr[:]); err != nil {
			return err
		}
		if len(p) > 0 {
			if _, err := w.Write(p); err != nil {
				return err
			}
		}
	}
	return nil
}

func readFrame(r io.Reader) ([][]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	parts := make([][]byte, n)
	for i := range parts {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, err
		}
		size := binary.BigEndian.Uint32(hdr[:])
		if size == 0 {
			parts[i] = []byte{}
			continue
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		parts[i] = buf
	}
	return parts, nil
}

var _ transport.Frame = (*Conn)(nil)

// DialContext adapts Dial to the transport.Dialer signature consumed by rnode.
func DialContext(ctx context.Context, addr string) (transport.Frame, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, cmn.Wrap(err, "dial")
	}
	return wrap(nc), nil
}

var _ transport.Dialer = DialContext
