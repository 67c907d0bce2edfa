package transport

import "context"

// Frame is the L0 transport this module consumes (spec §2): a reliable,
// ordered, message-framed duplex channel to one peer, supporting
// non-blocking send with backpressure signaling and non-blocking receive.
// Multi-part messages are supported natively. Treated as given; this
// module never implements its reliability guarantees, only uses them.
type Frame interface {
	// Writable reports whether a send would not block right now.
	Writable() bool
	// TrySend attempts to send one multi-part message. ok=false means the
	// caller should wait for the next writable edge and retry; it is not
	// an error.
	TrySend(parts [][]byte) (ok bool, err error)
	// Readable reports whether a received message is available right now.
	Readable() bool
	// TryRecv returns the next multi-part message, if any.
	TryRecv() (parts [][]byte, ok bool, err error)
	// Notify returns a channel that is signaled when Writable/Readable may
	// have changed state, so the worker loop (spec §4.1) can multiplex on
	// it instead of busy-polling.
	Notify() <-chan struct{}
	Close() error
}

// Dialer constructs a Frame connected to uri. ErrTerminated is the sole fatal,
// unrecoverable error a Dial/Frame can produce (spec §5 "Shared resources").
type Dialer func(ctx context.Context, uri string) (Frame, error)

// ErrTerminated signals the underlying transport context was torn down
// process-wide; the caller must stop, not reconnect.
type terminatedError struct{}

func (terminatedError) Error() string { return "transport context terminated" }

var ErrTerminated error = terminatedError{}

func IsTerminated(err error) bool {
	_, ok := err.(terminatedError) //nolint:errorlint
	return ok
}
