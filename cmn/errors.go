// Package cmn holds the error taxonomy, configuration, and global config
// owner shared by rnode and ha, the way the teacher's own cmn package
// anchors its cluster-facing subsystems.
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors from spec §7. Callers compare with errors.Is; RemoteError
// additionally carries the wire ResponseType that produced it.
var (
	ErrRequestTimeout = errors.New("request to remote node timed out")
	ErrRemoteTimeout  = errors.New("remote node reported a timeout")
	ErrProtocol       = errors.New("remote node returned an unknown-request/malformed-frame status")
	ErrObjectNotHere  = errors.New("volume object is not present on that node")
	ErrBeyondEOV      = errors.New("access beyond end of volume")
	ErrCannotShrink   = errors.New("cannot shrink volume")
	ErrCannotGrow     = errors.New("cannot grow volume beyond limit")
	ErrIO             = errors.New("I/O error")
	ErrBackpressure   = errors.New("net_client_qdepth reached")
)

// WrapIO folds a locally-originated transport failure (e.g. Frame.TrySend
// returning an error) into the ErrIO sentinel while preserving cause in the
// error text and the Unwrap chain, so errors.Is(result, ErrIO) still holds
// for callers and for ha.Context's connection-error detection.
func WrapIO(cause error) error {
	return errors.Wrapf(ErrIO, "local send failed: %v", cause)
}

// RemoteError wraps one of the sentinels above with request context so logs
// and callers can tell which op/tag failed without parsing error strings.
type RemoteError struct {
	Op   string
	Tag  uint64
	Base error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s (tag %d): %v", e.Op, e.Tag, e.Base)
}

func (e *RemoteError) Unwrap() error { return e.Base }

func NewRemoteError(op string, tag uint64, base error) error {
	return errors.WithStack(&RemoteError{Op: op, Tag: tag, Base: base})
}

// Wrap annotates err with msg using pkg/errors, preserving the ability to
// unwrap back to a sentinel via errors.Is/As across the L1->L2 boundary.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.WithMessage(err, msg)
}
