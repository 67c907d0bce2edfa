package rnode

import (
	"github.com/ovs-cluster/voldriver-router/transport"
)

// Outcome is the tagged-variant completion the worker delivers to a waiting
// submitter (spec §9 Design Notes: "Shared completion handle" — a
// tagged-variant completion removes the need for exception plumbing across
// goroutines).
type Outcome struct {
	Type transport.ResponseType
	Err  error

	// LocalErr is set instead of Type/Err when the worker never got a reply
	// to translate because the local Frame.TrySend itself failed — a
	// transport-level failure, not a remote-reported status (spec §4.1
	// "Error recovery inside the worker").
	LocalErr error
}

// ExtraSend, if set, is invoked by the worker while it builds the envelope,
// just before sending it, to attach a trailing payload (e.g. a write
// buffer) — mirrors ExtraSendFun in the original RemoteNode.cpp.
type ExtraSend func() []byte

// ExtraRecv, if set, is invoked by the worker with the reply's trailing
// bytes (possibly nil) to decode a typed response body — mirrors
// ExtraRecvFun.
type ExtraRecv func(trailing []byte) error

// WorkItem is the shared object between a submitter (which waits) and the
// worker (which completes it) — spec §3 Data Model. Its Queued -> Sent ->
// Completed | Dropped lifecycle (spec §4.1) is enforced implicitly: Queued
// is sendQueue membership, Sent is inflight membership, and Completed/
// Dropped are the two ways it leaves both (see Client.drop and
// WorkItem.complete) — there's no separate state field to fall out of sync
// with the maps that are the actual source of truth.
type WorkItem struct {
	Tag      transport.Tag
	ReqType  transport.RequestType
	Desc     string
	Body     []byte
	Opaque   []byte
	extraSnd ExtraSend
	extraRcv ExtraRecv

	done chan Outcome // buffered(1); worker sends exactly once
}

func newWorkItem(tag transport.Tag, rt transport.RequestType, desc string, body, opaque []byte, es ExtraSend, er ExtraRecv) *WorkItem {
	return &WorkItem{
		Tag:      tag,
		ReqType:  rt,
		Desc:     desc,
		Body:     body,
		Opaque:   opaque,
		extraSnd: es,
		extraRcv: er,
		done:     make(chan Outcome, 1),
	}
}

func (w *WorkItem) complete(o Outcome) {
	select {
	case w.done <- o:
	default:
		// already completed or dropped; at-most-once delivery (spec §3 invariant)
	}
}
