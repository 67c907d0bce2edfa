// Package transport defines the wire protocol (spec §6) and the L0
// transport abstraction this module consumes (spec §2). Message *contents*
// (the opaque request/response bodies) are this module's concern — the
// on-disk volume engine that ultimately interprets them is not; see
// SPEC_FULL.md §1.
package transport

import "fmt"

// RequestType enumerates the opcodes from spec §3/§6. Values are part of
// the interop contract and must never be renumbered once assigned.
type RequestType uint32

const (
	ReqRead RequestType = iota + 1
	ReqWrite
	ReqSync
	ReqResize
	ReqUnlink
	ReqTransfer
	ReqStat
	ReqListSnapshots
	ReqSnapshotCreate
	ReqSnapshotRemove
	ReqSnapshotRollback
	ReqIsSnapshotSynced
	ReqGetClusterMultiplier
	ReqGetCloneNamespaceMap
	ReqGetPage
	ReqGetSize
	ReqPing
	ReqCreate
	ReqAllocate
	ReqDeallocate
)

var reqNames = map[RequestType]string{
	ReqRead:                 "Read",
	ReqWrite:                "Write",
	ReqSync:                 "Sync",
	ReqResize:               "Resize",
	ReqUnlink:               "Unlink",
	ReqTransfer:             "Transfer",
	ReqStat:                 "Stat",
	ReqListSnapshots:        "ListSnapshots",
	ReqSnapshotCreate:       "SnapshotCreate",
	ReqSnapshotRemove:       "SnapshotRemove",
	ReqSnapshotRollback:     "SnapshotRollback",
	ReqIsSnapshotSynced:     "IsSnapshotSynced",
	ReqGetClusterMultiplier: "GetClusterMultiplier",
	ReqGetCloneNamespaceMap: "GetCloneNamespaceMap",
	ReqGetPage:              "GetPage",
	ReqGetSize:              "GetSize",
	ReqPing:                 "Ping",
	ReqCreate:               "Create",
	ReqAllocate:             "Allocate",
	ReqDeallocate:           "Deallocate",
}

func (t RequestType) String() string {
	if s, ok := reqNames[t]; ok {
		return s
	}
	return fmt.Sprintf("RequestType(%d)", uint32(t))
}

// ResponseType enumerates the stable response statuses from spec §6.
type ResponseType uint32

const (
	RespOk ResponseType = iota + 1
	RespUnknownRequest
	RespObjectNotRunningHere
	RespIOError
	RespTimeout
	RespAccessBeyondEndOfVolume
	RespCannotShrinkVolume
	RespCannotGrowVolumeBeyondLimit
)

var respNames = map[ResponseType]string{
	RespOk:                          "Ok",
	RespUnknownRequest:              "UnknownRequest",
	RespObjectNotRunningHere:        "ObjectNotRunningHere",
	RespIOError:                     "IOError",
	RespTimeout:                     "Timeout",
	RespAccessBeyondEndOfVolume:     "AccessBeyondEndOfVolume",
	RespCannotShrinkVolume:          "CannotShrinkVolume",
	RespCannotGrowVolumeBeyondLimit: "CannotGrowVolumeBeyondLimit",
}

func (t ResponseType) String() string {
	if s, ok := respNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ResponseType(%d)", uint32(t))
}

// Tag is the client-side, per-connection correlation id (spec §3 RequestTag).
// It is never authentication (spec §4.1 Open Question 1).
type Tag uint64

// RequestId is the durable, per-L2-context correlation id used across
// reconnects (spec §3 RequestId). It rides in Envelope.Opaque so a server
// can de-duplicate a replayed request if it chooses to (spec §4.2 step 5).
type RequestId uint64
