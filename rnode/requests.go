package rnode

import (
	"time"

	"github.com/ovs-cluster/voldriver-router/cmn"
	"github.com/ovs-cluster/voldriver-router/transport"
)

// translateOutcome maps a wire ResponseType (plus any decode error the
// ExtraRecv callback surfaced) into the cmn error taxonomy (spec §7). RespOk
// with a decode error still returns that decode error: a status of Ok only
// promises the remote side did its job, not that the trailing payload it
// sent survived the wire intact.
func translateOutcome(op string, tag transport.Tag, o Outcome) error {
	if o.LocalErr != nil {
		return cmn.NewRemoteError(op, uint64(tag), cmn.WrapIO(o.LocalErr))
	}
	if o.Type == transport.RespOk {
		return o.Err
	}
	var base error
	switch o.Type {
	case transport.RespUnknownRequest:
		base = cmn.ErrProtocol
	case transport.RespObjectNotRunningHere:
		base = cmn.ErrObjectNotHere
	case transport.RespIOError:
		base = cmn.ErrIO
	case transport.RespTimeout:
		base = cmn.ErrRemoteTimeout
	case transport.RespAccessBeyondEndOfVolume:
		base = cmn.ErrBeyondEOV
	case transport.RespCannotShrinkVolume:
		base = cmn.ErrCannotShrink
	case transport.RespCannotGrowVolumeBeyondLimit:
		base = cmn.ErrCannotGrow
	default:
		base = cmn.ErrProtocol
	}
	return cmn.NewRemoteError(op, uint64(tag), base)
}

// call is the shared plumbing behind every public opcode method: marshal the
// request body, submit, and translate the outcome. opaque is whatever rides
// in the wire envelope's Opaque part on top of the request body — built by
// opaqueFor so it always carries the client's auth token and, for requests
// ha.Context may later replay, the durable RequestId too.
func (c *Client) call(op string, rt transport.RequestType, body any, opaque []byte, es ExtraSend, er ExtraRecv, timeout time.Duration) error {
	b, err := transport.Marshal(body)
	if err != nil {
		return cmn.Wrap(err, op)
	}
	tag := c.allocateTag()
	w := newWorkItem(tag, rt, op, b, opaque, es, er)
	o, err := c.submit(w, timeout)
	if err != nil {
		return err
	}
	return translateOutcome(op, tag, o)
}

// opaqueFor builds the Opaque part for a request. reqID == 0 means "no
// durable RequestId" — every synchronous, non-replayed operation — in which
// case only the auth token (if any) rides along, behind a zero id. ha.Context's three
// replayable async operations (Read/Write/Sync) pass their inflightEntry's
// actual RequestId instead, so a server can de-duplicate a replayed request
// against the original even after L1 reconnects to a different peer (spec
// §4.2 step 5).
func (c *Client) opaqueFor(reqID transport.RequestId) []byte {
	return transport.EncodeOpaque(reqID, c.authToken)
}

// Read fetches size bytes at offset from object, returning the checksummed
// payload the remote node sent back in the reply's trailing part. reqID is
// the durable RequestId ha.Context assigned this request (0 if called
// directly, outside any HA replay bookkeeping).
func (c *Client) Read(object string, offset uint64, size uint32, reqID transport.RequestId) ([]byte, error) {
	var out []byte
	er := func(trailing []byte) error {
		p, err := transport.DecodeChecksummedTrailing(trailing)
		if err != nil {
			return err
		}
		out = p
		return nil
	}
	req := transport.ReadRequest{Object: object, Offset: offset, Size: size}
	if err := c.call("Read", transport.ReqRead, req, c.opaqueFor(reqID), nil, er, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// Write sends payload to be written at offset in object. It reports the
// byte count and the distributed-transaction-log flag from the reply's
// WriteResponse; a reply with no trailing reports len(payload) and
// dtl_in_sync false, not unknown (spec §4.1 Open Question 2). reqID is the durable RequestId ha.Context assigned this
// request (0 outside HA replay bookkeeping).
func (c *Client) Write(object string, offset uint64, payload []byte, reqID transport.RequestId) (size uint32, dtlInSync bool, err error) {
	es := func() []byte { return transport.ChecksummedTrailing(payload) }
	var resp transport.WriteResponse
	er := func(trailing []byte) error {
		if len(trailing) == 0 {
			resp = transport.WriteResponse{Size: uint32(len(payload)), DtlInSync: false}
			return nil
		}
		return transport.Unmarshal(trailing, &resp)
	}
	req := transport.WriteRequest{Object: object, Offset: offset, Size: uint32(len(payload))}
	if err := c.call("Write", transport.ReqWrite, req, c.opaqueFor(reqID), es, er, 0); err != nil {
		return 0, false, err
	}
	return resp.Size, resp.DtlInSync, nil
}

// Sync flushes object's pending writes and reports whether the distributed
// transaction log caught up (same Open Question 2 rule as Write). reqID is
// the durable RequestId ha.Context assigned this request (0 outside HA
// replay bookkeeping).
func (c *Client) Sync(object string, reqID transport.RequestId) (dtlInSync bool, err error) {
	var resp transport.SyncResponse
	er := func(trailing []byte) error {
		if len(trailing) == 0 {
			resp = transport.SyncResponse{DtlInSync: false}
			return nil
		}
		return transport.Unmarshal(trailing, &resp)
	}
	req := transport.SyncRequest{Object: object}
	if err := c.call("Sync", transport.ReqSync, req, c.opaqueFor(reqID), nil, er, 0); err != nil {
		return false, err
	}
	return resp.DtlInSync, nil
}

// Resize changes object's logical size.
func (c *Client) Resize(object string, newSize uint64) error {
	req := transport.ResizeRequest{Object: object, NewSize: newSize}
	return c.call("Resize", transport.ReqResize, req, c.opaqueFor(0), nil, nil, 0)
}

// Unlink removes object from this node.
func (c *Client) Unlink(object string) error {
	req := transport.UnlinkRequest{Object: object}
	return c.call("Unlink", transport.ReqUnlink, req, c.opaqueFor(0), nil, nil, 0)
}

// Transfer hands ownership of object to targetNode, bounding the remote
// side's own handoff attempt with timeout.
func (c *Client) Transfer(object, targetNode string, timeout time.Duration) error {
	req := transport.TransferRequest{Object: object, TargetNode: targetNode, TimeoutMs: uint64(timeout / time.Millisecond)}
	return c.call("Transfer", transport.ReqTransfer, req, c.opaqueFor(0), nil, nil, 0)
}

// Stat returns object's size and owning volume name.
func (c *Client) Stat(object string) (transport.StatResponse, error) {
	var resp transport.StatResponse
	er := func(trailing []byte) error { return transport.Unmarshal(trailing, &resp) }
	req := transport.StatRequest{Object: object}
	if err := c.call("Stat", transport.ReqStat, req, c.opaqueFor(0), nil, er, 0); err != nil {
		return transport.StatResponse{}, err
	}
	return resp, nil
}

// GetSize returns object's current logical size.
func (c *Client) GetSize(object string) (uint64, error) {
	var resp transport.GetSizeResponse
	er := func(trailing []byte) error { return transport.Unmarshal(trailing, &resp) }
	req := transport.GetSizeRequest{Object: object}
	if err := c.call("GetSize", transport.ReqGetSize, req, c.opaqueFor(0), nil, er, 0); err != nil {
		return 0, err
	}
	return resp.Size, nil
}

// GetClusterMultiplier returns the cluster size multiplier the remote node
// applies when translating logical to physical cluster addresses.
func (c *Client) GetClusterMultiplier(object string) (uint32, error) {
	var resp transport.GetClusterMultiplierResponse
	er := func(trailing []byte) error { return transport.Unmarshal(trailing, &resp) }
	req := transport.GetClusterMultiplierRequest{Object: object}
	if err := c.call("GetClusterMultiplier", transport.ReqGetClusterMultiplier, req, c.opaqueFor(0), nil, er, 0); err != nil {
		return 0, err
	}
	return resp.Multiplier, nil
}

// GetCloneNamespaceMap returns the clone-id to namespace table for object.
func (c *Client) GetCloneNamespaceMap(object string) ([]transport.CloneNamespaceEntry, error) {
	var resp transport.GetCloneNamespaceMapResponse
	er := func(trailing []byte) error { return transport.Unmarshal(trailing, &resp) }
	req := transport.GetCloneNamespaceMapRequest{Object: object}
	if err := c.call("GetCloneNamespaceMap", transport.ReqGetCloneNamespaceMap, req, c.opaqueFor(0), nil, er, 0); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// GetPage returns the cluster locations backing clusterAddress in object.
func (c *Client) GetPage(object string, clusterAddress uint64) ([]uint64, error) {
	var resp transport.GetPageResponse
	er := func(trailing []byte) error { return transport.Unmarshal(trailing, &resp) }
	req := transport.GetPageRequest{Object: object, ClusterAddress: clusterAddress}
	if err := c.call("GetPage", transport.ReqGetPage, req, c.opaqueFor(0), nil, er, 0); err != nil {
		return nil, err
	}
	return resp.ClusterLocations, nil
}

// Ping round-trips a liveness check; ha.Context uses it to pace the failure
// detector (spec §4.2 "Failure detection").
func (c *Client) Ping(senderID string, timeout time.Duration) error {
	req := transport.PingRequest{SenderID: senderID}
	return c.call("Ping", transport.ReqPing, req, c.opaqueFor(0), nil, nil, timeout)
}

// ListSnapshots returns object's snapshot ids.
func (c *Client) ListSnapshots(object string) ([]string, error) {
	var resp transport.ListSnapshotsResponse
	er := func(trailing []byte) error { return transport.Unmarshal(trailing, &resp) }
	req := transport.ListSnapshotsRequest{Object: object}
	if err := c.call("ListSnapshots", transport.ReqListSnapshots, req, c.opaqueFor(0), nil, er, 0); err != nil {
		return nil, err
	}
	return resp.SnapshotIDs, nil
}

// SnapshotCreate creates snapshotID on object.
func (c *Client) SnapshotCreate(object, snapshotID string) error {
	req := transport.SnapshotCreateRequest{Object: object, SnapshotID: snapshotID}
	return c.call("SnapshotCreate", transport.ReqSnapshotCreate, req, c.opaqueFor(0), nil, nil, 0)
}

// SnapshotRemove deletes snapshotID from object.
func (c *Client) SnapshotRemove(object, snapshotID string) error {
	req := transport.SnapshotRemoveRequest{Object: object, SnapshotID: snapshotID}
	return c.call("SnapshotRemove", transport.ReqSnapshotRemove, req, c.opaqueFor(0), nil, nil, 0)
}

// SnapshotRollback rolls object back to snapshotID, discarding later state.
func (c *Client) SnapshotRollback(object, snapshotID string) error {
	req := transport.SnapshotRollbackRequest{Object: object, SnapshotID: snapshotID}
	return c.call("SnapshotRollback", transport.ReqSnapshotRollback, req, c.opaqueFor(0), nil, nil, 0)
}

// Create allocates a new object of size bytes within volumeName.
func (c *Client) Create(object, volumeName string, size uint64) error {
	req := transport.CreateRequest{Object: object, VolumeName: volumeName, Size: size}
	return c.call("Create", transport.ReqCreate, req, c.opaqueFor(0), nil, nil, 0)
}

// Allocate reserves count cluster addresses starting at clusterAddress in
// object, returning the physical locations backing them.
func (c *Client) Allocate(object string, clusterAddress uint64, count uint32) ([]uint64, error) {
	var resp transport.AllocateResponse
	er := func(trailing []byte) error { return transport.Unmarshal(trailing, &resp) }
	req := transport.AllocateRequest{Object: object, ClusterAddress: clusterAddress, Count: count}
	if err := c.call("Allocate", transport.ReqAllocate, req, c.opaqueFor(0), nil, er, 0); err != nil {
		return nil, err
	}
	return resp.ClusterLocations, nil
}

// Deallocate releases count cluster addresses starting at clusterAddress.
func (c *Client) Deallocate(object string, clusterAddress uint64, count uint32) error {
	req := transport.DeallocateRequest{Object: object, ClusterAddress: clusterAddress, Count: count}
	return c.call("Deallocate", transport.ReqDeallocate, req, c.opaqueFor(0), nil, nil, 0)
}

// IsSnapshotSynced reports whether snapshotID has finished replicating.
func (c *Client) IsSnapshotSynced(object, snapshotID string) (bool, error) {
	var resp transport.IsSnapshotSyncedResponse
	er := func(trailing []byte) error { return transport.Unmarshal(trailing, &resp) }
	req := transport.IsSnapshotSyncedRequest{Object: object, SnapshotID: snapshotID}
	if err := c.call("IsSnapshotSynced", transport.ReqIsSnapshotSynced, req, c.opaqueFor(0), nil, er, 0); err != nil {
		return false, err
	}
	return resp.Synced, nil
}
