package transport

// Request body structs — one per opcode in spec §3's Data Model. These are
// json-iterator-marshaled into Envelope.Body (see Marshal/Unmarshal).

type ReadRequest struct {
	Object string `json:"obj"`
	Offset uint64 `json:"off"`
	Size   uint32 `json:"size"`
}

type WriteRequest struct {
	Object string `json:"obj"`
	Offset uint64 `json:"off"`
	Size   uint32 `json:"size"`
}

type SyncRequest struct {
	Object string `json:"obj"`
}

type ResizeRequest struct {
	Object  string `json:"obj"`
	NewSize uint64 `json:"new_size"`
}

type UnlinkRequest struct {
	Object string `json:"obj"`
}

type TransferRequest struct {
	Object     string `json:"obj"`
	TargetNode string `json:"target_node"`
	TimeoutMs  uint64 `json:"timeout_ms"`
}

type StatRequest struct {
	Object string `json:"obj"`
}

type ListSnapshotsRequest struct {
	Object string `json:"obj"`
}

type SnapshotCreateRequest struct {
	Object     string `json:"obj"`
	SnapshotID string `json:"snapshot_id"`
}

type SnapshotRemoveRequest struct {
	Object     string `json:"obj"`
	SnapshotID string `json:"snapshot_id"`
}

type SnapshotRollbackRequest struct {
	Object     string `json:"obj"`
	SnapshotID string `json:"snapshot_id"`
}

type IsSnapshotSyncedRequest struct {
	Object     string `json:"obj"`
	SnapshotID string `json:"snapshot_id"`
}

type GetSizeRequest struct {
	Object string `json:"obj"`
}

type GetClusterMultiplierRequest struct {
	Object string `json:"obj"`
}

type GetCloneNamespaceMapRequest struct {
	Object string `json:"obj"`
}

type GetPageRequest struct {
	Object         string `json:"obj"`
	ClusterAddress uint64 `json:"cluster_address"`
}

type PingRequest struct {
	SenderID string `json:"sender_id"`
}

type CreateRequest struct {
	Object     string `json:"obj"`
	VolumeName string `json:"volume_name"`
	Size       uint64 `json:"size"`
}

type AllocateRequest struct {
	Object         string `json:"obj"`
	ClusterAddress uint64 `json:"cluster_address"`
	Count          uint32 `json:"count"`
}

type DeallocateRequest struct {
	Object         string `json:"obj"`
	ClusterAddress uint64 `json:"cluster_address"`
	Count          uint32 `json:"count"`
}

// Response bodies. These travel in ReplyEnvelope.Trailing, framed with
// ChecksummedTrailing when they carry a raw data payload (Read),
// or plain-jsoniter-marshaled otherwise.

type WriteResponse struct {
	Size      uint32 `json:"size"`
	DtlInSync bool   `json:"dtl_in_sync"`
}

type SyncResponse struct {
	DtlInSync bool `json:"dtl_in_sync"`
}

type GetSizeResponse struct {
	Size uint64 `json:"size"`
}

type GetClusterMultiplierResponse struct {
	Multiplier uint32 `json:"multiplier"`
}

type CloneNamespaceEntry struct {
	CloneID   uint32 `json:"clone_id"`
	Namespace string `json:"ns"`
}

type GetCloneNamespaceMapResponse struct {
	Entries []CloneNamespaceEntry `json:"entries"`
}

type GetPageResponse struct {
	ClusterLocations []uint64 `json:"cluster_locations"`
}

type PingResponse struct {
	SenderID string `json:"sender_id"`
}

type ListSnapshotsResponse struct {
	SnapshotIDs []string `json:"snapshot_ids"`
}

type IsSnapshotSyncedResponse struct {
	Synced bool `json:"synced"`
}

type StatResponse struct {
	Size       uint64 `json:"size"`
	VolumeName string `json:"volume_name"`
}

type AllocateResponse struct {
	ClusterLocations []uint64 `json:"cluster_locations"`
}
