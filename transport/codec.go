package transport

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/tinylib/msgp/msgp"

	"github.com/ovs-cluster/voldriver-router/cmn"
	"github.com/ovs-cluster/voldriver-router/cmn/cos"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope is the in-memory form of a request message. Parts() renders it to
// the multi-part frame an L0 Frame.TrySend expects: [delim, head, body,
// opaque?, trailing?], where head packs type and tag together into one part;
// type and tag are not sent as separate parts.
type Envelope struct {
	Type     RequestType
	Tag      Tag
	Body     []byte // opaque to the volume engine; our own jsoniter-encoded request struct
	Opaque   []byte // carries RequestId (+ optional auth token); extends, never replaces, Body
	Trailing []byte // write payload, present iff len > 0
}

// ReplyEnvelope is the in-memory form of a response message, sent as
// [delim, head, trailing?] with type and tag packed into the one head part.
type ReplyEnvelope struct {
	Type     ResponseType
	Tag      Tag
	Trailing []byte // read payload / response body, present iff len > 0
}

// Parts renders e into the wire's multi-part frame. The empty first part is
// the delimiter required by spec §6; it exists purely so the L0 transport's
// multi-part framing mirrors the original ZeroMQ DEALER socket shape this
// module was modeled on.
func (e *Envelope) Parts() [][]byte {
	head := msgp.AppendUint32(nil, uint32(e.Type))
	head = msgp.AppendUint64(head, uint64(e.Tag))
	parts := [][]byte{{}, head, e.Body}
	if len(e.Opaque) > 0 || len(e.Trailing) > 0 {
		// an empty Opaque part still holds its slot when Trailing follows,
		// so DecodeEnvelope never mistakes the trailing payload for Opaque
		parts = append(parts, e.Opaque)
	}
	if len(e.Trailing) > 0 {
		parts = append(parts, e.Trailing)
	}
	return parts
}

// DecodeEnvelope parses the wire parts produced by Parts back into an
// Envelope. It tolerates a missing Opaque/Trailing part (spec §4.1 Open
// Question 2: older peers may omit trailing data).
func DecodeEnvelope(parts [][]byte) (*Envelope, error) {
	if len(parts) < 3 {
		return nil, cmn.Wrap(cmn.ErrProtocol, "envelope: too few frame parts")
	}
	head := parts[1]
	typ, head, err := msgp.ReadUint32Bytes(head)
	if err != nil {
		return nil, cmn.Wrap(cmn.ErrProtocol, "envelope: decode type")
	}
	tag, _, err := msgp.ReadUint64Bytes(head)
	if err != nil {
		return nil, cmn.Wrap(cmn.ErrProtocol, "envelope: decode tag")
	}
	e := &Envelope{Type: RequestType(typ), Tag: Tag(tag), Body: parts[2]}
	if len(parts) >= 4 {
		e.Opaque = parts[3]
	}
	if len(parts) >= 5 {
		e.Trailing = parts[4]
	}
	return e, nil
}

// Parts renders a ReplyEnvelope into its wire frame: [delim, head(type, tag), trailing?].
func (r *ReplyEnvelope) Parts() [][]byte {
	head := msgp.AppendUint32(nil, uint32(r.Type))
	head = msgp.AppendUint64(head, uint64(r.Tag))
	parts := [][]byte{{}, head}
	if len(r.Trailing) > 0 {
		parts = append(parts, r.Trailing)
	}
	return parts
}

// DecodeReply parses the wire parts of a response message.
func DecodeReply(parts [][]byte) (*ReplyEnvelope, error) {
	if len(parts) < 2 {
		return nil, cmn.Wrap(cmn.ErrProtocol, "reply: too few frame parts")
	}
	head := parts[1]
	typ, rest, err := msgp.ReadUint32Bytes(head)
	if err != nil {
		return nil, cmn.Wrap(cmn.ErrProtocol, "reply: decode type")
	}
	// the caller (rnode's worker) looks its WorkItem up by this tag, and
	// decoding it here also lets DecodeReply round-trip standalone
	// (Testable Properties: encode-then-decode reproduces the message
	// exactly).
	tag, _, err := msgp.ReadUint64Bytes(rest)
	if err != nil {
		return nil, cmn.Wrap(cmn.ErrProtocol, "reply: decode tag")
	}
	r := &ReplyEnvelope{Type: ResponseType(typ), Tag: Tag(tag)}
	if len(parts) >= 3 {
		r.Trailing = parts[2]
	}
	return r, nil
}

// ChecksummedTrailing frames a raw payload with its length and xxhash64
// checksum (tinylib/msgp for the length prefix, OneOfOne/xxhash for the
// sum), so a corrupted read/write payload is detected before it reaches the
// caller's buffer rather than being silently accepted.
func ChecksummedTrailing(payload []byte) []byte {
	out := msgp.AppendUint32(nil, uint32(len(payload)))
	out = msgp.AppendUint64(out, cos.Checksum64(payload))
	return append(out, payload...)
}

// DecodeChecksummedTrailing is the inverse of ChecksummedTrailing; it
// returns an error if the checksum doesn't match.
func DecodeChecksummedTrailing(b []byte) ([]byte, error) {
	size, rest, err := msgp.ReadUint32Bytes(b)
	if err != nil {
		return nil, cmn.Wrap(cmn.ErrProtocol, "trailing: decode size")
	}
	sum, rest, err := msgp.ReadUint64Bytes(rest)
	if err != nil {
		return nil, cmn.Wrap(cmn.ErrProtocol, "trailing: decode checksum")
	}
	if uint32(len(rest)) != size {
		return nil, cmn.Wrap(cmn.ErrProtocol, "trailing: size mismatch")
	}
	if !cos.VerifyChecksum64(rest, sum) {
		return nil, cmn.Wrap(cmn.ErrProtocol, "trailing: checksum mismatch")
	}
	return rest, nil
}

// EncodeOpaque packs a durable RequestId ahead of an optional auth token
// into one Envelope.Opaque blob (spec §4.2 step 5: "the RequestId is carried
// in the protocol opaque field so the server can de-duplicate if it so
// chooses"). reqID == 0 means "no durable id assigned" (ha.Context's
// synchronous, non-replayed operations): with an auth token it is still
// encoded as a zero prefix, and with no token either the result is nil. A
// server-side deduper therefore sees id 0 on many unrelated requests.
func EncodeOpaque(reqID RequestId, authToken []byte) []byte {
	if reqID == 0 && len(authToken) == 0 {
		return nil
	}
	out := msgp.AppendUint64(nil, uint64(reqID))
	return append(out, authToken...)
}

// DecodeOpaque is EncodeOpaque's inverse: it returns the RequestId (0 if
// opaque is too short to have come from EncodeOpaque) and whatever bytes
// remain, which is the auth token when auth is enabled.
func DecodeOpaque(opaque []byte) (RequestId, []byte) {
	id, rest, err := msgp.ReadUint64Bytes(opaque)
	if err != nil {
		return 0, opaque
	}
	return RequestId(id), rest
}

// Marshal/Unmarshal encode the typed request/response bodies carried in
// Envelope.Body / request-specific Go structs via json-iterator — the
// concrete default for what spec §6 calls "opaque, serialized by external
// codec". A real deployment could swap this for the volume engine's own
// serializer; test doubles and this module's own round-trip tests use this
// one directly.
func Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, cmn.Wrap(err, "marshal body")
	}
	return b, nil
}

func Unmarshal(b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		return cmn.Wrap(err, "unmarshal body")
	}
	return nil
}
