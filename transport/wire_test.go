package transport

import (
	"bytes"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	cases := []*Envelope{
		{Type: ReqRead, Tag: 1, Body: []byte(`{"obj":"a"}`)},
		{Type: ReqWrite, Tag: 42, Body: []byte(`{"obj":"b"}`), Opaque: []byte("opaque"), Trailing: []byte("payload")},
		{Type: ReqPing, Tag: 0xFFFFFFFFFFFFFFFF, Body: []byte(`{}`)},
	}
	for _, want := range cases {
		parts := want.Parts()
		got, err := DecodeEnvelope(parts)
		if err != nil {
			t.Fatalf("DecodeEnvelope: %v", err)
		}
		if got.Type != want.Type || got.Tag != want.Tag {
			t.Fatalf("type/tag mismatch: got %+v want %+v", got, want)
		}
		if !bytes.Equal(got.Body, want.Body) {
			t.Fatalf("body mismatch: got %q want %q", got.Body, want.Body)
		}
		if !bytes.Equal(got.Opaque, want.Opaque) {
			t.Fatalf("opaque mismatch: got %q want %q", got.Opaque, want.Opaque)
		}
		if !bytes.Equal(got.Trailing, want.Trailing) {
			t.Fatalf("trailing mismatch: got %q want %q", got.Trailing, want.Trailing)
		}
	}
}

func TestEnvelopeDecodeTooFewParts(t *testing.T) {
	if _, err := DecodeEnvelope([][]byte{{}}); err == nil {
		t.Fatal("expected error for too few parts")
	}
}

func TestReplyRoundTrip(t *testing.T) {
	cases := []*ReplyEnvelope{
		{Type: RespOk, Tag: 7},
		{Type: RespObjectNotRunningHere, Tag: 99, Trailing: []byte("details")},
	}
	for _, want := range cases {
		got, err := DecodeReply(want.Parts())
		if err != nil {
			t.Fatalf("DecodeReply: %v", err)
		}
		if got.Type != want.Type || got.Tag != want.Tag {
			t.Fatalf("type/tag mismatch: got %+v want %+v", got, want)
		}
		if !bytes.Equal(got.Trailing, want.Trailing) {
			t.Fatalf("trailing mismatch: got %q want %q", got.Trailing, want.Trailing)
		}
	}
}

func TestChecksummedTrailingRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	framed := ChecksummedTrailing(payload)
	got, err := DecodeChecksummedTrailing(framed)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got %q want %q", got, payload)
	}
}

func TestChecksummedTrailingDetectsCorruption(t *testing.T) {
	payload := []byte("hello world")
	framed := ChecksummedTrailing(payload)
	framed[len(framed)-1] ^= 0xFF // corrupt last payload byte
	if _, err := DecodeChecksummedTrailing(framed); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestRequestTypeString(t *testing.T) {
	if ReqRead.String() != "Read" {
		t.Fatalf("got %q", ReqRead.String())
	}
	if got := RequestType(9999).String(); got == "" {
		t.Fatal("expected non-empty fallback string")
	}
}
