package seenring

import (
	"testing"

	"github.com/ovs-cluster/voldriver-router/transport"
)

func TestRingRecordThenSeen(t *testing.T) {
	r := New(4)
	id := transport.RequestId(1)
	if r.Seen(id) {
		t.Fatal("unrecorded id reported seen")
	}
	r.Record(id)
	if !r.Seen(id) {
		t.Fatal("recorded id reported unseen")
	}
	if r.Len() != 1 {
		t.Fatalf("got len %d want 1", r.Len())
	}
}

func TestRingRecordIsIdempotent(t *testing.T) {
	r := New(4)
	id := transport.RequestId(7)
	r.Record(id)
	r.Record(id)
	r.Record(id)
	if r.Len() != 1 {
		t.Fatalf("got len %d want 1 after repeated Record", r.Len())
	}
	if !r.Seen(id) {
		t.Fatal("id not seen after repeated Record")
	}
}

func TestRingWraparoundEvictsOldest(t *testing.T) {
	r := New(3)
	for i := transport.RequestId(1); i <= 3; i++ {
		r.Record(i)
	}
	if r.Len() != 3 {
		t.Fatalf("got len %d want 3", r.Len())
	}
	// one more push evicts id 1
	r.Record(4)
	if r.Len() != 3 {
		t.Fatalf("got len %d want 3 after wraparound", r.Len())
	}
	if r.Seen(1) {
		t.Fatal("evicted id still reported seen")
	}
	for _, id := range []transport.RequestId{2, 3, 4} {
		if !r.Seen(id) {
			t.Fatalf("id %d should still be seen", id)
		}
	}
}

func TestRingZeroCapacityClampsToOne(t *testing.T) {
	r := New(0)
	r.Record(1)
	r.Record(2)
	if r.Len() != 1 {
		t.Fatalf("got len %d want 1 for zero-capacity ring", r.Len())
	}
	if r.Seen(1) {
		t.Fatal("oldest id should have been evicted")
	}
	if !r.Seen(2) {
		t.Fatal("newest id should be seen")
	}
}

func TestRingDistinctIdsDoNotCollide(t *testing.T) {
	r := New(8)
	ids := []transport.RequestId{10, 20, 30, 40, 50}
	for _, id := range ids {
		r.Record(id)
	}
	for _, id := range ids {
		if !r.Seen(id) {
			t.Fatalf("id %d should be seen", id)
		}
	}
	for _, unseen := range []transport.RequestId{11, 21, 999} {
		if r.Seen(unseen) {
			t.Fatalf("id %d should not be seen", unseen)
		}
	}
}
