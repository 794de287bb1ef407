package twcc

import "testing"

func TestArrivalTimeMapFirstPacket(t *testing.T) {
	m := NewArrivalTimeMap()
	m.AddPacket(0, 1000)

	if !m.HasReceived(0) {
		t.Fatalf("expected seq 0 to be recorded")
	}
	if m.HasReceived(1) {
		t.Fatalf("expected seq 1 to be unrecorded")
	}
	if m.BeginSequenceNumber() != 0 || m.EndSequenceNumber() != 1 {
		t.Fatalf("begin/end = %d/%d, want 0/1", m.BeginSequenceNumber(), m.EndSequenceNumber())
	}
}

func TestArrivalTimeMapSequential(t *testing.T) {
	m := NewArrivalTimeMap()
	for i := int64(0); i < 10; i++ {
		m.AddPacket(i, i*1000)
	}
	for i := int64(0); i < 10; i++ {
		if !m.HasReceived(i) {
			t.Fatalf("expected seq %d to be recorded", i)
		}
	}
	if m.EndSequenceNumber() != 10 {
		t.Fatalf("end = %d, want 10", m.EndSequenceNumber())
	}
}

func TestArrivalTimeMapGaps(t *testing.T) {
	m := NewArrivalTimeMap()
	m.AddPacket(0, 1000)
	m.AddPacket(5, 5000)

	if !m.HasReceived(0) || !m.HasReceived(5) {
		t.Fatalf("expected seq 0 and 5 to be recorded")
	}
	for _, seq := range []int64{1, 2, 3, 4} {
		if m.HasReceived(seq) {
			t.Fatalf("expected seq %d to be a gap", seq)
		}
	}
}

func TestArrivalTimeMapOutOfOrder(t *testing.T) {
	m := NewArrivalTimeMap()
	m.AddPacket(5, 5000)
	m.AddPacket(3, 3000)
	m.AddPacket(7, 7000)

	if !m.HasReceived(3) || !m.HasReceived(5) || !m.HasReceived(7) {
		t.Fatalf("expected 3, 5 and 7 to be recorded")
	}
	if m.HasReceived(4) || m.HasReceived(6) {
		t.Fatalf("expected 4 and 6 to remain gaps")
	}
	if m.BeginSequenceNumber() != 3 || m.EndSequenceNumber() != 8 {
		t.Fatalf("begin/end = %d/%d, want 3/8", m.BeginSequenceNumber(), m.EndSequenceNumber())
	}
}

func TestArrivalTimeMapEraseTo(t *testing.T) {
	m := NewArrivalTimeMap()
	for i := int64(0); i < 10; i++ {
		m.AddPacket(i, i*1000)
	}
	m.EraseTo(7)

	if m.HasReceived(0) || m.HasReceived(6) {
		t.Fatalf("expected seq 0-6 to be erased")
	}
	if !m.HasReceived(7) || !m.HasReceived(9) {
		t.Fatalf("expected seq 7 and 9 to remain recorded")
	}
	if m.BeginSequenceNumber() != 7 {
		t.Fatalf("begin = %d, want 7", m.BeginSequenceNumber())
	}
}

func TestArrivalTimeMapGrowsAcrossCapacity(t *testing.T) {
	m := NewArrivalTimeMap()
	const n = minCapacity * 3
	for i := int64(0); i < n; i++ {
		m.AddPacket(i, i)
	}
	for i := int64(0); i < n; i++ {
		v, ok := m.Get(i)
		if !ok || v != i {
			t.Fatalf("Get(%d) = %d,%v want %d,true", i, v, ok, i)
		}
	}
}

func TestArrivalTimeMapDropsBeyondMaxSpan(t *testing.T) {
	m := NewArrivalTimeMap()
	m.AddPacket(0, 0)
	m.AddPacket(maxSpan+100, 1)

	// seq 0 is now far enough behind the buffer's span that re-adding it
	// would require growing past maxSpan; AddPacket must drop it rather
	// than reallocate unboundedly.
	m.AddPacket(0, 2)
	if m.HasReceived(0) {
		t.Fatalf("expected an add far outside maxSpan to be dropped")
	}
}
