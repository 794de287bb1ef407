package twcc

import (
	"testing"
	"time"

	"github.com/pion/rtp"
)

func TestSenderTagsSharedCounterAcrossSSRCs(t *testing.T) {
	var s Sender

	p1 := &rtp.Packet{Header: rtp.Header{SSRC: 111}}
	p2 := &rtp.Packet{Header: rtp.Header{SSRC: 222}}
	p3 := &rtp.Packet{Header: rtp.Header{SSRC: 111}}

	for i, p := range []*rtp.Packet{p1, p2, p3} {
		seq, err := s.Tag(p, 5)
		if err != nil {
			t.Fatalf("Tag: %v", err)
		}
		if seq != uint16(i) {
			t.Fatalf("packet %d: seq = %d, want %d", i, seq, i)
		}
	}

	got := p2.Header.GetExtension(5)
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("p2 extension = %v, want [0 1]", got)
	}
}

func TestReceiverBuildFeedbackRoundTrips(t *testing.T) {
	r := NewReceiver()
	base := time.Unix(1700000000, 0)

	r.RecordArrival(0, base)
	r.RecordArrival(1, base.Add(5*time.Millisecond))
	// seq 2 missing
	r.RecordArrival(3, base.Add(20*time.Millisecond))

	fb, ok := r.BuildFeedback(0xAAAA, 0xBBBB)
	if !ok {
		t.Fatalf("expected a feedback report")
	}
	if fb.BaseSequenceNumber != 0 || fb.PacketStatusCount != 4 {
		t.Fatalf("base/count = %d/%d, want 0/4", fb.BaseSequenceNumber, fb.PacketStatusCount)
	}
	if len(fb.Statuses) != 4 || fb.Statuses[2] != statusNotReceived {
		t.Fatalf("expected seq 2 to be reported not-received: %v", fb.Statuses)
	}

	raw, err := fb.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(raw)%4 != 0 {
		t.Fatalf("marshaled feedback length %d is not 4-byte aligned", len(raw))
	}

	var got Feedback
	if err := got.Unmarshal(raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.SenderSSRC != 0xAAAA || got.MediaSSRC != 0xBBBB {
		t.Fatalf("SSRCs = %#x/%#x, want 0xaaaa/0xbbbb", got.SenderSSRC, got.MediaSSRC)
	}
	if got.BaseSequenceNumber != fb.BaseSequenceNumber || got.PacketStatusCount != fb.PacketStatusCount {
		t.Fatalf("base/count round-trip mismatch: got %d/%d, want %d/%d",
			got.BaseSequenceNumber, got.PacketStatusCount, fb.BaseSequenceNumber, fb.PacketStatusCount)
	}
	for i, s := range fb.Statuses {
		if got.Statuses[i] != s {
			t.Fatalf("status %d = %v, want %v", i, got.Statuses[i], s)
		}
	}
}

func TestReceiverBuildFeedbackFalseWhenNothingNew(t *testing.T) {
	r := NewReceiver()
	if _, ok := r.BuildFeedback(0, 0); ok {
		t.Fatalf("expected no feedback before any arrival is recorded")
	}
}

func TestReceiverSecondReportCoversOnlyNewArrivals(t *testing.T) {
	r := NewReceiver()
	base := time.Unix(1700000000, 0)
	r.RecordArrival(0, base)

	first, ok := r.BuildFeedback(0, 0)
	if !ok {
		t.Fatalf("expected first report")
	}
	if first.PacketStatusCount != 1 {
		t.Fatalf("first report count = %d, want 1", first.PacketStatusCount)
	}

	r.RecordArrival(1, base.Add(10*time.Millisecond))
	second, ok := r.BuildFeedback(0, 0)
	if !ok {
		t.Fatalf("expected a second report")
	}
	if second.BaseSequenceNumber != 1 || second.PacketStatusCount != 1 {
		t.Fatalf("second report base/count = %d/%d, want 1/1", second.BaseSequenceNumber, second.PacketStatusCount)
	}
}
