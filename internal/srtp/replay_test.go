package srtp

import "testing"

func TestReplayWindowMultiWordAcceptsIncreasingIndices(t *testing.T) {
	w := newReplayWindow(128)
	for _, idx := range []uint64{0, 1, 64, 67, 100, 127} {
		if !w.Check(idx) {
			t.Fatalf("Check(%d): expected acceptable on first sight", idx)
		}
		w.Accept(idx)
	}
}

func TestReplayWindowMultiWordRejectsReplayAfterShift(t *testing.T) {
	w := newReplayWindow(128)

	// Accept an index that will land in the second word once the window
	// advances past it, then advance latest by more than 64 so the shift
	// crosses the word boundary shiftBy's carry must preserve.
	w.Accept(5)
	w.Accept(70)

	if w.Check(5) {
		t.Fatalf("Check(5): expected replay of an already-accepted, still-in-window index to be rejected")
	}
	if w.Check(70) {
		t.Fatalf("Check(70): expected replay of an already-accepted index to be rejected")
	}

	// A fresh index within the window, not yet seen, must still be
	// accepted — confirms the shift didn't also drop unrelated bits.
	if !w.Check(71) {
		t.Fatalf("Check(71): expected a never-seen in-window index to be acceptable")
	}
}

func TestReplayWindowMultiWordShiftBeyondSingleWord(t *testing.T) {
	w := newReplayWindow(128)
	w.Accept(0)
	w.Accept(3)

	// Advance latest by 100, pushing index 0 and 3 deep into the window
	// but still inside it (width 128), exercising a shift whose wordShift
	// and bitShift are both nonzero.
	w.Accept(103)

	if w.Check(0) {
		t.Fatalf("Check(0): expected replay rejection after a 100-position shift")
	}
	if w.Check(3) {
		t.Fatalf("Check(3): expected replay rejection after a 100-position shift")
	}
	if !w.Check(50) {
		t.Fatalf("Check(50): expected a never-seen in-window index to remain acceptable")
	}

	// After accepting 131, index 3 has age 128, exactly the window
	// width; confirm it reports as out-of-window, not merely unset, once
	// it ages out entirely.
	w.Accept(131)
	if w.Check(3) {
		t.Fatalf("Check(3): expected an index aged out of a 128-wide window to be rejected unconditionally")
	}
}
