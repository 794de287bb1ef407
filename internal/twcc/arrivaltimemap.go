package twcc

// minCapacity and maxSpan bound the growable circular buffer below,
// ported from Chrome's packet_arrival_map (used the same way here: a
// receiver-side index of when each transport-wide sequence number
// arrived, feeding feedback-report generation).
const (
	minCapacity = 128
	maxSpan      = 1 << 15
)

const notReceived = -1

// ArrivalTimeMap is a growable circular buffer of packet arrival times,
// indexed by an unwrapped (monotonically increasing, never wrapping)
// transport-wide sequence number. It grows to cover newly arrived
// indices and shrinks back down once old ones are erased, so its memory
// is bounded by the span of currently-relevant sequence numbers rather
// than by how many packets have ever been seen.
type ArrivalTimeMap struct {
	arrivals []int64
	begin    int64
	end      int64
}

// NewArrivalTimeMap builds an empty map.
func NewArrivalTimeMap() *ArrivalTimeMap {
	return &ArrivalTimeMap{}
}

// AddPacket records that seq arrived at the given time (caller-chosen
// units; this module always passes microseconds derived from a
// caller-supplied `now`, never a wall-clock read of its own). Packets
// too far outside the current span to fit within maxSpan are dropped
// rather than forcing an unbounded reallocation.
func (m *ArrivalTimeMap) AddPacket(seq, arrival int64) {
	if len(m.arrivals) == 0 {
		m.reallocate(minCapacity)
		m.begin, m.end = seq, seq+1
		m.arrivals[m.index(seq)] = arrival
		return
	}

	if seq >= m.begin && seq < m.end {
		m.arrivals[m.index(seq)] = arrival
		return
	}

	if seq < m.begin {
		newSize := int(m.end - seq)
		if newSize > maxSpan {
			return
		}
		m.adjustToSize(newSize)
		m.arrivals[m.index(seq)] = arrival
		m.setNotReceived(seq+1, m.begin)
		m.begin = seq
		return
	}

	newEnd := seq + 1
	if newEnd >= m.end+maxSpan {
		m.begin, m.end = seq, newEnd
		m.arrivals[m.index(seq)] = arrival
		return
	}
	if m.begin < newEnd-maxSpan {
		m.begin = newEnd - maxSpan
	}
	m.adjustToSize(int(newEnd - m.begin))
	m.setNotReceived(m.end, seq)
	m.end = newEnd
	m.arrivals[m.index(seq)] = arrival
}

func (m *ArrivalTimeMap) setNotReceived(fromInclusive, toExclusive int64) {
	for sn := fromInclusive; sn < toExclusive; sn++ {
		m.arrivals[m.index(sn)] = notReceived
	}
}

// BeginSequenceNumber is the first valid sequence number in the map.
func (m *ArrivalTimeMap) BeginSequenceNumber() int64 { return m.begin }

// EndSequenceNumber is the first sequence number past the valid range.
func (m *ArrivalTimeMap) EndSequenceNumber() int64 { return m.end }

// Get returns the recorded arrival time for seq, if any.
func (m *ArrivalTimeMap) Get(seq int64) (int64, bool) {
	if seq < m.begin || seq >= m.end {
		return 0, false
	}
	v := m.arrivals[m.index(seq)]
	return v, v != notReceived
}

// HasReceived reports whether seq has a recorded arrival.
func (m *ArrivalTimeMap) HasReceived(seq int64) bool {
	_, ok := m.Get(seq)
	return ok
}

// EraseTo drops every recorded arrival before seq, shrinking the backing
// buffer back down if it is now oversized for the remaining span.
func (m *ArrivalTimeMap) EraseTo(seq int64) {
	if seq < m.begin {
		return
	}
	if seq >= m.end {
		m.begin = m.end
		return
	}
	m.begin = seq
	m.adjustToSize(int(m.end - m.begin))
}

func (m *ArrivalTimeMap) index(seq int64) int {
	return int(seq & int64(m.capacity()-1))
}

func (m *ArrivalTimeMap) capacity() int { return len(m.arrivals) }

func (m *ArrivalTimeMap) adjustToSize(newSize int) {
	if newSize > m.capacity() {
		newCap := m.capacity()
		if newCap == 0 {
			newCap = minCapacity
		}
		for newCap < newSize {
			newCap *= 2
		}
		m.reallocate(newCap)
		return
	}
	shrinkTo := minCapacity
	if newSize*4 > shrinkTo {
		shrinkTo = newSize * 4
	}
	if m.capacity() <= shrinkTo {
		return
	}
	newCap := m.capacity()
	for newCap >= 2*max(newSize, minCapacity) {
		newCap /= 2
	}
	m.reallocate(newCap)
}

func (m *ArrivalTimeMap) reallocate(newCapacity int) {
	newBuf := make([]int64, newCapacity)
	for i := range newBuf {
		newBuf[i] = notReceived
	}
	for sn := m.begin; sn < m.end; sn++ {
		v, ok := m.Get(sn)
		if !ok {
			continue
		}
		newBuf[int(sn&int64(newCapacity-1))] = v
	}
	m.arrivals = newBuf
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
