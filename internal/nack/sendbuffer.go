package nack

import "github.com/pion/rtp"

// SendBuffer is a fixed-size ring of recently sent RTP packets for one
// SSRC, consulted when a peer NACKs a sequence number we might still be
// able to resend.
type SendBuffer struct {
	packets   []*rtp.Packet
	size      uint16
	lastAdded uint16
	started   bool
}

// NewSendBuffer builds a SendBuffer of the given size (must be a power of
// two).
func NewSendBuffer(size uint16) (*SendBuffer, error) {
	if !isPowerOfTwoSize(size) {
		return nil, errInvalidSendBufferSize(size)
	}
	return &SendBuffer{packets: make([]*rtp.Packet, size), size: size}, nil
}

func errInvalidSendBufferSize(size uint16) error {
	return &invalidSendBufferSizeError{size}
}

type invalidSendBufferSizeError struct{ size uint16 }

func (e *invalidSendBufferSizeError) Error() string {
	return "nack: invalid send buffer size, must be a power of two"
}

// Add records a freshly sent packet, evicting anything older than size
// packets behind it.
func (s *SendBuffer) Add(packet *rtp.Packet) {
	seq := packet.SequenceNumber
	if !s.started {
		s.packets[seq%s.size] = packet
		s.lastAdded = seq
		s.started = true
		return
	}

	diff := seq - s.lastAdded
	if diff == 0 {
		return
	}
	if diff < uint16SizeHalf {
		for i := s.lastAdded + 1; i != seq; i++ {
			s.packets[i%s.size] = nil
		}
	}
	s.packets[seq%s.size] = packet
	s.lastAdded = seq
}

// Get returns the packet at seq if it is still in the buffer.
func (s *SendBuffer) Get(seq uint16) *rtp.Packet {
	diff := s.lastAdded - seq
	if diff >= uint16SizeHalf || diff >= s.size {
		return nil
	}
	return s.packets[seq%s.size]
}
