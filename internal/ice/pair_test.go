package ice

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairPriorityFormula(t *testing.T) {
	local := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}, 1, 65535)
	remote := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4001}, 1, 65535)
	p := &CandidatePair{Local: local, Remote: remote}

	g, d := uint64(local.Priority()), uint64(remote.Priority())
	min, max := g, d
	extra := uint64(0)
	if g > d {
		min, max = d, g
		extra = 1
	}
	want := (uint64(1)<<32)*min + 2*max + extra
	assert.Equal(t, want, p.Priority(true))
}

func TestPairPriorityNoDuplicatesPerFoundation(t *testing.T) {
	lhost := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}, 1, 65535)
	rhostA := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4001}, 1, 65535)
	rhostB := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4002}, 1, 10)

	p1 := &CandidatePair{Local: lhost, Remote: rhostA}
	p2 := &CandidatePair{Local: lhost, Remote: rhostB}
	assert.NotEqual(t, p1.Priority(true), p2.Priority(true), "different remote local-pref must yield distinct pair priority")
}
