package rng

import (
	"crypto/sha256"
	"encoding/binary"
)

// Stream is a deterministic byte stream sha256(seed ‖ counter) used to turn a
// roll seed into game outcomes.
type Stream struct {
	seed    [32]byte
	counter uint64
	buf     [32]byte
	bufPos  int
}

func NewStream(seed [32]byte) *Stream {
	return &Stream{seed: seed, bufPos: 32}
}

func (s *Stream) Read(p []byte) {
	for len(p) > 0 {
		if s.bufPos >= len(s.buf) {
			s.refill()
		}
		n := copy(p, s.buf[s.bufPos:])
		s.bufPos += n
		p = p[n:]
	}
}

func (s *Stream) refill() {
	var in [32 + 8]byte
	copy(in[:32], s.seed[:])
	binary.LittleEndian.PutUint64(in[32:], s.counter)
	s.counter++
	s.buf = sha256.Sum256(in[:])
	s.bufPos = 0
}

// Intn returns a uniform value in [0, n) by rejection sampling. n must be > 0.
func (s *Stream) Intn(n uint64) uint64 {
	if n <= 1 {
		return 0
	}
	limit := ^uint64(0) - (^uint64(0) % n)
	var b [8]byte
	for {
		s.Read(b[:])
		v := binary.BigEndian.Uint64(b[:])
		if v < limit {
			return v % n
		}
	}
}
