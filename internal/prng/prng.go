// Package prng provides the deterministic random stream behind piece
// sequences and challenge generation. Output is defined entirely by
// Keccak-256 over the seed, a domain label and optional counters, so any
// verifier can reproduce it bit for bit.
package prng

import (
	"encoding/binary"
	"math"

	"github.com/ethereum/go-ethereum/crypto"
)

const blockSize = 32

// Stream is a Keccak-256 counter-mode generator. It satisfies
// math/rand/v2.Source. A Stream is not safe for concurrent use.
type Stream struct {
	key     [32]byte
	counter uint64
	buf     [blockSize]byte
	pos     int
}

// New derives a stream from seed, a domain label and extra parts.
func New(seed int64, domain string, parts ...uint64) *Stream {
	material := make([]byte, 0, 10+len(domain)+8*len(parts))
	material = binary.BigEndian.AppendUint64(material, uint64(seed))
	material = binary.BigEndian.AppendUint16(material, uint16(len(domain)))
	material = append(material, domain...)
	for _, p := range parts {
		material = binary.BigEndian.AppendUint64(material, p)
	}
	s := &Stream{pos: blockSize}
	copy(s.key[:], crypto.Keccak256(material))
	return s
}

func (s *Stream) refill() {
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], s.counter)
	s.counter++
	copy(s.buf[:], crypto.Keccak256(s.key[:], ctr[:]))
	s.pos = 0
}

// Uint64 returns the next 64 bits of the stream.
func (s *Stream) Uint64() uint64 {
	if s.pos+8 > len(s.buf) {
		s.refill()
	}
	v := binary.BigEndian.Uint64(s.buf[s.pos:])
	s.pos += 8
	return v
}

// IntN returns a uniform value in [0, n). It panics if n <= 0.
func (s *Stream) IntN(n int) int {
	if n <= 0 {
		panic("prng: IntN called with non-positive n")
	}
	bound := uint64(n)
	limit := math.MaxUint64 - math.MaxUint64%bound
	for {
		if v := s.Uint64(); v < limit {
			return int(v % bound)
		}
	}
}

// Float64 returns a uniform value in [0, 1) with 53 bits of precision.
func (s *Stream) Float64() float64 {
	return float64(s.Uint64()>>11) / (1 << 53)
}

// Perm returns a Fisher-Yates permutation of [0, n).
func (s *Stream) Perm(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := s.IntN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
