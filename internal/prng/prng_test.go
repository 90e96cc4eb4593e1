package prng

import (
	"math/rand/v2"
	"testing"
)

func TestStreamIsDeterministic(t *testing.T) {
	a := New(42, "detris/test", 7)
	b := New(42, "detris/test", 7)
	for i := 0; i < 100; i++ {
		if x, y := a.Uint64(), b.Uint64(); x != y {
			t.Fatalf("draw %d diverged: %d != %d", i, x, y)
		}
	}
}

func TestStreamsAreDomainSeparated(t *testing.T) {
	base := New(42, "detris/test").Uint64()
	variants := map[string]*Stream{
		"seed":   New(43, "detris/test"),
		"domain": New(42, "detris/other"),
		"part":   New(42, "detris/test", 0),
	}
	for name, s := range variants {
		if s.Uint64() == base {
			t.Fatalf("changing %s did not change the stream", name)
		}
	}
}

func TestIntNRange(t *testing.T) {
	s := New(1, "range")
	counts := make([]int, 7)
	for i := 0; i < 7000; i++ {
		v := s.IntN(7)
		if v < 0 || v >= 7 {
			t.Fatalf("IntN(7) = %d", v)
		}
		counts[v]++
	}
	for v, n := range counts {
		if n < 800 || n > 1200 {
			t.Fatalf("value %d drawn %d times out of 7000", v, n)
		}
	}
}

func TestFloat64Range(t *testing.T) {
	s := New(9, "float")
	for i := 0; i < 1000; i++ {
		if f := s.Float64(); f < 0 || f >= 1 {
			t.Fatalf("Float64() = %v", f)
		}
	}
}

func TestPermIsPermutation(t *testing.T) {
	p := New(5, "perm").Perm(7)
	seen := make([]bool, 7)
	for _, v := range p {
		if seen[v] {
			t.Fatalf("duplicate %d in %v", v, p)
		}
		seen[v] = true
	}
}

func TestStreamIsRandSource(t *testing.T) {
	r := rand.New(New(3, "source"))
	if v := r.IntN(10); v < 0 || v >= 10 {
		t.Fatalf("rand.IntN via stream = %d", v)
	}
}
