// Package seed provides the deterministic pseudo-random source shared by maze
// generation, layout jitter and exhibit placement.
//
// The generator is a 32-bit linear congruential generator. A string seed is
// folded into the initial state one UTF-16 code unit at a time, so a given
// seed string yields the same sequence on every platform.
package seed

import "unicode/utf16"

const (
	mul = 1664525
	inc = 1013904223

	scale = 4294967296.0 // 2^32
)

// Hash folds s into a 32-bit state.
func Hash(s string) uint32 {
	var acc uint32
	for _, cu := range utf16.Encode([]rune(s)) {
		acc = acc*mul + uint32(cu) + inc
	}
	return acc
}

// Source is a seeded generator with explicit, copyable state.
type Source struct {
	state uint32
}

func New(s string) *Source { return &Source{state: Hash(s)} }

// FromState resumes a sequence captured with State.
func FromState(state uint32) *Source { return &Source{state: state} }

func (r *Source) State() uint32 { return r.state }

// Float64 advances the generator and returns a value in [0, 1).
func (r *Source) Float64() float64 {
	r.state = r.state*mul + inc
	return float64(r.state) / scale
}

// Intn returns a value in [0, n). n <= 0 returns 0.
func (r *Source) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	i := int(r.Float64() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}

// Shuffle performs a Fisher-Yates shuffle of n elements.
func (r *Source) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		swap(i, j)
	}
}

// Random draws a single value from a fresh source seeded with s.
func Random(s string) float64 {
	return New(s).Float64()
}
