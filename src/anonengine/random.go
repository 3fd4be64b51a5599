package anonengine

import (
	"math/rand"
	"time"
)

// RandomSource is the randomness used by every engine component. Injecting it
// keeps the engine deterministic under test; production callers use NewSource().
type RandomSource interface {
	// Intn returns a uniformly distributed int in [0, n). Panics if n <= 0.
	Intn(n int) int
}

func NewSource() RandomSource {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

func NewSeededSource(seed int64) RandomSource {
	return rand.New(rand.NewSource(seed))
}

// IntBetween returns a uniformly distributed int in [lo, hi], both inclusive.
func IntBetween(rs RandomSource, lo int, hi int) int {
	return lo + rs.Intn(hi-lo+1)
}

// Pick returns a uniformly chosen element of items. Panics on an empty slice;
// pool emptiness is rejected at load time.
func Pick(rs RandomSource, items []string) string {
	return items[rs.Intn(len(items))]
}
