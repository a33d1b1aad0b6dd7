package graph

import "math"

// Weight is the type of edge weights and path lengths.
type Weight = int64

// Infinity marks the absence of an edge (or of a path) between two vertices.
const Infinity Weight = math.MaxInt64

// SaturatingAdd returns a+b. If either operand is Infinity or the sum would
// overflow, the result saturates at Infinity; a sum that would underflow is
// clamped at math.MinInt64.
func SaturatingAdd(a, b Weight) Weight {
	if a == Infinity || b == Infinity {
		return Infinity
	}
	if b > 0 && a > Infinity-b {
		return Infinity
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}
