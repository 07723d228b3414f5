package utils

import "math"

// Dot returns the inner product of a and b, accumulated in float64. Vectors of different
// lengths score 0.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var s float64
	for i, v := range a {
		s += float64(v) * float64(b[i])
	}
	return s
}

// Norm returns the Euclidean length of x.
func Norm(x []float32) float64 {
	return math.Sqrt(Dot(x, x))
}

// NormalizeL2 scales x to unit length in place. It reports false, leaving x untouched, for a
// zero vector.
func NormalizeL2(x []float32) bool {
	n := Norm(x)
	if n == 0 {
		return false
	}
	inv := float32(1 / n)
	for i := range x {
		x[i] *= inv
	}
	return true
}
