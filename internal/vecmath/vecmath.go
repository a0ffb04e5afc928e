// Package vecmath provides the scalar float32 vector kernels used during
// graph construction and quantizer training.
package vecmath

import "math"

// Func computes a distance between two vectors of equal length.
// Smaller values mean closer.
type Func func(a, b []float32) float32

// Dot returns the dot product of a and b.
// Assumes equal length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredL2 returns the squared Euclidean distance between a and b.
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// NegDot returns the negated dot product, usable as a distance for
// maximum inner product search.
func NegDot(a, b []float32) float32 {
	return -Dot(a, b)
}

// CosineDistance returns 1 - cosine similarity. Zero-norm inputs yield
// the maximum distance of 1.
func CosineDistance(a, b []float32) float32 {
	dot := Dot(a, b)
	na := Dot(a, a)
	nb := Dot(b, b)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/float32(math.Sqrt(float64(na)*float64(nb)))
}
