package jvector

// Sizer maps a vector dimensionality to the compressed byte budget used
// when quantizing vectors of that dimensionality. With single-byte
// codebook indexes the budget equals the number of quantizer subspaces.
//
// Implementations must be deterministic, side-effect free and safe for
// unsynchronized concurrent calls: multiple segments may be built in
// parallel against the same Format.
type Sizer interface {
	CompressedBytes(dimension int) int
}

// SizerFunc adapts a plain function to the Sizer interface.
type SizerFunc func(dimension int) int

// CompressedBytes calls f(dimension).
func (f SizerFunc) CompressedBytes(dimension int) int { return f(dimension) }

// DefaultSizer is the step function used when no override is supplied.
//
// Raw float vectors cost 4 bytes per dimension. The steps approximate a
// fixed recall/size trade-off rather than a constant ratio, because
// higher-dimensional embeddings compress well - but not so well that
// they should get fewer bytes than a lower-dimensional vector, which is
// what plain cutoffs between D*0.5 and D*0.25 would produce. The bands
// are calibrated against known benchmark embeddings; fractional bands
// use truncating integer conversion.
var DefaultSizer Sizer = SizerFunc(defaultCompressedBytes)

func defaultCompressedBytes(dimension int) int {
	switch {
	case dimension <= 32:
		// Compressing 4-byte floats to single-byte codebook indexes
		// is already 4x; GloVe-25 needs its full 25 bytes per vector
		// for good recall.
		return dimension
	case dimension <= 64:
		// GloVe-50 performs fine at 25, so 32 is a comfortable plateau.
		return 32
	case dimension <= 200:
		// GloVe-100 and -200 perform well at 50 and 100 bytes.
		return int(float64(dimension) * 0.5)
	case dimension <= 400:
		// NYTimes-256 is actually fine at 64, but stay conservative so
		// the budget never shrinks relative to the previous band.
		return 100
	case dimension <= 768:
		return 64
	case dimension <= 1536:
		// ada002 vectors keep good recall even at 192 bytes, a 32x
		// compression.
		return 192
	default:
		// Untested territory; grow linearly.
		return int(float64(dimension) * 0.125)
	}
}
