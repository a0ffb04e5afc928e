// Package quantization implements product quantization with a byte-budget
// driven layout: the number of subspaces equals the compressed bytes per
// vector, one single-byte code per subspace.
package quantization

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/RKSPD/lucene-jvector/internal/vecmath"
)

// NumCentroids is the number of centroids per subspace. Fixed at 256 so
// every code fits in one byte.
const NumCentroids = 256

const kmeansIterations = 8

// ProductQuantizer splits vectors into subspaces and quantizes each
// subspace independently against a trained codebook.
//
// The dimension does not have to divide evenly: the first dim%M
// subspaces are one dimension wider than the rest, so any byte budget
// from 1 to dim is usable.
type ProductQuantizer struct {
	dimension    int
	numSubspaces int
	subDims      []int
	subOffsets   []int
	// codebooks[m] holds NumCentroids contiguous centroids of width subDims[m].
	codebooks [][]float32
	trained   bool
}

// New creates an untrained quantizer with the given dimension and
// subspace count (equal to the compressed bytes per vector).
func New(dimension, numSubspaces int) (*ProductQuantizer, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	if numSubspaces <= 0 || numSubspaces > dimension {
		return nil, fmt.Errorf("subspace count must be in [1, %d], got %d", dimension, numSubspaces)
	}

	base := dimension / numSubspaces
	extra := dimension % numSubspaces

	pq := &ProductQuantizer{
		dimension:    dimension,
		numSubspaces: numSubspaces,
		subDims:      make([]int, numSubspaces),
		subOffsets:   make([]int, numSubspaces),
		codebooks:    make([][]float32, numSubspaces),
	}

	offset := 0
	for m := 0; m < numSubspaces; m++ {
		width := base
		if m < extra {
			width++
		}
		pq.subDims[m] = width
		pq.subOffsets[m] = offset
		offset += width
	}
	return pq, nil
}

// Dimension returns the original vector dimensionality.
func (pq *ProductQuantizer) Dimension() int { return pq.dimension }

// NumSubspaces returns the subspace count, which is also the encoded
// size in bytes.
func (pq *ProductQuantizer) NumSubspaces() int { return pq.numSubspaces }

// Train fits the per-subspace codebooks with k-means.
func (pq *ProductQuantizer) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return errors.New("no training vectors")
	}
	for _, v := range vectors {
		if len(v) != pq.dimension {
			return fmt.Errorf("training vector has dimension %d, want %d", len(v), pq.dimension)
		}
	}

	rng := rand.New(rand.NewSource(int64(pq.dimension)*31 + int64(len(vectors))))

	for m := 0; m < pq.numSubspaces; m++ {
		width := pq.subDims[m]
		off := pq.subOffsets[m]

		sub := make([][]float32, len(vectors))
		for i, v := range vectors {
			sub[i] = v[off : off+width]
		}
		pq.codebooks[m] = kmeans(sub, width, rng)
	}
	pq.trained = true
	return nil
}

// Trained reports whether codebooks are available.
func (pq *ProductQuantizer) Trained() bool { return pq.trained }

// Encode writes the vector's codes into dst, which must have length
// NumSubspaces.
func (pq *ProductQuantizer) Encode(v []float32, dst []byte) error {
	if !pq.trained {
		return errors.New("quantizer not trained")
	}
	if len(v) != pq.dimension {
		return fmt.Errorf("vector has dimension %d, want %d", len(v), pq.dimension)
	}
	if len(dst) != pq.numSubspaces {
		return fmt.Errorf("code buffer has length %d, want %d", len(dst), pq.numSubspaces)
	}

	for m := 0; m < pq.numSubspaces; m++ {
		width := pq.subDims[m]
		sub := v[pq.subOffsets[m] : pq.subOffsets[m]+width]
		book := pq.codebooks[m]

		best := 0
		bestDist := float32(math.MaxFloat32)
		for k := 0; k < NumCentroids; k++ {
			d := vecmath.SquaredL2(sub, book[k*width:(k+1)*width])
			if d < bestDist {
				bestDist = d
				best = k
			}
		}
		dst[m] = byte(best)
	}
	return nil
}

// Decode reconstructs an approximate vector from its codes.
func (pq *ProductQuantizer) Decode(code []byte) ([]float32, error) {
	if !pq.trained {
		return nil, errors.New("quantizer not trained")
	}
	if len(code) != pq.numSubspaces {
		return nil, fmt.Errorf("code has length %d, want %d", len(code), pq.numSubspaces)
	}

	out := make([]float32, pq.dimension)
	for m := 0; m < pq.numSubspaces; m++ {
		width := pq.subDims[m]
		centroid := pq.codebooks[m][int(code[m])*width : (int(code[m])+1)*width]
		copy(out[pq.subOffsets[m]:], centroid)
	}
	return out, nil
}

// BuildTable precomputes the asymmetric distance from query to every
// centroid of every subspace. The result is flat: table[m*NumCentroids+k].
func (pq *ProductQuantizer) BuildTable(query []float32, dist vecmath.Func) ([]float32, error) {
	if !pq.trained {
		return nil, errors.New("quantizer not trained")
	}
	if len(query) != pq.dimension {
		return nil, fmt.Errorf("query has dimension %d, want %d", len(query), pq.dimension)
	}

	table := make([]float32, pq.numSubspaces*NumCentroids)
	for m := 0; m < pq.numSubspaces; m++ {
		width := pq.subDims[m]
		sub := query[pq.subOffsets[m] : pq.subOffsets[m]+width]
		book := pq.codebooks[m]
		for k := 0; k < NumCentroids; k++ {
			table[m*NumCentroids+k] = dist(sub, book[k*width:(k+1)*width])
		}
	}
	return table, nil
}

// Score sums the table entries selected by code. With an additive
// distance (squared L2, negated dot) this approximates the distance from
// the query to the encoded vector.
func (pq *ProductQuantizer) Score(table []float32, code []byte) float32 {
	var sum float32
	for m, c := range code {
		sum += table[m*NumCentroids+int(c)]
	}
	return sum
}

// CodebookBytes returns the size of the serialized codebooks.
func (pq *ProductQuantizer) CodebookBytes() int {
	return pq.dimension * NumCentroids * 4
}

// AppendCodebooks serializes the trained codebooks.
func (pq *ProductQuantizer) AppendCodebooks(dst []byte) []byte {
	for m := 0; m < pq.numSubspaces; m++ {
		for _, f := range pq.codebooks[m] {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
		}
	}
	return dst
}

// Load restores a trained quantizer from dimension, subspace count and
// serialized codebooks produced by AppendCodebooks.
func Load(dimension, numSubspaces int, data []byte) (*ProductQuantizer, error) {
	pq, err := New(dimension, numSubspaces)
	if err != nil {
		return nil, err
	}
	if len(data) != pq.CodebookBytes() {
		return nil, fmt.Errorf("codebook data has %d bytes, want %d", len(data), pq.CodebookBytes())
	}

	pos := 0
	for m := 0; m < numSubspaces; m++ {
		n := NumCentroids * pq.subDims[m]
		book := make([]float32, n)
		for i := range book {
			book[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[pos:]))
			pos += 4
		}
		pq.codebooks[m] = book
	}
	pq.trained = true
	return pq, nil
}

// kmeans clusters the subvectors into NumCentroids centroids and returns
// them as one contiguous slice.
func kmeans(sub [][]float32, width int, rng *rand.Rand) []float32 {
	centroids := make([]float32, NumCentroids*width)

	// Seed centroids from the training set, wrapping when it is small.
	perm := rng.Perm(len(sub))
	for k := 0; k < NumCentroids; k++ {
		src := sub[perm[k%len(perm)]]
		copy(centroids[k*width:], src)
	}

	assign := make([]int, len(sub))
	counts := make([]int, NumCentroids)
	sums := make([]float32, NumCentroids*width)

	for iter := 0; iter < kmeansIterations; iter++ {
		changed := false
		for i, v := range sub {
			best := 0
			bestDist := float32(math.MaxFloat32)
			for k := 0; k < NumCentroids; k++ {
				d := vecmath.SquaredL2(v, centroids[k*width:(k+1)*width])
				if d < bestDist {
					bestDist = d
					best = k
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if iter > 0 && !changed {
			break
		}

		for k := range counts {
			counts[k] = 0
		}
		for i := range sums {
			sums[i] = 0
		}
		for i, v := range sub {
			k := assign[i]
			counts[k]++
			for j, f := range v {
				sums[k*width+j] += f
			}
		}
		for k := 0; k < NumCentroids; k++ {
			if counts[k] == 0 {
				// Re-seed empty clusters from a random point.
				copy(centroids[k*width:(k+1)*width], sub[rng.Intn(len(sub))])
				continue
			}
			inv := 1 / float32(counts[k])
			for j := 0; j < width; j++ {
				centroids[k*width+j] = sums[k*width+j] * inv
			}
		}
	}
	return centroids
}
