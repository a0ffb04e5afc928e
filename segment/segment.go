// Package segment defines the handoff contract between the host engine's
// per-segment lifecycle and the vector codec.
//
// The host engine creates a WriteState when flushing a segment and a
// ReadState when opening one; the codec consumes them without taking
// ownership of the Directory.
package segment

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/RKSPD/lucene-jvector/store"
)

// Similarity identifies the scoring function a vector field is indexed for.
type Similarity int

const (
	// SimilarityEuclidean scores by squared L2 distance.
	SimilarityEuclidean Similarity = iota
	// SimilarityDotProduct scores by maximum inner product.
	SimilarityDotProduct
	// SimilarityCosine scores by cosine similarity.
	SimilarityCosine
)

func (s Similarity) String() string {
	switch s {
	case SimilarityEuclidean:
		return "euclidean"
	case SimilarityDotProduct:
		return "dot_product"
	case SimilarityCosine:
		return "cosine"
	default:
		return fmt.Sprintf("similarity(%d)", int(s))
	}
}

// FieldInfo describes one vector field of a segment.
type FieldInfo struct {
	// Number is the host engine's stable field number.
	Number int
	// Name is the field name.
	Name string
	// Dimension is the vector dimensionality of the field.
	Dimension int
	// Similarity is the scoring function the field is indexed for.
	Similarity Similarity
}

// VectorValues provides ordinal-addressed access to the float32 vectors
// of one field. Ordinals are dense in [0, Count).
type VectorValues interface {
	// Dimension returns the vector dimensionality.
	Dimension() int
	// Count returns the number of vectors.
	Count() int
	// Vector returns the vector at the given ordinal. The returned
	// slice is only valid until the next call.
	Vector(ord int) ([]float32, error)
	// DocID maps an ordinal to the host engine's document ID.
	DocID(ord int) int
}

// SliceVectorValues is a VectorValues over in-memory slices. DocIDs
// default to the ordinals when Docs is nil.
type SliceVectorValues struct {
	Dim     int
	Vectors [][]float32
	Docs    []int
}

func (v *SliceVectorValues) Dimension() int { return v.Dim }

func (v *SliceVectorValues) Count() int { return len(v.Vectors) }

func (v *SliceVectorValues) Vector(ord int) ([]float32, error) {
	if ord < 0 || ord >= len(v.Vectors) {
		return nil, fmt.Errorf("ordinal %d out of range [0, %d)", ord, len(v.Vectors))
	}
	return v.Vectors[ord], nil
}

func (v *SliceVectorValues) DocID(ord int) int {
	if v.Docs == nil {
		return ord
	}
	return v.Docs[ord]
}

// WriteState is handed to the codec when the host engine flushes a
// segment's vector fields.
type WriteState struct {
	// Dir is where the codec creates the segment's files.
	Dir store.Directory
	// SegmentName is the host engine's name for the segment.
	SegmentName string
	// SegmentSuffix distinguishes multiple codecs within one segment.
	SegmentSuffix string
	// FieldInfos lists the vector fields the codec will receive.
	FieldInfos []FieldInfo
}

// ReadState is handed to the codec when the host engine opens a segment.
type ReadState struct {
	Dir           store.Directory
	SegmentName   string
	SegmentSuffix string
	FieldInfos    []FieldInfo
}

// MergeSource is one input segment of a merge: its vectors plus the set
// of ordinals deleted since the segment was written.
type MergeSource struct {
	Values VectorValues
	// Deleted marks ordinals to drop during the merge. Nil means no
	// deletions.
	Deleted *roaring.Bitmap
}

// LiveCount returns the number of ordinals surviving the merge.
func (s *MergeSource) LiveCount() int {
	n := s.Values.Count()
	if s.Deleted == nil {
		return n
	}
	return n - int(s.Deleted.GetCardinality())
}

// MergeState describes a merge of several segments' vectors for one field.
type MergeState struct {
	Field   FieldInfo
	Sources []MergeSource
}
