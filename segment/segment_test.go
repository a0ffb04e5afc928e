package segment

import (
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarityString(t *testing.T) {
	assert.Equal(t, "euclidean", SimilarityEuclidean.String())
	assert.Equal(t, "dot_product", SimilarityDotProduct.String())
	assert.Equal(t, "cosine", SimilarityCosine.String())
	assert.Equal(t, "similarity(42)", Similarity(42).String())
}

func TestSliceVectorValues(t *testing.T) {
	v := &SliceVectorValues{
		Dim:     2,
		Vectors: [][]float32{{1, 2}, {3, 4}, {5, 6}},
	}
	assert.Equal(t, 2, v.Dimension())
	assert.Equal(t, 3, v.Count())

	got, err := v.Vector(1)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, got)
	assert.Equal(t, 1, v.DocID(1))

	_, err = v.Vector(3)
	assert.Error(t, err)
	_, err = v.Vector(-1)
	assert.Error(t, err)
}

func TestSliceVectorValuesExplicitDocs(t *testing.T) {
	v := &SliceVectorValues{
		Dim:     1,
		Vectors: [][]float32{{0}, {1}},
		Docs:    []int{10, 20},
	}
	assert.Equal(t, 10, v.DocID(0))
	assert.Equal(t, 20, v.DocID(1))
}

func TestMergeSourceLiveCount(t *testing.T) {
	values := &SliceVectorValues{Dim: 1, Vectors: [][]float32{{0}, {1}, {2}, {3}}}

	s := MergeSource{Values: values}
	assert.Equal(t, 4, s.LiveCount())

	deleted := roaring.New()
	deleted.AddMany([]uint32{1, 3})
	s = MergeSource{Values: values, Deleted: deleted}
	assert.Equal(t, 2, s.LiveCount())
}
