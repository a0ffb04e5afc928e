package quantization

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RKSPD/lucene-jvector/internal/vecmath"
)

func trainingVectors(t *testing.T, n, dim int) [][]float32 {
	t.Helper()
	rng := rand.New(rand.NewSource(13))
	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()
		}
		vectors[i] = v
	}
	return vectors
}

func TestNewValidation(t *testing.T) {
	_, err := New(0, 1)
	assert.Error(t, err)
	_, err = New(8, 0)
	assert.Error(t, err)
	_, err = New(8, 9)
	assert.Error(t, err, "subspace count cannot exceed dimension")
	_, err = New(8, 8)
	assert.NoError(t, err)
}

func TestUnevenSubspaceSplit(t *testing.T) {
	// 10 dimensions over 3 subspaces: widths 4, 3, 3.
	pq, err := New(10, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 3, 3}, pq.subDims)
	assert.Equal(t, []int{0, 4, 7}, pq.subOffsets)
	assert.Equal(t, 10, pq.Dimension())
	assert.Equal(t, 3, pq.NumSubspaces())
}

func TestUntrainedOperationsFail(t *testing.T) {
	pq, err := New(8, 2)
	require.NoError(t, err)
	assert.False(t, pq.Trained())

	v := make([]float32, 8)
	assert.Error(t, pq.Encode(v, make([]byte, 2)))
	_, err = pq.Decode(make([]byte, 2))
	assert.Error(t, err)
	_, err = pq.BuildTable(v, vecmath.SquaredL2)
	assert.Error(t, err)
}

func TestTrainValidation(t *testing.T) {
	pq, err := New(8, 2)
	require.NoError(t, err)

	assert.Error(t, pq.Train(nil))
	assert.Error(t, pq.Train([][]float32{make([]float32, 7)}))
}

func TestEncodeDecodeErrorBound(t *testing.T) {
	const dim = 16
	vectors := trainingVectors(t, 2000, dim)

	pq, err := New(dim, 8)
	require.NoError(t, err)
	require.NoError(t, pq.Train(vectors))
	require.True(t, pq.Trained())

	// Quantization is lossy but the reconstruction must stay close to
	// the original relative to the data spread.
	var totalErr float32
	code := make([]byte, pq.NumSubspaces())
	for _, v := range vectors[:200] {
		require.NoError(t, pq.Encode(v, code))
		dec, err := pq.Decode(code)
		require.NoError(t, err)
		require.Len(t, dec, dim)
		totalErr += vecmath.SquaredL2(v, dec)
	}
	mean := totalErr / 200
	assert.Less(t, mean, float32(0.5), "mean reconstruction error too high")
}

func TestEncodeArgumentChecks(t *testing.T) {
	pq, err := New(8, 2)
	require.NoError(t, err)
	require.NoError(t, pq.Train(trainingVectors(t, 300, 8)))

	assert.Error(t, pq.Encode(make([]float32, 7), make([]byte, 2)))
	assert.Error(t, pq.Encode(make([]float32, 8), make([]byte, 3)))
	_, err = pq.Decode(make([]byte, 1))
	assert.Error(t, err)
	_, err = pq.BuildTable(make([]float32, 7), vecmath.SquaredL2)
	assert.Error(t, err)
}

func TestScoreMatchesDecodedDistance(t *testing.T) {
	const dim = 12
	vectors := trainingVectors(t, 1000, dim)

	pq, err := New(dim, 4)
	require.NoError(t, err)
	require.NoError(t, pq.Train(vectors))

	query := vectors[0]
	table, err := pq.BuildTable(query, vecmath.SquaredL2)
	require.NoError(t, err)
	require.Len(t, table, 4*NumCentroids)

	// With squared L2 the table score equals the exact distance between
	// the query and the decoded vector, since subspaces are disjoint.
	code := make([]byte, 4)
	for _, v := range vectors[100:120] {
		require.NoError(t, pq.Encode(v, code))
		dec, err := pq.Decode(code)
		require.NoError(t, err)
		assert.InDelta(t, float64(vecmath.SquaredL2(query, dec)), float64(pq.Score(table, code)), 1e-3)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	const dim = 10
	vectors := trainingVectors(t, 800, dim)

	pq, err := New(dim, 3)
	require.NoError(t, err)
	require.NoError(t, pq.Train(vectors))

	data := pq.AppendCodebooks(nil)
	require.Len(t, data, pq.CodebookBytes())

	loaded, err := Load(dim, 3, data)
	require.NoError(t, err)
	require.True(t, loaded.Trained())

	code := make([]byte, 3)
	loadedCode := make([]byte, 3)
	for _, v := range vectors[:50] {
		require.NoError(t, pq.Encode(v, code))
		require.NoError(t, loaded.Encode(v, loadedCode))
		assert.Equal(t, code, loadedCode)
	}
}

func TestLoadValidation(t *testing.T) {
	_, err := Load(8, 2, make([]byte, 8))
	assert.Error(t, err, "truncated codebook data")
	_, err = Load(0, 2, nil)
	assert.Error(t, err)
}
