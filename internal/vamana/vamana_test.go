package vamana

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RKSPD/lucene-jvector/internal/vecmath"
)

func testVectors(t *testing.T, n, dim int) [][]float32 {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
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

func TestBuildValidation(t *testing.T) {
	vectors := testVectors(t, 4, 2)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero max degree", Config{MaxDegree: 0, BeamWidth: 10, Alpha: 1.2, NeighborOverflow: 1.5}},
		{"zero beam width", Config{MaxDegree: 8, BeamWidth: 0, Alpha: 1.2, NeighborOverflow: 1.5}},
		{"negative alpha", Config{MaxDegree: 8, BeamWidth: 10, Alpha: -1, NeighborOverflow: 1.5}},
		{"overflow below one", Config{MaxDegree: 8, BeamWidth: 10, Alpha: 1.2, NeighborOverflow: 0.5}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(vectors, vecmath.SquaredL2, tc.cfg)
			assert.Error(t, err)
		})
	}

	t.Run("no vectors", func(t *testing.T) {
		_, err := Build(nil, vecmath.SquaredL2, Config{MaxDegree: 8, BeamWidth: 10, Alpha: 1.2, NeighborOverflow: 1.5})
		assert.Error(t, err)
	})
}

func TestBuildDegreeBound(t *testing.T) {
	cfg := Config{MaxDegree: 6, BeamWidth: 20, Alpha: 1.2, NeighborOverflow: 1.5}
	g, err := Build(testVectors(t, 200, 8), vecmath.SquaredL2, cfg)
	require.NoError(t, err)

	require.Len(t, g.Neighbors, 200)
	require.Less(t, int(g.EntryPoint), 200)
	for i, edges := range g.Neighbors {
		assert.LessOrEqual(t, len(edges), cfg.MaxDegree, "node %d over degree bound", i)
		for _, n := range edges {
			assert.NotEqual(t, uint32(i), n, "node %d has a self edge", i)
			assert.Less(t, int(n), 200)
		}
	}
}

func TestBuildSingleVector(t *testing.T) {
	g, err := Build(testVectors(t, 1, 4), vecmath.SquaredL2, Config{MaxDegree: 8, BeamWidth: 10, Alpha: 1.2, NeighborOverflow: 1.5})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), g.EntryPoint)
	assert.Empty(t, g.Neighbors[0])
}

func TestSearchFindsNearestNeighbors(t *testing.T) {
	vectors := testVectors(t, 500, 8)
	cfg := Config{MaxDegree: 16, BeamWidth: 64, Alpha: 1.2, NeighborOverflow: 1.5}
	g, err := Build(vectors, vecmath.SquaredL2, cfg)
	require.NoError(t, err)

	// Every indexed vector should find itself first.
	hits := 0
	for i := 0; i < 50; i++ {
		query := vectors[i*10]
		got := Search(g.EntryPoint, cfg.BeamWidth, 1,
			func(id uint32) []uint32 { return g.Neighbors[id] },
			func(id uint32) float32 { return vecmath.SquaredL2(vectors[id], query) },
		)
		require.Len(t, got, 1)
		if got[0] == uint32(i*10) {
			hits++
		}
	}
	assert.GreaterOrEqual(t, hits, 48, "self-search recall too low")
}

func TestSearchBeamAtLeastK(t *testing.T) {
	vectors := testVectors(t, 100, 4)
	g, err := Build(vectors, vecmath.SquaredL2, Config{MaxDegree: 8, BeamWidth: 16, Alpha: 1.2, NeighborOverflow: 1.5})
	require.NoError(t, err)

	// k larger than the beam width widens the beam instead of truncating.
	got := Search(g.EntryPoint, 1, 20,
		func(id uint32) []uint32 { return g.Neighbors[id] },
		func(id uint32) float32 { return vecmath.SquaredL2(vectors[id], vectors[0]) },
	)
	assert.Len(t, got, 20)
	for i := 1; i < len(got); i++ {
		di := vecmath.SquaredL2(vectors[got[i-1]], vectors[0])
		dj := vecmath.SquaredL2(vectors[got[i]], vectors[0])
		assert.LessOrEqual(t, di, dj, "results not sorted by distance")
	}
}
