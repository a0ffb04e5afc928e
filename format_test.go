package jvector

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RKSPD/lucene-jvector/segment"
	"github.com/RKSPD/lucene-jvector/store"
)

func TestNewDefaults(t *testing.T) {
	f, err := New()
	require.NoError(t, err)

	assert.Equal(t, FormatName, f.Name())
	assert.Equal(t, 32, f.MaxConn())
	assert.Equal(t, 100, f.BeamWidth())
	assert.Equal(t, float32(2.0), f.Alpha())
	assert.Equal(t, float32(2.0), f.NeighborOverflow())
	assert.Equal(t, 1024, f.MinBatchSizeForQuantization())
	assert.True(t, f.MergeOnDisk())
	require.NotNil(t, f.Sizer())
	assert.Equal(t, DefaultSizer.CompressedBytes(768), f.Sizer().CompressedBytes(768))
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name  string
		opt   Option
		param string
	}{
		{"zero max conn", WithMaxConn(0), "maxConn"},
		{"negative max conn", WithMaxConn(-3), "maxConn"},
		{"zero beam width", WithBeamWidth(0), "beamWidth"},
		{"zero alpha", WithAlpha(0), "alpha"},
		{"negative alpha", WithAlpha(-1.5), "alpha"},
		{"overflow below one", WithNeighborOverflow(0.5), "neighborOverflow"},
		{"negative min batch", WithMinBatchSizeForQuantization(-1), "minBatchSizeForQuantization"},
		{"nil sizer", WithSizer(nil), "sizer"},
		{"empty name", WithName(""), "name"},
		{"unknown compression", WithCompression(Compression(42)), "compression"},
		{"nil logger", WithLogger(nil), "logger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.opt)
			require.Error(t, err)
			assert.Nil(t, f)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.param, cfgErr.Param)
		})
	}
}

func TestMaxDimensionsFieldIndependent(t *testing.T) {
	f, err := New()
	require.NoError(t, err)

	for _, field := range []string{"", "embedding", "title_vec", "anything at all"} {
		assert.Equal(t, 8192, f.MaxDimensions(field))
	}
}

func TestIdentityConstantsStable(t *testing.T) {
	assert.Equal(t, "JVectorFormat", FormatName)
	assert.Equal(t, "meta-jvector", MetaExtension)
	assert.Equal(t, "data-jvector", VectorIndexExtension)
	assert.Equal(t, 0, VersionStart)
	assert.Equal(t, VersionStart, VersionCurrent)

	// Repeated construction never perturbs identity.
	for i := 0; i < 3; i++ {
		f, err := New(WithMaxConn(16 + i))
		require.NoError(t, err)
		assert.Equal(t, FormatName, f.Name())
	}
}

// recordingSizer wraps a Sizer and records the budgets it hands out.
type recordingSizer struct {
	mu      sync.Mutex
	inner   Sizer
	budgets []int
}

func (rs *recordingSizer) CompressedBytes(dim int) int {
	b := rs.inner.CompressedBytes(dim)
	rs.mu.Lock()
	rs.budgets = append(rs.budgets, b)
	rs.mu.Unlock()
	return b
}

func TestIdenticalFormatsRequestIdenticalBudgets(t *testing.T) {
	vectors := randomVectors(t, 48, 40)

	run := func() []int {
		rs := &recordingSizer{inner: DefaultSizer}
		f, err := New(
			WithMaxConn(8),
			WithBeamWidth(16),
			WithMinBatchSizeForQuantization(10),
			WithSizer(rs),
		)
		require.NoError(t, err)

		dir := store.NewMemDirectory()
		state := &segment.WriteState{Dir: dir, SegmentName: "_0"}
		w, err := f.FieldsWriter(state)
		require.NoError(t, err)
		defer w.Close()

		fi := segment.FieldInfo{Number: 0, Name: "vec", Dimension: 40}
		require.NoError(t, w.WriteField(fi, &segment.SliceVectorValues{Dim: 40, Vectors: vectors}))
		require.NoError(t, w.Flush())
		return rs.budgets
	}

	first := run()
	second := run()
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}
