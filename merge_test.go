package jvector

import (
	"strings"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RKSPD/lucene-jvector/segment"
	"github.com/RKSPD/lucene-jvector/store"
)

func TestMergeWithDeletions(t *testing.T) {
	for _, tc := range []struct {
		name        string
		mergeOnDisk bool
	}{
		{"on disk", true},
		{"in memory", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dir := store.NewMemDirectory()

			f, err := New(
				WithMaxConn(8),
				WithBeamWidth(16),
				WithMergeOnDisk(tc.mergeOnDisk),
			)
			require.NoError(t, err)

			fi := segment.FieldInfo{Number: 0, Name: "vec", Dimension: 8}
			first := randomVectors(t, 20, 8)
			second := randomVectors(t, 12, 8)
			writeSegment(t, f, dir, "_0", fi, first)
			writeSegment(t, f, dir, "_1", fi, second)

			r0, err := f.FieldsReader(&segment.ReadState{Dir: dir, SegmentName: "_0"})
			require.NoError(t, err)
			defer r0.Close()
			r1, err := f.FieldsReader(&segment.ReadState{Dir: dir, SegmentName: "_1"})
			require.NoError(t, err)
			defer r1.Close()

			fr0, err := r0.Field("vec")
			require.NoError(t, err)
			fr1, err := r1.Field("vec")
			require.NoError(t, err)

			// Delete three ordinals from the first segment.
			deleted := roaring.New()
			deleted.AddMany([]uint32{2, 7, 13})

			w, err := f.FieldsWriter(&segment.WriteState{Dir: dir, SegmentName: "_2"})
			require.NoError(t, err)

			ms := &segment.MergeState{
				Field: fi,
				Sources: []segment.MergeSource{
					{Values: fr0, Deleted: deleted},
					{Values: fr1},
				},
			}
			assert.Equal(t, 17, ms.Sources[0].LiveCount())
			assert.Equal(t, 12, ms.Sources[1].LiveCount())

			require.NoError(t, w.MergeField(ms))
			require.NoError(t, w.Flush())
			require.NoError(t, w.Close())

			// Scratch files are cleaned up by Close.
			names, err := dir.ListAll()
			require.NoError(t, err)
			for _, name := range names {
				assert.False(t, strings.HasSuffix(name, ".tmp"), "leftover scratch file %s", name)
			}

			merged, err := f.FieldsReader(&segment.ReadState{Dir: dir, SegmentName: "_2"})
			require.NoError(t, err)
			defer merged.Close()
			assert.Equal(t, tc.mergeOnDisk, merged.MergeOnDisk())

			fr, err := merged.Field("vec")
			require.NoError(t, err)
			require.Equal(t, 29, fr.Count())

			// Live vectors appear in source order with deleted ordinals
			// compacted out.
			want := make([][]float32, 0, 29)
			for ord, v := range first {
				if !deleted.Contains(uint32(ord)) {
					want = append(want, v)
				}
			}
			want = append(want, second...)
			for ord, wv := range want {
				got, err := fr.Vector(ord)
				require.NoError(t, err)
				assert.Equal(t, wv, got, "merged vector %d", ord)
				assert.Equal(t, ord, fr.DocID(ord))
			}

			// Deleted vectors are gone.
			results, err := fr.Search(first[7], 1)
			require.NoError(t, err)
			require.NotEmpty(t, results)
			assert.Positive(t, results[0].Distance, "deleted vector should not be findable at distance zero")
		})
	}
}

func TestMergedSegmentIsSearchable(t *testing.T) {
	dir := store.NewMemDirectory()

	f, err := New(WithMaxConn(8), WithBeamWidth(32))
	require.NoError(t, err)

	fi := segment.FieldInfo{Number: 0, Name: "vec", Dimension: 8}
	vectors := randomVectors(t, 30, 8)
	writeSegment(t, f, dir, "_0", fi, vectors)

	r, err := f.FieldsReader(&segment.ReadState{Dir: dir, SegmentName: "_0"})
	require.NoError(t, err)
	defer r.Close()
	fr, err := r.Field("vec")
	require.NoError(t, err)

	w, err := f.FieldsWriter(&segment.WriteState{Dir: dir, SegmentName: "_1"})
	require.NoError(t, err)
	require.NoError(t, w.MergeField(&segment.MergeState{
		Field:   fi,
		Sources: []segment.MergeSource{{Values: fr}},
	}))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	merged, err := f.FieldsReader(&segment.ReadState{Dir: dir, SegmentName: "_1"})
	require.NoError(t, err)
	defer merged.Close()

	mfr, err := merged.Field("vec")
	require.NoError(t, err)
	results, err := mfr.Search(vectors[11], 1)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, 11, results[0].Doc)
}
