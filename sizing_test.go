package jvector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSizerBoundaries(t *testing.T) {
	tests := []struct {
		dim  int
		want int
	}{
		{1, 1},
		{25, 25},
		{32, 32},
		{33, 32},
		{50, 32},
		{64, 32},
		{65, 32},  // trunc(65 * 0.5)
		{100, 50},
		{200, 100},
		{201, 100},
		{256, 100},
		{400, 100},
		{401, 64},
		{768, 64},
		{769, 192},
		{1536, 192},
		{1537, 192}, // trunc(1537 * 0.125)
		{2048, 256},
		{8192, 1024},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultSizer.CompressedBytes(tt.dim), "dimension %d", tt.dim)
	}
}

func TestDefaultSizerNeverExpands(t *testing.T) {
	for d := 1; d <= 8192; d++ {
		b := DefaultSizer.CompressedBytes(d)
		require.Positive(t, b, "dimension %d", d)
		require.LessOrEqual(t, b, 4*d, "dimension %d budget exceeds raw float size", d)
	}
}

func TestSizerFunc(t *testing.T) {
	s := SizerFunc(func(dim int) int { return dim / 2 })
	assert.Equal(t, 64, s.CompressedBytes(128))
}
