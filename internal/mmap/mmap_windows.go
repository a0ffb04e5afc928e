//go:build windows

package mmap

import (
	"io"
	"os"
)

// On Windows we fall back to reading the file into memory. Segment files
// are immutable, so the semantics are identical to a shared read-only map.
func osMap(f *os.File, size int) ([]byte, func([]byte) error, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, nil, err
	}
	return data, func([]byte) error { return nil }, nil
}
