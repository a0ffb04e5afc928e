// Package store abstracts the directory in which segment files live.
//
// The host engine owns the segment lifecycle; this package only provides
// the handle types the codec needs: named immutable outputs written once
// at segment flush, and random-access inputs opened at segment read.
package store

import (
	"io"
	"os"
)

// ErrNotFound is returned when a named file does not exist.
//
// Implementations should return an error that satisfies
// errors.Is(err, ErrNotFound). The default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// Directory is a flat namespace of immutable segment files.
type Directory interface {
	// CreateOutput creates a new file for writing. The file becomes
	// readable once the Output is closed.
	CreateOutput(name string) (Output, error)

	// OpenInput opens an existing file for random-access reads.
	OpenInput(name string) (Input, error)

	// DeleteFile removes a file. Deleting a missing file is an error.
	DeleteFile(name string) error

	// ListAll returns the names of all files in the directory.
	ListAll() ([]string, error)
}

// Input is a read-only handle to a segment file.
type Input interface {
	io.ReaderAt
	io.Closer
	// Size returns the file size in bytes.
	Size() int64
}

// Output is a write-once handle to a new segment file.
type Output interface {
	io.Writer
	io.Closer
}

// Mappable is an optional interface for Inputs backed by a memory map.
type Mappable interface {
	// Bytes returns the underlying byte slice without copying.
	// The slice is valid until the Input is closed.
	Bytes() ([]byte, error)
}

// ReadAll reads the full contents of an Input, using the zero-copy path
// when the implementation supports it. The returned slice must be
// treated as read-only and may alias the Input's mapping.
func ReadAll(in Input) ([]byte, error) {
	if m, ok := in.(Mappable); ok {
		return m.Bytes()
	}
	data := make([]byte, in.Size())
	if _, err := in.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return data, nil
}
