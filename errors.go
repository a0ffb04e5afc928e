package jvector

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyFlushed is returned when adding vectors to a Writer
	// whose files have already been written.
	ErrAlreadyFlushed = errors.New("writer already flushed")

	// ErrFieldNotFound is returned when a Reader is asked for a field
	// the segment does not contain.
	ErrFieldNotFound = errors.New("vector field not found")

	// ErrCorrupted indicates a segment file that fails structural or
	// checksum validation.
	ErrCorrupted = errors.New("corrupted segment file")
)

// ConfigError indicates an invalid construction parameter. Configuration
// is validated when the Format is built; an invalid parameter never
// reaches write or read time.
type ConfigError struct {
	Param  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Param, e.Reason)
}

// DimensionError indicates a vector field whose dimensionality exceeds
// the format's maximum. The field is rejected before any write proceeds.
type DimensionError struct {
	Field     string
	Dimension int
	Max       int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("field %q has dimension %d, exceeding the maximum of %d", e.Field, e.Dimension, e.Max)
}

// VersionError indicates a persisted format version newer than this
// code understands. The reader fails rather than attempt best-effort
// decoding.
type VersionError struct {
	File      string
	Persisted int
	Supported int
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("%s: persisted format version %d exceeds supported version %d", e.File, e.Persisted, e.Supported)
}
