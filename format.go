// Package jvector implements a per-segment vector index format: graph
// construction and quantization parameters, a dimension-to-byte-budget
// sizing heuristic, and the writer/reader handoff the host engine's
// segment lifecycle drives.
package jvector

import (
	"github.com/RKSPD/lucene-jvector/segment"
)

// Format identity. These are stable across releases that stay
// backward-read-compatible; bumping the version signals an incompatible
// on-disk layout change.
const (
	// FormatName is the registered name of the format.
	FormatName = "JVectorFormat"
	// MetaCodecName identifies the meta file codec.
	MetaCodecName = "JVectorVectorsFormatMeta"
	// IndexCodecName identifies the vector index file codec.
	IndexCodecName = "JVectorVectorsFormatIndex"

	filesSuffix = "jvector"
	// MetaExtension is the extension of the per-segment meta file.
	MetaExtension = "meta-" + filesSuffix
	// VectorIndexExtension is the extension of the per-segment data file.
	VectorIndexExtension = "data-" + filesSuffix

	// VersionStart is the first on-disk version.
	VersionStart = 0
	// VersionCurrent is the version written by this code.
	VersionCurrent = VersionStart
)

// maxDimensions is the largest vector dimensionality the format accepts.
const maxDimensions = 8192

// Defaults used by New when no override is supplied.
const (
	DefaultMaxConn                     = 32
	DefaultBeamWidth                   = 100
	DefaultAlpha                       = float32(2.0)
	DefaultNeighborOverflow            = float32(2.0)
	DefaultMinBatchSizeForQuantization = 1024
	DefaultMergeOnDisk                 = true
)

// Format is the immutable configuration of the vector index format and
// the factory for per-segment writer and reader handles.
//
// A Format is constructed once, validated eagerly, and never mutated;
// it is safe for unsynchronized use from any number of parallel
// segment-building goroutines.
type Format struct {
	name                        string
	maxConn                     int
	beamWidth                   int
	alpha                       float32
	neighborOverflow            float32
	minBatchSizeForQuantization int
	mergeOnDisk                 bool
	sizer                       Sizer
	compression                 Compression
	logger                      *Logger
}

// New builds a Format from the defaults and the given overrides.
// Validation happens here, not at use time: an invalid parameter returns
// a ConfigError and no Format.
func New(opts ...Option) (*Format, error) {
	f := &Format{
		name:                        FormatName,
		maxConn:                     DefaultMaxConn,
		beamWidth:                   DefaultBeamWidth,
		alpha:                       DefaultAlpha,
		neighborOverflow:            DefaultNeighborOverflow,
		minBatchSizeForQuantization: DefaultMinBatchSizeForQuantization,
		mergeOnDisk:                 DefaultMergeOnDisk,
		sizer:                       DefaultSizer,
		compression:                 CompressionNone,
		logger:                      NoopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Format) validate() error {
	if f.name == "" {
		return &ConfigError{Param: "name", Reason: "must not be empty"}
	}
	if f.maxConn <= 0 {
		return &ConfigError{Param: "maxConn", Reason: "must be positive"}
	}
	if f.beamWidth <= 0 {
		return &ConfigError{Param: "beamWidth", Reason: "must be positive"}
	}
	if f.alpha <= 0 {
		return &ConfigError{Param: "alpha", Reason: "must be positive"}
	}
	if f.neighborOverflow < 1 {
		return &ConfigError{Param: "neighborOverflow", Reason: "must be >= 1.0"}
	}
	if f.minBatchSizeForQuantization < 0 {
		return &ConfigError{Param: "minBatchSizeForQuantization", Reason: "must not be negative"}
	}
	if f.sizer == nil {
		return &ConfigError{Param: "sizer", Reason: "must not be nil"}
	}
	switch f.compression {
	case CompressionNone, CompressionLZ4, CompressionZSTD:
	default:
		return &ConfigError{Param: "compression", Reason: "unknown compression type"}
	}
	if f.logger == nil {
		return &ConfigError{Param: "logger", Reason: "must not be nil"}
	}
	return nil
}

// Name returns the registered format name.
func (f *Format) Name() string { return f.name }

// MaxConn returns the out-degree bound per graph node.
func (f *Format) MaxConn() int { return f.maxConn }

// BeamWidth returns the construction search list size.
func (f *Format) BeamWidth() int { return f.beamWidth }

// Alpha returns the pruning aggressiveness parameter.
func (f *Format) Alpha() float32 { return f.alpha }

// NeighborOverflow returns the temporary neighbor over-provisioning factor.
func (f *Format) NeighborOverflow() float32 { return f.neighborOverflow }

// MinBatchSizeForQuantization returns the vector count below which a
// field is stored uncompressed.
func (f *Format) MinBatchSizeForQuantization() int { return f.minBatchSizeForQuantization }

// MergeOnDisk reports whether merge-time graph construction streams
// vectors through disk buffers instead of holding them in memory.
func (f *Format) MergeOnDisk() bool { return f.mergeOnDisk }

// Sizer returns the compression sizing heuristic in effect.
func (f *Format) Sizer() Sizer { return f.sizer }

// MaxDimensions returns the maximum supported vector dimensionality.
// The field name is accepted for extensibility; the current policy is
// field-independent.
func (f *Format) MaxDimensions(_ string) int { return maxDimensions }

// FieldsWriter creates a Writer bound to the segment's write state and
// this configuration. The Writer is owned by the host's segment
// lifecycle: created at flush, discarded after Close.
func (f *Format) FieldsWriter(state *segment.WriteState) (*Writer, error) {
	return newWriter(f, state)
}

// FieldsReader opens the segment's vector index for querying. It fails
// with a VersionError if the persisted format version is newer than
// VersionCurrent, and with an I/O error on missing or corrupt files.
func (f *Format) FieldsReader(state *segment.ReadState) (*Reader, error) {
	return openReader(f, state)
}

// segmentFileName composes a per-segment file name the way the host
// engine expects: name[_suffix].extension.
func segmentFileName(name, suffix, ext string) string {
	if suffix == "" {
		return name + "." + ext
	}
	return name + "_" + suffix + "." + ext
}
