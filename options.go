package jvector

// Option configures a Format under construction. A single constructor
// with named defaults replaces a combinatorial set of overloads; every
// override combination stays expressible.
type Option func(*Format)

// WithName overrides the registered format name. The name must match
// the identity the format is registered under, or the host engine will
// not locate it on read.
func WithName(name string) Option {
	return func(f *Format) { f.name = name }
}

// WithMaxConn sets the upper bound on graph out-degree per node.
// Larger values improve recall at higher memory and build cost.
func WithMaxConn(maxConn int) Option {
	return func(f *Format) { f.maxConn = maxConn }
}

// WithBeamWidth sets the search list size during graph construction,
// trading build time for graph quality.
func WithBeamWidth(beamWidth int) Option {
	return func(f *Format) { f.beamWidth = beamWidth }
}

// WithAlpha sets the pruning aggressiveness for edge selection during
// construction.
func WithAlpha(alpha float32) Option {
	return func(f *Format) { f.alpha = alpha }
}

// WithNeighborOverflow sets the allowed temporary over-provisioning of
// candidate neighbors before pruning. Must be at least 1.0.
func WithNeighborOverflow(overflow float32) Option {
	return func(f *Format) { f.neighborOverflow = overflow }
}

// WithMinBatchSizeForQuantization sets the vector count a field must
// reach before quantization activates; smaller fields are stored raw.
func WithMinBatchSizeForQuantization(n int) Option {
	return func(f *Format) { f.minBatchSizeForQuantization = n }
}

// WithMergeOnDisk controls whether merge-time graph construction
// streams vectors through disk buffers rather than holding the full
// input in memory.
func WithMergeOnDisk(onDisk bool) Option {
	return func(f *Format) { f.mergeOnDisk = onDisk }
}

// WithSizer overrides the compression sizing heuristic. The heuristic
// must be deterministic and safe for concurrent calls; it is stored
// opaquely and consulted only through its single operation.
func WithSizer(s Sizer) Option {
	return func(f *Format) { f.sizer = s }
}

// WithCompression sets the block compression applied to the raw vector
// section of the data file.
func WithCompression(c Compression) Option {
	return func(f *Format) { f.compression = c }
}

// WithLogger sets the structured logger for build and open milestones.
func WithLogger(l *Logger) Option {
	return func(f *Format) { f.logger = l }
}
