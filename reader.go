package jvector

import (
	"encoding/binary"
	"fmt"
	"sort"
	"unsafe"

	"github.com/RKSPD/lucene-jvector/internal/quantization"
	"github.com/RKSPD/lucene-jvector/internal/vamana"
	"github.com/RKSPD/lucene-jvector/internal/vecmath"
	"github.com/RKSPD/lucene-jvector/segment"
	"github.com/RKSPD/lucene-jvector/store"
)

// Reader provides query access to the vector index of one segment. It
// validates the persisted format version at open and fails on anything
// newer than VersionCurrent rather than attempt best-effort decoding.
//
// A Reader is safe for concurrent searches once opened.
type Reader struct {
	format      *Format
	mergeOnDisk bool

	persistedName string
	dataFile      string
	dataIn        store.Input
	data          []byte

	fields     map[string]*FieldReader
	fieldOrder []string
}

// FieldReader is the per-field view of a segment's vector index.
type FieldReader struct {
	meta      *fieldMeta
	docIDs    []uint32
	vectors   []float32 // flat, count*dimension
	pq        *quantization.ProductQuantizer
	codes     []byte
	neighbors [][]uint32

	searchBeam int
}

func openReader(f *Format, state *segment.ReadState) (*Reader, error) {
	if state == nil || state.Dir == nil {
		return nil, fmt.Errorf("nil segment read state")
	}

	metas, persistedName, err := readMeta(f, state)
	if err != nil {
		return nil, err
	}

	dataFile := segmentFileName(state.SegmentName, state.SegmentSuffix, VectorIndexExtension)
	dataIn, err := state.Dir.OpenInput(dataFile)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dataFile, err)
	}
	data, err := store.ReadAll(dataIn)
	if err != nil {
		dataIn.Close()
		return nil, fmt.Errorf("read %s: %w", dataFile, err)
	}
	// Verified at open, like the meta file: searches hand out views into
	// this data, so corruption has to surface here and not as a crash
	// mid-traversal.
	body, err := verifyChecksum(dataFile, data)
	if err != nil {
		dataIn.Close()
		return nil, err
	}

	c := &cursor{data: body, file: dataFile}
	if _, err := c.checkHeader(IndexCodecName, VersionCurrent); err != nil {
		dataIn.Close()
		return nil, err
	}

	r := &Reader{
		format:        f,
		mergeOnDisk:   f.mergeOnDisk,
		persistedName: persistedName,
		dataFile:      dataFile,
		dataIn:        dataIn,
		data:          data,
		fields:        make(map[string]*FieldReader, len(metas)),
	}
	for _, m := range metas {
		fr, err := r.openField(m)
		if err != nil {
			dataIn.Close()
			return nil, err
		}
		r.fields[m.name] = fr
		r.fieldOrder = append(r.fieldOrder, m.name)
	}

	f.logger.Info("opened vector index segment",
		"segment", state.SegmentName,
		"fields", len(metas),
		"merge_on_disk", r.mergeOnDisk,
	)
	return r, nil
}

// readMeta parses and checksum-verifies the segment's meta file.
func readMeta(f *Format, state *segment.ReadState) ([]*fieldMeta, string, error) {
	metaFile := segmentFileName(state.SegmentName, state.SegmentSuffix, MetaExtension)
	in, err := state.Dir.OpenInput(metaFile)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", metaFile, err)
	}
	defer in.Close()

	raw, err := store.ReadAll(in)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", metaFile, err)
	}
	body, err := verifyChecksum(metaFile, raw)
	if err != nil {
		return nil, "", err
	}

	c := &cursor{data: body, file: metaFile}
	if _, err := c.checkHeader(MetaCodecName, VersionCurrent); err != nil {
		return nil, "", err
	}
	persistedName, err := c.str("format name")
	if err != nil {
		return nil, "", err
	}
	numFields, err := c.uint32("field count")
	if err != nil {
		return nil, "", err
	}

	metas := make([]*fieldMeta, 0, numFields)
	for i := 0; i < int(numFields); i++ {
		m, err := parseFieldMeta(c)
		if err != nil {
			return nil, "", err
		}
		metas = append(metas, m)
	}
	return metas, persistedName, nil
}

func (r *Reader) section(m *fieldMeta, off, length uint64, what string) ([]byte, error) {
	// Checked separately so off+length cannot wrap around uint64.
	size := uint64(len(r.data))
	if off > size || length > size-off {
		return nil, fmt.Errorf("%w: %s: field %q %s section out of bounds", ErrCorrupted, r.dataFile, m.name, what)
	}
	return r.data[off : off+length], nil
}

func (r *Reader) openField(m *fieldMeta) (*FieldReader, error) {
	fr := &FieldReader{meta: m, searchBeam: r.format.beamWidth}

	docIDs, err := r.section(m, m.docIDsOff, m.docIDsLen, "doc IDs")
	if err != nil {
		return nil, err
	}
	fr.docIDs = uint32View(docIDs)

	vectors, err := r.section(m, m.vectorsOff, m.vectorsLen, "vectors")
	if err != nil {
		return nil, err
	}
	switch m.compression {
	case CompressionNone:
		fr.vectors = float32View(vectors)
	case CompressionLZ4, CompressionZSTD:
		flat, err := decompressVectors(r.dataFile, m, vectors)
		if err != nil {
			return nil, err
		}
		fr.vectors = flat
	default:
		return nil, fmt.Errorf("%w: %s: field %q has unknown compression type %d", ErrCorrupted, r.dataFile, m.name, m.compression)
	}
	if len(fr.vectors) < m.count*m.dimension {
		return nil, fmt.Errorf("%w: %s: field %q vector section too small", ErrCorrupted, r.dataFile, m.name)
	}

	if m.quantized {
		codebook, err := r.section(m, m.codebookOff, m.codebookLen, "codebooks")
		if err != nil {
			return nil, err
		}
		pq, err := quantization.Load(m.dimension, m.pqSubspaces, codebook)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: field %q: %v", ErrCorrupted, r.dataFile, m.name, err)
		}
		fr.pq = pq
		if fr.codes, err = r.section(m, m.codesOff, m.codesLen, "codes"); err != nil {
			return nil, err
		}
		if len(fr.codes) != m.count*m.pqSubspaces {
			return nil, fmt.Errorf("%w: %s: field %q code section has %d bytes, want %d",
				ErrCorrupted, r.dataFile, m.name, len(fr.codes), m.count*m.pqSubspaces)
		}
	}

	graph, err := r.section(m, m.graphOff, m.graphLen, "graph")
	if err != nil {
		return nil, err
	}
	if fr.neighbors, err = decodeGraph(r.dataFile, m, graph); err != nil {
		return nil, err
	}
	return fr, nil
}

// decodeGraph materializes per-node adjacency as views into the mapped
// graph section.
func decodeGraph(file string, m *fieldMeta, data []byte) ([][]uint32, error) {
	if m.count == 0 {
		return nil, nil
	}
	words := uint32View(data)
	neighbors := make([][]uint32, m.count)
	pos := 0
	for ord := 0; ord < m.count; ord++ {
		if pos >= len(words) {
			return nil, fmt.Errorf("%w: %s: field %q graph section truncated at node %d", ErrCorrupted, file, m.name, ord)
		}
		degree := int(words[pos])
		pos++
		if degree > m.maxDegree || pos+degree > len(words) {
			return nil, fmt.Errorf("%w: %s: field %q has invalid adjacency for node %d", ErrCorrupted, file, m.name, ord)
		}
		for _, n := range words[pos : pos+degree] {
			if int(n) >= m.count {
				return nil, fmt.Errorf("%w: %s: field %q node %d links to ordinal %d, have %d vectors",
					ErrCorrupted, file, m.name, ord, n, m.count)
			}
		}
		neighbors[ord] = words[pos : pos+degree]
		pos += degree
	}
	return neighbors, nil
}

func decompressVectors(file string, m *fieldMeta, data []byte) ([]float32, error) {
	c := &cursor{data: data, file: file}
	numBlocks, err := c.uint32("block count")
	if err != nil {
		return nil, err
	}
	// Skip the offset table; blocks are decoded sequentially here. The
	// table exists so a future reader can decode single blocks lazily.
	for i := 0; i < int(numBlocks); i++ {
		if _, err := c.uint64("block offset"); err != nil {
			return nil, err
		}
	}

	flat := make([]float32, 0, m.count*m.dimension)
	rest := data[c.pos:]
	for i := 0; i < int(numBlocks); i++ {
		block, n, err := decompressBlock(rest, m.compression)
		if err != nil {
			return nil, fmt.Errorf("%s: field %q block %d: %w", file, m.name, i, err)
		}
		flat = append(flat, float32View(block)...)
		rest = rest[n:]
	}
	return flat, nil
}

// FormatName returns the name the segment was written under. The host
// engine matches it against the registered format identity.
func (r *Reader) FormatName() string { return r.persistedName }

// MergeOnDisk reports the disk-merge policy this reader was opened
// with, so merge consumers know whether to expect disk-streamed or
// memory-resident index structures.
func (r *Reader) MergeOnDisk() bool { return r.mergeOnDisk }

// Fields returns the vector field names in the segment, in file order.
func (r *Reader) Fields() []string {
	out := make([]string, len(r.fieldOrder))
	copy(out, r.fieldOrder)
	return out
}

// Field returns the reader for one vector field.
func (r *Reader) Field(name string) (*FieldReader, error) {
	fr, ok := r.fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFieldNotFound, name)
	}
	return fr, nil
}

// CheckIntegrity verifies the data file's checksum footer.
func (r *Reader) CheckIntegrity() error {
	_, err := verifyChecksum(r.dataFile, r.data)
	return err
}

// Close releases the underlying file handles.
func (r *Reader) Close() error {
	return r.dataIn.Close()
}

// Dimension returns the field's vector dimensionality.
func (fr *FieldReader) Dimension() int { return fr.meta.dimension }

// Count returns the number of vectors in the field.
func (fr *FieldReader) Count() int { return fr.meta.count }

// Quantized reports whether the field stores quantized codes.
func (fr *FieldReader) Quantized() bool { return fr.meta.quantized }

// BytesPerVector returns the quantized size per vector, or 0 for raw
// fields.
func (fr *FieldReader) BytesPerVector() int { return fr.meta.pqSubspaces }

// Similarity returns the scoring function the field was indexed for.
func (fr *FieldReader) Similarity() segment.Similarity { return fr.meta.similarity }

// Vector returns the full-precision vector at the given ordinal. The
// returned slice aliases the segment data and must not be modified.
func (fr *FieldReader) Vector(ord int) ([]float32, error) {
	if ord < 0 || ord >= fr.meta.count {
		return nil, fmt.Errorf("ordinal %d out of range [0, %d)", ord, fr.meta.count)
	}
	dim := fr.meta.dimension
	return fr.vectors[ord*dim : (ord+1)*dim], nil
}

// DocID maps an ordinal to its document ID.
func (fr *FieldReader) DocID(ord int) int { return int(fr.docIDs[ord]) }

var _ segment.VectorValues = (*FieldReader)(nil)

// Result is one search hit. Distance is in the field's similarity
// space; smaller means closer.
type Result struct {
	Doc      int
	Distance float32
}

// Search returns the approximate k nearest neighbors of query. The
// persisted graph is walked with the configured beam width; when the
// field is quantized the walk scores candidates against the codebooks
// and the final candidates are reranked with full-precision vectors.
func (fr *FieldReader) Search(query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(query) != fr.meta.dimension {
		return nil, fmt.Errorf("query has dimension %d, field %q has %d", len(query), fr.meta.name, fr.meta.dimension)
	}
	if fr.meta.count == 0 {
		return nil, nil
	}

	exact := distanceFor(fr.meta.similarity)
	distTo := func(ord uint32) float32 {
		dim := fr.meta.dimension
		return exact(query, fr.vectors[int(ord)*dim:(int(ord)+1)*dim])
	}

	fetch := k
	if fr.pq != nil {
		// The graph walk runs on quantized scores; overfetch so the
		// exact rerank has slack.
		fetch = k * 4
		table, err := fr.pq.BuildTable(query, tableDistanceFor(fr.meta.similarity))
		if err != nil {
			return nil, err
		}
		m := fr.meta.pqSubspaces
		distTo = func(ord uint32) float32 {
			return fr.pq.Score(table, fr.codes[int(ord)*m:(int(ord)+1)*m])
		}
	}

	candidates := vamana.Search(fr.meta.entryPoint, fr.searchBeam, fetch,
		func(ord uint32) []uint32 { return fr.neighbors[ord] },
		distTo,
	)

	results := make([]Result, 0, len(candidates))
	dim := fr.meta.dimension
	for _, ord := range candidates {
		d := exact(query, fr.vectors[int(ord)*dim:(int(ord)+1)*dim])
		results = append(results, Result{Doc: int(fr.docIDs[ord]), Distance: d})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// tableDistanceFor picks the additive distance used for quantized
// scoring. Cosine is not additive across subspaces, so quantized walks
// approximate it with squared L2; the exact rerank restores the true
// ordering.
func tableDistanceFor(s segment.Similarity) vecmath.Func {
	if s == segment.SimilarityDotProduct {
		return vecmath.NegDot
	}
	return vecmath.SquaredL2
}

// uint32View reinterprets an aligned little-endian byte slice as uint32
// values without copying, with a copying fallback for unaligned input.
func uint32View(data []byte) []uint32 {
	if len(data) == 0 {
		return nil
	}
	if uintptr(unsafe.Pointer(&data[0]))%4 == 0 {
		return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
	}
	out := make([]uint32, len(data)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return out
}
