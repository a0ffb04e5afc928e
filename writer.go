package jvector

import (
	"bufio"
	"context"
	"fmt"
	"runtime"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/RKSPD/lucene-jvector/internal/quantization"
	"github.com/RKSPD/lucene-jvector/internal/vamana"
	"github.com/RKSPD/lucene-jvector/internal/vecmath"
	"github.com/RKSPD/lucene-jvector/segment"
	"github.com/RKSPD/lucene-jvector/store"
)

// Writer builds the vector index files of one segment. It accumulates
// per-field vectors, then Flush constructs the graphs and quantizers and
// writes the segment's meta and data files.
//
// A Writer is not safe for concurrent use; the host engine drives one
// writer per segment flush. Field builds themselves run in parallel
// inside Flush.
type Writer struct {
	format *Format
	state  *segment.WriteState
	logger *Logger

	fields  []*fieldData
	seen    map[string]bool
	flushed bool
}

type fieldData struct {
	info   segment.FieldInfo
	docIDs []uint32

	// Exactly one source is populated: in-memory vectors, or a scratch
	// file streamed during a merge-on-disk merge.
	vectors     [][]float32
	scratchName string
	scratchIn   store.Input

	meta  fieldMeta
	graph *vamana.Graph
	pq    *quantization.ProductQuantizer
	codes []byte
}

func newWriter(f *Format, state *segment.WriteState) (*Writer, error) {
	if state == nil || state.Dir == nil {
		return nil, fmt.Errorf("nil segment write state")
	}
	// Oversized fields are rejected here, before any file is created.
	for _, fi := range state.FieldInfos {
		if err := checkDimension(f, fi); err != nil {
			return nil, err
		}
	}
	return &Writer{
		format: f,
		state:  state,
		logger: f.logger,
		seen:   make(map[string]bool),
	}, nil
}

func checkDimension(f *Format, fi segment.FieldInfo) error {
	if fi.Dimension <= 0 {
		return fmt.Errorf("field %q has non-positive dimension %d", fi.Name, fi.Dimension)
	}
	if max := f.MaxDimensions(fi.Name); fi.Dimension > max {
		return &DimensionError{Field: fi.Name, Dimension: fi.Dimension, Max: max}
	}
	return nil
}

// WriteField adds one field's vectors from an in-memory flush.
func (w *Writer) WriteField(fi segment.FieldInfo, values segment.VectorValues) error {
	fd, err := w.newField(fi)
	if err != nil {
		return err
	}
	if values.Dimension() != fi.Dimension {
		return fmt.Errorf("field %q: values have dimension %d, field declares %d",
			fi.Name, values.Dimension(), fi.Dimension)
	}

	n := values.Count()
	fd.vectors = make([][]float32, 0, n)
	fd.docIDs = make([]uint32, 0, n)
	for ord := 0; ord < n; ord++ {
		v, err := values.Vector(ord)
		if err != nil {
			return fmt.Errorf("field %q: read vector %d: %w", fi.Name, ord, err)
		}
		cp := make([]float32, len(v))
		copy(cp, v)
		fd.vectors = append(fd.vectors, cp)
		fd.docIDs = append(fd.docIDs, uint32(values.DocID(ord)))
	}
	return nil
}

// MergeField adds one field by merging several source segments,
// dropping deleted ordinals. Surviving vectors are renumbered densely,
// so merged doc IDs equal the new ordinals.
//
// With mergeOnDisk enabled the concatenated vectors stream through a
// scratch file in the segment directory instead of being held in memory
// for the duration of the merge.
func (w *Writer) MergeField(ms *segment.MergeState) error {
	fd, err := w.newField(ms.Field)
	if err != nil {
		return err
	}

	if !w.format.mergeOnDisk {
		for _, src := range ms.Sources {
			if err := appendLive(src, func(v []float32) error {
				cp := make([]float32, len(v))
				copy(cp, v)
				fd.vectors = append(fd.vectors, cp)
				return nil
			}); err != nil {
				return fmt.Errorf("merge field %q: %w", ms.Field.Name, err)
			}
		}
		fd.docIDs = identityDocIDs(len(fd.vectors))
		return nil
	}

	fd.scratchName = fmt.Sprintf("%s_merge_%s.tmp", w.state.SegmentName, uuid.NewString())
	out, err := w.state.Dir.CreateOutput(fd.scratchName)
	if err != nil {
		return fmt.Errorf("merge field %q: create scratch: %w", ms.Field.Name, err)
	}
	bw := bufio.NewWriterSize(out, 1<<20)

	count := 0
	for _, src := range ms.Sources {
		if err := appendLive(src, func(v []float32) error {
			count++
			_, werr := bw.Write(float32Bytes(v))
			return werr
		}); err != nil {
			out.Close()
			return fmt.Errorf("merge field %q: %w", ms.Field.Name, err)
		}
	}
	if err := bw.Flush(); err != nil {
		out.Close()
		return fmt.Errorf("merge field %q: flush scratch: %w", ms.Field.Name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("merge field %q: close scratch: %w", ms.Field.Name, err)
	}
	fd.docIDs = identityDocIDs(count)
	return nil
}

func appendLive(src segment.MergeSource, emit func([]float32) error) error {
	n := src.Values.Count()
	for ord := 0; ord < n; ord++ {
		if src.Deleted != nil && src.Deleted.Contains(uint32(ord)) {
			continue
		}
		v, err := src.Values.Vector(ord)
		if err != nil {
			return err
		}
		if err := emit(v); err != nil {
			return err
		}
	}
	return nil
}

func identityDocIDs(n int) []uint32 {
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = uint32(i)
	}
	return ids
}

func (w *Writer) newField(fi segment.FieldInfo) (*fieldData, error) {
	if w.flushed {
		return nil, ErrAlreadyFlushed
	}
	if err := checkDimension(w.format, fi); err != nil {
		return nil, err
	}
	if w.seen[fi.Name] {
		return nil, fmt.Errorf("field %q added twice", fi.Name)
	}
	w.seen[fi.Name] = true

	fd := &fieldData{info: fi}
	w.fields = append(w.fields, fd)
	return fd, nil
}

// Flush builds all field graphs and quantizers and writes the segment's
// meta and data files. It may be called once.
func (w *Writer) Flush() error {
	if w.flushed {
		return ErrAlreadyFlushed
	}
	w.flushed = true

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, fd := range w.fields {
		fd := fd
		g.Go(func() error { return w.buildField(fd) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := w.writeData(); err != nil {
		return err
	}
	return w.writeMeta()
}

// buildField trains the quantizer (when the field is large enough) and
// constructs the proximity graph for one field.
func (w *Writer) buildField(fd *fieldData) error {
	vectors, err := w.fieldVectors(fd)
	if err != nil {
		return err
	}
	count := len(vectors)

	fd.meta = fieldMeta{
		number:      fd.info.Number,
		name:        fd.info.Name,
		dimension:   fd.info.Dimension,
		similarity:  fd.info.Similarity,
		count:       count,
		maxDegree:   w.format.maxConn,
		compression: w.format.compression,
	}
	if count == 0 {
		return nil
	}

	if count >= w.format.minBatchSizeForQuantization {
		budget := w.format.sizer.CompressedBytes(fd.info.Dimension)
		if budget <= 0 {
			return &ConfigError{
				Param:  "sizer",
				Reason: fmt.Sprintf("returned non-positive byte budget %d for dimension %d", budget, fd.info.Dimension),
			}
		}
		if budget > fd.info.Dimension {
			budget = fd.info.Dimension
		}

		pq, err := quantization.New(fd.info.Dimension, budget)
		if err != nil {
			return fmt.Errorf("field %q: %w", fd.info.Name, err)
		}
		if err := pq.Train(vectors); err != nil {
			return fmt.Errorf("field %q: train quantizer: %w", fd.info.Name, err)
		}

		codes := make([]byte, count*budget)
		for ord, v := range vectors {
			if err := pq.Encode(v, codes[ord*budget:(ord+1)*budget]); err != nil {
				return fmt.Errorf("field %q: encode vector %d: %w", fd.info.Name, ord, err)
			}
		}
		fd.pq = pq
		fd.codes = codes
		fd.meta.quantized = true
		fd.meta.pqSubspaces = budget

		w.logger.Info("quantized vector field",
			"segment", w.state.SegmentName,
			"field", fd.info.Name,
			"vectors", count,
			"dimension", fd.info.Dimension,
			"bytes_per_vector", budget,
		)
	}

	graph, err := vamana.Build(vectors, distanceFor(fd.info.Similarity), vamana.Config{
		MaxDegree:        w.format.maxConn,
		BeamWidth:        w.format.beamWidth,
		Alpha:            w.format.alpha,
		NeighborOverflow: w.format.neighborOverflow,
	})
	if err != nil {
		return fmt.Errorf("field %q: build graph: %w", fd.info.Name, err)
	}
	fd.graph = graph
	fd.meta.entryPoint = graph.EntryPoint

	w.logger.Info("built vector field graph",
		"segment", w.state.SegmentName,
		"field", fd.info.Name,
		"vectors", count,
	)
	return nil
}

// fieldVectors returns ordinal-addressed views of the field's vectors.
// Scratch-backed fields map the scratch file, so the views stay
// file-backed during graph construction.
func (w *Writer) fieldVectors(fd *fieldData) ([][]float32, error) {
	if fd.scratchName == "" {
		return fd.vectors, nil
	}

	in, err := w.state.Dir.OpenInput(fd.scratchName)
	if err != nil {
		return nil, fmt.Errorf("field %q: open scratch: %w", fd.info.Name, err)
	}
	fd.scratchIn = in

	data, err := store.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("field %q: read scratch: %w", fd.info.Name, err)
	}
	stride := fd.info.Dimension * 4
	count := len(data) / stride
	vectors := make([][]float32, count)
	for i := range vectors {
		vectors[i] = float32View(data[i*stride : (i+1)*stride])
	}
	fd.vectors = vectors
	return vectors, nil
}

func (w *Writer) writeData() error {
	name := segmentFileName(w.state.SegmentName, w.state.SegmentSuffix, VectorIndexExtension)
	out, err := w.state.Dir.CreateOutput(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}

	bw := bufio.NewWriterSize(out, 1<<20)
	cw := newChecksumWriter(bw)
	cw.writeHeader(IndexCodecName, VersionCurrent)

	for _, fd := range w.fields {
		if err := w.writeFieldData(cw, fd); err != nil {
			out.Close()
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	if err := cw.finish(); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := bw.Flush(); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	return out.Close()
}

func (w *Writer) writeFieldData(cw *checksumWriter, fd *fieldData) error {
	// Doc IDs.
	cw.pad8()
	fd.meta.docIDsOff = uint64(cw.offset)
	for _, id := range fd.docIDs {
		cw.writeUint32(id)
	}
	fd.meta.docIDsLen = uint64(cw.offset) - fd.meta.docIDsOff

	// Raw vectors, flat or block-compressed.
	cw.pad8()
	fd.meta.vectorsOff = uint64(cw.offset)
	if fd.meta.compression == CompressionNone {
		for _, v := range fd.vectors {
			cw.Write(float32Bytes(v))
		}
	} else if err := w.writeCompressedVectors(cw, fd); err != nil {
		return err
	}
	fd.meta.vectorsLen = uint64(cw.offset) - fd.meta.vectorsOff

	// Quantizer codebooks and codes.
	cw.pad8()
	fd.meta.codebookOff = uint64(cw.offset)
	if fd.pq != nil {
		cw.Write(fd.pq.AppendCodebooks(nil))
	}
	fd.meta.codebookLen = uint64(cw.offset) - fd.meta.codebookOff

	fd.meta.codesOff = uint64(cw.offset)
	cw.Write(fd.codes)
	fd.meta.codesLen = uint64(cw.offset) - fd.meta.codesOff

	// Adjacency lists.
	cw.pad8()
	fd.meta.graphOff = uint64(cw.offset)
	if fd.graph != nil {
		for _, edges := range fd.graph.Neighbors {
			cw.writeUint32(uint32(len(edges)))
			for _, n := range edges {
				cw.writeUint32(n)
			}
		}
	}
	fd.meta.graphLen = uint64(cw.offset) - fd.meta.graphOff

	return cw.err
}

// writeCompressedVectors writes the vector section as an offset table
// followed by compressed blocks of vecsPerBlock vectors each.
func (w *Writer) writeCompressedVectors(cw *checksumWriter, fd *fieldData) error {
	count := len(fd.vectors)
	numBlocks := (count + vecsPerBlock - 1) / vecsPerBlock

	blocks := make([][]byte, 0, numBlocks)
	var raw []byte
	for b := 0; b < numBlocks; b++ {
		raw = raw[:0]
		for i := b * vecsPerBlock; i < count && i < (b+1)*vecsPerBlock; i++ {
			raw = append(raw, float32Bytes(fd.vectors[i])...)
		}
		block, err := compressBlock(raw, fd.meta.compression)
		if err != nil {
			return err
		}
		blocks = append(blocks, block)
	}

	cw.writeUint32(uint32(numBlocks))
	offset := uint64(0)
	for _, block := range blocks {
		cw.writeUint64(offset)
		offset += uint64(len(block))
	}
	for _, block := range blocks {
		cw.Write(block)
	}
	return cw.err
}

func (w *Writer) writeMeta() error {
	name := segmentFileName(w.state.SegmentName, w.state.SegmentSuffix, MetaExtension)
	out, err := w.state.Dir.CreateOutput(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}

	cw := newChecksumWriter(out)
	cw.writeHeader(MetaCodecName, VersionCurrent)
	cw.writeString(w.format.name)
	cw.writeUint32(uint32(len(w.fields)))
	for _, fd := range w.fields {
		fd.meta.encode(cw)
	}

	if err := cw.finish(); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	return out.Close()
}

// Close releases merge scratch files. It does not write anything: a
// writer discarded before Flush leaves no segment files behind.
func (w *Writer) Close() error {
	var firstErr error
	for _, fd := range w.fields {
		if fd.scratchIn != nil {
			if err := fd.scratchIn.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			fd.scratchIn = nil
		}
		if fd.scratchName != "" {
			if err := w.state.Dir.DeleteFile(fd.scratchName); err != nil && firstErr == nil {
				firstErr = err
			}
			fd.scratchName = ""
		}
	}
	return firstErr
}

func distanceFor(s segment.Similarity) vecmath.Func {
	switch s {
	case segment.SimilarityDotProduct:
		return vecmath.NegDot
	case segment.SimilarityCosine:
		return vecmath.CosineDistance
	default:
		return vecmath.SquaredL2
	}
}
