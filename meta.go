package jvector

import (
	"github.com/RKSPD/lucene-jvector/segment"
)

// fieldMeta is the per-field record persisted in the meta file. Offsets
// and lengths address sections of the data file.
type fieldMeta struct {
	number     int
	name       string
	dimension  int
	similarity segment.Similarity
	count      int

	entryPoint uint32
	maxDegree  int

	quantized   bool
	pqSubspaces int
	compression Compression

	docIDsOff, docIDsLen     uint64
	vectorsOff, vectorsLen   uint64
	codebookOff, codebookLen uint64
	codesOff, codesLen       uint64
	graphOff, graphLen       uint64
}

func (m *fieldMeta) encode(cw *checksumWriter) {
	cw.writeUint32(uint32(m.number))
	cw.writeString(m.name)
	cw.writeUint32(uint32(m.dimension))
	cw.writeByte(byte(m.similarity))
	cw.writeUint32(uint32(m.count))
	cw.writeUint32(m.entryPoint)
	cw.writeUint32(uint32(m.maxDegree))
	if m.quantized {
		cw.writeByte(1)
	} else {
		cw.writeByte(0)
	}
	cw.writeUint32(uint32(m.pqSubspaces))
	cw.writeByte(byte(m.compression))
	for _, v := range []uint64{
		m.docIDsOff, m.docIDsLen,
		m.vectorsOff, m.vectorsLen,
		m.codebookOff, m.codebookLen,
		m.codesOff, m.codesLen,
		m.graphOff, m.graphLen,
	} {
		cw.writeUint64(v)
	}
}

func parseFieldMeta(c *cursor) (*fieldMeta, error) {
	m := &fieldMeta{}

	number, err := c.uint32("field number")
	if err != nil {
		return nil, err
	}
	m.number = int(number)

	if m.name, err = c.str("field name"); err != nil {
		return nil, err
	}

	dim, err := c.uint32("dimension")
	if err != nil {
		return nil, err
	}
	m.dimension = int(dim)

	sim, err := c.byteVal("similarity")
	if err != nil {
		return nil, err
	}
	m.similarity = segment.Similarity(sim)

	count, err := c.uint32("count")
	if err != nil {
		return nil, err
	}
	m.count = int(count)

	if m.entryPoint, err = c.uint32("entry point"); err != nil {
		return nil, err
	}

	degree, err := c.uint32("max degree")
	if err != nil {
		return nil, err
	}
	m.maxDegree = int(degree)

	quantized, err := c.byteVal("quantized flag")
	if err != nil {
		return nil, err
	}
	m.quantized = quantized != 0

	subspaces, err := c.uint32("subspace count")
	if err != nil {
		return nil, err
	}
	m.pqSubspaces = int(subspaces)

	compression, err := c.byteVal("compression type")
	if err != nil {
		return nil, err
	}
	m.compression = Compression(compression)

	for _, dst := range []*uint64{
		&m.docIDsOff, &m.docIDsLen,
		&m.vectorsOff, &m.vectorsLen,
		&m.codebookOff, &m.codebookLen,
		&m.codesOff, &m.codesLen,
		&m.graphOff, &m.graphLen,
	} {
		if *dst, err = c.uint64("section offset"); err != nil {
			return nil, err
		}
	}
	return m, nil
}
