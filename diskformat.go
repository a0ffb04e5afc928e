package jvector

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"
	"sync"
	"unsafe"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// File magic shared by the meta and data files.
const fileMagic uint32 = 0x4A564543 // "JVEC"

// Compression selects the block compression applied to the raw vector
// section of the data file.
type Compression uint8

const (
	// CompressionNone stores vectors as flat little-endian floats,
	// enabling zero-copy reads from memory-mapped files.
	CompressionNone Compression = 0
	// CompressionLZ4 compresses vector blocks with LZ4 (fast, hot data).
	CompressionLZ4 Compression = 1
	// CompressionZSTD compresses vector blocks with zstd (better
	// ratio, cold data).
	CompressionZSTD Compression = 2
)

// vecsPerBlock is the number of vectors per compressed block.
const vecsPerBlock = 256

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// compressBlock compresses data with the given algorithm, prefixing the
// result with [uncompressedLen uint32][compressedLen uint32]. A stored
// compressedLen of 0 marks an uncompressed block, used when compression
// does not pay for itself.
func compressBlock(data []byte, c Compression) ([]byte, error) {
	var compressed []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("unsupported compression type %d", c)
	}

	// Incompressible blocks are stored raw.
	if len(compressed) == 0 || len(compressed) >= len(data) {
		out := make([]byte, 8+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(out[4:], 0)
		copy(out[8:], data)
		return out, nil
	}

	out := make([]byte, 8+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[8:], compressed)
	return out, nil
}

// decompressBlock reverses compressBlock. It returns the decoded bytes
// and the total number of input bytes consumed.
func decompressBlock(data []byte, c Compression) ([]byte, int, error) {
	if len(data) < 8 {
		return nil, 0, fmt.Errorf("%w: truncated block header", ErrCorrupted)
	}
	uncompressedLen := binary.LittleEndian.Uint32(data[0:])
	compressedLen := binary.LittleEndian.Uint32(data[4:])

	if compressedLen == 0 {
		end := 8 + int(uncompressedLen)
		if len(data) < end {
			return nil, 0, fmt.Errorf("%w: truncated stored block", ErrCorrupted)
		}
		return data[8:end], end, nil
	}

	end := 8 + int(compressedLen)
	if len(data) < end {
		return nil, 0, fmt.Errorf("%w: truncated compressed block", ErrCorrupted)
	}
	payload := data[8:end]

	out := make([]byte, uncompressedLen)
	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		out = out[:n]
	case CompressionZSTD:
		dec := getZstdDecoder()
		decoded, err := dec.DecodeAll(payload, out[:0])
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		out = decoded
	default:
		return nil, 0, fmt.Errorf("unsupported compression type %d", c)
	}
	if len(out) != int(uncompressedLen) {
		return nil, 0, fmt.Errorf("%w: block decodes to %d bytes, want %d", ErrCorrupted, len(out), uncompressedLen)
	}
	return out, end, nil
}

// checksumWriter wraps an io.Writer, tracking the running CRC32-C and
// offset of everything written.
type checksumWriter struct {
	w      io.Writer
	crc    hash.Hash32
	offset int64
	err    error
}

func newChecksumWriter(w io.Writer) *checksumWriter {
	return &checksumWriter{w: w, crc: crc32.New(castagnoli)}
}

func (cw *checksumWriter) Write(p []byte) (int, error) {
	if cw.err != nil {
		return 0, cw.err
	}
	n, err := cw.w.Write(p)
	cw.crc.Write(p[:n])
	cw.offset += int64(n)
	cw.err = err
	return n, err
}

func (cw *checksumWriter) writeUint32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	cw.Write(buf[:])
}

func (cw *checksumWriter) writeUint64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	cw.Write(buf[:])
}

func (cw *checksumWriter) writeByte(b byte) {
	cw.Write([]byte{b})
}

func (cw *checksumWriter) writeString(s string) {
	cw.writeUint32(uint32(len(s)))
	cw.Write([]byte(s))
}

// pad8 pads the output to an 8-byte boundary so flat float sections can
// be viewed in place from an aligned mapping.
func (cw *checksumWriter) pad8() {
	var zero [8]byte
	if rem := cw.offset % 8; rem != 0 {
		cw.Write(zero[:8-rem])
	}
}

// writeHeader emits the shared file header: magic, codec name, version.
func (cw *checksumWriter) writeHeader(codecName string, version int) {
	cw.writeUint32(fileMagic)
	cw.writeString(codecName)
	cw.writeUint32(uint32(version))
}

// finish appends the CRC32-C footer.
func (cw *checksumWriter) finish() error {
	if cw.err != nil {
		return cw.err
	}
	sum := cw.crc.Sum32()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], sum)
	_, err := cw.w.Write(buf[:])
	return err
}

// cursor parses little-endian structures from an in-memory file image.
type cursor struct {
	data []byte
	pos  int
	file string
}

func (c *cursor) remaining() int { return len(c.data) - c.pos }

func (c *cursor) fail(what string) error {
	return fmt.Errorf("%w: %s: truncated %s at offset %d", ErrCorrupted, c.file, what, c.pos)
}

func (c *cursor) uint32(what string) (uint32, error) {
	if c.remaining() < 4 {
		return 0, c.fail(what)
	}
	v := binary.LittleEndian.Uint32(c.data[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) uint64(what string) (uint64, error) {
	if c.remaining() < 8 {
		return 0, c.fail(what)
	}
	v := binary.LittleEndian.Uint64(c.data[c.pos:])
	c.pos += 8
	return v, nil
}

func (c *cursor) byteVal(what string) (byte, error) {
	if c.remaining() < 1 {
		return 0, c.fail(what)
	}
	b := c.data[c.pos]
	c.pos++
	return b, nil
}

func (c *cursor) str(what string) (string, error) {
	n, err := c.uint32(what)
	if err != nil {
		return "", err
	}
	if c.remaining() < int(n) {
		return "", c.fail(what)
	}
	s := string(c.data[c.pos : c.pos+int(n)])
	c.pos += int(n)
	return s, nil
}

// checkHeader validates magic and codec name, and returns the persisted
// version after checking it against the supported one.
func (c *cursor) checkHeader(codecName string, supported int) (int, error) {
	magic, err := c.uint32("magic")
	if err != nil {
		return 0, err
	}
	if magic != fileMagic {
		return 0, fmt.Errorf("%w: %s: bad magic 0x%08X", ErrCorrupted, c.file, magic)
	}
	name, err := c.str("codec name")
	if err != nil {
		return 0, err
	}
	if name != codecName {
		return 0, fmt.Errorf("%w: %s: codec name %q, want %q", ErrCorrupted, c.file, name, codecName)
	}
	version, err := c.uint32("version")
	if err != nil {
		return 0, err
	}
	if int(version) > supported {
		return 0, &VersionError{File: c.file, Persisted: int(version), Supported: supported}
	}
	return int(version), nil
}

// verifyChecksum checks the trailing CRC32-C footer over the whole file
// image and returns the body without the footer.
func verifyChecksum(file string, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: %s: missing checksum footer", ErrCorrupted, file)
	}
	body := data[:len(data)-4]
	want := binary.LittleEndian.Uint32(data[len(data)-4:])
	if got := crc32.Checksum(body, castagnoli); got != want {
		return nil, fmt.Errorf("%w: %s: checksum mismatch (got 0x%08X, want 0x%08X)", ErrCorrupted, file, got, want)
	}
	return body, nil
}

// float32View reinterprets an aligned little-endian byte slice as
// float32 values without copying. Falls back to copying when the slice
// is not 4-byte aligned.
func float32View(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	if uintptr(unsafe.Pointer(&data[0]))%4 == 0 {
		return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), len(data)/4)
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// float32Bytes views a float32 slice as raw bytes for writing.
func float32Bytes(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*4)
}
