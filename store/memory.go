package store

import (
	"bytes"
	"io"
	"sync"
)

// MemDirectory is an in-memory Directory implementation for tests.
// Thread-safe for concurrent reads and writes.
type MemDirectory struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemDirectory creates an empty in-memory directory.
func NewMemDirectory() *MemDirectory {
	return &MemDirectory{files: make(map[string][]byte)}
}

// CreateOutput creates a new file. Contents become visible on Close.
func (d *MemDirectory) CreateOutput(name string) (Output, error) {
	return &memOutput{dir: d, name: name}, nil
}

// OpenInput opens a file for reading.
func (d *MemDirectory) OpenInput(name string) (Input, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	data, ok := d.files[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &memInput{r: bytes.NewReader(data), data: data}, nil
}

// DeleteFile removes a file.
func (d *MemDirectory) DeleteFile(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.files[name]; !ok {
		return ErrNotFound
	}
	delete(d.files, name)
	return nil
}

// ListAll returns all file names.
func (d *MemDirectory) ListAll() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.files))
	for name := range d.files {
		names = append(names, name)
	}
	return names, nil
}

type memOutput struct {
	dir  *MemDirectory
	name string
	buf  bytes.Buffer
}

func (o *memOutput) Write(p []byte) (int, error) { return o.buf.Write(p) }

func (o *memOutput) Close() error {
	o.dir.mu.Lock()
	defer o.dir.mu.Unlock()
	o.dir.files[o.name] = o.buf.Bytes()
	return nil
}

type memInput struct {
	r    *bytes.Reader
	data []byte
}

func (in *memInput) ReadAt(p []byte, off int64) (int, error) { return in.r.ReadAt(p, off) }

func (in *memInput) Close() error { return nil }

func (in *memInput) Size() int64 { return int64(len(in.data)) }

func (in *memInput) Bytes() ([]byte, error) { return in.data, nil }

var _ io.ReaderAt = (*memInput)(nil)
