package store

import (
	"os"
	"path/filepath"

	"github.com/RKSPD/lucene-jvector/internal/mmap"
)

// FSDirectory implements Directory on the local file system. Inputs are
// memory-mapped, which is the most efficient option for the random
// access patterns of graph traversal.
type FSDirectory struct {
	root string
}

// NewFSDirectory creates a Directory rooted at the given path, creating
// it if necessary.
func NewFSDirectory(root string) (*FSDirectory, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FSDirectory{root: root}, nil
}

// Root returns the root path of the directory.
func (d *FSDirectory) Root() string { return d.root }

// CreateOutput creates a new file for writing.
func (d *FSDirectory) CreateOutput(name string) (Output, error) {
	return os.Create(filepath.Join(d.root, name))
}

// OpenInput opens a file via mmap.
func (d *FSDirectory) OpenInput(name string) (Input, error) {
	m, err := mmap.Open(filepath.Join(d.root, name))
	if err != nil {
		return nil, err
	}
	return &fsInput{m: m}, nil
}

// DeleteFile removes a file.
func (d *FSDirectory) DeleteFile(name string) error {
	return os.Remove(filepath.Join(d.root, name))
}

// ListAll returns all file names in the directory.
func (d *FSDirectory) ListAll() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

type fsInput struct {
	m *mmap.Mapping
}

func (in *fsInput) ReadAt(p []byte, off int64) (int, error) { return in.m.ReadAt(p, off) }

func (in *fsInput) Close() error { return in.m.Close() }

func (in *fsInput) Size() int64 { return in.m.Size() }

func (in *fsInput) Bytes() ([]byte, error) { return in.m.Bytes(), nil }
