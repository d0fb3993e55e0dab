// Package local stores the whole document set as one snapshot file on the
// local filesystem, guarded by a marker lock next to it.
//
// The snapshot is read once on open and written in full on every sync, via
// temp file, fsync and rename, so a crash leaves either the previous or the
// new snapshot on disk. A missing snapshot file is an empty store.
package local

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/calvinalkan/docstore/pkg/doccache"
	"github.com/calvinalkan/docstore/pkg/filelock"
	"github.com/calvinalkan/docstore/pkg/fs"
)

// Options configures a local store.
type Options struct {
	// FS is the filesystem to use. Defaults to [fs.Real].
	FS fs.FS

	// Codec serializes the snapshot. Defaults to JSON.
	Codec doccache.Codec

	// Logger receives lifecycle logs.
	Logger *zap.Logger

	// Perm is the snapshot file mode. Defaults to 0o644.
	Perm os.FileMode
}

// Medium is the snapshot file plus its marker lock.
type Medium struct {
	path   string
	fs     fs.FS
	writer *fs.AtomicWriter
	lock   *filelock.Lock
	wopts  fs.AtomicWriteOptions
}

var _ doccache.Medium = (*Medium)(nil)

// NewMedium returns the medium for the snapshot at path.
func NewMedium(path string, opts Options) (*Medium, error) {
	if path == "" {
		return nil, errors.New("local: path is empty")
	}

	fsys := opts.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	lock, err := filelock.New(fsys, path)
	if err != nil {
		return nil, err
	}

	wopts := fs.DefaultAtomicWriteOptions()
	if opts.Perm != 0 {
		wopts.Perm = opts.Perm
	}

	return &Medium{
		path:   path,
		fs:     fsys,
		writer: fs.NewAtomicWriter(fsys),
		lock:   lock,
		wopts:  wopts,
	}, nil
}

// New returns an unopened backend for the snapshot at path.
func New(path string, opts Options) (*doccache.Backend, error) {
	m, err := NewMedium(path, opts)
	if err != nil {
		return nil, err
	}

	return doccache.NewBackend(m, doccache.BackendOptions{
		Codec:  opts.Codec,
		Logger: opts.Logger,
		Name:   path,
	}), nil
}

// Path returns the snapshot path.
func (m *Medium) Path() string {
	return m.path
}

// Read returns the snapshot bytes, or nil if the file does not exist.
func (m *Medium) Read() ([]byte, error) {
	data, err := m.fs.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read %q: %w", m.path, err)
	}

	return data, nil
}

// Overwrite atomically replaces the snapshot file.
func (m *Medium) Overwrite(data []byte) error {
	return m.writer.Write(m.path, data, m.wopts)
}

// Lock tries to create the marker file.
func (m *Medium) Lock() (bool, error) {
	return m.lock.Acquire()
}

// Unlock removes the marker file if this medium owns it.
func (m *Medium) Unlock() error {
	return m.lock.Release(false)
}

// BreakLock removes the marker lock for the snapshot at path regardless of
// who holds it. Use it to recover after a crashed process left the marker
// behind.
func BreakLock(fsys fs.FS, path string) error {
	if fsys == nil {
		fsys = fs.NewReal()
	}

	return filelock.NewWithToken(fsys, path, "").Release(true)
}

// Locked reports whether a marker lock exists for the snapshot at path.
func Locked(fsys fs.FS, path string) (bool, error) {
	if fsys == nil {
		fsys = fs.NewReal()
	}

	return fsys.Exists(filelock.MarkerPath(path))
}
