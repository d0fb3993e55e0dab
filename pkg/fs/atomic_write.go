package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

// ErrAtomicWriteDirSync indicates the parent directory could not be synced
// after the rename.
//
// When returned, the new content is in place but its durability across a
// power loss is not guaranteed. Detect it with errors.Is.
var ErrAtomicWriteDirSync = errors.New("dir sync")

// AtomicWriter replaces files via a temp sibling and a rename.
//
// The temp file lives in the same directory as the target so the rename never
// crosses a filesystem boundary. The target is only touched by the final
// rename: if anything before it fails the temp file is removed and the
// original content is left exactly as it was.
type AtomicWriter struct {
	fs FS
}

// NewAtomicWriter creates an AtomicWriter that uses the given filesystem.
// Panics if fs is nil.
func NewAtomicWriter(fs FS) *AtomicWriter {
	if fs == nil {
		panic("fs is nil")
	}

	return &AtomicWriter{fs: fs}
}

// AtomicWriteOptions configures [AtomicWriter.Write].
type AtomicWriteOptions struct {
	// Perm is the mode of the written file. Must be non-zero.
	Perm os.FileMode

	// SyncDir syncs the parent directory after the rename.
	SyncDir bool

	// MkdirAll creates missing parent directories with mode 0o755.
	MkdirAll bool
}

// DefaultAtomicWriteOptions returns the options used by the local medium.
func DefaultAtomicWriteOptions() AtomicWriteOptions {
	return AtomicWriteOptions{
		Perm:     0o644,
		SyncDir:  true,
		MkdirAll: true,
	}
}

// Write replaces path with data.
//
// If the directory sync step fails, the returned error satisfies
// errors.Is(err, ErrAtomicWriteDirSync); the new content is already visible.
func (w *AtomicWriter) Write(path string, data []byte, opts AtomicWriteOptions) error {
	if path == "" {
		return errors.New("path is empty")
	}

	if opts.Perm == 0 {
		return errors.New("opts.Perm must be non-zero")
	}

	dir, base := filepath.Split(path)
	if base == "" || base == "." || base == string(os.PathSeparator) {
		return fmt.Errorf("path is invalid: %q", path)
	}

	if dir == "" {
		dir = "."
	}

	dir = filepath.Clean(dir)

	if opts.MkdirAll {
		if err := w.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %q: %w", dir, err)
		}
	}

	tmp, tmpPath, err := createTempSibling(w.fs, dir, base, opts.Perm)
	if err != nil {
		return err
	}

	discard := func() error {
		return errors.Join(closeTemp(tmpPath, tmp), removeTemp(w.fs, tmpPath))
	}

	if err := tmp.Chmod(opts.Perm); err != nil {
		return errors.Join(fmt.Errorf("chmod temp file %q: %w", tmpPath, err), discard())
	}

	if err := writeAndSync(tmp, tmpPath, data); err != nil {
		return errors.Join(err, discard())
	}

	// Close before rename so the content is fully flushed by the time the
	// new name becomes visible.
	if err := closeTemp(tmpPath, tmp); err != nil {
		return errors.Join(err, removeTemp(w.fs, tmpPath))
	}

	if err := w.fs.Rename(tmpPath, path); err != nil {
		return errors.Join(fmt.Errorf("rename: %w", err), removeTemp(w.fs, tmpPath))
	}

	if opts.SyncDir {
		return fsyncDir(w.fs, dir)
	}

	return nil
}

func writeAndSync(file File, path string, data []byte) error {
	n, err := file.Write(data)
	if err != nil {
		return fmt.Errorf("write temp file %q: %w", path, err)
	}

	if n != len(data) {
		return fmt.Errorf("write temp file %q: short write (%d of %d bytes)", path, n, len(data))
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync temp file %q: %w", path, err)
	}

	return nil
}

const tempMaxAttempts = 10000

var tempCounter atomic.Uint64

// createTempSibling creates "<dir>/.<base>.tmp-<n>" with O_EXCL, retrying
// with the next sequence number if a stale temp file is in the way.
func createTempSibling(fs FS, dir, base string, perm os.FileMode) (File, string, error) {
	for range tempMaxAttempts {
		path := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d", base, tempCounter.Add(1)))

		file, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err == nil {
			return file, path, nil
		}

		if os.IsExist(err) {
			continue
		}

		return nil, "", fmt.Errorf("create temp file: %w", err)
	}

	return nil, "", fmt.Errorf("exhausted temp file attempts in %q", dir)
}

func fsyncDir(fs FS, dir string) error {
	d, err := fs.Open(dir)
	if err != nil {
		return errors.Join(ErrAtomicWriteDirSync, fmt.Errorf("open dir %q: %w", dir, err))
	}

	syncErr := d.Sync()
	closeErr := d.Close()

	if syncErr != nil {
		return errors.Join(ErrAtomicWriteDirSync, fmt.Errorf("%q: %w", dir, syncErr), closeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close dir %q: %w", dir, closeErr)
	}

	return nil
}

// closeTemp is safe to call twice; a second close on an *os.File reports
// os.ErrClosed, which is ignored.
func closeTemp(path string, file File) error {
	err := file.Close()
	if err == nil || errors.Is(err, os.ErrClosed) {
		return nil
	}

	return fmt.Errorf("close temp file %q: %w", path, err)
}

func removeTemp(fs FS, path string) error {
	err := fs.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp file %q: %w", path, err)
	}

	return nil
}
