// Package filelock implements a cooperative, cross-process advisory lock
// backed by a marker file.
//
// The marker for a target lives next to it at "<target>.lock" and holds the
// token of the holder that created it. Ownership is never cached: every
// check re-reads the marker and compares its content to the holder's token.
//
// The lock is advisory. Nothing stops a process that does not use this
// package from touching the target, and a forced release removes the marker
// no matter who created it.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/calvinalkan/docstore/pkg/fs"
)

// ErrHeld is returned by [WithLock] when another holder owns the marker.
var ErrHeld = errors.New("lock held by another holder")

const (
	markerSuffix = ".lock"
	markerPerm   = 0o644
	markerDir    = 0o755
)

// MarkerPath returns the marker path guarding target.
func MarkerPath(target string) string {
	return target + markerSuffix
}

// Lock is one holder's view of the marker for a target.
//
// A Lock does not track whether it is held; use [Lock.IsLocked].
type Lock struct {
	fs     fs.FS
	target string
	path   string
	token  string
}

// New creates a holder for target with a fresh random token.
// If fsys is nil, the real filesystem is used.
func New(fsys fs.FS, target string) (*Lock, error) {
	token, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate lock token: %w", err)
	}

	return NewWithToken(fsys, target, token.String()), nil
}

// NewWithToken re-attaches to a lock previously acquired with token, for
// example by an earlier run of the same process that saved its token.
func NewWithToken(fsys fs.FS, target, token string) *Lock {
	if fsys == nil {
		fsys = fs.NewReal()
	}

	return &Lock{
		fs:     fsys,
		target: target,
		path:   MarkerPath(target),
		token:  token,
	}
}

// Token returns the holder's token.
func (l *Lock) Token() string {
	return l.token
}

// Path returns the marker path.
func (l *Lock) Path() string {
	return l.path
}

// Acquire tries to take the lock without waiting.
//
// It reports true if the marker was created with this holder's token, or if
// the marker already holds this holder's token (re-acquire is idempotent).
// It reports false if the marker holds any other content.
//
// Creation uses O_CREATE|O_EXCL, so two holders racing on an absent marker
// cannot both win.
func (l *Lock) Acquire() (bool, error) {
	file, err := l.createMarker()
	if err == nil {
		if werr := l.writeToken(file); werr != nil {
			if rerr := l.fs.Remove(l.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				werr = errors.Join(werr, fmt.Errorf("remove unowned lock marker %q: %w", l.path, rerr))
			}

			return false, werr
		}

		return true, nil
	}

	if !errors.Is(err, os.ErrExist) {
		return false, fmt.Errorf("create lock marker %q: %w", l.path, err)
	}

	return l.IsLocked()
}

// IsLocked reports whether the marker currently holds this holder's token.
// An absent marker is not an error and reports false.
func (l *Lock) IsLocked() (bool, error) {
	content, err := l.fs.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("read lock marker %q: %w", l.path, err)
	}

	return string(content) == l.token, nil
}

// Release removes the marker if this holder owns it. With force, the marker
// is removed regardless of its content. Releasing a lock that is not held is
// a no-op.
func (l *Lock) Release(force bool) error {
	if !force {
		held, err := l.IsLocked()
		if err != nil {
			return err
		}

		if !held {
			return nil
		}
	}

	err := l.fs.Remove(l.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock marker %q: %w", l.path, err)
	}

	return nil
}

// createMarker creates the marker exclusively, creating the parent directory
// lazily if it does not exist yet.
func (l *Lock) createMarker() (fs.File, error) {
	const flag = os.O_WRONLY | os.O_CREATE | os.O_EXCL

	f, err := l.fs.OpenFile(l.path, flag, markerPerm)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	if err := l.fs.MkdirAll(filepath.Dir(l.path), markerDir); err != nil {
		return nil, err
	}

	return l.fs.OpenFile(l.path, flag, markerPerm)
}

func (l *Lock) writeToken(file fs.File) error {
	_, writeErr := file.Write([]byte(l.token))
	if writeErr == nil {
		writeErr = file.Sync()
	}

	closeErr := file.Close()

	if writeErr != nil {
		return fmt.Errorf("write lock marker %q: %w", l.path, writeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close lock marker %q: %w", l.path, closeErr)
	}

	return nil
}

// WithLock runs handler while holding the lock on target.
//
// The lock is released when handler returns, including when it returns an
// error or panics. Returns an error wrapping [ErrHeld] without calling
// handler if another holder owns the marker.
func WithLock(fsys fs.FS, target string, handler func() error) (err error) {
	lock, err := New(fsys, target)
	if err != nil {
		return err
	}

	ok, err := lock.Acquire()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}

	if !ok {
		return fmt.Errorf("%w: %s", ErrHeld, target)
	}

	defer func() {
		if releaseErr := lock.Release(false); releaseErr != nil {
			err = errors.Join(err, fmt.Errorf("releasing lock: %w", releaseErr))
		}
	}()

	return handler()
}
