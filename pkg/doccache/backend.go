package doccache

import (
	"context"

	"go.uber.org/zap"

	"github.com/calvinalkan/docstore/pkg/docstore"
	"github.com/calvinalkan/docstore/pkg/uid"
)

// Medium is where a file-backed store keeps its serialized snapshot.
//
// Read returns nil or empty bytes when nothing has been persisted yet. Lock
// must not block: it reports false if another holder has the lock. Mediums
// without a lock primitive return true.
type Medium interface {
	Read() ([]byte, error)
	Overwrite(data []byte) error
	Lock() (bool, error)
	Unlock() error
}

// BackendOptions configures a [Backend].
type BackendOptions struct {
	// Codec serializes the snapshot. Defaults to [JSON].
	Codec Codec

	// Logger receives lifecycle logs. Defaults to a no-op logger.
	Logger *zap.Logger

	// Name labels log entries, e.g. the file path or remote URL.
	Name string
}

type state uint8

const (
	stateNew state = iota
	stateOpen
	stateClosed
)

// Backend implements [docstore.Backend] on top of a [Cache] loaded from a
// [Medium]. All operations after Open are served from memory; only Sync and
// Close touch the medium.
type Backend struct {
	medium Medium
	codec  Codec
	log    *zap.Logger

	state state
	cache *Cache
}

var (
	_ docstore.Backend     = (*Backend)(nil)
	_ docstore.Snapshotter = (*Backend)(nil)
)

// NewBackend returns an unopened backend over medium.
func NewBackend(medium Medium, opts BackendOptions) *Backend {
	codec := opts.Codec
	if codec == nil {
		codec = JSON{}
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if opts.Name != "" {
		log = log.With(zap.String("store", opts.Name))
	}

	return &Backend{
		medium: medium,
		codec:  codec,
		log:    log.With(zap.String("codec", codec.Name())),
	}
}

// Open takes the medium's lock and loads the snapshot. A locked medium
// fails with [docstore.ErrLockUnavailable].
func (b *Backend) Open(_ context.Context) error {
	switch b.state {
	case stateOpen:
		return docstore.ErrAlreadyOpen
	case stateClosed:
		return docstore.ErrClosed
	}

	hooks := Hooks{
		Read: func() ([]byte, error) {
			data, err := b.medium.Read()

			return data, docstore.Transport("read", err)
		},
		Overwrite: func(data []byte) error {
			return docstore.Transport("overwrite", b.medium.Overwrite(data))
		},
		SetLock: func() (bool, error) {
			ok, err := b.medium.Lock()

			return ok, docstore.Transport("lock", err)
		},
		ReleaseLock: func() error {
			return docstore.Transport("unlock", b.medium.Unlock())
		},
	}

	cache, err := New(hooks, b.codec)
	if err != nil {
		return err
	}

	b.cache = cache
	b.state = stateOpen

	n, _ := cache.Len()
	b.log.Info("store opened", zap.Int("documents", n))

	return nil
}

// Close syncs, releases the lock and drops the snapshot. The backend is
// closed even if the sync fails.
func (b *Backend) Close(_ context.Context, _ docstore.CloseOptions) error {
	if err := b.check(); err != nil {
		return err
	}

	err := b.cache.Close()
	b.cache = nil
	b.state = stateClosed

	if err != nil {
		b.log.Warn("store closed with error", zap.Error(err))

		return err
	}

	b.log.Info("store closed")

	return nil
}

func (b *Backend) check() error {
	switch b.state {
	case stateNew:
		return docstore.ErrNotOpen
	case stateClosed:
		return docstore.ErrClosed
	}

	return nil
}

func (b *Backend) Get(_ context.Context, id uid.UID, key string) ([]byte, bool, error) {
	if err := b.check(); err != nil {
		return nil, false, err
	}

	doc, ok, err := b.cache.Get(id)
	if err != nil || !ok {
		return nil, false, err
	}

	data, ok := doc[key]
	if !ok {
		return nil, false, nil
	}

	return docstore.CloneBytes(data), true, nil
}

func (b *Backend) GetDocument(_ context.Context, id uid.UID) (docstore.Document, error) {
	if err := b.check(); err != nil {
		return nil, err
	}

	doc, ok, err := b.cache.Get(id)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, docstore.ErrNotFound
	}

	return doc.Clone(), nil
}

func (b *Backend) Put(_ context.Context, id uid.UID, key string, data []byte) error {
	if err := b.check(); err != nil {
		return err
	}

	doc, ok, err := b.cache.Get(id)
	if err != nil {
		return err
	}

	if !ok {
		doc = make(docstore.Document, 1)

		if err := b.cache.Set(id, doc); err != nil {
			return err
		}
	}

	doc[key] = docstore.CloneBytes(data)

	return nil
}

// Delete removes key. A document left without keys is removed as well.
func (b *Backend) Delete(_ context.Context, id uid.UID, key string) error {
	if err := b.check(); err != nil {
		return err
	}

	doc, ok, err := b.cache.Get(id)
	if err != nil || !ok {
		return err
	}

	delete(doc, key)

	if len(doc) == 0 {
		_, err = b.cache.Delete(id)
	}

	return err
}

func (b *Backend) DeleteDocument(_ context.Context, id uid.UID) error {
	if err := b.check(); err != nil {
		return err
	}

	existed, err := b.cache.Delete(id)
	if err != nil {
		return err
	}

	if !existed {
		return docstore.ErrNotFound
	}

	return nil
}

// Sync writes the full snapshot to the medium. Options are ignored.
func (b *Backend) Sync(_ context.Context, _ docstore.SyncOptions) error {
	if err := b.check(); err != nil {
		return err
	}

	if err := b.cache.Sync(); err != nil {
		return err
	}

	b.log.Debug("store synced")

	return nil
}

func (b *Backend) Count(_ context.Context, id uid.UID) (int, error) {
	if err := b.check(); err != nil {
		return 0, err
	}

	doc, _, err := b.cache.Get(id)
	if err != nil {
		return 0, err
	}

	return len(doc), nil
}

func (b *Backend) Snapshot(_ context.Context) (map[uid.UID]docstore.Document, error) {
	if err := b.check(); err != nil {
		return nil, err
	}

	return b.cache.Snapshot()
}
