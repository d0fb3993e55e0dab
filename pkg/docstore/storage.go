package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/calvinalkan/docstore/pkg/uid"
)

// Operation names used in errors, logs and metrics.
const (
	OpOpen           = "open"
	OpClose          = "close"
	OpGet            = "get"
	OpGetDocument    = "get_document"
	OpPut            = "put"
	OpDelete         = "delete"
	OpDeleteDocument = "delete_document"
	OpSync           = "sync"
	OpCount          = "count"
	OpSnapshot       = "snapshot"
)

// Options configures a [Storage].
type Options struct {
	// Logger receives per-operation debug logs. Defaults to a no-op logger.
	Logger *zap.Logger

	// Registerer, if set, receives the operation counter and latency
	// histogram.
	Registerer prometheus.Registerer
}

// Storage validates inputs and delegates to a [Backend].
//
// Storage adds no state of its own: lifecycle errors such as [ErrClosed]
// come from the backend.
type Storage struct {
	backend Backend
	log     *zap.Logger
	metrics *metrics
}

// New wraps backend. It fails only if metrics registration fails.
func New(backend Backend, opts Options) (*Storage, error) {
	if backend == nil {
		return nil, errors.New("backend is nil")
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Storage{backend: backend, log: log}

	if opts.Registerer != nil {
		m, err := newMetrics(opts.Registerer)
		if err != nil {
			return nil, err
		}

		s.metrics = m
	}

	return s, nil
}

// WithStorage opens backend, runs fn and closes the storage on every exit
// path, including a panic in fn. Close runs without ctx's cancellation so the
// medium's lock is released after an interrupt. Errors from fn and Close are
// joined.
func WithStorage(ctx context.Context, backend Backend, opts Options, fn func(s *Storage) error) (err error) {
	s, err := New(backend, opts)
	if err != nil {
		return err
	}

	if err := s.Open(ctx); err != nil {
		return err
	}

	defer func() {
		if closeErr := s.Close(context.WithoutCancel(ctx), CloseOptions{}); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	return fn(s)
}

// GenerateID returns a new random identifier.
func GenerateID() (uid.UID, error) {
	return uid.New()
}

// Backend returns the wrapped backend.
func (s *Storage) Backend() Backend {
	return s.backend
}

// Open opens the underlying medium.
func (s *Storage) Open(ctx context.Context) error {
	return s.call(OpOpen, uid.UID{}, "", func() error {
		return s.backend.Open(ctx)
	})
}

// Close performs a final sync and closes the underlying medium. Calling it a
// second time returns [ErrClosed].
func (s *Storage) Close(ctx context.Context, opts CloseOptions) error {
	return s.call(OpClose, uid.UID{}, "", func() error {
		return s.backend.Close(ctx, opts)
	})
}

// Get returns the payload stored under key in document id. found is false if
// the document or the key does not exist.
func (s *Storage) Get(ctx context.Context, id uid.UID, key string) ([]byte, bool, error) {
	var (
		data  []byte
		found bool
	)

	err := s.call(OpGet, id, key, func() error {
		if err := errors.Join(ValidateID(id), ValidateKey(key)); err != nil {
			return err
		}

		var err error

		data, found, err = s.backend.Get(ctx, id, key)

		return err
	})

	return data, found, err
}

// GetDocument returns the whole document, or an error matching [ErrNotFound].
func (s *Storage) GetDocument(ctx context.Context, id uid.UID) (Document, error) {
	var doc Document

	err := s.call(OpGetDocument, id, "", func() error {
		if err := ValidateID(id); err != nil {
			return err
		}

		var err error

		doc, err = s.backend.GetDocument(ctx, id)

		return err
	})

	return doc, err
}

// Put stores data under key in document id, creating the document if
// needed.
func (s *Storage) Put(ctx context.Context, id uid.UID, key string, data []byte) error {
	return s.call(OpPut, id, key, func() error {
		if err := errors.Join(ValidateID(id), ValidateKey(key), ValidateData(data)); err != nil {
			return err
		}

		return s.backend.Put(ctx, id, key, data)
	})
}

// Delete removes key from document id. Missing keys are ignored.
func (s *Storage) Delete(ctx context.Context, id uid.UID, key string) error {
	return s.call(OpDelete, id, key, func() error {
		if err := errors.Join(ValidateID(id), ValidateKey(key)); err != nil {
			return err
		}

		return s.backend.Delete(ctx, id, key)
	})
}

// DeleteDocument removes document id, or returns an error matching
// [ErrNotFound].
func (s *Storage) DeleteDocument(ctx context.Context, id uid.UID) error {
	return s.call(OpDeleteDocument, id, "", func() error {
		if err := ValidateID(id); err != nil {
			return err
		}

		return s.backend.DeleteDocument(ctx, id)
	})
}

// Sync flushes pending mutations to the medium.
func (s *Storage) Sync(ctx context.Context, opts SyncOptions) error {
	return s.call(OpSync, uid.UID{}, "", func() error {
		return s.backend.Sync(ctx, opts)
	})
}

// Count returns the number of keys in document id, 0 if it does not exist.
func (s *Storage) Count(ctx context.Context, id uid.UID) (int, error) {
	var n int

	err := s.call(OpCount, id, "", func() error {
		if err := ValidateID(id); err != nil {
			return err
		}

		var err error

		n, err = s.backend.Count(ctx, id)

		return err
	})

	return n, err
}

// Snapshot returns a copy of every document if the backend supports
// enumeration.
func (s *Storage) Snapshot(ctx context.Context) (map[uid.UID]Document, error) {
	var docs map[uid.UID]Document

	err := s.call(OpSnapshot, uid.UID{}, "", func() error {
		snap, ok := s.backend.(Snapshotter)
		if !ok {
			return errors.New("backend does not support snapshots")
		}

		var err error

		docs, err = snap.Snapshot(ctx)

		return err
	})

	return docs, err
}

func (s *Storage) call(op string, id uid.UID, key string, fn func() error) error {
	start := time.Now()
	err := fn()

	s.metrics.observe(op, start, err)

	if ce := s.log.Check(zap.DebugLevel, "docstore op"); ce != nil {
		ce.Write(
			zap.String("op", op),
			zap.Stringer("id", id),
			zap.String("key", key),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
	}

	return withContext(err, op, id.String(), key)
}
