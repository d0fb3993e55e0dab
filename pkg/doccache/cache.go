// Package doccache holds the in-memory snapshot shared by the file-backed
// mediums.
//
// A [Cache] knows nothing about where its bytes live. It is built from four
// hooks supplied by a medium: read the full serialized snapshot, overwrite it,
// take the medium's lock and release it. The lock is taken once when the
// cache is created and released once when it is closed; every read and
// mutation in between happens in memory. [Cache.Sync] serializes the entire
// snapshot, never a delta.
//
// [Backend] adapts a Cache to the docstore.Backend contract for any
// [Medium].
package doccache

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/calvinalkan/docstore/pkg/docstore"
	"github.com/calvinalkan/docstore/pkg/uid"
)

// ErrCorrupt reports a persisted snapshot that could not be decoded.
var ErrCorrupt = errors.New("corrupt snapshot")

// Hooks connect a [Cache] to its medium.
type Hooks struct {
	// Read returns the full serialized snapshot. Zero bytes means an empty
	// store.
	Read func() ([]byte, error)

	// Overwrite replaces the persisted snapshot with data.
	Overwrite func(data []byte) error

	// SetLock tries to take the medium's lock without waiting.
	SetLock func() (bool, error)

	// ReleaseLock releases the lock taken by SetLock.
	ReleaseLock func() error
}

func (h *Hooks) validate() error {
	var missing []string

	if h.Read == nil {
		missing = append(missing, "Read")
	}

	if h.Overwrite == nil {
		missing = append(missing, "Overwrite")
	}

	if h.SetLock == nil {
		missing = append(missing, "SetLock")
	}

	if h.ReleaseLock == nil {
		missing = append(missing, "ReleaseLock")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing hooks: %s", strings.Join(missing, ", "))
	}

	return nil
}

// Cache is a full in-memory snapshot of every document.
//
// Documents returned by [Cache.Get] are live: mutating them mutates the
// snapshot. Cache is not safe for concurrent use.
//
// After [Cache.Close] every method returns [docstore.ErrClosed].
type Cache struct {
	hooks *Hooks
	codec Codec
	docs  map[uid.UID]docstore.Document
}

// New takes the lock and loads the snapshot.
//
// If the lock is unavailable, New fails with [docstore.ErrLockUnavailable]
// without reading. If reading or decoding fails after the lock was taken,
// the lock is released before New returns. A nil codec selects [JSON].
func New(hooks Hooks, codec Codec) (*Cache, error) {
	if err := hooks.validate(); err != nil {
		return nil, err
	}

	if codec == nil {
		codec = JSON{}
	}

	locked, err := hooks.SetLock()
	if err != nil {
		return nil, fmt.Errorf("set lock: %w", err)
	}

	if !locked {
		return nil, docstore.ErrLockUnavailable
	}

	docs, err := load(hooks.Read, codec)
	if err != nil {
		if releaseErr := hooks.ReleaseLock(); releaseErr != nil {
			err = errors.Join(err, fmt.Errorf("release lock: %w", releaseErr))
		}

		return nil, err
	}

	return &Cache{hooks: &hooks, codec: codec, docs: docs}, nil
}

func load(read func() ([]byte, error), codec Codec) (map[uid.UID]docstore.Document, error) {
	raw, err := read()
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	if len(raw) == 0 {
		return make(map[uid.UID]docstore.Document), nil
	}

	wire, err := codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, codec.Name(), err)
	}

	docs := make(map[uid.UID]docstore.Document, len(wire))

	for rawID, entries := range wire {
		id, err := uid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}

		// Documents without keys do not exist.
		if len(entries) == 0 {
			continue
		}

		doc := make(docstore.Document, len(entries))
		for k, v := range entries {
			if err := docstore.ValidateKey(k); err != nil {
				return nil, fmt.Errorf("%w: document %s: %w", ErrCorrupt, id, err)
			}

			doc[k] = docstore.CloneBytes(v)
		}

		docs[id] = doc
	}

	return docs, nil
}

func (c *Cache) check() error {
	if c.hooks == nil {
		return docstore.ErrClosed
	}

	return nil
}

// Get returns the live document for id.
func (c *Cache) Get(id uid.UID) (docstore.Document, bool, error) {
	if err := c.check(); err != nil {
		return nil, false, err
	}

	doc, ok := c.docs[id]

	return doc, ok, nil
}

// Set stores doc under id, replacing any existing document.
func (c *Cache) Set(id uid.UID, doc docstore.Document) error {
	if err := c.check(); err != nil {
		return err
	}

	c.docs[id] = doc

	return nil
}

// Delete removes the document for id and reports whether it existed.
func (c *Cache) Delete(id uid.UID) (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}

	_, ok := c.docs[id]
	delete(c.docs, id)

	return ok, nil
}

// Len returns the number of documents.
func (c *Cache) Len() (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}

	return len(c.docs), nil
}

// Keys returns all identifiers in ascending order.
func (c *Cache) Keys() ([]uid.UID, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	return c.sortedIDs(), nil
}

// Values returns all live documents ordered by identifier.
func (c *Cache) Values() ([]docstore.Document, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	ids := c.sortedIDs()
	out := make([]docstore.Document, len(ids))

	for i, id := range ids {
		out[i] = c.docs[id]
	}

	return out, nil
}

// All returns an iterator over (identifier, live document) pairs ordered by
// identifier. The iterator stops early if the cache is closed mid-iteration.
func (c *Cache) All() (iter.Seq2[uid.UID, docstore.Document], error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	ids := c.sortedIDs()

	return func(yield func(uid.UID, docstore.Document) bool) {
		for _, id := range ids {
			if c.hooks == nil {
				return
			}

			doc, ok := c.docs[id]
			if !ok {
				continue
			}

			if !yield(id, doc) {
				return
			}
		}
	}, nil
}

// Snapshot returns a deep copy of every document.
func (c *Cache) Snapshot() (map[uid.UID]docstore.Document, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	out := make(map[uid.UID]docstore.Document, len(c.docs))
	for id, doc := range c.docs {
		out[id] = doc.Clone()
	}

	return out, nil
}

// Sync serializes the whole snapshot and overwrites the persisted copy. The
// lock stays held.
func (c *Cache) Sync() error {
	if err := c.check(); err != nil {
		return err
	}

	return c.sync()
}

func (c *Cache) sync() error {
	wire := make(Wire, len(c.docs))
	for id, doc := range c.docs {
		wire[id.String()] = doc
	}

	data, err := c.codec.Encode(wire)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := c.hooks.Overwrite(data); err != nil {
		return fmt.Errorf("overwrite snapshot: %w", err)
	}

	return nil
}

// Close syncs, releases the lock and discards the snapshot and hooks.
//
// The lock is released and the cache closed even if the sync fails; the
// errors are joined. A second Close returns [docstore.ErrClosed].
func (c *Cache) Close() error {
	if err := c.check(); err != nil {
		return err
	}

	syncErr := c.sync()

	var releaseErr error
	if err := c.hooks.ReleaseLock(); err != nil {
		releaseErr = fmt.Errorf("release lock: %w", err)
	}

	c.hooks = nil
	c.docs = nil

	return errors.Join(syncErr, releaseErr)
}

func (c *Cache) sortedIDs() []uid.UID {
	ids := make([]uid.UID, 0, len(c.docs))
	for id := range c.docs {
		ids = append(ids, id)
	}

	slices.SortFunc(ids, func(a, b uid.UID) int {
		return strings.Compare(a.String(), b.String())
	})

	return ids
}
