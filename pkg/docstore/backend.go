package docstore

import (
	"context"
	"maps"

	"github.com/calvinalkan/docstore/pkg/uid"
)

// Document is the key to payload mapping addressed by one identifier.
type Document map[string][]byte

// Clone returns a deep copy of d. Payload slices are not shared.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}

	out := make(Document, len(d))
	for k, v := range d {
		out[k] = CloneBytes(v)
	}

	return out
}

// Equal reports whether d and other hold the same keys and payloads.
func (d Document) Equal(other Document) bool {
	return maps.EqualFunc(d, other, func(a, b []byte) bool {
		return string(a) == string(b)
	})
}

// CloneBytes returns a copy of b. A nil input yields an empty, non-nil slice
// so stored payloads are always distinguishable from "absent".
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)

	return out
}

// SyncOptions configures a sync. The zero value is the default for every
// medium.
type SyncOptions struct {
	// Checkpoint asks the sqlite medium to truncate its write-ahead log into
	// the main database file. Ignored by the file-backed mediums, whose sync
	// always writes the full snapshot.
	Checkpoint bool
}

// CloseOptions configures a close.
type CloseOptions struct {
	// Sync is used for the final sync performed by Close.
	Sync SyncOptions
}

// Backend is the contract every storage medium satisfies.
//
// Backends do not validate keys, identifiers or payload sizes; [Storage] does
// that before delegating. A Backend is used by one goroutine at a time.
//
// Lifecycle: Open once, use, Close once. Calls before Open fail with
// [ErrNotOpen]; calls after Close fail with [ErrClosed].
type Backend interface {
	// Open connects to the medium and, for file-backed mediums, takes the lock
	// and loads the whole store into memory.
	Open(ctx context.Context) error

	// Close syncs, releases the lock and drops all in-memory state.
	Close(ctx context.Context, opts CloseOptions) error

	// Get returns the payload stored under key. found is false if either the
	// document or the key is absent.
	Get(ctx context.Context, id uid.UID, key string) (data []byte, found bool, err error)

	// GetDocument returns a copy of the whole document, or [ErrNotFound].
	GetDocument(ctx context.Context, id uid.UID) (Document, error)

	// Put inserts or overwrites key, creating the document if needed.
	Put(ctx context.Context, id uid.UID, key string, data []byte) error

	// Delete removes key. Absent keys and documents are a no-op.
	Delete(ctx context.Context, id uid.UID, key string) error

	// DeleteDocument removes the whole document, or returns [ErrNotFound].
	DeleteDocument(ctx context.Context, id uid.UID) error

	// Sync flushes pending mutations to the medium's persistent store.
	Sync(ctx context.Context, opts SyncOptions) error

	// Count returns the number of keys in the document, 0 if absent.
	Count(ctx context.Context, id uid.UID) (int, error)
}

// Snapshotter is implemented by backends that can enumerate every document.
type Snapshotter interface {
	// Snapshot returns a deep copy of all documents.
	Snapshot(ctx context.Context) (map[uid.UID]Document, error)
}
