// Package sqlite stores documents as rows in an embedded SQLite database.
//
// Unlike the file-backed mediums there is no in-memory snapshot and no
// marker lock: every operation runs in its own exclusive transaction and is
// durable once it returns. Concurrent processes are serialized by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"go.uber.org/zap"

	"github.com/calvinalkan/docstore/pkg/docstore"
	"github.com/calvinalkan/docstore/pkg/uid"
)

// schemaVersion is stored in SQLite's user_version pragma.
const schemaVersion = 1

// busyTimeout is how long a transaction waits for another process's
// exclusive lock before failing with SQLITE_BUSY.
const busyTimeout = 10000 // milliseconds

// Options configures a [Backend].
type Options struct {
	// Logger receives lifecycle logs. Defaults to a no-op logger.
	Logger *zap.Logger
}

type state uint8

const (
	stateNew state = iota
	stateOpen
	stateClosed
)

// Backend implements [docstore.Backend] on a SQLite database file.
type Backend struct {
	path  string
	log   *zap.Logger
	db    *sql.DB
	state state
}

var (
	_ docstore.Backend     = (*Backend)(nil)
	_ docstore.Snapshotter = (*Backend)(nil)
)

// New returns an unopened backend for the database at path.
func New(path string, opts Options) (*Backend, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is empty")
	}

	// The driver cuts the DSN at the first '?' to read its parameters.
	if strings.ContainsRune(path, '?') {
		return nil, fmt.Errorf("sqlite: path %q must not contain '?'", path)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Backend{path: path, log: log.With(zap.String("store", path))}, nil
}

// Open opens the database and creates the schema if needed. A database
// written by a newer schema version is refused.
func (b *Backend) Open(ctx context.Context) error {
	switch b.state {
	case stateOpen:
		return docstore.ErrAlreadyOpen
	case stateClosed:
		return docstore.ErrClosed
	}

	db, err := openSqlite(ctx, b.path)
	if err != nil {
		return docstore.Transport("open", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()

		if errors.Is(err, ErrSchemaTooNew) {
			return err
		}

		return docstore.Transport("migrate", err)
	}

	b.db = db
	b.state = stateOpen

	b.log.Info("store opened")

	return nil
}

// Close checkpoints the write-ahead log as requested by opts.Sync and closes
// the database. The backend is closed even if the checkpoint fails.
func (b *Backend) Close(ctx context.Context, opts docstore.CloseOptions) error {
	if err := b.check(); err != nil {
		return err
	}

	syncErr := b.checkpoint(ctx, opts.Sync)

	var closeErr error
	if err := b.db.Close(); err != nil {
		closeErr = docstore.Transport("close", err)
	}

	b.db = nil
	b.state = stateClosed

	b.log.Info("store closed")

	return errors.Join(syncErr, closeErr)
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

func (b *Backend) Get(ctx context.Context, id uid.UID, key string) ([]byte, bool, error) {
	var (
		data  []byte
		found bool
	)

	err := b.inTx(ctx, "get", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			"SELECT data FROM documents WHERE uid = ? AND dkey = ?", id.String(), key,
		).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}

		if err != nil {
			return err
		}

		found = true

		return nil
	})
	if err != nil || !found {
		return nil, false, err
	}

	return docstore.CloneBytes(data), true, nil
}

func (b *Backend) GetDocument(ctx context.Context, id uid.UID) (docstore.Document, error) {
	var doc docstore.Document

	err := b.inTx(ctx, "get document", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT dkey, data FROM documents WHERE uid = ?", id.String())
		if err != nil {
			return err
		}

		doc, err = scanDocument(rows)

		return err
	})
	if err != nil {
		return nil, err
	}

	if len(doc) == 0 {
		return nil, docstore.ErrNotFound
	}

	return doc, nil
}

func scanDocument(rows *sql.Rows) (docstore.Document, error) {
	defer rows.Close()

	doc := docstore.Document{}

	for rows.Next() {
		var (
			key  string
			data []byte
		)

		if err := rows.Scan(&key, &data); err != nil {
			return nil, err
		}

		doc[key] = docstore.CloneBytes(data)
	}

	return doc, rows.Err()
}

func (b *Backend) Put(ctx context.Context, id uid.UID, key string, data []byte) error {
	return b.inTx(ctx, "put", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO documents (uid, dkey, data) VALUES (?, ?, ?)",
			id.String(), key, docstore.CloneBytes(data))

		return err
	})
}

func (b *Backend) Delete(ctx context.Context, id uid.UID, key string) error {
	return b.inTx(ctx, "delete", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE uid = ? AND dkey = ?", id.String(), key)

		return err
	})
}

func (b *Backend) DeleteDocument(ctx context.Context, id uid.UID) error {
	var affected int64

	err := b.inTx(ctx, "delete document", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE uid = ?", id.String())
		if err != nil {
			return err
		}

		affected, err = res.RowsAffected()

		return err
	})
	if err != nil {
		return err
	}

	if affected == 0 {
		return docstore.ErrNotFound
	}

	return nil
}

// Sync checkpoints the write-ahead log. Every committed operation is already
// durable; with opts.Checkpoint the log is also truncated.
func (b *Backend) Sync(ctx context.Context, opts docstore.SyncOptions) error {
	if err := b.check(); err != nil {
		return err
	}

	return b.checkpoint(ctx, opts)
}

func (b *Backend) checkpoint(ctx context.Context, opts docstore.SyncOptions) error {
	mode := "PASSIVE"
	if opts.Checkpoint {
		mode = "TRUNCATE"
	}

	if _, err := b.db.ExecContext(ctx, "PRAGMA wal_checkpoint("+mode+")"); err != nil {
		return docstore.Transport("checkpoint", err)
	}

	b.log.Debug("wal checkpointed", zap.String("mode", mode))

	return nil
}

func (b *Backend) Count(ctx context.Context, id uid.UID) (int, error) {
	var n int

	err := b.inTx(ctx, "count", func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE uid = ?", id.String()).Scan(&n)
	})

	return n, err
}

func (b *Backend) Snapshot(ctx context.Context) (map[uid.UID]docstore.Document, error) {
	out := make(map[uid.UID]docstore.Document)

	err := b.inTx(ctx, "snapshot", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT uid, dkey, data FROM documents ORDER BY uid, dkey")
		if err != nil {
			return err
		}

		defer rows.Close()

		for rows.Next() {
			var (
				rawID, key string
				data       []byte
			)

			if err := rows.Scan(&rawID, &key, &data); err != nil {
				return err
			}

			id, err := uid.Parse(rawID)
			if err != nil {
				return fmt.Errorf("row %q: %w", rawID, err)
			}

			if out[id] == nil {
				out[id] = docstore.Document{}
			}

			out[id][key] = docstore.CloneBytes(data)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// inTx runs fn in its own exclusive transaction and commits it. Every error
// is reported as a transport failure.
func (b *Backend) inTx(ctx context.Context, what string, fn func(tx *sql.Tx) error) error {
	if err := b.check(); err != nil {
		return err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return docstore.Transport("begin "+what, err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return docstore.Transport(what, err)
	}

	if err := tx.Commit(); err != nil {
		return docstore.Transport("commit "+what, err)
	}

	committed = true

	return nil
}
