// Package docstore is a document-oriented key-value store over pluggable
// storage mediums.
//
// A document is addressed by a [uid.UID] and holds a flat mapping of short
// string keys to bounded byte payloads. [Storage] validates inputs and
// delegates to a [Backend]. Three mediums implement [Backend]:
//
//   - local: a file on the local filesystem, cached in memory and guarded by
//     an advisory lock (package docstore/local)
//   - remote: a file on an FTP or SFTP server, cached in memory, written
//     with round-trip verification and no lock (package docstore/remote)
//   - sqlite: an embedded SQLite database with one exclusive transaction per
//     operation (package docstore/sqlite)
//
// The file-backed mediums keep the whole store in memory between Open and
// Close. Mutations are volatile until [Storage.Sync] or [Storage.Close].
//
// # Concurrency
//
// The store targets one writer at a time across processes. The local medium
// refuses to open while another process holds its lock marker; the remote
// medium has no such protection and concurrent writers overwrite each
// other's synced snapshots. Only the sqlite medium offers real isolation.
//
// # Errors
//
// All [Storage] methods return *[Error] carrying the operation, identifier
// and key. Match causes with errors.Is against [ErrValidation],
// [ErrNotFound], [ErrLockUnavailable], [ErrTransport], [ErrConsistency] and
// [ErrClosed].
package docstore
