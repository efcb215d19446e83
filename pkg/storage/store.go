// Package storage implements the chunked, randomly-addressable file store:
// a persistent path-to-bytes mapping built on fixed-size chunks keyed by
// (file_id, chunk_index) over a sqlite-backed relational substrate. It has
// no dependency on the syscall interception side of this module and is
// exercised directly by pkg/wire.Backend.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cfc-ptrace/cfc-ptrace/internal/errx"
	"github.com/cfc-ptrace/cfc-ptrace/internal/storedb"
	"github.com/cfc-ptrace/cfc-ptrace/pkg/wire"
)

// DefaultChunkSize is 512 KiB; tests use smaller sizes to exercise
// chunk-boundary behavior cheaply.
const DefaultChunkSize = 512 * 1024

// Store is the chunked file store. ChunkSize is fixed at construction and
// never changes for the lifetime of a database file.
type Store struct {
	db        *sql.DB
	chunkSize int64
}

// Options configures Open.
type Options struct {
	// Path is the sqlite file path, or ":memory:" for an ephemeral store.
	Path string
	// ChunkSize is the fixed chunk size C in bytes. Zero defaults to
	// DefaultChunkSize.
	ChunkSize int64
}

// Open opens or creates the store's database file and brings its schema
// up to date.
func Open(opts Options) (*Store, error) {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	db, err := storedb.Open(storedb.OpenOptions{
		Path:       opts.Path,
		Module:     storeModule,
		Migrations: migrations(),
	})
	if err != nil {
		return nil, errx.Wrap(ErrOpen, err)
	}
	return &Store{db: db, chunkSize: chunkSize}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func nowISO8601() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func (s *Store) lookupFileID(ctx context.Context, q querier, path string) (int64, bool, error) {
	var fileID int64
	err := q.QueryRowContext(ctx, `SELECT file_id FROM files WHERE filename = ?`, path).Scan(&fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errx.Wrap(ErrQuery, err)
	}
	return fileID, true, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting lookup helpers
// run inside or outside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Write locates or creates the file, rewrites each touched chunk by
// merging incoming bytes over any existing blob, then advances file_size
// monotonically.
func (s *Store) Write(ctx context.Context, path string, offset int64, data []byte) (int64, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, errx.Wrap(ErrTransaction, err)
	}
	defer tx.Rollback()

	fileID, prevSize, err := s.getOrCreateFile(ctx, tx, path)
	if err != nil {
		return 0, 0, err
	}

	if len(data) > 0 {
		if err := s.writeChunks(ctx, tx, fileID, offset, data); err != nil {
			return 0, 0, err
		}
	}

	newSize := prevSize
	if end := offset + int64(len(data)); end > newSize {
		newSize = end
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE files SET file_size = ?, modified_at = ? WHERE file_id = ?`,
		newSize, nowISO8601(), fileID,
	); err != nil {
		return 0, 0, errx.Wrap(ErrExec, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, errx.Wrap(ErrTransaction, err)
	}
	return int64(len(data)), newSize, nil
}

func (s *Store) getOrCreateFile(ctx context.Context, tx *sql.Tx, path string) (int64, int64, error) {
	var fileID, fileSize int64
	err := tx.QueryRowContext(ctx, `SELECT file_id, file_size FROM files WHERE filename = ?`, path).
		Scan(&fileID, &fileSize)
	if errors.Is(err, sql.ErrNoRows) {
		now := nowISO8601()
		res, execErr := tx.ExecContext(ctx,
			`INSERT INTO files (filename, file_size, created_at, modified_at) VALUES (?, 0, ?, ?)`,
			path, now, now,
		)
		if execErr != nil {
			return 0, 0, errx.Wrap(ErrExec, execErr)
		}
		fileID, err = res.LastInsertId()
		if err != nil {
			return 0, 0, errx.Wrap(ErrExec, err)
		}
		return fileID, 0, nil
	}
	if err != nil {
		return 0, 0, errx.Wrap(ErrQuery, err)
	}
	return fileID, fileSize, nil
}

// writeChunks performs the per-chunk merge: for every chunk the write
// touches, fetch any existing blob, overlay the
// incoming bytes at the chunk-relative offset, and grow the blob only as
// far as the highest written byte (it is not padded out to C).
func (s *Store) writeChunks(ctx context.Context, tx *sql.Tx, fileID, offset int64, data []byte) error {
	c := s.chunkSize
	cursor := offset
	remaining := data

	for len(remaining) > 0 {
		chunkIndex := cursor / c
		offInChunk := cursor % c
		n := c - offInChunk
		if n > int64(len(remaining)) {
			n = int64(len(remaining))
		}
		incoming := remaining[:n]

		existing, exists, err := s.fetchChunk(ctx, tx, fileID, chunkIndex)
		if err != nil {
			return err
		}

		needed := offInChunk + n
		if exists && int64(len(existing)) > needed {
			needed = int64(len(existing))
		}
		blob := make([]byte, needed)
		if exists {
			copy(blob, existing)
		}
		copy(blob[offInChunk:], incoming)

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO file_chunks (file_id, chunk_index, chunk_data, chunk_size) VALUES (?, ?, ?, ?)
			 ON CONFLICT(file_id, chunk_index) DO UPDATE SET chunk_data = excluded.chunk_data, chunk_size = excluded.chunk_size`,
			fileID, chunkIndex, blob, len(blob),
		); err != nil {
			return errx.Wrap(ErrExec, err)
		}

		remaining = remaining[n:]
		cursor += n
	}
	return nil
}

func (s *Store) fetchChunk(ctx context.Context, q querier, fileID, chunkIndex int64) ([]byte, bool, error) {
	var blob []byte
	err := q.QueryRowContext(ctx,
		`SELECT chunk_data FROM file_chunks WHERE file_id = ? AND chunk_index = ?`,
		fileID, chunkIndex,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errx.Wrap(ErrQuery, err)
	}
	return blob, true, nil
}

// Read assembles the requested range from its overlapping chunks,
// zero-filling any missing or short chunks within an otherwise-present
// range and erroring only when the file has no chunks at all in the
// requested span. Bytes past file_size are zeroed, so stale chunk data
// left behind by a metadata-only truncate never reads back.
func (s *Store) Read(ctx context.Context, path string, offset, size int64) ([]byte, error) {
	var fileID, fileSize int64
	err := s.db.QueryRowContext(ctx,
		`SELECT file_id, file_size FROM files WHERE filename = ?`, path,
	).Scan(&fileID, &fileSize)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newStoreError(ErrFileNotFound, classNotFound, nil)
	}
	if err != nil {
		return nil, errx.Wrap(ErrQuery, err)
	}
	if size == 0 {
		return []byte{}, nil
	}

	c := s.chunkSize
	startChunk := offset / c
	endChunk := (offset + size - 1) / c

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_index, chunk_data FROM file_chunks
		 WHERE file_id = ? AND chunk_index BETWEEN ? AND ?
		 ORDER BY chunk_index`,
		fileID, startChunk, endChunk,
	)
	if err != nil {
		return nil, errx.Wrap(ErrQuery, err)
	}
	defer rows.Close()

	out := make([]byte, size)
	sawChunk := false
	for rows.Next() {
		var chunkIndex int64
		var blob []byte
		if err := rows.Scan(&chunkIndex, &blob); err != nil {
			return nil, errx.Wrap(ErrQuery, err)
		}
		sawChunk = true

		chunkStart := chunkIndex * c
		chunkEnd := chunkStart + int64(len(blob))
		overlapStart := maxInt64(offset, chunkStart)
		overlapEnd := minInt64(offset+size, chunkEnd)
		if overlapStart >= overlapEnd {
			continue
		}
		copy(out[overlapStart-offset:overlapEnd-offset], blob[overlapStart-chunkStart:overlapEnd-chunkStart])
	}
	if err := rows.Err(); err != nil {
		return nil, errx.Wrap(ErrQuery, err)
	}
	if !sawChunk {
		return nil, newStoreError(ErrChunkNotFound, classIO, nil)
	}
	if end := offset + size; end > fileSize {
		clipFrom := fileSize - offset
		if clipFrom < 0 {
			clipFrom = 0
		}
		clear(out[clipFrom:])
	}
	return out, nil
}

// Stat returns the file's metadata row. It satisfies wire.Backend's Stat
// directly (no adapter type), so the storage service can hand a *Store to
// wire.NewServer as-is.
func (s *Store) Stat(ctx context.Context, path string) (wire.FileInfo, error) {
	var size int64
	var createdAt, modifiedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT file_size, created_at, modified_at FROM files WHERE filename = ?`, path,
	).Scan(&size, &createdAt, &modifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return wire.FileInfo{}, newStoreError(ErrFileNotFound, classNotFound, nil)
	}
	if err != nil {
		return wire.FileInfo{}, errx.Wrap(ErrQuery, err)
	}
	return wire.FileInfo{FileSize: size, CreatedAt: createdAt, ModifiedAt: modifiedAt}, nil
}

// Truncate updates file_size metadata only: chunk rows beyond the new
// size are left in place rather than physically trimmed, and Read zeroes
// any requested bytes past file_size.
func (s *Store) Truncate(ctx context.Context, path string, newSize int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET file_size = ?, modified_at = ? WHERE filename = ?`,
		newSize, nowISO8601(), path,
	)
	if err != nil {
		return 0, errx.Wrap(ErrExec, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errx.Wrap(ErrExec, err)
	}
	if n == 0 {
		return 0, newStoreError(ErrFileNotFound, classNotFound, nil)
	}
	return newSize, nil
}

// Rename is atomic: it fails if newPath already names a file, otherwise
// it repoints filename under a single transaction.
func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errx.Wrap(ErrTransaction, err)
	}
	defer tx.Rollback()

	if _, exists, err := s.lookupFileID(ctx, tx, newPath); err != nil {
		return err
	} else if exists {
		return newStoreError(ErrDestinationExist, classExists, nil)
	}

	res, err := tx.ExecContext(ctx, `UPDATE files SET filename = ? WHERE filename = ?`, newPath, oldPath)
	if err != nil {
		return errx.Wrap(ErrExec, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errx.Wrap(ErrExec, err)
	}
	if n == 0 {
		return newStoreError(ErrFileNotFound, classNotFound, nil)
	}
	if err := tx.Commit(); err != nil {
		return errx.Wrap(ErrTransaction, err)
	}
	return nil
}

// Unlink deletes the file row and (via ON DELETE CASCADE) all its chunks.
func (s *Store) Unlink(ctx context.Context, path string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE filename = ?`, path)
	if err != nil {
		return errx.Wrap(ErrExec, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errx.Wrap(ErrExec, err)
	}
	if n == 0 {
		return newStoreError(ErrFileNotFound, classNotFound, nil)
	}
	return nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
