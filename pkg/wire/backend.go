package wire

import "context"

// Backend is implemented by the chunked file store (pkg/storage.Store) and
// driven by Server. It speaks plain Go types so pkg/wire never imports
// pkg/storage; errors that implement ClassifiedError are reported to the
// client with their errno class intact.
type Backend interface {
	Read(ctx context.Context, path string, offset, size int64) ([]byte, error)
	Write(ctx context.Context, path string, offset int64, data []byte) (bytesWritten, newSize int64, err error)
	Stat(ctx context.Context, path string) (FileInfo, error)
	Truncate(ctx context.Context, path string, size int64) (newSize int64, err error)
	Rename(ctx context.Context, oldPath, newPath string) error
	Unlink(ctx context.Context, path string) error
}
