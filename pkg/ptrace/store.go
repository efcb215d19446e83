//go:build linux && amd64

package ptrace

import (
	"context"

	"github.com/cfc-ptrace/cfc-ptrace/pkg/wire"
)

// Store is the storage-service client surface the engine drives. It is
// satisfied by *wire.Client; declaring it locally lets engine tests
// substitute an in-memory fake without a real socket.
type Store interface {
	Read(ctx context.Context, path string, offset, size int64) ([]byte, error)
	Write(ctx context.Context, path string, offset int64, data []byte) (wire.WriteResult, error)
	Stat(ctx context.Context, path string) (wire.FileInfo, error)
	Truncate(ctx context.Context, path string, size int64) (int64, error)
	Rename(ctx context.Context, oldPath, newPath string) error
	Unlink(ctx context.Context, path string) error
}
