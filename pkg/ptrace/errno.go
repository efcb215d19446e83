//go:build linux && amd64

package ptrace

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/cfc-ptrace/cfc-ptrace/pkg/wire"
)

// negativeErrno translates a store error into the negative errno value a
// syscall return register should carry. Errors that don't
// classify (a memory-proxy fault, an unexpected Go error) fall back to
// -EIO; the one exception callers pass in directly is -EFAULT, which
// never flows through here.
func negativeErrno(err error) int64 {
	var wireErr *wire.WireError
	if errors.As(err, &wireErr) {
		switch wireErr.Kind {
		case wire.KindNotFound:
			return -int64(unix.ENOENT)
		case wire.KindExists:
			return -int64(unix.EEXIST)
		}
	}
	return -int64(unix.EIO)
}

const (
	errnoFault = -int64(unix.EFAULT)
	errnoNosys = -int64(unix.ENOSYS)
)
