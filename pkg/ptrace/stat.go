//go:build linux && amd64

package ptrace

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cfc-ptrace/cfc-ptrace/pkg/procmem"
	"github.com/cfc-ptrace/cfc-ptrace/pkg/wire"
)

// writeStatBuffer fabricates a struct stat for a virtual file and copies
// it into the child's buffer. Copying stops at the first word the child
// has not mapped, and that case is returned as an error alongside the
// partial count. Only the fields a virtual file can meaningfully have
// (size, a plain-file mode, a single link) are populated; timestamps are
// left zero since the store only tracks ISO-8601 strings, not the
// kernel's timespec encoding.
func writeStatBuffer(mem *procmem.Proxy, addr uint64, info wire.FileInfo) (int, error) {
	var st unix.Stat_t
	st.Size = info.FileSize
	st.Mode = unix.S_IFREG | 0o644
	st.Nlink = 1
	st.Blksize = 4096
	st.Blocks = (info.FileSize + 511) / 512

	raw := (*[unsafe.Sizeof(unix.Stat_t{})]byte)(unsafe.Pointer(&st))[:]
	return mem.WriteBuffer(addr, raw)
}
