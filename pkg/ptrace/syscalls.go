//go:build linux && amd64

package ptrace

// x86_64 Linux syscall numbers this engine classifies: the minimum
// {openat, read, write, close} plus the extensions {pread64, pwrite64,
// lseek, fstat/newfstatat, unlinkat, renameat2, ftruncate}, plus chdir
// so relative paths keep classifying correctly after the child changes
// directory (fchdir is recognized but passes through without updating
// the tracked cwd). Fd-addressed syscalls the store has no
// equivalent for (ioctl, flock, fsync, fdatasync) fail with ENOSYS when
// aimed at a virtual descriptor. Everything else is passthrough.
const (
	sysRead       = 0
	sysWrite      = 1
	sysClose      = 3
	sysFstat      = 5
	sysLseek      = 8
	sysIoctl      = 16
	sysPread64    = 17
	sysPwrite64   = 18
	sysFlock      = 73
	sysFsync      = 74
	sysFdatasync  = 75
	sysFtruncate  = 77
	sysChdir      = 80
	sysFchdir     = 81
	sysOpenat     = 257
	sysNewfstatat = 262
	sysUnlinkat   = 263
	sysRenameat2  = 316
)

const atFDCWD = -100

// open(2) flag bits this engine cares about, matching the traced ABI
// (O_* constants are architecture-independent on Linux).
const (
	oAccmode = 0x3
	oWronly  = 0x1
	oRdwr    = 0x2
	oCreat   = 0x40
	oTrunc   = 0x200
	oAppend  = 0x400
)

// seek(2) whence values.
const (
	seekSet = 0
	seekCur = 1
	seekEnd = 2
)
