// Command helper is the tiny traced program tests/acceptance execs under
// cfc-ptrace. It never links against this module; it only issues the
// open/read/write/close/rename/unlink syscalls the end-to-end scenarios
// exercise, using plain os/unix calls exactly as any real traced binary
// would, so the ptrace engine sees ordinary syscall traffic rather than
// anything aware it's being intercepted.
package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: helper <scenario> [args...]")
		os.Exit(2)
	}
	switch os.Args[1] {
	case "writeread":
		writeRead(os.Args[2], os.Args[3])
	case "overwrite":
		overwrite(os.Args[2])
	case "passthrough":
		passthrough(os.Args[2])
	case "rename-collision":
		renameCollision(os.Args[2], os.Args[3])
	case "unlink-reopen":
		unlinkReopen(os.Args[2])
	case "closed-fd":
		closedFD(os.Args[2])
	case "large-pattern":
		largePattern(os.Args[2])
	case "virtual-fd":
		virtualFD(os.Args[2])
	default:
		fmt.Fprintf(os.Stderr, "unknown scenario %q\n", os.Args[1])
		os.Exit(2)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// writeRead writes text at offset 0, reads it back, and confirms the
// bytes round-trip.
func writeRead(path, text string) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		die("open: %v", err)
	}
	defer f.Close()

	if _, err := f.Write([]byte(text)); err != nil {
		die("write: %v", err)
	}

	buf := make([]byte, len(text))
	if _, err := f.ReadAt(buf, 0); err != nil {
		die("read: %v", err)
	}
	if string(buf) != text {
		die("mismatch: got %q want %q", buf, text)
	}
	os.Exit(0)
}

// overwrite checks that a partial overlapping write lands inside the
// earlier one.
func overwrite(path string) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		die("open: %v", err)
	}
	defer f.Close()

	if _, err := f.WriteAt([]byte("ABCDE"), 0); err != nil {
		die("write1: %v", err)
	}
	if _, err := f.WriteAt([]byte("xy"), 1); err != nil {
		die("write2: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := f.ReadAt(buf, 0); err != nil {
		die("read: %v", err)
	}
	if string(buf) != "AxyDE" {
		die("mismatch: got %q want AxyDE", buf)
	}
	os.Exit(0)
}

// passthrough reads a path outside the virtual root, which must reach
// the real kernel untouched by the store.
func passthrough(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		die("read: %v", err)
	}
	if len(data) == 0 {
		die("expected non-empty file")
	}
	os.Exit(0)
}

// renameCollision renames onto an existing path, which must fail with
// EEXIST. Exits 42 when that's what happened.
func renameCollision(a, b string) {
	mustCreate(a)
	mustCreate(b)
	err := unix.Renameat2(unix.AT_FDCWD, a, unix.AT_FDCWD, b, 0)
	if err == unix.EEXIST {
		os.Exit(42)
	}
	die("expected EEXIST, got %v", err)
}

// unlinkReopen unlinks then reopens, which must fail with ENOENT.
// Exits 42 when that's what happened.
func unlinkReopen(path string) {
	mustCreate(path)
	if err := unix.Unlinkat(unix.AT_FDCWD, path, 0); err != nil {
		die("unlink: %v", err)
	}
	_, err := os.Open(path)
	if os.IsNotExist(err) {
		os.Exit(42)
	}
	die("expected ENOENT, got %v", err)
}

// closedFD reads a closed virtual fd, which must return EBADF.
// Exits 42 when that's what happened.
func closedFD(path string) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		die("open: %v", err)
	}
	fd := int(f.Fd())
	if err := f.Close(); err != nil {
		die("close: %v", err)
	}

	buf := make([]byte, 1)
	_, err = unix.Read(fd, buf)
	if err == unix.EBADF {
		os.Exit(42)
	}
	die("expected EBADF, got %v", err)
}

// largePattern writes a multi-chunk deterministic byte pattern and
// checks it reads back unchanged.
func largePattern(path string) {
	const n = 3000
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 256)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		die("open: %v", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		die("write: %v", err)
	}
	got := make([]byte, n)
	if _, err := f.ReadAt(got, 0); err != nil {
		die("read: %v", err)
	}
	for i := range data {
		if got[i] != data[i] {
			die("mismatch at %d: got %d want %d", i, got[i], data[i])
		}
	}
	os.Exit(0)
}

// virtualFD opens a path under the virtual root, which must yield a
// fabricated descriptor numbered 1000 or above. Exits 42 when that's
// what happened.
func virtualFD(path string) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0644)
	if err != nil {
		die("open: %v", err)
	}
	defer unix.Close(fd)
	if fd >= 1000 {
		os.Exit(42)
	}
	die("expected fd >= 1000, got %d", fd)
}

// mustCreate writes a byte rather than just opening: a virtual file only
// materializes in the store on its first write, and the scenarios using
// this need the file to actually exist afterwards.
func mustCreate(path string) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		die("create %s: %v", path, err)
	}
	if _, err := f.Write([]byte("x")); err != nil {
		die("create %s: %v", path, err)
	}
	f.Close()
}
