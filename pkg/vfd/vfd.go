// Package vfd tracks synthetic file descriptors the tracer fabricates for
// virtual files: a plain map keyed by an ever-increasing integer, since
// the tracer's main loop is single-threaded and services one syscall-stop
// at a time.
package vfd

import "errors"

// ErrNotFound is returned by Lookup, Advance, and Release for an fd the
// table doesn't know about.
var ErrNotFound = errors.New("vfd: descriptor not found")

// firstFD is chosen far above any fd the kernel is likely to hand out to
// the traced process, so a virtual fd can never collide with a real one.
const firstFD = 1000

// OpenFlags records the subset of open(2) flags that affect read/write/
// append/truncate semantics at the syscall layer.
type OpenFlags struct {
	ReadOnly  bool
	WriteOnly bool
	ReadWrite bool
	Append    bool
	Truncate  bool
	Create    bool
}

// Entry is one open virtual file.
type Entry struct {
	Path   string
	Cursor int64
	Flags  OpenFlags
}

// Table allocates and tracks virtual descriptors. Not safe for concurrent
// use; the tracer never needs it to be.
type Table struct {
	next    int
	entries map[int]*Entry
}

// New returns an empty Table whose first allocation is fd 1000.
func New() *Table {
	return &Table{next: firstFD, entries: map[int]*Entry{}}
}

// Allocate fabricates a fresh fd for path, monotonically increasing and
// never reused within a trace even after Release.
func (t *Table) Allocate(path string, flags OpenFlags) int {
	fd := t.next
	t.next++
	t.entries[fd] = &Entry{Path: path, Flags: flags}
	return fd
}

// Lookup returns the entry for fd, or ErrNotFound if fd is not open (or
// was never virtual in the first place, the caller's cue to pass the
// syscall through to the kernel instead).
func (t *Table) Lookup(fd int) (*Entry, error) {
	e, ok := t.entries[fd]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Advance moves fd's cursor by delta bytes, as after a read or write.
func (t *Table) Advance(fd int, delta int64) error {
	e, ok := t.entries[fd]
	if !ok {
		return ErrNotFound
	}
	e.Cursor += delta
	return nil
}

// SetCursor sets fd's cursor to an absolute position, as after an lseek.
func (t *Table) SetCursor(fd int, pos int64) error {
	e, ok := t.entries[fd]
	if !ok {
		return ErrNotFound
	}
	e.Cursor = pos
	return nil
}

// Release closes fd, freeing its entry without reusing the number.
func (t *Table) Release(fd int) error {
	if _, ok := t.entries[fd]; !ok {
		return ErrNotFound
	}
	delete(t.entries, fd)
	return nil
}

// IsVirtual reports whether fd is a currently open synthetic descriptor.
// A released fd and one never allocated both report false.
func (t *Table) IsVirtual(fd int) bool {
	_, ok := t.entries[fd]
	return ok
}
