package vfd

import "testing"

func TestAllocateStartsAt1000AndIncreasesMonotonically(t *testing.T) {
	tbl := New()

	fd1 := tbl.Allocate("/fs/a.txt", OpenFlags{ReadWrite: true})
	if fd1 != 1000 {
		t.Fatalf("expected first fd 1000, got %d", fd1)
	}

	fd2 := tbl.Allocate("/fs/b.txt", OpenFlags{ReadOnly: true})
	if fd2 != 1001 {
		t.Fatalf("expected second fd 1001, got %d", fd2)
	}
}

func TestReleaseThenLookupFails(t *testing.T) {
	tbl := New()
	fd := tbl.Allocate("/fs/a.txt", OpenFlags{})

	if err := tbl.Release(fd); err != nil {
		t.Fatalf("unexpected release error: %v", err)
	}
	if _, err := tbl.Lookup(fd); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after release, got %v", err)
	}
}

func TestFdNeverReusedAfterRelease(t *testing.T) {
	tbl := New()
	fd1 := tbl.Allocate("/fs/a.txt", OpenFlags{})
	tbl.Release(fd1)
	fd2 := tbl.Allocate("/fs/b.txt", OpenFlags{})

	if fd2 == fd1 {
		t.Fatalf("expected a fresh fd, got reused %d", fd2)
	}
	if fd2 != fd1+1 {
		t.Fatalf("expected monotone next fd %d, got %d", fd1+1, fd2)
	}
}

func TestAdvanceAndSetCursor(t *testing.T) {
	tbl := New()
	fd := tbl.Allocate("/fs/a.txt", OpenFlags{})

	if err := tbl.Advance(fd, 10); err != nil {
		t.Fatalf("unexpected advance error: %v", err)
	}
	entry, err := tbl.Lookup(fd)
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if entry.Cursor != 10 {
		t.Fatalf("expected cursor 10, got %d", entry.Cursor)
	}

	if err := tbl.SetCursor(fd, 4096); err != nil {
		t.Fatalf("unexpected set-cursor error: %v", err)
	}
	entry, _ = tbl.Lookup(fd)
	if entry.Cursor != 4096 {
		t.Fatalf("expected cursor 4096, got %d", entry.Cursor)
	}
}

func TestIsVirtualDistinguishesUnknownFds(t *testing.T) {
	tbl := New()
	fd := tbl.Allocate("/fs/a.txt", OpenFlags{})

	if !tbl.IsVirtual(fd) {
		t.Fatalf("expected allocated fd to be virtual")
	}
	if tbl.IsVirtual(3) {
		t.Fatalf("expected an unallocated low fd to not be virtual")
	}
}
