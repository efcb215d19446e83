//go:build linux && amd64

package ptrace

import (
	"syscall"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/cfc-ptrace/cfc-ptrace/pkg/wire"
)

func TestDecodeOpenFlagsAccessMode(t *testing.T) {
	ro := decodeOpenFlags(0)
	if !ro.ReadOnly || ro.WriteOnly || ro.ReadWrite {
		t.Fatalf("expected read-only decode, got %+v", ro)
	}

	wo := decodeOpenFlags(oWronly)
	if wo.ReadOnly || !wo.WriteOnly || wo.ReadWrite {
		t.Fatalf("expected write-only decode, got %+v", wo)
	}

	rw := decodeOpenFlags(oRdwr)
	if rw.ReadOnly || rw.WriteOnly || !rw.ReadWrite {
		t.Fatalf("expected read-write decode, got %+v", rw)
	}
}

func TestDecodeOpenFlagsAppendTruncCreate(t *testing.T) {
	f := decodeOpenFlags(oWronly | oAppend | oTrunc | oCreat)
	if !f.WriteOnly || !f.Append || !f.Truncate || !f.Create {
		t.Fatalf("expected all auxiliary bits set, got %+v", f)
	}
}

func TestNegativeErrnoMapsWireKinds(t *testing.T) {
	cases := []struct {
		kind string
		want int64
	}{
		{wire.KindNotFound, -int64(unix.ENOENT)},
		{wire.KindExists, -int64(unix.EEXIST)},
		{wire.KindIO, -int64(unix.EIO)},
	}
	for _, c := range cases {
		got := negativeErrno(&wire.WireError{Kind: c.kind, Message: "x"})
		if got != c.want {
			t.Fatalf("kind %s: expected %d, got %d", c.kind, c.want, got)
		}
	}
}

func TestNegativeErrnoFallsBackToEIOForUnclassifiedErrors(t *testing.T) {
	got := negativeErrno(errUnclassified{})
	if got != -int64(unix.EIO) {
		t.Fatalf("expected -EIO fallback, got %d", got)
	}
}

type errUnclassified struct{}

func (errUnclassified) Error() string { return "boom" }

func TestIsNotFound(t *testing.T) {
	if !isNotFound(&wire.WireError{Kind: wire.KindNotFound}) {
		t.Fatalf("expected KindNotFound to be reported as not-found")
	}
	if isNotFound(&wire.WireError{Kind: wire.KindIO}) {
		t.Fatalf("expected KindIO to not be reported as not-found")
	}
}

func TestTransportLostSparesClassifiedStoreErrors(t *testing.T) {
	if transportLost(&wire.WireError{Kind: wire.KindIO, Message: "short read"}) {
		t.Fatalf("a classified store error must not count as transport loss")
	}
	if !transportLost(errUnclassified{}) {
		t.Fatalf("an unclassified error must count as transport loss")
	}
}

func TestIsSyscallStopDistinguishesSignalDelivery(t *testing.T) {
	syscallStop := unix.WaitStatus(syscall.SIGTRAP|0x80)<<8 | 0x7f
	if !isSyscallStop(syscallStop) {
		t.Fatalf("expected a SIGTRAP|0x80 stop to be classified as a syscall-stop")
	}

	signalStop := unix.WaitStatus(syscall.SIGSTOP)<<8 | 0x7f
	if isSyscallStop(signalStop) {
		t.Fatalf("expected a plain SIGSTOP stop to not be classified as a syscall-stop")
	}
}
