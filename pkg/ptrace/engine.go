//go:build linux && amd64

// Package ptrace implements the syscall interception engine: it forks a
// traced child, single-steps every syscall entry and exit, classifies
// each one, and for virtual paths neutralizes the real syscall and
// fabricates its result from a remote chunked file store instead
// of the real filesystem. It is the component that drives pkg/pathclass,
// pkg/vfd, pkg/procmem, and pkg/wire together.
package ptrace

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/cfc-ptrace/cfc-ptrace/internal/errx"
	"github.com/cfc-ptrace/cfc-ptrace/pkg/logging"
	"github.com/cfc-ptrace/cfc-ptrace/pkg/pathclass"
	"github.com/cfc-ptrace/cfc-ptrace/pkg/procmem"
	"github.com/cfc-ptrace/cfc-ptrace/pkg/vfd"
)

// Engine drives one traced process from fork/exec through exit.
type Engine struct {
	classifier *pathclass.Classifier
	fds        *vfd.Table
	store      Store
	log        *logging.Emitter
}

// New builds an Engine. log may be nil.
func New(classifier *pathclass.Classifier, store Store, log *logging.Emitter) *Engine {
	return &Engine{classifier: classifier, fds: vfd.New(), store: store, log: log}
}

func (e *Engine) emit(eventType, summary string, data any) {
	if e.log == nil {
		return
	}
	_ = e.log.Emit(eventType, summary, nil, data)
}

// pendingCall carries state from a syscall's entry-stop to its exit-stop.
// All remote I/O and child-memory writes happen at entry, right after the
// syscall is neutralized (the kernel's getpid can't observe or corrupt
// them); the exit-stop only has to install the fabricated return value.
type pendingCall struct {
	fabricate bool
	rv        int64
	// chdirPath is set only for chdir, which is tracked passively rather
	// than fabricated: see entryChdir.
	chdirPath string
	// fatalErr records a lost storage transport. Store-level failures are
	// fabricated as negative errnos; losing the transport itself tears the
	// whole trace down instead.
	fatalErr error
}

// Run forks, execs name with args under ptrace on the tracer's own
// stdio, and services syscall-stops until the child exits or is killed.
// It returns the exit code to propagate.
func (e *Engine) Run(ctx context.Context, name string, args []string) (int, error) {
	// PTRACE_* operations are bound to the calling OS thread; the tracer
	// must issue every wait/cont call from the same thread that observed
	// the child's initial stop.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cmd := exec.Command(name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		return 0, errx.Wrap(ErrStartChild, err)
	}
	return e.trace(ctx, cmd.Process.Pid)
}

// trace owns the syscall-stop loop for an already-started child that is
// sitting in its post-exec SIGTRAP stop. The caller must hold the OS
// thread locked for the duration.
func (e *Engine) trace(ctx context.Context, pid int) (int, error) {
	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return 0, errx.Wrap(ErrWait, err)
	}
	if err := unix.PtraceSetOptions(pid, unix.PTRACE_O_TRACESYSGOOD); err != nil {
		return 0, errx.Wrap(ErrPtraceSetup, err)
	}

	mem := procmem.New(pid)
	inSyscall := false
	var pending *pendingCall

	if err := unix.PtraceSyscall(pid, 0); err != nil {
		return 0, errx.Wrap(ErrPtraceSetup, err)
	}

	for {
		if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
			return 0, errx.Wrap(ErrWait, err)
		}

		switch {
		case ws.Exited():
			e.emit(logging.EventChildExit, "child exited", logging.ChildExitData{ExitCode: ws.ExitStatus()})
			return ws.ExitStatus(), nil

		case ws.Signaled():
			e.emit(logging.EventChildExit, "child terminated by signal",
				logging.ChildExitData{Signaled: true, Signal: int(ws.Signal())})
			return 128 + int(ws.Signal()), nil

		case ws.Stopped() && isSyscallStop(ws):
			if !inSyscall {
				pending = e.handleEntry(ctx, mem)
				if pending != nil && pending.fatalErr != nil {
					e.emit(logging.EventTransportError, "storage transport lost",
						logging.TransportErrorData{Detail: pending.fatalErr.Error()})
					_ = unix.Kill(pid, unix.SIGKILL)
					return 0, errx.Wrap(ErrTransportLost, pending.fatalErr)
				}
				inSyscall = true
			} else {
				e.handleExit(mem, pending)
				inSyscall = false
				pending = nil
			}
			if err := unix.PtraceSyscall(pid, 0); err != nil {
				_ = unix.Kill(pid, unix.SIGKILL)
				return 0, errx.Wrap(ErrTransportLost, err)
			}

		case ws.Stopped():
			// A non-syscall signal-delivery stop: re-inject the signal on
			// continue. A fatal signal then terminates the child, which the
			// next wait reports as a signaled exit.
			sig := ws.StopSignal()
			if err := unix.PtraceSyscall(pid, int(sig)); err != nil {
				_ = unix.Kill(pid, unix.SIGKILL)
				return 0, errx.Wrap(ErrChildKilled, err)
			}

		default:
			if err := unix.PtraceSyscall(pid, 0); err != nil {
				return 0, errx.Wrap(ErrWait, err)
			}
		}
	}
}

// isSyscallStop distinguishes a syscall entry/exit stop from an ordinary
// signal-delivery stop: with PTRACE_O_TRACESYSGOOD set, the former always
// reports SIGTRAP with the high bit (0x80) set.
func isSyscallStop(ws unix.WaitStatus) bool {
	return ws.StopSignal() == syscall.SIGTRAP|0x80
}
