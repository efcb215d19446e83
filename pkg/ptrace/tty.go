//go:build linux && amd64

package ptrace

import (
	"context"
	"io"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/creack/pty"

	"github.com/cfc-ptrace/cfc-ptrace/internal/errx"
)

// RunTTY is Run with the child's stdio on a fresh pseudo-terminal: the
// child becomes the session leader of its own pty while the tracer pumps
// bytes between the pty master and its own stdin/stdout. rows and cols
// set the initial terminal size; resize, if non-nil, carries subsequent
// size updates (typically fed from SIGWINCH by the caller, which also
// owns putting its own terminal into raw mode).
func (e *Engine) RunTTY(ctx context.Context, name string, args []string, rows, cols uint16, resize <-chan pty.Winsize) (int, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cmd := exec.Command(name, args...)
	ptmx, err := pty.StartWithAttrs(cmd,
		&pty.Winsize{Rows: rows, Cols: cols},
		&syscall.SysProcAttr{Ptrace: true, Setsid: true, Setctty: true},
	)
	if err != nil {
		return 0, errx.Wrap(ErrStartChild, err)
	}
	defer ptmx.Close()

	go func() { _, _ = io.Copy(ptmx, os.Stdin) }()
	go func() { _, _ = io.Copy(os.Stdout, ptmx) }()
	if resize != nil {
		go func() {
			for ws := range resize {
				_ = pty.Setsize(ptmx, &ws)
			}
		}()
	}

	return e.trace(ctx, cmd.Process.Pid)
}
