//go:build linux && amd64

package main

import (
	"context"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/cfc-ptrace/cfc-ptrace/pkg/logging"
	"github.com/cfc-ptrace/cfc-ptrace/pkg/pathclass"
	"github.com/cfc-ptrace/cfc-ptrace/pkg/ptrace"
	"github.com/cfc-ptrace/cfc-ptrace/pkg/wire"
)

var (
	runVirtualRoot string
	runStorageURL  string
	runLogPath     string
	runCommand     string
	runTTY         bool
)

var runCmd = &cobra.Command{
	Use:   "run <executable> [args...]",
	Short: "Run a program under syscall interception",
	Args:  cobra.ArbitraryArgs,
	RunE:  cmdRun,
}

func init() {
	runCmd.Flags().StringVar(&runVirtualRoot, "virtual-root", "", "Virtual filesystem root (default <cwd>/fs)")
	runCmd.Flags().StringVar(&runStorageURL, "storage-url", "", "Storage service address (default ws://127.0.0.1:8080)")
	runCmd.Flags().StringVar(&runLogPath, "log", "", "Path to a JSONL audit log of intercepted syscalls")
	runCmd.Flags().StringVarP(&runCommand, "command", "c", "", "Shell-quoted command line to trace, instead of positional args")
	runCmd.Flags().BoolVarP(&runTTY, "tty", "t", false, "Run the traced program on a pseudo-terminal")
	viper.BindPFlag("run.virtual_root", runCmd.Flags().Lookup("virtual-root"))
	viper.BindPFlag("run.storage_url", runCmd.Flags().Lookup("storage-url"))
	rootCmd.AddCommand(runCmd)
}

// cmdRun dials the storage service, builds the interception engine, and
// runs the traced child to completion. It calls os.Exit directly with the
// child's own mirrored exit status rather than returning a value cobra
// would otherwise swallow.
func cmdRun(cmd *cobra.Command, args []string) error {
	target, err := resolveTarget(args)
	if err != nil {
		return err
	}

	virtualRoot := resolveVirtualRoot()
	storageAddr, err := resolveStorageAddr()
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("tcp", storageAddr, 5*time.Second)
	if err != nil {
		fatalf("connect to storage service at %s: %v", storageAddr, err)
	}
	client := wire.NewClient(conn)
	defer client.Close()

	var log *logging.Emitter
	if runLogPath != "" {
		w, err := logging.NewJSONLWriter(runLogPath)
		if err != nil {
			fatalf("open audit log: %v", err)
		}
		log = logging.NewEmitter(logging.EmitterConfig{RunID: newRunID()}, w)
		defer log.Close()
	}

	cwd, err := os.Getwd()
	if err != nil {
		fatalf("determine working directory: %v", err)
	}
	classifier := pathclass.New(virtualRoot, cwd)

	engine := ptrace.New(classifier, client, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var exitCode int
	if runTTY {
		exitCode = runInteractive(ctx, engine, target)
	} else {
		exitCode, err = engine.Run(ctx, target[0], target[1:])
		if err != nil {
			fatalf("%v", err)
		}
	}
	os.Exit(exitCode)
	return nil
}

// resolveTarget accepts either positional args or a single shell-quoted
// --command string, split through shellquote rather than hand-splitting
// on spaces.
func resolveTarget(args []string) ([]string, error) {
	if runCommand != "" {
		words, err := shellquote.Split(runCommand)
		if err != nil {
			return nil, err
		}
		if len(words) == 0 {
			return nil, ErrNoExecutable
		}
		return words, nil
	}
	if len(args) == 0 {
		return nil, ErrNoExecutable
	}
	return args, nil
}

// runInteractive puts the tracer's own terminal into raw mode and runs the
// child on a pseudo-terminal, forwarding window resizes via SIGWINCH.
func runInteractive(ctx context.Context, engine *ptrace.Engine, target []string) int {
	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		fatalf("--tty requires stdin to be a terminal")
	}

	cols, rows, err := term.GetSize(stdinFd)
	if err != nil {
		rows, cols = 24, 80
	}

	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		fatalf("set raw mode: %v", err)
	}
	defer term.Restore(stdinFd, oldState)

	resizeCh := make(chan pty.Winsize, 1)
	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	go func() {
		for range winchCh {
			if c, r, err := term.GetSize(stdinFd); err == nil {
				select {
				case resizeCh <- pty.Winsize{Rows: uint16(r), Cols: uint16(c)}:
				default:
				}
			}
		}
	}()
	defer signal.Stop(winchCh)
	defer close(resizeCh)

	exitCode, err := engine.RunTTY(ctx, target[0], target[1:], uint16(rows), uint16(cols), resizeCh)
	if err != nil {
		term.Restore(stdinFd, oldState)
		fatalf("%v", err)
	}
	return exitCode
}

// resolveVirtualRoot applies the default virtual root (<cwd>/fs), honoring
// --virtual-root, then CFC_VIRTUAL_ROOT, in that order.
func resolveVirtualRoot() string {
	if runVirtualRoot != "" {
		return runVirtualRoot
	}
	if v := viper.GetString("run.virtual_root"); v != "" {
		return v
	}
	if v := viper.GetString("virtual_root"); v != "" {
		return v
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "fs"
	}
	return filepath.Join(cwd, "fs")
}

// resolveStorageAddr turns CFC_STORAGE_URL (default ws://127.0.0.1:8080)
// into a host:port pair for net.Dial. The framing is self-describing, so
// it rides a plain TCP net.Conn regardless of the configured scheme.
func resolveStorageAddr() (string, error) {
	raw := runStorageURL
	if raw == "" {
		raw = viper.GetString("run.storage_url")
	}
	if raw == "" {
		raw = viper.GetString("storage_url")
	}
	if raw == "" {
		raw = "ws://127.0.0.1:8080"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host != "" {
		return u.Host, nil
	}
	return raw, nil
}

func newRunID() string {
	return time.Now().UTC().Format("20060102T150405.000000000Z")
}
