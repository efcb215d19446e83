//go:build acceptance && linux && amd64

// Package acceptance drives a real traced helper binary through the
// interception engine end to end against a live chunked store. It is
// gated behind the acceptance build tag because it requires
// CAP_SYS_PTRACE and builds real child binaries on the fly.
package acceptance

import (
	"context"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfc-ptrace/cfc-ptrace/pkg/pathclass"
	"github.com/cfc-ptrace/cfc-ptrace/pkg/ptrace"
	"github.com/cfc-ptrace/cfc-ptrace/pkg/storage"
	"github.com/cfc-ptrace/cfc-ptrace/pkg/wire"
)

// buildHelper compiles tests/acceptance/helper into t.TempDir() once per
// test, the way a real integration suite builds its fixture binary rather
// than committing one.
func buildHelper(t *testing.T) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), "helper")
	cmd := exec.Command("go", "build", "-o", out, "./helper")
	cmd.Dir = mustWd(t)
	output, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "go build helper: %s", output)
	return out
}

func mustWd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	return wd
}

// harness wires a real storage service (over a loopback TCP listener) to
// an interception engine rooted at a fresh virtual root under t.TempDir().
type harness struct {
	engine      *ptrace.Engine
	helperPath  string
	virtualRoot string
	realDir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := storage.Open(storage.Options{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	server := wire.NewServer(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go server.Serve(ctx, ln)
	t.Cleanup(cancel)

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	require.NoError(t, err)
	client := wire.NewClient(conn)
	t.Cleanup(func() { client.Close() })

	root := t.TempDir()
	vroot := filepath.Join(root, "fs")
	realDir := filepath.Join(root, "real")
	require.NoError(t, os.MkdirAll(realDir, 0755))

	classifier := pathclass.New(vroot, root)
	engine := ptrace.New(classifier, client, nil)

	return &harness{
		engine:      engine,
		helperPath:  buildHelper(t),
		virtualRoot: vroot,
		realDir:     realDir,
	}
}

func (h *harness) run(t *testing.T, args ...string) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	code, err := h.engine.Run(ctx, h.helperPath, args)
	require.NoError(t, err)
	return code
}

func (h *harness) vpath(name string) string {
	return filepath.Join(h.virtualRoot, name)
}

// TestScenarioA_WriteThenRead round-trips a small write through a traced
// child.
func TestScenarioA_WriteThenRead(t *testing.T) {
	h := newHarness(t)
	code := h.run(t, "writeread", h.vpath("a.txt"), "Hello")
	assert.Equal(t, 0, code)
}

// TestScenarioB_Overwrite checks overlapping writes observed through a
// traced child.
func TestScenarioB_Overwrite(t *testing.T) {
	h := newHarness(t)
	code := h.run(t, "overwrite", h.vpath("b.txt"))
	assert.Equal(t, 0, code)
}

// TestScenarioC_MultiChunkPattern round-trips a multi-chunk byte pattern.
func TestScenarioC_MultiChunkPattern(t *testing.T) {
	h := newHarness(t)
	code := h.run(t, "large-pattern", h.vpath("c.txt"))
	assert.Equal(t, 0, code)
}

// TestScenarioD_Passthrough checks that a path outside the virtual root
// reaches the real kernel untouched.
func TestScenarioD_Passthrough(t *testing.T) {
	h := newHarness(t)
	realFile := filepath.Join(h.realDir, "d.txt")
	require.NoError(t, os.WriteFile(realFile, []byte("real content"), 0644))

	code := h.run(t, "passthrough", realFile)
	assert.Equal(t, 0, code)
}

// TestScenarioE_RenameCollision checks that renameat2 onto an existing
// virtual path surfaces EEXIST inside the child.
func TestScenarioE_RenameCollision(t *testing.T) {
	h := newHarness(t)
	code := h.run(t, "rename-collision", h.vpath("e1.txt"), h.vpath("e2.txt"))
	assert.Equal(t, 42, code)
}

// TestScenarioF_UnlinkThenReopen checks that a virtual file stays gone
// after unlink.
func TestScenarioF_UnlinkThenReopen(t *testing.T) {
	h := newHarness(t)
	code := h.run(t, "unlink-reopen", h.vpath("f.txt"))
	assert.Equal(t, 42, code)
}

// TestProperty13_ClosedFDReturnsEBADF checks that reads on a released
// virtual descriptor fail with EBADF.
func TestProperty13_ClosedFDReturnsEBADF(t *testing.T) {
	h := newHarness(t)
	code := h.run(t, "closed-fd", h.vpath("g.txt"))
	assert.Equal(t, 42, code)
}

// TestProperty11_VirtualFdNumbering checks that an open under the
// virtual root fabricates a descriptor numbered 1000 or above, far from
// anything the kernel hands out.
func TestProperty11_VirtualFdNumbering(t *testing.T) {
	h := newHarness(t)
	code := h.run(t, "virtual-fd", h.vpath("k.txt"))
	assert.Equal(t, 42, code)
}

// TestProperty14_StorageDownFailsFast checks that with no storage
// service listening, the cfc-ptrace binary exits non-zero
// before the child ever runs. This one drives the real CLI rather than
// the engine, since refusing to start is the driver's job.
func TestProperty14_StorageDownFailsFast(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "cfc-ptrace")
	build := exec.Command("go", "build", "-o", bin, "../../cmd/cfc-ptrace")
	build.Dir = mustWd(t)
	out, err := build.CombinedOutput()
	require.NoErrorf(t, err, "go build cfc-ptrace: %s", out)

	// Grab an ephemeral port and close it again so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := ln.Addr().String()
	require.NoError(t, ln.Close())

	// The helper would create marker on the real filesystem (it is outside
	// any virtual root) if it ever ran.
	marker := filepath.Join(t.TempDir(), "ran")
	run := exec.Command(bin, "run", "--storage-url", "ws://"+deadAddr,
		buildHelper(t), "writeread", marker, "x")
	_ = run.Run()
	assert.NotEqual(t, 0, run.ProcessState.ExitCode())
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "child must not have run")
}

// TestProperty15_ExitCodePropagation checks that a successful
// scenario's exit code (0) is the engine's own return value, not a side
// channel.
func TestProperty15_ExitCodePropagation(t *testing.T) {
	h := newHarness(t)
	code := h.run(t, "writeread", h.vpath("h.txt"), "propagated")
	assert.Equal(t, 0, code)
}
