//go:build linux && amd64

package ptrace

import "errors"

var (
	ErrStartChild    = errors.New("ptrace: start traced child")
	ErrWait          = errors.New("ptrace: wait for child stop")
	ErrPtraceSetup   = errors.New("ptrace: configure tracing")
	ErrTransportLost = errors.New("ptrace: storage transport lost")
	ErrChildKilled   = errors.New("ptrace: child terminated abnormally")
)
