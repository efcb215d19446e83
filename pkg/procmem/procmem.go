//go:build linux && amd64

// Package procmem crosses the process boundary into a ptrace(2)-attached
// child: reading strings and buffers out of its address space, writing
// buffers and return values back into it, and fabricating syscalls by
// rewriting its register file. None of it calls into the child; every
// operation here is PTRACE_PEEKDATA/PTRACE_POKEDATA/PTRACE_GETREGS/
// PTRACE_SETREGS against the host kernel.
package procmem

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/cfc-ptrace/cfc-ptrace/internal/errx"
)

const (
	// MaxStringLength bounds ReadCString; a NUL not found within this many
	// bytes is treated as a corrupt or hostile pointer rather than read
	// forever.
	MaxStringLength = 4096
	// MaxBufferSize bounds ReadBuffer/WriteBuffer for the same reason.
	MaxBufferSize = 1024 * 1024

	wordSize = 8

	// noopSyscallNr is substituted for a virtualized syscall's number on
	// entry. getpid is side-effect-free, always succeeds, and takes no
	// arguments worth corrupting, so its result can be unconditionally
	// overwritten on syscall-exit once the real operation has been
	// fabricated against the store instead.
	noopSyscallNr = unix.SYS_GETPID
)

var (
	ErrInvalidAddress = errors.New("procmem: invalid address")
	ErrStringTooLong  = errors.New("procmem: string exceeds maximum length")
	ErrBufferTooLarge = errors.New("procmem: buffer exceeds maximum size")
	ErrMemoryRead     = errors.New("procmem: read child memory")
	ErrMemoryWrite    = errors.New("procmem: write child memory")
	ErrRegisters      = errors.New("procmem: access child registers")
)

// Proxy operates on one traced process's address space and register file.
type Proxy struct {
	pid int
}

// New returns a Proxy for the already-stopped process pid.
func New(pid int) *Proxy {
	return &Proxy{pid: pid}
}

// ReadCString reads a NUL-terminated string starting at addr, one machine
// word at a time.
func (p *Proxy) ReadCString(addr uint64) (string, error) {
	if addr == 0 {
		return "", ErrInvalidAddress
	}

	var result []byte
	word := make([]byte, wordSize)
	current := uintptr(addr)
	maxIterations := MaxStringLength/wordSize + 1

	for i := 0; i < maxIterations; i++ {
		if _, err := unix.PtracePeekData(p.pid, current, word); err != nil {
			return "", errx.Wrap(ErrMemoryRead, err)
		}
		for _, b := range word {
			if b == 0 {
				return string(result), nil
			}
			if len(result) >= MaxStringLength {
				return "", ErrStringTooLong
			}
			result = append(result, b)
		}
		current += wordSize
	}
	return "", ErrStringTooLong
}

// ReadBuffer reads count bytes starting at addr.
func (p *Proxy) ReadBuffer(addr uint64, count int) ([]byte, error) {
	if addr == 0 {
		return nil, ErrInvalidAddress
	}
	if count > MaxBufferSize {
		return nil, ErrBufferTooLarge
	}
	if count == 0 {
		return nil, nil
	}

	result := make([]byte, 0, count)
	current := uintptr(addr)
	remaining := count
	word := make([]byte, wordSize)

	for remaining > 0 {
		if _, err := unix.PtracePeekData(p.pid, current, word); err != nil {
			return nil, errx.Wrap(ErrMemoryRead, err)
		}
		n := remaining
		if n > wordSize {
			n = wordSize
		}
		result = append(result, word[:n]...)
		remaining -= n
		current += wordSize
	}
	return result, nil
}

// WriteBuffer writes data starting at addr, returning how many bytes were
// actually delivered. A write can come up short if it crosses into an
// unmapped page partway through; the caller reports that partial count to
// the child rather than treating it as success or total failure.
func (p *Proxy) WriteBuffer(addr uint64, data []byte) (int, error) {
	if addr == 0 {
		return 0, ErrInvalidAddress
	}
	if len(data) > MaxBufferSize {
		return 0, ErrBufferTooLarge
	}

	current := uintptr(addr)
	written := 0

	for len(data) > 0 {
		if len(data) >= wordSize {
			if _, err := unix.PtracePokeData(p.pid, current, data[:wordSize]); err != nil {
				return written, errx.Wrap(ErrMemoryWrite, err)
			}
			written += wordSize
			data = data[wordSize:]
			current += wordSize
			continue
		}

		// A trailing partial word would otherwise overwrite bytes past
		// data's end with zeroes; peek the existing word and merge so
		// only the requested bytes change.
		existing := make([]byte, wordSize)
		if _, err := unix.PtracePeekData(p.pid, current, existing); err != nil {
			return written, errx.Wrap(ErrMemoryWrite, err)
		}
		copy(existing, data)
		if _, err := unix.PtracePokeData(p.pid, current, existing); err != nil {
			return written, errx.Wrap(ErrMemoryWrite, err)
		}
		written += len(data)
		data = nil
	}
	return written, nil
}

// SyscallArgs is the decoded System V syscall ABI for x86_64: syscall
// number plus up to six arguments.
type SyscallArgs struct {
	Nr   int64
	Args [6]uint64
}

// GetSyscallArgs reads the syscall number and arguments at a syscall-stop.
func (p *Proxy) GetSyscallArgs() (SyscallArgs, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(p.pid, &regs); err != nil {
		return SyscallArgs{}, errx.Wrap(ErrRegisters, err)
	}
	return SyscallArgs{
		Nr:   int64(regs.Orig_rax),
		Args: [6]uint64{regs.Rdi, regs.Rsi, regs.Rdx, regs.R10, regs.R8, regs.R9},
	}, nil
}

// GetReturnValue reads the pending return value register at a syscall
// exit-stop, before any fabrication overwrites it.
func (p *Proxy) GetReturnValue() (int64, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(p.pid, &regs); err != nil {
		return 0, errx.Wrap(ErrRegisters, err)
	}
	return int64(regs.Rax), nil
}

// SetReturnValue overwrites the return-value register, fabricating the
// result the traced process sees for a virtualized syscall.
func (p *Proxy) SetReturnValue(rv int64) error {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(p.pid, &regs); err != nil {
		return errx.Wrap(ErrRegisters, err)
	}
	regs.Rax = uint64(rv)
	if err := unix.PtraceSetRegs(p.pid, &regs); err != nil {
		return errx.Wrap(ErrRegisters, err)
	}
	return nil
}

// RedirectToNoop rewrites the pending syscall to getpid on entry. There is
// no portable way to cancel a syscall once the kernel has committed to it,
// so a virtualized syscall is always let through as getpid and its result
// overwritten on exit via SetReturnValue.
func (p *Proxy) RedirectToNoop() error {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(p.pid, &regs); err != nil {
		return errx.Wrap(ErrRegisters, err)
	}
	regs.Orig_rax = uint64(noopSyscallNr)
	if err := unix.PtraceSetRegs(p.pid, &regs); err != nil {
		return errx.Wrap(ErrRegisters, err)
	}
	return nil
}
