//go:build linux && amd64

package ptrace

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"

	"github.com/cfc-ptrace/cfc-ptrace/pkg/logging"
	"github.com/cfc-ptrace/cfc-ptrace/pkg/pathclass"
	"github.com/cfc-ptrace/cfc-ptrace/pkg/procmem"
	"github.com/cfc-ptrace/cfc-ptrace/pkg/vfd"
	"github.com/cfc-ptrace/cfc-ptrace/pkg/wire"
)

func (e *Engine) handleEntry(ctx context.Context, mem *procmem.Proxy) *pendingCall {
	args, err := mem.GetSyscallArgs()
	if err != nil {
		return &pendingCall{}
	}

	switch args.Nr {
	case sysOpenat:
		return e.entryOpenat(ctx, mem, args)
	case sysRead, sysPread64:
		return e.entryRead(ctx, mem, args)
	case sysWrite, sysPwrite64:
		return e.entryWrite(ctx, mem, args)
	case sysClose:
		return e.entryClose(mem, args)
	case sysLseek:
		return e.entryLseek(ctx, mem, args)
	case sysFstat, sysNewfstatat:
		return e.entryStat(ctx, mem, args)
	case sysFtruncate:
		return e.entryTruncate(ctx, mem, args)
	case sysUnlinkat:
		return e.entryUnlink(ctx, mem, args)
	case sysRenameat2:
		return e.entryRename(ctx, mem, args)
	case sysChdir, sysFchdir:
		return e.entryChdir(mem, args)
	case sysIoctl, sysFlock, sysFsync, sysFdatasync:
		return e.entryUnsupported(mem, args)
	default:
		return &pendingCall{}
	}
}

func (e *Engine) handleExit(mem *procmem.Proxy, pending *pendingCall) {
	if pending == nil {
		return
	}
	if pending.chdirPath != "" {
		rv, err := mem.GetReturnValue()
		if err == nil && rv == 0 {
			e.classifier.Chdir(pending.chdirPath)
		}
		return
	}
	if !pending.fabricate {
		return
	}
	if err := mem.SetReturnValue(pending.rv); err != nil {
		e.emit(logging.EventTransportError, "failed to set fabricated return value", logging.TransportErrorData{Detail: err.Error()})
	}
}

func (e *Engine) entryOpenat(ctx context.Context, mem *procmem.Proxy, args procmem.SyscallArgs) *pendingCall {
	dirfd := int64(int32(args.Args[0]))
	if dirfd != atFDCWD {
		return &pendingCall{}
	}

	raw, err := mem.ReadCString(args.Args[1])
	if err != nil {
		return &pendingCall{fabricate: true, rv: errnoFault}
	}
	class, resolved := e.classifier.Classify(raw)
	if class != pathclass.Virtual {
		e.emit(logging.EventSyscallPassthrough, "openat",
			logging.SyscallData{Syscall: "openat", Path: resolved})
		return &pendingCall{}
	}

	if err := mem.RedirectToNoop(); err != nil {
		return &pendingCall{}
	}

	openFlags := decodeOpenFlags(args.Args[2])

	// Without O_CREAT an open must fail if the file does not exist; a
	// virtual file only comes into being on its first write, so existence
	// means the store has a row for it.
	if !openFlags.Create {
		if _, err := e.store.Stat(ctx, resolved); err != nil {
			if transportLost(err) {
				return &pendingCall{fatalErr: err}
			}
			e.emit(logging.EventSyscallIntercepted, "openat",
				logging.SyscallData{Syscall: "openat", Path: resolved, RV: negativeErrno(err)})
			return &pendingCall{fabricate: true, rv: negativeErrno(err)}
		}
	}

	fd := e.fds.Allocate(resolved, openFlags)

	if openFlags.Truncate {
		if _, err := e.store.Truncate(ctx, resolved, 0); err != nil && !isNotFound(err) {
			if transportLost(err) {
				return &pendingCall{fatalErr: err}
			}
			e.emit(logging.EventStoreError, "truncate on open failed",
				logging.StoreErrorData{Op: "truncate", Path: resolved, Error: err.Error()})
		}
	}

	e.emit(logging.EventSyscallIntercepted, "openat",
		logging.SyscallData{Syscall: "openat", Path: resolved, RV: int64(fd)})
	return &pendingCall{fabricate: true, rv: int64(fd)}
}

func (e *Engine) entryRead(ctx context.Context, mem *procmem.Proxy, args procmem.SyscallArgs) *pendingCall {
	fd := int(int32(args.Args[0]))
	entry, err := e.fds.Lookup(fd)
	if err != nil {
		return &pendingCall{}
	}

	bufAddr := args.Args[1]
	count := int64(args.Args[2])
	offset := entry.Cursor
	positional := args.Nr == sysPread64
	if positional {
		offset = int64(args.Args[3])
	}

	if err := mem.RedirectToNoop(); err != nil {
		return &pendingCall{}
	}

	data, err := e.store.Read(ctx, entry.Path, offset, count)
	if err != nil {
		if transportLost(err) {
			return &pendingCall{fatalErr: err}
		}
		e.emit(logging.EventStoreError, "read failed", logging.StoreErrorData{Op: "read", Path: entry.Path, Error: err.Error()})
		return &pendingCall{fabricate: true, rv: negativeErrno(err)}
	}

	written, err := mem.WriteBuffer(bufAddr, data)
	if err != nil && written == 0 {
		return &pendingCall{fabricate: true, rv: errnoFault}
	}
	if !positional {
		_ = e.fds.Advance(fd, int64(written))
	}
	e.emit(logging.EventSyscallIntercepted, "read",
		logging.SyscallData{Syscall: "read", Path: entry.Path, FD: fd, RV: int64(written)})
	return &pendingCall{fabricate: true, rv: int64(written)}
}

func (e *Engine) entryWrite(ctx context.Context, mem *procmem.Proxy, args procmem.SyscallArgs) *pendingCall {
	fd := int(int32(args.Args[0]))
	entry, err := e.fds.Lookup(fd)
	if err != nil {
		return &pendingCall{}
	}

	bufAddr := args.Args[1]
	count := int64(args.Args[2])
	offset := entry.Cursor
	positional := args.Nr == sysPwrite64
	if positional {
		offset = int64(args.Args[3])
	}
	if entry.Flags.Append {
		if info, statErr := e.store.Stat(ctx, entry.Path); statErr == nil {
			offset = info.FileSize
		}
	}

	data, err := mem.ReadBuffer(bufAddr, int(count))
	if err != nil {
		return &pendingCall{fabricate: true, rv: errnoFault}
	}

	if err := mem.RedirectToNoop(); err != nil {
		return &pendingCall{}
	}

	result, err := e.store.Write(ctx, entry.Path, offset, data)
	if err != nil {
		if transportLost(err) {
			return &pendingCall{fatalErr: err}
		}
		e.emit(logging.EventStoreError, "write failed", logging.StoreErrorData{Op: "write", Path: entry.Path, Error: err.Error()})
		return &pendingCall{fabricate: true, rv: negativeErrno(err)}
	}
	if !positional {
		_ = e.fds.SetCursor(fd, offset+result.BytesWritten)
	}
	e.emit(logging.EventSyscallIntercepted, "write",
		logging.SyscallData{Syscall: "write", Path: entry.Path, FD: fd, RV: result.BytesWritten})
	return &pendingCall{fabricate: true, rv: result.BytesWritten}
}

func (e *Engine) entryClose(mem *procmem.Proxy, args procmem.SyscallArgs) *pendingCall {
	fd := int(int32(args.Args[0]))
	if !e.fds.IsVirtual(fd) {
		return &pendingCall{}
	}
	if err := mem.RedirectToNoop(); err != nil {
		return &pendingCall{}
	}
	_ = e.fds.Release(fd)
	return &pendingCall{fabricate: true, rv: 0}
}

func (e *Engine) entryLseek(ctx context.Context, mem *procmem.Proxy, args procmem.SyscallArgs) *pendingCall {
	fd := int(int32(args.Args[0]))
	entry, err := e.fds.Lookup(fd)
	if err != nil {
		return &pendingCall{}
	}
	offset := int64(args.Args[1])
	whence := int(int32(args.Args[2]))

	if err := mem.RedirectToNoop(); err != nil {
		return &pendingCall{}
	}

	var newPos int64
	switch whence {
	case seekSet:
		newPos = offset
	case seekCur:
		newPos = entry.Cursor + offset
	case seekEnd:
		info, statErr := e.store.Stat(ctx, entry.Path)
		if statErr != nil {
			if transportLost(statErr) {
				return &pendingCall{fatalErr: statErr}
			}
			return &pendingCall{fabricate: true, rv: negativeErrno(statErr)}
		}
		newPos = info.FileSize + offset
	default:
		return &pendingCall{fabricate: true, rv: -int64(unix.EINVAL)}
	}
	if newPos < 0 {
		return &pendingCall{fabricate: true, rv: -int64(unix.EINVAL)}
	}
	_ = e.fds.SetCursor(fd, newPos)
	return &pendingCall{fabricate: true, rv: newPos}
}

func (e *Engine) entryStat(ctx context.Context, mem *procmem.Proxy, args procmem.SyscallArgs) *pendingCall {
	isFstat := args.Nr == sysFstat
	var path string
	var bufAddr uint64

	if isFstat {
		fd := int(int32(args.Args[0]))
		entry, err := e.fds.Lookup(fd)
		if err != nil {
			return &pendingCall{}
		}
		path = entry.Path
		bufAddr = args.Args[1]
	} else {
		dirfd := int64(int32(args.Args[0]))
		if dirfd != atFDCWD {
			return &pendingCall{}
		}
		raw, err := mem.ReadCString(args.Args[1])
		if err != nil {
			return &pendingCall{fabricate: true, rv: errnoFault}
		}
		class, resolved := e.classifier.Classify(raw)
		if class != pathclass.Virtual {
			return &pendingCall{}
		}
		path = resolved
		bufAddr = args.Args[2]
	}

	if err := mem.RedirectToNoop(); err != nil {
		return &pendingCall{}
	}

	info, err := e.store.Stat(ctx, path)
	if err != nil {
		if transportLost(err) {
			return &pendingCall{fatalErr: err}
		}
		e.emit(logging.EventStoreError, "stat failed", logging.StoreErrorData{Op: "stat", Path: path, Error: err.Error()})
		return &pendingCall{fabricate: true, rv: negativeErrno(err)}
	}
	if _, err := writeStatBuffer(mem, bufAddr, info); err != nil {
		return &pendingCall{fabricate: true, rv: errnoFault}
	}
	return &pendingCall{fabricate: true, rv: 0}
}

func (e *Engine) entryTruncate(ctx context.Context, mem *procmem.Proxy, args procmem.SyscallArgs) *pendingCall {
	fd := int(int32(args.Args[0]))
	entry, err := e.fds.Lookup(fd)
	if err != nil {
		return &pendingCall{}
	}
	length := int64(args.Args[1])

	if err := mem.RedirectToNoop(); err != nil {
		return &pendingCall{}
	}

	if _, err := e.store.Truncate(ctx, entry.Path, length); err != nil {
		if transportLost(err) {
			return &pendingCall{fatalErr: err}
		}
		return &pendingCall{fabricate: true, rv: negativeErrno(err)}
	}
	return &pendingCall{fabricate: true, rv: 0}
}

func (e *Engine) entryUnlink(ctx context.Context, mem *procmem.Proxy, args procmem.SyscallArgs) *pendingCall {
	dirfd := int64(int32(args.Args[0]))
	if dirfd != atFDCWD {
		return &pendingCall{}
	}
	raw, err := mem.ReadCString(args.Args[1])
	if err != nil {
		return &pendingCall{fabricate: true, rv: errnoFault}
	}
	class, resolved := e.classifier.Classify(raw)
	if class != pathclass.Virtual {
		return &pendingCall{}
	}

	if err := mem.RedirectToNoop(); err != nil {
		return &pendingCall{}
	}

	if err := e.store.Unlink(ctx, resolved); err != nil {
		if transportLost(err) {
			return &pendingCall{fatalErr: err}
		}
		return &pendingCall{fabricate: true, rv: negativeErrno(err)}
	}
	return &pendingCall{fabricate: true, rv: 0}
}

func (e *Engine) entryRename(ctx context.Context, mem *procmem.Proxy, args procmem.SyscallArgs) *pendingCall {
	oldDirfd := int64(int32(args.Args[0]))
	newDirfd := int64(int32(args.Args[2]))
	if oldDirfd != atFDCWD || newDirfd != atFDCWD {
		return &pendingCall{}
	}

	oldRaw, err := mem.ReadCString(args.Args[1])
	if err != nil {
		return &pendingCall{fabricate: true, rv: errnoFault}
	}
	newRaw, err := mem.ReadCString(args.Args[3])
	if err != nil {
		return &pendingCall{fabricate: true, rv: errnoFault}
	}

	oldClass, oldResolved := e.classifier.Classify(oldRaw)
	newClass, newResolved := e.classifier.Classify(newRaw)
	if oldClass != pathclass.Virtual || newClass != pathclass.Virtual {
		return &pendingCall{}
	}

	if err := mem.RedirectToNoop(); err != nil {
		return &pendingCall{}
	}

	if err := e.store.Rename(ctx, oldResolved, newResolved); err != nil {
		if transportLost(err) {
			return &pendingCall{fatalErr: err}
		}
		return &pendingCall{fabricate: true, rv: negativeErrno(err)}
	}
	return &pendingCall{fabricate: true, rv: 0}
}

// entryChdir passively tracks cwd rather than fabricating anything: the
// real chdir syscall is allowed to run so the traced process's actual
// working directory stays in sync with the kernel's view, and the
// resolved path is only applied to the classifier at exit if the real
// syscall succeeded. fchdir passes through without updating the
// classifier's cwd.
func (e *Engine) entryChdir(mem *procmem.Proxy, args procmem.SyscallArgs) *pendingCall {
	if args.Nr == sysFchdir {
		return &pendingCall{}
	}
	raw, err := mem.ReadCString(args.Args[0])
	if err != nil {
		return &pendingCall{}
	}
	return &pendingCall{chdirPath: raw}
}

// entryUnsupported fabricates ENOSYS for fd-addressed syscalls the store
// has no equivalent for when they target a virtual descriptor. On a real
// fd they pass through untouched.
func (e *Engine) entryUnsupported(mem *procmem.Proxy, args procmem.SyscallArgs) *pendingCall {
	fd := int(int32(args.Args[0]))
	if !e.fds.IsVirtual(fd) {
		return &pendingCall{}
	}
	if err := mem.RedirectToNoop(); err != nil {
		return &pendingCall{}
	}
	return &pendingCall{fabricate: true, rv: errnoNosys}
}

func decodeOpenFlags(flags uint64) vfd.OpenFlags {
	accmode := flags & oAccmode
	return vfd.OpenFlags{
		ReadOnly:  accmode == 0,
		WriteOnly: accmode == oWronly,
		ReadWrite: accmode == oRdwr,
		Append:    flags&oAppend != 0,
		Truncate:  flags&oTrunc != 0,
		Create:    flags&oCreat != 0,
	}
}

func isNotFound(err error) bool {
	var wireErr *wire.WireError
	return errors.As(err, &wireErr) && wireErr.Kind == wire.KindNotFound
}

// transportLost reports whether a store call failed below the protocol:
// anything that isn't a classified WireError means the connection itself
// is gone or corrupt, which is fatal to the trace.
func transportLost(err error) bool {
	var wireErr *wire.WireError
	return !errors.As(err, &wireErr)
}
