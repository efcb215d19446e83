package storage

import "errors"

var (
	ErrOpen             = errors.New("storage: open database")
	ErrFileNotFound     = errors.New("storage: file not found")
	ErrChunkNotFound    = errors.New("storage: chunk not found")
	ErrDestinationExist = errors.New("storage: destination file already exists")
	ErrQuery            = errors.New("storage: query")
	ErrExec             = errors.New("storage: exec")
	ErrTransaction      = errors.New("storage: transaction")
)

// These errno-class strings map a storage sentinel onto the wire.ClassifiedError contract
// without pkg/storage importing pkg/wire: wire.classify type-asserts any
// error it's handed against an interface with this method and string
// return shape, which *StoreError below satisfies.
const (
	classNotFound = "ENOENT"
	classIO       = "EIO"
	classExists   = "EEXIST"
)

// StoreError wraps a sentinel with a wire errno class, giving callers both
// an errors.Is-compatible sentinel and a classification pkg/wire can
// forward to the syscall layer as a negative errno.
type StoreError struct {
	sentinel error
	class    string
	detail   error
}

func newStoreError(sentinel error, class string, detail error) *StoreError {
	return &StoreError{sentinel: sentinel, class: class, detail: detail}
}

func (e *StoreError) Error() string {
	if e.detail == nil {
		return e.sentinel.Error()
	}
	return e.sentinel.Error() + ": " + e.detail.Error()
}

func (e *StoreError) Unwrap() error { return e.sentinel }

// ErrnoClass satisfies wire.ClassifiedError.
func (e *StoreError) ErrnoClass() string { return e.class }
