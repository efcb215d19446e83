// Package errx wraps sentinel errors with a cause while keeping errors.Is
// and errors.As working against the sentinel.
package errx

import "fmt"

// wrapped pairs a package sentinel with the underlying cause.
type wrapped struct {
	sentinel error
	cause    error
}

// Wrap returns an error whose message is "sentinel: cause" and whose
// errors.Is/errors.As target both sentinel and cause.
func Wrap(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return &wrapped{sentinel: sentinel, cause: cause}
}

func (w *wrapped) Error() string {
	if w.sentinel == nil {
		return w.cause.Error()
	}
	return fmt.Sprintf("%s: %s", w.sentinel.Error(), w.cause.Error())
}

func (w *wrapped) Unwrap() []error {
	return []error{w.sentinel, w.cause}
}
