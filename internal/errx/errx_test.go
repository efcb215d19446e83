package errx

import (
	"errors"
	"testing"
)

var errSentinel = errors.New("errx: sentinel")

func TestWrapIsAndMessage(t *testing.T) {
	cause := errors.New("disk on fire")
	err := Wrap(errSentinel, cause)

	if !errors.Is(err, errSentinel) {
		t.Fatal("expected errors.Is to match the sentinel")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to match the cause")
	}
	want := "errx: sentinel: disk on fire"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapNilCauseReturnsSentinel(t *testing.T) {
	if Wrap(errSentinel, nil) != errSentinel {
		t.Fatal("expected Wrap with nil cause to return the sentinel unchanged")
	}
}
