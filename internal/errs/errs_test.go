package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	base := errors.New("no route to bus")
	err := New(Transport, "pull chunk", base)

	wrapped := fmt.Errorf("loop failed: %w", err)
	if !Is(wrapped, Transport) {
		t.Fatal("expected Is(wrapped, Transport) true through fmt.Errorf wrapping")
	}
	if Is(wrapped, Storage) {
		t.Fatal("expected Is(wrapped, Storage) false")
	}
}

func TestIsFalseForPlainError(t *testing.T) {
	if Is(errors.New("plain"), Configuration) {
		t.Fatal("expected Is() false for a non-RecorderError")
	}
}

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{Configuration, 1},
		{Resolution, 2},
		{Storage, 3},
		{Transport, 3},
		{Coordination, 4},
		{Validation, 1},
	}
	for _, c := range cases {
		got := ExitCode(New(c.kind, "op", nil))
		if got != c.want {
			t.Errorf("ExitCode(%s) = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestExitCodeNilIsZero(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Fatalf("ExitCode(nil) = %d, want 0", got)
	}
}

func TestExitCodeUnrecognizedErrorIsOne(t *testing.T) {
	if got := ExitCode(errors.New("boom")); got != 1 {
		t.Fatalf("ExitCode(plain error) = %d, want 1", got)
	}
}

func TestErrorMessageIncludesKindOpAndCause(t *testing.T) {
	err := New(Storage, "flush", errors.New("disk full"))
	msg := err.Error()
	if msg != "storage: flush: disk full" {
		t.Fatalf("Error() = %q", msg)
	}
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := New(Configuration, "validate", nil)
	if msg := err.Error(); msg != "configuration: validate" {
		t.Fatalf("Error() = %q", msg)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := New(Transport, "op", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}
