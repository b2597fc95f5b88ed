package lslbus

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/e7canasta/lslkit/internal/errs"
	"github.com/e7canasta/lslkit/internal/lsl"
)

func TestResolveBySourceIDReturnsConfigurationError(t *testing.T) {
	r := NewResolver()
	_, err := r.ResolveBySourceID(context.Background(), "eeg-01", time.Second)
	if err == nil {
		t.Fatal("expected an error from the stub resolver")
	}
	if !errs.Is(err, errs.Configuration) {
		t.Fatalf("expected a Configuration-kind error, got %v", err)
	}
}

func TestOpenInletReturnsConfigurationError(t *testing.T) {
	r := NewResolver()
	_, err := r.OpenInlet(context.Background(), lsl.StreamInfo{SourceID: "eeg-01"}, 0)
	if !errs.Is(err, errs.Configuration) {
		t.Fatalf("expected a Configuration-kind error, got %v", err)
	}
}

func TestErrorNamesLibraryPathWhenSet(t *testing.T) {
	old, hadOld := os.LookupEnv("PYLSL_LIB")
	os.Setenv("PYLSL_LIB", "/opt/lsl/liblsl.so")
	defer func() {
		if hadOld {
			os.Setenv("PYLSL_LIB", old)
		} else {
			os.Unsetenv("PYLSL_LIB")
		}
	}()

	r := NewResolver()
	_, err := r.ResolveBySourceID(context.Background(), "eeg-01", time.Second)
	if !strings.Contains(err.Error(), "/opt/lsl/liblsl.so") {
		t.Fatalf("expected error to mention the configured library path, got %v", err)
	}
}
