// Package lslbus is the integration seam between this module and a real
// Lab Streaming Layer installation. The LSL protocol itself is an
// external collaborator this module never reimplements: resolve-by-source-id,
// inlet sample pull, and time correction are provided by liblsl, not by
// this codebase. This package's default build exposes that boundary as a
// clear configuration error rather than silently no-op'ing; a deployment
// that links a real liblsl binding (via PYLSL_LIB, loaded through cgo or a
// dynamic-loading shim in a build-tag-gated file alongside this one) swaps
// in the concrete implementation without touching any caller.
package lslbus

import (
	"context"
	"fmt"
	"time"

	"github.com/e7canasta/lslkit/internal/config"
	"github.com/e7canasta/lslkit/internal/errs"
	"github.com/e7canasta/lslkit/internal/lsl"
)

type unavailableResolver struct {
	libraryPath string
}

// NewResolver returns the lsl.Resolver this build links. The default build
// has no bus binding compiled in; every call reports a Configuration
// error naming the PYLSL_LIB path it was given, if any, so operators can
// tell a missing binding from a genuine resolve timeout.
func NewResolver() lsl.Resolver {
	return &unavailableResolver{libraryPath: config.LSLLibraryPath()}
}

func (r *unavailableResolver) ResolveBySourceID(ctx context.Context, id string, timeout time.Duration) (lsl.StreamInfo, error) {
	return lsl.StreamInfo{}, errs.New(errs.Configuration, "resolve", r.err())
}

func (r *unavailableResolver) OpenInlet(ctx context.Context, info lsl.StreamInfo, flags lsl.PostProcessing) (lsl.Inlet, error) {
	return nil, errs.New(errs.Configuration, "open inlet", r.err())
}

func (r *unavailableResolver) err() error {
	if r.libraryPath != "" {
		return fmt.Errorf("no LSL bus binding compiled into this build (PYLSL_LIB=%s was set but is unused by the default build)", r.libraryPath)
	}
	return fmt.Errorf("no LSL bus binding compiled into this build; set PYLSL_LIB and build with a bus-enabled build tag")
}
