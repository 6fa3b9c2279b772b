package platform

import (
	"context"

	"github.com/Readm/cluster_pm/core"
)

type cpuKey struct{}

// WithCPU returns a context executing on the core whose affinity register
// reads mpidr.
func WithCPU(ctx context.Context, mpidr core.MPIDR) context.Context {
	return context.WithValue(ctx, cpuKey{}, mpidr)
}

// OnCore is WithCPU for a decoded identity.
func OnCore(ctx context.Context, id core.CoreID) context.Context {
	return WithCPU(ctx, core.MPIDRFor(id))
}

// CPUFromContext reads the executing core's affinity register.
func CPUFromContext(ctx context.Context) (core.MPIDR, bool) {
	if ctx == nil {
		return 0, false
	}
	m, ok := ctx.Value(cpuKey{}).(core.MPIDR)
	return m, ok
}

// Self decodes the executing core's identity.
func Self(ctx context.Context) (core.CoreID, bool) {
	m, ok := CPUFromContext(ctx)
	if !ok {
		return core.CoreID{}, false
	}
	return core.CoreIDFromMPIDR(m), true
}
