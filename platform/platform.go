// Package platform declares the primitives a power sequencer drives. The
// sequencer only invokes them; none of them is queried for shared
// bookkeeping.
package platform

import (
	"context"

	"github.com/Readm/cluster_pm/core"
)

// PowerGate asserts or removes a core's physical power. Implementations
// read the current state first and only write when it differs.
type PowerGate interface {
	SetPower(id core.CoreID, enabled bool)
}

// BootVector records how a core leaves reset next time.
type BootVector interface {
	SetResumeMode(id core.CoreID, mode core.ResumeMode)
}

// InterruptMask masks a core's interface into the interrupt distributor.
type InterruptMask interface {
	MaskCPUInterface(id core.CoreID)
	UnmaskCPUInterface(id core.CoreID)
}

// CacheTeardown cleans and invalidates caches for the executing core and
// disables its coherency participation. It blocks until complete.
type CacheTeardown interface {
	Teardown(ctx context.Context, scope core.TeardownScope)
}

// InterconnectPort enables or disables a cluster's snoop port.
type InterconnectPort interface {
	SetPortEnabled(cluster uint, enabled bool)
}

// Coordinator tracks cluster and cpu coherency state.
type Coordinator interface {
	ClusterState(cluster uint) core.ClusterState
	NotifyGoingDown(id core.CoreID)
	TryBecomeExclusiveTeardownAgent(id core.CoreID) bool
	NotifyClusterDown(cluster uint) error
	NotifyCoreDown(id core.CoreID)
}

// Processor is the executing core's control over itself.
type Processor interface {
	// DisableIRQ masks local interrupts and returns a func restoring them.
	DisableIRQ(ctx context.Context) (restore func())
	// IRQsDisabled reports the executing core's local interrupt mask.
	IRQsDisabled(ctx context.Context) bool
	// WaitForInterrupt idles the core until the next wake event.
	WaitForInterrupt(ctx context.Context)
	// Reset re-enters the core through its reset path. It does not return.
	Reset(ctx context.Context)
}

// PowerOps is what a sequencer exposes to the power-management frontend.
type PowerOps interface {
	PowerUp(ctx context.Context, core, cluster uint) error
	PowerDown(ctx context.Context) (core.Outcome, error)
}

// Primitives bundles every collaborator a sequencer needs.
type Primitives struct {
	Gate        PowerGate
	Boot        BootVector
	IRQMask     InterruptMask
	Cache       CacheTeardown
	Port        InterconnectPort
	Coordinator Coordinator
	CPU         Processor
}

// Missing returns the names of nil primitives.
func (p Primitives) Missing() []string {
	var out []string
	if p.Gate == nil {
		out = append(out, "power gate")
	}
	if p.Boot == nil {
		out = append(out, "boot vector")
	}
	if p.IRQMask == nil {
		out = append(out, "interrupt mask")
	}
	if p.Cache == nil {
		out = append(out, "cache teardown")
	}
	if p.Port == nil {
		out = append(out, "interconnect port")
	}
	if p.Coordinator == nil {
		out = append(out, "coordinator")
	}
	if p.CPU == nil {
		out = append(out, "processor")
	}
	return out
}
