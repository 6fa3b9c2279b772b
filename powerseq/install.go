package powerseq

import (
	"context"
	"fmt"

	"github.com/Readm/cluster_pm/core"
	"github.com/Readm/cluster_pm/mcpm"
	"github.com/Readm/cluster_pm/platform"
)

// Description is what platform probing found.
type Description struct {
	Name     string
	Topology core.Topology
	Boot     core.CoreID
	// PowerController and Interconnect report whether the power controller
	// and the coherent interconnect were found.
	PowerController bool
	Interconnect    bool
}

// Registrar is the frontend side of installation.
type Registrar interface {
	Register(ops platform.PowerOps) error
	SetPowerUpSetup(fn mcpm.PowerUpSetup)
	SetEntryVector(id core.CoreID, fn mcpm.EntryFunc)
}

// InstallOptions extend Options with reset-path wiring.
type InstallOptions struct {
	Options
	// Entry, when set, becomes every populated core's entry vector.
	Entry mcpm.EntryFunc
}

// Install probes desc, seeds a sequencer with the boot core and registers
// it with fe. It runs once, before any other core is started.
//
// A nil description or one lacking the power controller or the
// interconnect yields ErrNotApplicable. If registration fails nothing is
// left installed.
func Install(desc *Description, p platform.Primitives, fe Registrar, opts InstallOptions) (*Sequencer, error) {
	if desc == nil {
		return nil, fmt.Errorf("%w: no platform description", ErrNotApplicable)
	}
	if !desc.PowerController {
		return nil, fmt.Errorf("%w: %s: no power controller", ErrNotApplicable, desc.Name)
	}
	if !desc.Interconnect {
		return nil, fmt.Errorf("%w: %s: no coherent interconnect", ErrNotApplicable, desc.Name)
	}
	if fe == nil {
		return nil, fmt.Errorf("powerseq: no frontend")
	}
	if !desc.Boot.InRange() {
		return nil, &FatalError{Kind: KindPrecondition, Op: "install", Core: desc.Boot, Detail: "boot cpu outside table"}
	}
	s, err := New(desc.Topology, desc.Boot, p, opts.Options)
	if err != nil {
		return nil, err
	}
	if err := fe.Register(s); err != nil {
		return nil, fmt.Errorf("powerseq: register with frontend: %w", err)
	}
	fe.SetPowerUpSetup(s.powerUpSetup)
	if opts.Entry != nil {
		for _, id := range desc.Topology.All() {
			fe.SetEntryVector(id, opts.Entry)
		}
	}
	s.log.Info("installed", "platform", desc.Name, "clusters", desc.Topology.Clusters(), "boot", desc.Boot.String())
	return s, nil
}

// powerUpSetup reopens the cluster's snoop port when the inbound leader
// brings it up. Nothing is needed per cpu.
func (s *Sequencer) powerUpSetup(ctx context.Context, level int) error {
	if level != mcpm.AffinityCluster {
		return nil
	}
	id, ok := platform.Self(ctx)
	if !ok {
		return fmt.Errorf("powerseq: cluster setup without cpu identity")
	}
	s.p.Port.SetPortEnabled(id.Cluster, true)
	return nil
}
