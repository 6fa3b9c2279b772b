package hw

import (
	"github.com/Readm/cluster_pm/core"
	"github.com/Readm/cluster_pm/platform"
)

// Board is a complete set of simulated primitives for one topology.
type Board struct {
	Topology core.Topology
	Power    *PowerController
	Flags    *BootFlags
	GIC      *GIC
	Caches   *Caches
	CCI      *CCI
	CPUs     *Processors
}

// NewBoard powers only the boot core, with its cluster's port open.
func NewBoard(topo core.Topology, boot core.CoreID, l1Lines int) *Board {
	power := NewPowerController(boot)
	return &Board{
		Topology: topo,
		Power:    power,
		Flags:    NewBootFlags(),
		GIC:      NewGIC(boot),
		Caches:   NewCaches(topo, l1Lines, boot),
		CCI:      NewCCI(boot.Cluster),
		CPUs:     NewProcessors(power),
	}
}

// Primitives exposes the board to a sequencer.
func (b *Board) Primitives(coord platform.Coordinator) platform.Primitives {
	return platform.Primitives{
		Gate:        b.Power,
		Boot:        b.Flags,
		IRQMask:     b.GIC,
		Cache:       b.Caches,
		Port:        b.CCI,
		Coordinator: coord,
		CPU:         b.CPUs,
	}
}
