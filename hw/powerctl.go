// Package hw models the platform primitives a power sequencer drives:
// per-core power enables, boot flags, the interrupt controller's cpu
// interfaces, the cache hierarchy, the coherent interconnect and the cores
// themselves.
package hw

import (
	"sync"

	"github.com/Readm/cluster_pm/core"
)

// EdgeListener is told about every power-enable bit that changes.
type EdgeListener func(id core.CoreID, on bool)

// PowerController models one power-enable register per cluster, one bit
// per core.
type PowerController struct {
	mu        sync.Mutex
	regs      [core.ClusterCount]uint32
	busWrites int
	listeners []EdgeListener
}

// NewPowerController returns a controller with the given cores powered.
func NewPowerController(powered ...core.CoreID) *PowerController {
	p := &PowerController{}
	for _, id := range powered {
		p.regs[id.Cluster] |= 1 << id.Core
	}
	return p
}

// OnEdge subscribes to power-enable changes.
func (p *PowerController) OnEdge(fn EdgeListener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// SetPower reads the register and only writes it when the bit differs.
func (p *PowerController) SetPower(id core.CoreID, enabled bool) {
	bit := uint32(1) << id.Core

	p.mu.Lock()
	cur := p.regs[id.Cluster]
	want := cur &^ bit
	if enabled {
		want = cur | bit
	}
	if want == cur {
		p.mu.Unlock()
		return
	}
	p.regs[id.Cluster] = want
	p.busWrites++
	listeners := make([]EdgeListener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, l := range listeners {
		l(id, enabled)
	}
}

// Powered reports a core's power-enable bit.
func (p *PowerController) Powered(id core.CoreID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.regs[id.Cluster]&(1<<id.Core) != 0
}

// Register returns the raw register of a cluster.
func (p *PowerController) Register(cluster uint) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.regs[cluster]
}

// BusWrites counts register writes that reached the bus.
func (p *PowerController) BusWrites() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busWrites
}
