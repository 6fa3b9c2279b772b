package hw

import (
	"sync"

	"github.com/Readm/cluster_pm/core"
)

// BootFlags holds each core's resume mode for its next reset.
type BootFlags struct {
	mu    sync.Mutex
	modes [core.ClusterCount][core.CoresPerCluster]core.ResumeMode
}

// NewBootFlags starts every core in cold-boot mode.
func NewBootFlags() *BootFlags {
	b := &BootFlags{}
	for i := range b.modes {
		for j := range b.modes[i] {
			b.modes[i][j] = core.ResumeColdBoot
		}
	}
	return b
}

func (b *BootFlags) SetResumeMode(id core.CoreID, mode core.ResumeMode) {
	b.mu.Lock()
	b.modes[id.Cluster][id.Core] = mode
	b.mu.Unlock()
}

func (b *BootFlags) ResumeMode(id core.CoreID) core.ResumeMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.modes[id.Cluster][id.Core]
}

// GIC models the per-core cpu interfaces of an interrupt distributor.
type GIC struct {
	mu     sync.Mutex
	masked [core.ClusterCount][core.CoresPerCluster]bool
	masks  int
}

// NewGIC returns a distributor with every cpu interface masked except the
// listed ones.
func NewGIC(enabled ...core.CoreID) *GIC {
	g := &GIC{}
	for i := range g.masked {
		for j := range g.masked[i] {
			g.masked[i][j] = true
		}
	}
	for _, id := range enabled {
		g.masked[id.Cluster][id.Core] = false
	}
	return g
}

func (g *GIC) MaskCPUInterface(id core.CoreID) {
	g.mu.Lock()
	g.masked[id.Cluster][id.Core] = true
	g.masks++
	g.mu.Unlock()
}

func (g *GIC) UnmaskCPUInterface(id core.CoreID) {
	g.mu.Lock()
	g.masked[id.Cluster][id.Core] = false
	g.mu.Unlock()
}

// Masked reports whether id's cpu interface is masked.
func (g *GIC) Masked(id core.CoreID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.masked[id.Cluster][id.Core]
}

// MaskCount counts mask operations.
func (g *GIC) MaskCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.masks
}

// CCI models the snoop ports of a cache-coherent interconnect, one per
// cluster.
type CCI struct {
	mu      sync.Mutex
	enabled [core.ClusterCount]bool
	toggles [core.ClusterCount]int
}

// NewCCI returns an interconnect with the listed cluster ports enabled.
func NewCCI(enabled ...uint) *CCI {
	c := &CCI{}
	for _, cl := range enabled {
		c.enabled[cl] = true
	}
	return c
}

func (c *CCI) SetPortEnabled(cluster uint, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled[cluster] == enabled {
		return
	}
	c.enabled[cluster] = enabled
	c.toggles[cluster]++
}

// Enabled reports a cluster's snoop port.
func (c *CCI) Enabled(cluster uint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled[cluster]
}

// Toggles counts port state changes of a cluster.
func (c *CCI) Toggles(cluster uint) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toggles[cluster]
}
