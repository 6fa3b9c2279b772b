package hw

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Readm/cluster_pm/core"
	"github.com/Readm/cluster_pm/platform"
)

// ErrCoherencyOff is returned for accesses by a core whose caches are off.
var ErrCoherencyOff = errors.New("hw: core is not participating in coherency")

// Caches models private L1s, a shared L2 per cluster and backing memory,
// with write-invalidate coherency between every cache.
type Caches struct {
	mu         sync.Mutex
	topo       core.Topology
	l1         [core.ClusterCount][core.CoresPerCluster]*lruStore
	l2         [core.ClusterCount]*lruStore
	memory     map[uint64]uint64
	coherent   [core.ClusterCount][core.CoresPerCluster]bool
	teardowns  map[core.TeardownScope]int
	violations []string
}

// NewCaches builds the hierarchy with the listed cores coherent.
func NewCaches(topo core.Topology, l1Lines int, coherent ...core.CoreID) *Caches {
	c := &Caches{
		topo:      topo,
		memory:    make(map[uint64]uint64),
		teardowns: make(map[core.TeardownScope]int),
	}
	for cl := range c.l1 {
		c.l2[cl] = newLRUStore(0)
		for cpu := range c.l1[cl] {
			c.l1[cl][cpu] = newLRUStore(l1Lines)
		}
	}
	for _, id := range coherent {
		c.coherent[id.Cluster][id.Core] = true
	}
	return c
}

// Store writes value at addr through id's L1.
func (c *Caches) Store(id core.CoreID, addr, value uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.coherent[id.Cluster][id.Core] {
		return fmt.Errorf("store %#x from %s: %w", addr, id, ErrCoherencyOff)
	}
	c.invalidateOthersLocked(id, addr)
	c.fillL1Locked(id, cacheLine{addr: addr, state: core.MESIModified, value: value})
	return nil
}

// Load reads addr through id's L1, snooping a dirty copy if one exists.
func (c *Caches) Load(id core.CoreID, addr uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.coherent[id.Cluster][id.Core] {
		return 0, fmt.Errorf("load %#x from %s: %w", addr, id, ErrCoherencyOff)
	}
	if line, ok := c.l1[id.Cluster][id.Core].get(addr); ok {
		return line.value, nil
	}
	value := c.snoopLocked(addr)
	c.fillL1Locked(id, cacheLine{addr: addr, state: core.MESIShared, value: value})
	return value, nil
}

// snoopLocked returns the latest value of addr, cleaning any dirty copy to
// memory so the requester can share it.
func (c *Caches) snoopLocked(addr uint64) uint64 {
	for cl := range c.l1 {
		for cpu := range c.l1[cl] {
			if line, ok := c.l1[cl][cpu].get(addr); ok && line.state.IsDirty() {
				line.state = core.MESIShared
				c.memory[addr] = line.value
				return line.value
			}
		}
		if line, ok := c.l2[cl].get(addr); ok && line.state.IsDirty() {
			line.state = core.MESIShared
			c.memory[addr] = line.value
			return line.value
		}
	}
	return c.memory[addr]
}

func (c *Caches) invalidateOthersLocked(id core.CoreID, addr uint64) {
	for cl := range c.l1 {
		for cpu := range c.l1[cl] {
			if uint(cl) == id.Cluster && uint(cpu) == id.Core {
				continue
			}
			c.l1[cl][cpu].remove(addr)
		}
		c.l2[cl].remove(addr)
	}
}

func (c *Caches) fillL1Locked(id core.CoreID, line cacheLine) {
	victim, evicted := c.l1[id.Cluster][id.Core].fill(line)
	if evicted && victim.state.IsDirty() {
		c.l2[id.Cluster].fill(victim)
	}
}

// Teardown cleans and invalidates the executing core's caches for scope and
// takes it out of coherency. Coherency is dropped first so the core cannot
// allocate new lines while the clean runs.
func (c *Caches) Teardown(ctx context.Context, scope core.TeardownScope) {
	id, ok := platform.Self(ctx)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.coherent[id.Cluster][id.Core] = false
	for _, line := range c.l1[id.Cluster][id.Core].drain() {
		if line.state.IsDirty() {
			c.l2[id.Cluster].fill(line)
		}
	}
	if scope == core.TeardownCluster {
		for _, other := range c.topo.InCluster(id.Cluster) {
			if c.coherent[other.Cluster][other.Core] || c.l1[other.Cluster][other.Core].len() > 0 {
				c.violations = append(c.violations,
					fmt.Sprintf("cluster %d torn down by %s while %s still caches", id.Cluster, id, other))
			}
		}
		for _, line := range c.l2[id.Cluster].drain() {
			if line.state.IsDirty() {
				c.memory[line.addr] = line.value
			}
		}
	}
	c.teardowns[scope]++
}

// EnableCoherency puts a core back into coherency on its reset path.
func (c *Caches) EnableCoherency(id core.CoreID) {
	c.mu.Lock()
	c.coherent[id.Cluster][id.Core] = true
	c.mu.Unlock()
}

// Coherent reports whether id participates in coherency.
func (c *Caches) Coherent(id core.CoreID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coherent[id.Cluster][id.Core]
}

// L1Lines returns the number of lines held in id's L1.
func (c *Caches) L1Lines(id core.CoreID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.l1[id.Cluster][id.Core].len()
}

// L2Lines returns the number of lines held in a cluster's L2.
func (c *Caches) L2Lines(cluster uint) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.l2[cluster].len()
}

// Memory reads backing memory without going through any cache.
func (c *Caches) Memory(addr uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memory[addr]
}

// Teardowns counts completed teardowns of a scope.
func (c *Caches) Teardowns(scope core.TeardownScope) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.teardowns[scope]
}

// Violations lists cluster teardowns that found a sibling still caching.
func (c *Caches) Violations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.violations...)
}
