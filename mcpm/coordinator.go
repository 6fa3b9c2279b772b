// Package mcpm implements the multi-cluster power-management layer that
// sits between a platform power sequencer and the cores: the coherency
// coordinator tracking cluster and cpu state, and the frontend that
// dispatches power requests and runs the reset path.
package mcpm

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Readm/cluster_pm/core"
	"github.com/Readm/cluster_pm/fsm"
)

const (
	evOutboundEnter = "outbound_enter"
	evOutboundAbort = "outbound_abort"
	evOutboundLeave = "outbound_leave"
	evInboundUp     = "inbound_up"
)

// ClusterSpec is the legal life cycle of a cluster's coherency state.
func ClusterSpec() *fsm.Spec {
	up, goingDown, down := string(core.ClusterUp), string(core.ClusterGoingDown), string(core.ClusterDown)
	return &fsm.Spec{
		Name:    "cluster",
		Initial: down,
		States: []fsm.StateSpec{
			{Name: down, Description: "coherency port closed, caches off"},
			{Name: up, Description: "at least one cpu may be running"},
			{Name: goingDown, Description: "an outbound agent owns teardown"},
		},
		Events: []fsm.EventSpec{
			{Name: evOutboundEnter},
			{Name: evOutboundAbort},
			{Name: evOutboundLeave},
			{Name: evInboundUp},
		},
		Transitions: []fsm.TransitionSpec{
			{From: []string{up}, Event: evOutboundEnter, To: goingDown},
			{From: []string{goingDown}, Event: evOutboundAbort, To: up},
			{From: []string{goingDown}, Event: evOutboundLeave, To: down},
			{From: []string{down, up}, Event: evInboundUp, To: up},
		},
	}
}

type clusterSync struct {
	inbound core.InboundState
	cpus    [core.CoresPerCluster]core.CPUState
}

// Coordinator tracks cluster, inbound and per-cpu coherency state and
// elects the single outbound agent allowed to tear a cluster down.
type Coordinator struct {
	mu       sync.Mutex
	cond     *sync.Cond
	topo     core.Topology
	clusters [core.ClusterCount]clusterSync
	state    *fsm.Engine
	log      *slog.Logger
}

// NewCoordinator starts with every cluster down except the boot core's,
// which is up with only the boot core running.
func NewCoordinator(topo core.Topology, boot core.CoreID, logger *slog.Logger) (*Coordinator, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	if !topo.Contains(boot) {
		return nil, fmt.Errorf("boot core %s outside topology", boot)
	}
	engine, err := fsm.NewEngine(ClusterSpec())
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		topo:  topo,
		state: engine,
		log:   logger.With("component", "mcpm"),
	}
	c.cond = sync.NewCond(&c.mu)
	for i := range c.clusters {
		c.clusters[i].inbound = core.InboundNotComingUp
		for j := range c.clusters[i].cpus {
			c.clusters[i].cpus[j] = core.CPUDown
		}
	}
	c.clusters[boot.Cluster].cpus[boot.Core] = core.CPUUp
	c.state.Set(boot.Cluster, string(core.ClusterUp))
	return c, nil
}

// ClusterState returns the cluster's coherency state.
func (c *Coordinator) ClusterState(cluster uint) core.ClusterState {
	return core.ClusterState(c.state.Current(cluster))
}

// CPUState returns a core's coherency state.
func (c *Coordinator) CPUState(id core.CoreID) core.CPUState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clusters[id.Cluster].cpus[id.Core]
}

// InboundState reports whether a core is bringing the cluster up.
func (c *Coordinator) InboundState(cluster uint) core.InboundState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clusters[cluster].inbound
}

// NotifyGoingDown records that id has started powering down.
func (c *Coordinator) NotifyGoingDown(id core.CoreID) {
	c.setCPU(id, core.CPUGoingDown)
}

// NotifyCoreDown records that id has finished its teardown.
func (c *Coordinator) NotifyCoreDown(id core.CoreID) {
	c.setCPU(id, core.CPUDown)
}

// CPUUp records that id finished its reset path.
func (c *Coordinator) CPUUp(id core.CoreID) {
	c.setCPU(id, core.CPUUp)
}

func (c *Coordinator) setCPU(id core.CoreID, st core.CPUState) {
	c.mu.Lock()
	c.clusters[id.Cluster].cpus[id.Core] = st
	c.cond.Broadcast()
	c.mu.Unlock()
}

// TryBecomeExclusiveTeardownAgent claims the cluster for teardown on behalf
// of id. It fails when the cluster is not UP, when an inbound core is
// bringing the cluster up, or when another cpu is running. Cpus still
// flushing their own caches are waited for.
func (c *Coordinator) TryBecomeExclusiveTeardownAgent(id core.CoreID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.state.Apply(id.Cluster, evOutboundEnter); err != nil {
		return false
	}
	cl := &c.clusters[id.Cluster]
	for {
		if cl.inbound == core.InboundComingUp {
			return c.abortLocked(id, "inbound core coming up")
		}
		busy := false
		for _, other := range c.topo.InCluster(id.Cluster) {
			if other == id {
				continue
			}
			switch cl.cpus[other.Core] {
			case core.CPUGoingDown:
				busy = true
			case core.CPUUp, core.CPUComingUp:
				return c.abortLocked(id, other.String()+" still running")
			}
		}
		if !busy {
			c.log.Debug("outbound agent elected", "cpu", id.String())
			return true
		}
		c.cond.Wait()
	}
}

func (c *Coordinator) abortLocked(id core.CoreID, reason string) bool {
	if _, err := c.state.Apply(id.Cluster, evOutboundAbort); err != nil {
		c.log.Error("outbound abort rejected", "cpu", id.String(), "err", err)
	}
	c.log.Debug("outbound agent aborted", "cpu", id.String(), "reason", reason)
	c.cond.Broadcast()
	return false
}

// NotifyClusterDown completes an outbound teardown.
func (c *Coordinator) NotifyClusterDown(cluster uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.state.Apply(cluster, evOutboundLeave); err != nil {
		return fmt.Errorf("cluster %d down: %w", cluster, err)
	}
	c.cond.Broadcast()
	return nil
}

// CPUComingUp is called on the reset path. It returns true when id is the
// inbound leader and must set the cluster up; the leader only returns once
// any in-flight teardown has finished. Other cores return false once the
// cluster is up.
func (c *Coordinator) CPUComingUp(id core.CoreID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl := &c.clusters[id.Cluster]
	cl.cpus[id.Core] = core.CPUComingUp
	c.cond.Broadcast()
	for {
		st := core.ClusterState(c.state.Current(id.Cluster))
		if st == core.ClusterUp && cl.inbound == core.InboundNotComingUp {
			return false
		}
		if cl.inbound == core.InboundComingUp {
			c.cond.Wait()
			continue
		}
		cl.inbound = core.InboundComingUp
		c.cond.Broadcast()
		for core.ClusterState(c.state.Current(id.Cluster)) == core.ClusterGoingDown {
			c.cond.Wait()
		}
		return true
	}
}

// ClusterUp is called by the inbound leader after cluster setup.
func (c *Coordinator) ClusterUp(cluster uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.state.Apply(cluster, evInboundUp); err != nil {
		return fmt.Errorf("cluster %d up: %w", cluster, err)
	}
	c.clusters[cluster].inbound = core.InboundNotComingUp
	c.cond.Broadcast()
	return nil
}
