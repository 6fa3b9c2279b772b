package powerseq

import (
	"context"
	"fmt"
	"sync"

	"github.com/Readm/cluster_pm/core"
	"github.com/Readm/cluster_pm/platform"
)

// fakeReset is what fakePlatform.Reset unwinds with.
type fakeReset struct {
	Core core.CoreID
}

// fakePlatform implements every primitive and records the calls it sees.
type fakePlatform struct {
	mu           sync.Mutex
	calls        []string
	power        map[core.CoreID]bool
	modes        map[core.CoreID]core.ResumeMode
	clusters     [core.ClusterCount]core.ClusterState
	grant        bool
	irqOff       bool
	resetReturns bool
}

func newFakePlatform(boot core.CoreID) *fakePlatform {
	f := &fakePlatform{
		power: map[core.CoreID]bool{boot: true},
		modes: map[core.CoreID]core.ResumeMode{},
		grant: true,
	}
	for i := range f.clusters {
		f.clusters[i] = core.ClusterDown
	}
	f.clusters[boot.Cluster] = core.ClusterUp
	return f
}

func (f *fakePlatform) primitives() platform.Primitives {
	return platform.Primitives{
		Gate:        f,
		Boot:        f,
		IRQMask:     f,
		Cache:       f,
		Port:        f,
		Coordinator: f,
		CPU:         f,
	}
}

func (f *fakePlatform) record(format string, args ...any) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

func (f *fakePlatform) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePlatform) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *fakePlatform) powered(id core.CoreID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.power[id]
}

func (f *fakePlatform) SetPower(id core.CoreID, enabled bool) {
	f.mu.Lock()
	f.power[id] = enabled
	f.mu.Unlock()
	state := "off"
	if enabled {
		state = "on"
	}
	f.record("power %s %s", id, state)
}

func (f *fakePlatform) SetResumeMode(id core.CoreID, mode core.ResumeMode) {
	f.mu.Lock()
	f.modes[id] = mode
	f.mu.Unlock()
	f.record("resume %s %s", id, mode)
}

func (f *fakePlatform) MaskCPUInterface(id core.CoreID)   { f.record("mask %s", id) }
func (f *fakePlatform) UnmaskCPUInterface(id core.CoreID) { f.record("unmask %s", id) }

func (f *fakePlatform) Teardown(ctx context.Context, scope core.TeardownScope) {
	f.record("teardown %s", scope)
}

func (f *fakePlatform) SetPortEnabled(cluster uint, enabled bool) {
	f.record("port %d %v", cluster, enabled)
}

func (f *fakePlatform) ClusterState(cluster uint) core.ClusterState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clusters[cluster]
}

func (f *fakePlatform) NotifyGoingDown(id core.CoreID) { f.record("going_down %s", id) }
func (f *fakePlatform) NotifyCoreDown(id core.CoreID)  { f.record("core_down %s", id) }

func (f *fakePlatform) TryBecomeExclusiveTeardownAgent(id core.CoreID) bool {
	f.record("try %s", id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.grant {
		return false
	}
	f.clusters[id.Cluster] = core.ClusterGoingDown
	return true
}

func (f *fakePlatform) NotifyClusterDown(cluster uint) error {
	f.record("cluster_down %d", cluster)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clusters[cluster] != core.ClusterGoingDown {
		return fmt.Errorf("cluster %d is %s", cluster, f.clusters[cluster])
	}
	f.clusters[cluster] = core.ClusterDown
	return nil
}

func (f *fakePlatform) DisableIRQ(ctx context.Context) func() {
	f.mu.Lock()
	prev := f.irqOff
	f.irqOff = true
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.irqOff = prev
		f.mu.Unlock()
	}
}

func (f *fakePlatform) IRQsDisabled(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.irqOff
}

func (f *fakePlatform) WaitForInterrupt(ctx context.Context) { f.record("wfi") }

func (f *fakePlatform) Reset(ctx context.Context) {
	f.record("reset")
	f.mu.Lock()
	returns := f.resetReturns
	f.mu.Unlock()
	if returns {
		return
	}
	id, _ := platform.Self(ctx)
	panic(fakeReset{Core: id})
}

type downResult struct {
	out   core.Outcome
	err   error
	reset bool
}

// powerDown runs PowerDown on id and reports whether it ended in a reset.
func powerDown(s *Sequencer, id core.CoreID) (res downResult) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(fakeReset); !ok {
				panic(r)
			}
			res.reset = true
		}
	}()
	res.out, res.err = s.PowerDown(platform.OnCore(context.Background(), id))
	return res
}
