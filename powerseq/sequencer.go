// Package powerseq sequences per-core power transitions for a dual-cluster
// system. It owns the use-count table that decides when a core is last in
// its cluster, and drives the platform primitives in the order that keeps
// caches and the coherent interconnect consistent:
//
//	bookkeeping (under the lock) -> cache teardown -> port disable -> power off
//
// Everything that mutates the table goes through PowerUp and PowerDown.
package powerseq

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Readm/cluster_pm/core"
	"github.com/Readm/cluster_pm/hooks"
	"github.com/Readm/cluster_pm/platform"
)

const (
	opPowerUp   = "power_up"
	opPowerDown = "power_down"
)

// Options configure a Sequencer.
type Options struct {
	// Broker receives lifecycle stages. Stages are only emitted while the
	// lock is free, so hooks may issue requests of their own.
	Broker *hooks.PluginBroker
	Logger *slog.Logger
	// NewRequestID labels each request; defaults to random UUIDs.
	NewRequestID func() string
}

// Table is a copy of the sequencer's bookkeeping.
type Table struct {
	UseCount [core.ClusterCount][core.CoresPerCluster]int
	Active   [core.ClusterCount]int
}

// Check verifies that every use count is 0, 1 or 2 and that each active
// count matches the cores with a non-zero use count.
func (t Table) Check() error {
	for cl := range t.UseCount {
		live := 0
		for cpu, n := range t.UseCount[cl] {
			if n < 0 || n > 2 {
				return fmt.Errorf("cpu%d/cluster%d: use count %d", cpu, cl, n)
			}
			if n >= 1 {
				live++
			}
		}
		if live != t.Active[cl] {
			return fmt.Errorf("cluster%d: active count %d, %d cores up", cl, t.Active[cl], live)
		}
	}
	return nil
}

// Sequencer is the reference-counted power sequencer.
type Sequencer struct {
	lock     spinlock
	useCount [core.ClusterCount][core.CoresPerCluster]int
	active   [core.ClusterCount]int

	topo    core.Topology
	p       platform.Primitives
	broker  *hooks.PluginBroker
	log     *slog.Logger
	newID   func() string
	faulted atomic.Bool
}

// New builds a sequencer whose only running core is boot.
func New(topo core.Topology, boot core.CoreID, p platform.Primitives, opts Options) (*Sequencer, error) {
	if err := topo.Validate(); err != nil {
		return nil, fmt.Errorf("powerseq: %w", err)
	}
	if !topo.Contains(boot) {
		return nil, fmt.Errorf("powerseq: boot core %s outside topology", boot)
	}
	if missing := p.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("powerseq: missing primitives %v", missing)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newID := opts.NewRequestID
	if newID == nil {
		newID = uuid.NewString
	}
	s := &Sequencer{
		topo:   topo,
		p:      p,
		broker: opts.Broker,
		log:    logger.With("component", "powerseq"),
		newID:  newID,
	}
	s.useCount[boot.Cluster][boot.Core] = 1
	s.active[boot.Cluster] = 1
	return s, nil
}

// Snapshot copies the bookkeeping under the lock.
func (s *Sequencer) Snapshot() Table {
	s.lock.Lock()
	t := Table{UseCount: s.useCount, Active: s.active}
	s.lock.Unlock()
	return t
}

// Faulted reports whether an invariant violation has halted the sequencer.
func (s *Sequencer) Faulted() bool {
	return s.faulted.Load()
}

// PowerUp marks (cpu, cluster) as wanted and asserts its power if it was
// fully down. It does not wait for the core to come up.
func (s *Sequencer) PowerUp(ctx context.Context, cpu, cluster uint) error {
	id := core.CoreID{Core: cpu, Cluster: cluster}
	if !id.InRange() || !s.topo.Contains(id) {
		return s.fail(KindPrecondition, opPowerUp, id, "core outside topology", nil)
	}
	if s.faulted.Load() {
		return s.fail(KindInvariant, opPowerUp, id, "refused", ErrFaulted)
	}
	reqID := s.newID()
	s.emit(&hooks.StageContext{RequestID: reqID, Core: id, Stage: core.PowerUpRequested})

	restore := s.p.CPU.DisableIRQ(ctx)
	s.lock.Lock()
	s.useCount[cluster][cpu]++
	count := s.useCount[cluster][cpu]
	switch count {
	case 1:
		s.active[cluster]++
		s.p.Boot.SetResumeMode(id, core.ResumeViaReset)
		s.p.Gate.SetPower(id, true)
	case 2:
		// The core is still inside PowerDown ahead of its decrement; it will
		// see this claim and skip the suspend.
	default:
		s.faulted.Store(true)
	}
	active := s.active[cluster]
	s.lock.Unlock()
	restore()

	if count != 1 && count != 2 {
		return s.fail(KindInvariant, opPowerUp, id, fmt.Sprintf("use count %d after increment", count), nil)
	}
	stage := core.PowerUpApplied
	if count == 2 {
		stage = core.PowerUpRaced
	}
	s.emit(&hooks.StageContext{RequestID: reqID, Core: id, Stage: stage, UseCount: count, ClusterActive: active})
	return nil
}

// PowerDown takes the executing core down. Unless a PowerUp for the same
// core overtook it, the call ends in the core's reset path and does not
// return. When it does return without error, the outcome has SkipSuspend
// set: caches were torn down locally but power stays on.
func (s *Sequencer) PowerDown(ctx context.Context) (core.Outcome, error) {
	mpidr, ok := platform.CPUFromContext(ctx)
	if !ok {
		return core.Outcome{}, s.fail(KindPrecondition, opPowerDown, core.CoreID{}, "no executing cpu", nil)
	}
	id := core.CoreIDFromMPIDR(mpidr)
	if !s.topo.Contains(id) {
		return core.Outcome{}, s.fail(KindPrecondition, opPowerDown, id, fmt.Sprintf("mpidr %#x outside topology", uint64(mpidr)), nil)
	}
	if s.faulted.Load() {
		return core.Outcome{}, s.fail(KindInvariant, opPowerDown, id, "refused", ErrFaulted)
	}
	reqID := s.newID()
	coord := s.p.Coordinator

	coord.NotifyGoingDown(id)
	s.emit(&hooks.StageContext{RequestID: reqID, Core: id, Stage: core.PowerDownStarted})

	s.lock.Lock()
	if st := coord.ClusterState(id.Cluster); st != core.ClusterUp {
		s.faulted.Store(true)
		s.lock.Unlock()
		return core.Outcome{}, s.fail(KindInvariant, opPowerDown, id, fmt.Sprintf("cluster state %s, want %s", st, core.ClusterUp), nil)
	}
	s.useCount[id.Cluster][id.Core]--
	count := s.useCount[id.Cluster][id.Core]
	lastMan, skip := false, false
	switch count {
	case 0:
		s.active[id.Cluster]--
		lastMan = s.active[id.Cluster] == 0
		if s.active[id.Cluster] < 0 {
			s.faulted.Store(true)
			s.lock.Unlock()
			return core.Outcome{}, s.fail(KindInvariant, opPowerDown, id, fmt.Sprintf("active count %d", s.active[id.Cluster]), nil)
		}
	case 1:
		skip = true
	default:
		s.faulted.Store(true)
		s.lock.Unlock()
		return core.Outcome{}, s.fail(KindInvariant, opPowerDown, id, fmt.Sprintf("use count %d after decrement", count), nil)
	}
	if !skip {
		s.p.IRQMask.MaskCPUInterface(id)
	}
	elected := lastMan
	if lastMan && !coord.TryBecomeExclusiveTeardownAgent(id) {
		lastMan = false
	}
	active := s.active[id.Cluster]
	s.lock.Unlock()

	s.log.Debug("power down decided", "cpu", id.String(), "use_count", count,
		"cluster_active", active, "last_man", lastMan, "lost_election", elected && !lastMan, "skip_suspend", skip)
	s.emit(&hooks.StageContext{
		RequestID: reqID, Core: id, Stage: core.PowerDownDecided,
		UseCount: count, ClusterActive: active, LastMan: lastMan, SkipSuspend: skip,
	})

	scope := core.TeardownLocal
	if lastMan {
		scope = core.TeardownCluster
	}
	s.p.Cache.Teardown(ctx, scope)
	if lastMan {
		s.p.Port.SetPortEnabled(id.Cluster, false)
		if err := coord.NotifyClusterDown(id.Cluster); err != nil {
			s.faulted.Store(true)
			return core.Outcome{}, s.fail(KindInvariant, opPowerDown, id, "cluster teardown", err)
		}
	}
	s.emit(&hooks.StageContext{RequestID: reqID, Core: id, Stage: core.TeardownComplete, LastMan: lastMan, SkipSuspend: skip, Scope: scope})

	coord.NotifyCoreDown(id)
	s.emit(&hooks.StageContext{RequestID: reqID, Core: id, Stage: core.CoreDown, SkipSuspend: skip})

	if skip {
		s.emit(&hooks.StageContext{RequestID: reqID, Core: id, Stage: core.SuspendSkipped, UseCount: count, SkipSuspend: true})
		return core.Outcome{SkipSuspend: true}, nil
	}

	// A PowerUp that landed after the decrement already found the gate on;
	// pulling it now would lose that wake-up.
	s.lock.Lock()
	claims := s.useCount[id.Cluster][id.Core]
	if claims == 0 {
		s.p.Gate.SetPower(id, false)
	}
	s.lock.Unlock()
	s.emit(&hooks.StageContext{RequestID: reqID, Core: id, Stage: core.PowerRemoved, UseCount: claims})

	s.p.CPU.WaitForInterrupt(ctx)
	s.p.CPU.Reset(ctx)

	s.faulted.Store(true)
	return core.Outcome{}, s.fail(KindInvariant, opPowerDown, id, "reset path returned", nil)
}

func (s *Sequencer) fail(kind FaultKind, op string, id core.CoreID, detail string, err error) error {
	fe := &FatalError{Kind: kind, Op: op, Core: id, Detail: detail, Err: err}
	s.log.Error("fatal power sequencing error", "op", op, "kind", string(kind), "cpu", id.String(), "detail", detail, "err", err)
	s.emit(&hooks.StageContext{Core: id, Stage: core.FatalViolation, Err: fe})
	return fe
}

func (s *Sequencer) emit(ctx *hooks.StageContext) {
	if s.broker == nil {
		return
	}
	if err := s.broker.Emit(ctx); err != nil {
		s.log.Warn("stage hook failed", "stage", string(ctx.Stage), "cpu", ctx.Core.String(), "err", err)
	}
}
