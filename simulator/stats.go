package simulator

import (
	"sync"
	"time"

	"github.com/Readm/cluster_pm/core"
	"github.com/Readm/cluster_pm/hooks"
	"github.com/Readm/cluster_pm/powerseq"
)

// CoreStats counts what one core did during a run.
type CoreStats struct {
	Core         core.CoreID
	Entries      int
	Resets       int
	Stores       int
	Loads        int
	PowerUps     int
	Redundant    int
	PowerDowns   int
	SkipSuspends int
	Rejected     int
}

// Stats summarises a run.
type Stats struct {
	Platform string
	Managed  bool
	Duration time.Duration
	Cores    []CoreStats

	LastMan      int
	LostElection int
	SkipSuspend  int
	LatePowerUp  int
	Fatal        int

	BusWrites        int
	LocalTeardowns   int
	ClusterTeardowns int
	Violations       []string

	Table   powerseq.Table
	Faulted bool
	// Invariant is empty when the use-count table is consistent.
	Invariant string
}

type counters struct {
	mu    sync.Mutex
	cores [core.ClusterCount][core.CoresPerCluster]CoreStats

	lastMan, lostElection, skip, late, fatal int
}

func (c *counters) init() {
	for cl := range c.cores {
		for cpu := range c.cores[cl] {
			c.cores[cl][cpu].Core = core.CoreID{Core: uint(cpu), Cluster: uint(cl)}
		}
	}
}

func (c *counters) add(id core.CoreID, fn func(*CoreStats)) {
	c.mu.Lock()
	fn(&c.cores[id.Cluster][id.Core])
	c.mu.Unlock()
}

func (c *counters) observe(ctx *hooks.StageContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ctx.Stage {
	case core.PowerDownDecided:
		if ctx.LastMan {
			c.lastMan++
		} else if ctx.ClusterActive == 0 && !ctx.SkipSuspend {
			c.lostElection++
		}
	case core.SuspendSkipped:
		c.skip++
	case core.PowerRemoved:
		if ctx.UseCount > 0 {
			c.late++
		}
	case core.FatalViolation:
		c.fatal++
	}
	return nil
}

// Stats collects counters and checks the sequencer's bookkeeping. It is
// meaningful once every core has stopped.
func (m *Machine) Stats() *Stats {
	st := &Stats{
		Platform:         m.cfg.Platform.Name,
		Managed:          m.Managed(),
		BusWrites:        m.Board.Power.BusWrites(),
		LocalTeardowns:   m.Board.Caches.Teardowns(core.TeardownLocal),
		ClusterTeardowns: m.Board.Caches.Teardowns(core.TeardownCluster),
		Violations:       m.Board.Caches.Violations(),
	}
	m.counters.mu.Lock()
	for _, id := range m.topo.All() {
		st.Cores = append(st.Cores, m.counters.cores[id.Cluster][id.Core])
	}
	st.LastMan = m.counters.lastMan
	st.LostElection = m.counters.lostElection
	st.SkipSuspend = m.counters.skip
	st.LatePowerUp = m.counters.late
	st.Fatal = m.counters.fatal
	m.counters.mu.Unlock()

	if m.Seq != nil {
		st.Table = m.Seq.Snapshot()
		st.Faulted = m.Seq.Faulted()
		if err := st.Table.Check(); err != nil {
			st.Invariant = err.Error()
		}
	}
	return st
}
