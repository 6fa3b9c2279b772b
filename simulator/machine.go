// Package simulator runs every core of a simulated dual-cluster machine as
// its own goroutine against the power sequencer.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Readm/cluster_pm/config"
	"github.com/Readm/cluster_pm/core"
	"github.com/Readm/cluster_pm/hooks"
	"github.com/Readm/cluster_pm/hw"
	"github.com/Readm/cluster_pm/mcpm"
	"github.com/Readm/cluster_pm/platform"
	"github.com/Readm/cluster_pm/plugins/metrics"
	"github.com/Readm/cluster_pm/plugins/trace"
	"github.com/Readm/cluster_pm/powerseq"
)

// Options configure a Machine.
type Options struct {
	Logger         *slog.Logger
	Registerer     prometheus.Registerer
	TracerProvider oteltrace.TracerProvider
	// Generator overrides the per-core command stream.
	Generator func(id core.CoreID) Generator
}

// Machine is a fully wired simulated platform.
type Machine struct {
	cfg  *config.Config
	topo core.Topology
	boot core.CoreID
	log  *slog.Logger

	Board    *hw.Board
	Coord    *mcpm.Coordinator
	Frontend *mcpm.Frontend
	// Seq is nil when the platform is not power managed.
	Seq      *powerseq.Sequencer
	Broker   *hooks.PluginBroker
	Registry *hooks.Registry
	Recorder *trace.Recorder
	Metrics  *metrics.PowerMetrics

	genFor   func(id core.CoreID) Generator
	gens     map[core.CoreID]Generator
	workload func(ctx context.Context, id core.CoreID)

	// wanted mirrors the OS's online mask: set by whoever requests a core
	// up, cleared by the core itself right before it powers down. At most
	// one claim is ever outstanding per core.
	wanted [core.ClusterCount][core.CoresPerCluster]atomic.Bool

	counters counters

	errMu sync.Mutex
	errs  map[core.CoreID]error
}

// New builds the hardware model, the coordinator and frontend, loads the
// configured plugins and installs the sequencer.
func New(cfg *config.Config, opts Options) (*Machine, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := cfg.Platform
	m := &Machine{
		cfg:  cfg,
		topo: p.Topology(),
		boot: p.BootCPU,
		log:  logger.With("component", "simulator", "platform", p.Name),
		errs: make(map[core.CoreID]error),
	}
	m.counters.init()

	m.Broker = hooks.NewPluginBroker()
	m.Registry = hooks.NewRegistry(m.Broker)
	m.Recorder = trace.NewRecorder(trace.HistoryConfig{MaxEvents: cfg.Simulation.MaxEvents})
	if err := trace.Register(m.Registry, m.Recorder); err != nil {
		return nil, err
	}
	if err := metrics.Register(m.Registry, opts.Registerer, func(pm *metrics.PowerMetrics) { m.Metrics = pm }); err != nil {
		return nil, err
	}
	if err := m.Registry.Load(cfg.Simulation.Plugins); err != nil {
		return nil, fmt.Errorf("load plugins: %w", err)
	}
	m.Broker.RegisterAny(m.counters.observe)

	m.Board = hw.NewBoard(m.topo, m.boot, p.L1Lines)
	coord, err := mcpm.NewCoordinator(m.topo, m.boot, logger)
	if err != nil {
		return nil, err
	}
	m.Coord = coord
	m.Frontend = mcpm.NewFrontend(mcpm.FrontendConfig{
		Coordinator:    coord,
		CPU:            m.Board.CPUs,
		TracerProvider: opts.TracerProvider,
		Logger:         logger,
	})

	desc := &powerseq.Description{
		Name:            p.Name,
		Topology:        m.topo,
		Boot:            m.boot,
		PowerController: p.HasPowerController(),
		Interconnect:    p.HasInterconnect(),
	}
	seq, err := powerseq.Install(desc, m.Board.Primitives(coord), m.Frontend, powerseq.InstallOptions{
		Options: powerseq.Options{Broker: m.Broker, Logger: logger},
		Entry:   m.entry,
	})
	switch {
	case errors.Is(err, powerseq.ErrNotApplicable):
		m.log.Warn("power sequencer not installed", "reason", err)
	case err != nil:
		return nil, err
	default:
		m.Seq = seq
	}

	m.genFor = opts.Generator
	if m.genFor == nil {
		m.genFor = m.defaultGenerator
	}
	m.wanted[m.boot.Cluster][m.boot.Core].Store(true)
	return m, nil
}

func (m *Machine) defaultGenerator(id core.CoreID) Generator {
	sim := m.cfg.Simulation
	if len(sim.Schedule) > 0 {
		return NewScheduleGenerator(sim.Schedule, id)
	}
	budget := 0
	if id == m.boot {
		budget = sim.Steps
	}
	seed := sim.Seed*31 + int64(id.Cluster*core.CoresPerCluster+id.Core)
	return NewProbabilityGenerator(sim, m.topo, id, budget, id != m.boot, seed)
}

// Managed reports whether the sequencer is installed.
func (m *Machine) Managed() bool {
	return m.Seq != nil
}

// Boot returns the boot core.
func (m *Machine) Boot() core.CoreID {
	return m.boot
}

// Config returns the validated configuration.
func (m *Machine) Config() *config.Config {
	return m.cfg
}

// Run starts one goroutine per populated core. The run ends when the boot
// core's command stream is exhausted, on the first core error, or when ctx
// is done.
func (m *Machine) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()
	m.gens = make(map[core.CoreID]Generator, len(m.topo.All()))
	for _, id := range m.topo.All() {
		m.gens[id] = m.genFor(id)
	}
	m.workload = m.runWorkload

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	for _, id := range m.topo.All() {
		id := id
		g.Go(func() error {
			if id == m.boot {
				defer cancel()
			}
			return m.runCore(gctx, id)
		})
	}
	err := g.Wait()
	m.workload = nil
	stats := m.Stats()
	stats.Duration = time.Since(start)
	m.log.Info("run finished", "duration", stats.Duration, "last_man", stats.LastMan,
		"skip_suspend", stats.SkipSuspend, "invariant", stats.Invariant)
	return stats, err
}

func (m *Machine) runCore(ctx context.Context, id core.CoreID) error {
	coreCtx := platform.OnCore(ctx, id)
	if id == m.boot {
		if sig := hw.CatchReset(func() { m.workload(coreCtx, id) }); sig != nil {
			return fmt.Errorf("boot cpu %s left through reset", id)
		}
		return m.coreErr(id)
	}
	for {
		m.Board.CPUs.WaitForInterrupt(coreCtx)
		if ctx.Err() != nil {
			return nil
		}
		var err error
		sig := hw.CatchReset(func() { err = m.Frontend.Enter(coreCtx) })
		if err != nil {
			return fmt.Errorf("%s reset path: %w", id, err)
		}
		if sig != nil {
			m.counters.add(id, func(c *CoreStats) { c.Resets++ })
			continue
		}
		if err := m.coreErr(id); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}
}

// entry is every core's entry vector: rejoin coherency, unmask the
// interrupt interface, then run the workload if one is active.
func (m *Machine) entry(ctx context.Context) {
	id, ok := platform.Self(ctx)
	if !ok {
		return
	}
	m.Board.Caches.EnableCoherency(id)
	m.Board.GIC.UnmaskCPUInterface(id)
	m.Board.CPUs.EnableIRQ(ctx)
	m.counters.add(id, func(c *CoreStats) { c.Entries++ })
	if err := m.Broker.Emit(&hooks.StageContext{Core: id, Stage: core.CoreEntered}); err != nil {
		m.log.Warn("stage hook failed", "stage", string(core.CoreEntered), "err", err)
	}
	if w := m.workload; w != nil {
		w(ctx, id)
	}
}

func (m *Machine) runWorkload(ctx context.Context, id core.CoreID) {
	gen := m.gens[id]
	if gen == nil {
		return
	}
	loop := NewCommandLoop[Command](gen, CommandHandlerFunc[Command](func(ctx context.Context, cmd Command) bool {
		if err := m.execute(ctx, id, cmd); err != nil {
			m.setErr(id, err)
			return false
		}
		return true
	}))
	loop.DrainPending(ctx)
}

// execute runs one command on id. A power-down that suspends does not
// return: the core unwinds through its reset path.
func (m *Machine) execute(ctx context.Context, id core.CoreID, cmd Command) error {
	switch cmd.Op {
	case OpIdle:
		return nil
	case OpStore:
		if err := m.Board.Caches.Store(id, cmd.Addr, cmd.Value); err != nil {
			return err
		}
		m.counters.add(id, func(c *CoreStats) { c.Stores++ })
		return nil
	case OpLoad:
		if _, err := m.Board.Caches.Load(id, cmd.Addr); err != nil {
			return err
		}
		m.counters.add(id, func(c *CoreStats) { c.Loads++ })
		return nil
	case OpPowerUp:
		return m.powerUp(ctx, id, cmd.Target)
	case OpPowerDown:
		if id == m.boot {
			return nil
		}
		return m.powerDown(ctx, id)
	default:
		return fmt.Errorf("unknown op %q", cmd.Op)
	}
}

func (m *Machine) powerUp(ctx context.Context, id, target core.CoreID) error {
	claim := &m.wanted[target.Cluster][target.Core]
	if !claim.CompareAndSwap(false, true) {
		m.counters.add(id, func(c *CoreStats) { c.Redundant++ })
		return nil
	}
	err := m.Frontend.CPUPowerUp(ctx, target.Core, target.Cluster)
	if errors.Is(err, mcpm.ErrNoPlatform) {
		claim.Store(false)
		m.counters.add(id, func(c *CoreStats) { c.Rejected++ })
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s powering up %s: %w", id, target, err)
	}
	m.counters.add(id, func(c *CoreStats) { c.PowerUps++ })
	return nil
}

func (m *Machine) powerDown(ctx context.Context, id core.CoreID) error {
	claim := &m.wanted[id.Cluster][id.Core]
	restore := m.Board.CPUs.DisableIRQ(ctx)
	claim.Store(false)
	m.counters.add(id, func(c *CoreStats) { c.PowerDowns++ })
	out, err := m.Frontend.CPUPowerDown(ctx)
	if errors.Is(err, mcpm.ErrNoPlatform) {
		claim.Store(true)
		restore()
		m.counters.add(id, func(c *CoreStats) { c.Rejected++ })
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s powering down: %w", id, err)
	}
	if out.SkipSuspend {
		m.counters.add(id, func(c *CoreStats) { c.SkipSuspends++ })
		restore()
		// Overtaken: rejoin through the reset path like a real wake-up.
		m.Board.CPUs.Reset(ctx)
	}
	return fmt.Errorf("%s: power down returned without skipping the suspend", id)
}

func (m *Machine) setErr(id core.CoreID, err error) {
	m.errMu.Lock()
	if m.errs[id] == nil {
		m.errs[id] = err
	}
	m.errMu.Unlock()
	m.log.Error("core stopped", "cpu", id.String(), "err", err)
}

func (m *Machine) coreErr(id core.CoreID) error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.errs[id]
}
