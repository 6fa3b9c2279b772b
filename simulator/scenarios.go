package simulator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Readm/cluster_pm/config"
	"github.com/Readm/cluster_pm/core"
	"github.com/Readm/cluster_pm/hooks"
	"github.com/Readm/cluster_pm/hw"
	"github.com/Readm/cluster_pm/platform"
	"github.com/Readm/cluster_pm/powerseq"
)

// Scenario is a scripted, self-checking sequence of power requests driven
// from a single goroutine.
type Scenario struct {
	Name        string
	Description string
	run         func(ctx context.Context, d *driver) error
}

// ScenarioResult is what a scenario observed.
type ScenarioResult struct {
	Name      string
	Timelines []*core.RequestTimeline
	Stats     *Stats
}

var scenarios = []Scenario{
	{
		Name:        "last-core",
		Description: "sole core of a cluster powers down and tears the whole cluster down",
		run:         runLastCore,
	},
	{
		Name:        "sibling",
		Description: "one of two active cores powers down; only its own caches are cleaned",
		run:         runSibling,
	},
	{
		Name:        "race",
		Description: "a power-up overtakes a power-down before its decrement; the suspend is skipped",
		run:         runRace,
	},
	{
		Name:        "late-power-up",
		Description: "a power-up lands after the decrement; power is kept and the core resets straight back in",
		run:         runLatePowerUp,
	},
	{
		Name:        "underflow",
		Description: "power-down of a core with no claim is a fatal invariant violation",
		run:         runUnderflow,
	},
	{
		Name:        "cluster-cycle",
		Description: "every core of a cluster powers down at once, then the cluster is brought back",
		run:         runClusterCycle,
	},
}

// Scenarios lists the built-in scenarios by name.
func Scenarios() []Scenario {
	out := append([]Scenario(nil), scenarios...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunScenario runs the named scenario on a fresh machine built from cfg.
// The second cluster of cfg's platform is the one exercised.
func RunScenario(ctx context.Context, name string, cfg *config.Config, opts Options) (*ScenarioResult, error) {
	var sc *Scenario
	for i := range scenarios {
		if scenarios[i].Name == name {
			sc = &scenarios[i]
		}
	}
	if sc == nil {
		return nil, fmt.Errorf("unknown scenario %q", name)
	}
	m, err := New(cfg, opts)
	if err != nil {
		return nil, err
	}
	if !m.Managed() {
		return nil, fmt.Errorf("scenario %s: %w", name, powerseq.ErrNotApplicable)
	}
	if m.topo.Clusters() < 2 || len(m.topo.InCluster(1)) < 2 {
		return nil, fmt.Errorf("scenario %s needs a second cluster with at least two cores", name)
	}
	d := &driver{m: m, boot: platform.OnCore(ctx, m.boot)}
	if err := sc.run(ctx, d); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", name, err)
	}
	return &ScenarioResult{Name: name, Timelines: m.Recorder.Timelines(), Stats: m.Stats()}, nil
}

// driver steps cores by hand instead of running them as goroutines.
type driver struct {
	m    *Machine
	boot context.Context
}

func (d *driver) cluster() []core.CoreID {
	return d.m.topo.InCluster(1)
}

// bringUp powers id up from the boot core and runs its reset path.
func (d *driver) bringUp(ctx context.Context, id core.CoreID) error {
	if err := d.m.Frontend.CPUPowerUp(d.boot, id.Core, id.Cluster); err != nil {
		return err
	}
	return d.enter(ctx, id)
}

func (d *driver) enter(ctx context.Context, id core.CoreID) error {
	return d.m.Frontend.Enter(platform.OnCore(ctx, id))
}

type downResult struct {
	out   core.Outcome
	err   error
	reset bool
}

// powerDown runs id's power-down to completion. The core is not left
// idling: its wait for interrupt returns at once and the reset unwinds.
func (d *driver) powerDown(ctx context.Context, id core.CoreID) downResult {
	idle, cancel := context.WithCancel(ctx)
	cancel()
	coreCtx := platform.OnCore(idle, id)
	restore := d.m.Board.CPUs.DisableIRQ(coreCtx)
	defer restore()
	var res downResult
	sig := hw.CatchReset(func() {
		res.out, res.err = d.m.Frontend.CPUPowerDown(coreCtx)
	})
	res.reset = sig != nil
	return res
}

func expect(ok bool, format string, args ...any) error {
	if ok {
		return nil
	}
	return fmt.Errorf(format, args...)
}

func runLastCore(ctx context.Context, d *driver) error {
	id := d.cluster()[0]
	if err := d.bringUp(ctx, id); err != nil {
		return err
	}
	res := d.powerDown(ctx, id)
	return errors.Join(
		res.err,
		expect(res.reset, "%s returned from power down", id),
		expect(d.m.Coord.ClusterState(1) == core.ClusterDown, "cluster state %s", d.m.Coord.ClusterState(1)),
		expect(!d.m.Board.CCI.Enabled(1), "cci port still enabled"),
		expect(d.m.Board.Caches.Teardowns(core.TeardownCluster) == 1, "no cluster teardown"),
	)
}

func runSibling(ctx context.Context, d *driver) error {
	a, b := d.cluster()[0], d.cluster()[1]
	if err := errors.Join(d.bringUp(ctx, a), d.bringUp(ctx, b)); err != nil {
		return err
	}
	res := d.powerDown(ctx, b)
	snap := d.m.Seq.Snapshot()
	return errors.Join(
		res.err,
		expect(res.reset, "%s returned from power down", b),
		expect(d.m.Coord.ClusterState(1) == core.ClusterUp, "cluster state %s", d.m.Coord.ClusterState(1)),
		expect(snap.Active[1] == 1, "active count %d", snap.Active[1]),
		expect(d.m.Board.Caches.Teardowns(core.TeardownCluster) == 0, "unexpected cluster teardown"),
	)
}

// once runs a hook for the first matching stage of id.
func once(stage core.PowerEventType, id core.CoreID, fn func() error) (hooks.HookBundle, *bool) {
	var mu sync.Mutex
	fired := false
	return hooks.HookBundle{Stages: map[core.PowerEventType][]hooks.StageHook{
		stage: {func(sc *hooks.StageContext) error {
			mu.Lock()
			defer mu.Unlock()
			if sc.Core != id || fired {
				return nil
			}
			fired = true
			return fn()
		}},
	}}, &fired
}

func runRace(ctx context.Context, d *driver) error {
	a, b := d.cluster()[0], d.cluster()[1]
	if err := errors.Join(d.bringUp(ctx, a), d.bringUp(ctx, b)); err != nil {
		return err
	}
	bundle, fired := once(core.PowerDownStarted, b, func() error {
		return d.m.Frontend.CPUPowerUp(d.boot, b.Core, b.Cluster)
	})
	d.m.Broker.RegisterBundle(hooks.PluginDescriptor{Name: "scenario/race", Category: hooks.PluginCategoryFault}, bundle)

	res := d.powerDown(ctx, b)
	if err := errors.Join(
		res.err,
		expect(*fired, "race was not injected"),
		expect(!res.reset, "%s suspended despite the racing power-up", b),
		expect(res.out.SkipSuspend, "skip-suspend not reported"),
		expect(d.m.Board.Power.Powered(b), "%s lost power", b),
		expect(!d.m.Board.GIC.Masked(b), "%s interface masked", b),
	); err != nil {
		return err
	}
	return d.enter(ctx, b)
}

func runLatePowerUp(ctx context.Context, d *driver) error {
	a, b := d.cluster()[0], d.cluster()[1]
	if err := errors.Join(d.bringUp(ctx, a), d.bringUp(ctx, b)); err != nil {
		return err
	}
	bundle, fired := once(core.TeardownComplete, b, func() error {
		return d.m.Frontend.CPUPowerUp(d.boot, b.Core, b.Cluster)
	})
	d.m.Broker.RegisterBundle(hooks.PluginDescriptor{Name: "scenario/late-power-up", Category: hooks.PluginCategoryFault}, bundle)

	res := d.powerDown(ctx, b)
	if err := errors.Join(
		res.err,
		expect(*fired, "power-up was not injected"),
		expect(res.reset, "%s returned from power down", b),
		expect(d.m.Board.Power.Powered(b), "%s lost power", b),
	); err != nil {
		return err
	}
	return d.enter(ctx, b)
}

func runUnderflow(ctx context.Context, d *driver) error {
	if err := d.bringUp(ctx, d.cluster()[0]); err != nil {
		return err
	}
	id := d.cluster()[1]
	res := d.powerDown(ctx, id)
	return errors.Join(
		expect(powerseq.KindOf(res.err) == powerseq.KindInvariant, "want invariant violation, got %v", res.err),
		expect(d.m.Seq.Faulted(), "sequencer still accepting requests"),
		expect(errors.Is(d.m.Frontend.CPUPowerUp(d.boot, id.Core, id.Cluster), powerseq.ErrFaulted), "power up after fault accepted"),
	)
}

func runClusterCycle(ctx context.Context, d *driver) error {
	ids := d.cluster()
	for _, id := range ids {
		if err := d.bringUp(ctx, id); err != nil {
			return err
		}
	}
	results := make([]downResult, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id core.CoreID) {
			defer wg.Done()
			results[i] = d.powerDown(ctx, id)
		}(i, id)
	}
	wg.Wait()

	var errs []error
	for i, res := range results {
		errs = append(errs, res.err, expect(res.reset, "%s returned from power down", ids[i]))
	}
	errs = append(errs,
		expect(d.m.Board.Caches.Teardowns(core.TeardownCluster) == 1, "%d cluster teardowns", d.m.Board.Caches.Teardowns(core.TeardownCluster)),
		expect(len(d.m.Board.Caches.Violations()) == 0, "cache violations %v", d.m.Board.Caches.Violations()),
		expect(d.m.Coord.ClusterState(1) == core.ClusterDown, "cluster state %s", d.m.Coord.ClusterState(1)),
	)
	if err := errors.Join(errs...); err != nil {
		return err
	}

	back := ids[len(ids)-1]
	if err := d.bringUp(ctx, back); err != nil {
		return err
	}
	return errors.Join(
		expect(d.m.Coord.ClusterState(1) == core.ClusterUp, "cluster state %s after bring-up", d.m.Coord.ClusterState(1)),
		expect(d.m.Board.CCI.Enabled(1), "cci port not re-enabled"),
	)
}
