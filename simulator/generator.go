package simulator

import (
	"math/rand"
	"sort"

	"github.com/Readm/cluster_pm/config"
	"github.com/Readm/cluster_pm/core"
)

// Op is a command a running core executes.
type Op string

const (
	OpIdle      Op = "idle"
	OpStore     Op = Op(config.OpStore)
	OpLoad      Op = Op(config.OpLoad)
	OpPowerDown Op = Op(config.OpPowerDown)
	OpPowerUp   Op = Op(config.OpPowerUp)
)

// addrSpace is the number of distinct cache lines the workload touches.
const addrSpace = 64

// Command is one unit of work for a core.
type Command struct {
	Op     Op
	Target core.CoreID
	Addr   uint64
	Value  uint64
}

// Generator produces the command stream of one core.
type Generator interface {
	CommandSource[Command]
	// Reset rewinds the generator to its first command.
	Reset()
}

// ProbabilityGenerator draws commands at random with fixed rates.
type ProbabilityGenerator struct {
	self          core.CoreID
	targets       []core.CoreID
	storeRate     float64
	powerUpRate   float64
	powerDownRate float64
	budget        int
	step          int
	seed          int64
	rng           *rand.Rand
}

// NewProbabilityGenerator builds a generator for self. A budget of 0 never
// runs out. canPowerDown is false for the boot core.
func NewProbabilityGenerator(sim config.Simulation, topo core.Topology, self core.CoreID, budget int, canPowerDown bool, seed int64) *ProbabilityGenerator {
	var targets []core.CoreID
	for _, id := range topo.All() {
		if id != self {
			targets = append(targets, id)
		}
	}
	g := &ProbabilityGenerator{
		self:        self,
		targets:     targets,
		storeRate:   sim.StoreRate,
		powerUpRate: sim.PowerUpRate,
		budget:      budget,
		seed:        seed,
		rng:         rand.New(rand.NewSource(seed)),
	}
	if canPowerDown {
		g.powerDownRate = sim.PowerDownRate
	}
	return g
}

func (g *ProbabilityGenerator) NextCommand() (Command, bool) {
	if g.budget > 0 && g.step >= g.budget {
		return Command{}, false
	}
	g.step++

	r := g.rng.Float64()
	switch {
	case r < g.storeRate:
		return Command{Op: OpStore, Addr: g.addr(), Value: g.rng.Uint64()}, true
	case r < g.storeRate+g.powerUpRate && len(g.targets) > 0:
		return Command{Op: OpPowerUp, Target: g.targets[g.rng.Intn(len(g.targets))]}, true
	case r < g.storeRate+g.powerUpRate+g.powerDownRate:
		return Command{Op: OpPowerDown}, true
	default:
		return Command{Op: OpLoad, Addr: g.addr()}, true
	}
}

func (g *ProbabilityGenerator) addr() uint64 {
	return uint64(g.rng.Intn(addrSpace)) * 64
}

// Reset rewinds the random stream.
func (g *ProbabilityGenerator) Reset() {
	g.step = 0
	g.rng = rand.New(rand.NewSource(g.seed))
}

// ScheduleGenerator replays scripted commands. Steps without a scripted
// command yield OpIdle.
type ScheduleGenerator struct {
	byStep   map[int][]Command
	lastStep int
	step     int
	pending  []Command
}

// NewScheduleGenerator keeps the items scripted for self.
func NewScheduleGenerator(items []config.ScheduleItem, self core.CoreID) *ScheduleGenerator {
	g := &ScheduleGenerator{byStep: make(map[int][]Command), lastStep: -1}
	sorted := append([]config.ScheduleItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Step < sorted[j].Step })
	for _, it := range sorted {
		if it.CPU != self {
			continue
		}
		g.byStep[it.Step] = append(g.byStep[it.Step], Command{
			Op:     Op(it.Op),
			Target: it.Target,
			Addr:   it.Addr,
			Value:  it.Value,
		})
		if it.Step > g.lastStep {
			g.lastStep = it.Step
		}
	}
	return g
}

func (g *ScheduleGenerator) NextCommand() (Command, bool) {
	for len(g.pending) == 0 {
		if g.step > g.lastStep {
			return Command{}, false
		}
		g.pending = append(g.pending, g.byStep[g.step]...)
		g.step++
		if len(g.pending) == 0 {
			return Command{Op: OpIdle}, true
		}
	}
	cmd := g.pending[0]
	g.pending = g.pending[1:]
	return cmd, true
}

// Reset rewinds to step 0.
func (g *ScheduleGenerator) Reset() {
	g.step = 0
	g.pending = nil
}
