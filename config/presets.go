package config

import (
	"sort"

	"github.com/Readm/cluster_pm/core"
)

// Preset is a named built-in configuration.
type Preset struct {
	Name        string
	Description string
	Config      Config
}

var presets = []Preset{
	{
		Name:        "tc2",
		Description: "big.LITTLE test chip: 2 Cortex-A15 + 3 Cortex-A7, power controller and CCI-400",
		Config: Config{
			Platform: Platform{
				Name:     "tc2",
				Clusters: []uint{2, 3},
				BootCPU:  bootCPU(0, 0),
				L1Lines:  DefaultL1Lines,
			},
			Simulation: Simulation{
				Steps:         DefaultSteps,
				Seed:          1,
				StoreRate:     DefaultStoreRate,
				PowerDownRate: DefaultPowerDownRate,
				PowerUpRate:   DefaultPowerUpRate,
				Plugins:       []string{"trace/recorder"},
				LogLevel:      DefaultLogLevel,
			},
		},
	},
	{
		Name:        "quad-quad",
		Description: "two fully populated 4-core clusters",
		Config: Config{
			Platform: Platform{
				Name:     "quad-quad",
				Clusters: []uint{4, 4},
				BootCPU:  bootCPU(0, 0),
				L1Lines:  DefaultL1Lines,
			},
			Simulation: Simulation{
				Steps:         500,
				Seed:          1,
				StoreRate:     0.4,
				PowerDownRate: 0.15,
				PowerUpRate:   0.3,
				Plugins:       []string{"trace/recorder", "metrics/prometheus"},
				LogLevel:      DefaultLogLevel,
			},
		},
	},
}

// Presets lists the built-in configurations by name.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByName returns a copy of the named preset, or nil.
func ByName(name string) *Config {
	for _, p := range presets {
		if p.Name != name {
			continue
		}
		cfg := p.Config
		cfg.Platform.Clusters = append([]uint(nil), p.Config.Platform.Clusters...)
		cfg.Simulation.Plugins = append([]string(nil), p.Config.Simulation.Plugins...)
		cfg.Simulation.Schedule = append([]ScheduleItem(nil), p.Config.Simulation.Schedule...)
		return &cfg
	}
	return nil
}

func bootCPU(c, cl uint) core.CoreID {
	return core.CoreID{Core: c, Cluster: cl}
}
