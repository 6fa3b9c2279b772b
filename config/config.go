// Package config loads the platform description and simulation parameters.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Readm/cluster_pm/core"
)

// Defaults applied by Validate.
const (
	DefaultSteps         = 200
	DefaultL1Lines       = 8
	DefaultStoreRate     = 0.5
	DefaultPowerDownRate = 0.1
	DefaultPowerUpRate   = 0.2
	DefaultLogLevel      = "info"
)

// Config is the root of a configuration file.
type Config struct {
	Platform   Platform   `yaml:"platform"`
	Simulation Simulation `yaml:"simulation"`
}

// Platform is what probing the machine would report.
type Platform struct {
	Name string `yaml:"name"`
	// Clusters lists the populated core count of each cluster.
	Clusters []uint      `yaml:"clusters"`
	BootCPU  core.CoreID `yaml:"boot_cpu"`
	// PowerController and Interconnect default to present when omitted.
	PowerController *bool `yaml:"power_controller,omitempty"`
	Interconnect    *bool `yaml:"cci,omitempty"`
	L1Lines         int   `yaml:"l1_lines"`
}

// Simulation parameters.
type Simulation struct {
	// Steps is the boot core's command budget; the run ends when it is spent.
	Steps int   `yaml:"steps"`
	Seed  int64 `yaml:"seed"`
	// Per-step probabilities for each kind of command.
	StoreRate     float64  `yaml:"store_rate"`
	PowerDownRate float64  `yaml:"power_down_rate"`
	PowerUpRate   float64  `yaml:"power_up_rate"`
	Plugins       []string `yaml:"plugins"`
	LogLevel      string   `yaml:"log_level"`
	// MaxEvents caps the trace recorder; 0 keeps everything.
	MaxEvents int `yaml:"max_events"`
	// Schedule replaces random commands when non-empty.
	Schedule []ScheduleItem `yaml:"schedule,omitempty"`
}

// ScheduleItem is one scripted command.
type ScheduleItem struct {
	Step   int         `yaml:"step"`
	CPU    core.CoreID `yaml:"cpu"`
	Op     string      `yaml:"op"`
	Target core.CoreID `yaml:"target"`
	Addr   uint64      `yaml:"addr"`
	Value  uint64      `yaml:"value"`
}

// Schedule ops.
const (
	OpStore     = "store"
	OpLoad      = "load"
	OpPowerDown = "power_down"
	OpPowerUp   = "power_up"
)

// Topology returns the platform's populated cores.
func (p Platform) Topology() core.Topology {
	return core.Topology{Cores: append([]uint(nil), p.Clusters...)}
}

// HasPowerController reports the probed power controller.
func (p Platform) HasPowerController() bool {
	return p.PowerController == nil || *p.PowerController
}

// HasInterconnect reports the probed coherent interconnect.
func (p Platform) HasInterconnect() bool {
	return p.Interconnect == nil || *p.Interconnect
}

// Load reads and validates a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
