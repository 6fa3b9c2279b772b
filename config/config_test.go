package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Readm/cluster_pm/core"
)

const sampleYAML = `
platform:
  name: board
  clusters: [2, 3]
  boot_cpu: {core: 1, cluster: 0}
  cci: false
simulation:
  seed: 42
  log_level: DEBUG
  plugins: [trace/recorder]
  schedule:
    - {step: 3, cpu: {core: 1, cluster: 0}, op: power_up, target: {core: 2, cluster: 1}}
    - {step: 5, cpu: {core: 2, cluster: 1}, op: power_down}
`

func TestParseFillsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, core.Topology{Cores: []uint{2, 3}}, cfg.Platform.Topology())
	assert.Equal(t, core.CoreID{Core: 1, Cluster: 0}, cfg.Platform.BootCPU)
	assert.True(t, cfg.Platform.HasPowerController(), "omitted means present")
	assert.False(t, cfg.Platform.HasInterconnect())
	assert.Equal(t, DefaultL1Lines, cfg.Platform.L1Lines)

	assert.Equal(t, DefaultSteps, cfg.Simulation.Steps)
	assert.Equal(t, int64(42), cfg.Simulation.Seed)
	assert.Equal(t, "debug", cfg.Simulation.LogLevel)
	assert.Equal(t, DefaultStoreRate, cfg.Simulation.StoreRate)
	require.Len(t, cfg.Simulation.Schedule, 2)
	assert.Equal(t, OpPowerUp, cfg.Simulation.Schedule[0].Op)
	assert.Equal(t, core.CoreID{Core: 2, Cluster: 1}, cfg.Simulation.Schedule[0].Target)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "board", cfg.Platform.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"no clusters":        func(c *Config) { c.Platform.Clusters = nil },
		"three clusters":     func(c *Config) { c.Platform.Clusters = []uint{1, 1, 1} },
		"five cores":         func(c *Config) { c.Platform.Clusters = []uint{5} },
		"boot not populated": func(c *Config) { c.Platform.BootCPU = core.CoreID{Core: 2, Cluster: 0} },
		"rate above one":     func(c *Config) { c.Simulation.PowerUpRate = 1.5 },
		"negative steps":     func(c *Config) { c.Simulation.Steps = -1 },
		"bad log level":      func(c *Config) { c.Simulation.LogLevel = "loud" },
		"unknown op": func(c *Config) {
			c.Simulation.Schedule = []ScheduleItem{{CPU: core.CoreID{}, Op: "reboot"}}
		},
		"boot powers down": func(c *Config) {
			c.Simulation.Schedule = []ScheduleItem{{CPU: c.Platform.BootCPU, Op: OpPowerDown}}
		},
		"target outside": func(c *Config) {
			c.Simulation.Schedule = []ScheduleItem{{Op: OpPowerUp, Target: core.CoreID{Core: 3, Cluster: 1}}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := ByName("tc2")
			require.NotNil(t, cfg)
			mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
	assert.Error(t, Validate(nil))
}

func TestPresets(t *testing.T) {
	names := []string{}
	for _, p := range Presets() {
		names = append(names, p.Name)
		cfg := ByName(p.Name)
		require.NotNil(t, cfg)
		assert.NoError(t, Validate(cfg), p.Name)
	}
	assert.Equal(t, []string{"quad-quad", "tc2"}, names)
	assert.Nil(t, ByName("missing"))

	a := ByName("tc2")
	a.Platform.Clusters[0] = 4
	assert.Equal(t, uint(2), ByName("tc2").Platform.Clusters[0], "presets are copied")
}

func TestMarshalRoundTripsSchedule(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	data, err := Marshal(cfg)
	require.NoError(t, err)
	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}
