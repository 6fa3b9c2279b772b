package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate applies structural checks and populates defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	p := &cfg.Platform
	if p.Name == "" {
		p.Name = "custom"
	}
	if err := p.Topology().Validate(); err != nil {
		return fmt.Errorf("platform %s: %w", p.Name, err)
	}
	if !p.Topology().Contains(p.BootCPU) {
		return fmt.Errorf("platform %s: boot cpu %s is not populated", p.Name, p.BootCPU)
	}
	if p.L1Lines < 0 {
		return fmt.Errorf("l1_lines must be non-negative, got %d", p.L1Lines)
	}
	if p.L1Lines == 0 {
		p.L1Lines = DefaultL1Lines
	}

	s := &cfg.Simulation
	if s.Steps < 0 {
		return fmt.Errorf("steps must be non-negative, got %d", s.Steps)
	}
	if s.Steps == 0 {
		s.Steps = DefaultSteps
	}
	for name, rate := range map[string]*float64{
		"store_rate":      &s.StoreRate,
		"power_down_rate": &s.PowerDownRate,
		"power_up_rate":   &s.PowerUpRate,
	} {
		if *rate < 0 || *rate > 1 {
			return fmt.Errorf("%s must be within [0,1], got %.3f", name, *rate)
		}
	}
	if s.StoreRate == 0 && s.PowerDownRate == 0 && s.PowerUpRate == 0 {
		s.StoreRate = DefaultStoreRate
		s.PowerDownRate = DefaultPowerDownRate
		s.PowerUpRate = DefaultPowerUpRate
	}
	if s.MaxEvents < 0 {
		return fmt.Errorf("max_events must be non-negative, got %d", s.MaxEvents)
	}
	s.LogLevel = strings.ToLower(s.LogLevel)
	switch s.LogLevel {
	case "":
		s.LogLevel = DefaultLogLevel
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", s.LogLevel)
	}

	topo := p.Topology()
	for i, item := range s.Schedule {
		if item.Step < 0 {
			return fmt.Errorf("schedule[%d]: negative step", i)
		}
		if !topo.Contains(item.CPU) {
			return fmt.Errorf("schedule[%d]: cpu %s is not populated", i, item.CPU)
		}
		switch item.Op {
		case OpStore, OpLoad:
		case OpPowerDown:
			if item.CPU == p.BootCPU {
				return fmt.Errorf("schedule[%d]: boot cpu cannot power itself down", i)
			}
		case OpPowerUp:
			if !topo.Contains(item.Target) {
				return fmt.Errorf("schedule[%d]: target %s is not populated", i, item.Target)
			}
		default:
			return fmt.Errorf("schedule[%d]: unknown op %q", i, item.Op)
		}
	}
	return nil
}

// Bool returns a pointer to v, for optional platform fields.
func Bool(v bool) *bool {
	return &v
}
