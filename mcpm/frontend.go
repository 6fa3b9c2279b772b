package mcpm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Readm/cluster_pm/core"
	"github.com/Readm/cluster_pm/platform"
)

const tracerName = "github.com/Readm/cluster_pm/mcpm"

var (
	// ErrBusy is returned when a platform backend is already registered.
	ErrBusy = errors.New("mcpm: platform ops already registered")
	// ErrNoPlatform is returned when no backend has been registered.
	ErrNoPlatform = errors.New("mcpm: no platform ops registered")
	// ErrIRQsEnabled is returned when a power-down is issued with local interrupts on.
	ErrIRQsEnabled = errors.New("mcpm: power down requires local interrupts disabled")
)

// Affinity levels passed to a PowerUpSetup.
const (
	AffinityCPU     = 0
	AffinityCluster = 1
)

// PowerUpSetup runs on the reset path before caches are enabled. It is
// called at AffinityCluster by the inbound leader only, then at AffinityCPU
// by every core.
type PowerUpSetup func(ctx context.Context, level int) error

// EntryFunc is where a core continues after its reset path.
type EntryFunc func(ctx context.Context)

// FrontendConfig configures a Frontend.
type FrontendConfig struct {
	Coordinator    *Coordinator
	CPU            platform.Processor
	TracerProvider trace.TracerProvider
	Logger         *slog.Logger
}

// Frontend dispatches power requests to the registered backend and runs
// the shared reset path.
type Frontend struct {
	coord  *Coordinator
	cpu    platform.Processor
	tracer trace.Tracer
	log    *slog.Logger

	mu      sync.RWMutex
	ops     platform.PowerOps
	setup   PowerUpSetup
	vectors [core.ClusterCount][core.CoresPerCluster]EntryFunc
}

// NewFrontend builds a frontend with no backend registered.
func NewFrontend(cfg FrontendConfig) *Frontend {
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Frontend{
		coord:  cfg.Coordinator,
		cpu:    cfg.CPU,
		tracer: tp.Tracer(tracerName),
		log:    logger.With("component", "mcpm-frontend"),
	}
}

// Register installs the backend. Only one backend may ever be registered.
func (f *Frontend) Register(ops platform.PowerOps) error {
	if ops == nil {
		return fmt.Errorf("mcpm: nil platform ops")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ops != nil {
		return ErrBusy
	}
	f.ops = ops
	return nil
}

// Registered reports whether a backend is installed.
func (f *Frontend) Registered() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ops != nil
}

// SetPowerUpSetup installs the reset-path setup hook.
func (f *Frontend) SetPowerUpSetup(fn PowerUpSetup) {
	f.mu.Lock()
	f.setup = fn
	f.mu.Unlock()
}

// SetEntryVector sets where id continues after its next reset.
func (f *Frontend) SetEntryVector(id core.CoreID, fn EntryFunc) {
	f.mu.Lock()
	f.vectors[id.Cluster][id.Core] = fn
	f.mu.Unlock()
}

func (f *Frontend) backend() platform.PowerOps {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ops
}

// CPUPowerUp asks the backend to bring (cpu, cluster) up.
func (f *Frontend) CPUPowerUp(ctx context.Context, cpu, cluster uint) error {
	ops := f.backend()
	if ops == nil {
		return ErrNoPlatform
	}
	ctx, span := f.tracer.Start(ctx, "mcpm.CPUPowerUp", trace.WithAttributes(
		attribute.Int("pm.target.cpu", int(cpu)),
		attribute.Int("pm.target.cluster", int(cluster)),
	))
	defer span.End()

	if err := ops.PowerUp(ctx, cpu, cluster); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// CPUPowerDown powers the executing core down. It only returns when a
// racing power-up made the suspend unnecessary, or on error.
func (f *Frontend) CPUPowerDown(ctx context.Context) (core.Outcome, error) {
	ops := f.backend()
	if ops == nil {
		return core.Outcome{}, ErrNoPlatform
	}
	if f.cpu != nil && !f.cpu.IRQsDisabled(ctx) {
		return core.Outcome{}, ErrIRQsEnabled
	}
	attrs := []attribute.KeyValue{}
	if id, ok := platform.Self(ctx); ok {
		attrs = append(attrs,
			attribute.Int("pm.cpu", int(id.Core)),
			attribute.Int("pm.cluster", int(id.Cluster)),
		)
	}
	ctx, span := f.tracer.Start(ctx, "mcpm.CPUPowerDown", trace.WithAttributes(attrs...))
	// Reset unwinds through here, so the span still ends.
	defer span.End()

	out, err := ops.PowerDown(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	span.SetAttributes(attribute.Bool("pm.skip_suspend", out.SkipSuspend))
	return out, nil
}

// Enter runs the reset path for the executing core: inbound cluster
// bring-up when this core leads it, cpu setup, then the entry vector.
func (f *Frontend) Enter(ctx context.Context) error {
	id, ok := platform.Self(ctx)
	if !ok {
		return fmt.Errorf("mcpm: reset path without cpu identity")
	}
	if f.coord == nil {
		return fmt.Errorf("mcpm: no coordinator")
	}
	f.mu.RLock()
	setup := f.setup
	entry := f.vectors[id.Cluster][id.Core]
	f.mu.RUnlock()

	if f.coord.CPUComingUp(id) {
		f.log.Debug("inbound leader", "cpu", id.String())
		if setup != nil {
			if err := setup(ctx, AffinityCluster); err != nil {
				return fmt.Errorf("cluster %d setup: %w", id.Cluster, err)
			}
		}
		if err := f.coord.ClusterUp(id.Cluster); err != nil {
			return err
		}
	}
	if setup != nil {
		if err := setup(ctx, AffinityCPU); err != nil {
			return fmt.Errorf("%s setup: %w", id, err)
		}
	}
	f.coord.CPUUp(id)
	if entry != nil {
		entry(ctx)
	}
	return nil
}
