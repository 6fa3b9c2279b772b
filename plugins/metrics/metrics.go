// Package metrics exports power sequencing activity as Prometheus metrics.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Readm/cluster_pm/core"
	"github.com/Readm/cluster_pm/hooks"
)

// PluginName is the registry name of the metrics plugin.
const PluginName = "metrics/prometheus"

const (
	metricsNamespace = "cluster_pm"
	powerSubsystem   = "power"
)

// PowerMetrics holds every collector the plugin updates.
type PowerMetrics struct {
	// StagesTotal counts lifecycle stages.
	// Labels: stage, cluster
	StagesTotal *prometheus.CounterVec

	// LastManTotal counts cluster teardowns by the elected agent.
	// Labels: cluster
	LastManTotal *prometheus.CounterVec

	// SkipSuspendTotal counts power-downs overtaken by a power-up.
	// Labels: cluster
	SkipSuspendTotal *prometheus.CounterVec

	// FatalTotal counts fatal errors raised by the sequencer.
	FatalTotal prometheus.Counter

	// ActiveCores is the last observed active count per cluster.
	// Labels: cluster
	ActiveCores *prometheus.GaugeVec
}

// NewPowerMetrics creates the collectors on reg. A nil reg uses the default
// registerer.
func NewPowerMetrics(reg prometheus.Registerer) *PowerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PowerMetrics{
		StagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: powerSubsystem,
			Name:      "stages_total",
			Help:      "Power request lifecycle stages by stage and cluster",
		}, []string{"stage", "cluster"}),
		LastManTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: powerSubsystem,
			Name:      "last_man_total",
			Help:      "Whole-cluster teardowns performed by the elected last core",
		}, []string{"cluster"}),
		SkipSuspendTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: powerSubsystem,
			Name:      "skip_suspend_total",
			Help:      "Power-downs that skipped the suspend because a power-up overtook them",
		}, []string{"cluster"}),
		FatalTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: powerSubsystem,
			Name:      "fatal_total",
			Help:      "Fatal errors raised by the power sequencer",
		}),
		ActiveCores: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: powerSubsystem,
			Name:      "cluster_active_cores",
			Help:      "Active cores per cluster as of the last decision",
		}, []string{"cluster"}),
	}
}

// Observe updates the collectors for one stage.
func (m *PowerMetrics) Observe(ctx *hooks.StageContext) {
	if m == nil || ctx == nil {
		return
	}
	cluster := fmt.Sprintf("%d", ctx.Core.Cluster)
	m.StagesTotal.WithLabelValues(string(ctx.Stage), cluster).Inc()
	switch ctx.Stage {
	case core.PowerUpApplied, core.PowerDownDecided:
		m.ActiveCores.WithLabelValues(cluster).Set(float64(ctx.ClusterActive))
	case core.TeardownComplete:
		if ctx.Scope == core.TeardownCluster {
			m.LastManTotal.WithLabelValues(cluster).Inc()
		}
	case core.SuspendSkipped:
		m.SkipSuspendTotal.WithLabelValues(cluster).Inc()
	case core.FatalViolation:
		m.FatalTotal.Inc()
	}
}

// Register makes the plugin loadable from reg. Collectors are created on
// promReg when the plugin is loaded; the created set is handed to onLoad.
func Register(reg *hooks.Registry, promReg prometheus.Registerer, onLoad func(*PowerMetrics)) error {
	if reg == nil {
		return fmt.Errorf("registry is nil")
	}
	desc := hooks.PluginDescriptor{
		Name:        PluginName,
		Category:    hooks.PluginCategoryInstrumentation,
		Description: "prometheus counters for power requests",
	}
	return reg.Register(PluginName, desc, func(b *hooks.PluginBroker) error {
		if b == nil {
			return fmt.Errorf("plugin broker is nil")
		}
		m := NewPowerMetrics(promReg)
		b.RegisterBundle(desc, hooks.HookBundle{
			Any: []hooks.StageHook{func(ctx *hooks.StageContext) error {
				m.Observe(ctx)
				return nil
			}},
		})
		if onLoad != nil {
			onLoad(m)
		}
		return nil
	})
}
