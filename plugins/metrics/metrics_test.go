package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Readm/cluster_pm/core"
	"github.com/Readm/cluster_pm/hooks"
)

func loadMetrics(t *testing.T) (*PowerMetrics, *hooks.PluginBroker, *prometheus.Registry) {
	t.Helper()
	promReg := prometheus.NewRegistry()
	broker := hooks.NewPluginBroker()
	reg := hooks.NewRegistry(broker)
	var m *PowerMetrics
	require.NoError(t, Register(reg, promReg, func(pm *PowerMetrics) { m = pm }))
	require.NoError(t, reg.Load([]string{PluginName}))
	require.NotNil(t, m)
	return m, broker, promReg
}

func TestStagesAreCounted(t *testing.T) {
	m, broker, _ := loadMetrics(t)
	c1 := core.CoreID{Core: 1, Cluster: 1}

	emit := func(sc *hooks.StageContext) { require.NoError(t, broker.Emit(sc)) }
	emit(&hooks.StageContext{Core: c1, Stage: core.PowerUpApplied, ClusterActive: 1})
	emit(&hooks.StageContext{Core: c1, Stage: core.PowerDownDecided, ClusterActive: 0, LastMan: true})
	emit(&hooks.StageContext{Core: c1, Stage: core.TeardownComplete, Scope: core.TeardownCluster})
	emit(&hooks.StageContext{Core: c1, Stage: core.TeardownComplete, Scope: core.TeardownLocal})
	emit(&hooks.StageContext{Core: c1, Stage: core.SuspendSkipped})
	emit(&hooks.StageContext{Stage: core.FatalViolation, Err: errors.New("boom")})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StagesTotal.WithLabelValues(string(core.TeardownComplete), "1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LastManTotal.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SkipSuspendTotal.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FatalTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveCores.WithLabelValues("1")))
}

func TestCollectorsLiveOnGivenRegistry(t *testing.T) {
	m, _, promReg := loadMetrics(t)
	m.FatalTotal.Inc()

	n, err := testutil.GatherAndCount(promReg, "cluster_pm_power_fatal_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Panics(t, func() { NewPowerMetrics(promReg) }, "duplicate registration")
}

func TestObserveNilSafe(t *testing.T) {
	var m *PowerMetrics
	assert.NotPanics(t, func() { m.Observe(&hooks.StageContext{Stage: core.CoreDown}) })
	assert.Error(t, Register(nil, nil, nil))
}
