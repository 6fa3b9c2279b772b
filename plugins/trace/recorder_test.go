package trace

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Readm/cluster_pm/core"
	"github.com/Readm/cluster_pm/hooks"
)

func loadRecorder(t *testing.T, cfg HistoryConfig) (*Recorder, *hooks.PluginBroker) {
	t.Helper()
	broker := hooks.NewPluginBroker()
	reg := hooks.NewRegistry(broker)
	rec := NewRecorder(cfg)
	require.NoError(t, Register(reg, rec))
	require.NoError(t, reg.Load([]string{PluginName}))
	return rec, broker
}

func TestRecorderGroupsByRequest(t *testing.T) {
	rec, broker := loadRecorder(t, HistoryConfig{})
	a := core.CoreID{Core: 1, Cluster: 0}
	b := core.CoreID{Core: 2, Cluster: 1}

	require.NoError(t, broker.Emit(&hooks.StageContext{RequestID: "r1", Core: a, Stage: core.PowerDownStarted}))
	require.NoError(t, broker.Emit(&hooks.StageContext{RequestID: "r2", Core: b, Stage: core.PowerUpApplied, UseCount: 1}))
	require.NoError(t, broker.Emit(&hooks.StageContext{
		RequestID: "r1", Core: a, Stage: core.PowerDownDecided,
		UseCount: 0, ClusterActive: 0, LastMan: true,
	}))
	require.NoError(t, broker.Emit(&hooks.StageContext{RequestID: "r1", Core: a, Stage: core.TeardownComplete, Scope: core.TeardownCluster}))

	tl := rec.Timeline("r1")
	require.NotNil(t, tl)
	assert.Equal(t, a, tl.Core)
	require.Len(t, tl.Events, 3)
	assert.Equal(t, "true", tl.Events[1].Metadata["last_man"])
	assert.Equal(t, "cluster", tl.Events[2].Metadata["scope"])
	assert.Less(t, tl.Events[0].Sequence, tl.Events[1].Sequence)
	assert.False(t, tl.Events[0].Time.IsZero())

	all := rec.Timelines()
	require.Len(t, all, 2)
	assert.Equal(t, "r1", all[0].RequestID)
	assert.Equal(t, "r2", all[1].RequestID)
	assert.Equal(t, "1", all[1].Events[0].Metadata["use_count"])
	assert.Nil(t, rec.Timeline("missing"))
	assert.Len(t, broker.ListPlugins(hooks.PluginCategoryTracing), 1)
}

func TestRecorderKeepsNewestEvents(t *testing.T) {
	rec, broker := loadRecorder(t, HistoryConfig{MaxEvents: 2})
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, broker.Emit(&hooks.StageContext{RequestID: id, Stage: core.PowerUpRequested}))
	}

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].RequestID)
	assert.Nil(t, rec.Timeline("a"))
	assert.Equal(t, 2, rec.Count(core.PowerUpRequested))
	assert.Zero(t, rec.Count(core.CoreDown))
}

func TestRecorderCapturesFatalErrors(t *testing.T) {
	rec, broker := loadRecorder(t, HistoryConfig{})
	require.NoError(t, broker.Emit(&hooks.StageContext{Stage: core.FatalViolation, Err: errors.New("use count -1")}))

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "use count -1", events[0].Metadata["error"])
	assert.Empty(t, rec.Timelines(), "events without a request id have no timeline")

	rec.Reset()
	assert.Empty(t, rec.Events())
}

func TestRegisterRejectsNil(t *testing.T) {
	assert.Error(t, Register(nil, NewRecorder(HistoryConfig{})))
	assert.Error(t, Register(hooks.NewRegistry(nil), nil))
}
