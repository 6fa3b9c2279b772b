package mcpm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Readm/cluster_pm/core"
	"github.com/Readm/cluster_pm/platform"
)

type stubCPU struct{ irqOff bool }

func (s *stubCPU) DisableIRQ(context.Context) func() {
	prev := s.irqOff
	s.irqOff = true
	return func() { s.irqOff = prev }
}
func (s *stubCPU) IRQsDisabled(context.Context) bool { return s.irqOff }
func (s *stubCPU) WaitForInterrupt(context.Context)  {}
func (s *stubCPU) Reset(context.Context)             {}

type stubOps struct {
	ups   []core.CoreID
	downs int
	out   core.Outcome
	upErr error
}

func (s *stubOps) PowerUp(_ context.Context, c, cl uint) error {
	s.ups = append(s.ups, core.CoreID{Core: c, Cluster: cl})
	return s.upErr
}

func (s *stubOps) PowerDown(context.Context) (core.Outcome, error) {
	s.downs++
	return s.out, nil
}

func newTestFrontend(t *testing.T) (*Frontend, *stubCPU, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	cpuStub := &stubCPU{}
	fe := NewFrontend(FrontendConfig{
		Coordinator:    newTestCoordinator(t),
		CPU:            cpuStub,
		TracerProvider: tp,
	})
	return fe, cpuStub, exp
}

func TestFrontendRequiresBackend(t *testing.T) {
	fe, _, _ := newTestFrontend(t)
	assert.ErrorIs(t, fe.CPUPowerUp(context.Background(), 1, 0), ErrNoPlatform)
	_, err := fe.CPUPowerDown(context.Background())
	assert.ErrorIs(t, err, ErrNoPlatform)
	assert.False(t, fe.Registered())
}

func TestFrontendRegisterOnce(t *testing.T) {
	fe, _, _ := newTestFrontend(t)
	require.NoError(t, fe.Register(&stubOps{}))
	assert.ErrorIs(t, fe.Register(&stubOps{}), ErrBusy)
	assert.Error(t, fe.Register(nil))
	assert.True(t, fe.Registered())
}

func TestFrontendPowerUpSpan(t *testing.T) {
	fe, _, exp := newTestFrontend(t)
	ops := &stubOps{}
	require.NoError(t, fe.Register(ops))

	require.NoError(t, fe.CPUPowerUp(context.Background(), 2, 1))
	assert.Equal(t, []core.CoreID{{Core: 2, Cluster: 1}}, ops.ups)

	ops.upErr = errors.New("bad core")
	assert.Error(t, fe.CPUPowerUp(context.Background(), 9, 1))

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "mcpm.CPUPowerUp", spans[0].Name)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
}

func TestFrontendPowerDownNeedsIRQsOff(t *testing.T) {
	fe, cpuStub, exp := newTestFrontend(t)
	ops := &stubOps{out: core.Outcome{SkipSuspend: true}}
	require.NoError(t, fe.Register(ops))
	ctx := platform.OnCore(context.Background(), cpu(0, 0))

	_, err := fe.CPUPowerDown(ctx)
	assert.ErrorIs(t, err, ErrIRQsEnabled)
	assert.Zero(t, ops.downs)

	restore := cpuStub.DisableIRQ(ctx)
	defer restore()
	out, err := fe.CPUPowerDown(ctx)
	require.NoError(t, err)
	assert.True(t, out.SkipSuspend)
	require.Len(t, exp.GetSpans(), 1)
	assert.Equal(t, "mcpm.CPUPowerDown", exp.GetSpans()[0].Name)
}

func TestFrontendEnterRunsInboundSetup(t *testing.T) {
	fe, _, _ := newTestFrontend(t)
	var levels []int
	fe.SetPowerUpSetup(func(_ context.Context, level int) error {
		levels = append(levels, level)
		return nil
	})
	entered := false
	id := cpu(1, 1)
	fe.SetEntryVector(id, func(ctx context.Context) {
		self, ok := platform.Self(ctx)
		entered = ok && self == id
	})

	require.NoError(t, fe.Enter(platform.OnCore(context.Background(), id)))
	assert.Equal(t, []int{AffinityCluster, AffinityCPU}, levels)
	assert.True(t, entered)
	assert.Equal(t, core.ClusterUp, fe.coord.ClusterState(1))
	assert.Equal(t, core.CPUUp, fe.coord.CPUState(id))

	levels = nil
	require.NoError(t, fe.Enter(platform.OnCore(context.Background(), cpu(2, 1))))
	assert.Equal(t, []int{AffinityCPU}, levels, "cluster already up")

	assert.Error(t, fe.Enter(context.Background()))
}

func TestFrontendEnterSetupFailure(t *testing.T) {
	fe, _, _ := newTestFrontend(t)
	fe.SetPowerUpSetup(func(_ context.Context, level int) error {
		if level == AffinityCluster {
			return errors.New("port stuck")
		}
		return nil
	})
	err := fe.Enter(platform.OnCore(context.Background(), cpu(0, 1)))
	assert.ErrorContains(t, err, "port stuck")
}
