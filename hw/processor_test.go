package hw

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Readm/cluster_pm/core"
	"github.com/Readm/cluster_pm/platform"
)

func TestDisableIRQRestores(t *testing.T) {
	p := NewProcessors(NewPowerController())
	ctx := platform.OnCore(context.Background(), core.CoreID{Core: 1})

	assert.False(t, p.IRQsDisabled(ctx))
	outer := p.DisableIRQ(ctx)
	inner := p.DisableIRQ(ctx)
	inner()
	assert.True(t, p.IRQsDisabled(ctx), "nested restore keeps outer state")
	outer()
	assert.False(t, p.IRQsDisabled(ctx))
	assert.False(t, p.IRQsDisabled(context.Background()))
}

func TestWaitForInterruptReturnsWhilePowered(t *testing.T) {
	id := core.CoreID{Core: 0, Cluster: 1}
	p := NewProcessors(NewPowerController(id))
	p.WaitForInterrupt(platform.OnCore(context.Background(), id))
	assert.Equal(t, 1, p.WFICount(id))
}

func TestWaitForInterruptParksUntilPowerOn(t *testing.T) {
	id := core.CoreID{Core: 1, Cluster: 1}
	power := NewPowerController()
	p := NewProcessors(power)

	done := make(chan struct{})
	go func() {
		p.WaitForInterrupt(platform.OnCore(context.Background(), id))
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("unpowered core must stay parked")
	case <-time.After(20 * time.Millisecond):
	}
	power.SetPower(id, true)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("power-on edge did not wake the core")
	}
}

func TestWaitForInterruptHonoursContext(t *testing.T) {
	p := NewProcessors(NewPowerController())
	ctx, cancel := context.WithCancel(platform.OnCore(context.Background(), core.CoreID{Core: 2}))
	cancel()
	p.WaitForInterrupt(ctx)
}

func TestResetUnwinds(t *testing.T) {
	p := NewProcessors(NewPowerController())
	id := core.CoreID{Core: 3, Cluster: 0}
	sig := CatchReset(func() {
		p.Reset(platform.OnCore(context.Background(), id))
		t.Fatal("reset returned")
	})
	require.NotNil(t, sig)
	assert.Equal(t, id, sig.Core)

	assert.Nil(t, CatchReset(func() {}))
	assert.Panics(t, func() { CatchReset(func() { panic("other") }) })
}
