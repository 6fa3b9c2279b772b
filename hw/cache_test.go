package hw

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Readm/cluster_pm/core"
	"github.com/Readm/cluster_pm/platform"
)

var (
	c0 = core.CoreID{Core: 0, Cluster: 0}
	c1 = core.CoreID{Core: 1, Cluster: 0}
	d0 = core.CoreID{Core: 0, Cluster: 1}
)

func newTestCaches(l1 int) *Caches {
	return NewCaches(core.Topology{Cores: []uint{2, 2}}, l1, c0, c1, d0)
}

func TestStoreInvalidatesOtherCopies(t *testing.T) {
	c := newTestCaches(0)
	require.NoError(t, c.Store(c0, 0x40, 1))
	v, err := c.Load(c1, 0x40)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
	assert.Equal(t, uint64(1), c.Memory(0x40), "snoop cleans the dirty copy")

	require.NoError(t, c.Store(d0, 0x40, 2))
	assert.Equal(t, 0, c.L1Lines(c0))
	assert.Equal(t, 0, c.L1Lines(c1))
	v, err = c.Load(c0, 0x40)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
}

func TestEvictionWritesBackToL2(t *testing.T) {
	c := newTestCaches(1)
	require.NoError(t, c.Store(c0, 0x40, 7))
	require.NoError(t, c.Store(c0, 0x80, 8))
	assert.Equal(t, 1, c.L1Lines(c0))
	assert.Equal(t, 1, c.L2Lines(0))
	v, err := c.Load(c1, 0x40)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v)
}

func TestLocalTeardownKeepsClusterCache(t *testing.T) {
	c := newTestCaches(0)
	require.NoError(t, c.Store(c1, 0x40, 5))

	c.Teardown(platform.OnCore(context.Background(), c1), core.TeardownLocal)
	assert.False(t, c.Coherent(c1))
	assert.Equal(t, 0, c.L1Lines(c1))
	assert.Equal(t, 1, c.L2Lines(0), "dirty line cleaned to the cluster level")
	assert.Equal(t, uint64(0), c.Memory(0x40))

	_, err := c.Load(c1, 0x40)
	assert.ErrorIs(t, err, ErrCoherencyOff)
	assert.ErrorIs(t, c.Store(c1, 0x40, 6), ErrCoherencyOff)

	v, err := c.Load(c0, 0x40)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)
	assert.Equal(t, 1, c.Teardowns(core.TeardownLocal))
}

func TestClusterTeardownWritesBackToMemory(t *testing.T) {
	c := newTestCaches(0)
	require.NoError(t, c.Store(c0, 0x40, 9))
	require.NoError(t, c.Store(c1, 0x80, 10))

	c.Teardown(platform.OnCore(context.Background(), c1), core.TeardownLocal)
	c.Teardown(platform.OnCore(context.Background(), c0), core.TeardownCluster)

	assert.Equal(t, uint64(9), c.Memory(0x40))
	assert.Equal(t, uint64(10), c.Memory(0x80))
	assert.Equal(t, 0, c.L2Lines(0))
	assert.Empty(t, c.Violations())

	c.EnableCoherency(c0)
	v, err := c.Load(c0, 0x80)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), v)
}

func TestClusterTeardownFlagsRunningSibling(t *testing.T) {
	c := newTestCaches(0)
	require.NoError(t, c.Store(c1, 0x80, 1))
	c.Teardown(platform.OnCore(context.Background(), c0), core.TeardownCluster)
	assert.Len(t, c.Violations(), 1)
}

func TestTeardownWithoutIdentityIsIgnored(t *testing.T) {
	c := newTestCaches(0)
	c.Teardown(context.Background(), core.TeardownCluster)
	assert.Zero(t, c.Teardowns(core.TeardownCluster))
	assert.True(t, c.Coherent(c0))
}
