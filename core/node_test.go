package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoreIDFromMPIDR(t *testing.T) {
	id := CoreIDFromMPIDR(MPIDR(0x80000102))
	assert.Equal(t, CoreID{Core: 2, Cluster: 1}, id)
	assert.Equal(t, "cpu2/cluster1", id.String())

	back := CoreIDFromMPIDR(MPIDRFor(CoreID{Core: 3, Cluster: 0}))
	assert.Equal(t, CoreID{Core: 3, Cluster: 0}, back)
}

func TestCoreIDInRange(t *testing.T) {
	assert.True(t, CoreID{Core: 3, Cluster: 1}.InRange())
	assert.False(t, CoreID{Core: 4, Cluster: 0}.InRange())
	assert.False(t, CoreID{Core: 0, Cluster: 2}.InRange())
}

func TestTopologyContains(t *testing.T) {
	topo := Topology{Cores: []uint{2, 3}}
	require.NoError(t, topo.Validate())

	assert.True(t, topo.Contains(CoreID{Core: 1, Cluster: 0}))
	assert.False(t, topo.Contains(CoreID{Core: 2, Cluster: 0}))
	assert.True(t, topo.Contains(CoreID{Core: 2, Cluster: 1}))
	assert.False(t, topo.Contains(CoreID{Core: 0, Cluster: 2}))
	assert.Len(t, topo.All(), 5)
	assert.Equal(t, []CoreID{{Core: 0, Cluster: 1}, {Core: 1, Cluster: 1}, {Core: 2, Cluster: 1}}, topo.InCluster(1))
	assert.Nil(t, topo.InCluster(5))
}

func TestTopologyValidate(t *testing.T) {
	assert.Error(t, Topology{}.Validate())
	assert.Error(t, Topology{Cores: []uint{1, 1, 1}}.Validate())
	assert.Error(t, Topology{Cores: []uint{5}}.Validate())
	assert.Error(t, Topology{Cores: []uint{2, 0}}.Validate())
	assert.NoError(t, Topology{Cores: []uint{4, 4}}.Validate())
}
