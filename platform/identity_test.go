package platform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Readm/cluster_pm/core"
)

func TestSelf(t *testing.T) {
	_, ok := Self(context.Background())
	assert.False(t, ok)

	ctx := OnCore(context.Background(), core.CoreID{Core: 1, Cluster: 1})
	id, ok := Self(ctx)
	assert.True(t, ok)
	assert.Equal(t, core.CoreID{Core: 1, Cluster: 1}, id)

	m, ok := CPUFromContext(WithCPU(context.Background(), 0x103))
	assert.True(t, ok)
	assert.Equal(t, core.MPIDR(0x103), m)
}

func TestPrimitivesMissing(t *testing.T) {
	assert.Len(t, Primitives{}.Missing(), 7)
}
