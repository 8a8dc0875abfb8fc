package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeSetAccessors(t *testing.T) {
	set := &NodeSet{
		Revision: []uint64{4},
		Nodes: []*Node{
			{ID: 1, Address: "10.0.0.1:18100", Capable: true},
			{ID: 2, Address: "10.0.0.2:18100"},
			{ID: 3, Address: "10.0.0.3:18100", Capable: true},
		},
	}

	assert.Equal(t, 3, set.Len())

	assert.True(t, set.Contains(2))
	assert.False(t, set.Contains(9))

	node := set.Get(2)
	assert.NotNil(t, node)
	assert.Equal(t, "10.0.0.2:18100", node.Address)
	assert.Nil(t, set.Get(9))

	capable := set.CapableNodes()
	assert.Len(t, capable, 2)
	for _, node := range capable {
		assert.True(t, node.Capable)
	}
}

func TestNodeSetNilSafety(t *testing.T) {
	var set *NodeSet

	assert.Equal(t, 0, set.Len())
	assert.False(t, set.Contains(1))
	assert.Nil(t, set.Get(1))
	assert.Empty(t, set.CapableNodes())
}
