package loadbalancer

import (
	"errors"
	"math/rand"
	"sync/atomic"

	"github.com/couchbaselabs/gomsgbus/cluster"
)

// RoundRobinFactory builds balancers that cycle through the capable nodes
// of a snapshot in a fixed order.  Each balancer starts from a randomized
// offset so that freshly started clients do not all converge on the same
// node.
type RoundRobinFactory struct {
}

var _ Factory = (*RoundRobinFactory)(nil)

func NewRoundRobinFactory() *RoundRobinFactory {
	return &RoundRobinFactory{}
}

func (f *RoundRobinFactory) New(nodes *cluster.NodeSet) (LoadBalancer, error) {
	if nodes == nil {
		return nil, errors.New("a node set must be specified")
	}

	lb := &roundRobinBalancer{
		nodes: nodes.CapableNodes(),
	}
	if len(lb.nodes) > 0 {
		lb.counter.Store(uint64(rand.Intn(len(lb.nodes))))
	}

	return lb, nil
}

type roundRobinBalancer struct {
	nodes   []*cluster.Node
	counter atomic.Uint64
}

func (lb *roundRobinBalancer) NextNode() *cluster.Node {
	if len(lb.nodes) == 0 {
		return nil
	}

	idx := lb.counter.Add(1) - 1
	return lb.nodes[idx%uint64(len(lb.nodes))]
}
