package loadbalancer

import (
	"errors"
	"math/rand"

	"github.com/couchbaselabs/gomsgbus/cluster"
)

// RandomFactory builds balancers that pick a capable node uniformly at
// random for every operation.
type RandomFactory struct {
}

var _ Factory = (*RandomFactory)(nil)

func NewRandomFactory() *RandomFactory {
	return &RandomFactory{}
}

func (f *RandomFactory) New(nodes *cluster.NodeSet) (LoadBalancer, error) {
	if nodes == nil {
		return nil, errors.New("a node set must be specified")
	}

	return &randomBalancer{
		nodes: nodes.CapableNodes(),
	}, nil
}

type randomBalancer struct {
	nodes []*cluster.Node
}

func (lb *randomBalancer) NextNode() *cluster.Node {
	if len(lb.nodes) == 0 {
		return nil
	}

	return lb.nodes[rand.Intn(len(lb.nodes))]
}
