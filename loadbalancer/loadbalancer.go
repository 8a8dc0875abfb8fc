package loadbalancer

import (
	"github.com/couchbaselabs/gomsgbus/cluster"
)

// LoadBalancer selects which node the next balanced operation should be
// dispatched to.  Implementations must be safe for concurrent use.
type LoadBalancer interface {
	// NextNode returns the node to use for the next operation, or nil
	// when the balancer has no usable node to offer.
	NextNode() *cluster.Node
}

// Factory builds a LoadBalancer for a particular membership snapshot.  A
// new balancer is built every time the membership changes, the balancers
// themselves never observe updates.
type Factory interface {
	New(nodes *cluster.NodeSet) (LoadBalancer, error)
}
