package client

import (
	"sync/atomic"

	"github.com/couchbaselabs/gomsgbus/cluster"
	"github.com/couchbaselabs/gomsgbus/loadbalancer"
)

// balancerState is the immutable routing state that sends read without
// locks.  Balancer is nil when the last rebuild failed, BuildErr then
// carries the failure for sends to surface.
type balancerState struct {
	Balancer loadbalancer.LoadBalancer
	Nodes    *cluster.NodeSet
	BuildErr error
}

type atomicBalancerState struct {
	Value atomic.Value
}

func (s *atomicBalancerState) Load() *balancerState {
	return s.Value.Load().(*balancerState)
}

func (s *atomicBalancerState) Store(new *balancerState) {
	s.Value.Store(new)
}
