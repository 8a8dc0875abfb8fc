package client

import (
	"context"
	"time"

	"github.com/couchbaselabs/gomsgbus/cluster"
	"github.com/couchbaselabs/gomsgbus/pkg/metrics"
	"github.com/couchbaselabs/gomsgbus/transport"
)

// Client sends messages to the nodes of the cluster its factory is
// attached to.  Clients are cheap stateless handles, all of them share
// the factory's routing state.
type Client struct {
	f *Factory
}

func (c *Client) checkSendPreconditions() error {
	switch factoryLifecycle(c.f.lifecycle.Load()) {
	case factoryShutDown:
		return ErrClusterShutdown
	case factoryNotStarted:
		// clients are only issued after a start, but guard anyway
		return ErrNetworkNotStarted
	}

	if !c.f.view.IsConnected() {
		return ErrClusterDisconnected
	}

	return nil
}

func (c *Client) routingState() (*balancerState, error) {
	if err := c.checkSendPreconditions(); err != nil {
		return nil, err
	}

	state := c.f.state.Load()
	if state.BuildErr != nil {
		return nil, &InvalidClusterError{Reason: state.BuildErr}
	}

	return state, nil
}

func (c *Client) send(ctx context.Context, node *cluster.Node, msg *transport.Message) *transport.Completion {
	m := metrics.GetBusMetrics()
	m.Sends.Add(ctx, 1)

	start := time.Now()
	completion := c.f.transport.Send(ctx, node, msg)

	go func() {
		<-completion.Done()

		m.SendDuration.Record(ctx, float64(time.Since(start))/float64(time.Millisecond))
		if completion.Err() != nil {
			m.SendFailures.Add(ctx, 1)
		}
	}()

	return completion
}

// Broadcast sends the message to every node currently in the cluster.
// Broadcasting to an empty cluster succeeds vacuously with an empty
// group.
func (c *Client) Broadcast(ctx context.Context, msg *transport.Message) (*transport.Group, error) {
	state, err := c.routingState()
	if err != nil {
		return nil, err
	}

	var completions []*transport.Completion
	if state.Nodes != nil {
		for _, node := range state.Nodes.Nodes {
			completions = append(completions, c.send(ctx, node, msg))
		}
	}

	return transport.NewGroup(completions), nil
}

// SendToNode sends the message to one specific node.  The node must be a
// member of the current cluster snapshot, membership is checked by id.
func (c *Client) SendToNode(ctx context.Context, node *cluster.Node, msg *transport.Message) (*transport.Completion, error) {
	state, err := c.routingState()
	if err != nil {
		return nil, err
	}

	if node == nil || !state.Nodes.Contains(node.ID) {
		return nil, ErrInvalidNode
	}

	// dispatch to the current member entry so that metadata updates since
	// the caller obtained its node reference are honoured
	return c.send(ctx, state.Nodes.Get(node.ID), msg), nil
}

// Send sends the message to a node picked by the load balancer.
func (c *Client) Send(ctx context.Context, msg *transport.Message) (*transport.Completion, error) {
	state, err := c.routingState()
	if err != nil {
		return nil, err
	}

	if state.Balancer == nil {
		return nil, ErrNoNodesAvailable
	}

	node := state.Balancer.NextNode()
	if node == nil {
		return nil, ErrNoNodesAvailable
	}

	return c.send(ctx, node, msg), nil
}
