package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/couchbaselabs/gomsgbus/cluster"
	"github.com/couchbaselabs/gomsgbus/loadbalancer"
	"github.com/couchbaselabs/gomsgbus/pkg/metrics"
	"github.com/couchbaselabs/gomsgbus/transport"
	"github.com/couchbaselabs/gomsgbus/utils/revisionarr"
	"go.uber.org/zap"
)

type factoryLifecycle int32

const (
	factoryNotStarted factoryLifecycle = iota
	factoryStarted
	factoryShutDown
)

type FactoryOptions struct {
	ClusterView         cluster.View
	LoadBalancerFactory loadbalancer.Factory
	Transport           transport.Client
	Logger              *zap.Logger
}

// Factory owns the messaging layer for one cluster.  It watches the
// membership view, keeps the routing state current as nodes come and go,
// and issues the Clients that share that state.
type Factory struct {
	view      cluster.View
	lbFactory loadbalancer.Factory
	transport transport.Client
	logger    *zap.Logger

	lock        sync.Mutex
	lifecycle   atomic.Int32
	hasListener bool
	listenerID  cluster.ListenerID
	state       atomicBalancerState
}

func NewFactory(opts *FactoryOptions) (*Factory, error) {
	if opts.ClusterView == nil {
		return nil, errors.New("a cluster view must be specified")
	}
	if opts.LoadBalancerFactory == nil {
		return nil, errors.New("a load balancer factory must be specified")
	}
	if opts.Transport == nil {
		return nil, errors.New("a transport must be specified")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &Factory{
		view:      opts.ClusterView,
		lbFactory: opts.LoadBalancerFactory,
		transport: opts.Transport,
		logger:    logger,
	}
	f.state.Store(&balancerState{})

	return f, nil
}

// Start brings the messaging layer up.  Starting an already started
// factory is a no-op, starting one that has been shut down fails.
func (f *Factory) Start(ctx context.Context) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	switch factoryLifecycle(f.lifecycle.Load()) {
	case factoryStarted:
		return nil
	case factoryShutDown:
		return ErrClusterShutdown
	}

	err := f.view.Start(ctx)
	if err != nil {
		return err
	}

	// the listener is registered before the initial build so that no
	// membership update can slip between the two, the revision guard in
	// rebuildLocked resolves any overlap.
	if !f.hasListener {
		f.listenerID = f.view.AddListener(f.handleClusterEvent)
		f.hasListener = true
	}

	f.rebuildLocked(f.view.Nodes())

	f.lifecycle.Store(int32(factoryStarted))

	return nil
}

// handleClusterEvent rebuilds the routing state on membership updates.
// Disconnects are not handled here, they surface at send time through the
// view's connectivity state.
func (f *Factory) handleClusterEvent(evt cluster.Event) {
	switch evt := evt.(type) {
	case *cluster.ConnectedEvent:
		f.handleNodesUpdate(evt.Nodes)
	case *cluster.NodesChangedEvent:
		f.handleNodesUpdate(evt.Nodes)
	}
}

func (f *Factory) handleNodesUpdate(nodes *cluster.NodeSet) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if factoryLifecycle(f.lifecycle.Load()) == factoryShutDown {
		return
	}

	f.rebuildLocked(nodes)
}

// rebuildLocked swaps in a new routing state built from the given
// membership.  A failed build is recorded rather than keeping the old
// state so that sends report the broken membership instead of silently
// using a stale one.
func (f *Factory) rebuildLocked(nodes *cluster.NodeSet) {
	cur := f.state.Load()
	if cur.Nodes != nil && nodes != nil &&
		revisionarr.Compare(nodes.Revision, cur.Nodes.Revision) < 0 {
		f.logger.Debug("skipping a stale routing rebuild",
			zap.Uint64s("revision", nodes.Revision))
		return
	}

	balancer, err := f.lbFactory.New(nodes)
	if err != nil {
		f.logger.Warn("failed to build a load balancer from the current membership",
			zap.Error(err))

		f.state.Store(&balancerState{
			Nodes:    nodes,
			BuildErr: err,
		})
		return
	}

	f.state.Store(&balancerState{
		Balancer: balancer,
		Nodes:    nodes,
	})

	metrics.GetBusMetrics().BalancerRebuilds.Add(context.Background(), 1)
}

// NewClient issues a messaging client backed by this factory's routing
// state.  Clients can only be issued while the factory is started.
func (f *Factory) NewClient() (*Client, error) {
	switch factoryLifecycle(f.lifecycle.Load()) {
	case factoryNotStarted:
		return nil, ErrNetworkNotStarted
	case factoryShutDown:
		return nil, ErrClusterShutdown
	}

	return &Client{f: f}, nil
}

// Shutdown tears the messaging layer down, taking the membership view and
// the transport with it.  Shutting down twice is a no-op.
func (f *Factory) Shutdown() error {
	f.lock.Lock()

	if factoryLifecycle(f.lifecycle.Load()) == factoryShutDown {
		f.lock.Unlock()
		return nil
	}
	f.lifecycle.Store(int32(factoryShutDown))

	if f.hasListener {
		f.view.RemoveListener(f.listenerID)
		f.hasListener = false
	}

	f.lock.Unlock()

	// both halves are always attempted, the first failure wins
	var firstErr error
	if err := f.view.Shutdown(); err != nil {
		f.logger.Error("failed to shut down the cluster view", zap.Error(err))
		firstErr = err
	}
	if err := f.transport.Shutdown(); err != nil {
		f.logger.Error("failed to shut down the transport", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
