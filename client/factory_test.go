package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/couchbaselabs/gomsgbus/cluster"
	"github.com/couchbaselabs/gomsgbus/loadbalancer"
	"github.com/couchbaselabs/gomsgbus/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeView is a hand-driven cluster view that lets tests emit membership
// events and flip connectivity deterministically.
type fakeView struct {
	lock      sync.Mutex
	started   bool
	shutDown  bool
	connected bool
	nodes     *cluster.NodeSet
	listeners map[cluster.ListenerID]cluster.Listener
	lastID    uint64
	addCalls  int
}

var _ cluster.View = (*fakeView)(nil)

func newFakeView(nodes *cluster.NodeSet) *fakeView {
	return &fakeView{
		nodes:     nodes,
		listeners: make(map[cluster.ListenerID]cluster.Listener),
	}
}

func (v *fakeView) Start(ctx context.Context) error {
	v.lock.Lock()
	defer v.lock.Unlock()

	if v.shutDown {
		return cluster.ErrViewShutDown
	}
	v.started = true
	v.connected = true
	return nil
}

func (v *fakeView) Shutdown() error {
	v.lock.Lock()
	defer v.lock.Unlock()

	v.shutDown = true
	v.connected = false
	return nil
}

func (v *fakeView) Nodes() *cluster.NodeSet {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.nodes
}

func (v *fakeView) IsConnected() bool {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.connected
}

func (v *fakeView) IsShutDown() bool {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.shutDown
}

func (v *fakeView) AddListener(listener cluster.Listener) cluster.ListenerID {
	v.lock.Lock()
	defer v.lock.Unlock()

	v.addCalls++
	v.lastID++
	id := cluster.ListenerID(v.lastID)
	v.listeners[id] = listener
	return id
}

func (v *fakeView) RemoveListener(id cluster.ListenerID) {
	v.lock.Lock()
	defer v.lock.Unlock()
	delete(v.listeners, id)
}

func (v *fakeView) setConnected(connected bool) {
	v.lock.Lock()
	defer v.lock.Unlock()
	v.connected = connected
}

func (v *fakeView) emit(evt cluster.Event) {
	v.lock.Lock()
	listeners := make([]cluster.Listener, 0, len(v.listeners))
	for _, listener := range v.listeners {
		listeners = append(listeners, listener)
	}
	v.lock.Unlock()

	for _, listener := range listeners {
		listener(evt)
	}
}

func (v *fakeView) updateNodes(nodes *cluster.NodeSet) {
	v.lock.Lock()
	v.nodes = nodes
	v.lock.Unlock()

	v.emit(&cluster.NodesChangedEvent{Nodes: nodes})
}

// flakyBalancerFactory wraps a real factory, counting builds and failing
// them on demand.
type flakyBalancerFactory struct {
	lock     sync.Mutex
	inner    loadbalancer.Factory
	newCalls int
	failErr  error
}

func newFlakyBalancerFactory() *flakyBalancerFactory {
	return &flakyBalancerFactory{
		inner: loadbalancer.NewRoundRobinFactory(),
	}
}

func (f *flakyBalancerFactory) setFailErr(err error) {
	f.lock.Lock()
	f.failErr = err
	f.lock.Unlock()
}

func (f *flakyBalancerFactory) calls() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.newCalls
}

func (f *flakyBalancerFactory) New(nodes *cluster.NodeSet) (loadbalancer.LoadBalancer, error) {
	f.lock.Lock()
	f.newCalls++
	failErr := f.failErr
	f.lock.Unlock()

	if failErr != nil {
		return nil, failErr
	}
	return f.inner.New(nodes)
}

func makeNodeSet(rev uint64, ids ...cluster.NodeID) *cluster.NodeSet {
	var nodes []*cluster.Node
	for _, id := range ids {
		nodes = append(nodes, &cluster.Node{
			ID:      id,
			Address: fmt.Sprintf("10.0.0.%d:18100", id),
			Capable: true,
		})
	}

	return &cluster.NodeSet{
		Revision: []uint64{rev},
		Nodes:    nodes,
	}
}

func TestFactoryOptionValidation(t *testing.T) {
	view := newFakeView(makeNodeSet(1, 1))
	lbFactory := loadbalancer.NewRoundRobinFactory()
	tr := transport.NewInProcTransport()

	_, err := NewFactory(&FactoryOptions{LoadBalancerFactory: lbFactory, Transport: tr})
	require.Error(t, err)

	_, err = NewFactory(&FactoryOptions{ClusterView: view, Transport: tr})
	require.Error(t, err)

	_, err = NewFactory(&FactoryOptions{ClusterView: view, LoadBalancerFactory: lbFactory})
	require.Error(t, err)

	_, err = NewFactory(&FactoryOptions{
		ClusterView:         view,
		LoadBalancerFactory: lbFactory,
		Transport:           tr,
	})
	require.NoError(t, err)
}

func TestFactoryLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	view := newFakeView(makeNodeSet(1, 1))
	tr := transport.NewInProcTransport()

	f, err := NewFactory(&FactoryOptions{
		ClusterView:         view,
		LoadBalancerFactory: loadbalancer.NewRoundRobinFactory(),
		Transport:           tr,
	})
	require.NoError(t, err)

	// clients cannot be issued before the factory starts
	_, err = f.NewClient()
	require.ErrorIs(t, err, ErrNetworkNotStarted)

	err = f.Start(ctx)
	require.NoError(t, err)

	// starting twice is a no-op and must not register a second listener
	err = f.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, view.addCalls)

	c, err := f.NewClient()
	require.NoError(t, err)
	require.NotNil(t, c)

	err = f.Shutdown()
	require.NoError(t, err)

	// the view and the transport are torn down with the factory
	assert.True(t, view.IsShutDown())
	err = tr.Send(ctx, &cluster.Node{ID: 1}, transport.NewMessage("test.ping", nil)).Wait(ctx)
	assert.ErrorIs(t, err, transport.ErrTransportShutdown)

	_, err = f.NewClient()
	require.ErrorIs(t, err, ErrClusterShutdown)

	// shutting down twice is a no-op
	err = f.Shutdown()
	require.NoError(t, err)

	err = f.Start(ctx)
	require.ErrorIs(t, err, ErrClusterShutdown)

	// clients issued before the shutdown fail their sends now
	_, err = c.Send(ctx, transport.NewMessage("test.ping", nil))
	require.ErrorIs(t, err, ErrClusterShutdown)
}

func TestFactoryRebuildsOnMembershipEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	view := newFakeView(makeNodeSet(1, 1))
	lbFactory := newFlakyBalancerFactory()

	f, err := NewFactory(&FactoryOptions{
		ClusterView:         view,
		LoadBalancerFactory: lbFactory,
		Transport:           transport.NewInProcTransport(),
	})
	require.NoError(t, err)

	err = f.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, lbFactory.calls())

	view.emit(&cluster.ConnectedEvent{Nodes: makeNodeSet(2, 1, 2)})
	assert.Equal(t, 2, lbFactory.calls())

	view.updateNodes(makeNodeSet(3, 1, 2, 3))
	assert.Equal(t, 3, lbFactory.calls())

	// connectivity events never rebuild the routing state
	view.emit(&cluster.DisconnectedEvent{})
	view.emit(&cluster.ShutdownEvent{})
	assert.Equal(t, 3, lbFactory.calls())

	// membership updates older than the current state are ignored
	view.emit(&cluster.NodesChangedEvent{Nodes: makeNodeSet(2, 9)})
	assert.Equal(t, 3, lbFactory.calls())

	err = f.Shutdown()
	require.NoError(t, err)

	// nothing rebuilds after shutdown
	view.updateNodes(makeNodeSet(4, 1))
	assert.Equal(t, 3, lbFactory.calls())
}

func TestFactoryBuildFailureSurfacesOnSends(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	view := newFakeView(makeNodeSet(1, 1))
	lbFactory := newFlakyBalancerFactory()
	tr := transport.NewInProcTransport()

	recvCh := make(chan *transport.Message, 8)
	tr.RegisterNode(1, transport.HandlerFunc(func(ctx context.Context, msg *transport.Message) error {
		recvCh <- msg
		return nil
	}))
	tr.RegisterNode(2, transport.HandlerFunc(func(ctx context.Context, msg *transport.Message) error {
		recvCh <- msg
		return nil
	}))

	f, err := NewFactory(&FactoryOptions{
		ClusterView:         view,
		LoadBalancerFactory: lbFactory,
		Transport:           tr,
	})
	require.NoError(t, err)

	err = f.Start(ctx)
	require.NoError(t, err)

	c, err := f.NewClient()
	require.NoError(t, err)

	buildErr := errors.New("balancer construction failed")
	lbFactory.setFailErr(buildErr)
	view.updateNodes(makeNodeSet(2, 1, 2))

	// every send path reports the broken routing state
	_, err = c.Send(ctx, transport.NewMessage("test.ping", nil))
	var invalidErr *InvalidClusterError
	require.ErrorAs(t, err, &invalidErr)
	assert.ErrorIs(t, err, buildErr)

	_, err = c.Broadcast(ctx, transport.NewMessage("test.ping", nil))
	require.ErrorAs(t, err, &invalidErr)

	_, err = c.SendToNode(ctx, &cluster.Node{ID: 1}, transport.NewMessage("test.ping", nil))
	require.ErrorAs(t, err, &invalidErr)

	// a successful rebuild clears the failure
	lbFactory.setFailErr(nil)
	view.updateNodes(makeNodeSet(3, 1, 2))

	completion, err := c.Send(ctx, transport.NewMessage("test.ping", nil))
	require.NoError(t, err)
	require.NoError(t, completion.Wait(ctx))
	<-recvCh

	err = f.Shutdown()
	require.NoError(t, err)
}

func TestClientPreconditionPrecedence(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	view := newFakeView(makeNodeSet(1, 1))
	lbFactory := newFlakyBalancerFactory()

	f, err := NewFactory(&FactoryOptions{
		ClusterView:         view,
		LoadBalancerFactory: lbFactory,
		Transport:           transport.NewInProcTransport(),
	})
	require.NoError(t, err)

	err = f.Start(ctx)
	require.NoError(t, err)

	c, err := f.NewClient()
	require.NoError(t, err)

	// break the routing state, then disconnect: the disconnect wins
	buildErr := errors.New("balancer construction failed")
	lbFactory.setFailErr(buildErr)
	view.updateNodes(makeNodeSet(2, 1))
	view.setConnected(false)

	_, err = c.Send(ctx, transport.NewMessage("test.ping", nil))
	require.ErrorIs(t, err, ErrClusterDisconnected)

	_, err = c.Broadcast(ctx, transport.NewMessage("test.ping", nil))
	require.ErrorIs(t, err, ErrClusterDisconnected)

	_, err = c.SendToNode(ctx, &cluster.Node{ID: 1}, transport.NewMessage("test.ping", nil))
	require.ErrorIs(t, err, ErrClusterDisconnected)

	// reconnected, the routing failure comes through again
	view.setConnected(true)
	var invalidErr *InvalidClusterError
	_, err = c.Send(ctx, transport.NewMessage("test.ping", nil))
	require.ErrorAs(t, err, &invalidErr)

	// shut down beats everything else
	err = f.Shutdown()
	require.NoError(t, err)

	_, err = c.Send(ctx, transport.NewMessage("test.ping", nil))
	require.ErrorIs(t, err, ErrClusterShutdown)
	_, err = c.Broadcast(ctx, transport.NewMessage("test.ping", nil))
	require.ErrorIs(t, err, ErrClusterShutdown)
	_, err = c.SendToNode(ctx, &cluster.Node{ID: 1}, transport.NewMessage("test.ping", nil))
	require.ErrorIs(t, err, ErrClusterShutdown)
}

func TestClientNotStartedGuard(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f, err := NewFactory(&FactoryOptions{
		ClusterView:         newFakeView(makeNodeSet(1, 1)),
		LoadBalancerFactory: loadbalancer.NewRoundRobinFactory(),
		Transport:           transport.NewInProcTransport(),
	})
	require.NoError(t, err)

	// clients are normally only issued after a start, the guard still
	// holds for one created by hand
	c := &Client{f: f}

	_, err = c.Send(ctx, transport.NewMessage("test.ping", nil))
	require.ErrorIs(t, err, ErrNetworkNotStarted)
}

func TestClientPerOperationErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// nodes are present but none of them can take balanced traffic
	nodes := &cluster.NodeSet{
		Revision: []uint64{1},
		Nodes: []*cluster.Node{
			{ID: 1, Address: "10.0.0.1:18100"},
			{ID: 2, Address: "10.0.0.2:18100"},
		},
	}

	f, err := NewFactory(&FactoryOptions{
		ClusterView:         newFakeView(nodes),
		LoadBalancerFactory: loadbalancer.NewRoundRobinFactory(),
		Transport:           transport.NewInProcTransport(),
	})
	require.NoError(t, err)

	err = f.Start(ctx)
	require.NoError(t, err)

	c, err := f.NewClient()
	require.NoError(t, err)

	_, err = c.Send(ctx, transport.NewMessage("test.ping", nil))
	require.ErrorIs(t, err, ErrNoNodesAvailable)

	_, err = c.SendToNode(ctx, nil, transport.NewMessage("test.ping", nil))
	require.ErrorIs(t, err, ErrInvalidNode)

	_, err = c.SendToNode(ctx, &cluster.Node{ID: 99}, transport.NewMessage("test.ping", nil))
	require.ErrorIs(t, err, ErrInvalidNode)

	err = f.Shutdown()
	require.NoError(t, err)
}
