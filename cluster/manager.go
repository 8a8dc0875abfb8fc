package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/couchbaselabs/gomsgbus/utils/revisionarr"
	"go.uber.org/zap"
)

// NodeMeta is the JSON document a node publishes about itself when it joins
// the cluster.  The representation is intentionally terse to keep the
// metadata values small.
type NodeMeta struct {
	ID          uint64            `json:"id"`
	Address     string            `json:"a,omitempty"`
	ServerGroup string            `json:"sg,omitempty"`
	Capable     bool              `json:"c,omitempty"`
	Meta        map[string]string `json:"m,omitempty"`
}

type managerLifecycle int32

const (
	managerNotStarted managerLifecycle = iota
	managerStarted
	managerShutDown
)

// managerState is the immutable view state readers load without locks.
type managerState struct {
	Nodes     *NodeSet
	Connected bool
}

type atomicManagerState struct {
	Value atomic.Value
}

func (s *atomicManagerState) Load() *managerState {
	state, _ := s.Value.Load().(*managerState)
	return state
}

func (s *atomicManagerState) Store(new *managerState) {
	s.Value.Store(new)
}

type ManagerOptions struct {
	Provider Provider
	Logger   *zap.Logger
}

// Manager implements View on top of a raw membership Provider.  It decodes
// node metadata, tracks connectivity of the membership stream, and fans
// change events out to registered listeners.
type Manager struct {
	provider Provider
	logger   *zap.Logger

	lock           sync.Mutex
	lifecycle      atomic.Int32
	state          atomicManagerState
	listeners      map[ListenerID]Listener
	lastListenerID uint64

	ctx       context.Context
	ctxCancel func()
	closeCh   chan struct{}
}

var _ View = (*Manager)(nil)

func NewManager(opts *ManagerOptions) (*Manager, error) {
	if opts.Provider == nil {
		return nil, errors.New("a membership provider must be specified")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	m := &Manager{
		provider:  opts.Provider,
		logger:    logger,
		listeners: make(map[ListenerID]Listener),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		closeCh:   make(chan struct{}),
	}
	m.state.Store(&managerState{})

	return m, nil
}

// NodeMembership represents this node's own registration in the cluster.
type NodeMembership struct {
	ms Membership
}

func (m *NodeMembership) UpdateNode(ctx context.Context, node *Node) error {
	metaBytes, err := json.Marshal(nodeToMeta(node))
	if err != nil {
		return err
	}

	return m.ms.UpdateMetaData(ctx, metaBytes)
}

func (m *NodeMembership) Leave(ctx context.Context) error {
	return m.ms.Leave(ctx)
}

func nodeToMeta(node *Node) *NodeMeta {
	return &NodeMeta{
		ID:          uint64(node.ID),
		Address:     node.Address,
		ServerGroup: node.ServerGroup,
		Capable:     node.Capable,
		Meta:        node.Meta,
	}
}

// Join registers the local node with the cluster.  Joining is independent
// of the view lifecycle, a process may join without watching and vice
// versa.
func (m *Manager) Join(ctx context.Context, node *Node) (*NodeMembership, error) {
	if node == nil || node.ID == 0 {
		return nil, errors.New("a node with a non-zero id must be specified")
	}

	metaBytes, err := json.Marshal(nodeToMeta(node))
	if err != nil {
		return nil, err
	}

	memberID := strconv.FormatUint(uint64(node.ID), 10)
	ms, err := m.provider.Join(ctx, memberID, metaBytes)
	if err != nil {
		return nil, err
	}

	return &NodeMembership{ms}, nil
}

func (m *Manager) Start(ctx context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	switch managerLifecycle(m.lifecycle.Load()) {
	case managerStarted:
		return nil
	case managerShutDown:
		return ErrViewShutDown
	}

	snap, err := m.provider.Get(ctx)
	if err != nil {
		return err
	}

	m.state.Store(&managerState{
		Nodes:     m.procSnapshot(snap),
		Connected: true,
	})
	m.lifecycle.Store(int32(managerStarted))

	go m.watchThread()

	return nil
}

func (m *Manager) watchThread() {
	b := backoff.NewExponentialBackOff()
	b.Reset()

MainLoop:
	for {
		snapCh, err := m.provider.Watch(m.ctx)
		if err != nil {
			if m.ctx.Err() != nil {
				break MainLoop
			}

			m.logger.Error("failed to watch the membership provider", zap.Error(err))
			m.markDisconnected()

			select {
			case <-time.After(b.NextBackOff()):
				continue
			case <-m.ctx.Done():
				break MainLoop
			}
		}

		// restart our backoff strategy now that we are watching again
		b.Reset()

		receivedSnap := false
		for snap := range snapCh {
			nodes := m.procSnapshot(snap)
			m.applySnapshot(nodes, !receivedSnap)
			receivedSnap = true
		}

		if m.ctx.Err() != nil {
			break MainLoop
		}

		m.logger.Warn("the membership watch stream ended, reconnecting")
		m.markDisconnected()

		select {
		case <-time.After(b.NextBackOff()):
		case <-m.ctx.Done():
			break MainLoop
		}
	}

	close(m.closeCh)
}

// procSnapshot translates a raw provider snapshot into a NodeSet.
func (m *Manager) procSnapshot(snap *Snapshot) *NodeSet {
	var nodes []*Node
	for _, entry := range snap.Members {
		var meta NodeMeta
		err := json.Unmarshal(entry.MetaData, &meta)
		if err != nil {
			// we intentionally don't drop the member here so that members
			// with bad meta-data still appear in the snapshot, they just
			// are missing all their data.
			m.logger.Error("failed to unmarshal node metadata",
				zap.String("memberId", entry.MemberID),
				zap.Error(err))
		}

		node := &Node{
			ID:          NodeID(meta.ID),
			Address:     meta.Address,
			ServerGroup: meta.ServerGroup,
			Capable:     meta.Capable,
			Meta:        meta.Meta,
		}
		if node.ID == 0 {
			node.ID = fallbackNodeID(entry.MemberID)
		}

		nodes = append(nodes, node)
	}

	return &NodeSet{
		Revision: snap.Revision,
		Nodes:    nodes,
	}
}

// fallbackNodeID derives a stable identity for members that published no
// usable id of their own.
func fallbackNodeID(memberID string) NodeID {
	h := fnv.New64a()
	_, _ = h.Write([]byte(memberID))
	return NodeID(h.Sum64())
}

func (m *Manager) applySnapshot(nodes *NodeSet, reconnected bool) {
	m.lock.Lock()

	if managerLifecycle(m.lifecycle.Load()) == managerShutDown {
		m.lock.Unlock()
		return
	}

	// a reconnect re-announces the current membership even when the
	// revision has not moved, so only steady-state updates are deduplicated
	// here.
	cur := m.state.Load()
	if cur != nil && cur.Nodes != nil {
		revCmp := revisionarr.Compare(nodes.Revision, cur.Nodes.Revision)
		if revCmp < 0 || (revCmp == 0 && !reconnected) {
			m.lock.Unlock()
			m.logger.Debug("ignoring a stale membership snapshot",
				zap.Uint64s("revision", nodes.Revision))
			return
		}
	}

	m.state.Store(&managerState{
		Nodes:     nodes,
		Connected: true,
	})
	listeners := m.copyListenersLocked()

	m.lock.Unlock()

	var evt Event
	if reconnected {
		evt = &ConnectedEvent{Nodes: nodes}
	} else {
		evt = &NodesChangedEvent{Nodes: nodes}
	}

	for _, listener := range listeners {
		listener(evt)
	}
}

func (m *Manager) markDisconnected() {
	m.lock.Lock()

	cur := m.state.Load()
	if cur == nil || !cur.Connected {
		m.lock.Unlock()
		return
	}

	m.state.Store(&managerState{
		Nodes:     cur.Nodes,
		Connected: false,
	})
	listeners := m.copyListenersLocked()

	m.lock.Unlock()

	for _, listener := range listeners {
		listener(&DisconnectedEvent{})
	}
}

// copyListenersLocked snapshots the listener list so events can be
// delivered without holding the manager lock.
func (m *Manager) copyListenersLocked() []Listener {
	listeners := make([]Listener, 0, len(m.listeners))
	for _, listener := range m.listeners {
		listeners = append(listeners, listener)
	}
	return listeners
}

func (m *Manager) Nodes() *NodeSet {
	state := m.state.Load()
	if state == nil {
		return nil
	}
	return state.Nodes
}

func (m *Manager) IsConnected() bool {
	state := m.state.Load()
	return state != nil && state.Connected
}

func (m *Manager) IsShutDown() bool {
	return managerLifecycle(m.lifecycle.Load()) == managerShutDown
}

func (m *Manager) AddListener(listener Listener) ListenerID {
	m.lock.Lock()

	m.lastListenerID++
	id := ListenerID(m.lastListenerID)
	m.listeners[id] = listener

	m.lock.Unlock()

	return id
}

func (m *Manager) RemoveListener(id ListenerID) {
	m.lock.Lock()
	delete(m.listeners, id)
	m.lock.Unlock()
}

func (m *Manager) Shutdown() error {
	m.lock.Lock()

	lifecycle := managerLifecycle(m.lifecycle.Load())
	if lifecycle == managerShutDown {
		m.lock.Unlock()
		return nil
	}

	m.lifecycle.Store(int32(managerShutDown))

	cur := m.state.Load()
	if cur != nil && cur.Connected {
		m.state.Store(&managerState{
			Nodes:     cur.Nodes,
			Connected: false,
		})
	}
	listeners := m.copyListenersLocked()

	m.lock.Unlock()

	m.ctxCancel()

	// wait for the watch thread to finish so that no further membership
	// events can race with the shutdown event below.
	if lifecycle == managerStarted {
		<-m.closeCh
	}

	for _, listener := range listeners {
		listener(&ShutdownEvent{})
	}

	return nil
}
