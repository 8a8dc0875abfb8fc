package cluster

// Event is implemented by every event type a View can deliver.  The
// interface is sealed so that consumers can type-switch exhaustively.
type Event interface {
	isClusterEvent()
}

// ConnectedEvent indicates the view established (or re-established)
// connectivity with the membership backend.  It carries the node set as of
// the moment connectivity was gained.
type ConnectedEvent struct {
	Nodes *NodeSet
}

// NodesChangedEvent indicates cluster membership changed while connected.
type NodesChangedEvent struct {
	Nodes *NodeSet
}

// DisconnectedEvent indicates connectivity with the membership backend was
// lost.  The view keeps serving its last known node set while disconnected.
type DisconnectedEvent struct {
}

// ShutdownEvent indicates the view was permanently shut down.  It is always
// the last event a listener observes.
type ShutdownEvent struct {
}

func (*ConnectedEvent) isClusterEvent()    {}
func (*NodesChangedEvent) isClusterEvent() {}
func (*DisconnectedEvent) isClusterEvent() {}
func (*ShutdownEvent) isClusterEvent()     {}

// ListenerID is an opaque handle identifying one listener registration.
type ListenerID uint64

// Listener receives view events.  Listeners are invoked synchronously on
// the view's delivery goroutine, one event at a time, and must not block
// for extended periods.
type Listener func(evt Event)
