package cluster

import (
	"context"
	"errors"
)

// ErrViewShutDown is returned when an operation is attempted against a view
// that has already been shut down.
var ErrViewShutDown = errors.New("the cluster view has been shut down")

/*
View is a live, client-side view of cluster membership.  Nodes and
IsConnected reflect the most recently delivered state and are safe to call
from any goroutine.  Start and Shutdown are idempotent; once a view is shut
down it can never be started again.

A Watch-style subscription is exposed through AddListener/RemoveListener:
events are delivered in order, on the view's own delivery goroutine.
*/
type View interface {
	Start(ctx context.Context) error
	Shutdown() error

	Nodes() *NodeSet
	IsConnected() bool
	IsShutDown() bool

	AddListener(listener Listener) ListenerID
	RemoveListener(id ListenerID)
}
