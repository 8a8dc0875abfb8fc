package transport

import (
	"context"
	"sync"

	"github.com/couchbaselabs/gomsgbus/cluster"
)

// InProcTransport routes messages directly to handlers registered in the
// same process.  Deliveries still round-trip through the envelope codec
// and resolve asynchronously so that behaviour matches the grpc transport
// as closely as possible.
type InProcTransport struct {
	lock     sync.Mutex
	handlers map[cluster.NodeID]Handler
	shutdown bool
}

var _ Client = (*InProcTransport)(nil)

func NewInProcTransport() *InProcTransport {
	return &InProcTransport{
		handlers: make(map[cluster.NodeID]Handler),
	}
}

// RegisterNode attaches the handler that receives messages addressed to
// the given node.
func (t *InProcTransport) RegisterNode(id cluster.NodeID, handler Handler) {
	t.lock.Lock()
	t.handlers[id] = handler
	t.lock.Unlock()
}

// DeregisterNode detaches a node, later sends to it fail as unreachable.
func (t *InProcTransport) DeregisterNode(id cluster.NodeID) {
	t.lock.Lock()
	delete(t.handlers, id)
	t.lock.Unlock()
}

func (t *InProcTransport) Send(ctx context.Context, node *cluster.Node, msg *Message) *Completion {
	if node == nil {
		return NewResolvedCompletion(ErrInvalidAddress)
	}

	frame, err := EncodeEnvelope(msg)
	if err != nil {
		return NewResolvedCompletion(err)
	}

	t.lock.Lock()
	if t.shutdown {
		t.lock.Unlock()
		return NewResolvedCompletion(ErrTransportShutdown)
	}
	handler := t.handlers[node.ID]
	t.lock.Unlock()

	if handler == nil {
		return NewResolvedCompletion(ErrNodeUnreachable)
	}

	completion := NewCompletion()

	go func() {
		msg, err := DecodeEnvelope(frame)
		if err != nil {
			completion.Resolve(err)
			return
		}

		completion.Resolve(handler.HandleMessage(ctx, msg))
	}()

	return completion
}

func (t *InProcTransport) Shutdown() error {
	t.lock.Lock()
	t.shutdown = true
	t.handlers = make(map[cluster.NodeID]Handler)
	t.lock.Unlock()

	return nil
}
