package transport

import (
	"context"
	"errors"

	"github.com/couchbaselabs/gomsgbus/cluster"
)

var (
	ErrTransportShutdown = errors.New("the transport has been shut down")
	ErrInvalidAddress    = errors.New("the target node has no usable address")
	ErrNodeUnreachable   = errors.New("the target node could not be reached")
)

// Client moves messages to specific nodes.  Send never blocks on the
// network, the returned handle resolves once the delivery has been
// acknowledged by the far side or has failed.
type Client interface {
	Send(ctx context.Context, node *cluster.Node, msg *Message) *Completion
	Shutdown() error
}
