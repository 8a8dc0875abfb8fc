package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNetworkNotStarted occurs when a client is used before the
	// messaging layer has been started.
	ErrNetworkNotStarted = errors.New("the network layer has not been started")

	// ErrClusterShutdown occurs when a client is used after the messaging
	// layer has been shut down.
	ErrClusterShutdown = errors.New("the cluster connection has been shut down")

	// ErrClusterDisconnected occurs when the membership view has lost its
	// connection to the coordination service.
	ErrClusterDisconnected = errors.New("the cluster is not currently connected")

	// ErrInvalidNode occurs when a targeted send names a node that is not
	// part of the current membership.
	ErrInvalidNode = errors.New("the specified node is not a member of the cluster")

	// ErrNoNodesAvailable occurs when a balanced send finds no usable node
	// in the current membership.
	ErrNoNodesAvailable = errors.New("no nodes are available to service the request")
)

// InvalidClusterError occurs when the routing state could not be built
// from the current membership.  Reason carries the underlying build
// failure.
type InvalidClusterError struct {
	Reason error
}

func (e InvalidClusterError) Error() string {
	return fmt.Sprintf("the cluster routing state is invalid: %s", e.Reason)
}

func (e InvalidClusterError) Unwrap() error {
	return e.Reason
}
