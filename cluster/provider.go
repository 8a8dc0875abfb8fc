/*
Copyright 2025-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package cluster

import (
	"context"
	"errors"
)

// ErrAlreadyLeft is returned when leaving a membership that was already
// left.
var ErrAlreadyLeft = errors.New("the membership has already been left")

// ErrJoinUnsupported is returned by providers that only support observing
// membership, not participating in it.
var ErrJoinUnsupported = errors.New("this membership provider does not support joining")

// Member is a raw cluster member as reported by a provider, before its
// metadata has been decoded.
type Member struct {
	MemberID string
	MetaData []byte
}

// Snapshot is a raw membership snapshot as reported by a provider.
type Snapshot struct {
	Revision []uint64
	Members  []*Member
}

// Membership represents this process's own registration in the cluster.
type Membership interface {
	UpdateMetaData(ctx context.Context, metaData []byte) error
	Leave(ctx context.Context) error
}

/*
Provider is a pluggable source of cluster membership.  Note that the
Join/Leave calls must not be called concurrently.  It is however safe to
concurrently call Join or Leave alongside Watch/Get calls.

A Watch channel always yields the current snapshot first.  The channel
closing before its context is done indicates the underlying membership
stream failed; consumers are expected to establish a new Watch.
*/
type Provider interface {
	Join(ctx context.Context, memberID string, metaData []byte) (Membership, error)

	Watch(ctx context.Context) (chan *Snapshot, error)
	Get(ctx context.Context) (*Snapshot, error)
}
