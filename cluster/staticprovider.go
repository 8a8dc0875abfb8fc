package cluster

import (
	"context"
)

// StaticProvider serves a fixed membership that never changes.  It is used
// when the node list is known up front, such as tooling that talks to an
// explicitly configured set of peers.
type StaticProvider struct {
	members []*Member
}

var _ Provider = (*StaticProvider)(nil)

func NewStaticProvider(members []*Member) *StaticProvider {
	return &StaticProvider{
		members: members,
	}
}

func (p *StaticProvider) snapshot() *Snapshot {
	return &Snapshot{
		Revision: []uint64{1},
		Members:  p.members,
	}
}

func (p *StaticProvider) Join(ctx context.Context, memberID string, metaData []byte) (Membership, error) {
	return nil, ErrJoinUnsupported
}

func (p *StaticProvider) Watch(ctx context.Context) (chan *Snapshot, error) {
	outputCh := make(chan *Snapshot, 1)
	outputCh <- p.snapshot()

	go func() {
		<-ctx.Done()
		close(outputCh)
	}()

	return outputCh, nil
}

func (p *StaticProvider) Get(ctx context.Context) (*Snapshot, error) {
	return p.snapshot(), nil
}
