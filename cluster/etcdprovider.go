package cluster

import (
	"context"
	"errors"

	"github.com/couchbaselabs/gomsgbus/contrib/etcdmemberlist"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

type EtcdProviderOptions struct {
	EtcdClient *clientv3.Client
	KeyPrefix  string
	Logger     *zap.Logger
}

// EtcdProvider sources cluster membership from an etcd keyspace, with one
// lease-backed key per member.
type EtcdProvider struct {
	ml     *etcdmemberlist.MemberList
	logger *zap.Logger
}

var _ Provider = (*EtcdProvider)(nil)

func NewEtcdProvider(opts EtcdProviderOptions) (*EtcdProvider, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ml, err := etcdmemberlist.NewMemberList(etcdmemberlist.MemberListOptions{
		EtcdClient: opts.EtcdClient,
		KeyPrefix:  opts.KeyPrefix,
		Logger:     logger.Named("memberlist"),
	})
	if err != nil {
		return nil, err
	}

	return &EtcdProvider{
		ml:     ml,
		logger: logger,
	}, nil
}

func (p *EtcdProvider) Join(ctx context.Context, memberID string, metaData []byte) (Membership, error) {
	mb, err := p.ml.Join(ctx, &etcdmemberlist.JoinOptions{
		MemberID: memberID,
		MetaData: metaData,
	})
	if err != nil {
		return nil, err
	}

	return &etcdMembership{mb}, nil
}

type etcdMembership struct {
	ms *etcdmemberlist.Membership
}

func (m *etcdMembership) UpdateMetaData(ctx context.Context, metaData []byte) error {
	err := m.ms.SetMetaData(ctx, metaData)
	if errors.Is(err, etcdmemberlist.ErrAlreadyLeft) {
		return ErrAlreadyLeft
	}
	return err
}

func (m *etcdMembership) Leave(ctx context.Context) error {
	err := m.ms.Leave(ctx)
	if errors.Is(err, etcdmemberlist.ErrAlreadyLeft) {
		return ErrAlreadyLeft
	}
	return err
}

func (p *EtcdProvider) procMemberList(snap *etcdmemberlist.MembersSnapshot) *Snapshot {
	var members []*Member
	for _, entry := range snap.Members {
		members = append(members, &Member{
			MemberID: entry.MemberID,
			MetaData: entry.MetaData,
		})
	}

	return &Snapshot{
		Revision: []uint64{uint64(snap.Revision)},
		Members:  members,
	}
}

func (p *EtcdProvider) Watch(ctx context.Context) (chan *Snapshot, error) {
	snapCh, err := p.ml.WatchMembers(ctx)
	if err != nil {
		return nil, err
	}

	// the member list always emits the current state first, so a closed
	// channel here means the watch never became established at all.
	firstSnap, ok := <-snapCh
	if !ok {
		return nil, errors.New("the membership watch closed before delivering a snapshot")
	}

	outputCh := make(chan *Snapshot, 1)
	outputCh <- p.procMemberList(firstSnap)

	go func() {
		for snap := range snapCh {
			outputCh <- p.procMemberList(snap)
		}

		close(outputCh)
	}()

	return outputCh, nil
}

func (p *EtcdProvider) Get(ctx context.Context) (*Snapshot, error) {
	memberSnap, err := p.ml.Members(ctx)
	if err != nil {
		return nil, err
	}

	return p.procMemberList(memberSnap), nil
}
