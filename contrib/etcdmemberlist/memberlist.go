package etcdmemberlist

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/etcd/api/v3/mvccpb"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

type MemberListOptions struct {
	EtcdClient *etcd.Client
	KeyPrefix  string
	Logger     *zap.Logger
}

type MemberList struct {
	etcdClient *etcd.Client
	keyPrefix  string
	logger     *zap.Logger
}

type Member struct {
	MemberID string
	MetaData []byte
}

type MembersSnapshot struct {
	Revision int64
	Members  []*Member
}

func NewMemberList(opts MemberListOptions) (*MemberList, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MemberList{
		etcdClient: opts.EtcdClient,
		keyPrefix:  opts.KeyPrefix,
		logger:     logger,
	}, nil
}

type JoinOptions struct {
	MemberID    string
	MetaData    []byte
	LeasePeriod time.Duration
}

func (ml *MemberList) Join(ctx context.Context, opts *JoinOptions) (*Membership, error) {
	if opts == nil {
		opts = &JoinOptions{}
	}

	memberID := opts.MemberID
	if memberID == "" {
		memberID = uuid.NewString()
	}

	leasePeriod := 5 * time.Second
	if opts.LeasePeriod != 0 {
		// etcdv3 itself refuses lease TTLs below 5 seconds
		if opts.LeasePeriod < 5*time.Second {
			return nil, errors.New("lease period must be at least 5 seconds")
		}

		leasePeriod = opts.LeasePeriod
	}

	m := &Membership{
		etcdClient:  ml.etcdClient,
		keyPrefix:   ml.keyPrefix,
		leasePeriod: leasePeriod,
		id:          memberID,
		metaData:    opts.MetaData,
		logger:      ml.logger.With(zap.String("memberId", memberID)),
	}

	err := m.join(ctx)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (ml *MemberList) memberPrefix() string {
	return ml.keyPrefix + "/"
}

func (ml *MemberList) Members(ctx context.Context) (*MembersSnapshot, error) {
	memberPrefix := ml.memberPrefix()
	resp, err := ml.etcdClient.KV.Get(ctx, memberPrefix, etcd.WithPrefix())
	if err != nil {
		return nil, err
	}

	var members []*Member
	for _, kv := range resp.Kvs {
		members = append(members, &Member{
			MemberID: string(kv.Key[len(memberPrefix):]),
			MetaData: kv.Value,
		})
	}

	return &MembersSnapshot{
		Revision: resp.Header.Revision,
		Members:  members,
	}, nil
}

// WatchMembers streams membership snapshots for this key prefix.  The
// current state is placed on the returned channel before this call
// returns, and a new snapshot follows every change after that.  The
// channel is closed when the watch ends, usually because ctx was
// cancelled.
//
// TODO(brett19): We should coalesce multiple watch calls.
// This would avoid unneccessary client-server traffic.  It can probably be implemented
// by always having a watch running and then just join these Watch calls to it.
func (ml *MemberList) WatchMembers(ctx context.Context) (chan *MembersSnapshot, error) {
	memberPrefix := ml.memberPrefix()

	outputCh := make(chan *MembersSnapshot, 1)
	keyMap := make(map[string][]byte)
	keyMapRevision := int64(0)

	emitKeyMap := func() {
		var members []*Member
		for key, metaData := range keyMap {
			members = append(members, &Member{
				MemberID: key[len(memberPrefix):],
				MetaData: metaData,
			})
		}

		outputCh <- &MembersSnapshot{
			Revision: keyMapRevision,
			Members:  members,
		}
	}

	resp, err := ml.etcdClient.KV.Get(ctx, memberPrefix, etcd.WithPrefix())
	if err != nil {
		return nil, err
	}

	for _, kv := range resp.Kvs {
		keyMap[string(kv.Key)] = kv.Value
	}
	keyMapRevision = resp.Header.Revision

	// the output channel is buffered, so the initial snapshot is
	// guaranteed to be available as soon as this call returns
	emitKeyMap()

	watchCh := ml.etcdClient.Watcher.Watch(ctx, memberPrefix, etcd.WithRev(resp.Header.Revision))
	go func() {
		for watchResp := range watchCh {
			if err := watchResp.Err(); err != nil {
				ml.logger.Warn("the membership watch failed", zap.Error(err))
				break
			}

			for _, evt := range watchResp.Events {
				switch evt.Type {
				case mvccpb.PUT:
					keyMap[string(evt.Kv.Key)] = evt.Kv.Value
				case mvccpb.DELETE:
					delete(keyMap, string(evt.Kv.Key))
				default:
					ml.logger.Warn("the membership watch saw an unexpected event type",
						zap.Int32("type", int32(evt.Type)))
				}
			}
			keyMapRevision = watchResp.Header.Revision

			emitKeyMap()
		}

		close(outputCh)
	}()

	return outputCh, nil
}
