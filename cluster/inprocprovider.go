package cluster

import (
	"context"
	"sync"

	"golang.org/x/exp/slices"
)

// InProcProvider keeps the member list in process memory.  It is intended
// for tests and for single-process deployments where an external
// coordination service is not available.
type InProcProvider struct {
	lock     sync.Mutex
	revision uint64
	members  []*inProcMember
	watchers []*inProcWatcher
}

var _ Provider = (*InProcProvider)(nil)

type inProcMember struct {
	memberID string
	metaData []byte
}

type inProcWatcher struct {
	signalCh chan struct{}
}

func NewInProcProvider() *InProcProvider {
	return &InProcProvider{}
}

func (p *InProcProvider) snapshotLocked() *Snapshot {
	var members []*Member
	for _, member := range p.members {
		members = append(members, &Member{
			MemberID: member.memberID,
			MetaData: member.metaData,
		})
	}

	return &Snapshot{
		Revision: []uint64{p.revision},
		Members:  members,
	}
}

// signalWatchersLocked marks every watcher as having a pending change.  The
// signal channel has a single-entry buffer, so a watcher that has not yet
// drained a previous signal simply coalesces the two.
func (p *InProcProvider) signalWatchersLocked() {
	for _, watcher := range p.watchers {
		select {
		case watcher.signalCh <- struct{}{}:
		default:
		}
	}
}

func (p *InProcProvider) removeWatcherLocked(w *inProcWatcher) {
	watcherIdx := slices.Index(p.watchers, w)
	if watcherIdx >= 0 {
		p.watchers = slices.Delete(p.watchers, watcherIdx, watcherIdx+1)
	}
}

func (p *InProcProvider) Join(ctx context.Context, memberID string, metaData []byte) (Membership, error) {
	p.lock.Lock()

	for _, member := range p.members {
		if member.memberID == memberID {
			member.metaData = metaData
			p.revision++
			p.signalWatchersLocked()
			p.lock.Unlock()

			return &inProcMembership{
				provider: p,
				memberID: memberID,
			}, nil
		}
	}

	p.members = append(p.members, &inProcMember{
		memberID: memberID,
		metaData: metaData,
	})
	p.revision++
	p.signalWatchersLocked()

	p.lock.Unlock()

	return &inProcMembership{
		provider: p,
		memberID: memberID,
	}, nil
}

type inProcMembership struct {
	provider *InProcProvider
	lock     sync.Mutex
	memberID string
	left     bool
}

func (m *inProcMembership) UpdateMetaData(ctx context.Context, metaData []byte) error {
	m.lock.Lock()
	if m.left {
		m.lock.Unlock()
		return ErrAlreadyLeft
	}
	m.lock.Unlock()

	p := m.provider

	p.lock.Lock()
	for _, member := range p.members {
		if member.memberID == m.memberID {
			member.metaData = metaData
			p.revision++
			p.signalWatchersLocked()
			break
		}
	}
	p.lock.Unlock()

	return nil
}

func (m *inProcMembership) Leave(ctx context.Context) error {
	m.lock.Lock()
	if m.left {
		m.lock.Unlock()
		return ErrAlreadyLeft
	}
	m.left = true
	m.lock.Unlock()

	p := m.provider

	p.lock.Lock()
	memberIdx := slices.IndexFunc(p.members, func(member *inProcMember) bool {
		return member.memberID == m.memberID
	})
	if memberIdx >= 0 {
		p.members = slices.Delete(p.members, memberIdx, memberIdx+1)
		p.revision++
		p.signalWatchersLocked()
	}
	p.lock.Unlock()

	return nil
}

func (p *InProcProvider) Watch(ctx context.Context) (chan *Snapshot, error) {
	watcher := &inProcWatcher{
		signalCh: make(chan struct{}, 1),
	}

	p.lock.Lock()
	p.watchers = append(p.watchers, watcher)
	p.lock.Unlock()

	outputCh := make(chan *Snapshot)

	go func() {
		for {
			p.lock.Lock()
			snap := p.snapshotLocked()
			p.lock.Unlock()

			select {
			case outputCh <- snap:
			case <-ctx.Done():
			}

			if ctx.Err() != nil {
				break
			}

			select {
			case <-watcher.signalCh:
			case <-ctx.Done():
			}

			if ctx.Err() != nil {
				break
			}
		}

		p.lock.Lock()
		p.removeWatcherLocked(watcher)
		p.lock.Unlock()

		close(outputCh)
	}()

	return outputCh, nil
}

func (p *InProcProvider) Get(ctx context.Context) (*Snapshot, error) {
	p.lock.Lock()
	snap := p.snapshotLocked()
	p.lock.Unlock()

	return snap, nil
}
