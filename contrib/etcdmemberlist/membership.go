/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package etcdmemberlist

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// ErrAlreadyLeft is returned for operations on a membership that has
// already been left.
var ErrAlreadyLeft = errors.New("the membership has already been left")

type Membership struct {
	etcdClient  *etcd.Client
	keyPrefix   string
	leasePeriod time.Duration
	id          string
	logger      *zap.Logger

	lock     sync.Mutex
	metaData []byte
	left     bool
	leaseID  etcd.LeaseID
	kaCancel context.CancelFunc
}

func (m *Membership) key() string {
	return m.keyPrefix + "/" + m.id
}

func (m *Membership) join(ctx context.Context) error {
	m.lock.Lock()
	if m.left {
		m.lock.Unlock()
		return ErrAlreadyLeft
	}
	metaData := m.metaData
	m.lock.Unlock()

	lease, err := m.etcdClient.Lease.Grant(ctx, int64(m.leasePeriod/time.Second))
	if err != nil {
		return err
	}

	// the keep-alive stream has to outlive the join call itself
	kaCtx, kaCancel := context.WithCancel(context.Background())
	kaCh, err := m.etcdClient.Lease.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		kaCancel()
		return err
	}

	m.lock.Lock()
	if m.left {
		// we lost a race with Leave, drop the fresh lease again
		m.lock.Unlock()
		kaCancel()
		_, _ = m.etcdClient.Lease.Revoke(ctx, lease.ID)
		return ErrAlreadyLeft
	}
	m.leaseID = lease.ID
	m.kaCancel = kaCancel
	m.lock.Unlock()

	go m.watchKeepAlive(kaCh)

	// if Leave revoked the lease in the meantime, this put fails and the
	// rejoin loop observes the left state instead
	_, err = m.etcdClient.KV.Put(ctx, m.key(), string(metaData), etcd.WithLease(lease.ID))
	if err != nil {
		return err
	}

	return nil
}

func (m *Membership) watchKeepAlive(kaCh <-chan *etcd.LeaseKeepAliveResponse) {
	for range kaCh {
	}

	// the stream only ends when we left ourselves or when the lease could
	// no longer be maintained
	m.lock.Lock()
	left := m.left
	m.lock.Unlock()
	if left {
		return
	}

	m.logger.Warn("the membership lease was lost, attempting to rejoin")

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0

	for {
		m.lock.Lock()
		left := m.left
		m.lock.Unlock()
		if left {
			return
		}

		joinCtx, joinCancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := m.join(joinCtx)
		joinCancel()
		if err != nil {
			m.logger.Warn("failed to rejoin the member list", zap.Error(err))
			time.Sleep(b.NextBackOff())
			continue
		}

		m.logger.Info("rejoined the member list")
		return
	}
}

func (m *Membership) SetMetaData(ctx context.Context, data []byte) error {
	m.lock.Lock()
	if m.left {
		m.lock.Unlock()
		return ErrAlreadyLeft
	}
	m.metaData = data
	leaseID := m.leaseID
	m.lock.Unlock()

	_, err := m.etcdClient.KV.Put(ctx, m.key(), string(data), etcd.WithLease(leaseID))
	if err != nil {
		return err
	}

	return nil
}

func (m *Membership) Leave(ctx context.Context) error {
	m.lock.Lock()
	if m.left {
		m.lock.Unlock()
		return ErrAlreadyLeft
	}
	m.left = true
	leaseID := m.leaseID
	kaCancel := m.kaCancel
	m.lock.Unlock()

	if kaCancel != nil {
		kaCancel()
	}

	// revoking the lease removes the member key along with it
	_, err := m.etcdClient.Lease.Revoke(ctx, leaseID)
	if err != nil && !errors.Is(err, rpctypes.ErrLeaseNotFound) {
		return err
	}

	// the lease may have expired on its own before we got here, so clear
	// the key explicitly as well
	_, err = m.etcdClient.KV.Delete(ctx, m.key())
	if err != nil {
		return err
	}

	return nil
}
