package testutils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
)

var globalTestEtcdClient *clientv3.Client
var globalEtcdDisabled bool

// GetTestEtcdClient returns a shared etcd client for integration tests,
// skipping the test when no etcd is reachable.
func GetTestEtcdClient(t *testing.T) *clientv3.Client {
	if globalTestEtcdClient != nil {
		return globalTestEtcdClient
	}

	if globalEtcdDisabled {
		t.Skipf("etcd unavailable: previous connect attempt failed")
	}

	config := GetTestConfig(t)
	connectTimeout := 5 * time.Second

	etcdClient, err := clientv3.New(clientv3.Config{
		Endpoints:   config.EtcdEndpoints,
		Username:    config.EtcdUsername,
		Password:    config.EtcdPassword,
		DialTimeout: connectTimeout,
	})
	if err != nil {
		globalEtcdDisabled = true
		t.Skipf("failed to connect to etcd: %s", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), connectTimeout)
	_, err = etcdClient.Get(waitCtx, "invalid-key")
	waitCancel()

	if errors.Is(err, context.DeadlineExceeded) {
		globalEtcdDisabled = true
		t.Skip("failed to connect to etcd: timeout")
	}

	globalTestEtcdClient = etcdClient
	return globalTestEtcdClient
}

// GenTestKeyPrefix returns a unique keyspace so concurrent test runs do
// not interfere with each other.
func GenTestKeyPrefix() string {
	return "msgbus-test/" + uuid.NewString()
}
