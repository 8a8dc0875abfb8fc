/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package testutils

import (
	"os"
	"strings"
	"testing"
)

type Config struct {
	EtcdEndpoints []string
	EtcdUsername  string
	EtcdPassword  string
}

var globalTestConfig *Config

func GetTestConfig(t *testing.T) *Config {
	if globalTestConfig == nil {
		testConfig := &Config{
			EtcdEndpoints: []string{"127.0.0.1:2379"},
		}

		envEtcdEndpoints := os.Getenv("MBTEST_ETCD_ENDPOINTS")
		if envEtcdEndpoints != "" {
			testConfig.EtcdEndpoints = strings.Split(envEtcdEndpoints, ",")
		}

		envEtcdUsername := os.Getenv("MBTEST_ETCD_USERNAME")
		if envEtcdUsername != "" {
			testConfig.EtcdUsername = envEtcdUsername
		}

		envEtcdPassword := os.Getenv("MBTEST_ETCD_PASSWORD")
		if envEtcdPassword != "" {
			testConfig.EtcdPassword = envEtcdPassword
		}

		t.Logf("initialized test configuration")
		t.Logf("  etcdendpoints: %s", strings.Join(testConfig.EtcdEndpoints, ","))
		t.Logf("  etcdusername: %s", testConfig.EtcdUsername)

		globalTestConfig = testConfig
	}

	return globalTestConfig
}
