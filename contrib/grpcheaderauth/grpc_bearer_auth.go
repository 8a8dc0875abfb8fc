/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package grpcheaderauth

import (
	"context"

	"google.golang.org/grpc/credentials"
)

type GrpcBearerAuth struct {
	Token string
}

// NewGrpcBearerAuth creates PerRPCCredentials that attach a bearer token
// authorization header to every call.
func NewGrpcBearerAuth(token string) (credentials.PerRPCCredentials, error) {
	return GrpcBearerAuth{token}, nil
}

func (j GrpcBearerAuth) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{
		"authorization": "Bearer " + j.Token,
	}, nil
}

func (j GrpcBearerAuth) RequireTransportSecurity() bool {
	return false
}
