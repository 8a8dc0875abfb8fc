/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package netutils

// GetAdvertiseAddress resolves the address peers should be told to reach
// this process on, given the address it binds to.
func GetAdvertiseAddress(bindAddress string) (string, error) {
	// a bind to a specific interface is directly advertisable.
	if !IsInAddrAny(bindAddress) {
		return bindAddress, nil
	}

	// a wildcard bind is reachable on every interface, so advertise the one
	// the system routes outbound traffic through.
	outboundIP, err := GetOutboundIP()
	if err != nil {
		return "", err
	}

	return outboundIP.String(), nil
}
