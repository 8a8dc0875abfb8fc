/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package latestonlychannel

// Wrap pipes one channel into another while only ever holding the most
// recent value.  Writes to the input channel never block behind a slow
// reader, older values are simply replaced before they are forwarded, so
// the output never sees more values than were written.  The input channel
// must be closed to release the pipe.
func Wrap[T any](inputCh <-chan T) <-chan T {
	outputCh := make(chan T)

	go func() {
		defer close(outputCh)

		var latest T
		havePending := false

		for {
			if !havePending {
				value, ok := <-inputCh
				if !ok {
					return
				}

				latest = value
				havePending = true
			}

			// while the forward below is blocked, newer input values keep
			// replacing the one we are about to send.
			select {
			case outputCh <- latest:
				havePending = false
			case value, ok := <-inputCh:
				if !ok {
					return
				}

				latest = value
			}
		}
	}()

	return outputCh
}
