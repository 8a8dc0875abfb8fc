/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package channelmerge

// Merged carries the most recent value seen on each of the two inputs.
type Merged[A any, B any] struct {
	A A
	B B
}

// Merge combines two channels into one that emits the latest pair every
// time either input produces a value.  Nothing is emitted until both
// inputs have produced at least once, and the output closes as soon as
// either input closes.
func Merge[A any, B any](a <-chan A, b <-chan B) <-chan Merged[A, B] {
	outputCh := make(chan Merged[A, B])

	go func() {
		defer close(outputCh)

		var currentA A
		var currentB B
		haveA := false
		haveB := false

		for {
			select {
			case newA, ok := <-a:
				if !ok {
					return
				}

				currentA = newA
				haveA = true
			case newB, ok := <-b:
				if !ok {
					return
				}

				currentB = newB
				haveB = true
			}

			// updates that arrive before the first full pair are absorbed
			// into the current values rather than emitted.
			if !haveA || !haveB {
				continue
			}

			outputCh <- Merged[A, B]{
				A: currentA,
				B: currentB,
			}
		}
	}()

	return outputCh
}
