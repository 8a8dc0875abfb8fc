package latestonlychannel

import (
	"testing"
	"time"
)

func TestWrapBlocksWhenEmpty(t *testing.T) {
	inputCh := make(chan int)
	outputCh := Wrap(inputCh)

	select {
	case <-outputCh:
		t.Fatalf("should have blocked")
	case <-time.After(10 * time.Millisecond):
	}

	close(inputCh)

	_, ok := <-outputCh
	if ok {
		t.Fatalf("output channel was not closed")
	}
}

func TestWrapForwardsValues(t *testing.T) {
	inputCh := make(chan int)
	outputCh := Wrap(inputCh)

	// the pipe holds the pending value itself, so these sends complete
	// without a reader on the output side.

	inputCh <- 1
	if got := <-outputCh; got != 1 {
		t.Fatalf("unexpected value received: %d", got)
	}

	inputCh <- 2
	if got := <-outputCh; got != 2 {
		t.Fatalf("unexpected value received: %d", got)
	}

	close(inputCh)

	_, ok := <-outputCh
	if ok {
		t.Fatalf("output channel was not closed")
	}
}

func TestWrapCoalescesBursts(t *testing.T) {
	inputCh := make(chan int)
	outputCh := Wrap(inputCh)

	inputCh <- 1
	inputCh <- 2
	inputCh <- 3
	if got := <-outputCh; got != 3 {
		t.Fatalf("unexpected value received: %d", got)
	}

	inputCh <- 4
	inputCh <- 5
	if got := <-outputCh; got != 5 {
		t.Fatalf("unexpected value received: %d", got)
	}

	close(inputCh)

	_, ok := <-outputCh
	if ok {
		t.Fatalf("output channel was not closed")
	}
}
