package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionResolvesOnce(t *testing.T) {
	completion := NewCompletion()
	assert.NoError(t, completion.Err())

	firstErr := errors.New("first failure")
	completion.Resolve(firstErr)
	completion.Resolve(errors.New("second failure"))

	select {
	case <-completion.Done():
	default:
		t.Fatalf("expected the completion to be done")
	}

	assert.ErrorIs(t, completion.Err(), firstErr)
	assert.ErrorIs(t, completion.Wait(context.Background()), firstErr)
}

func TestCompletionWaitHonorsContext(t *testing.T) {
	completion := NewCompletion()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := completion.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the handle itself is still unresolved
	assert.NoError(t, completion.Err())

	completion.Resolve(nil)
	assert.NoError(t, completion.Wait(context.Background()))
}

func TestResolvedCompletion(t *testing.T) {
	sendErr := errors.New("send failed")

	completion := NewResolvedCompletion(sendErr)
	assert.ErrorIs(t, completion.Err(), sendErr)

	completion = NewResolvedCompletion(nil)
	assert.NoError(t, completion.Wait(context.Background()))
}

func TestGroupWaitsForAllSends(t *testing.T) {
	c1 := NewCompletion()
	c2 := NewCompletion()
	c3 := NewCompletion()
	group := NewGroup([]*Completion{c1, c2, c3})
	require.Equal(t, 3, group.Len())

	sendErr := errors.New("send failed")
	go func() {
		c1.Resolve(nil)
		c2.Resolve(sendErr)
		c3.Resolve(nil)
	}()

	err := group.Wait(context.Background())
	assert.ErrorIs(t, err, sendErr)
}

func TestGroupReturnsFirstFailure(t *testing.T) {
	c1 := NewCompletion()
	c2 := NewCompletion()
	group := NewGroup([]*Completion{c1, c2})

	firstErr := errors.New("first failure")
	c1.Resolve(firstErr)
	c2.Resolve(errors.New("second failure"))

	err := group.Wait(context.Background())
	assert.ErrorIs(t, err, firstErr)
}

func TestGroupWaitAbortsOnContext(t *testing.T) {
	group := NewGroup([]*Completion{NewCompletion()})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := group.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEmptyGroup(t *testing.T) {
	group := NewGroup(nil)
	assert.Equal(t, 0, group.Len())
	assert.NoError(t, group.Wait(context.Background()))
}
