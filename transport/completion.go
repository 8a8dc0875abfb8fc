package transport

import (
	"context"
	"errors"
	"sync"
)

// Completion is the handle for a send that may still be in flight.  It
// resolves exactly once, after which Err reports the outcome.
type Completion struct {
	doneCh chan struct{}
	once   sync.Once
	err    error
}

func NewCompletion() *Completion {
	return &Completion{
		doneCh: make(chan struct{}),
	}
}

// NewResolvedCompletion returns a handle that has already resolved with
// the specified outcome.
func NewResolvedCompletion(err error) *Completion {
	c := NewCompletion()
	c.Resolve(err)
	return c
}

// Resolve records the outcome of the send.  Only the first resolution
// takes effect, later calls are ignored.
func (c *Completion) Resolve(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.doneCh)
	})
}

// Done returns a channel that is closed once the send has resolved.
func (c *Completion) Done() <-chan struct{} {
	return c.doneCh
}

// Err reports the outcome of the send, or nil if it has not resolved yet.
func (c *Completion) Err() error {
	select {
	case <-c.doneCh:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the send resolves or the context ends.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.doneCh:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Group tracks a set of related sends, usually one per target node.  An
// empty group behaves as an already successful send.
type Group struct {
	completions []*Completion
}

func NewGroup(completions []*Completion) *Group {
	return &Group{
		completions: completions,
	}
}

func (g *Group) Len() int {
	return len(g.completions)
}

func (g *Group) Completions() []*Completion {
	return g.completions
}

// Wait blocks until every send in the group resolves or the context ends.
// The first send failure encountered is returned once all sends have
// resolved, a context end aborts the wait immediately.
func (g *Group) Wait(ctx context.Context) error {
	var firstErr error
	for _, completion := range g.completions {
		err := completion.Wait(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return err
			}

			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
