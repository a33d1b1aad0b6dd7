package remote

import (
	"context"
)

// hubBarrier implements a barrier primitive for the hub. Each rank's relay
// goroutine enters the barrier with the envelope it received and blocks until
// the hub's barrier loop collects the envelopes of all ranks and releases
// them.
type hubBarrier struct {
	ctx      context.Context
	numRanks int
	waitCh   chan *envelope
	notifyCh chan *envelope
}

// newHubBarrier creates a new barrier instance for a group with the
// specified number of ranks.
func newHubBarrier(ctx context.Context, numRanks int) *hubBarrier {
	return &hubBarrier{
		ctx:      ctx,
		numRanks: numRanks,
		waitCh:   make(chan *envelope),
		notifyCh: make(chan *envelope),
	}
}

// WaitForRanks blocks until all ranks enter the barrier (or the context
// associated with the barrier expires) and returns back the envelopes sent
// by the ranks.
func (b *hubBarrier) WaitForRanks() ([]*envelope, error) {
	collected := make([]*envelope, b.numRanks)
	for i := 0; i < b.numRanks; i++ {
		select {
		case env := <-b.waitCh:
			collected[i] = env
		case <-b.ctx.Done():
			return nil, errGroupAborted
		}
	}

	return collected, nil
}

// NotifyRanks releases all ranks waiting on the barrier and hands each of
// them the provided envelope.
func (b *hubBarrier) NotifyRanks(env *envelope) error {
	for i := 0; i < b.numRanks; i++ {
		select {
		case b.notifyCh <- env:
		case <-b.ctx.Done():
			return errGroupAborted
		}
	}

	return nil
}

// Wait enters the barrier and blocks until NotifyRanks is invoked. The
// method returns back the envelope passed to NotifyRanks.
func (b *hubBarrier) Wait(env *envelope) (*envelope, error) {
	select {
	case b.waitCh <- env:
	case <-b.ctx.Done():
		return nil, errGroupAborted
	}

	select {
	case env = <-b.notifyCh:
		return env, nil
	case <-b.ctx.Done():
		return nil, errGroupAborted
	}
}
