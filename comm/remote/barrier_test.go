package remote

import (
	"context"
	"sync"

	"golang.org/x/xerrors"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(HubBarrierTestSuite))

type HubBarrierTestSuite struct {
}

func (s *HubBarrierTestSuite) TestWaitForRanks(c *gc.C) {
	var (
		wg sync.WaitGroup
		b  = newHubBarrier(context.TODO(), 2)
	)
	wg.Add(2)

	for i := 0; i < 2; i++ {
		go func(i int) {
			defer wg.Done()
			release, err := b.Wait(&envelope{Kind: kindBarrier, Src: i, Seq: 7})
			c.Assert(err, gc.IsNil)
			c.Assert(release.Seq, gc.Equals, int64(7))
		}(i)
	}

	envs, err := b.WaitForRanks()
	c.Assert(err, gc.IsNil)
	c.Assert(envs, gc.HasLen, 2, gc.Commentf("expected to collect envelopes from two ranks"))

	var srcSum int
	for _, env := range envs {
		c.Assert(env.Seq, gc.Equals, int64(7))
		srcSum += env.Src
	}
	c.Assert(srcSum, gc.Equals, 1)

	// Unblock ranks
	err = b.NotifyRanks(&envelope{Kind: kindBarrier, Seq: 7})
	c.Assert(err, gc.IsNil)

	wg.Wait()
}

func (s *HubBarrierTestSuite) TestContextCancelledWhileRankEnteringBarrier(c *gc.C) {
	ctx, cancelFn := context.WithCancel(context.TODO())
	cancelFn()

	b := newHubBarrier(ctx, 1)
	_, err := b.Wait(&envelope{Kind: kindBarrier})
	c.Assert(xerrors.Is(err, errGroupAborted), gc.Equals, true)
}

func (s *HubBarrierTestSuite) TestContextCancelledWhileRankExitingBarrier(c *gc.C) {
	ctx, cancelFn := context.WithCancel(context.TODO())
	b := newHubBarrier(ctx, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := b.Wait(&envelope{Kind: kindBarrier})
		c.Assert(xerrors.Is(err, errGroupAborted), gc.Equals, true)
	}()

	// Wait for rank to enter and then cancel the context
	_, err := b.WaitForRanks()
	c.Assert(err, gc.IsNil)
	cancelFn()

	// Wait for rank go-routine to exit
	wg.Wait()
}

func (s *HubBarrierTestSuite) TestContextCancelledWhileWaitingForRanks(c *gc.C) {
	ctx, cancelFn := context.WithCancel(context.TODO())
	cancelFn()

	b := newHubBarrier(ctx, 1)

	_, err := b.WaitForRanks()
	c.Assert(xerrors.Is(err, errGroupAborted), gc.Equals, true)
}

func (s *HubBarrierTestSuite) TestContextCancelledWhileNotifyingRanks(c *gc.C) {
	ctx, cancelFn := context.WithCancel(context.TODO())
	cancelFn()

	b := newHubBarrier(ctx, 1)

	err := b.NotifyRanks(&envelope{Kind: kindBarrier})
	c.Assert(xerrors.Is(err, errGroupAborted), gc.Equals, true)
}
