package remote

import (
	"context"
	"io"
	"time"

	"github.com/golang/protobuf/ptypes/any"
	"google.golang.org/grpc"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(RankPoolTestSuite))

type RankPoolTestSuite struct {
	pool *rankPool
}

func (s *RankPoolTestSuite) SetUpTest(c *gc.C) {
	s.pool = newRankPool()
}

func (s *RankPoolTestSuite) TearDownTest(c *gc.C) {
	c.Assert(s.pool.Close(), gc.IsNil)
}

func (s *RankPoolTestSuite) TestDetectRankDisconnect(c *gc.C) {
	ctx, cancelFn := context.WithCancel(context.TODO())
	s.pool.AddRank(newRankConn(&fakeServerStream{ctx: ctx}))
	c.Assert(s.pool.Len(), gc.Equals, 1)

	// Drop the connection and wait for it to be removed from the pool
	cancelFn()
	s.pool.watchers.Wait()
	c.Assert(s.pool.Len(), gc.Equals, 0)

	s.pool.mu.Lock()
	c.Assert(s.pool.queue, gc.HasLen, 0)
	s.pool.mu.Unlock()
}

func (s *RankPoolTestSuite) TestReserveRanksBlocksUntilRanksAppear(c *gc.C) {
	go func() {
		// Add first rank
		s.pool.AddRank(newRankConn(&fakeServerStream{ctx: context.TODO()}))

		// Add second rank; this should trigger a re-check and unblock
		// the pool main loop
		s.pool.AddRank(newRankConn(&fakeServerStream{ctx: context.TODO()}))
	}()

	ranks, err := s.pool.ReserveRanks(context.TODO(), 2)
	c.Assert(err, gc.IsNil)
	c.Assert(ranks, gc.HasLen, 2)
}

func (s *RankPoolTestSuite) TestReserveRanksInJoinOrder(c *gc.C) {
	var streams []*rankConn
	for i := 0; i < 5; i++ {
		rs := newRankConn(&fakeServerStream{ctx: context.TODO()})
		streams = append(streams, rs)
		s.pool.AddRank(rs)
	}

	ranks, err := s.pool.ReserveRanks(context.TODO(), 3)
	c.Assert(err, gc.IsNil)
	c.Assert(ranks, gc.HasLen, 3)
	for i, rs := range ranks {
		c.Assert(rs, gc.Equals, streams[i], gc.Commentf("rank %d was not assigned in join order", i))
	}
	c.Assert(s.pool.Len(), gc.Equals, 2)

	ranks, err = s.pool.ReserveRanks(context.TODO(), 2)
	c.Assert(err, gc.IsNil)
	c.Assert(ranks[0], gc.Equals, streams[3])
	c.Assert(ranks[1], gc.Equals, streams[4])
}

func (s *RankPoolTestSuite) TestReserveAbortWhenPoolCloses(c *gc.C) {
	c.Assert(s.pool.Close(), gc.IsNil)

	rank := newRankConn(&fakeServerStream{ctx: context.TODO()})
	s.pool.AddRank(rank)

	_, err := s.pool.ReserveRanks(context.TODO(), 2)
	c.Assert(err, gc.Equals, errHubShuttingDown)

	select {
	case err := <-rank.closeCh:
		c.Assert(err, gc.Equals, errHubShuttingDown)
	case <-time.After(10 * time.Second):
		c.Fatal("timeout waiting for the pool to close the queued connection")
	}
}

func (s *RankPoolTestSuite) TestReserveAbortWhenContextExpires(c *gc.C) {
	ctx, cancelFn := context.WithTimeout(context.TODO(), time.Millisecond)
	defer cancelFn()
	_, err := s.pool.ReserveRanks(ctx, 2)
	c.Assert(err, gc.Equals, context.DeadlineExceeded)
}

// fakeServerStream is a relayConnectServer whose only working method is
// Context.
type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *fakeServerStream) Context() context.Context { return s.ctx }
func (s *fakeServerStream) Send(*any.Any) error { return io.ErrClosedPipe }
func (s *fakeServerStream) Recv() (*any.Any, error) {
	<-s.ctx.Done()
	return nil, io.EOF
}
