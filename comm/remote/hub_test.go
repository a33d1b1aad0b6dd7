package remote_test

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/mpilab/distapsp/comm"
	"github.com/mpilab/distapsp/comm/remote"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(HubTestSuite))

type HubTestSuite struct {
	logger    *logrus.Entry
	logOutput bytes.Buffer
}

func (s *HubTestSuite) SetUpTest(c *gc.C) {
	s.logOutput.Reset()
	rootLogger := logrus.New()
	rootLogger.Level = logrus.DebugLevel
	rootLogger.Out = &s.logOutput

	s.logger = logrus.NewEntry(rootLogger)
}

func (s *HubTestSuite) TearDownTest(c *gc.C) {
	c.Log(s.logOutput.String())
}

func (s *HubTestSuite) TestConfigValidation(c *gc.C) {
	_, err := remote.NewHub(remote.HubConfig{GroupSize: 5, NumVertices: 3})
	c.Assert(err, gc.ErrorMatches, `(?ms).*listen address not specified.*group size 5 exceeds vertex count 3.*`)

	_, err = remote.Dial(context.TODO(), remote.RankConfig{DialTimeout: -time.Second})
	c.Assert(err, gc.ErrorMatches, `(?ms).*hub endpoint not specified.*dial timeout must not be negative.*`)
}

func (s *HubTestSuite) TestRingExchangeAndBroadcast(c *gc.C) {
	numRanks := 4
	hub := s.startHub(c, numRanks)
	defer func() { c.Assert(hub.Close(), gc.IsNil) }()

	ctx, cancelFn := context.WithTimeout(context.TODO(), 30*time.Second)
	defer cancelFn()

	var wg sync.WaitGroup
	wg.Add(numRanks)
	jobIDs := make([]string, numRanks)
	for i := 0; i < numRanks; i++ {
		go func(i int) {
			defer wg.Done()
			r, err := remote.Dial(ctx, remote.RankConfig{
				HubEndpoint: hub.Addr(),
				DialTimeout: 10 * time.Second,
				Logger:      s.logger.WithField("conn", i),
			})
			c.Assert(err, gc.IsNil)
			c.Assert(r.Size(), gc.Equals, numRanks)
			c.Assert(r.Details().NumVertices, gc.Equals, 8)
			c.Assert(r.Details().Seed, gc.Equals, int64(1234))
			c.Assert(r.Details().RandomGraph, gc.Equals, false)
			c.Assert(r.Details().ShowResults, gc.Equals, false)
			jobIDs[r.Rank()] = r.Details().JobID

			me, size := r.Rank(), r.Size()
			next, prev := (me+1)%size, (me+size-1)%size
			c.Assert(r.Send(ctx, next, comm.Message{Tag: comm.TagToken, Seq: int64(me), Data: []int64{int64(me * 10)}}), gc.IsNil)
			msg, err := r.Recv(ctx, prev, comm.TagToken)
			c.Assert(err, gc.IsNil)
			c.Assert(msg.Seq, gc.Equals, int64(prev))
			c.Assert(msg.Data, gc.DeepEquals, []int64{int64(prev * 10)})

			for round := int64(0); round < int64(size); round++ {
				buf := make([]int64, 3)
				if int(round) == me {
					buf = []int64{round, round + 1, round + 2}
				}
				c.Assert(r.Bcast(ctx, int(round), round, buf), gc.IsNil)
				c.Assert(buf, gc.DeepEquals, []int64{round, round + 1, round + 2})
			}

			c.Assert(r.Barrier(ctx), gc.IsNil)
			c.Assert(r.Barrier(ctx), gc.IsNil)
			c.Assert(r.Close(), gc.IsNil)

			err = r.Send(ctx, next, comm.Message{Tag: comm.TagToken})
			c.Assert(xerrors.Is(err, comm.ErrClosed), gc.Equals, true)
		}(i)
	}

	details, err := hub.RunGroup(ctx, 10*time.Second)
	c.Assert(err, gc.IsNil)
	wg.Wait()

	for rank, jobID := range jobIDs {
		c.Assert(jobID, gc.Equals, details.JobID, gc.Commentf("rank %d reported a different job", rank))
	}
}

func (s *HubTestSuite) TestRankAbortTearsDownGroup(c *gc.C) {
	numRanks := 3
	hub := s.startHub(c, numRanks)
	defer func() { c.Assert(hub.Close(), gc.IsNil) }()

	ctx, cancelFn := context.WithTimeout(context.TODO(), 30*time.Second)
	defer cancelFn()

	var wg sync.WaitGroup
	wg.Add(numRanks)
	for i := 0; i < numRanks; i++ {
		go func(i int) {
			defer wg.Done()
			r, err := remote.Dial(ctx, remote.RankConfig{
				HubEndpoint: hub.Addr(),
				Logger:      s.logger.WithField("conn", i),
			})
			c.Assert(err, gc.IsNil)
			defer func() { _ = r.Close() }()

			if r.Rank() == 1 {
				r.Abort(xerrors.Errorf("out of memory"))
			}

			// Every rank must observe the abort instead of blocking
			// on a receive that will never complete.
			_, err = r.Recv(ctx, (r.Rank()+1)%r.Size(), comm.TagRow)
			c.Assert(xerrors.Is(err, comm.ErrAborted), gc.Equals, true, gc.Commentf("rank %d got %v", r.Rank(), err))
		}(i)
	}

	_, err := hub.RunGroup(ctx, 10*time.Second)
	c.Assert(err, gc.ErrorMatches, `rank 1 aborted the group: out of memory`)
	wg.Wait()
}

func (s *HubTestSuite) TestRunGroupWithoutEnoughRanks(c *gc.C) {
	hub := s.startHub(c, 2)
	defer func() { c.Assert(hub.Close(), gc.IsNil) }()

	_, err := hub.RunGroup(context.TODO(), 50*time.Millisecond)
	c.Assert(err, gc.Equals, remote.ErrUnableToReserveRanks)
}

func (s *HubTestSuite) startHub(c *gc.C, groupSize int) *remote.Hub {
	hub, err := remote.NewHub(remote.HubConfig{
		ListenAddress: "127.0.0.1:0",
		GroupSize:     groupSize,
		NumVertices:   8,
		Seed:          1234,
		Logger:        s.logger.WithField("hub", true),
	})
	c.Assert(err, gc.IsNil)
	c.Assert(hub.Start(), gc.IsNil)
	return hub
}
