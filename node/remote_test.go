package node_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mpilab/distapsp/apsp"
	"github.com/mpilab/distapsp/comm/remote"
	"github.com/mpilab/distapsp/node"
	"github.com/mpilab/distapsp/store"
	"github.com/mpilab/distapsp/store/memory"
	gc "gopkg.in/check.v1"
)

func (s *NodeTestSuite) TestRunOverRemoteHub(c *gc.C) {
	n := 8
	st := memory.NewInMemoryStore()
	details, _ := s.runRemoteGroup(c, remote.HubConfig{
		GroupSize:   3,
		NumVertices: n,
		Seed:        77,
		RandomGraph: true,
	}, st)

	matrix, err := apsp.BuildMatrix(node.InitializerFor(true, 77), n)
	c.Assert(err, gc.IsNil)
	exp := apsp.FloydWarshall(matrix)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			got, err := st.Distance(details.JobID, i, j)
			c.Assert(err, gc.IsNil)
			c.Assert(got, gc.Equals, exp[i][j], gc.Commentf("distance %d -> %d", i, j))
		}
	}
}

func (s *NodeTestSuite) TestRemoteGroupPrintsWhenHubRequestsIt(c *gc.C) {
	// Ranks do not pick the print setting themselves; every member takes
	// part in the print collectives because the hub announces it.
	details, outputs := s.runRemoteGroup(c, remote.HubConfig{
		GroupSize:   2,
		NumVertices: 4,
		ShowResults: true,
	}, nil)
	c.Assert(details.ShowResults, gc.Equals, true)

	expRank0 := strings.Join([]string{
		"Initial graph:",
		"0 1 inf inf",
		"1 0 1 inf",
		"Shortest paths:",
		"0 1 2 3",
		"1 0 1 2",
		"",
	}, "\n")
	expRank1 := strings.Join([]string{
		"inf 1 0 1",
		"inf inf 1 0",
		"2 1 0 1",
		"3 2 1 0",
		"",
	}, "\n")
	c.Assert(outputs, gc.DeepEquals, []string{expRank0, expRank1})
}

func (s *NodeTestSuite) TestRemoteGroupWithoutPrinting(c *gc.C) {
	details, outputs := s.runRemoteGroup(c, remote.HubConfig{
		GroupSize:   2,
		NumVertices: 4,
	}, nil)
	c.Assert(details.ShowResults, gc.Equals, false)
	c.Assert(outputs, gc.DeepEquals, []string{"", ""})
}

// runRemoteGroup starts a hub with the given config, connects GroupSize
// ranks to it and runs the pipeline on each of them with the parameters
// announced by the hub. It returns the group details and the output
// written by each rank, indexed by rank.
func (s *NodeTestSuite) runRemoteGroup(c *gc.C, hubCfg remote.HubConfig, st store.DistanceStore) (remote.GroupDetails, []string) {
	hubCfg.ListenAddress = "127.0.0.1:0"
	hubCfg.Logger = s.logger.WithField("hub", true)
	hub, err := remote.NewHub(hubCfg)
	c.Assert(err, gc.IsNil)
	c.Assert(hub.Start(), gc.IsNil)
	defer func() { c.Assert(hub.Close(), gc.IsNil) }()

	ctx, cancelFn := context.WithTimeout(context.TODO(), 30*time.Second)
	defer cancelFn()

	numRanks := hubCfg.GroupSize
	outputs := make([]bytes.Buffer, numRanks)
	errs := make([]error, numRanks)
	var wg sync.WaitGroup
	wg.Add(numRanks)
	for i := 0; i < numRanks; i++ {
		go func(i int) {
			defer wg.Done()
			r, err := remote.Dial(ctx, remote.RankConfig{
				HubEndpoint: hub.Addr(),
				DialTimeout: 10 * time.Second,
				Logger:      s.logger.WithField("conn", i),
			})
			if err != nil {
				errs[i] = err
				return
			}

			details := r.Details()
			cfg := node.Config{
				NumVertices: details.NumVertices,
				Initializer: node.InitializerFor(details.RandomGraph, details.Seed),
				ShowResults: details.ShowResults,
				Output:      &outputs[r.Rank()],
				Logger:      s.logger,
			}
			if st != nil {
				cfg.Store, cfg.JobID = st, details.JobID
			}
			if _, err = node.Run(ctx, r, cfg); err != nil {
				r.Abort(err)
			}
			if closeErr := r.Close(); err == nil {
				err = closeErr
			}
			errs[i] = err
		}(i)
	}

	details, err := hub.RunGroup(ctx, 10*time.Second)
	c.Assert(err, gc.IsNil)
	wg.Wait()
	for i, err := range errs {
		c.Assert(err, gc.IsNil, gc.Commentf("connection %d", i))
	}

	res := make([]string, numRanks)
	for r := range outputs {
		res[r] = outputs[r].String()
	}
	return details, res
}
