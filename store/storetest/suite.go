package storetest

import (
	"github.com/mpilab/distapsp/graph"
	"github.com/mpilab/distapsp/store"
	"golang.org/x/xerrors"
	gc "gopkg.in/check.v1"
)

// SuiteBase defines a re-usable set of distance store tests that can be
// executed against any type that implements store.DistanceStore.
type SuiteBase struct {
	s store.DistanceStore
}

// SetStore configures the test-suite to run all tests against s.
func (s *SuiteBase) SetStore(ds store.DistanceStore) {
	s.s = ds
}

// TestSaveAndLookup verifies that persisted rows can be looked up by pair.
func (s *SuiteBase) TestSaveAndLookup(c *gc.C) {
	rows := [][]graph.Weight{
		{3, 0, 1},
		{4, 1, 0},
	}
	c.Assert(s.s.SaveRows("job-1", 1, rows), gc.IsNil)

	for i, row := range rows {
		for to, exp := range row {
			got, err := s.s.Distance("job-1", 1+i, to)
			c.Assert(err, gc.IsNil)
			c.Assert(got, gc.Equals, exp, gc.Commentf("distance %d -> %d", 1+i, to))
		}
	}
}

// TestLookupMissingPair verifies that looking up unknown pairs yields
// ErrNotFound.
func (s *SuiteBase) TestLookupMissingPair(c *gc.C) {
	c.Assert(s.s.SaveRows("job-1", 0, [][]graph.Weight{{0, 7}}), gc.IsNil)

	_, err := s.s.Distance("job-1", 1, 0)
	c.Assert(xerrors.Is(err, store.ErrNotFound), gc.Equals, true)

	_, err = s.s.Distance("job-1", 0, 2)
	c.Assert(xerrors.Is(err, store.ErrNotFound), gc.Equals, true)

	_, err = s.s.Distance("job-2", 0, 1)
	c.Assert(xerrors.Is(err, store.ErrNotFound), gc.Equals, true)
}

// TestOverwriteRows verifies that saving a row twice keeps the latest values.
func (s *SuiteBase) TestOverwriteRows(c *gc.C) {
	c.Assert(s.s.SaveRows("job-1", 0, [][]graph.Weight{{0, 9}}), gc.IsNil)
	c.Assert(s.s.SaveRows("job-1", 0, [][]graph.Weight{{0, 2}}), gc.IsNil)

	got, err := s.s.Distance("job-1", 0, 1)
	c.Assert(err, gc.IsNil)
	c.Assert(got, gc.Equals, graph.Weight(2))
}

// TestUnreachablePairs verifies that the Infinity sentinel survives a round
// trip through the store.
func (s *SuiteBase) TestUnreachablePairs(c *gc.C) {
	c.Assert(s.s.SaveRows("job-1", 0, [][]graph.Weight{{0, graph.Infinity}}), gc.IsNil)

	got, err := s.s.Distance("job-1", 0, 1)
	c.Assert(err, gc.IsNil)
	c.Assert(got, gc.Equals, graph.Infinity)
}

// TestJobIsolation verifies that rows of different jobs do not interfere.
func (s *SuiteBase) TestJobIsolation(c *gc.C) {
	c.Assert(s.s.SaveRows("job-1", 0, [][]graph.Weight{{0, 1}}), gc.IsNil)
	c.Assert(s.s.SaveRows("job-2", 0, [][]graph.Weight{{0, 5}}), gc.IsNil)

	got, err := s.s.Distance("job-1", 0, 1)
	c.Assert(err, gc.IsNil)
	c.Assert(got, gc.Equals, graph.Weight(1))

	got, err = s.s.Distance("job-2", 0, 1)
	c.Assert(err, gc.IsNil)
	c.Assert(got, gc.Equals, graph.Weight(5))
}

// TestInvalidRows verifies that malformed row batches are rejected.
func (s *SuiteBase) TestInvalidRows(c *gc.C) {
	err := s.s.SaveRows("job-1", -1, [][]graph.Weight{{0}})
	c.Assert(xerrors.Is(err, store.ErrInvalidRow), gc.Equals, true)

	err = s.s.SaveRows("job-1", 0, [][]graph.Weight{{0, 1}, {0}})
	c.Assert(xerrors.Is(err, store.ErrInvalidRow), gc.Equals, true)
}
