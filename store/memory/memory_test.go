package memory

import (
	"testing"

	"github.com/mpilab/distapsp/store/storetest"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(InMemoryStoreTestSuite))

func Test(t *testing.T) { gc.TestingT(t) }

type InMemoryStoreTestSuite struct {
	storetest.SuiteBase
}

func (s *InMemoryStoreTestSuite) SetUpTest(c *gc.C) {
	s.SetStore(NewInMemoryStore())
}
