package main

import (
	"flag"
	"testing"

	"github.com/mpilab/distapsp/node"
	"github.com/mpilab/distapsp/partition"
	"github.com/urfave/cli"
	"golang.org/x/xerrors"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(MainTestSuite))

func Test(t *testing.T) { gc.TestingT(t) }

type MainTestSuite struct{}

func (s *MainTestSuite) TestExitCodes(c *gc.C) {
	specs := []struct {
		descr string
		err   error
		exp   int
	}{
		{descr: "success", exp: exitSuccess},
		{descr: "invalid vertex count", err: xerrors.Errorf("node config validation failed: %w", node.ErrInvalidVertexCount), exp: exitInvalidInput},
		{descr: "too many ranks", err: partition.ErrTooManyPartitions, exp: exitInvalidInput},
		{descr: "bad flags", err: xerrors.Errorf("listen address not specified: %w", errConfig), exp: exitInvalidInput},
		{descr: "distribution failure", err: &node.StageError{Class: node.ErrDistribution, Err: xerrors.New("boom")}, exp: exitDistribution},
		{descr: "computation failure", err: &node.StageError{Class: node.ErrComputation, Err: xerrors.New("boom")}, exp: exitFailure},
		{descr: "other", err: xerrors.New("lost connection to hub"), exp: exitFailure},
	}

	for specIndex, spec := range specs {
		c.Logf("[spec %d] %s", specIndex, spec.descr)
		c.Assert(exitCodeFor(spec.err), gc.Equals, spec.exp)
	}
}

func (s *MainTestSuite) TestVertexCount(c *gc.C) {
	specs := []struct {
		descr  string
		args   []string
		exp    int
		expErr bool
	}{
		{descr: "flag", args: []string{"--vertices", "12"}, exp: 12},
		{descr: "positional", args: []string{"7"}, exp: 7},
		{descr: "flag wins over positional", args: []string{"--vertices", "3", "9"}, exp: 3},
		{descr: "missing", args: nil, expErr: true},
		{descr: "zero flag", args: []string{"--vertices", "0"}, expErr: true},
		{descr: "negative positional", args: []string{"-5"}, expErr: true},
		{descr: "not a number", args: []string{"ten"}, expErr: true},
	}

	for specIndex, spec := range specs {
		c.Logf("[spec %d] %s", specIndex, spec.descr)
		appCtx := parseGraphFlags(c, spec.args)

		n, err := vertexCount(appCtx)
		if spec.expErr {
			c.Assert(xerrors.Is(err, node.ErrInvalidVertexCount), gc.Equals, true, gc.Commentf("got %v", err))
			c.Assert(exitCodeFor(err), gc.Equals, exitInvalidInput)
			continue
		}
		c.Assert(err, gc.IsNil)
		c.Assert(n, gc.Equals, spec.exp)
	}
}

func (s *MainTestSuite) TestCommands(c *gc.C) {
	app := makeApp()
	var names []string
	for _, cmd := range app.Commands {
		names = append(names, cmd.Name)
	}
	c.Assert(names, gc.DeepEquals, []string{"local", "hub", "rank"})
}

func (s *MainTestSuite) TestProcessCount(c *gc.C) {
	processesFlag := cli.IntFlag{Name: "processes", Value: 1}
	specs := []struct {
		descr  string
		args   []string
		exp    int
		expErr bool
	}{
		{descr: "default", exp: 1},
		{descr: "explicit", args: []string{"--processes", "4"}, exp: 4},
		{descr: "zero", args: []string{"--processes", "0"}, expErr: true},
		{descr: "negative", args: []string{"--processes", "-2"}, expErr: true},
	}

	for specIndex, spec := range specs {
		c.Logf("[spec %d] %s", specIndex, spec.descr)
		appCtx := parseFlags(c, []cli.Flag{processesFlag}, spec.args)

		p, err := processCount(appCtx)
		if spec.expErr {
			c.Assert(err, gc.ErrorMatches, "process count must be at least 1.*")
			c.Assert(exitCodeFor(err), gc.Equals, exitInvalidInput)
			continue
		}
		c.Assert(err, gc.IsNil)
		c.Assert(p, gc.Equals, spec.exp)
	}
}

func (s *MainTestSuite) TestShowResultsIsDecidedByTheHub(c *gc.C) {
	flagNames := func(cmd cli.Command) map[string]bool {
		names := make(map[string]bool)
		for _, f := range cmd.Flags {
			names[f.GetName()] = true
		}
		return names
	}

	for _, cmd := range makeApp().Commands {
		c.Logf("command %s", cmd.Name)
		c.Assert(flagNames(cmd)["show-results"], gc.Equals, cmd.Name != "rank")
	}
}

func parseGraphFlags(c *gc.C, args []string) *cli.Context {
	// Positional arguments such as "-5" must not be parsed as flags.
	if len(args) > 0 && args[0] != "--vertices" {
		args = append([]string{"--"}, args...)
	}
	return parseFlags(c, graphFlags(), args)
}

func parseFlags(c *gc.C, flags []cli.Flag, args []string) *cli.Context {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range flags {
		f.Apply(set)
	}
	c.Assert(set.Parse(args), gc.IsNil)
	return cli.NewContext(cli.NewApp(), set, nil)
}
