package main

import (
	"github.com/mpilab/distapsp/node"
	"github.com/mpilab/distapsp/partition"
	"golang.org/x/xerrors"
)

// errConfig marks errors caused by invalid flags.
var errConfig = xerrors.New("invalid configuration")

// Process exit codes.
const (
	exitSuccess = iota
	exitInvalidInput
	exitDistribution
	exitFailure
)

// exitCodeFor maps an error returned by a command to the process exit code.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case xerrors.Is(err, node.ErrInvalidVertexCount),
		xerrors.Is(err, partition.ErrTooManyPartitions),
		xerrors.Is(err, errConfig):
		return exitInvalidInput
	case xerrors.Is(err, node.ErrDistribution):
		return exitDistribution
	default:
		return exitFailure
	}
}
