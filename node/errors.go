package node

import (
	"golang.org/x/xerrors"
)

var (
	// ErrInvalidVertexCount is returned when the vertex count is missing
	// or not a positive integer.
	ErrInvalidVertexCount = xerrors.New("vertex count must be a positive integer")

	// ErrDistribution is the class of errors that occur while the graph is
	// distributed to the ranks.
	ErrDistribution = xerrors.New("graph distribution failed")

	// ErrComputation is the class of errors that occur while the engine
	// is running.
	ErrComputation = xerrors.New("shortest path computation failed")

	// ErrCollection is the class of errors that occur while the results
	// are printed.
	ErrCollection = xerrors.New("result collection failed")

	// ErrPersistence is the class of errors that occur while the results
	// are saved to the distance store.
	ErrPersistence = xerrors.New("result persistence failed")
)

// StageError associates an error with the class of the stage that produced
// it. Both the class and the underlying error can be matched with
// xerrors.Is.
type StageError struct {
	Class error
	Err   error
}

// Error implements error.
func (e *StageError) Error() string {
	return e.Class.Error() + ": " + e.Err.Error()
}

// Is reports whether target is the class of the error.
func (e *StageError) Is(target error) bool { return target == e.Class }

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.Err }

func stageError(class, err error) error {
	return &StageError{Class: class, Err: err}
}
