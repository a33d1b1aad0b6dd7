package comm

import (
	"fmt"
	"sync"

	"golang.org/x/xerrors"
)

var (
	// ErrAborted is returned by communicator operations after the group
	// has been aborted.
	ErrAborted = xerrors.New("process group was aborted")

	// ErrClosed is returned by operations on a closed communicator.
	ErrClosed = xerrors.New("communicator is closed")

	// ErrInvalidRank is returned when a peer rank is outside the group.
	ErrInvalidRank = xerrors.New("invalid rank")
)

// AbortError describes why a process group was aborted. It matches
// ErrAborted when inspected with xerrors.Is.
type AbortError struct {
	Cause error
}

// Error implements error.
func (e *AbortError) Error() string {
	if e.Cause == nil {
		return ErrAborted.Error()
	}
	return fmt.Sprintf("%s: %s", ErrAborted.Error(), e.Cause.Error())
}

// Is allows xerrors.Is(err, ErrAborted) to succeed.
func (e *AbortError) Is(target error) bool { return target == ErrAborted }

// Unwrap returns the abort cause.
func (e *AbortError) Unwrap() error { return e.Cause }

// ProtocolError is returned when a rank observes a message that violates the
// lock-step protocol, e.g. a broadcast for the wrong round or a payload of
// the wrong length.
type ProtocolError struct {
	Rank   int
	Peer   int
	Op     string
	Reason string
}

// Error implements error.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation: rank %d, %s with rank %d: %s", e.Rank, e.Op, e.Peer, e.Reason)
}

// AbortSignal is a one-shot group abort notification.
type AbortSignal struct {
	once  sync.Once
	done  chan struct{}
	mu    sync.Mutex
	cause error
}

// NewAbortSignal creates a new AbortSignal.
func NewAbortSignal() *AbortSignal {
	return &AbortSignal{done: make(chan struct{})}
}

// Abort fires the signal. Only the first cause is retained.
func (s *AbortSignal) Abort(cause error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.cause = cause
		s.mu.Unlock()
		close(s.done)
	})
}

// Done returns a channel that is closed when the signal fires.
func (s *AbortSignal) Done() <-chan struct{} { return s.done }

// Err returns nil if the signal has not fired or an *AbortError otherwise.
func (s *AbortSignal) Err() error {
	select {
	case <-s.done:
	default:
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &AbortError{Cause: s.cause}
}
