package comm

import (
	"context"
	"sync"

	"golang.org/x/xerrors"
)

// Compile-time check for ensuring Endpoint implements Communicator.
var _ Communicator = (*Endpoint)(nil)

// Group is an in-process process group. Each member is represented by an
// Endpoint which must be driven by its own goroutine. Members share no
// state other than the message queues: payloads are copied on send.
type Group struct {
	signal    *AbortSignal
	barrier   *groupBarrier
	endpoints []*Endpoint
}

// NewGroup creates an in-process group with the specified number of ranks.
func NewGroup(size int) (*Group, error) {
	if size <= 0 {
		return nil, xerrors.Errorf("group size must be at least equal to 1")
	}

	g := &Group{
		signal:    NewAbortSignal(),
		barrier:   newGroupBarrier(size),
		endpoints: make([]*Endpoint, size),
	}
	for rank := 0; rank < size; rank++ {
		g.endpoints[rank] = &Endpoint{
			group:   g,
			rank:    rank,
			mailbox: NewMailbox(rank, size, g.signal),
		}
	}
	return g, nil
}

// Size returns the number of ranks in the group.
func (g *Group) Size() int { return len(g.endpoints) }

// Endpoint returns the communicator for the specified rank.
func (g *Group) Endpoint(rank int) *Endpoint { return g.endpoints[rank] }

// Abort tears down the group.
func (g *Group) Abort(cause error) { g.signal.Abort(cause) }

// Err returns the abort error or nil if the group has not been aborted.
func (g *Group) Err() error { return g.signal.Err() }

// Endpoint is the view of a single rank into an in-process Group.
type Endpoint struct {
	group   *Group
	rank    int
	mailbox *Mailbox

	mu     sync.Mutex
	closed bool
}

// Rank implements Communicator.
func (e *Endpoint) Rank() int { return e.rank }

// Size implements Communicator.
func (e *Endpoint) Size() int { return len(e.group.endpoints) }

// Send implements Communicator.
func (e *Endpoint) Send(ctx context.Context, dst int, msg Message) error {
	if err := e.ensureOpen(); err != nil {
		return err
	} else if dst < 0 || dst >= e.Size() {
		return xerrors.Errorf("send to rank %d: %w", dst, ErrInvalidRank)
	}

	msg.Data = append([]int64(nil), msg.Data...)
	return e.group.endpoints[dst].mailbox.DeliverPointToPoint(ctx, e.rank, msg)
}

// Recv implements Communicator.
func (e *Endpoint) Recv(ctx context.Context, src int, tag Tag) (Message, error) {
	if err := e.ensureOpen(); err != nil {
		return Message{}, err
	}
	return e.mailbox.Recv(ctx, src, tag)
}

// Bcast implements Communicator.
func (e *Endpoint) Bcast(ctx context.Context, root int, round int64, buf []int64) error {
	if err := e.ensureOpen(); err != nil {
		return err
	} else if root < 0 || root >= e.Size() {
		return xerrors.Errorf("broadcast from rank %d: %w", root, ErrInvalidRank)
	}

	if e.rank != root {
		return e.mailbox.RecvBroadcast(ctx, root, round, buf)
	}

	for dst, peer := range e.group.endpoints {
		if dst == root {
			continue
		}
		payload := append([]int64(nil), buf...)
		if err := peer.mailbox.DeliverBroadcast(ctx, root, round, payload); err != nil {
			return err
		}
	}
	return nil
}

// Barrier implements Communicator.
func (e *Endpoint) Barrier(ctx context.Context) error {
	if err := e.ensureOpen(); err != nil {
		return err
	}
	return e.group.barrier.Wait(ctx, e.group.signal)
}

// Abort implements Communicator.
func (e *Endpoint) Abort(cause error) { e.group.Abort(cause) }

// Close implements Communicator. Closing an endpoint does not affect the
// other members of the group.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *Endpoint) ensureOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

// groupBarrier is a reusable barrier for the members of an in-process group.
type groupBarrier struct {
	size int

	mu      sync.Mutex
	waiting int
	release chan struct{}
}

func newGroupBarrier(size int) *groupBarrier {
	return &groupBarrier{size: size, release: make(chan struct{})}
}

// Wait blocks until size callers have entered the barrier, the context
// expires or the group is aborted.
func (b *groupBarrier) Wait(ctx context.Context, signal *AbortSignal) error {
	if err := signal.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	releaseCh := b.release
	b.waiting++
	if b.waiting == b.size {
		close(b.release)
		b.waiting = 0
		b.release = make(chan struct{})
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
	case <-releaseCh:
		return nil
	case <-signal.Done():
		return signal.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
