package comm

import (
	"context"
	"fmt"

	"golang.org/x/xerrors"
)

// mailboxDepth is the number of in-flight messages buffered per peer.
const mailboxDepth = 16

// Mailbox buffers the inbound messages of a single rank. Point-to-point and
// broadcast messages are queued per source rank so that messages from the
// same peer are always received in the order they were sent.
type Mailbox struct {
	rank   int
	p2p    []chan Message
	bcast  []chan Message
	signal *AbortSignal
}

// NewMailbox creates a mailbox for the given rank in a group of size ranks
// which stops blocking as soon as signal fires.
func NewMailbox(rank, size int, signal *AbortSignal) *Mailbox {
	mb := &Mailbox{
		rank:   rank,
		p2p:    make([]chan Message, size),
		bcast:  make([]chan Message, size),
		signal: signal,
	}
	for i := 0; i < size; i++ {
		mb.p2p[i] = make(chan Message, mailboxDepth)
		mb.bcast[i] = make(chan Message, mailboxDepth)
	}
	return mb
}

// DeliverPointToPoint enqueues a point-to-point message from src.
func (mb *Mailbox) DeliverPointToPoint(ctx context.Context, src int, msg Message) error {
	if src < 0 || src >= len(mb.p2p) {
		return xerrors.Errorf("deliver from rank %d: %w", src, ErrInvalidRank)
	}
	return mb.deliver(ctx, mb.p2p[src], msg)
}

// DeliverBroadcast enqueues a broadcast message originating at root.
func (mb *Mailbox) DeliverBroadcast(ctx context.Context, root int, round int64, data []int64) error {
	if root < 0 || root >= len(mb.bcast) {
		return xerrors.Errorf("deliver broadcast from rank %d: %w", root, ErrInvalidRank)
	}
	return mb.deliver(ctx, mb.bcast[root], Message{Tag: tagBroadcast, Seq: round, Data: data})
}

func (mb *Mailbox) deliver(ctx context.Context, ch chan<- Message, msg Message) error {
	if err := mb.signal.Err(); err != nil {
		return err
	}
	select {
	case ch <- msg:
		return nil
	case <-mb.signal.Done():
		return mb.signal.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv dequeues the next point-to-point message from src and checks that it
// carries the expected tag.
func (mb *Mailbox) Recv(ctx context.Context, src int, tag Tag) (Message, error) {
	if src < 0 || src >= len(mb.p2p) {
		return Message{}, xerrors.Errorf("recv from rank %d: %w", src, ErrInvalidRank)
	}

	msg, err := mb.take(ctx, mb.p2p[src])
	if err != nil {
		return Message{}, err
	}
	if msg.Tag != tag {
		return Message{}, &ProtocolError{
			Rank:   mb.rank,
			Peer:   src,
			Op:     "recv",
			Reason: fmt.Sprintf("expected a %s message; got %s", tag, msg.Tag),
		}
	}
	return msg, nil
}

// RecvBroadcast dequeues the next broadcast from root and copies its payload
// into buf after verifying the round number and the payload length.
func (mb *Mailbox) RecvBroadcast(ctx context.Context, root int, round int64, buf []int64) error {
	if root < 0 || root >= len(mb.bcast) {
		return xerrors.Errorf("broadcast from rank %d: %w", root, ErrInvalidRank)
	}

	msg, err := mb.take(ctx, mb.bcast[root])
	if err != nil {
		return err
	}
	if msg.Seq != round {
		return &ProtocolError{
			Rank:   mb.rank,
			Peer:   root,
			Op:     "broadcast",
			Reason: fmt.Sprintf("expected round %d; got round %d", round, msg.Seq),
		}
	} else if len(msg.Data) != len(buf) {
		return &ProtocolError{
			Rank:   mb.rank,
			Peer:   root,
			Op:     "broadcast",
			Reason: fmt.Sprintf("expected %d values; got %d", len(buf), len(msg.Data)),
		}
	}
	copy(buf, msg.Data)
	return nil
}

func (mb *Mailbox) take(ctx context.Context, ch <-chan Message) (Message, error) {
	// Messages that were already queued before an abort are discarded.
	if err := mb.signal.Err(); err != nil {
		return Message{}, err
	}
	select {
	case msg := <-ch:
		return msg, nil
	case <-mb.signal.Done():
		return Message{}, mb.signal.Err()
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}
