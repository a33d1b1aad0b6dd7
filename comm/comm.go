package comm

import (
	"context"
	"strconv"
)

//go:generate mockgen -package mocks -destination mocks/mocks_comm.go github.com/mpilab/distapsp/comm Communicator

// Tag identifies the protocol a point-to-point message belongs to.
type Tag int32

// The supported message tags.
const (
	TagInvalid Tag = iota
	TagRow
	TagToken
	TagGather
	tagBroadcast
)

var tagNames = map[Tag]string{
	TagInvalid:   "INVALID",
	TagRow:       "ROW",
	TagToken:     "TOKEN",
	TagGather:    "GATHER",
	tagBroadcast: "BROADCAST",
}

// String implements fmt.Stringer.
func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return "TAG(" + strconv.Itoa(int(t)) + ")"
}

// Message is a tagged payload exchanged between two ranks. Seq carries a
// protocol-specific sequence number (a row index, a round number etc.) that
// receivers use to detect out-of-order delivery.
type Message struct {
	Tag  Tag
	Seq  int64
	Data []int64
}

// Communicator is implemented by types that connect a rank to the other
// members of its process group. Every blocking method honours the provided
// context and returns an error wrapping ErrAborted once the group has been
// aborted.
type Communicator interface {
	// Rank returns the rank of the caller within the group.
	Rank() int

	// Size returns the number of ranks in the group.
	Size() int

	// Send delivers msg to rank dst. The payload is copied.
	Send(ctx context.Context, dst int, msg Message) error

	// Recv blocks until the next message from rank src arrives. An error
	// is returned if its tag does not match the expected one.
	Recv(ctx context.Context, src int, tag Tag) (Message, error)

	// Bcast copies buf from rank root into buf on every other rank. All
	// ranks must call Bcast with the same root and round.
	Bcast(ctx context.Context, root int, round int64, buf []int64) error

	// Barrier blocks until every rank in the group has entered it.
	Barrier(ctx context.Context) error

	// Abort tears down the whole group. Pending and future calls on every
	// rank fail with an error wrapping ErrAborted and cause.
	Abort(cause error)

	// Close releases the resources held by this rank.
	Close() error
}
