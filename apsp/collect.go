package apsp

import (
	"context"
	"fmt"
	"io"

	"github.com/mpilab/distapsp/comm"
	"github.com/mpilab/distapsp/graph"
	"github.com/mpilab/distapsp/partition"
	"golang.org/x/xerrors"
)

// CollectAndPrint writes the rows of every rank to w in global row order.
// Ranks take turns by passing a token around the ring: rank 0 prints first
// and returns once the token comes back from the last rank.
func CollectAndPrint(ctx context.Context, c comm.Communicator, part *graph.Part, w io.Writer) error {
	rank, size := c.Rank(), c.Size()
	if rank != 0 {
		if _, err := c.Recv(ctx, rank-1, comm.TagToken); err != nil {
			return failCollect(c, xerrors.Errorf("wait for print token: %w", err))
		}
	}

	for row := part.FirstRow(); row < part.LastRow(); row++ {
		if err := graph.PrintRow(w, part.Row(row), row, part.NumVertices()); err != nil {
			return failCollect(c, xerrors.Errorf("print row %d: %w", row, err))
		}
	}

	if size == 1 {
		return nil
	}

	next := (rank + 1) % size
	if err := c.Send(ctx, next, comm.Message{Tag: comm.TagToken, Seq: int64(rank)}); err != nil {
		return failCollect(c, xerrors.Errorf("pass print token to rank %d: %w", next, err))
	}
	if rank == 0 {
		if _, err := c.Recv(ctx, size-1, comm.TagToken); err != nil {
			return failCollect(c, xerrors.Errorf("wait for print token: %w", err))
		}
	}
	return nil
}

// failCollect aborts the group so no rank keeps waiting for a token that will
// never arrive.
func failCollect(c comm.Communicator, err error) error {
	abortGroup(c, err)
	return err
}

// Gather assembles the full distance matrix on rank 0. Every other rank
// sends its rows to rank 0 and receives a nil matrix.
func Gather(ctx context.Context, c comm.Communicator, part *graph.Part) ([][]graph.Weight, error) {
	n := part.NumVertices()
	if c.Rank() != 0 {
		for row := part.FirstRow(); row < part.LastRow(); row++ {
			msg := comm.Message{Tag: comm.TagGather, Seq: int64(row), Data: part.Row(row)}
			if err := c.Send(ctx, 0, msg); err != nil {
				return nil, failCollect(c, xerrors.Errorf("send row %d: %w", row, err))
			}
		}
		return nil, nil
	}

	partRange, err := partition.NewRange(n, c.Size())
	if err != nil {
		return nil, err
	}

	matrix := make([][]graph.Weight, n)
	for src := 0; src < c.Size(); src++ {
		first, last, err := partRange.PartitionExtents(src)
		if err != nil {
			return nil, err
		}
		for row := first; row < last; row++ {
			if src == 0 {
				matrix[row] = append([]graph.Weight(nil), part.Row(row)...)
				continue
			}

			msg, err := c.Recv(ctx, src, comm.TagGather)
			if err != nil {
				return nil, failCollect(c, xerrors.Errorf("receive row %d: %w", row, err))
			} else if msg.Seq != int64(row) || len(msg.Data) != n {
				err = &comm.ProtocolError{
					Rank:   0,
					Peer:   src,
					Op:     "gather",
					Reason: fmt.Sprintf("expected row %d with %d values; got row %d with %d values", row, n, msg.Seq, len(msg.Data)),
				}
				return nil, failCollect(c, err)
			}
			matrix[row] = msg.Data
		}
	}
	return matrix, nil
}
