// Package apsp implements the distributed all-pairs shortest path protocol:
// the one-time row distribution, the broadcast/relax engine and the
// collection helpers that run after it.
package apsp

import (
	"context"
	"fmt"
	"io/ioutil"

	"github.com/hashicorp/go-multierror"
	"github.com/mpilab/distapsp/comm"
	"github.com/mpilab/distapsp/graph"
	"github.com/mpilab/distapsp/metrics"
	"github.com/mpilab/distapsp/partition"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// DistributeConfig encapsulates the configuration options for Distribute.
type DistributeConfig struct {
	// The number of graph vertices.
	NumVertices int

	// The initializer used by rank 0 to generate the graph rows. It is
	// ignored on every other rank.
	Initializer graph.RowInitializer

	// A logger instance to use. If not specified, a null logger will be
	// used instead.
	Logger *logrus.Entry
}

// Validate the config options.
func (cfg *DistributeConfig) Validate() error {
	var err error
	if cfg.NumVertices <= 0 {
		err = multierror.Append(err, xerrors.Errorf("vertex count must be at least equal to 1"))
	}
	if cfg.Initializer == nil {
		err = multierror.Append(err, xerrors.Errorf("row initializer not specified"))
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return err
}

// Distribute allocates the graph part owned by the calling rank and fills it
// with the initial edge weights. Rank 0 generates every row, keeps its own
// rows and sends the rows of every other rank one message per row, in
// ascending row order. All other ranks receive exactly their row count in
// the same order.
//
// Configuration errors are reported before any communication takes place;
// since every rank validates identical inputs, they all fail together. Any
// later failure aborts the whole group.
func Distribute(ctx context.Context, c comm.Communicator, cfg DistributeConfig) (*graph.Part, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("distribute config validation failed: %w", err)
	}

	partRange, err := partition.NewRange(cfg.NumVertices, c.Size())
	if err != nil {
		return nil, err
	}
	firstRow, lastRow, err := partRange.PartitionExtents(c.Rank())
	if err != nil {
		return nil, err
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "apsp.distribute")
	span.SetTag("rank", c.Rank())
	span.SetTag("num_rows", lastRow-firstRow)
	defer span.Finish()

	part, err := graph.AllocatePart(cfg.NumVertices, firstRow, lastRow)
	if err != nil {
		err = xerrors.Errorf("rank %d: %w", c.Rank(), err)
		c.Abort(err)
		return nil, err
	}

	if c.Rank() == 0 {
		err = sendRows(ctx, c, partRange, part, cfg.Initializer)
	} else {
		err = recvRows(ctx, c, part)
	}
	if err != nil {
		part.Release()
		abortGroup(c, err)
		ext.Error.Set(span, true)
		return nil, err
	}

	cfg.Logger.WithFields(logrus.Fields{
		"first_row": firstRow,
		"last_row":  lastRow,
	}).Debug("graph part initialized")
	return part, nil
}

// sendRows generates the graph on rank 0, installs the locally owned rows
// and ships every other row to its owner.
func sendRows(ctx context.Context, c comm.Communicator, partRange *partition.Range, part *graph.Part, init graph.RowInitializer) error {
	n := part.NumVertices()
	buf := make([]graph.Weight, n)
	for dst := 0; dst < partRange.NumPartitions(); dst++ {
		first, last, err := partRange.PartitionExtents(dst)
		if err != nil {
			return err
		}

		for row := first; row < last; row++ {
			target := buf
			if dst == 0 {
				target = part.Row(row)
			}
			if err = init.InitializeRow(target, row, n); err != nil {
				return xerrors.Errorf("initialize row %d: %w", row, err)
			}
			if dst == 0 {
				metrics.RowsDistributed.Inc()
				continue
			}

			msg := comm.Message{Tag: comm.TagRow, Seq: int64(row), Data: buf}
			if err = c.Send(ctx, dst, msg); err != nil {
				return xerrors.Errorf("send row %d to rank %d: %w", row, dst, err)
			}
		}
	}
	return nil
}

// recvRows installs the rows sent by rank 0 after checking that they arrive
// in ascending order with the expected width.
func recvRows(ctx context.Context, c comm.Communicator, part *graph.Part) error {
	for row := part.FirstRow(); row < part.LastRow(); row++ {
		msg, err := c.Recv(ctx, 0, comm.TagRow)
		if err != nil {
			return xerrors.Errorf("receive row %d: %w", row, err)
		}

		if msg.Seq != int64(row) {
			return &comm.ProtocolError{
				Rank:   c.Rank(),
				Peer:   0,
				Op:     "distribute",
				Reason: fmt.Sprintf("expected row %d; got row %d", row, msg.Seq),
			}
		} else if len(msg.Data) != part.NumVertices() {
			return &comm.ProtocolError{
				Rank:   c.Rank(),
				Peer:   0,
				Op:     "distribute",
				Reason: fmt.Sprintf("expected %d values for row %d; got %d", part.NumVertices(), row, len(msg.Data)),
			}
		}

		copy(part.Row(row), msg.Data)
		metrics.RowsDistributed.Inc()
	}
	return nil
}

// abortGroup tears down the process group unless err is itself the result
// of a group abort.
func abortGroup(c comm.Communicator, err error) {
	if !xerrors.Is(err, comm.ErrAborted) {
		c.Abort(err)
	}
}
