package apsp

import (
	"context"
	"io/ioutil"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/mpilab/distapsp/comm"
	"github.com/mpilab/distapsp/graph"
	"github.com/mpilab/distapsp/metrics"
	"github.com/mpilab/distapsp/partition"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// ErrPartMismatch is returned when the graph part handed to the engine does
// not cover the rows the partitioner assigns to the calling rank.
var ErrPartMismatch = xerrors.New("graph part does not match the rank's partition")

// EngineConfig encapsulates the configuration options for the APSP engine.
type EngineConfig struct {
	// The communicator connecting the rank to its group.
	Comm comm.Communicator

	// The graph part owned by the rank, as populated by Distribute.
	Part *graph.Part

	// An optional callback invoked after the relaxation step of every
	// round.
	OnRound func(round int, part *graph.Part)

	// A clock instance for measuring the run time. If not specified, the
	// default wall-clock will be used instead.
	Clock clock.Clock

	// A logger instance to use. If not specified, a null logger will be
	// used instead.
	Logger *logrus.Entry
}

// Validate the config options.
func (cfg *EngineConfig) Validate() error {
	var err error
	if cfg.Comm == nil {
		err = multierror.Append(err, xerrors.Errorf("communicator not specified"))
	}
	if cfg.Part == nil {
		err = multierror.Append(err, xerrors.Errorf("graph part not specified"))
	} else if cfg.Part.Released() {
		err = multierror.Append(err, xerrors.Errorf("graph part has been released"))
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return err
}

// Stats summarizes an engine run.
type Stats struct {
	// The number of completed broadcast/relax rounds.
	Rounds int

	// The number of distance updates applied to the local rows.
	Relaxations int64

	// The time spent in the broadcast/relax loop.
	Elapsed time.Duration
}

// Engine runs the broadcast/relax loop on a single rank. All ranks of a
// group must run their engines concurrently.
type Engine struct {
	cfg       EngineConfig
	partRange *partition.Range
	pivot     []graph.Weight
}

// NewEngine validates the config and checks that the part matches the rows
// assigned to the calling rank before any round is executed.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("engine config validation failed: %w", err)
	}

	n := cfg.Part.NumVertices()
	partRange, err := partition.NewRange(n, cfg.Comm.Size())
	if err != nil {
		return nil, err
	}
	first, last, err := partRange.PartitionExtents(cfg.Comm.Rank())
	if err != nil {
		return nil, err
	} else if first != cfg.Part.FirstRow() || last != cfg.Part.LastRow() {
		return nil, xerrors.Errorf("rank %d expects rows [%d, %d); part holds [%d, %d): %w",
			cfg.Comm.Rank(), first, last, cfg.Part.FirstRow(), cfg.Part.LastRow(), ErrPartMismatch)
	}

	return &Engine{
		cfg:       cfg,
		partRange: partRange,
		pivot:     make([]graph.Weight, n),
	}, nil
}

// Run executes rounds 0 to n-1. In round k the owner of row k broadcasts it
// and every rank relaxes its rows through vertex k. A failed round aborts
// the group.
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	var (
		stats Stats
		n     = e.cfg.Part.NumVertices()
		rank  = e.cfg.Comm.Rank()
		start = e.cfg.Clock.Now()
	)

	span, ctx := opentracing.StartSpanFromContext(ctx, "apsp.engine")
	span.SetTag("rank", rank)
	span.SetTag("num_vertices", n)
	defer span.Finish()

	for k := 0; k < n; k++ {
		roundStart := e.cfg.Clock.Now()
		root, err := e.partRange.PartitionForRow(k)
		if err != nil {
			return stats, err
		}
		if root == rank {
			copy(e.pivot, e.cfg.Part.Row(k))
		}

		if err = e.cfg.Comm.Bcast(ctx, root, int64(k), e.pivot); err != nil {
			err = xerrors.Errorf("round %d: %w", k, err)
			abortGroup(e.cfg.Comm, err)
			ext.Error.Set(span, true)
			stats.Elapsed = e.cfg.Clock.Now().Sub(start)
			return stats, err
		}

		stats.Relaxations += relax(e.cfg.Part, k, e.pivot)
		stats.Rounds++
		metrics.RoundsCompleted.Inc()
		metrics.RoundDuration.Observe(e.cfg.Clock.Now().Sub(roundStart).Seconds())
		if e.cfg.OnRound != nil {
			e.cfg.OnRound(k, e.cfg.Part)
		}
	}

	stats.Elapsed = e.cfg.Clock.Now().Sub(start)
	e.cfg.Logger.WithFields(logrus.Fields{
		"rounds":      stats.Rounds,
		"relaxations": stats.Relaxations,
		"elapsed":     stats.Elapsed.String(),
	}).Debug("engine run completed")
	return stats, nil
}

// relax updates every row of part with the paths going through vertex k,
// whose distances to all other vertices are given by pivot. It returns the
// number of updated entries.
func relax(part *graph.Part, k int, pivot []graph.Weight) int64 {
	var updates int64
	for i := 0; i < part.NumRows(); i++ {
		row := part.LocalRow(i)
		dik := row[k]
		if dik == graph.Infinity {
			continue
		}
		for j, dkj := range pivot {
			if candidate := graph.SaturatingAdd(dik, dkj); candidate < row[j] {
				row[j] = candidate
				updates++
			}
		}
	}
	return updates
}
