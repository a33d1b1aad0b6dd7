// Package node runs the complete shortest path pipeline on a single rank of
// a process group.
package node

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/mpilab/distapsp/apsp"
	"github.com/mpilab/distapsp/comm"
	"github.com/mpilab/distapsp/graph"
	"github.com/mpilab/distapsp/partition"
	"github.com/mpilab/distapsp/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Config encapsulates the configuration options for running the pipeline on
// a rank. All ranks of a group must use identical settings.
type Config struct {
	// The number of graph vertices.
	NumVertices int

	// The initializer used by rank 0 to generate the graph. Defaults to a
	// path graph.
	Initializer graph.RowInitializer

	// If set, the initial and the solved matrices are printed to Output
	// in global row order.
	ShowResults bool

	// The destination for printed matrices. Defaults to os.Stdout.
	Output io.Writer

	// An optional store where each rank persists the rows it owns.
	Store store.DistanceStore

	// The ID under which the results are persisted. Required when Store
	// is set.
	JobID string

	// A clock instance for measuring the run time. If not specified, the
	// default wall-clock will be used instead.
	Clock clock.Clock

	// A logger instance to use. If not specified, a null logger will be
	// used instead.
	Logger *logrus.Entry
}

// Validate the config options.
func (cfg *Config) Validate() error {
	var err error
	if cfg.NumVertices <= 0 {
		err = multierror.Append(err, xerrors.Errorf("got %d: %w", cfg.NumVertices, ErrInvalidVertexCount))
	}
	if cfg.Store != nil && cfg.JobID == "" {
		err = multierror.Append(err, xerrors.Errorf("job ID is required for persisting results"))
	}
	if cfg.Initializer == nil {
		cfg.Initializer = graph.PathInitializer{}
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return err
}

// InitializerFor returns the row initializer selected by the command line
// flags: seeded random weights or the default path graph.
func InitializerFor(random bool, seed int64) graph.RowInitializer {
	if random {
		return graph.RandomInitializer{Seed: seed}
	}
	return graph.PathInitializer{}
}

// Result describes the outcome of a pipeline run on a single rank.
type Result struct {
	Rank     int
	FirstRow int
	LastRow  int
	Stats    apsp.Stats
}

// Run executes the pipeline on the rank connected through c: distribute the
// graph, optionally print it, run the engine, wait for every rank to finish,
// optionally print the solved matrix, persist the owned rows and release
// the graph part.
//
// Errors are wrapped in a *StageError whose class identifies the failed
// stage. Configuration errors are returned as is, before any communication.
func Run(ctx context.Context, c comm.Communicator, cfg Config) (Result, error) {
	res := Result{Rank: c.Rank()}
	if err := cfg.Validate(); err != nil {
		return res, xerrors.Errorf("node config validation failed: %w", err)
	}
	if _, err := partition.NewRange(cfg.NumVertices, c.Size()); err != nil {
		return res, err
	}

	logger := cfg.Logger.WithField("rank", c.Rank())
	part, err := apsp.Distribute(ctx, c, apsp.DistributeConfig{
		NumVertices: cfg.NumVertices,
		Initializer: cfg.Initializer,
		Logger:      logger,
	})
	if err != nil {
		return res, stageError(ErrDistribution, err)
	}
	defer part.Release()
	res.FirstRow, res.LastRow = part.FirstRow(), part.LastRow()

	if cfg.ShowResults {
		if err = printMatrix(ctx, c, part, cfg.Output, "Initial graph:"); err != nil {
			return res, stageError(ErrCollection, err)
		}
	}

	engine, err := apsp.NewEngine(apsp.EngineConfig{
		Comm:   c,
		Part:   part,
		Clock:  cfg.Clock,
		Logger: logger,
	})
	if err != nil {
		c.Abort(err)
		return res, stageError(ErrComputation, err)
	}
	if res.Stats, err = engine.Run(ctx); err != nil {
		return res, stageError(ErrComputation, err)
	}
	if err = c.Barrier(ctx); err != nil {
		return res, stageError(ErrComputation, err)
	}

	if c.Rank() == 0 {
		logger.WithFields(logrus.Fields{
			"num_vertices": cfg.NumVertices,
			"num_ranks":    c.Size(),
			"elapsed":      res.Stats.Elapsed.String(),
		}).Info("shortest paths computed")
	}

	if cfg.ShowResults {
		if err = printMatrix(ctx, c, part, cfg.Output, "Shortest paths:"); err != nil {
			return res, stageError(ErrCollection, err)
		}
	}

	if cfg.Store != nil {
		rows := make([][]graph.Weight, 0, part.NumRows())
		for i := 0; i < part.NumRows(); i++ {
			rows = append(rows, part.LocalRow(i))
		}
		if err = cfg.Store.SaveRows(cfg.JobID, part.FirstRow(), rows); err != nil {
			return res, stageError(ErrPersistence, err)
		}
		logger.WithField("job_id", cfg.JobID).Debug("persisted owned rows")
	}

	return res, nil
}

// printMatrix prints the rows of every rank, preceded by a header line
// written by rank 0.
func printMatrix(ctx context.Context, c comm.Communicator, part *graph.Part, w io.Writer, header string) error {
	if c.Rank() == 0 {
		if _, err := fmt.Fprintln(w, header); err != nil {
			c.Abort(err)
			return err
		}
	}
	return apsp.CollectAndPrint(ctx, c, part, w)
}

// RunLocal runs the pipeline with p ranks of an in-process group and
// returns the per-rank results. If any rank fails, the returned error is
// the one that caused the group to be aborted.
func RunLocal(ctx context.Context, cfg Config, p int) ([]Result, error) {
	if cfg.Store != nil && cfg.JobID == "" {
		cfg.JobID = uuid.New().String()
	}

	group, err := comm.NewGroup(p)
	if err != nil {
		return nil, err
	}

	results := make([]Result, p)
	errs := make([]error, p)
	doneCh := make(chan struct{}, p)
	for r := 0; r < p; r++ {
		go func(ep *comm.Endpoint) {
			defer func() { doneCh <- struct{}{} }()
			defer func() { _ = ep.Close() }()
			results[ep.Rank()], errs[ep.Rank()] = Run(ctx, ep, cfg)
		}(group.Endpoint(r))
	}
	for r := 0; r < p; r++ {
		<-doneCh
	}

	return results, primaryError(errs)
}

// primaryError picks the error that triggered a group abort. Errors that
// merely report the abort are only returned if no other error exists.
func primaryError(errs []error) error {
	var fallback error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if !xerrors.Is(err, comm.ErrAborted) {
			return err
		}
		if fallback == nil {
			fallback = err
		}
	}
	return fallback
}
