package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/mpilab/distapsp/admin"
	"github.com/mpilab/distapsp/comm"
	"github.com/mpilab/distapsp/comm/remote"
	"github.com/mpilab/distapsp/node"
	"github.com/mpilab/distapsp/store"
	"github.com/mpilab/distapsp/store/cdb"
	"github.com/mpilab/distapsp/tracer"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/xerrors"
)

// serviceFn is the body of a command. It receives a context that is
// cancelled when the process is signalled and the distance store selected
// via --cdb-dsn (nil if none).
type serviceFn func(ctx context.Context, st store.DistanceStore) error

func runLocal(appCtx *cli.Context) error {
	n, err := vertexCount(appCtx)
	if err != nil {
		return err
	}
	p, err := processCount(appCtx)
	if err != nil {
		return err
	}
	logger := logger.WithField("mode", "local")

	return runService(appCtx, "local", logger, func(ctx context.Context, st store.DistanceStore) error {
		results, err := node.RunLocal(ctx, node.Config{
			NumVertices: n,
			Initializer: node.InitializerFor(appCtx.Bool("random"), appCtx.Int64("seed")),
			ShowResults: appCtx.Bool("show-results"),
			Output:      os.Stdout,
			Store:       st,
			Logger:      logger,
		}, p)
		if err != nil {
			return err
		}

		for _, res := range results {
			logger.WithFields(logrus.Fields{
				"rank":        res.Rank,
				"first_row":   res.FirstRow,
				"last_row":    res.LastRow,
				"relaxations": res.Stats.Relaxations,
				"elapsed":     res.Stats.Elapsed.String(),
			}).Debug("rank completed")
		}
		return nil
	})
}

func runHub(appCtx *cli.Context) error {
	n, err := vertexCount(appCtx)
	if err != nil {
		return err
	}
	logger := logger.WithField("mode", "hub")

	return runService(appCtx, "hub", logger, func(ctx context.Context, _ store.DistanceStore) error {
		hub, err := remote.NewHub(remote.HubConfig{
			ListenAddress: appCtx.String("hub-address"),
			GroupSize:     appCtx.Int("processes"),
			NumVertices:   n,
			Seed:          appCtx.Int64("seed"),
			RandomGraph:   appCtx.Bool("random"),
			ShowResults:   appCtx.Bool("show-results"),
			Logger:        logger,
		})
		if err != nil {
			return xerrors.Errorf("%v: %w", err, errConfig)
		}
		if err = hub.Start(); err != nil {
			return err
		}
		defer func() { _ = hub.Close() }()
		logger.WithField("addr", hub.Addr()).Info("waiting for ranks")

		var (
			maxGroups = appCtx.Int("groups")
			lastErr   error
		)
		for completed := 0; maxGroups == 0 || completed < maxGroups; {
			details, err := hub.RunGroup(ctx, appCtx.Duration("acquire-timeout"))
			if ctx.Err() != nil {
				return nil
			}
			if xerrors.Is(err, remote.ErrUnableToReserveRanks) {
				logger.WithField("pending_ranks", hub.PendingRanks()).Warn("not enough ranks connected; retrying")
				continue
			}

			completed++
			if lastErr = err; err != nil {
				continue
			}
			logger.WithField("job_id", details.JobID).Info("group completed")
		}
		return lastErr
	})
}

func runRank(appCtx *cli.Context) error {
	logger := logger.WithField("mode", "rank")
	return runService(appCtx, "rank", logger, func(ctx context.Context, st store.DistanceStore) error {
		r, err := remote.Dial(ctx, remote.RankConfig{
			HubEndpoint: appCtx.String("hub-endpoint"),
			DialTimeout: appCtx.Duration("dial-timeout"),
			Logger:      logger,
		})
		if err != nil {
			return err
		}

		details := r.Details()
		logger := logger.WithFields(logrus.Fields{
			"job_id": details.JobID,
			"rank":   r.Rank(),
			"size":   r.Size(),
		})
		logger.Info("joined process group")

		res, err := node.Run(ctx, r, node.Config{
			NumVertices: details.NumVertices,
			Initializer: node.InitializerFor(details.RandomGraph, details.Seed),
			ShowResults: details.ShowResults,
			Output:      os.Stdout,
			Store:       st,
			JobID:       details.JobID,
			Logger:      logger,
		})
		if err != nil && !xerrors.Is(err, comm.ErrAborted) {
			r.Abort(err)
		}
		if closeErr := r.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}

		logger.WithFields(logrus.Fields{
			"first_row": res.FirstRow,
			"last_row":  res.LastRow,
			"elapsed":   res.Stats.Elapsed.String(),
		}).Info("rank completed")
		return nil
	})
}

// runService sets up the ambient services selected by the global flags,
// runs fn and tears the services down once fn returns.
func runService(appCtx *cli.Context, mode string, logger *logrus.Entry, fn serviceFn) error {
	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	if appCtx.GlobalBool("tracing") {
		if err := tracer.InstallGlobal(fmt.Sprintf("%s-%s", appName, mode), true); err != nil {
			return xerrors.Errorf("%v: %w", err, errConfig)
		}
		defer func() { _ = tracer.Closers.Close() }()
	}

	var st store.DistanceStore
	if dsn := appCtx.GlobalString("cdb-dsn"); dsn != "" {
		cdbStore, err := cdb.NewCockroachDBStore(dsn)
		if err != nil {
			return err
		}
		defer func() { _ = cdbStore.Close() }()
		if err = cdbStore.EnsureSchema(); err != nil {
			return err
		}
		st = cdbStore
	}

	var wg sync.WaitGroup
	if port := appCtx.GlobalInt("admin-port"); port != 0 {
		srv, err := admin.NewServer(admin.Config{
			ListenAddr: fmt.Sprintf(":%d", port),
			Store:      st,
			Logger:     logger,
		})
		if err != nil {
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				logger.WithField("err", err).Error("admin server exited with error")
			}
		}()
	}

	// Start signal watcher
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGHUP)
		defer signal.Stop(sigCh)
		select {
		case s := <-sigCh:
			logger.WithField("signal", s.String()).Infof("shutting down due to signal")
			cancelFn()
		case <-ctx.Done():
		}
	}()

	err := fn(ctx, st)
	cancelFn()
	wg.Wait()
	return err
}

// vertexCount returns the vertex count passed via --vertices or, failing
// that, as the first positional argument.
func vertexCount(appCtx *cli.Context) (int, error) {
	if appCtx.IsSet("vertices") {
		if n := appCtx.Int("vertices"); n > 0 {
			return n, nil
		}
		return 0, xerrors.Errorf("got %d: %w", appCtx.Int("vertices"), node.ErrInvalidVertexCount)
	}

	if appCtx.NArg() == 0 {
		return 0, xerrors.Errorf("missing vertex count: %w", node.ErrInvalidVertexCount)
	}
	n, err := strconv.Atoi(appCtx.Args().First())
	if err != nil || n <= 0 {
		return 0, xerrors.Errorf("got %q: %w", appCtx.Args().First(), node.ErrInvalidVertexCount)
	}
	return n, nil
}

// processCount returns the number of ranks requested via --processes.
func processCount(appCtx *cli.Context) (int, error) {
	if p := appCtx.Int("processes"); p >= 1 {
		return p, nil
	}
	return 0, xerrors.Errorf("process count must be at least 1; got %d: %w", appCtx.Int("processes"), errConfig)
}
