package main

import (
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var (
	appName = "distapsp"
	appSha  = "populated-at-link-time"
	logger  *logrus.Entry
)

func main() {
	host, _ := os.Hostname()
	rootLogger := logrus.New()
	rootLogger.SetFormatter(new(logrus.JSONFormatter))
	rootLogger.SetOutput(os.Stderr)
	logger = rootLogger.WithFields(logrus.Fields{
		"app":  appName,
		"sha":  appSha,
		"host": host,
	})

	if err := makeApp().Run(os.Args); err != nil {
		logger.WithField("err", err).Error("shutting down due to error")
		_ = os.Stderr.Sync()
		os.Exit(exitCodeFor(err))
	}
}

func makeApp() *cli.App {
	app := cli.NewApp()
	app.Name = appName
	app.Version = appSha
	app.Usage = "compute all-pairs shortest paths over a group of cooperating ranks"
	app.Flags = []cli.Flag{
		cli.IntFlag{
			Name:   "admin-port",
			EnvVar: "ADMIN_PORT",
			Usage:  "The port for exposing the metrics and distance lookup endpoints; 0 disables the admin server",
		},
		cli.BoolFlag{
			Name:   "tracing",
			EnvVar: "TRACING",
			Usage:  "Report spans to the jaeger agent configured via the JAEGER_* envvars",
		},
		cli.StringFlag{
			Name:   "cdb-dsn",
			EnvVar: "CDB_DSN",
			Usage:  "The CockroachDB DSN for persisting computed distances; results are not persisted if empty",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "local",
			Usage:     "Run a group of in-process ranks",
			ArgsUsage: "[vertices]",
			Flags: append(graphFlags(),
				cli.IntFlag{
					Name:   "processes",
					Value:  1,
					EnvVar: "PROCESSES",
					Usage:  "The number of ranks in the group",
				},
			),
			Action: runLocal,
		},
		{
			Name:      "hub",
			Usage:     "Run a hub that forms process groups out of connecting ranks",
			ArgsUsage: "[vertices]",
			Flags: append(graphFlags(),
				cli.IntFlag{
					Name:   "processes",
					Value:  runtime.NumCPU(),
					EnvVar: "PROCESSES",
					Usage:  "The number of ranks in each process group",
				},
				cli.StringFlag{
					Name:   "hub-address",
					Value:  ":8080",
					EnvVar: "HUB_ADDRESS",
					Usage:  "The address where the hub listens for incoming rank connections",
				},
				cli.DurationFlag{
					Name:   "acquire-timeout",
					EnvVar: "ACQUIRE_TIMEOUT",
					Usage:  "The time that the hub waits for a full group of ranks before retrying; 0 waits indefinitely",
				},
				cli.IntFlag{
					Name:   "groups",
					EnvVar: "GROUPS",
					Usage:  "The number of process groups to run before exiting; 0 runs groups until interrupted",
				},
			),
			Action: runHub,
		},
		{
			Name:  "rank",
			Usage: "Join a process group formed by a hub",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:   "hub-endpoint",
					EnvVar: "HUB_ENDPOINT",
					Usage:  "The endpoint for connecting to the hub",
				},
				cli.DurationFlag{
					Name:   "dial-timeout",
					Value:  10 * time.Second,
					EnvVar: "DIAL_TIMEOUT",
					Usage:  "The timeout for establishing a connection to the hub",
				},
			},
			Action: runRank,
		},
	}
	return app
}

// graphFlags returns the flags that describe the input graph and how the
// group reports it. Ranks started via the rank command receive these
// settings from the hub.
func graphFlags() []cli.Flag {
	return []cli.Flag{
		cli.IntFlag{
			Name:   "vertices",
			EnvVar: "VERTICES",
			Usage:  "The number of graph vertices; may also be passed as the first argument",
		},
		cli.BoolFlag{
			Name:   "random",
			EnvVar: "RANDOM",
			Usage:  "Use a seeded random graph instead of the path graph",
		},
		cli.Int64Flag{
			Name:   "seed",
			Value:  1,
			EnvVar: "SEED",
			Usage:  "The seed for generating random graphs",
		},
		cli.BoolFlag{
			Name:   "show-results",
			EnvVar: "SHOW_RESULTS",
			Usage:  "Print the initial and the solved distance matrix; in hub mode, every rank of each group prints the rows it owns",
		},
	}
}
