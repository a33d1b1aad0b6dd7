package remote

import (
	"io/ioutil"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// HubConfig encapsulates the configuration options for a relay hub.
type HubConfig struct {
	// The address where the hub will listen for incoming gRPC
	// connections from ranks.
	ListenAddress string

	// The number of ranks in each process group.
	GroupSize int

	// The number of graph vertices announced to each group. It must not
	// be smaller than GroupSize.
	NumVertices int

	// The seed announced to each group for generating random graphs.
	Seed int64

	// If set, ranks are instructed to generate a random graph instead of
	// the default path graph.
	RandomGraph bool

	// If set, each group prints the initial and the solved distance
	// matrix. Printing is a collective operation, so the setting is
	// decided by the hub for the whole group.
	ShowResults bool

	// A clock instance for timestamping groups. If not specified, the
	// default wall-clock will be used instead.
	Clock clock.Clock

	// A tracer for instrumenting the relay streams. If not specified, the
	// global opentracing tracer will be used.
	Tracer opentracing.Tracer

	// A logger instance to use. If not specified, a null logger will be
	// used instead.
	Logger *logrus.Entry
}

// Validate the config options.
func (cfg *HubConfig) Validate() error {
	var err error
	if cfg.ListenAddress == "" {
		err = multierror.Append(err, xerrors.Errorf("listen address not specified"))
	}
	if cfg.GroupSize <= 0 {
		err = multierror.Append(err, xerrors.Errorf("group size must be at least equal to 1"))
	}
	if cfg.NumVertices <= 0 {
		err = multierror.Append(err, xerrors.Errorf("vertex count must be at least equal to 1"))
	} else if cfg.GroupSize > cfg.NumVertices {
		err = multierror.Append(err, xerrors.Errorf("group size %d exceeds vertex count %d", cfg.GroupSize, cfg.NumVertices))
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Tracer == nil {
		cfg.Tracer = opentracing.GlobalTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return err
}

// RankConfig encapsulates the configuration options for a rank connecting to
// a relay hub.
type RankConfig struct {
	// The endpoint of the hub.
	HubEndpoint string

	// The maximum time to wait for establishing a connection to the hub.
	// A zero value disables the timeout.
	DialTimeout time.Duration

	// A tracer for instrumenting the relay stream. If not specified, the
	// global opentracing tracer will be used.
	Tracer opentracing.Tracer

	// A logger instance to use. If not specified, a null logger will be
	// used instead.
	Logger *logrus.Entry
}

// Validate the config options.
func (cfg *RankConfig) Validate() error {
	var err error
	if cfg.HubEndpoint == "" {
		err = multierror.Append(err, xerrors.Errorf("hub endpoint not specified"))
	}
	if cfg.DialTimeout < 0 {
		err = multierror.Append(err, xerrors.Errorf("dial timeout must not be negative"))
	}
	if cfg.Tracer == nil {
		cfg.Tracer = opentracing.GlobalTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return err
}
