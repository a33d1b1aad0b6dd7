package remote

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-opentracing/go/otgrpc"
	"github.com/hashicorp/go-multierror"
	"github.com/mpilab/distapsp/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"
)

// ErrUnableToReserveRanks is returned by the hub to indicate that the
// required number of ranks for forming a group is not available.
var ErrUnableToReserveRanks = xerrors.Errorf("unable to reserve required number of ranks")

// GroupDetails describes a process group formed by the hub.
type GroupDetails struct {
	JobID       string
	CreatedAt   time.Time
	NumVertices int
	Seed        int64
	RandomGraph bool

	// ShowResults instructs every member to take part in printing the
	// initial and the solved matrix.
	ShowResults bool
}

// Hub accepts connections from remote ranks, arranges them into process
// groups and relays the messages exchanged between the members of a group.
type Hub struct {
	cfg         HubConfig
	rankPool    *rankPool
	srvListener net.Listener
	gSrv        *grpc.Server
}

// NewHub creates a new Hub instance with the specified configuration.
func NewHub(cfg HubConfig) (*Hub, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("hub config validation failed: %w", err)
	}

	return &Hub{
		cfg:      cfg,
		rankPool: newRankPool(),
	}, nil
}

// Start listening on the configured address for incoming rank connections.
// Calls to Start are non-blocking. The caller must invoke the Close method
// to shutdown the server and clean up any reserved resources.
func (h *Hub) Start() error {
	var err error
	if h.srvListener, err = net.Listen("tcp", h.cfg.ListenAddress); err != nil {
		return xerrors.Errorf("cannot start server: %w", err)
	}

	h.gSrv = grpc.NewServer(
		grpc.StreamInterceptor(otgrpc.OpenTracingStreamServerInterceptor(h.cfg.Tracer)),
	)
	registerRelayServer(h.gSrv, &hubRPCHandler{
		rankPool: h.rankPool,
		logger:   h.cfg.Logger,
	})
	h.cfg.Logger.WithField("addr", h.srvListener.Addr().String()).Info("listening for rank connections")
	go func(l net.Listener) { _ = h.gSrv.Serve(l) }(h.srvListener)

	return nil
}

// Addr returns the address the hub is listening on or an empty string if the
// hub has not been started.
func (h *Hub) Addr() string {
	if h.srvListener == nil {
		return ""
	}
	return h.srvListener.Addr().String()
}

// PendingRanks returns the number of connected ranks that are waiting to be
// assigned to a group.
func (h *Hub) PendingRanks() int {
	return h.rankPool.Len()
}

// Close disconnects any connected ranks and shuts down the gRPC server.
func (h *Hub) Close() error {
	var err error

	if cErr := h.rankPool.Close(); cErr != nil {
		err = multierror.Append(err, cErr)
	}

	if h.gSrv != nil {
		h.gSrv.Stop()
		h.gSrv = nil
		h.srvListener = nil
	}

	return err
}

// RunGroup forms a new process group and relays its traffic until every
// member reports completion, the context expires or some error occurs. If
// the required number of ranks is not available, RunGroup blocks until
// either enough ranks connect, or the rankAcquireTimeout (if non-zero)
// expires or the provided context expires.
func (h *Hub) RunGroup(ctx context.Context, rankAcquireTimeout time.Duration) (GroupDetails, error) {
	var acquireCtx = ctx
	if rankAcquireTimeout != 0 {
		var cancelFn func()
		acquireCtx, cancelFn = context.WithTimeout(ctx, rankAcquireTimeout)
		defer cancelFn()
	}
	ranks, err := h.rankPool.ReserveRanks(acquireCtx, h.cfg.GroupSize)
	if err != nil {
		return GroupDetails{}, ErrUnableToReserveRanks
	}

	details := GroupDetails{
		JobID:       uuid.New().String(),
		CreatedAt:   h.cfg.Clock.Now().UTC().Truncate(time.Millisecond),
		NumVertices: h.cfg.NumVertices,
		Seed:        h.cfg.Seed,
		RandomGraph: h.cfg.RandomGraph,
		ShowResults: h.cfg.ShowResults,
	}
	logger := h.cfg.Logger.WithField("job_id", details.JobID)
	coordinator := newGroupCoordinator(ctx, groupCoordinatorConfig{
		details: details,
		ranks:   ranks,
		logger:  logger,
	})

	logger.WithFields(logrus.Fields{
		"created_at":   details.CreatedAt,
		"num_ranks":    len(ranks),
		"num_vertices": details.NumVertices,
	}).Info("coordinating new process group")

	metrics.ActiveGroups.Inc()
	defer metrics.ActiveGroups.Dec()
	if err = coordinator.Run(); err != nil {
		logger.WithField("err", err).Error("process group failed")
		for _, r := range ranks {
			r.Close(err)
		}
		return details, err
	}

	logger.WithField("elapsed", h.cfg.Clock.Now().Sub(details.CreatedAt).String()).Info("process group completed successfully")
	for _, r := range ranks {
		r.Close(nil)
	}
	return details, nil
}

// hubRPCHandler implements the gRPC server for the hub.
type hubRPCHandler struct {
	logger   *logrus.Entry
	rankPool *rankPool
}

// Connect implements relayServer.
func (h *hubRPCHandler) Connect(stream relayConnectServer) error {
	extraFields := make(logrus.Fields)
	if peerDetails, ok := peer.FromContext(stream.Context()); ok {
		extraFields["peer_addr"] = peerDetails.Addr.String()
	}

	h.logger.WithFields(extraFields).Info("rank connected")

	// Add rank to the pool and block until its stream needs to be closed
	// either because the group has completed or an error occurred.
	conn := newRankConn(stream)
	h.rankPool.AddRank(conn)
	return conn.Serve()
}
