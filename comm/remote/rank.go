package remote

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/grpc-ecosystem/grpc-opentracing/go/otgrpc"
	"github.com/mpilab/distapsp/comm"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// abortFlushTimeout bounds the time spent notifying the hub about a local
// abort.
const abortFlushTimeout = 5 * time.Second

// Compile-time check for ensuring Rank implements comm.Communicator.
var _ comm.Communicator = (*Rank)(nil)

// Rank is a member of a process group formed by a remote hub. All traffic
// to the other members is relayed through the hub.
//
// Like an in-process endpoint, a Rank must be driven by a single goroutine.
type Rank struct {
	cfg     RankConfig
	conn    *grpc.ClientConn
	stream  *hubConn
	details GroupDetails
	rank    int
	size    int

	mailbox    *comm.Mailbox
	signal     *comm.AbortSignal
	barrierCh  chan *envelope
	barrierSeq int64

	wg      sync.WaitGroup
	mu      sync.Mutex
	closing bool
}

// Dial connects to the hub and blocks until the hub assigns the connection
// to a process group or ctx expires.
func Dial(ctx context.Context, cfg RankConfig) (*Rank, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("rank config validation failed: %w", err)
	}

	dialCtx := ctx
	if cfg.DialTimeout != 0 {
		var cancelFn func()
		dialCtx, cancelFn = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancelFn()
	}

	conn, err := grpc.DialContext(dialCtx, cfg.HubEndpoint,
		grpc.WithInsecure(),
		grpc.WithBlock(),
		grpc.WithStreamInterceptor(otgrpc.OpenTracingStreamClientInterceptor(cfg.Tracer)),
	)
	if err != nil {
		return nil, xerrors.Errorf("unable to dial hub: %w", err)
	}

	// The relay stream outlives ctx; it is torn down by Close.
	streamCtx, cancelStream := context.WithCancel(context.Background())
	cliStream, err := openRelayStream(streamCtx, conn)
	if err != nil {
		cancelStream()
		_ = conn.Close()
		return nil, xerrors.Errorf("unable to open relay stream: %w", err)
	}

	cfg.Logger.Info("waiting for group assignment")
	details, rank, size, err := waitForWelcome(ctx, cliStream, cancelStream)
	if err != nil {
		cancelStream()
		_ = conn.Close()
		return nil, err
	}

	signal := comm.NewAbortSignal()
	r := &Rank{
		cfg:       cfg,
		conn:      conn,
		stream:    newHubConn(cliStream),
		details:   details,
		rank:      rank,
		size:      size,
		mailbox:   comm.NewMailbox(rank, size, signal),
		signal:    signal,
		barrierCh: make(chan *envelope, 1),
	}
	r.cfg.Logger = cfg.Logger.WithFields(logrus.Fields{
		"job_id": details.JobID,
		"rank":   rank,
	})
	r.stream.OnLost(r.handleDisconnect)

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		if err := r.stream.Serve(); err != nil {
			r.signal.Abort(xerrors.Errorf("relay stream failed: %w", err))
		}
		cancelStream()
	}()
	go func() {
		defer r.wg.Done()
		r.dispatch()
	}()

	r.cfg.Logger.WithFields(logrus.Fields{
		"created_at":   details.CreatedAt,
		"group_size":   size,
		"num_vertices": details.NumVertices,
	}).Info("joined process group")
	return r, nil
}

// waitForWelcome blocks until the hub announces the group the connection has
// been assigned to. If ctx expires first, the stream is cancelled.
func waitForWelcome(ctx context.Context, stream relayConnectClient, cancelStream func()) (GroupDetails, int, int, error) {
	var details GroupDetails

	waitDoneCh := make(chan struct{})
	defer close(waitDoneCh)
	go func() {
		select {
		case <-ctx.Done():
			cancelStream()
		case <-waitDoneCh:
		}
	}()

	msg, err := stream.Recv()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return details, 0, 0, xerrors.Errorf("unable to read group details from hub: %w", err)
	}

	env, err := unmarshalEnvelope(msg)
	if err != nil {
		return details, 0, 0, xerrors.Errorf("unable to decode group details: %w", err)
	} else if env.Kind != kindWelcome {
		return details, 0, 0, xerrors.Errorf("expected hub to send a welcome envelope; got %q", env.Kind)
	} else if len(env.Data) != 4 {
		return details, 0, 0, xerrors.Errorf("malformed welcome envelope: expected 4 values; got %d", len(env.Data))
	} else if env.Size <= 0 || env.Dst < 0 || env.Dst >= env.Size {
		return details, 0, 0, xerrors.Errorf("malformed welcome envelope: rank %d in group of size %d", env.Dst, env.Size)
	}

	details.JobID = env.JobID
	details.NumVertices = int(env.Data[0])
	details.Seed = env.Data[1]
	details.RandomGraph = env.Data[2]&welcomeRandomGraph != 0
	details.ShowResults = env.Data[2]&welcomeShowResults != 0
	details.CreatedAt = time.Unix(0, env.Data[3]).UTC()
	return details, env.Dst, env.Size, nil
}

// Details returns the parameters of the group the rank belongs to.
func (r *Rank) Details() GroupDetails { return r.details }

// Rank implements comm.Communicator.
func (r *Rank) Rank() int { return r.rank }

// Size implements comm.Communicator.
func (r *Rank) Size() int { return r.size }

// Send implements comm.Communicator.
func (r *Rank) Send(ctx context.Context, dst int, msg comm.Message) error {
	if err := r.ensureOpen(); err != nil {
		return err
	} else if dst < 0 || dst >= r.size {
		return xerrors.Errorf("send to rank %d: %w", dst, comm.ErrInvalidRank)
	}

	return r.sendToHub(ctx, &envelope{
		Kind: kindSend,
		Dst:  dst,
		Tag:  msg.Tag,
		Seq:  msg.Seq,
		Data: append([]int64(nil), msg.Data...),
	})
}

// Recv implements comm.Communicator.
func (r *Rank) Recv(ctx context.Context, src int, tag comm.Tag) (comm.Message, error) {
	if err := r.ensureOpen(); err != nil {
		return comm.Message{}, err
	}
	return r.mailbox.Recv(ctx, src, tag)
}

// Bcast implements comm.Communicator.
func (r *Rank) Bcast(ctx context.Context, root int, round int64, buf []int64) error {
	if err := r.ensureOpen(); err != nil {
		return err
	} else if root < 0 || root >= r.size {
		return xerrors.Errorf("broadcast from rank %d: %w", root, comm.ErrInvalidRank)
	}

	if r.rank != root {
		return r.mailbox.RecvBroadcast(ctx, root, round, buf)
	}
	if r.size == 1 {
		return nil
	}
	return r.sendToHub(ctx, &envelope{
		Kind: kindBcast,
		Seq:  round,
		Data: append([]int64(nil), buf...),
	})
}

// Barrier implements comm.Communicator.
func (r *Rank) Barrier(ctx context.Context) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}

	r.barrierSeq++
	if err := r.sendToHub(ctx, &envelope{Kind: kindBarrier, Seq: r.barrierSeq}); err != nil {
		return err
	}

	select {
	case env := <-r.barrierCh:
		if env.Seq != r.barrierSeq {
			return &comm.ProtocolError{
				Rank:   r.rank,
				Peer:   -1,
				Op:     "barrier",
				Reason: "hub released a different barrier",
			}
		}
		return nil
	case <-r.signal.Done():
		return r.signal.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort implements comm.Communicator. The hub is notified so that it can
// tear down the other members of the group.
func (r *Rank) Abort(cause error) {
	if r.signal.Err() != nil {
		return
	}

	reason := "unspecified failure"
	if cause != nil {
		reason = cause.Error()
	}
	r.cfg.Logger.WithField("err", reason).Error("aborting process group")

	timer := time.NewTimer(abortFlushTimeout)
	defer timer.Stop()
	select {
	case r.stream.Outbox() <- &envelope{Kind: kindAbort, Reason: reason}:
	case <-r.stream.Done():
	case <-timer.C:
	}
	r.signal.Abort(cause)
}

// Close implements comm.Communicator. If the group has not been aborted,
// Close reports completion to the hub and blocks until every member of the
// group has done the same.
func (r *Rank) Close() error {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return nil
	}
	r.closing = true
	r.mu.Unlock()

	if r.signal.Err() == nil {
		select {
		case r.stream.Outbox() <- &envelope{Kind: kindDone}:
			select {
			case <-r.stream.Done():
			case <-r.signal.Done():
			}
		case <-r.stream.Done():
		}
	}

	// After an abort, give the hub a chance to process any pending abort
	// envelope and tear down the group before dropping the connection.
	if r.signal.Err() != nil {
		timer := time.NewTimer(abortFlushTimeout)
		select {
		case <-r.stream.Done():
		case <-timer.C:
		}
		timer.Stop()
	}

	r.stream.Close()
	r.wg.Wait()
	return r.conn.Close()
}

// dispatch routes the envelopes relayed by the hub to the local mailbox.
func (r *Rank) dispatch() {
	for {
		var env *envelope
		select {
		case env = <-r.stream.Inbox():
		case <-r.stream.Done():
			return
		}

		var err error
		switch env.Kind {
		case kindSend:
			err = r.mailbox.DeliverPointToPoint(r.stream.ctx, env.Src, comm.Message{
				Tag:  env.Tag,
				Seq:  env.Seq,
				Data: env.Data,
			})
		case kindBcast:
			err = r.mailbox.DeliverBroadcast(r.stream.ctx, env.Src, env.Seq, env.Data)
		case kindBarrier:
			select {
			case r.barrierCh <- env:
			case <-r.signal.Done():
			case <-r.stream.Done():
			}
		case kindAbort:
			r.signal.Abort(xerrors.Errorf("hub aborted the group: %s", env.Reason))
		default:
			err = xerrors.Errorf("unexpected %q envelope from hub", env.Kind)
		}

		if err != nil {
			if r.signal.Err() == nil && r.stream.ctx.Err() == nil {
				r.Abort(err)
			}
			return
		}
	}
}

// handleDisconnect is invoked when the stream to the hub is torn down.
func (r *Rank) handleDisconnect(err error) {
	r.mu.Lock()
	closing := r.closing
	r.mu.Unlock()

	if xerrors.Is(err, io.EOF) {
		if !closing {
			r.signal.Abort(xerrors.Errorf("hub ended the group unexpectedly"))
		}
		return
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Aborted:
			r.signal.Abort(xerrors.Errorf("hub aborted the group: %s", st.Message()))
			return
		case codes.Canceled:
			if closing {
				return
			}
		}
	}
	r.signal.Abort(xerrors.Errorf("lost connection to hub: %w", err))
}

// sendToHub enqueues an envelope for the hub. It blocks until the envelope
// is enqueued, the group is aborted or ctx expires.
func (r *Rank) sendToHub(ctx context.Context, env *envelope) error {
	select {
	case r.stream.Outbox() <- env:
		return nil
	case <-r.signal.Done():
		return r.signal.Err()
	case <-r.stream.Done():
		if err := r.signal.Err(); err != nil {
			return err
		}
		return comm.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Rank) ensureOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return comm.ErrClosed
	}
	return nil
}
