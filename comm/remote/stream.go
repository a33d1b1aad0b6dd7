package remote

import (
	"context"
	"io"
	"sync"

	"github.com/golang/protobuf/ptypes/any"
	"golang.org/x/xerrors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// errGroupAborted is reported to a rank whose group the hub tore down.
	errGroupAborted = xerrors.Errorf("group was aborted")

	// errHubShuttingDown is reported to ranks still waiting in the pool
	// when the hub stops.
	errHubShuttingDown = xerrors.New("hub is shutting down")
)

// frameStream is the part of a relay stream shared by both of its ends.
type frameStream interface {
	Send(*any.Any) error
	Recv() (*any.Any, error)
}

// link moves envelopes over a relay stream. Decoded inbound envelopes are
// delivered to the inbox and envelopes written to the outbox are sent to the
// peer. A link is torn down once the inbound direction fails or shutdown is
// called; Done is closed at that point.
type link struct {
	frames frameStream
	inbox  chan *envelope
	outbox chan *envelope

	ctx      context.Context
	shutdown func()

	mu      sync.Mutex
	onLost  func(error)
	lost    bool
	lostErr error
}

func newLink(frames frameStream) *link {
	ctx, shutdown := context.WithCancel(context.Background())
	return &link{
		frames:   frames,
		inbox:    make(chan *envelope, 1),
		outbox:   make(chan *envelope, 1),
		ctx:      ctx,
		shutdown: shutdown,
	}
}

// Inbox returns the channel that delivers envelopes sent by the peer.
func (l *link) Inbox() <-chan *envelope { return l.inbox }

// Outbox returns the channel that accepts envelopes for the peer.
func (l *link) Outbox() chan<- *envelope { return l.outbox }

// Done returns a channel that is closed when the link is torn down.
func (l *link) Done() <-chan struct{} { return l.ctx.Done() }

// OnLost registers cb to be invoked with the error that broke the inbound
// direction. If that already happened, cb is invoked right away.
func (l *link) OnLost(cb func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLost = cb
	if l.lost && cb != nil {
		cb(l.lostErr)
	}
}

// readLoop decodes inbound frames until the stream fails. A frame that
// cannot be decoded breaks the link like a transport error does.
func (l *link) readLoop() {
	defer l.shutdown()
	for {
		msg, err := l.frames.Recv()
		var env *envelope
		if err == nil {
			env, err = unmarshalEnvelope(msg)
		}
		if err != nil {
			l.markLost(err)
			return
		}

		select {
		case l.inbox <- env:
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *link) markLost(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lost, l.lostErr = true, err
	if l.onLost != nil {
		l.onLost(err)
	}
}

func (l *link) write(env *envelope) error {
	msg, err := marshalEnvelope(env)
	if err != nil {
		return err
	}
	return l.frames.Send(msg)
}

// rankConn is the hub's end of the relay stream opened by a rank.
type rankConn struct {
	*link
	srv relayConnectServer

	closeOnce sync.Once
	closeCh   chan error
}

func newRankConn(srv relayConnectServer) *rankConn {
	return &rankConn{
		link:    newLink(srv),
		srv:     srv,
		closeCh: make(chan error, 1),
	}
}

// Serve pumps envelopes until the hub closes the connection or the rank
// goes away. Its return value is the status the rank observes when its
// stream ends.
func (c *rankConn) Serve() error {
	defer c.shutdown()
	go c.readLoop()
	for {
		select {
		case env := <-c.outbox:
			if err := c.write(env); err != nil {
				return status.Error(codes.Internal, err.Error())
			}
		case err, ok := <-c.closeCh:
			if !ok {
				return nil
			}
			return status.Error(codes.Aborted, err.Error())
		case <-c.Done():
			return status.Error(codes.Aborted, errGroupAborted.Error())
		}
	}
}

// Close ends the rank's stream. A nil err ends it cleanly; otherwise the
// rank receives err with an Aborted status code. Only the first call has
// an effect.
func (c *rankConn) Close(err error) {
	c.closeOnce.Do(func() {
		if err != nil {
			c.closeCh <- err
		}
		close(c.closeCh)
	})
}

// hubConn is a rank's end of its relay stream.
type hubConn struct {
	*link
	cli relayConnectClient
}

func newHubConn(cli relayConnectClient) *hubConn {
	return &hubConn{link: newLink(cli), cli: cli}
}

// Serve pumps envelopes until Close is called or the hub ends the stream.
// Sends that race with the hub ending the stream are not reported.
func (c *hubConn) Serve() error {
	defer func() {
		c.shutdown()
		_ = c.cli.CloseSend()
	}()
	go c.readLoop()
	for {
		select {
		case env := <-c.outbox:
			if err := c.write(env); err != nil && !xerrors.Is(err, io.EOF) {
				return err
			}
		case <-c.Done():
			return nil
		}
	}
}

// Close tears the connection down.
func (c *hubConn) Close() { c.shutdown() }
