package remote

import (
	"context"
	"sync"

	"github.com/mpilab/distapsp/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// groupCoordinatorConfig encapsulates the configuration options for the
// group coordinator.
type groupCoordinatorConfig struct {
	details GroupDetails
	ranks   []*rankConn
	logger  *logrus.Entry
}

// groupCoordinator is used by the hub to relay traffic between the members
// of a process group and to release them from barriers in lock-step.
type groupCoordinator struct {
	groupCtx       context.Context
	cancelGroupCtx func()

	barrier *hubBarrier
	doneCh  chan int

	mu       sync.Mutex
	done     []bool
	abortErr error

	cfg groupCoordinatorConfig
}

// newGroupCoordinator creates a new coordinator instance for the specified
// rank list. The rank index in the list is the rank assigned to each member.
func newGroupCoordinator(ctx context.Context, cfg groupCoordinatorConfig) *groupCoordinator {
	groupCtx, cancelGroupCtx := context.WithCancel(ctx)
	return &groupCoordinator{
		groupCtx:       groupCtx,
		cancelGroupCtx: cancelGroupCtx,
		barrier:        newHubBarrier(groupCtx, len(cfg.ranks)),
		doneCh:         make(chan int, len(cfg.ranks)),
		done:           make([]bool, len(cfg.ranks)),
		cfg:            cfg,
	}
}

// Run announces the group to its members and relays their traffic until all
// of them report completion or the group gets aborted.
func (c *groupCoordinator) Run() error {
	for rank, r := range c.cfg.ranks {
		rank := rank
		r.OnLost(func(error) { c.handleRankDisconnect(rank) })
		c.sendToRank(r, c.welcomeEnvelope(rank))
	}

	// Start a goroutine to process incoming messages from each rank and
	// one more for driving the group barriers.
	var wg sync.WaitGroup
	wg.Add(len(c.cfg.ranks) + 1)
	for rank, r := range c.cfg.ranks {
		go func(rank int, r *rankConn) {
			defer wg.Done()
			c.handleRankPayloads(rank, r)
		}(rank, r)
	}
	go func() {
		defer wg.Done()
		c.runBarriers()
	}()

	err := c.waitForCompletion()
	c.cancelGroupCtx()
	wg.Wait() // wait for any spawned goroutines to exit before returning.
	return err
}

// Bits of the flags value carried by welcome envelopes.
const (
	welcomeRandomGraph int64 = 1 << iota
	welcomeShowResults
)

func (c *groupCoordinator) welcomeEnvelope(rank int) *envelope {
	var flags int64
	if c.cfg.details.RandomGraph {
		flags |= welcomeRandomGraph
	}
	if c.cfg.details.ShowResults {
		flags |= welcomeShowResults
	}
	return &envelope{
		Kind:  kindWelcome,
		JobID: c.cfg.details.JobID,
		Dst:   rank,
		Size:  len(c.cfg.ranks),
		Data: []int64{
			int64(c.cfg.details.NumVertices),
			c.cfg.details.Seed,
			flags,
			c.cfg.details.CreatedAt.UnixNano(),
		},
	}
}

// waitForCompletion blocks until every rank sends a done envelope or the
// group context expires.
func (c *groupCoordinator) waitForCompletion() error {
	for remaining := len(c.cfg.ranks); remaining > 0; remaining-- {
		select {
		case <-c.doneCh:
		case <-c.groupCtx.Done():
			c.mu.Lock()
			err := c.abortErr
			c.mu.Unlock()
			if err == nil {
				err = errGroupAborted
			}
			return err
		}
	}
	return nil
}

// handleRankDisconnect is invoked when a remote rank stream disconnects.
func (c *groupCoordinator) handleRankDisconnect(rank int) {
	c.mu.Lock()
	completed := c.done[rank]
	c.mu.Unlock()
	if completed {
		return
	}

	select {
	case <-c.groupCtx.Done(): // group already aborted or completed
	default:
		c.abort(xerrors.Errorf("lost connection to rank %d", rank))
	}
}

// abort records the first failure reason and cancels the group.
func (c *groupCoordinator) abort(err error) {
	c.mu.Lock()
	if c.abortErr == nil {
		c.abortErr = err
		c.cfg.logger.WithField("err", err).Error("aborting process group")
	}
	c.mu.Unlock()
	c.cancelGroupCtx()
}

// handleRankPayloads implements the receive loop for envelopes sent by a
// remote rank.
func (c *groupCoordinator) handleRankPayloads(rank int, r *rankConn) {
	var env *envelope
	for {
		select {
		case env = <-r.Inbox():
		case <-c.groupCtx.Done():
			return
		}

		switch env.Kind {
		case kindSend:
			if env.Dst < 0 || env.Dst >= len(c.cfg.ranks) {
				c.abort(xerrors.Errorf("rank %d sent a message to non-existent rank %d", rank, env.Dst))
				return
			}
			env.Src = rank
			c.sendToRank(c.cfg.ranks[env.Dst], env)
			c.countRelayed(env)
		case kindBcast:
			env.Src = rank
			for dst, peer := range c.cfg.ranks {
				if dst != rank {
					c.sendToRank(peer, env)
					c.countRelayed(env)
				}
			}
		case kindBarrier:
			// Enter the barrier and wait for the release envelope.
			release, err := c.barrier.Wait(env)
			if err != nil {
				return
			}
			c.sendToRank(r, release)
		case kindAbort:
			c.abort(xerrors.Errorf("rank %d aborted the group: %s", rank, env.Reason))
			return
		case kindDone:
			c.mu.Lock()
			alreadyDone := c.done[rank]
			c.done[rank] = true
			c.mu.Unlock()
			if !alreadyDone {
				c.doneCh <- rank
			}
		default:
			c.abort(xerrors.Errorf("rank %d sent unexpected %q envelope", rank, env.Kind))
			return
		}
	}
}

// runBarriers collects the barrier envelopes of all ranks and releases them
// once every rank has entered the same barrier.
func (c *groupCoordinator) runBarriers() {
	for {
		envs, err := c.barrier.WaitForRanks()
		if err != nil {
			return
		}

		seq := envs[0].Seq
		for _, env := range envs[1:] {
			if env.Seq != seq {
				c.abort(xerrors.Errorf("barrier mismatch: ranks entered barriers %d and %d", seq, env.Seq))
				return
			}
		}

		if err = c.barrier.NotifyRanks(&envelope{Kind: kindBarrier, Seq: seq}); err != nil {
			return
		}
	}
}

func (c *groupCoordinator) countRelayed(env *envelope) {
	metrics.RelayedMessages.WithLabelValues(env.Kind).Inc()
	metrics.RelayedValues.WithLabelValues(env.Kind).Add(float64(len(env.Data)))
}

// sendToRank attempts to send an envelope to a remote rank. It blocks until
// either the envelope is enqueued for sending or the group context expires.
func (c *groupCoordinator) sendToRank(r *rankConn, env *envelope) {
	select {
	case r.Outbox() <- env:
	case <-c.groupCtx.Done():
	}
}
