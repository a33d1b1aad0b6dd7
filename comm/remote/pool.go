package remote

import (
	"context"
	"sync"
)

// rankPool queues rank connections until they are assigned to a process
// group. Connections leave the queue in the order they joined; a connection
// that drops while queued is discarded.
type rankPool struct {
	ctx  context.Context
	stop func()

	mu       sync.Mutex
	queue    []*queuedRank
	changed  chan struct{}
	watchers sync.WaitGroup
}

// queuedRank is a connection waiting in the pool together with the
// goroutine watching it for disconnects.
type queuedRank struct {
	conn        *rankConn
	stopWatch   chan struct{}
	watchExited chan struct{}
}

func newRankPool() *rankPool {
	ctx, stop := context.WithCancel(context.Background())
	return &rankPool{
		ctx:     ctx,
		stop:    stop,
		changed: make(chan struct{}, 1),
	}
}

// Close stops the pool. Queued connections are closed with
// errHubShuttingDown and pending reservations fail.
func (p *rankPool) Close() error {
	p.stop()
	p.watchers.Wait()

	p.mu.Lock()
	p.queue = nil
	p.mu.Unlock()
	return nil
}

// AddRank queues conn.
func (p *rankPool) AddRank(conn *rankConn) {
	qr := &queuedRank{
		conn:        conn,
		stopWatch:   make(chan struct{}),
		watchExited: make(chan struct{}),
	}

	p.mu.Lock()
	p.queue = append(p.queue, qr)
	p.watchers.Add(1)
	p.mu.Unlock()

	go p.watch(qr)
	p.notifyChange()
}

// Len returns the number of queued connections.
func (p *rankPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// watch discards qr if its rank disconnects before it is reserved.
func (p *rankPool) watch(qr *queuedRank) {
	defer p.watchers.Done()
	defer close(qr.watchExited)

	select {
	case <-qr.conn.srv.Context().Done():
		p.dequeue(qr)
	case <-p.ctx.Done():
		qr.conn.Close(errHubShuttingDown)
	case <-qr.stopWatch:
	}
}

func (p *rankPool) dequeue(qr *queuedRank) {
	p.mu.Lock()
	for i, queued := range p.queue {
		if queued == qr {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	p.notifyChange()
}

func (p *rankPool) notifyChange() {
	select {
	case p.changed <- struct{}{}:
	default: // a wake-up is already pending
	}
}

// ReserveRanks blocks until numRanks connections are queued, ctx expires or
// the pool is closed. The reserved connections are the numRanks that joined
// first; they are no longer watched by the pool once returned.
func (p *rankPool) ReserveRanks(ctx context.Context, numRanks int) ([]*rankConn, error) {
	for {
		if reserved := p.takeFirst(numRanks); reserved != nil {
			conns := make([]*rankConn, len(reserved))
			for i, qr := range reserved {
				close(qr.stopWatch)
				<-qr.watchExited
				conns[i] = qr.conn
			}
			return conns, nil
		}

		select {
		case <-p.changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.ctx.Done():
			return nil, errHubShuttingDown
		}
	}
}

// takeFirst removes and returns the first n queued connections, or returns
// nil if fewer are queued.
func (p *rankPool) takeFirst(n int) []*queuedRank {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n <= 0 || len(p.queue) < n || p.ctx.Err() != nil {
		return nil
	}

	taken := append([]*queuedRank(nil), p.queue[:n]...)
	p.queue = append([]*queuedRank(nil), p.queue[n:]...)
	return taken
}
