// Package poller implements the process-wide completion poller of §4.6: a
// single background goroutine holding a spin-lockable list of connections,
// round-robin draining each one's completion queue and driving its state
// machine forward. Grounded on the teacher's per-queue ioLoop
// (internal/queue/runner.go): a pinned loop thread that blocks for
// completions, dispatches per-tag, then moves to the next batch.
package poller

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/behrlich/rdma-rpc/internal/logging"
	"github.com/behrlich/rdma-rpc/internal/rpcerr"
)

// pollable is the narrow surface the poller needs from a connection; it
// matches connection.Connection exactly but is declared locally to avoid
// poller depending on the connection package for anything beyond these
// methods. FailAll/Close back a terminal PollOnce error (§7
// PeerDisconnected): the poller is the only thing that notices a dead
// queue-pair, so it is the only thing that can force stuck contexts back to
// Vacant and tear the connection down.
type pollable interface {
	PollOnce(cqCap int) error
	FailAll(err error)
	Close() error
}

// Poller owns one background goroutine that round-robins over a set of
// registered connections.
type Poller struct {
	cqCap int

	mu      sync.Mutex // not taken; conns is guarded by the TTAS spin on locked
	locked  atomic.Bool
	conns   []pollable
	running atomic.Bool
	stopC   chan struct{}
	doneC   chan struct{}

	logger *logging.Logger
}

// New constructs a Poller that drains up to cqCap completions per
// connection per pass.
func New(cqCap int) *Poller {
	return &Poller{
		cqCap:  cqCap,
		stopC:  make(chan struct{}),
		doneC:  make(chan struct{}),
		logger: logging.Default(),
	}
}

func (p *Poller) lock() {
	for {
		if !p.locked.Load() && p.locked.CompareAndSwap(false, true) {
			return
		}
		runtime.Gosched()
	}
}

func (p *Poller) unlock() { p.locked.Store(false) }

// Register adds a connection to the poll set. Safe to call concurrently
// with Run.
func (p *Poller) Register(c pollable) {
	p.lock()
	p.conns = append(p.conns, c)
	p.unlock()
}

// Unregister removes a connection from the poll set (teardown, §4.5).
func (p *Poller) Unregister(c pollable) {
	p.lock()
	for i, existing := range p.conns {
		if existing == c {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			break
		}
	}
	p.unlock()
}

// Run starts the poll loop on the calling goroutine and blocks until Stop
// is called. Callers typically invoke it via `go poller.Run()`.
func (p *Poller) Run() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	defer close(p.doneC)

	for {
		select {
		case <-p.stopC:
			return
		default:
		}

		p.lock()
		conns := p.conns
		live := conns[:0]
		for _, c := range conns {
			if err := c.PollOnce(p.cqCap); err != nil {
				p.logger.Debug("connection poll ended, disconnecting", "err", err)
				c.FailAll(rpcerr.Wrap(rpcerr.PeerDisconnected, "poll", err))
				c.Close()
				continue
			}
			live = append(live, c)
		}
		p.conns = live
		p.unlock()

		if len(conns) == 0 {
			runtime.Gosched()
		}
	}
}

// Stop signals the poll loop to exit and waits for it to do so.
func (p *Poller) Stop() {
	if !p.running.Load() {
		return
	}
	close(p.stopC)
	<-p.doneC
}
