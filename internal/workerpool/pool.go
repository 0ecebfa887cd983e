// Package workerpool implements §4.7: a fixed number of worker goroutines
// draining a bounded MPMC ring of tasks. Grounded on the teacher's
// internal/queue/pool.go buffer-pooling pattern, adapted from pooling byte
// buffers to pooling units of work, and on ring.MPMC (§4.4) for the bounded
// queue itself.
package workerpool

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/behrlich/rdma-rpc/internal/ring"
)

type taskBox struct {
	fn func()
}

// Pool runs a fixed set of worker goroutines pulling tasks off a bounded
// MPMC ring. Enqueueing on a full ring spins (§4.7: "If the ring is full,
// the enqueuer spins").
//
// ring.MPMC only moves uintptr values, so a task's sole live reference can't
// be the value sitting in tasks.elems: nothing else would keep it reachable
// for the GC between Submit and the worker's TryPop. Grounded on
// internal/contextpool's free-ring pattern (§4.4/§4.5): slots holds the
// real *taskBox references, and both rings only ever carry indices into it.
// A given index lives in exactly one of freeIDs, tasks, or "checked out by
// Submit/a worker" at any moment, so slots never needs more entries than the
// ring's capacity.
type Pool struct {
	tasks   *ring.MPMC
	freeIDs *ring.MPMC
	slots   []atomic.Pointer[taskBox]
	workers int

	wg      sync.WaitGroup
	stopped atomic.Bool
}

// New constructs a worker pool with the given worker count and ring
// capacity. workers <= 0 defaults to runtime.NumCPU().
func New(workers, ringCapacity int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	tasks := ring.NewMPMC(ringCapacity)
	cap := tasks.Cap()
	p := &Pool{
		tasks:   tasks,
		freeIDs: ring.NewMPMC(cap),
		slots:   make([]atomic.Pointer[taskBox], cap),
		workers: workers,
	}
	for i := 0; i < cap; i++ {
		p.freeIDs.Push(uintptr(i))
	}
	return p
}

// Start spins up the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()
	for {
		if p.stopped.Load() {
			return
		}
		id, ok := p.tasks.TryPop()
		if !ok {
			runtime.Gosched()
			continue
		}
		box := p.slots[id].Swap(nil)
		p.freeIDs.Push(id)
		box.fn()
	}
}

// Submit enqueues a task, spinning if the ring is momentarily full. Slot
// acquisition (freeIDs.Pop) and task handoff (tasks.Push) are separate
// steps, but tasks can never be full at the second step: an id only reaches
// freeIDs.Pop once nothing else holds it, and every id is in exactly one of
// freeIDs/tasks/in-flight at a time, so there's always room to push it back.
func (p *Pool) Submit(fn func()) {
	id := p.freeIDs.Pop()
	p.slots[id].Store(&taskBox{fn: fn})
	p.tasks.Push(id)
}

// Stop signals every worker to exit after finishing its current task (if
// any) and waits for them to do so. Per §4.5's shutdown precondition, Stop
// is only called once all outstanding calls have returned, so there is no
// requirement to drain tasks still sitting in the ring.
func (p *Pool) Stop() {
	p.stopped.Store(true)
	p.wg.Wait()
}

// Len reports the current queue depth, for diagnostics and tests.
func (p *Pool) Len() int { return p.tasks.Len() }
