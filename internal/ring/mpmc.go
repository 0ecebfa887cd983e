// Package ring implements the wait-free bounded ring described in §4.4: a
// multi-producer multi-consumer ring of context pointers (also the server's
// pending-task queue), plus a single-producer single-consumer variant. The
// algorithm is a direct port of the CAS-loop ring template found
// in the original C++ source (include/util/ring.hh): two cache-line-padded
// handles, each owning an atomic head and tail, with producers advancing
// head via CAS and publishing via tail, and consumers doing the symmetric
// dance against the opposite handle's tail as their "readable frontier".
package ring

import (
	"runtime"
	"sync/atomic"
)

// cacheLineSize is the line width each handle's (head, tail) plus padding
// fills, preventing false sharing between the producer and consumer handles
// — the same rationale as _pad1_/_pad2_ in the original template.
const cacheLineSize = 64

type handle struct {
	head atomic.Uint32
	tail atomic.Uint32
	_    [cacheLineSize - 8]byte
}

// MPMC is a bounded, wait-free multi-producer multi-consumer ring of
// unsafe.Pointer-sized slots. Capacity is rounded up to the next power of
// two so that index masking can replace modulo.
type MPMC struct {
	mask     uint32
	elems    []uintptr
	producer handle
	consumer handle
}

// NewMPMC creates a ring whose capacity is the next power of two >= n.
func NewMPMC(n int) *MPMC {
	cap := nextPow2(n)
	return &MPMC{
		mask:  uint32(cap - 1),
		elems: make([]uintptr, cap),
	}
}

func nextPow2(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Cap returns the ring's capacity (a power of two, possibly larger than the
// n passed to NewMPMC).
func (r *MPMC) Cap() int { return int(r.mask) + 1 }

// TryPush attempts to place x in the ring without blocking. It returns false
// if the ring is full.
func (r *MPMC) TryPush(x uintptr) bool {
	for {
		old := r.producer.head.Load()
		consumerTail := r.consumer.tail.Load()
		free := (r.mask + 1) + consumerTail - old
		if free < 1 {
			return false
		}
		if r.producer.head.CompareAndSwap(old, old+1) {
			r.elems[old&r.mask] = x
			// Publish: wait for our turn (earlier reservations may still be
			// writing their slots), then advance the readable tail.
			for r.producer.tail.Load() != old {
				runtime.Gosched()
			}
			r.producer.tail.Store(old + 1)
			return true
		}
		runtime.Gosched()
	}
}

// TryPop attempts to remove one element without blocking. It returns false
// if the ring is empty.
func (r *MPMC) TryPop() (uintptr, bool) {
	for {
		old := r.consumer.head.Load()
		producerTail := r.producer.tail.Load()
		avail := producerTail - old
		if avail < 1 {
			return 0, false
		}
		if r.consumer.head.CompareAndSwap(old, old+1) {
			x := r.elems[old&r.mask]
			for r.consumer.tail.Load() != old {
				runtime.Gosched()
			}
			r.consumer.tail.Store(old + 1)
			return x, true
		}
		runtime.Gosched()
	}
}

// Push blocks (pause-spinning) until the element can be placed.
func (r *MPMC) Push(x uintptr) {
	for !r.TryPush(x) {
		runtime.Gosched()
	}
}

// Pop blocks (pause-spinning) until an element is available.
func (r *MPMC) Pop() uintptr {
	for {
		if x, ok := r.TryPop(); ok {
			return x
		}
		runtime.Gosched()
	}
}

// Len returns a point-in-time estimate of the number of queued elements.
// Safe to call concurrently; not linearizable with respect to Push/Pop.
func (r *MPMC) Len() int {
	return int(r.producer.tail.Load() - r.consumer.tail.Load())
}

// SPSC is the single-producer single-consumer specialization: plain
// atomics, no CAS, since there is exactly one writer and one reader. No
// package in this module uses it; workerpool's pending-task queue is an MPMC.
type SPSC struct {
	mask  uint32
	elems []uintptr
	head  atomic.Uint32 // next slot to write (producer-owned)
	_     [cacheLineSize - 4]byte
	tail  atomic.Uint32 // next slot to read (consumer-owned)
	_     [cacheLineSize - 4]byte
}

// NewSPSC creates a single-producer single-consumer ring of capacity
// nextPow2(n).
func NewSPSC(n int) *SPSC {
	cap := nextPow2(n)
	return &SPSC{
		mask:  uint32(cap - 1),
		elems: make([]uintptr, cap),
	}
}

// TryPush is only safe to call from the single producer goroutine.
func (r *SPSC) TryPush(x uintptr) bool {
	head := r.head.Load()
	tail := r.tail.Load()
	if head-tail >= r.mask+1 {
		return false
	}
	r.elems[head&r.mask] = x
	r.head.Store(head + 1)
	return true
}

// TryPop is only safe to call from the single consumer goroutine.
func (r *SPSC) TryPop() (uintptr, bool) {
	tail := r.tail.Load()
	head := r.head.Load()
	if head == tail {
		return 0, false
	}
	x := r.elems[tail&r.mask]
	r.tail.Store(tail + 1)
	return x, true
}
