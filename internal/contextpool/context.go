// Package contextpool implements the per-connection context array and the
// caller-side free ring described in §4.3/§4.5: a fixed set of pre-allocated
// RPC slots, each bound to one arena page, cycling through a small state
// machine as a call or a served request progresses. The state-transition
// logic itself lives in internal/connection, which owns the transport and
// headers a Context needs to act on; this package only owns the slots, the
// states, and the blocking/waking mechanism a caller thread uses to wait
// for its response — the teacher's equivalent is the TagState enum plus
// per-tag mutex pairing in internal/queue/runner.go.
package contextpool

import (
	"sync"

	"github.com/behrlich/rdma-rpc/internal/ring"
)

// State is the caller/handler context state machine of §4.3. Both roles
// share one enum, the same design choice spec.md's design notes recommend
// ("tagged enum... prefer the enum for cache locality") over two dynamically
// dispatched implementor types.
type State int

const (
	Vacant State = iota
	SendingBufferMeta   // caller: header (+payload) posted, awaiting send completion
	WaitingForResponse  // caller: awaiting the write-with-immediate carrying the reply
	WaitingForBufferMeta // handler: recv posted, awaiting a request
	ReadingRequest      // handler: one-sided read of a large request in flight
	FilledWithRequest   // handler: request ready, queued for a worker
	WritingResponse     // handler: write-with-immediate of the response in flight
)

func (s State) String() string {
	switch s {
	case Vacant:
		return "Vacant"
	case SendingBufferMeta:
		return "SendingBufferMeta"
	case WaitingForResponse:
		return "WaitingForResponse"
	case WaitingForBufferMeta:
		return "WaitingForBufferMeta"
	case ReadingRequest:
		return "ReadingRequest"
	case FilledWithRequest:
		return "FilledWithRequest"
	case WritingResponse:
		return "WritingResponse"
	default:
		return "Unknown"
	}
}

// Context is one pre-allocated RPC slot: a fixed arena page plus the state
// needed to carry exactly one in-flight call or served request. A caller
// thread blocks on cond while state != Vacant (or err != nil). The
// completion poller drives most transitions, and the caller and handler
// workers also set state when they post; every change goes through
// SetState or Fail, which signal cond.
type Context struct {
	ID   uint32 // ctx_id = (conn_id << 16) | slot index, see wire.MakeContextID
	Page []byte

	mu    sync.Mutex
	cond  *sync.Cond
	state State
	err   error

	// RPCID is the request's handler table key: set by the caller before a
	// Send, read by the handler off the wire header on the server side.
	RPCID uint32
	// RemoteAddr/RemoteKey target a one-sided Read (server, large request)
	// or Write-with-immediate (server, response) at this context's peer
	// page, learned from the request header.
	RemoteAddr uint64
	RemoteKey  uint32
	// PeerCtxID is the caller's own ctx_id, carried in the request header
	// and echoed back as imm32 on the response's Write-with-immediate.
	PeerCtxID uint32
	// ReqLen is the request payload length from the request header.
	ReqLen uint32
}

func newContext(id uint32, page []byte) *Context {
	c := &Context{ID: id, Page: page, state: Vacant}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// State returns the current state under the context's lock.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState transitions the context and wakes anyone blocked in WaitForVacant.
func (c *Context) SetState(s State) {
	c.mu.Lock()
	c.state = s
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Fail latches an error and drops the context to Vacant, per §7: a
// non-success completion always force-returns the context to Vacant.
func (c *Context) Fail(err error) {
	c.mu.Lock()
	c.err = err
	c.state = Vacant
	c.cond.Broadcast()
	c.mu.Unlock()
}

// WaitForVacant blocks until the context returns to Vacant, returning any
// latched error and clearing it for the slot's next use.
func (c *Context) WaitForVacant() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.state != Vacant {
		c.cond.Wait()
	}
	err := c.err
	c.err = nil
	return err
}

// Pool is a connection's fixed array of N_ctx contexts plus the caller-side
// free ring of §4.4/§4.5.
type Pool struct {
	contexts []*Context
	free     *ring.MPMC
}

// New builds a pool of len(pages) contexts, ids connID<<16 | index. If
// populateFree is true every context starts pushed onto the free ring
// (caller role, per §4.5 step 4); server-role pools leave it empty, since
// the server has no free-ring concept — every context is always "owned" by
// its pre-posted Recv.
func New(connID uint16, pages [][]byte, populateFree bool) *Pool {
	p := &Pool{
		contexts: make([]*Context, len(pages)),
		free:     ring.NewMPMC(len(pages)),
	}
	for i, page := range pages {
		id := uint32(connID)<<16 | uint32(i)
		p.contexts[i] = newContext(id, page)
		if populateFree {
			p.free.Push(uintptr(i))
		}
	}
	return p
}

// Len returns the number of contexts in the pool.
func (p *Pool) Len() int { return len(p.contexts) }

// At returns the context at slot index i.
func (p *Pool) At(i int) *Context { return p.contexts[i] }

// BySlot returns the context whose ctx_id's low 16 bits equal slot.
func (p *Pool) BySlot(slot uint16) *Context { return p.contexts[slot] }

// Acquire pops a free context (blocking spin, §4.5 step 1).
func (p *Pool) Acquire() *Context {
	idx := p.free.Pop()
	return p.contexts[idx]
}

// Release pushes a context back onto the free ring.
func (p *Pool) Release(c *Context) {
	for i, ctx := range p.contexts {
		if ctx == c {
			p.free.Push(uintptr(i))
			return
		}
	}
}

// FreeLen reports the free ring's current depth, used by property 1
// (context conservation) tests.
func (p *Pool) FreeLen() int { return p.free.Len() }
