package transport

import (
	"errors"
	"sync"

	"github.com/behrlich/rdma-rpc/internal/arena"
)

// ErrClosed is returned by a blocked post once the queue-pair (or its peer)
// has been closed.
var ErrClosed = errors.New("transport: queue-pair closed")

type recvSlot struct {
	ctxTag uintptr
	addr   uint64
	length uint32
}

// LoopbackQP is the default Verbs implementation: there is no ibverbs
// binding anywhere in the example corpus, so §4.1's queue-pair is realized
// as a same-process simulation that aliases two endpoints' arenas directly,
// the same kind of grounded stand-in as the teacher's NewStubRunner/stubLoop
// (internal/queue/runner.go) substitutes for a real ublk kernel device when
// none is available. Two LoopbackQPs are always created as a pair, each
// holding a pointer to the other, and every "wire" operation is really a
// []byte copy between the two arenas plus a completion posted on the
// appropriate side.
type LoopbackQP struct {
	mem  []byte
	lkey uint32

	recvQueue chan recvSlot
	cq        chan Completion

	mu         sync.Mutex
	peer       *LoopbackQP
	closed     bool
	closeC     chan struct{}
	peerClosed chan struct{}

	// ownedArena is set by cm.go when it allocated mem itself (as opposed to
	// NewLoopbackPair, where the caller owns the arena). Close releases it,
	// which matters when HugePages is set: that memory is MAP_HUGETLB'd and
	// must be explicitly munmapped rather than left for the GC.
	ownedArena *arena.Arena
}

// NewLoopbackQP constructs one half of a loopback pair with no peer; the
// peer is supplied later with SetPeer, for the rendezvous flow in cm.go
// where the two halves are constructed in different goroutines.
func NewLoopbackQP(mem []byte, lkey uint32, cqCapacity, recvQueueDepth int) *LoopbackQP {
	return &LoopbackQP{
		mem:        mem,
		lkey:       lkey,
		recvQueue:  make(chan recvSlot, recvQueueDepth),
		cq:         make(chan Completion, cqCapacity),
		closeC:     make(chan struct{}),
		peerClosed: make(chan struct{}),
	}
}

// NewLoopbackPair builds two linked LoopbackQPs directly, bypassing the
// connection-manager handshake. Tests use it; Client and Server go through
// LoopbackCM instead.
func NewLoopbackPair(memA []byte, lkeyA uint32, memB []byte, lkeyB uint32, cqCapacity, recvQueueDepth int) (a, b *LoopbackQP) {
	a = NewLoopbackQP(memA, lkeyA, cqCapacity, recvQueueDepth)
	b = NewLoopbackQP(memB, lkeyB, cqCapacity, recvQueueDepth)
	a.SetPeer(b)
	b.SetPeer(a)
	return a, b
}

// SetPeer links the other half of the pair after construction.
func (q *LoopbackQP) SetPeer(peer *LoopbackQP) {
	q.mu.Lock()
	q.peer = peer
	q.mu.Unlock()
}

func (q *LoopbackQP) getPeer() *LoopbackQP {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peer
}

// LocalKey returns the memory-region key PostRead/PostWriteImm callers on
// the peer side must present to target this queue-pair's arena.
func (q *LoopbackQP) LocalKey() uint32 { return q.lkey }

// Bytes returns the arena memory backing this queue-pair's addr offsets.
func (q *LoopbackQP) Bytes() []byte { return q.mem }

// PostRecv enqueues a receive slot. FIFO order matters: §4.3's
// immediate-demultiplexing trick depends on a Write-with-immediate
// consuming whatever slot is next in line, independent of which context
// posted it.
func (q *LoopbackQP) PostRecv(ctxTag uintptr, addr uint64, length uint32, lkey uint32) error {
	select {
	case q.recvQueue <- recvSlot{ctxTag: ctxTag, addr: addr, length: length}:
		return nil
	default:
		return ErrRingFull
	}
}

// PostSend copies the local buffer into whatever receive slot the peer has
// next in its queue, blocking (modeling RNR-retry) until one is posted.
func (q *LoopbackQP) PostSend(ctxTag uintptr, addr uint64, length uint32, lkey uint32, inline bool) error {
	peer := q.getPeer()
	if peer == nil {
		return ErrClosed
	}

	var slot recvSlot
	select {
	case slot = <-peer.recvQueue:
	case <-q.closeC:
		return ErrClosed
	case <-peer.closeC:
		return ErrClosed
	}

	n := length
	if slot.length < n {
		n = slot.length
	}
	copy(peer.mem[slot.addr:slot.addr+uint64(n)], q.mem[addr:addr+uint64(n)])

	q.postCompletion(Completion{CtxTag: ctxTag, Opcode: OpSend, Status: StatusSuccess})
	peer.postCompletion(Completion{CtxTag: slot.ctxTag, Opcode: OpRecv, Imm32: n, Status: StatusSuccess})
	return nil
}

// PostRead performs a one-sided copy out of the peer's arena. True RDMA
// reads are invisible to the remote side: the peer's queue-pair sees
// nothing, only the local side gets a completion.
func (q *LoopbackQP) PostRead(ctxTag uintptr, addr uint64, length uint32, lkey uint32, remoteAddr uint64, rkey uint32) error {
	peer := q.getPeer()
	if peer == nil {
		return ErrClosed
	}
	copy(q.mem[addr:addr+uint64(length)], peer.mem[remoteAddr:remoteAddr+uint64(length)])
	q.postCompletion(Completion{CtxTag: ctxTag, Opcode: OpRead, Status: StatusSuccess})
	return nil
}

// PostWriteImm performs a one-sided copy into the peer's arena at
// remoteAddr and delivers imm32 on whichever receive slot the peer has next
// in line. That slot's original ctx_tag is preserved on the resulting
// completion even though imm32 names the true target context: the consumer
// must demultiplex by imm32, per §4.3.
func (q *LoopbackQP) PostWriteImm(ctxTag uintptr, addr uint64, length uint32, lkey uint32, remoteAddr uint64, rkey uint32, imm32 uint32) error {
	peer := q.getPeer()
	if peer == nil {
		return ErrClosed
	}

	var slot recvSlot
	select {
	case slot = <-peer.recvQueue:
	case <-q.closeC:
		return ErrClosed
	case <-peer.closeC:
		return ErrClosed
	}

	copy(peer.mem[remoteAddr:remoteAddr+uint64(length)], q.mem[addr:addr+uint64(length)])

	q.postCompletion(Completion{CtxTag: ctxTag, Opcode: OpWrite, Status: StatusSuccess})
	peer.postCompletion(Completion{CtxTag: slot.ctxTag, Opcode: OpRecvImm, Imm32: imm32, Status: StatusSuccess})
	return nil
}

func (q *LoopbackQP) postCompletion(c Completion) {
	select {
	case q.cq <- c:
	case <-q.closeC:
	}
}

// PollCompletions never blocks: it drains up to max completions that are
// already queued and returns immediately, possibly with zero, matching §5's
// "the poller never suspends; it spin-polls the CQ". It only returns an
// error once the queue-pair has been closed, either locally or because the
// peer closed first — the poller treats either as a terminal disconnect.
func (q *LoopbackQP) PollCompletions(max int) ([]Completion, error) {
	select {
	case <-q.closeC:
		return nil, ErrClosed
	case <-q.peerClosed:
		return nil, ErrClosed
	default:
	}

	out := make([]Completion, 0, max)
	for len(out) < max {
		select {
		case c, ok := <-q.cq:
			if !ok {
				return out, nil
			}
			out = append(out, c)
		default:
			return out, nil
		}
	}
	return out, nil
}

// Close tears down the queue-pair, unblocking any goroutine parked in
// PostSend/PostWriteImm/PollCompletions on either side of the pair, and
// notifies the peer (if any) that it has been disconnected.
func (q *LoopbackQP) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	peer := q.peer
	owned := q.ownedArena
	q.mu.Unlock()
	close(q.closeC)
	if peer != nil {
		peer.notifyPeerClosed()
	}
	if owned != nil {
		return owned.Close()
	}
	return nil
}

// notifyPeerClosed marks this half of the pair as having lost its peer,
// without closing its own resources: a caller still holding this QP can
// observe the disconnect via PollCompletions/waitDisconnected.
func (q *LoopbackQP) notifyPeerClosed() {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case <-q.peerClosed:
	default:
		close(q.peerClosed)
	}
}

// waitDisconnected blocks until this queue-pair is no longer usable, either
// because Close was called locally or because the peer closed first. It is
// used by the connection manager to learn of a disconnect it didn't itself
// initiate, so it can surface an EventDisconnected.
func (q *LoopbackQP) waitDisconnected() {
	select {
	case <-q.closeC:
	case <-q.peerClosed:
	}
}

// --- rendezvous registry ---
//
// cm.go's TCP handshake carries a wire.PrivateData.Token so that a dialing
// client's LoopbackQP and the accepting server's LoopbackQP, constructed in
// independent goroutines, can be linked as peers. An entry lives from the
// client registering its half until the client's WaitPendingDial removes
// it, after the server's accept handler has completed the handshake.

var dialRegistry sync.Map // token uint64 -> *pendingDial

type pendingDial struct {
	qp   *LoopbackQP
	done chan struct{}
}

// RegisterPendingDial publishes the dialing side's half of the pair under
// token, for a concurrently-running accept handler to find.
func RegisterPendingDial(token uint64, qp *LoopbackQP) {
	dialRegistry.Store(token, &pendingDial{qp: qp, done: make(chan struct{})})
}

// CompletePendingDial links serverQP as the peer of the dialer registered
// under token and wakes it. It returns false if no dialer is registered
// under that token, or that dialer was already linked (a protocol error:
// the handshake named a token nobody is waiting on).
func CompletePendingDial(token uint64, serverQP *LoopbackQP) bool {
	v, ok := dialRegistry.Load(token)
	if !ok {
		return false
	}
	pd := v.(*pendingDial)
	select {
	case <-pd.done:
		return false
	default:
	}
	pd.qp.SetPeer(serverQP)
	serverQP.SetPeer(pd.qp)
	close(pd.done)
	return true
}

// WaitPendingDial blocks until CompletePendingDial has linked the dialer
// registered under token, or closeC fires first.
func WaitPendingDial(token uint64, closeC <-chan struct{}) bool {
	v, ok := dialRegistry.LoadAndDelete(token)
	if !ok {
		return false
	}
	pd := v.(*pendingDial)
	select {
	case <-pd.done:
		return true
	case <-closeC:
		return false
	}
}
