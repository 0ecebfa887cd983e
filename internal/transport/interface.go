// Package transport implements the two external collaborators spec.md
// treats as out of scope for their internals: the RDMA verbs surface
// (queue-pair post/poll operations, §4.1) and the connection manager
// (address resolution, connect/accept/disconnect events, §4.8). Both are
// narrow interfaces here; see SPEC_FULL.md §4.10 for why no in-corpus
// library backs a real ibverbs binding and what stands in for it.
package transport

import "errors"

// ErrRingFull mirrors the teacher's internal/uring.ErrRingFull: returned
// when a post would exceed the queue-pair's configured depth.
var ErrRingFull = errors.New("transport: submission queue full")

// Opcode identifies the verb a Completion corresponds to.
type Opcode int

const (
	OpSend Opcode = iota
	OpRecv
	OpRecvImm
	OpRead
	OpWrite
)

func (o Opcode) String() string {
	switch o {
	case OpSend:
		return "Send"
	case OpRecv:
		return "Recv"
	case OpRecvImm:
		return "RecvImm"
	case OpRead:
		return "Read"
	case OpWrite:
		return "Write"
	default:
		return "Unknown"
	}
}

// Status is the work-completion status (§4.1's poll_completions tuple).
type Status int

const (
	StatusSuccess Status = iota
	StatusError
)

// Completion is one entry yielded by PollCompletions — the (ctx_tag, opcode,
// imm32, status) tuple of §4.1.
type Completion struct {
	CtxTag uintptr
	Opcode Opcode
	Imm32  uint32
	Status Status
	Err    error
}

// Verbs is the thin wrapper over the fabric described in §4.1: post a
// receive, post a send, post a one-sided read, post a one-sided write with
// immediate, and drain completions. ctx_tag round-trips exactly; the
// transport never interprets it. addr is an offset into the connection's
// registered arena rather than a raw pointer, so the same interface works
// whether the concrete implementation moves bytes in-process (loopback, the
// only implementation in this module) or over a real fabric.
type Verbs interface {
	// PostRecv enqueues a receive on the local buffer [addr, addr+length).
	PostRecv(ctxTag uintptr, addr uint64, length uint32, lkey uint32) error

	// PostSend enqueues a two-sided send of the local buffer
	// [addr, addr+length) to the peer's next posted receive.
	PostSend(ctxTag uintptr, addr uint64, length uint32, lkey uint32, inline bool) error

	// PostRead enqueues a one-sided read of the peer's
	// [remoteAddr, remoteAddr+length) into the local buffer at addr.
	PostRead(ctxTag uintptr, addr uint64, length uint32, lkey uint32, remoteAddr uint64, rkey uint32) error

	// PostWriteImm enqueues a one-sided write of the local buffer
	// [addr, addr+length) into the peer's arena at remoteAddr, delivering
	// imm32 to the peer's next posted receive.
	PostWriteImm(ctxTag uintptr, addr uint64, length uint32, lkey uint32, remoteAddr uint64, rkey uint32, imm32 uint32) error

	// PollCompletions is non-blocking: it returns up to max completions
	// already queued, or zero if none are ready (§5: "the poller never
	// suspends; it spin-polls the CQ"). It errors once the queue-pair has
	// been closed, either locally or by its peer.
	PollCompletions(max int) ([]Completion, error)

	// LocalKey returns the local memory-region key the arena was registered
	// with, for inclusion in headers exchanged with the peer.
	LocalKey() uint32

	// Bytes returns the backing memory this queue-pair's addr/remoteAddr
	// offsets are relative to, so a caller can wrap it in an arena.Arena
	// once the queue-pair exists (the loopback implementation owns the
	// allocation itself; a real-fabric implementation would instead be
	// handed already-registered memory up front and can simply return it).
	Bytes() []byte

	// Close tears down the queue-pair.
	Close() error
}

// EventKind enumerates the connection-manager's asynchronous events (§4.8).
type EventKind int

const (
	EventConnectRequest EventKind = iota
	EventConnected
	EventDisconnected
)

// Event is one item from a ConnManager's event stream.
type Event struct {
	Kind      EventKind
	RemoteKey uint32 // peer's arena remote_key, carried in private data
	BaseAddr  uint64 // peer's arena base address, carried in private data
	Token     uint64 // rendezvous token from private data (loopback only)
	qp        Verbs  // the queue-pair this event concerns (server: the accepted one)
}

// QP returns the queue-pair associated with the event.
func (e Event) QP() Verbs { return e.qp }

// ConnManager is the narrow connection-manager surface of §4.8: address
// resolution, route resolution, accept, and disconnect notification. The
// concrete implementation in cm.go realizes it over a plain TCP handshake
// that exchanges the private-data payload of §6 before handing off to a
// Verbs implementation.
type ConnManager interface {
	// Connect resolves host:port, performs the connect handshake, and
	// returns the resulting queue-pair plus the peer's private data. pageSize
	// and numPages size the arena backing the returned queue-pair (§4.2); a
	// concrete implementation that owns its own allocation (the loopback
	// default) allocates exactly pageSize*numPages bytes for it.
	Connect(host string, port int, localKey uint32, localBaseAddr uint64, pageSize, numPages int) (Verbs, Event, error)

	// Listen binds host:port and begins accepting connect requests,
	// delivered on the returned channel as EventConnectRequest events whose
	// QP() is already usable for posting. pageSize/numPages size each
	// accepted connection's arena the same way Connect does.
	Listen(host string, port int, localKey uint32, localBaseAddr uint64, pageSize, numPages int) (<-chan Event, error)

	// Close stops listening / releases resources.
	Close() error
}
