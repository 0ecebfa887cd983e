// Package connection implements §4.5's Connection: the owner of a
// queue-pair, an arena, and a fixed array of contexts, plus the state
// transition table of §4.3 (advance) that the completion poller drives.
// Grounded on the teacher's Runner (internal/queue/runner.go): a
// long-lived object owning one completion source and a table-driven
// per-tag state machine, the same shape this package generalizes from
// block-device tags to RPC contexts.
package connection

import (
	"errors"
	"unsafe"

	"github.com/behrlich/rdma-rpc/internal/arena"
	"github.com/behrlich/rdma-rpc/internal/contextpool"
	"github.com/behrlich/rdma-rpc/internal/interfaces"
	"github.com/behrlich/rdma-rpc/internal/logging"
	"github.com/behrlich/rdma-rpc/internal/rpcerr"
	"github.com/behrlich/rdma-rpc/internal/transport"
	"github.com/behrlich/rdma-rpc/internal/wire"
)

// Role distinguishes the caller-side and handler-side state machines of
// §4.3; both share the Connection type and the Advance entry point.
type Role int

const (
	RoleCaller Role = iota
	RoleHandler
)

// HandlerLookup resolves an rpc_id to a registered handler, used only on
// handler-role connections.
type HandlerLookup func(rpcID uint32) (interfaces.Handler, bool)

// Connection is one RDMA queue-pair's worth of RPC plumbing: its arena, its
// N_ctx contexts, and (on the handler side) a route into the server's
// worker pool.
type Connection struct {
	ID        uint16
	role      Role
	qp        transport.Verbs
	arena     *arena.Arena
	pool      *contextpool.Pool
	pageSize  int
	localKey  uint32
	remoteKey uint32

	lookup HandlerLookup
	submit func(func())

	observer interfaces.Observer
	logger   *logging.Logger
}

// ErrUnknownRPC is returned internally (and logged) when a request names an
// rpc_id with no registered handler; §7 doesn't define wire-level error
// reporting for this case, so the server answers with an empty payload
// rather than leaving the caller's context hung forever.
var ErrUnknownRPC = errors.New("connection: no handler registered for rpc_id")

// NewCaller constructs a client-side Connection: all contexts start Vacant
// and pushed onto the free ring (§4.5 step 4).
func NewCaller(id uint16, qp transport.Verbs, a *arena.Arena, remoteKey uint32, observer interfaces.Observer) *Connection {
	pages := make([][]byte, a.NumPages())
	for i := range pages {
		pages[i] = a.Page(i)
	}
	return &Connection{
		ID:        id,
		role:      RoleCaller,
		qp:        qp,
		arena:     a,
		pool:      contextpool.New(id, pages, true),
		pageSize:  a.PageSize(),
		localKey:  qp.LocalKey(),
		remoteKey: remoteKey,
		observer:  observer,
		logger:    logging.Default(),
	}
}

// NewHandler constructs a server-side Connection: every context immediately
// pre-posts a Recv (§4.5 step 4, server branch) and starts
// WaitingForBufferMeta.
func NewHandler(id uint16, qp transport.Verbs, a *arena.Arena, remoteKey uint32, lookup HandlerLookup, submit func(func()), observer interfaces.Observer) *Connection {
	pages := make([][]byte, a.NumPages())
	for i := range pages {
		pages[i] = a.Page(i)
	}
	c := &Connection{
		ID:        id,
		role:      RoleHandler,
		qp:        qp,
		arena:     a,
		pool:      contextpool.New(id, pages, false),
		pageSize:  a.PageSize(),
		localKey:  qp.LocalKey(),
		remoteKey: remoteKey,
		lookup:    lookup,
		submit:    submit,
		observer:  observer,
		logger:    logging.Default(),
	}
	for i := 0; i < c.pool.Len(); i++ {
		ctx := c.pool.At(i)
		ctx.SetState(contextpool.WaitingForBufferMeta)
		c.rearmRecv(ctx)
	}
	return c
}

func (c *Connection) offsetOf(ctx *contextpool.Context) uint64 {
	slot := int(ctx.ID & 0xFFFF)
	return c.arena.OffsetOf(slot)
}

func (c *Connection) rearmRecv(ctx *contextpool.Context) {
	tag := uintptr(unsafe.Pointer(ctx))
	if err := c.qp.PostRecv(tag, c.offsetOf(ctx), uint32(c.pageSize), c.localKey); err != nil {
		c.logger.Warn("rearm recv failed", "conn_id", c.ID, "ctx_id", ctx.ID, "err", err)
	}
}

// Call executes §4.5's client call: acquire a context, perform the Vacant
// transition, block for the response, release the context.
func (c *Connection) Call(rpcID uint32, req []byte) ([]byte, error) {
	if len(req)+wire.HeaderSize > c.pageSize {
		return nil, rpcerr.New(rpcerr.MessageTooLarge, "call")
	}

	ctx := c.pool.Acquire()
	if err := c.startCall(ctx, rpcID, req); err != nil {
		ctx.SetState(contextpool.Vacant)
		c.pool.Release(ctx)
		return nil, err
	}

	waitErr := ctx.WaitForVacant()
	var resp []byte
	if waitErr == nil {
		resp = c.extractResponse(ctx)
	}
	c.pool.Release(ctx)

	if c.observer != nil {
		c.observer.ObserveCall(rpcID, uint64(len(req)), uint64(len(resp)), 0, waitErr == nil)
	}
	if waitErr != nil {
		return nil, waitErr
	}
	return resp, nil
}

func (c *Connection) startCall(ctx *contextpool.Context, rpcID uint32, req []byte) error {
	immediate := len(req) <= immRequestSize(c)
	msgType := wire.TypeRequest
	if immediate {
		msgType = wire.TypeImmRequest
	}

	h := wire.Header{
		Addr:      c.offsetOf(ctx),
		MsgLen:    uint32(len(req)),
		ContextID: ctx.ID,
		RPCID:     rpcID,
		Type:      msgType,
	}
	wire.Marshal(&h, ctx.Page[:wire.HeaderSize])
	// The payload always lives in the caller's page, whether or not it
	// rides along on the Send: the Request path leaves it there for the
	// server's one-sided Read to fetch.
	copy(ctx.Page[wire.HeaderSize:wire.HeaderSize+len(req)], req)

	sendLen := wire.HeaderSize
	if immediate {
		sendLen += len(req)
	}

	tag := uintptr(unsafe.Pointer(ctx))
	ctx.SetState(contextpool.SendingBufferMeta)
	if err := c.qp.PostRecv(tag, c.offsetOf(ctx), uint32(c.pageSize), c.localKey); err != nil {
		return rpcerr.Wrap(rpcerr.CallFailure, "post_recv", err)
	}
	if err := c.qp.PostSend(tag, c.offsetOf(ctx), uint32(sendLen), c.localKey, immediate); err != nil {
		return rpcerr.Wrap(rpcerr.CallFailure, "post_send", err)
	}
	return nil
}

func (c *Connection) extractResponse(ctx *contextpool.Context) []byte {
	var h wire.Header
	wire.Unmarshal(ctx.Page[:wire.HeaderSize], &h)
	resp := make([]byte, h.MsgLen)
	copy(resp, ctx.Page[wire.HeaderSize:wire.HeaderSize+int(h.MsgLen)])
	return resp
}

// immRequestSizeOverride is a package-level var rather than a constant import so
// tests can shrink it to exercise both wire paths without huge payloads.
var immRequestSizeOverride = 0

func immRequestSize(c *Connection) int {
	if immRequestSizeOverride != 0 {
		return immRequestSizeOverride
	}
	return defaultImmRequestSize
}

const defaultImmRequestSize = 4 * 1024

// Advance is the completion poller's entry point: it recovers the Context
// from the completion's ctx_tag and drives the §4.3 transition table.
func (c *Connection) Advance(comp transport.Completion) {
	ctx := (*contextpool.Context)(unsafe.Pointer(comp.CtxTag))

	if comp.Status != transport.StatusSuccess {
		if c.role == RoleCaller {
			ctx.Fail(rpcerr.Wrap(rpcerr.CallFailure, "completion", comp.Err))
		} else {
			c.rearmRecv(ctx)
		}
		return
	}

	if c.role == RoleCaller {
		c.advanceCaller(ctx, comp)
	} else {
		c.advanceHandler(ctx, comp)
	}
}

func (c *Connection) advanceCaller(ctx *contextpool.Context, comp transport.Completion) {
	if comp.Opcode == transport.OpRecvImm {
		// The consumed Recv's tag is whichever context posted next in line;
		// imm32 names the context whose response landed (§4.3 demultiplex).
		ctx = c.pool.BySlot(uint16(comp.Imm32 & 0xFFFF))
	}
	switch ctx.State() {
	case contextpool.SendingBufferMeta:
		if comp.Opcode == transport.OpSend {
			ctx.SetState(contextpool.WaitingForResponse)
		}
	case contextpool.WaitingForResponse:
		if comp.Opcode != transport.OpRecvImm {
			return
		}
		if comp.Imm32 == ctx.ID {
			ctx.SetState(contextpool.Vacant)
			return
		}
	}
}

func (c *Connection) advanceHandler(ctx *contextpool.Context, comp transport.Completion) {
	switch ctx.State() {
	case contextpool.WaitingForBufferMeta:
		if comp.Opcode != transport.OpRecv {
			return
		}
		var h wire.Header
		wire.Unmarshal(ctx.Page[:wire.HeaderSize], &h)
		ctx.RPCID = h.RPCID
		ctx.RemoteAddr = h.Addr
		ctx.RemoteKey = c.remoteKey
		ctx.PeerCtxID = h.ContextID
		ctx.ReqLen = h.MsgLen

		switch h.Type {
		case wire.TypeImmRequest:
			ctx.SetState(contextpool.FilledWithRequest)
			c.submitWork(ctx)
		case wire.TypeRequest:
			ctx.SetState(contextpool.ReadingRequest)
			tag := uintptr(unsafe.Pointer(ctx))
			payloadOff := c.offsetOf(ctx) + wire.HeaderSize
			remotePayload := h.Addr + wire.HeaderSize
			if err := c.qp.PostRead(tag, payloadOff, h.MsgLen, c.localKey, remotePayload, c.remoteKey); err != nil {
				c.logger.Warn("post_read failed", "conn_id", c.ID, "ctx_id", ctx.ID, "err", err)
				ctx.SetState(contextpool.WaitingForBufferMeta)
				c.rearmRecv(ctx)
			}
		default:
			c.logger.Warn("unexpected message type at WaitingForBufferMeta", "type", h.Type)
			c.rearmRecv(ctx)
		}
	case contextpool.ReadingRequest:
		if comp.Opcode == transport.OpRead {
			ctx.SetState(contextpool.FilledWithRequest)
			c.submitWork(ctx)
		}
	case contextpool.WritingResponse:
		if comp.Opcode == transport.OpWrite {
			ctx.SetState(contextpool.WaitingForBufferMeta)
			c.rearmRecv(ctx)
		}
	}
}

func (c *Connection) submitWork(ctx *contextpool.Context) {
	c.submit(func() { c.runHandler(ctx) })
}

func (c *Connection) runHandler(ctx *contextpool.Context) {
	req := make([]byte, ctx.ReqLen)
	copy(req, ctx.Page[wire.HeaderSize:wire.HeaderSize+int(ctx.ReqLen)])

	handler, ok := c.lookup(ctx.RPCID)
	var resp []byte
	var err error
	if !ok {
		c.logger.Warn("unknown rpc_id", "rpc_id", ctx.RPCID, "conn_id", c.ID)
		err = ErrUnknownRPC
	} else {
		resp, err = handler(req)
	}
	if err != nil {
		resp = nil
	}

	maxResp := c.pageSize - wire.HeaderSize
	if len(resp) > maxResp {
		c.logger.Warn("response truncated to page size", "rpc_id", ctx.RPCID, "len", len(resp), "max", maxResp)
		resp = resp[:maxResp]
	}

	respHeader := wire.Header{
		Addr:      ctx.RemoteAddr,
		MsgLen:    uint32(len(resp)),
		ContextID: ctx.PeerCtxID,
		RPCID:     ctx.RPCID,
		Type:      wire.TypeResponse,
	}
	wire.Marshal(&respHeader, ctx.Page[:wire.HeaderSize])
	copy(ctx.Page[wire.HeaderSize:wire.HeaderSize+len(resp)], resp)

	tag := uintptr(unsafe.Pointer(ctx))
	writeLen := uint32(wire.HeaderSize + len(resp))
	ctx.SetState(contextpool.WritingResponse)
	if postErr := c.qp.PostWriteImm(tag, c.offsetOf(ctx), writeLen, c.localKey, ctx.RemoteAddr, ctx.RemoteKey, ctx.PeerCtxID); postErr != nil {
		c.logger.Warn("post_write_imm failed", "conn_id", c.ID, "ctx_id", ctx.ID, "err", postErr)
		ctx.SetState(contextpool.WaitingForBufferMeta)
		c.rearmRecv(ctx)
	}

	if c.observer != nil {
		c.observer.ObserveDispatch(ctx.RPCID, uint64(ctx.ReqLen), uint64(len(resp)), 0, err == nil)
	}
}

// PollOnce drains up to CQ_CAP completions from the queue-pair and advances
// each one. Called by the completion poller's loop (§4.6).
func (c *Connection) PollOnce(cqCap int) error {
	comps, err := c.qp.PollCompletions(cqCap)
	if err != nil {
		return err
	}
	for _, comp := range comps {
		c.Advance(comp)
	}
	return nil
}

// FailAll force-fails every context not already Vacant, latching err on
// each. It is the poller's response to a terminal PollOnce error (§7
// PeerDisconnected): without it, a caller parked in Call's
// ctx.WaitForVacant() for a context whose peer just vanished would block
// forever, since nothing else ever drives that context back to Vacant.
// Contexts already Vacant are left alone.
func (c *Connection) FailAll(err error) {
	for i := 0; i < c.pool.Len(); i++ {
		ctx := c.pool.At(i)
		if ctx.State() != contextpool.Vacant {
			ctx.Fail(err)
		}
	}
}

// Close initiates teardown: per §4.5, the precondition is that all
// contexts are already Vacant (no outstanding calls).
func (c *Connection) Close() error {
	return c.qp.Close()
}

// PoolFreeLen exposes the free ring depth for property-1 (context
// conservation) tests and diagnostics.
func (c *Connection) PoolFreeLen() int { return c.pool.FreeLen() }

// NumContexts returns N_ctx for this connection.
func (c *Connection) NumContexts() int { return c.pool.Len() }
