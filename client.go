package rdmarpc

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/behrlich/rdma-rpc/config"
	"github.com/behrlich/rdma-rpc/internal/arena"
	"github.com/behrlich/rdma-rpc/internal/connection"
	"github.com/behrlich/rdma-rpc/internal/interfaces"
	"github.com/behrlich/rdma-rpc/internal/logging"
	"github.com/behrlich/rdma-rpc/internal/poller"
	"github.com/behrlich/rdma-rpc/internal/transport"
	"github.com/behrlich/rdma-rpc/internal/tracing"
)

// ConnID identifies one connection owned by a Client.
type ConnID uint16

// HandlerFunc is the user-supplied RPC callback a Server dispatches
// incoming requests to.
type HandlerFunc = interfaces.Handler

// ClientOption configures a Client at construction, following the
// functional-options shape spec.md §6 calls for.
type ClientOption func(*Client)

// WithClientConfig overrides the default RuntimeConfig.
func WithClientConfig(cfg *config.RuntimeConfig) ClientOption {
	return func(c *Client) { c.cfg = cfg }
}

// WithClientObserver installs a telemetry observer; the default is
// NoOpObserver.
func WithClientObserver(o interfaces.Observer) ClientOption {
	return func(c *Client) { c.observer = o }
}

// WithClientConnManager overrides the connection manager, primarily for
// tests that want a LoopbackCM pre-wired to a specific port or a fake.
func WithClientConnManager(cm transport.ConnManager) ClientOption {
	return func(c *Client) { c.cm = cm }
}

// Client is the caller-side façade of §4.8: it owns a connection manager, a
// completion poller shared by every connection it opens, and the set of
// connections themselves.
type Client struct {
	mu   sync.Mutex
	cfg  *config.RuntimeConfig
	cm   transport.ConnManager

	observer   interfaces.Observer
	poller     *poller.Poller
	nextConnID uint16
	conns      map[ConnID]*connection.Connection

	instanceID uuid.UUID
	logger     *logging.Logger
	closed     bool
}

// NewClient constructs a Client and starts its background completion
// poller immediately; it has nothing to poll until the first Connect.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		cfg:        config.Default(),
		observer:   NoOpObserver{},
		conns:      make(map[ConnID]*connection.Connection),
		instanceID: uuid.New(),
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cm == nil {
		c.cm = transport.NewLoopbackCM(c.cfg.CQCapacity, c.cfg.NumContexts, c.cfg.HugePages)
	}
	c.poller = poller.New(c.cfg.CQCapacity)
	go c.poller.Run()
	return c
}

// Connect performs the CM handshake of §4.8/§6 and constructs a caller-role
// Connection. ctx only bounds the handshake itself; once a ConnID is
// returned the connection is live until Close.
func (c *Client) Connect(ctx context.Context, host string, port int) (ConnID, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, NewError("connect", PeerDisconnected)
	}
	id := ConnID(c.nextConnID)
	c.nextConnID++
	c.mu.Unlock()

	localKey := uint32(id) + 1

	type dialResult struct {
		qp    transport.Verbs
		event transport.Event
		err   error
	}
	resC := make(chan dialResult, 1)
	go func() {
		qp, event, err := c.cm.Connect(host, port, localKey, 0, c.cfg.PageSize, c.cfg.NumContexts)
		resC <- dialResult{qp, event, err}
	}()

	var dr dialResult
	select {
	case dr = <-resC:
	case <-ctx.Done():
		return 0, WrapError("connect", CallFailure, ctx.Err())
	}
	if dr.err != nil {
		return 0, WrapError("connect", CallFailure, dr.err)
	}

	a, err := arena.Wrap(dr.qp.Bytes(), c.cfg.PageSize)
	if err != nil {
		dr.qp.Close()
		return 0, WrapError("connect", ConfigError, err)
	}

	conn := connection.NewCaller(uint16(id), dr.qp, a, dr.event.RemoteKey, c.observer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return 0, NewError("connect", PeerDisconnected)
	}
	c.conns[id] = conn
	c.mu.Unlock()

	c.poller.Register(conn)
	c.logger.Debug("client: connection established", "instance_id", c.instanceID, "conn_id", id, "remote", host)
	return id, nil
}

// Call issues an RPC on conn and blocks for the response (§4.5's Call
// sequence). Cancelling ctx abandons the wait and returns CallFailure
// without attempting to undo the in-flight fabric operation, per §5.
func (c *Client) Call(ctx context.Context, connID ConnID, rpcID uint32, req []byte) ([]byte, error) {
	c.mu.Lock()
	conn, ok := c.conns[connID]
	c.mu.Unlock()
	if !ok {
		return nil, NewError("call", ConfigError)
	}

	_, span := tracing.StartCall(ctx, uint16(connID), rpcID)

	type callResult struct {
		resp []byte
		err  error
	}
	resC := make(chan callResult, 1)
	go func() {
		resp, err := conn.Call(rpcID, req)
		resC <- callResult{resp, err}
	}()

	select {
	case r := <-resC:
		tracing.End(span, r.err)
		return r.resp, r.err
	case <-ctx.Done():
		err := WrapError("call", CallFailure, ctx.Err())
		tracing.End(span, err)
		return nil, err
	}
}

// Close tears down every open connection, stops the poller, and releases
// the connection manager. Per §5's shutdown precondition, callers must
// ensure no Call is in flight before calling Close.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conns := c.conns
	c.conns = nil
	c.mu.Unlock()

	c.logger.Debug("client: closing", "instance_id", c.instanceID, "open_conns", len(conns))
	c.poller.Stop()

	var firstErr error
	for _, conn := range conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.cm.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
