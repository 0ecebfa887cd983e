package rdmarpc

import (
	"context"
	"encoding/binary"
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
	"github.com/behrlich/rdma-rpc/internal/workerpool"
)

// ServerOption configures a Server at construction.
type ServerOption func(*Server)

// WithServerConfig overrides the default RuntimeConfig.
func WithServerConfig(cfg *config.RuntimeConfig) ServerOption {
	return func(s *Server) { s.cfg = cfg }
}

// WithServerObserver installs a telemetry observer; the default is
// NoOpObserver.
func WithServerObserver(o interfaces.Observer) ServerOption {
	return func(s *Server) { s.observer = o }
}

// WithServerConnManager overrides the connection manager, primarily for
// tests.
func WithServerConnManager(cm transport.ConnManager) ServerOption {
	return func(s *Server) { s.cm = cm }
}

// Server is the handler-side façade of §4.8: it owns a connection manager's
// accept loop, a worker pool dispatching requests to registered handlers,
// and a completion poller shared by every accepted connection.
type Server struct {
	mu sync.Mutex

	cfg *config.RuntimeConfig
	cm  transport.ConnManager

	observer interfaces.Observer
	poller   *poller.Poller
	workers  *workerpool.Pool

	handlers  map[uint32]interfaces.Handler
	conns     map[uint16]*connection.Connection
	connsByQP map[transport.Verbs]uint16
	nextID    uint16

	events <-chan transport.Event

	instanceID uuid.UUID
	logger     *logging.Logger

	stopC chan struct{}
	doneC chan struct{}
}

// NewServer constructs a Server. Call Listen then Run to begin accepting
// connections.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		cfg:        config.Default(),
		observer:   NoOpObserver{},
		handlers:   make(map[uint32]interfaces.Handler),
		conns:      make(map[uint16]*connection.Connection),
		connsByQP:  make(map[transport.Verbs]uint16),
		instanceID: uuid.New(),
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cm == nil {
		s.cm = transport.NewLoopbackCM(s.cfg.CQCapacity, s.cfg.NumContexts, s.cfg.HugePages)
	}
	s.workers = workerpool.New(s.cfg.WorkerCount, s.cfg.NumContexts*4)
	s.poller = poller.New(s.cfg.CQCapacity)
	return s
}

// RegisterHandler binds fn to rpcID. Registering the same rpc_id twice is a
// ConfigError: the original implementation's registry has no notion of
// overriding a handler once bound.
func (s *Server) RegisterHandler(rpcID uint32, fn HandlerFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.handlers[rpcID]; exists {
		return NewError("register_handler", ConfigError)
	}
	s.handlers[rpcID] = fn
	return nil
}

func (s *Server) lookupHandler(rpcID uint32) (interfaces.Handler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn, ok := s.handlers[rpcID]
	return fn, ok
}

// instanceKey derives the 32-bit key this server's arenas are tagged with
// from its instance uuid, so multiple Server processes on one host (S3-S5)
// don't collide in logs even though they share no coordination.
func (s *Server) instanceKey() uint32 {
	return binary.LittleEndian.Uint32(s.instanceID[:4])
}

// Listen binds host:port and starts accepting connect requests in the
// background; accepted connections aren't wired into a Connection until
// Run consumes them.
func (s *Server) Listen(host string, port int) error {
	events, err := s.cm.Listen(host, port, s.instanceKey(), 0, s.cfg.PageSize, s.cfg.NumContexts)
	if err != nil {
		return WrapError("listen", ConfigError, err)
	}
	s.events = events
	return nil
}

// Run drains the accept-event stream, turning each EventConnectRequest into
// a handler-role Connection registered with the poller, until ctx is
// cancelled or Shutdown is called.
func (s *Server) Run(ctx context.Context) error {
	s.workers.Start()
	go s.poller.Run()

	s.mu.Lock()
	s.stopC = make(chan struct{})
	s.doneC = make(chan struct{})
	s.mu.Unlock()
	defer close(s.doneC)

	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case transport.EventConnectRequest:
				s.handleConnectRequest(ev)
			case transport.EventDisconnected:
				s.handleDisconnect(ev)
			}
		case <-ctx.Done():
			return nil
		case <-s.stopC:
			return nil
		}
	}
}

func (s *Server) handleConnectRequest(ev transport.Event) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.mu.Unlock()

	qp := ev.QP()
	a, err := arena.Wrap(qp.Bytes(), s.cfg.PageSize)
	if err != nil {
		s.logger.Warn("server: bad accepted-connection arena", "err", err)
		qp.Close()
		return
	}

	conn := connection.NewHandler(id, qp, a, ev.RemoteKey, s.tracingLookup, s.workers.Submit, s.observer)

	s.mu.Lock()
	s.conns[id] = conn
	s.connsByQP[qp] = id
	s.mu.Unlock()

	s.poller.Register(conn)
	s.logger.Debug("server: accepted connection", "instance_id", s.instanceID, "conn_id", id)
}

// handleDisconnect drops a connection's bookkeeping once its peer has gone
// away (§7 PeerDisconnected). The poller independently force-fails the
// connection's outstanding contexts and closes its queue-pair on the same
// signal; this only prunes the server's own maps so they don't grow
// unbounded across the server's lifetime.
func (s *Server) handleDisconnect(ev transport.Event) {
	qp := ev.QP()
	s.mu.Lock()
	id, ok := s.connsByQP[qp]
	if ok {
		delete(s.connsByQP, qp)
		delete(s.conns, id)
	}
	s.mu.Unlock()

	if ok {
		s.logger.Debug("server: peer disconnected", "instance_id", s.instanceID, "conn_id", id)
	}
}

// tracingLookup wraps lookupHandler so every dispatch is bracketed by a
// tracing span, without connection.Connection needing to know tracing
// exists.
func (s *Server) tracingLookup(rpcID uint32) (interfaces.Handler, bool) {
	fn, ok := s.lookupHandler(rpcID)
	if !ok {
		return nil, false
	}
	return func(req []byte) ([]byte, error) {
		ctx, span := tracing.StartDispatch(context.Background(), 0, rpcID)
		_ = ctx
		resp, err := fn(req)
		tracing.End(span, err)
		return resp, err
	}, true
}

// Shutdown stops accepting new connections, drains the poller and worker
// pool, and closes every accepted connection. Per §5's shutdown
// precondition, callers must ensure no dispatch is in flight.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	stopC := s.stopC
	doneC := s.doneC
	s.mu.Unlock()

	if stopC != nil {
		select {
		case <-stopC:
		default:
			close(stopC)
		}
		select {
		case <-doneC:
		case <-ctx.Done():
		}
	}

	s.poller.Stop()
	s.workers.Stop()

	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.connsByQP = nil
	s.mu.Unlock()

	s.logger.Debug("server: shutting down", "instance_id", s.instanceID, "open_conns", len(conns))

	var firstErr error
	for _, conn := range conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.cm.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
