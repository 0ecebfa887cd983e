package transport

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/behrlich/rdma-rpc/internal/arena"
	"github.com/behrlich/rdma-rpc/internal/constants"
	"github.com/behrlich/rdma-rpc/internal/logging"
	"github.com/behrlich/rdma-rpc/internal/wire"
)

// LoopbackCM is the connection manager used by the default, software-only
// transport: it exchanges the §6 private-data payload over a real TCP
// socket (so Connect/Listen/accept have genuine handshake semantics and
// genuine timeouts), then links the two sides' LoopbackQP instances
// in-process via the rendezvous registry in loopback.go. It stands in for
// the real fabric's RDMA_CM the same way the teacher's Controller
// (internal/ctrl/control.go) stands in for a kernel that isn't always
// present: a concrete, narrow implementation of a documented interface.
type LoopbackCM struct {
	logger *logging.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	closeSig chan struct{}
	wg       sync.WaitGroup

	cqCapacity     int
	recvQueueDepth int
	hugePages      bool
}

// NewLoopbackCM constructs a connection manager. cqCapacity and
// recvQueueDepth size every LoopbackQP it creates; hugePages is forwarded to
// arena.New for every arena this CM allocates (§4.2).
func NewLoopbackCM(cqCapacity, recvQueueDepth int, hugePages bool) *LoopbackCM {
	return &LoopbackCM{
		logger:         logging.Default(),
		cqCapacity:     cqCapacity,
		recvQueueDepth: recvQueueDepth,
		hugePages:      hugePages,
		closeSig:       make(chan struct{}),
	}
}

// Connect dials host:port, exchanges private data, and returns a LoopbackQP
// whose peer gets linked once the accept side completes the rendezvous.
func (cm *LoopbackCM) Connect(host string, port int, localKey uint32, localBaseAddr uint64, pageSize, numPages int) (Verbs, Event, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	var conn net.Conn
	var err error
	for attempt := 0; attempt < constants.HandshakeDialMaxRetries; attempt++ {
		conn, err = net.DialTimeout("tcp", addr, constants.HandshakeIODeadline)
		if err == nil {
			break
		}
		time.Sleep(constants.HandshakeDialRetryDelay)
	}
	if err != nil {
		return nil, Event{}, fmt.Errorf("transport: connect %s: %w", addr, err)
	}
	defer conn.Close()

	a, err := arena.New(arena.Config{PageSize: pageSize, NumPages: numPages, HugePages: cm.hugePages})
	if err != nil {
		return nil, Event{}, fmt.Errorf("transport: allocate arena: %w", err)
	}
	token := rand.Uint64()
	qp := NewLoopbackQP(a.Bytes(), localKey, cm.cqCapacity, cm.recvQueueDepth)
	qp.ownedArena = a
	RegisterPendingDial(token, qp)

	out := wire.PrivateData{RemoteKey: localKey, Token: token, BaseAddr: localBaseAddr}
	buf := make([]byte, 24)
	wire.MarshalPrivateData(&out, buf)

	conn.SetDeadline(time.Now().Add(constants.HandshakeIODeadline))
	if _, err := conn.Write(buf); err != nil {
		return nil, Event{}, fmt.Errorf("transport: send private data: %w", err)
	}

	in := wire.PrivateData{}
	if _, err := readFull(conn, buf); err != nil {
		return nil, Event{}, fmt.Errorf("transport: recv private data: %w", err)
	}
	if err := wire.UnmarshalPrivateData(buf, &in); err != nil {
		return nil, Event{}, fmt.Errorf("transport: decode private data: %w", err)
	}

	closeC := make(chan struct{})
	if !WaitPendingDial(token, closeC) {
		return nil, Event{}, fmt.Errorf("transport: rendezvous for token %d never completed", token)
	}

	cm.logger.Debug("loopback connect established", "remote_key", in.RemoteKey, "token", token)
	return qp, Event{Kind: EventConnected, RemoteKey: in.RemoteKey, BaseAddr: in.BaseAddr, Token: token}, nil
}

// Listen binds host:port and runs an accept loop in the background,
// emitting one Event per accepted connection.
func (cm *LoopbackCM) Listen(host string, port int, localKey uint32, localBaseAddr uint64, pageSize, numPages int) (<-chan Event, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}

	cm.mu.Lock()
	cm.listener = ln
	cm.mu.Unlock()

	events := make(chan Event, 16)
	go cm.acceptLoop(ln, events, localKey, localBaseAddr, pageSize, numPages)
	return events, nil
}

// acceptLoop runs until the listener is closed, then waits for every
// in-flight handleAccept and disconnect watcher it spawned before closing
// events: those goroutines may still need to send on it, and a send on a
// closed channel panics.
func (cm *LoopbackCM) acceptLoop(ln net.Listener, events chan<- Event, localKey uint32, localBaseAddr uint64, pageSize, numPages int) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			break
		}
		cm.wg.Add(1)
		go func() {
			defer cm.wg.Done()
			cm.handleAccept(conn, events, localKey, localBaseAddr, pageSize, numPages)
		}()
	}
	cm.wg.Wait()
	close(events)
}

func (cm *LoopbackCM) handleAccept(conn net.Conn, events chan<- Event, localKey uint32, localBaseAddr uint64, pageSize, numPages int) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(constants.HandshakeIODeadline))

	buf := make([]byte, 24)
	if _, err := readFull(conn, buf); err != nil {
		cm.logger.Warn("loopback accept: recv private data failed", "err", err)
		return
	}
	in := wire.PrivateData{}
	if err := wire.UnmarshalPrivateData(buf, &in); err != nil {
		cm.logger.Warn("loopback accept: decode private data failed", "err", err)
		return
	}

	a, err := arena.New(arena.Config{PageSize: pageSize, NumPages: numPages, HugePages: cm.hugePages})
	if err != nil {
		cm.logger.Warn("loopback accept: allocate arena failed", "err", err)
		return
	}
	qp := NewLoopbackQP(a.Bytes(), localKey, cm.cqCapacity, cm.recvQueueDepth)
	qp.ownedArena = a
	if !CompletePendingDial(in.Token, qp) {
		cm.logger.Warn("loopback accept: unknown rendezvous token", "token", in.Token)
		return
	}

	out := wire.PrivateData{RemoteKey: localKey, BaseAddr: localBaseAddr}
	wire.MarshalPrivateData(&out, buf)
	if _, err := conn.Write(buf); err != nil {
		cm.logger.Warn("loopback accept: send private data failed", "err", err)
		return
	}

	events <- Event{Kind: EventConnectRequest, RemoteKey: in.RemoteKey, BaseAddr: in.BaseAddr, Token: in.Token, qp: qp}

	cm.wg.Add(1)
	go cm.watchDisconnect(qp, events, in.RemoteKey, in.BaseAddr, in.Token)
}

// watchDisconnect blocks until qp is no longer usable (the CM's own side
// closed it, or the peer did) and surfaces that as an EventDisconnected so
// Server.Run can drop its bookkeeping for the connection. Peer disconnect
// while a call is outstanding is otherwise invisible above the poller. It
// also gives up if the CM itself is closed first, so Close never waits on
// a qp nobody is going to close.
func (cm *LoopbackCM) watchDisconnect(qp *LoopbackQP, events chan<- Event, remoteKey uint32, baseAddr uint64, token uint64) {
	defer cm.wg.Done()
	disconnected := make(chan struct{})
	go func() {
		qp.waitDisconnected()
		close(disconnected)
	}()
	select {
	case <-disconnected:
		events <- Event{Kind: EventDisconnected, RemoteKey: remoteKey, BaseAddr: baseAddr, Token: token, qp: qp}
	case <-cm.closeSig:
	}
}

// Close stops the accept loop, if any, and releases every watchDisconnect
// goroutine waiting on a qp that outlives the CM.
func (cm *LoopbackCM) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.closed {
		return nil
	}
	cm.closed = true
	close(cm.closeSig)
	if cm.listener != nil {
		return cm.listener.Close()
	}
	return nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
