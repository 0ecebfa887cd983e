package connection

import (
	"bytes"
	"sync"
	"testing"

	"github.com/behrlich/rdma-rpc/internal/arena"
	"github.com/behrlich/rdma-rpc/internal/contextpool"
	"github.com/behrlich/rdma-rpc/internal/interfaces"
	"github.com/behrlich/rdma-rpc/internal/rpcerr"
	"github.com/behrlich/rdma-rpc/internal/transport"
)

func echoHandler(req []byte) ([]byte, error) {
	resp := make([]byte, len(req))
	copy(resp, req)
	return resp, nil
}

// harness wires a caller Connection and a handler Connection together over
// a LoopbackQP pair and runs their poll loops until Close.
type harness struct {
	client *Connection
	server *Connection
	wg     sync.WaitGroup
}

func newHarness(t *testing.T, pageSize, numCtx int) *harness {
	t.Helper()
	clientArena, err := arena.New(arena.Config{PageSize: pageSize, NumPages: numCtx})
	if err != nil {
		t.Fatalf("client arena: %v", err)
	}
	serverArena, err := arena.New(arena.Config{PageSize: pageSize, NumPages: numCtx})
	if err != nil {
		t.Fatalf("server arena: %v", err)
	}

	qpA, qpB := transport.NewLoopbackPair(clientArena.Bytes(), 1, serverArena.Bytes(), 2, numCtx*2, numCtx*2)

	lookup := func(rpcID uint32) (interfaces.Handler, bool) {
		if rpcID == 0 {
			return echoHandler, true
		}
		return nil, false
	}
	submit := func(f func()) { go f() }

	h := &harness{}
	h.client = NewCaller(1, qpA, clientArena, qpB.LocalKey(), nil)
	h.server = NewHandler(2, qpB, serverArena, qpA.LocalKey(), lookup, submit, nil)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		for h.client.PollOnce(numCtx * 2) == nil {
		}
	}()
	go func() {
		defer h.wg.Done()
		for h.server.PollOnce(numCtx * 2) == nil {
		}
	}()
	return h
}

func (h *harness) close() {
	h.client.Close()
	h.server.Close()
	h.wg.Wait()
}

func TestEchoSmallImmediate(t *testing.T) {
	h := newHarness(t, 4096, 8)
	defer h.close()

	resp, err := h.client.Call(0, []byte("hello from 0"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !bytes.Equal(resp, []byte("hello from 0")) {
		t.Errorf("resp = %q, want %q", resp, "hello from 0")
	}
}

func TestEchoLargeViaRead(t *testing.T) {
	h := newHarness(t, 16384, 8)
	defer h.close()

	payload := bytes.Repeat([]byte{0x46}, 8192)
	resp, err := h.client.Call(0, payload)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !bytes.Equal(resp, payload) {
		t.Errorf("large echo mismatch: got %d bytes, want %d", len(resp), len(payload))
	}
}

func TestMessageTooLargeRejectedSynchronously(t *testing.T) {
	h := newHarness(t, 1024, 4)
	defer h.close()

	_, err := h.client.Call(0, make([]byte, 1024))
	if rpcerr.CodeOf(err) != rpcerr.MessageTooLarge {
		t.Fatalf("err = %v, want MessageTooLarge", err)
	}
	if h.client.PoolFreeLen() != 4 {
		t.Errorf("free ring depth = %d, want 4 (no context consumed)", h.client.PoolFreeLen())
	}
}

func TestConcurrentCallsAllRoundTrip(t *testing.T) {
	h := newHarness(t, 4096, 8)
	defer h.close()

	const perCaller = 200
	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers*perCaller)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perCaller; j++ {
				msg := []byte{byte(id), byte(j), byte(j >> 8)}
				resp, err := h.client.Call(0, msg)
				if err != nil {
					errs <- err
					continue
				}
				if !bytes.Equal(resp, msg) {
					errs <- errBadEcho
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent call failure: %v", err)
	}
	if h.client.PoolFreeLen() != 8 {
		t.Errorf("free ring depth after quiescence = %d, want 8", h.client.PoolFreeLen())
	}
}

// TestFailAllWakesBlockedCaller reproduces peer disconnect during an
// outstanding call (§7 PeerDisconnected, §8 scenario S5): the poller
// detects a terminal transport error and force-fails every non-Vacant
// context on the connection, which must wake a caller blocked in
// WaitForVacant rather than hang it forever. It drives startCall directly
// (this file lives in package connection) so the context's arrival at
// WaitingForResponse and the simulated disconnect are strictly ordered,
// rather than racing a concurrent Call against FailAll.
func TestFailAllWakesBlockedCaller(t *testing.T) {
	h := newHarness(t, 4096, 4)
	defer h.close()
	// Drop the request on the server side so no response can arrive and
	// move the context past WaitingForResponse before FailAll runs.
	h.server.submit = func(func()) {}

	ctx := h.client.pool.Acquire()
	if err := h.client.startCall(ctx, 0, []byte("hello")); err != nil {
		t.Fatalf("startCall: %v", err)
	}

	for ctx.State() != contextpool.WaitingForResponse {
	}

	h.server.Close()
	h.client.FailAll(rpcerr.Wrap(rpcerr.PeerDisconnected, "poll", errBadEcho))

	if err := ctx.WaitForVacant(); rpcerr.CodeOf(err) != rpcerr.PeerDisconnected {
		t.Errorf("WaitForVacant err = %v, want PeerDisconnected", err)
	}
	h.client.pool.Release(ctx)

	if h.client.PoolFreeLen() != 4 {
		t.Errorf("free ring depth after FailAll = %d, want 4 (context returned)", h.client.PoolFreeLen())
	}
}

var errBadEcho = errBad("echoed payload did not match request")

type errBad string

func (e errBad) Error() string { return string(e) }
