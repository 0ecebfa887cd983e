package rdmarpc

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/behrlich/rdma-rpc/config"
)

func testConfig() *config.RuntimeConfig {
	cfg := config.Default()
	cfg.NumContexts = 8
	cfg.CQCapacity = 2 * cfg.NumContexts
	return cfg
}

// newEchoServer starts a Server listening on an ephemeral loopback port and
// registers a handler that upper-cases its input, returning the Server and
// the port it bound.
func newEchoServer(t *testing.T, rpcID uint32) (*Server, int) {
	t.Helper()
	srv := NewServer(WithServerConfig(testConfig()))
	if err := srv.RegisterHandler(rpcID, func(req []byte) ([]byte, error) {
		out := make([]byte, len(req))
		for i, b := range req {
			if b >= 'a' && b <= 'z' {
				b -= 'a' - 'A'
			}
			out[i] = b
		}
		return out, nil
	}); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	// port 0 would be ideal but LoopbackCM takes host/port directly; tests
	// pick a high port and rely on the OS not colliding within a test run.
	port := 29870 + (int(rpcID) % 500)
	if err := srv.Listen("127.0.0.1", port); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	go srv.Run(context.Background())
	return srv, port
}

func TestClientServerCallRoundTrip(t *testing.T) {
	const rpcID = 1
	srv, port := newEchoServer(t, rpcID)
	defer srv.Shutdown(context.Background())

	cli := NewClient(WithClientConfig(testConfig()))
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connID, err := cli.Connect(ctx, "127.0.0.1", port)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	resp, err := cli.Call(ctx, connID, rpcID, []byte("hello"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !bytes.Equal(resp, []byte("HELLO")) {
		t.Errorf("Call response = %q, want %q", resp, "HELLO")
	}
}

func TestClientCallUnknownConnection(t *testing.T) {
	cli := NewClient(WithClientConfig(testConfig()))
	defer cli.Close()

	_, err := cli.Call(context.Background(), ConnID(99), 1, []byte("x"))
	if !IsCode(err, ConfigError) {
		t.Errorf("Call on unknown conn: err = %v, want ConfigError", err)
	}
}

func TestClientConnectAfterCloseFails(t *testing.T) {
	cli := NewClient(WithClientConfig(testConfig()))
	if err := cli.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err := cli.Connect(context.Background(), "127.0.0.1", 1)
	if !IsCode(err, PeerDisconnected) {
		t.Errorf("Connect after Close: err = %v, want PeerDisconnected", err)
	}
}

func TestClientConnectRespectsContextCancellation(t *testing.T) {
	cli := NewClient(WithClientConfig(testConfig()))
	defer cli.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// No listener on this port: Connect will retry-dial until ctx fires.
	_, err := cli.Connect(ctx, "127.0.0.1", 1)
	if !IsCode(err, CallFailure) {
		t.Errorf("Connect with cancelled ctx: err = %v, want CallFailure", err)
	}
}
