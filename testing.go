package rdmarpc

import (
	"sync"

	"github.com/behrlich/rdma-rpc/internal/interfaces"
)

// MockHandler wraps a user function as an interfaces.Handler while tracking
// call counts and the most recently seen request, mirroring the teacher's
// MockBackend call-tracking idiom in the RPC domain.
type MockHandler struct {
	mu        sync.RWMutex
	fn        func(req []byte) ([]byte, error)
	calls     int
	lastReq   []byte
	fixedResp []byte
	fixedErr  error
}

// NewMockHandler builds a MockHandler that echoes req back unless fn is
// later overridden with SetFunc, or a fixed response/error is installed with
// SetResponse/SetError.
func NewMockHandler() *MockHandler {
	return &MockHandler{}
}

// SetFunc installs the function invoked on Call; nil restores the default
// echo behavior.
func (m *MockHandler) SetFunc(fn func(req []byte) ([]byte, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
}

// SetResponse makes every call return resp, nil regardless of the request,
// unless a function installed with SetFunc is set: that takes precedence.
func (m *MockHandler) SetResponse(resp []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixedResp = resp
	m.fixedErr = nil
}

// SetError makes every call return nil, err.
func (m *MockHandler) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixedErr = err
}

// Call is the interfaces.Handler entry point.
func (m *MockHandler) Call(req []byte) ([]byte, error) {
	m.mu.Lock()
	m.calls++
	m.lastReq = append([]byte(nil), req...)
	fn := m.fn
	resp, err := m.fixedResp, m.fixedErr
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(req)
	}
	if resp != nil {
		return resp, nil
	}
	echoed := append([]byte(nil), req...)
	return echoed, nil
}

// Calls reports how many times Call has been invoked.
func (m *MockHandler) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// LastRequest returns a copy of the most recent request payload seen.
func (m *MockHandler) LastRequest() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.lastReq...)
}

// Reset clears call counters and recorded state.
func (m *MockHandler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = 0
	m.lastReq = nil
}

// HandlerFunc adapts Call to the interfaces.Handler shape
// expected by Server.RegisterHandler.
func (m *MockHandler) HandlerFunc() interfaces.Handler {
	return m.Call
}

// RecordingObserver implements interfaces.Observer by appending every
// observation to an in-memory slice, for assertions in tests rather than
// production telemetry.
type RecordingObserver struct {
	mu         sync.Mutex
	Calls      []CallObservation
	Dispatches []DispatchObservation
	QueueDepth []QueueDepthObservation
}

// CallObservation records one ObserveCall invocation.
type CallObservation struct {
	RPCID      uint32
	BytesSent  uint64
	BytesRecv  uint64
	LatencyNs  uint64
	Success    bool
}

// DispatchObservation records one ObserveDispatch invocation.
type DispatchObservation struct {
	RPCID     uint32
	BytesIn   uint64
	BytesOut  uint64
	LatencyNs uint64
	Success   bool
}

// QueueDepthObservation records one ObserveQueueDepth invocation.
type QueueDepthObservation struct {
	ConnID uint16
	Depth  uint32
}

// NewRecordingObserver constructs an empty RecordingObserver.
func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{}
}

func (r *RecordingObserver) ObserveCall(rpcID uint32, bytesSent, bytesRecv uint64, latencyNs uint64, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, CallObservation{rpcID, bytesSent, bytesRecv, latencyNs, success})
}

func (r *RecordingObserver) ObserveDispatch(rpcID uint32, bytesIn, bytesOut uint64, latencyNs uint64, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Dispatches = append(r.Dispatches, DispatchObservation{rpcID, bytesIn, bytesOut, latencyNs, success})
}

func (r *RecordingObserver) ObserveQueueDepth(connID uint16, depth uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.QueueDepth = append(r.QueueDepth, QueueDepthObservation{connID, depth})
}

var _ interfaces.Observer = (*RecordingObserver)(nil)
