// Package interfaces holds narrow collaborator contracts shared across the
// internal packages, kept separate from the root package to avoid import
// cycles between it and the packages it wires together.
package interfaces

// Logger is the minimal logging surface consumed by the datapath packages.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer receives hot-path telemetry. Implementations must be safe to call
// concurrently: the poller, the worker pool, and caller goroutines all call
// it without taking a shared lock first.
type Observer interface {
	ObserveCall(rpcID uint32, bytesSent, bytesRecv uint64, latencyNs uint64, success bool)
	ObserveDispatch(rpcID uint32, bytesIn, bytesOut uint64, latencyNs uint64, success bool)
	ObserveQueueDepth(connID uint16, depth uint32)
}

// Handler is the user-supplied RPC callback: it receives the request payload
// and returns the response payload to be written back into the same page.
type Handler func(req []byte) ([]byte, error)
