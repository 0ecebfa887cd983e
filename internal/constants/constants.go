// Package constants centralizes the tunables of the RDMA RPC datapath.
package constants

import "time"

const (
	// DefaultPageSize is the default buffer-page size (§4.2), a power of two
	// between 1 KiB and 64 KiB.
	DefaultPageSize = 4 * 1024

	// MinPageSize and MaxPageSize bound the configurable page size.
	MinPageSize = 1 * 1024
	MaxPageSize = 64 * 1024

	// DefaultNumContexts is N_ctx, the per-connection context-pool size.
	DefaultNumContexts = 16
	MinNumContexts     = 8
	MaxNumContexts     = 32

	// DefaultCQCapacity is CQ_CAP; must be >= 2*N_ctx.
	DefaultCQCapacity = 2 * DefaultNumContexts

	// DefaultImmRequestSize is the Send-only fast-path threshold (§4.3 edge
	// policies, §8 property 6).
	DefaultImmRequestSize = 4 * 1024

	// DefaultWorkerCount of 0 means "runtime.NumCPU()" at construction time.
	DefaultWorkerCount = 0

	// RetryCount and RnrRetryCount are queue-pair connection parameters (§4.1).
	RetryCount    = 7
	RnrRetryCount = 7

	// InitiatorDepth and ResponderResources bound outstanding one-sided ops.
	InitiatorDepth     = 16
	ResponderResources = 16

	// HeaderSize is sizeof(MessageHeader) on the wire (§6): addr, msg_len,
	// ctx_id, rpc_id, type, 24 bytes total.
	HeaderSize = 24

	// HugePageAlignment is the alignment used for the arena when huge pages
	// are configured (§4.2).
	HugePageAlignment = 2 * 1024 * 1024
)

// Handshake timing: the connection manager's TCP-based stand-in (§4.10 of
// SPEC_FULL.md) retries a dial the same way the teacher retries the
// appearance of a device node: a bounded poll loop rather than a single shot.
const (
	HandshakeDialRetryDelay = 50 * time.Millisecond
	HandshakeDialMaxRetries = 100
	HandshakeIODeadline     = 5 * time.Second
)
