package rdmarpc

import "github.com/behrlich/rdma-rpc/internal/constants"

// Re-exported tunables for the public API; see internal/constants for the
// reasoning behind each default and bound.
const (
	DefaultPageSize       = constants.DefaultPageSize
	MinPageSize           = constants.MinPageSize
	MaxPageSize           = constants.MaxPageSize
	DefaultNumContexts    = constants.DefaultNumContexts
	MinNumContexts        = constants.MinNumContexts
	MaxNumContexts        = constants.MaxNumContexts
	DefaultCQCapacity     = constants.DefaultCQCapacity
	DefaultImmRequestSize = constants.DefaultImmRequestSize
	DefaultWorkerCount    = constants.DefaultWorkerCount
)
