package rdmarpc

import (
	"errors"

	"github.com/behrlich/rdma-rpc/internal/rpcerr"
)

// Code is the closed error taxonomy of §7: ConfigError, MessageTooLarge,
// CallFailure, PeerDisconnected, or Ok.
type Code = rpcerr.Code

const (
	Ok               = rpcerr.Ok
	ConfigError      = rpcerr.ConfigError
	MessageTooLarge  = rpcerr.MessageTooLarge
	CallFailure      = rpcerr.CallFailure
	PeerDisconnected = rpcerr.PeerDisconnected
)

// Error is the structured error every public API call can return. It
// mirrors the teacher's errors.go *Error (Op/Code/Inner, errors.Is support)
// generalized from device/queue/errno context to connection/context
// context, since this runtime has no errno boundary of its own.
type Error = rpcerr.Error

// NewError constructs an *Error with the given code and operation name.
func NewError(op string, code Code) *Error { return rpcerr.New(code, op) }

// WrapError wraps an existing error under the given code and operation.
func WrapError(op string, code Code, err error) *Error { return rpcerr.Wrap(code, op, err) }

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the Code from err, or Ok if err is nil. An error that
// isn't an *Error is treated as CallFailure, matching the datapath's policy
// of never surfacing raw transport errors to a caller unclassified.
func CodeOf(err error) Code { return rpcerr.CodeOf(err) }
