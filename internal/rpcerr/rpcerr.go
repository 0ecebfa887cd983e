// Package rpcerr defines the closed error taxonomy of §7, shared by the
// datapath packages (connection, poller, workerpool) and re-exported by the
// root package's public Error type. It lives apart from the root package so
// the datapath packages can return it without importing the root package
// back (which owns Client/Server and therefore imports the datapath).
package rpcerr

import "errors"

// Code is one of the closed set of outcomes a call or setup step can end
// in, per §7.
type Code int

const (
	Ok Code = iota
	ConfigError
	MessageTooLarge
	CallFailure
	PeerDisconnected
)

func (c Code) String() string {
	switch c {
	case Ok:
		return "Ok"
	case ConfigError:
		return "ConfigError"
	case MessageTooLarge:
		return "MessageTooLarge"
	case CallFailure:
		return "CallFailure"
	case PeerDisconnected:
		return "PeerDisconnected"
	default:
		return "Unknown"
	}
}

// Error wraps a Code with context: which connection/context it happened on
// and an optional underlying cause (a transport error, a short read, etc).
type Error struct {
	Code   Code
	Op     string
	ConnID uint16
	CtxID  uint32
	Err    error
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match for any *Error target with the same Code, so
// errors.Is(err, rpcerr.New(rpcerr.CallFailure, "")) matches by code alone
// — see CodeOf for the matching helper.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New constructs an *Error with the given code and op, no cause.
func New(code Code, op string) *Error { return &Error{Code: code, Op: op} }

// Wrap constructs an *Error that carries an underlying cause.
func Wrap(code Code, op string, err error) *Error { return &Error{Code: code, Op: op, Err: err} }

// CodeOf extracts the Code from err if it is (or wraps) an *Error, Ok if err
// is nil, and CallFailure for any other error — mirroring the teacher's
// IsCode helper in errors.go.
func CodeOf(err error) Code {
	if err == nil {
		return Ok
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CallFailure
}
