// Package wire defines the packed, bit-exact message header transmitted at
// the start of every buffer page (§6 of the specification) and its
// marshal/unmarshal functions.
package wire

import "unsafe"

// MessageType is the `type` field of MessageHeader.
type MessageType uint32

const (
	TypeDummy MessageType = iota
	TypeRequest
	TypeImmRequest
	TypeResponse
)

func (t MessageType) String() string {
	switch t {
	case TypeDummy:
		return "Dummy"
	case TypeRequest:
		return "Request"
	case TypeImmRequest:
		return "ImmRequest"
	case TypeResponse:
		return "Response"
	default:
		return "Unknown"
	}
}

// HeaderSize is sizeof(Header) on the wire, in bytes.
const HeaderSize = 24

// Header is the packed in-band header at the start of a buffer page.
//
//	addr:u64 | msg_len:u32 | ctx_id:u32 | rpc_id:u32 | type:u32
//
// Field order and width must match the wire layout exactly; Go's struct
// layout rules already pack this with no padding on a 64-bit platform since
// the 8-byte field leads, but the compile-time size assertion below is kept
// as a guard against accidental field reordering.
type Header struct {
	Addr      uint64      // remote_addr: pointer into caller's arena where reply lands
	MsgLen    uint32      // payload length, excluding this header
	ContextID uint32      // upper 16 bits = connection id, lower 16 = slot id
	RPCID     uint32      // user-chosen dispatch selector
	Type      MessageType // Dummy | Request | ImmRequest | Response
}

// Compile-time size check: the header must be exactly 24 bytes on the wire.
var _ [24]byte = [unsafe.Sizeof(Header{})]byte{}

// ConnID extracts the upper 16 bits of ContextID.
func (h *Header) ConnID() uint16 {
	return uint16(h.ContextID >> 16)
}

// SlotID extracts the lower 16 bits of ContextID.
func (h *Header) SlotID() uint16 {
	return uint16(h.ContextID & 0xFFFF)
}

// MakeContextID packs a connection id and slot id into a single 32-bit
// context id, per §3's "upper 16 bits are connection id, lower 16 bits are
// slot id" rule.
func MakeContextID(connID, slotID uint16) uint32 {
	return uint32(connID)<<16 | uint32(slotID)
}
