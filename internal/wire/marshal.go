package wire

import (
	"encoding/binary"
	"unsafe"
)

// MarshalError mirrors the teacher's string-constant error type for small,
// closed error sets that don't need wrapped causes.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	ErrInsufficientData MarshalError = "wire: insufficient data for header"
)

// Marshal writes h's wire representation into buf, which must be at least
// HeaderSize bytes. It returns the number of bytes written.
//
// Fields are written explicitly with encoding/binary rather than via
// unsafe.Pointer or reflection: the header is tiny, on the hottest path in
// the system (every post_send and every Write-with-immediate touches it),
// and explicit field writes are what the byte layout promised in §6 actually
// means, independent of the host struct's in-memory layout.
func Marshal(h *Header, buf []byte) int {
	binary.LittleEndian.PutUint64(buf[0:8], h.Addr)
	binary.LittleEndian.PutUint32(buf[8:12], h.MsgLen)
	binary.LittleEndian.PutUint32(buf[12:16], h.ContextID)
	binary.LittleEndian.PutUint32(buf[16:20], h.RPCID)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(h.Type))
	return 24
}

// Unmarshal reads a Header from the front of buf.
func Unmarshal(buf []byte, h *Header) error {
	if len(buf) < 24 {
		return ErrInsufficientData
	}
	h.Addr = binary.LittleEndian.Uint64(buf[0:8])
	h.MsgLen = binary.LittleEndian.Uint32(buf[8:12])
	h.ContextID = binary.LittleEndian.Uint32(buf[12:16])
	h.RPCID = binary.LittleEndian.Uint32(buf[16:20])
	h.Type = MessageType(binary.LittleEndian.Uint32(buf[20:24]))
	return nil
}

// PrivateData is the 24-byte connection-manager handshake payload exchanged
// at connect/accept (§6): the peer's arena remote_key and base address, so a
// one-sided Read/Write can target it, plus a rendezvous token. The token has
// no counterpart in real RDMA CM private data; it exists only so the
// in-process loopback transport (transport.LoopbackQP) can pair a dialing
// client's queue-pair with the accepting server's queue-pair across
// goroutines, since software loopback has no NIC to do that pairing for it.
// LoopbackQP is the only transport in this module.
//
//	remote_key:u32 | pad:u32 | token:u64 | base_addr:u64
type PrivateData struct {
	RemoteKey uint32
	_         uint32
	Token     uint64
	BaseAddr  uint64
}

var _ [24]byte = [unsafe.Sizeof(PrivateData{})]byte{}

// MarshalPrivateData writes p's wire representation into buf (>= 24 bytes).
func MarshalPrivateData(p *PrivateData, buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], p.RemoteKey)
	binary.LittleEndian.PutUint32(buf[4:8], 0)
	binary.LittleEndian.PutUint64(buf[8:16], p.Token)
	binary.LittleEndian.PutUint64(buf[16:24], p.BaseAddr)
	return 24
}

// UnmarshalPrivateData reads a PrivateData from the front of buf.
func UnmarshalPrivateData(buf []byte, p *PrivateData) error {
	if len(buf) < 24 {
		return ErrInsufficientData
	}
	p.RemoteKey = binary.LittleEndian.Uint32(buf[0:4])
	p.Token = binary.LittleEndian.Uint64(buf[8:16])
	p.BaseAddr = binary.LittleEndian.Uint64(buf[16:24])
	return nil
}
