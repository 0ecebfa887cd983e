package wire

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		h    Header
	}{
		{"dummy", Header{}},
		{"imm request", Header{Addr: 0xdeadbeef, MsgLen: 12, ContextID: MakeContextID(3, 5), RPCID: 0, Type: TypeImmRequest}},
		{"response", Header{Addr: 0x1000, MsgLen: 8192, ContextID: MakeContextID(0xFFFF, 0xFFFF), RPCID: 42, Type: TypeResponse}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 24)
			n := Marshal(&tt.h, buf)
			if n != 24 {
				t.Fatalf("Marshal wrote %d bytes, want 24", n)
			}

			var got Header
			if err := Unmarshal(buf, &got); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if got != tt.h {
				t.Errorf("round trip mismatch: got %+v, want %+v", got, tt.h)
			}
		})
	}
}

func TestUnmarshalInsufficientData(t *testing.T) {
	var h Header
	if err := Unmarshal(make([]byte, 10), &h); err != ErrInsufficientData {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestContextIDPacking(t *testing.T) {
	h := Header{ContextID: MakeContextID(0x1234, 0x5678)}
	if got := h.ConnID(); got != 0x1234 {
		t.Errorf("ConnID() = %#x, want 0x1234", got)
	}
	if got := h.SlotID(); got != 0x5678 {
		t.Errorf("SlotID() = %#x, want 0x5678", got)
	}
}

func TestMessageTypeString(t *testing.T) {
	cases := map[MessageType]string{
		TypeDummy:      "Dummy",
		TypeRequest:    "Request",
		TypeImmRequest: "ImmRequest",
		TypeResponse:   "Response",
		MessageType(99): "Unknown",
	}
	for mt, want := range cases {
		if got := mt.String(); got != want {
			t.Errorf("MessageType(%d).String() = %q, want %q", mt, got, want)
		}
	}
}

func TestPrivateDataRoundTrip(t *testing.T) {
	p := PrivateData{RemoteKey: 0xAABBCCDD, Token: 0x1122334455667788, BaseAddr: 0x7f0000001000}
	buf := make([]byte, 24)
	if n := MarshalPrivateData(&p, buf); n != 24 {
		t.Fatalf("MarshalPrivateData wrote %d bytes, want 24", n)
	}

	var got PrivateData
	if err := UnmarshalPrivateData(buf, &got); err != nil {
		t.Fatalf("UnmarshalPrivateData failed: %v", err)
	}
	if got != p {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, p)
	}
}
