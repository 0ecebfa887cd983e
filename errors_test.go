package rdmarpc

import (
	"errors"
	"testing"
)

func TestNewErrorFields(t *testing.T) {
	err := NewError("call", MessageTooLarge)

	if err.Op != "call" {
		t.Errorf("Op = %q, want call", err.Op)
	}
	if err.Code != MessageTooLarge {
		t.Errorf("Code = %v, want MessageTooLarge", err.Code)
	}
}

func TestWrapErrorUnwraps(t *testing.T) {
	inner := errors.New("connection reset")
	err := WrapError("poll", PeerDisconnected, inner)

	if !errors.Is(err, inner) {
		t.Error("WrapError's result should unwrap to the inner error")
	}
	if err.Code != PeerDisconnected {
		t.Errorf("Code = %v, want PeerDisconnected", err.Code)
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("connect", ConfigError)

	if !IsCode(err, ConfigError) {
		t.Error("IsCode should return true for a matching code")
	}
	if IsCode(err, CallFailure) {
		t.Error("IsCode should return false for a non-matching code")
	}
	if IsCode(nil, ConfigError) {
		t.Error("IsCode should return false for a nil error")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(nil); got != Ok {
		t.Errorf("CodeOf(nil) = %v, want Ok", got)
	}
	if got := CodeOf(NewError("call", MessageTooLarge)); got != MessageTooLarge {
		t.Errorf("CodeOf(*Error) = %v, want MessageTooLarge", got)
	}
	if got := CodeOf(errors.New("unclassified")); got != CallFailure {
		t.Errorf("CodeOf(plain error) = %v, want CallFailure", got)
	}
}
