package tracing

import (
	"context"
	"errors"
	"testing"
)

func TestStartCallAndEndSucceed(t *testing.T) {
	ctx, span := StartCall(context.Background(), 1, 42)
	if ctx == nil {
		t.Fatal("StartCall returned nil context")
	}
	End(span, nil)
}

func TestStartDispatchAndEndRecordsError(t *testing.T) {
	_, span := StartDispatch(context.Background(), 2, 7)
	End(span, errors.New("handler failed"))
}
