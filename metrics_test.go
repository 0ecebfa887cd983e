package rdmarpc

import "testing"

func TestMetricsSnapshotInitialState(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("TotalOps = %d, want 0", snap.TotalOps)
	}
}

func TestMetricsRecordCallAndDispatch(t *testing.T) {
	m := NewMetrics()

	m.RecordCall(100, 200, 1_000_000, true)
	m.RecordCall(50, 0, 500_000, false)
	m.RecordDispatch(100, 200, 2_000_000, true)

	snap := m.Snapshot()
	if snap.CallOps != 2 {
		t.Errorf("CallOps = %d, want 2", snap.CallOps)
	}
	if snap.DispatchOps != 1 {
		t.Errorf("DispatchOps = %d, want 1", snap.DispatchOps)
	}
	if snap.CallErrors != 1 {
		t.Errorf("CallErrors = %d, want 1", snap.CallErrors)
	}
	if snap.BytesSent != 350 {
		t.Errorf("BytesSent = %d, want 350 (100+50+200)", snap.BytesSent)
	}
	if snap.TotalOps != 3 {
		t.Errorf("TotalOps = %d, want 3", snap.TotalOps)
	}
	if snap.ErrorRate <= 0 {
		t.Errorf("ErrorRate = %f, want > 0", snap.ErrorRate)
	}
}

func TestMetricsRecordQueueDepthMax(t *testing.T) {
	m := NewMetrics()
	m.RecordQueueDepth(3)
	m.RecordQueueDepth(9)
	m.RecordQueueDepth(5)

	snap := m.Snapshot()
	if snap.MaxQueueDepth != 9 {
		t.Errorf("MaxQueueDepth = %d, want 9", snap.MaxQueueDepth)
	}
	if snap.AvgQueueDepth <= 0 {
		t.Errorf("AvgQueueDepth = %f, want > 0", snap.AvgQueueDepth)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordCall(10, 10, 1000, true)
	m.Reset()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("TotalOps after Reset = %d, want 0", snap.TotalOps)
	}
}

func TestMetricsObserverDelegates(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveCall(1, 10, 20, 1000, true)
	o.ObserveDispatch(1, 10, 20, 1000, true)
	o.ObserveQueueDepth(0, 4)

	snap := m.Snapshot()
	if snap.CallOps != 1 {
		t.Errorf("CallOps = %d, want 1", snap.CallOps)
	}
	if snap.DispatchOps != 1 {
		t.Errorf("DispatchOps = %d, want 1", snap.DispatchOps)
	}
	if snap.MaxQueueDepth != 4 {
		t.Errorf("MaxQueueDepth = %d, want 4", snap.MaxQueueDepth)
	}
}

func TestNoOpObserverDoesNotPanic(t *testing.T) {
	var o NoOpObserver
	o.ObserveCall(1, 1, 1, 1, true)
	o.ObserveDispatch(1, 1, 1, 1, true)
	o.ObserveQueueDepth(0, 1)
}
