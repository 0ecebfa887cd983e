package contextpool

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func pages(n, size int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = make([]byte, size)
	}
	return out
}

func TestPoolIDsAndFreeRing(t *testing.T) {
	p := New(3, pages(4, 64), true)
	if p.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", p.Len())
	}
	if p.FreeLen() != 4 {
		t.Fatalf("FreeLen() = %d, want 4 (all vacant at start)", p.FreeLen())
	}
	for i := 0; i < 4; i++ {
		want := uint32(3)<<16 | uint32(i)
		if got := p.At(i).ID; got != want {
			t.Errorf("At(%d).ID = %#x, want %#x", i, got, want)
		}
	}
}

func TestAcquireReleaseConservation(t *testing.T) {
	p := New(0, pages(8, 64), true)
	acquired := make([]*Context, 0, 8)
	for i := 0; i < 8; i++ {
		acquired = append(acquired, p.Acquire())
	}
	if p.FreeLen() != 0 {
		t.Fatalf("FreeLen() after draining = %d, want 0", p.FreeLen())
	}
	for _, c := range acquired {
		p.Release(c)
	}
	if p.FreeLen() != 8 {
		t.Fatalf("FreeLen() after returning all = %d, want 8", p.FreeLen())
	}
}

func TestWaitForVacantBlocksUntilSignalled(t *testing.T) {
	p := New(0, pages(1, 64), false)
	c := p.At(0)
	c.SetState(WaitingForResponse)

	done := make(chan error, 1)
	go func() {
		done <- c.WaitForVacant()
	}()

	select {
	case <-done:
		t.Fatal("WaitForVacant returned before the context left WaitingForResponse")
	case <-time.After(20 * time.Millisecond):
	}

	c.SetState(Vacant)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitForVacant() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForVacant never returned after SetState(Vacant)")
	}
}

func TestFailLatchesErrorAndDropsToVacant(t *testing.T) {
	p := New(0, pages(1, 64), false)
	c := p.At(0)
	c.SetState(WaitingForResponse)

	wantErr := errors.New("boom")
	var wg sync.WaitGroup
	wg.Add(1)
	var gotErr error
	go func() {
		defer wg.Done()
		gotErr = c.WaitForVacant()
	}()

	c.Fail(wantErr)
	wg.Wait()

	if gotErr != wantErr {
		t.Errorf("WaitForVacant() = %v, want %v", gotErr, wantErr)
	}
	if c.State() != Vacant {
		t.Errorf("State() after Fail = %v, want Vacant", c.State())
	}
}
