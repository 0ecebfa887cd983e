package arena

import "testing"

func TestNewDefaults(t *testing.T) {
	a, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if a.PageSize() != 4096 {
		t.Errorf("PageSize() = %d, want 4096", a.PageSize())
	}
	if a.NumPages() != 16 {
		t.Errorf("NumPages() = %d, want 16", a.NumPages())
	}
	if len(a.Bytes()) != 4096*16 {
		t.Errorf("len(Bytes()) = %d, want %d", len(a.Bytes()), 4096*16)
	}
}

func TestPageIsolation(t *testing.T) {
	a, err := New(Config{PageSize: 1024, NumPages: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	for i := 0; i < 4; i++ {
		p := a.Page(i)
		if len(p) != 1024 {
			t.Fatalf("Page(%d) length = %d, want 1024", i, len(p))
		}
		p[0] = byte(i + 1)
	}
	for i := 0; i < 4; i++ {
		if got := a.Page(i)[0]; got != byte(i+1) {
			t.Errorf("Page(%d)[0] = %d, want %d (pages overlap)", i, got, i+1)
		}
	}
}

func TestOffsetOf(t *testing.T) {
	a, err := New(Config{PageSize: 2048, NumPages: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if got := a.OffsetOf(2); got != 4096 {
		t.Errorf("OffsetOf(2) = %d, want 4096", got)
	}
}

func TestRejectsPageSizeOutOfRange(t *testing.T) {
	if _, err := New(Config{PageSize: 1}); err == nil {
		t.Fatal("expected error for too-small page size")
	}
	if _, err := New(Config{PageSize: 1 << 20}); err == nil {
		t.Fatal("expected error for too-large page size")
	}
}

func TestWrapOverExternalMemory(t *testing.T) {
	mem := make([]byte, 1024*4)
	a, err := Wrap(mem, 1024)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if a.NumPages() != 4 {
		t.Errorf("NumPages() = %d, want 4", a.NumPages())
	}
	a.Page(1)[0] = 7
	if mem[1024] != 7 {
		t.Error("Wrap should alias the caller's memory, not copy it")
	}
}

func TestWrapRejectsMisalignedLength(t *testing.T) {
	if _, err := Wrap(make([]byte, 100), 64); err == nil {
		t.Fatal("expected error for length not a multiple of page size")
	}
}
