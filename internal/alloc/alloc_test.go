package alloc

import (
	"testing"
)

func TestSliceAllocatorBasic(t *testing.T) {
	counters := &Counters{}
	a := NewSliceAllocator(counters)

	t.Run("BasicAllocation", func(t *testing.T) {
		ptr := a.Alloc(100)
		if ptr == nil {
			t.Fatal("allocation failed")
		}

		data := (*[100]byte)(ptr)
		for i := range data {
			data[i] = byte(i)
		}

		if a.UsableSize(ptr) < 100 {
			t.Errorf("usable size %d < requested 100", a.UsableSize(ptr))
		}

		a.Free(ptr)
	})

	t.Run("ZeroAllocation", func(t *testing.T) {
		if ptr := a.Alloc(0); ptr != nil {
			t.Error("zero allocation should return nil")
		}
	})

	t.Run("CountersBalance", func(t *testing.T) {
		snap := counters.Snapshot()
		if snap.MallocCount != 0 || snap.MallocSize != 0 {
			t.Errorf("expected balanced counters after frees, got %+v", snap)
		}
	})
}

func TestSliceAllocatorRealloc(t *testing.T) {
	counters := &Counters{}
	a := NewSliceAllocator(counters)

	ptr := a.Alloc(10)
	data := (*[10]byte)(ptr)
	for i := range data {
		data[i] = byte(i + 1)
	}

	bigger := a.Realloc(ptr, 2000)
	if bigger == nil {
		t.Fatal("realloc to larger size failed")
	}

	grown := (*[10]byte)(bigger)
	for i := range grown {
		if grown[i] != byte(i+1) {
			t.Fatalf("realloc did not preserve data at %d: got %d", i, grown[i])
		}
	}

	a.Free(bigger)
}

func TestMallocLimit(t *testing.T) {
	counters := &Counters{MallocLimit: 100}
	a := NewSliceAllocator(counters)

	if ptr := a.Alloc(1000); ptr != nil {
		t.Error("allocation beyond limit should fail")
		a.Free(ptr)
	}
}

func TestContextAllocatorPanicsOnOOM(t *testing.T) {
	counters := &Counters{MallocLimit: 1}
	ca := ContextAllocator{NewSliceAllocator(counters)}

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected MustAlloc to panic on OOM")
		}
	}()

	_ = ca.MustAlloc(4096)
}

func TestGrowCapacity(t *testing.T) {
	got := GrowCapacity(5, 10, func(n int) int { return n })
	if got != 15 {
		t.Errorf("expected 1.5x clamp to 15, got %d", got)
	}

	got = GrowCapacity(100, 10, nil)
	if got != 100 {
		t.Errorf("expected requested to win when larger, got %d", got)
	}

	got = GrowCapacity(5, 10, func(n int) int { return n + 50 })
	if got != 65 {
		t.Errorf("expected usable-size slack folded back, got %d", got)
	}
}
