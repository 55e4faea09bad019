package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/orizon-lang/mheap/internal/alloc"
	"github.com/orizon-lang/mheap/internal/heap"
)

func TestTriggerWatcherEnqueuesOnSentinel(t *testing.T) {
	dir := t.TempDir()

	rt := heap.NewRuntime(alloc.NewSliceAllocator(&alloc.Counters{}))
	ctx := rt.NewContext()

	tw, err := New(rt, ctx, dir, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tw.Close()

	path := filepath.Join(dir, DefaultSentinel)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}

	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	var dumped heap.CellID
	for dumped == 0 {
		select {
		case <-ticker.C:
			rt.PollExternalRequests(func(c heap.CellID) { dumped = c })
		case <-deadline:
			t.Fatal("timed out waiting for the sentinel to trigger a dump request")
		}
	}

	if dumped != ctx {
		t.Errorf("expected dump request for ctx %d, got %d", ctx, dumped)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected sentinel file to be removed, stat err = %v", err)
	}
}

func TestTriggerWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()

	rt := heap.NewRuntime(alloc.NewSliceAllocator(&alloc.Counters{}))
	ctx := rt.NewContext()

	tw, err := New(rt, ctx, dir, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tw.Close()

	if err := os.WriteFile(filepath.Join(dir, "not-the-sentinel.txt"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	dumped := false
	rt.PollExternalRequests(func(heap.CellID) { dumped = true })

	if dumped {
		t.Error("unrelated file creation should not trigger a dump request")
	}
}
