// Package alloc provides the pluggable allocator facade the managed-heap
// subsystem routes every allocation through. Per the reentrancy
// constraints of the subsystem, GC code must never call a raw allocation
// primitive directly; it goes through an Allocator value instead.
package alloc

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/orizon-lang/mheap/internal/herr"
)

// Allocator is the pluggable allocator interface exposed to the managed
// heap: alloc/free/realloc/usable-size, nothing more.
type Allocator interface {
	Alloc(n uintptr) unsafe.Pointer
	Free(ptr unsafe.Pointer)
	Realloc(ptr unsafe.Pointer, n uintptr) unsafe.Pointer
	UsableSize(ptr unsafe.Pointer) uintptr
}

// Counters tracks outstanding allocation bytes/counts for a Runtime, per
// §4.1. Every successful allocation and every free adjusts these.
type Counters struct {
	MallocCount int64
	MallocSize  int64
	MallocLimit int64 // 0 means unlimited
}

func (c *Counters) recordAlloc(n uintptr) {
	atomic.AddInt64(&c.MallocCount, 1)
	atomic.AddInt64(&c.MallocSize, int64(n))
}

func (c *Counters) recordFree(n uintptr) {
	atomic.AddInt64(&c.MallocCount, -1)
	atomic.AddInt64(&c.MallocSize, -int64(n))
}

// Snapshot returns a point-in-time copy of the counters.
func (c *Counters) Snapshot() Counters {
	return Counters{
		MallocCount: atomic.LoadInt64(&c.MallocCount),
		MallocSize:  atomic.LoadInt64(&c.MallocSize),
		MallocLimit: atomic.LoadInt64(&c.MallocLimit),
	}
}

// ChargeExternal records n bytes of accounting against the counters
// without going through an Allocator — used for bookkeeping that rides
// on a separate allocation path (e.g. arena-backed GC cells) but still
// needs to participate in the same threshold/limit accounting.
func (c *Counters) ChargeExternal(n int64) {
	atomic.AddInt64(&c.MallocCount, 1)
	atomic.AddInt64(&c.MallocSize, n)
}

// ReleaseExternal is ChargeExternal's inverse.
func (c *Counters) ReleaseExternal(n int64) {
	atomic.AddInt64(&c.MallocCount, -1)
	atomic.AddInt64(&c.MallocSize, -n)
}

// OverLimit reports whether size more bytes would exceed MallocLimit.
func (c *Counters) OverLimit(size uintptr) bool {
	limit := atomic.LoadInt64(&c.MallocLimit)
	if limit <= 0 {
		return false
	}

	return atomic.LoadInt64(&c.MallocSize)+int64(size) > limit
}

// sizeClasses mirrors the teacher's size-classed pooling (allocator.go's
// SizeClassTiny..SizeClassHuge) so UsableSize reports real slack for the
// dynamic-array grower to fold back.
var sizeClasses = []uintptr{64, 128, 256, 512, 1024, 4096, 16384}

func classFor(n uintptr) uintptr {
	for _, c := range sizeClasses {
		if n <= c {
			return c
		}
	}
	// Large allocation: round up to a 4KiB page boundary.
	const page = 4096

	return (n + page - 1) &^ (page - 1)
}

// record is the bookkeeping kept per live allocation. Go gives us no real
// malloc header to smuggle metadata into, so — like the teacher's
// LifetimeTracker.allocations map[uintptr]*Allocation — we key a side
// table by the buffer's address.
type record struct {
	buf      []byte
	usable   uintptr
	reserved uintptr // the size actually requested, for accounting
}

// SliceAllocator is the default Allocator backend: Go byte slices rounded
// up to a size class. Freed buffers are dropped, not pooled for reuse.
// Grounded on allocator.OptimizedAllocator.
type SliceAllocator struct {
	mu       sync.Mutex
	records  map[uintptr]*record
	counters *Counters
}

// NewSliceAllocator creates a slice-backed allocator reporting into counters.
func NewSliceAllocator(counters *Counters) *SliceAllocator {
	return &SliceAllocator{
		records:  make(map[uintptr]*record),
		counters: counters,
	}
}

func (a *SliceAllocator) Alloc(n uintptr) unsafe.Pointer {
	if n == 0 {
		return nil
	}

	if a.counters.OverLimit(n) {
		return nil
	}

	usable := classFor(n)
	buf := make([]byte, usable)
	ptr := unsafe.Pointer(&buf[0])
	addr := uintptr(ptr)

	a.mu.Lock()
	a.records[addr] = &record{buf: buf, usable: usable, reserved: n}
	a.mu.Unlock()

	a.counters.recordAlloc(usable)

	return ptr
}

func (a *SliceAllocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	addr := uintptr(ptr)

	a.mu.Lock()
	rec, ok := a.records[addr]
	if ok {
		delete(a.records, addr)
	}
	a.mu.Unlock()

	if ok {
		a.counters.recordFree(rec.usable)
	}
}

func (a *SliceAllocator) Realloc(ptr unsafe.Pointer, n uintptr) unsafe.Pointer {
	if ptr == nil {
		return a.Alloc(n)
	}

	if n == 0 {
		a.Free(ptr)
		return nil
	}

	addr := uintptr(ptr)

	a.mu.Lock()
	rec, ok := a.records[addr]
	a.mu.Unlock()

	if !ok {
		return a.Alloc(n)
	}

	if n <= rec.usable {
		rec.reserved = n
		return ptr
	}

	newPtr := a.Alloc(n)
	if newPtr == nil {
		return nil
	}

	newBuf := (*(*[1 << 30]byte)(newPtr))[:n:n]
	copy(newBuf, rec.buf)
	a.Free(ptr)

	return newPtr
}

func (a *SliceAllocator) UsableSize(ptr unsafe.Pointer) uintptr {
	if ptr == nil {
		return 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if rec, ok := a.records[uintptr(ptr)]; ok {
		return rec.usable
	}

	return 0
}

// ContextAllocator wraps an Allocator and throws OutOfMemory on a failed
// nonzero-size allocation instead of returning nil, per §4.1's
// "context-scoped variant throws an out-of-memory condition".
type ContextAllocator struct {
	Allocator
}

// MustAlloc allocates n bytes, panicking with *herr.HeapError on failure.
func (c ContextAllocator) MustAlloc(n uintptr) unsafe.Pointer {
	ptr := c.Alloc(n)
	if ptr == nil && n != 0 {
		panic(herr.OutOfMemory(n))
	}

	return ptr
}

// MustRealloc reallocs to n bytes, panicking with *herr.HeapError on failure.
func (c ContextAllocator) MustRealloc(ptr unsafe.Pointer, n uintptr) unsafe.Pointer {
	newPtr := c.Realloc(ptr, n)
	if newPtr == nil && n != 0 {
		panic(herr.OutOfMemory(n))
	}

	return newPtr
}

// GrowCapacity implements the dynamic-array grower of §4.1: growing
// capacity by 1.5x clamped to max(requested, cap*3/2), then folding any
// usable_size slack back into the reported capacity.
func GrowCapacity(requested, curCap int, usable func(int) int) int {
	target := curCap + curCap/2
	if requested > target {
		target = requested
	}

	if usable != nil {
		if slack := usable(target); slack > target {
			target = slack
		}
	}

	return target
}
