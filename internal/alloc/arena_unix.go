//go:build unix

// Grounded on the teacher's OS-syscall-via-x/sys pattern
// (internal/runtime/asyncio/zerocopy_unix_file.go) applied to the arena
// allocator (internal/allocator/arena.go) instead of to file I/O.
package alloc

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MmapArena is a bump-pointer arena backed by a single anonymous mmap
// region, with freed blocks recycled from a per-size-class free list
// rather than returned to the kernel. It is the preferred Allocator
// backend on unix targets; SliceAllocator is the portable fallback.
type MmapArena struct {
	mu        sync.Mutex
	region    []byte
	offset    uintptr
	freeLists map[uintptr][]unsafe.Pointer
	live      map[uintptr]uintptr // address -> usable size
	counters  *Counters
}

// NewMmapArena reserves size bytes of anonymous memory via unix.Mmap.
func NewMmapArena(size uintptr, counters *Counters) (*MmapArena, error) {
	region, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}

	return &MmapArena{
		region:    region,
		freeLists: make(map[uintptr][]unsafe.Pointer),
		live:      make(map[uintptr]uintptr),
		counters:  counters,
	}, nil
}

// Close releases the underlying mapping via unix.Munmap.
func (a *MmapArena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.region == nil {
		return nil
	}

	err := unix.Munmap(a.region)
	a.region = nil

	return err
}

func (a *MmapArena) Alloc(n uintptr) unsafe.Pointer {
	if n == 0 {
		return nil
	}

	usable := classFor(n)
	if a.counters.OverLimit(usable) {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if free := a.freeLists[usable]; len(free) > 0 {
		ptr := free[len(free)-1]
		a.freeLists[usable] = free[:len(free)-1]
		a.live[uintptr(ptr)] = usable
		a.counters.recordAlloc(usable)

		return ptr
	}

	if a.offset+usable > uintptr(len(a.region)) {
		return nil // arena exhausted
	}

	ptr := unsafe.Pointer(&a.region[a.offset])
	a.live[uintptr(ptr)] = usable
	a.offset += usable
	a.counters.recordAlloc(usable)

	return ptr
}

func (a *MmapArena) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	addr := uintptr(ptr)

	usable, ok := a.live[addr]
	if !ok {
		return
	}

	delete(a.live, addr)
	a.freeLists[usable] = append(a.freeLists[usable], ptr)
	a.counters.recordFree(usable)
}

func (a *MmapArena) Realloc(ptr unsafe.Pointer, n uintptr) unsafe.Pointer {
	if ptr == nil {
		return a.Alloc(n)
	}

	if n == 0 {
		a.Free(ptr)
		return nil
	}

	a.mu.Lock()
	usable, ok := a.live[uintptr(ptr)]
	a.mu.Unlock()

	if ok && n <= usable {
		return ptr
	}

	newPtr := a.Alloc(n)
	if newPtr == nil {
		return nil
	}

	if ok {
		dst := (*(*[1 << 30]byte)(newPtr))[:usable:usable]
		src := (*(*[1 << 30]byte)(ptr))[:usable:usable]
		copy(dst, src)
	}

	a.Free(ptr)

	return newPtr
}

func (a *MmapArena) UsableSize(ptr unsafe.Pointer) uintptr {
	if ptr == nil {
		return 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	return a.live[uintptr(ptr)]
}
