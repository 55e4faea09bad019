//go:build !unix

package alloc

import "errors"

// NewMmapArena is unavailable off unix targets; callers should fall back
// to NewSliceAllocator, matching the teacher's own build-tag-gated
// OS-specific file pattern (asyncio/zerocopy_windows_file.go falls back
// to a generic path the same way).
func NewMmapArena(size uintptr, counters *Counters) (*MmapArena, error) {
	return nil, errors.New("alloc: MmapArena requires a unix target")
}

// MmapArena is a stub on non-unix targets; see arena_unix.go.
type MmapArena struct{}

func (a *MmapArena) Close() error { return nil }
