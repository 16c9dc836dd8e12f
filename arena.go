package heapalloc

import (
	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/bytedance/gopkg/lang/mcache"
)

// NewPooledArena sources a size-byte backing region from a shared memory
// pool instead of a bare make([]byte, size). The returned slice is exactly
// size bytes long and is handed straight to NewImplicitAllocator or
// NewExplicitAllocator as the fixed region to manage; its contents are not
// zeroed, matching the allocator's own "payload contents are undefined
// until written" contract.
//
// Pair every NewPooledArena call with ReleasePooledArena once the
// allocator built over it is no longer needed.
func NewPooledArena(size int) []byte {
	return mcache.Malloc(size)
}

// ReleasePooledArena returns a region obtained from NewPooledArena to the
// pool. Callers must stop using both the arena and any allocator built
// over it before calling this.
func ReleasePooledArena(arena []byte) {
	mcache.Free(arena)
}

// NewDirtyArena allocates a size-byte backing region outside the shared
// pool, for callers who want a one-shot region without pool bookkeeping
// (e.g. short-lived tests). Like NewPooledArena its contents are not
// zeroed.
func NewDirtyArena(size int) []byte {
	return dirtmake.Bytes(size, size)
}
