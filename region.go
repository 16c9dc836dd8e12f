package heapalloc

import (
	"fmt"
	"io"
	"unsafe"
)

// W is the header/alignment word size. Every header, payload size, and
// returned payload address is a multiple of W.
const W = 8

// MaxRequest bounds a single allocation request. It exists so a corrupt or
// adversarial size never overflows the header's size field.
const MaxRequest = 1 << 32

// region is the process-wide state shared by both allocator variants: the
// arena being managed, a cached pointer to its start for pointer
// arithmetic, and the running nused tally. It carries no free-block index
// of its own — that part differs between ImplicitAllocator and
// ExplicitAllocator and lives in their own files.
type region struct {
	arena      []byte
	arenaStart unsafe.Pointer
	size       int
	nused      int
}

func newRegion(arena []byte, bmin int) (*region, error) {
	if len(arena) < bmin {
		return nil, fmt.Errorf("heapalloc: region size must be >= %d bytes, got %d", bmin, len(arena))
	}
	r := &region{
		arena:      arena,
		arenaStart: unsafe.Pointer(&arena[0]),
		size:       len(arena),
	}
	r.reset()
	return r, nil
}

// reset collapses the region back to a single free block spanning the
// whole arena and resets nused to the one header it now charges.
func (r *region) reset() {
	r.nused = W
	r.setHeader(r.headerAt(0), r.size-W, false)
}

func (r *region) headerAt(offset int) *uint64 {
	return (*uint64)(unsafe.Add(r.arenaStart, offset))
}

func (r *region) isFree(h *uint64) bool {
	return *h&1 == 0
}

func (r *region) payloadSize(h *uint64) int {
	return int(*h &^ 1)
}

func (r *region) setHeader(h *uint64, size int, allocated bool) {
	v := uint64(size)
	if allocated {
		v |= 1
	}
	*h = v
}

func (r *region) payloadOffset(headerOffset int) int {
	return headerOffset + W
}

func (r *region) headerOffset(payloadOffset int) int {
	return payloadOffset - W
}

// stepHeaderOffset advances from a block's header to the next block's
// header in address order, given that block's own header. Callers walking
// the whole region should loop `for offset < r.size` and treat any offset
// that lands exactly on r.size as having reached the end; any other
// post-loop offset is a tiling violation (see Validate).
func (r *region) stepHeaderOffset(offset int, h *uint64) int {
	return offset + W + r.payloadSize(h)
}

// offsetOf recovers the header offset of the block backing a payload slice
// previously handed out by Allocate/Reallocate. It reports ok=false for a
// nil/empty slice (the "none" sentinel) or for a slice that plainly isn't
// backed by this arena.
func (r *region) offsetOf(p []byte) (headerOffset int, ok bool) {
	if len(p) == 0 {
		return 0, false
	}
	dataPtr := uintptr(unsafe.Pointer(&p[0]))
	base := uintptr(r.arenaStart)
	if dataPtr < base {
		return 0, false
	}
	payloadOffset := int(dataPtr - base)
	if payloadOffset < W || payloadOffset >= r.size {
		return 0, false
	}
	return r.headerOffset(payloadOffset), true
}

// validateRequest implements the shared request-validation/rounding rule
// from the allocate and reallocate paths: reject a zero-sized or
// oversized request, round up to a W-aligned size of at least pmin bytes,
// and reject (printing a diagnostic) a request that would overrun the
// region's budget.
func (r *region) validateRequest(requestedSize, pmin int, out io.Writer) (need int, ok bool) {
	if requestedSize <= 0 {
		return 0, false
	}
	need = roundUp(requestedSize, W)
	if need < pmin {
		need = pmin
	}
	if need > MaxRequest {
		return 0, false
	}
	if need+r.nused > r.size {
		fmt.Fprintf(out, "heapalloc: out of memory; cannot service request of %d bytes\n", requestedSize)
		return 0, false
	}
	return need, true
}

// roundUp rounds sz up to the nearest multiple of mult, which must be a
// power of two. This is the one arithmetic helper spec.md treats as an
// external collaborator; no round-to-alignment primitive exists anywhere
// in the retrieved example pack (see DESIGN.md), so it stays a plain
// one-liner here instead of importing something for it.
func roundUp(sz, mult int) int {
	return (sz + mult - 1) &^ (mult - 1)
}
