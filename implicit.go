package heapalloc

import (
	"fmt"
	"io"
	"os"
)

const (
	implicitPmin = W     // payload must hold at least one word
	implicitBmin = W + implicitPmin
)

// ImplicitAllocator manages a fixed arena by walking every block in
// address order to find a free one; it keeps no extra free-block index.
// Freed blocks are never coalesced with their neighbors, so Reallocate
// always relocates.
type ImplicitAllocator struct {
	r   *region
	out io.Writer
}

// NewImplicitAllocator installs an implicit allocator over arena. The
// arena becomes a single free block spanning arena[W:]. arena must be at
// least implicitBmin (16) bytes.
func NewImplicitAllocator(arena []byte) (*ImplicitAllocator, error) {
	r, err := newRegion(arena, implicitBmin)
	if err != nil {
		return nil, err
	}
	return &ImplicitAllocator{r: r, out: os.Stderr}, nil
}

// Reset discards all allocations and returns the arena to a single free
// block, without any per-block teardown.
func (a *ImplicitAllocator) Reset() {
	a.r.reset()
}

// SetDiagnosticWriter redirects the one-line diagnostics Allocate and
// Validate print on failure. The default is os.Stderr.
func (a *ImplicitAllocator) SetDiagnosticWriter(w io.Writer) {
	a.out = w
}

// Allocate returns a payload slice of at least n bytes, or nil if n is 0,
// exceeds MaxRequest, or the region has no free block large enough.
func (a *ImplicitAllocator) Allocate(n int) []byte {
	need, ok := a.r.validateRequest(n, implicitPmin, a.out)
	if !ok {
		return nil
	}
	headerOffset, ok := a.findFirst(need)
	if !ok {
		return nil
	}

	h := a.r.headerAt(headerOffset)
	payloadOffset := a.r.payloadOffset(headerOffset)
	avail := a.r.payloadSize(h)
	remaining := avail - need
	if remaining >= implicitBmin {
		newHeaderOffset := payloadOffset + need
		a.r.setHeader(a.r.headerAt(newHeaderOffset), remaining-W, false)
		a.r.nused += W
	} else {
		need = avail
	}
	a.r.setHeader(h, need, true)
	a.r.nused += need

	return a.r.arena[payloadOffset : payloadOffset+n : payloadOffset+need]
}

// findFirst walks every block from the start of the arena in address
// order and returns the header offset of the first free block whose
// payload is at least need bytes.
func (a *ImplicitAllocator) findFirst(need int) (headerOffset int, ok bool) {
	offset := 0
	for offset < a.r.size {
		h := a.r.headerAt(offset)
		if a.r.isFree(h) && a.r.payloadSize(h) >= need {
			return offset, true
		}
		offset = a.r.stepHeaderOffset(offset, h)
	}
	return 0, false
}

// Free releases the block backing p. A nil or empty p is a no-op. Free
// never coalesces with neighboring blocks in the implicit variant.
func (a *ImplicitAllocator) Free(p []byte) {
	headerOffset, ok := a.r.offsetOf(p)
	if !ok {
		return
	}
	h := a.r.headerAt(headerOffset)
	size := a.r.payloadSize(h)
	a.r.setHeader(h, size, false)
	a.r.nused -= size
}

// Reallocate always relocates in the implicit variant: it allocates a
// fresh block of n bytes, copies min(old payload size, n) bytes from p,
// frees p, and returns the new payload. p == nil is equivalent to
// Allocate(n).
func (a *ImplicitAllocator) Reallocate(p []byte, n int) []byte {
	if len(p) == 0 {
		return a.Allocate(n)
	}
	headerOffset, ok := a.r.offsetOf(p)
	if !ok {
		return nil
	}
	oldPayloadOffset := a.r.payloadOffset(headerOffset)
	oldSize := a.r.payloadSize(a.r.headerAt(headerOffset))

	newP := a.Allocate(n)
	if newP == nil {
		return nil
	}

	copyLen := oldSize
	if n < copyLen {
		copyLen = n
	}
	copy(newP, a.r.arena[oldPayloadOffset:oldPayloadOffset+copyLen])
	a.Free(p)
	return newP
}

// Validate walks the whole arena checking tiling, alignment, and the
// nused budget. It prints one diagnostic line per failure to the
// allocator's writer and returns false if any check fails.
func (a *ImplicitAllocator) Validate() bool {
	ok := true
	offset := 0
	for offset < a.r.size {
		h := a.r.headerAt(offset)
		size := a.r.payloadSize(h)
		if size%W != 0 {
			fmt.Fprintf(a.out, "heapalloc: block at header offset %d has unaligned payload size %d\n", offset, size)
			ok = false
		}
		offset = a.r.stepHeaderOffset(offset, h)
	}
	if offset != a.r.size {
		fmt.Fprintf(a.out, "heapalloc: tiling violation, walk ended at offset %d, expected %d\n", offset, a.r.size)
		ok = false
	}
	if a.r.nused > a.r.size {
		fmt.Fprintf(a.out, "heapalloc: nused %d exceeds region size %d\n", a.r.nused, a.r.size)
		ok = false
	}
	return ok
}

// Dump prints a line per block for interactive debugging. It is a
// diagnostic convenience only, not part of the allocator's tested
// contract.
func (a *ImplicitAllocator) Dump(w io.Writer) {
	offset := 0
	blockNum := 0
	for offset < a.r.size {
		h := a.r.headerAt(offset)
		size := a.r.payloadSize(h)
		status := byte('A')
		if a.r.isFree(h) {
			status = 'F'
		}
		blockNum++
		fmt.Fprintf(w, "%d header=%d %c payload=%d\n", blockNum, offset, status, size)
		offset = a.r.stepHeaderOffset(offset, h)
	}
}
