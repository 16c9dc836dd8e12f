package heapalloc

import (
	"fmt"
	"io"
	"os"
	"unsafe"
)

const (
	explicitPmin = 2 * W // two pointers must fit in the payload
	explicitBmin = W + explicitPmin

	// noneOffset is the free-list sentinel, stored in prev/next node
	// words and in head. It never collides with a real header offset,
	// since offset 0 is only ever a valid header offset, never a prev/
	// next value pointing at "no block".
	noneOffset = -1
)

// ExplicitAllocator manages a fixed arena with a doubly linked free list
// threaded through the first two words of each free block's payload.
// Allocation is first-fit against that list in LIFO insertion order; Free
// coalesces eagerly with the address-adjacent block to its right.
type ExplicitAllocator struct {
	r    *region
	head int // payload offset of the front free block, or noneOffset
	out  io.Writer
}

// NewExplicitAllocator installs an explicit allocator over arena. The
// arena becomes a single free block spanning arena[W:], which is also the
// sole free-list entry. arena must be at least explicitBmin (24) bytes.
func NewExplicitAllocator(arena []byte) (*ExplicitAllocator, error) {
	r, err := newRegion(arena, explicitBmin)
	if err != nil {
		return nil, err
	}
	a := &ExplicitAllocator{r: r, out: os.Stderr}
	a.head = W
	a.setNode(a.head, noneOffset, noneOffset)
	return a, nil
}

// Reset discards all allocations and returns the arena to a single free
// block, which becomes the sole free-list entry.
func (a *ExplicitAllocator) Reset() {
	a.r.reset()
	a.head = W
	a.setNode(a.head, noneOffset, noneOffset)
}

// SetDiagnosticWriter redirects the one-line diagnostics Allocate and
// Validate print on failure. The default is os.Stderr.
func (a *ExplicitAllocator) SetDiagnosticWriter(w io.Writer) {
	a.out = w
}

// --- free-list node accessors -------------------------------------------
//
// A free block's payload stores two header offsets (or noneOffset) in its
// first two words: prev at payloadOffset, next at payloadOffset+W. These
// are the only places outside region.go that do raw pointer arithmetic,
// per spec.md's "localize the bit trick" guidance.

func (a *ExplicitAllocator) nodePrev(payloadOffset int) int {
	return int(*(*int64)(unsafe.Add(a.r.arenaStart, payloadOffset)))
}

func (a *ExplicitAllocator) nodeNext(payloadOffset int) int {
	return int(*(*int64)(unsafe.Add(a.r.arenaStart, payloadOffset+W)))
}

func (a *ExplicitAllocator) setNodePrev(payloadOffset, prevHeaderOffset int) {
	*(*int64)(unsafe.Add(a.r.arenaStart, payloadOffset)) = int64(prevHeaderOffset)
}

func (a *ExplicitAllocator) setNodeNext(payloadOffset, nextHeaderOffset int) {
	*(*int64)(unsafe.Add(a.r.arenaStart, payloadOffset+W)) = int64(nextHeaderOffset)
}

func (a *ExplicitAllocator) setNode(payloadOffset, prevHeaderOffset, nextHeaderOffset int) {
	a.setNodePrev(payloadOffset, prevHeaderOffset)
	a.setNodeNext(payloadOffset, nextHeaderOffset)
}

// addFront inserts the free block whose payload starts at payloadOffset
// at the front of the free list.
func (a *ExplicitAllocator) addFront(payloadOffset int) {
	headerOffset := a.r.headerOffset(payloadOffset)
	nextHeaderOff := noneOffset
	if a.head != noneOffset {
		nextHeaderOff = a.r.headerOffset(a.head)
		a.setNodePrev(a.head, headerOffset)
	}
	a.setNode(payloadOffset, noneOffset, nextHeaderOff)
	a.head = payloadOffset
}

// detach splices the free block whose payload starts at payloadOffset out
// of the free list.
func (a *ExplicitAllocator) detach(payloadOffset int) {
	prevH := a.nodePrev(payloadOffset)
	nextH := a.nodeNext(payloadOffset)

	if a.head == payloadOffset {
		if nextH == noneOffset {
			a.head = noneOffset
		} else {
			nextPayload := a.r.payloadOffset(nextH)
			a.head = nextPayload
			a.setNodePrev(nextPayload, noneOffset)
		}
	} else {
		prevPayload := a.r.payloadOffset(prevH)
		a.setNodeNext(prevPayload, nextH)
		if nextH != noneOffset {
			nextPayload := a.r.payloadOffset(nextH)
			a.setNodePrev(nextPayload, prevH)
		}
	}
	a.setNode(payloadOffset, noneOffset, noneOffset)
}

// findFirst walks the free list in LIFO insertion order and returns the
// header offset of the first entry whose payload is at least need bytes.
func (a *ExplicitAllocator) findFirst(need int) (headerOffset int, ok bool) {
	cur := a.head
	for cur != noneOffset {
		headerOffset = a.r.headerOffset(cur)
		if a.r.payloadSize(a.r.headerAt(headerOffset)) >= need {
			return headerOffset, true
		}
		next := a.nodeNext(cur)
		if next == noneOffset {
			break
		}
		cur = a.r.payloadOffset(next)
	}
	return 0, false
}

// Allocate returns a payload slice of at least n bytes, or nil if n is 0,
// exceeds MaxRequest, or no free-list entry is large enough.
func (a *ExplicitAllocator) Allocate(n int) []byte {
	need, ok := a.r.validateRequest(n, explicitPmin, a.out)
	if !ok {
		return nil
	}
	headerOffset, ok := a.findFirst(need)
	if !ok {
		return nil
	}

	payloadOffset := a.r.payloadOffset(headerOffset)
	a.detach(payloadOffset)

	h := a.r.headerAt(headerOffset)
	avail := a.r.payloadSize(h)
	remaining := avail - need
	if remaining >= explicitBmin {
		newHeaderOffset := payloadOffset + need
		a.r.setHeader(a.r.headerAt(newHeaderOffset), remaining-W, false)
		a.r.nused += W
		a.addFront(a.r.payloadOffset(newHeaderOffset))
	} else {
		need = avail
	}
	a.r.setHeader(h, need, true)
	a.r.nused += need

	return a.r.arena[payloadOffset : payloadOffset+n : payloadOffset+need]
}

// coalesceForward merges every free block address-adjacent to the right
// of headerOffset into headerOffset's own block, preserving headerOffset's
// current allocated/free status. It returns the block's payload size
// after merging (== its prior size if nothing was absorbed). Used by both
// Free (where headerOffset is already marked free) and the in-place path
// of Reallocate (where it stays marked allocated throughout the merge).
func (a *ExplicitAllocator) coalesceForward(headerOffset int) int {
	h := a.r.headerAt(headerOffset)
	origSize := a.r.payloadSize(h)
	allocated := !a.r.isFree(h)

	cursor := headerOffset + W + origSize
	absorbed := 0
	for cursor < a.r.size {
		nh := a.r.headerAt(cursor)
		if !a.r.isFree(nh) {
			break
		}
		nSize := a.r.payloadSize(nh)
		a.detach(a.r.payloadOffset(cursor))
		absorbed += W + nSize
		a.r.nused -= W
		cursor += W + nSize
	}
	if absorbed > 0 {
		a.r.setHeader(h, origSize+absorbed, allocated)
	}
	return origSize + absorbed
}

// Free releases the block backing p, inserts it at the front of the free
// list, and coalesces it with every free block to its right. A nil or
// empty p is a no-op.
func (a *ExplicitAllocator) Free(p []byte) {
	headerOffset, ok := a.r.offsetOf(p)
	if !ok {
		return
	}
	h := a.r.headerAt(headerOffset)
	size := a.r.payloadSize(h)
	payloadOffset := a.r.payloadOffset(headerOffset)

	a.addFront(payloadOffset)
	a.r.setHeader(h, size, false)
	a.coalesceForward(headerOffset)
	a.r.nused -= size
}

// Reallocate first tries to grow p in place by coalescing forward onto
// it; if the result (or shrink) fits, p's address is preserved and a
// leftover of at least explicitBmin bytes is split back into the free
// list (a smaller one stays part of p's block). Otherwise it allocates a
// fresh block, copies min(old payload size, n) bytes, frees p, and
// returns the new address. p == nil is equivalent to Allocate(n).
func (a *ExplicitAllocator) Reallocate(p []byte, n int) []byte {
	if len(p) == 0 {
		return a.Allocate(n)
	}
	need, ok := a.r.validateRequest(n, explicitPmin, a.out)
	if !ok {
		return nil
	}
	headerOffset, ok := a.r.offsetOf(p)
	if !ok {
		return nil
	}

	h := a.r.headerAt(headerOffset)
	oldSize := a.r.payloadSize(h)
	payloadOffset := a.r.payloadOffset(headerOffset)

	after := a.coalesceForward(headerOffset)

	if need <= after {
		finalNeed := need
		splitHeaderCharge := 0
		remaining := after - need
		if remaining >= explicitBmin {
			newHeaderOffset := payloadOffset + need
			a.r.setHeader(a.r.headerAt(newHeaderOffset), remaining-W, false)
			a.addFront(a.r.payloadOffset(newHeaderOffset))
			splitHeaderCharge = W
		} else {
			finalNeed = after
		}
		a.r.setHeader(h, finalNeed, true)
		// Only the net growth (or shrink) beyond what was already
		// charged for oldSize needs to move through nused; see
		// SPEC_FULL.md §9 on the historical double-counting bug this
		// deliberately avoids.
		a.r.nused += splitHeaderCharge + (finalNeed - oldSize)
		return a.r.arena[payloadOffset : payloadOffset+n : payloadOffset+finalNeed]
	}

	newP := a.Allocate(n)
	if newP == nil {
		return nil
	}
	copyLen := oldSize
	if n < copyLen {
		copyLen = n
	}
	copy(newP, a.r.arena[payloadOffset:payloadOffset+copyLen])

	// Release the already-coalesced block. Only oldSize was ever charged
	// against nused for it (coalesceForward only ever reclaims absorbed
	// headers), so that — not `after` — is what comes back out.
	a.r.setHeader(h, after, false)
	a.addFront(payloadOffset)
	a.r.nused -= oldSize

	return newP
}

// Validate walks the whole arena checking tiling and alignment, then
// cross-checks the free list against the address-ordered set of free
// blocks: every free-list entry must be free, and the two counts must
// agree. It prints one diagnostic line per failure to the allocator's
// writer and returns false if any check fails.
func (a *ExplicitAllocator) Validate() bool {
	ok := true
	offset := 0
	numFreeByAddress := 0
	for offset < a.r.size {
		h := a.r.headerAt(offset)
		size := a.r.payloadSize(h)
		if size%W != 0 {
			fmt.Fprintf(a.out, "heapalloc: block at header offset %d has unaligned payload size %d\n", offset, size)
			ok = false
		}
		if a.r.isFree(h) {
			numFreeByAddress++
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

	numFreeByList := 0
	cur := a.head
	for cur != noneOffset {
		h := a.r.headerAt(a.r.headerOffset(cur))
		if !a.r.isFree(h) {
			fmt.Fprintf(a.out, "heapalloc: free list entry at payload offset %d is not marked free\n", cur)
			ok = false
		}
		numFreeByList++
		next := a.nodeNext(cur)
		if next == noneOffset {
			break
		}
		cur = a.r.payloadOffset(next)
	}
	if numFreeByList != numFreeByAddress {
		fmt.Fprintf(a.out, "heapalloc: free list has %d entries, address walk found %d free blocks\n", numFreeByList, numFreeByAddress)
		ok = false
	}
	return ok
}

// Dump prints a line per block for interactive debugging, including the
// free list's prev/next links for free blocks. It is a diagnostic
// convenience only, not part of the allocator's tested contract.
func (a *ExplicitAllocator) Dump(w io.Writer) {
	offset := 0
	blockNum := 0
	for offset < a.r.size {
		h := a.r.headerAt(offset)
		size := a.r.payloadSize(h)
		blockNum++
		if a.r.isFree(h) {
			payloadOffset := a.r.payloadOffset(offset)
			fmt.Fprintf(w, "%d header=%d F payload=%d prev=%d next=%d\n",
				blockNum, offset, size, a.nodePrev(payloadOffset), a.nodeNext(payloadOffset))
		} else {
			fmt.Fprintf(w, "%d header=%d A payload=%d\n", blockNum, offset, size)
		}
		offset = a.r.stepHeaderOffset(offset, h)
	}
	fmt.Fprintf(w, "free list head: %d\n", a.head)
}
