// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gomalloc

// listEntry is one node of the address-ordered doubly linked list that
// tiles a ListPool's backing region, rendered as plain Go pointers: prev/
// next order entries by address, and isFree plus the separate
// freePrev/freeNext chain track free-list membership without a second
// container.
type listEntry struct {
	addr   uintptr
	size   int
	isFree bool

	prev, next         *listEntry // address-ordered chain
	freePrev, freeNext *listEntry // free-list chain, valid only if isFree
}

// ListPool is a coalescing, address-ordered free-list allocator over a
// contiguous backing region. It also supports AllocateAligned for carving
// Page-aligned 2 MiB slabs out of a region that is itself only Page-aligned
// at its base.
//
// ListPool is protected entirely by the backing-store writer lock held by
// its owning Manager/BackingRegion; it performs no internal locking of its
// own. Lock order is always class lock before backing-store lock, never the
// reverse, and ListPool never needs a lock of its own since only one
// goroutine at a time ever holds the backing-store lock while touching it.
type ListPool struct {
	base     uintptr
	poolSize int
	freeBytes int

	entries  *listEntry // head of the address-ordered chain
	freeHead *listEntry // head of the free chain
	used     map[uintptr]*listEntry
}

// newListPool creates a ListPool spanning [base, base+size) as a single
// free entry.
func newListPool(base uintptr, size int) *ListPool {
	e := &listEntry{addr: base, size: size, isFree: true}
	lp := &ListPool{
		base:      base,
		poolSize:  size,
		freeBytes: size,
		entries:   e,
		freeHead:  e,
		used:      make(map[uintptr]*listEntry),
	}
	return lp
}

// Allocate performs a first-fit scan of the free list, carving size bytes
// from the front of the first entry large enough. Returns ok=false iff no
// entry is large enough.
func (lp *ListPool) Allocate(size int) (addr uintptr, ok bool) {
	for e := lp.freeHead; e != nil; e = e.freeNext {
		if e.size < size {
			continue
		}
		lp.freeBytes -= size
		leftover := e.size - size
		if leftover == 0 {
			lp.unlinkFree(e)
			e.isFree = false
			lp.used[e.addr] = e
			return e.addr, true
		}

		used := &listEntry{addr: e.addr, size: size, isFree: false}
		e.addr += uintptr(size)
		e.size = leftover

		used.prev = e.prev
		used.next = e
		if e.prev != nil {
			e.prev.next = used
		} else {
			lp.entries = used
		}
		e.prev = used

		lp.used[used.addr] = used
		return used.addr, true
	}
	return 0, false
}

// AllocateAligned scans the free list for an entry that contains a
// size-aligned sub-range of length size, splitting into up to three
// entries: a free prefix, a used middle, and a free suffix. Returns
// ok=false iff no entry can satisfy the alignment and size together.
func (lp *ListPool) AllocateAligned(size int) (addr uintptr, ok bool) {
	align := uintptr(size)
	for e := lp.freeHead; e != nil; e = e.freeNext {
		start := ((e.addr + align - 1) / align) * align
		end := e.addr + uintptr(e.size)
		if start+uintptr(size) > end {
			continue
		}
		lp.freeBytes -= size

		left := int(start - e.addr)
		right := int(end - start - uintptr(size))

		used := &listEntry{addr: start, size: size, isFree: false}
		used.prev, used.next = e.prev, e.next

		if left > 0 {
			leftEntry := &listEntry{addr: e.addr, size: left, isFree: true}
			leftEntry.prev = e.prev
			leftEntry.next = used
			used.prev = leftEntry
			if e.prev != nil {
				e.prev.next = leftEntry
			} else {
				lp.entries = leftEntry
			}
			lp.replaceInFreeList(e, leftEntry)
		} else {
			if e.prev != nil {
				e.prev.next = used
			} else {
				lp.entries = used
			}
			lp.unlinkFree(e)
		}

		if right > 0 {
			rightEntry := &listEntry{addr: start + uintptr(size), size: right, isFree: true}
			rightEntry.next = e.next
			rightEntry.prev = used
			used.next = rightEntry
			if e.next != nil {
				e.next.prev = rightEntry
			}
			lp.insertFree(rightEntry)
		} else if e.next != nil {
			e.next.prev = used
		}

		lp.used[used.addr] = used
		return used.addr, true
	}
	return 0, false
}

// Free marks the entry at addr free, coalesces it with an immediately
// adjacent free predecessor and/or successor, and re-links it into the
// free chain. Returns the pool's post-free byte count.
func (lp *ListPool) Free(addr uintptr) int {
	e, found := lp.used[addr]
	assertf(found, "ListPool.Free: address %#x not allocated from this pool", addr)
	if !found {
		return lp.freeBytes
	}
	delete(lp.used, addr)
	lp.freeBytes += e.size
	e.isFree = true

	if prev := e.prev; prev != nil && prev.isFree {
		prev.next = e.next
		if e.next != nil {
			e.next.prev = prev
		}
		prev.size += e.size
		e = prev
	} else {
		lp.insertFree(e)
	}

	if next := e.next; next != nil && next.isFree && next != e {
		e.next = next.next
		if next.next != nil {
			next.next.prev = e
		}
		e.size += next.size
		lp.unlinkFree(next)
	}

	return lp.freeBytes
}

// FreeBytes returns the pool's current free byte count.
func (lp *ListPool) FreeBytes() int { return lp.freeBytes }

func (lp *ListPool) insertFree(e *listEntry) {
	e.freeNext = lp.freeHead
	if lp.freeHead != nil {
		lp.freeHead.freePrev = e
	}
	e.freePrev = nil
	lp.freeHead = e
}

func (lp *ListPool) unlinkFree(e *listEntry) {
	if e.freePrev != nil {
		e.freePrev.freeNext = e.freeNext
	} else {
		lp.freeHead = e.freeNext
	}
	if e.freeNext != nil {
		e.freeNext.freePrev = e.freePrev
	}
	e.freePrev, e.freeNext = nil, nil
}

func (lp *ListPool) replaceInFreeList(old, replacement *listEntry) {
	replacement.freePrev = old.freePrev
	replacement.freeNext = old.freeNext
	if old.freePrev != nil {
		old.freePrev.freeNext = replacement
	} else {
		lp.freeHead = replacement
	}
	if old.freeNext != nil {
		old.freeNext.freePrev = replacement
	}
	old.freePrev, old.freeNext = nil, nil
}
