// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gomalloc

import (
	"sync"
)

// classQueue is the per-class free-pool queue: a singly-linked list of
// BlockPools known to have free capacity, guarded by a reader/writer lock.
// A BlockPool whose onQueue flag is set appears exactly once here.
type classQueue struct {
	mu   sync.RWMutex
	head *BlockPool
}

// PoolDirectory owns the per-class free-pool queues for both the small and
// large size-class tiers, plus the shared small-container class used to
// carve 4 KiB small-slabs out of 2 MiB pages.
type PoolDirectory struct {
	small     [len(SmallClasses)]classQueue
	large     [len(LargeClasses)]classQueue
	container classQueue // BlockPools of 4 KiB small-slabs inside a 2 MiB SmallContainer page

	mgr *Manager
}

func newPoolDirectory(mgr *Manager) *PoolDirectory {
	return &PoolDirectory{mgr: mgr}
}

// reclaimNumerator/reclaimDenominator is the 3/8 threshold: a BlockPool
// only becomes re-enqueueable once it is at least this empty, which
// prevents a pool from thrashing on and off the queue near full occupancy.
const reclaimNumerator, reclaimDenominator = 3, 8

// allocate tries the queue head lock-free, drains dead heads under the
// writer lock, and procures a fresh slab via procure if the class queue
// goes empty. procure always runs with this class's lock released — a
// thread holds at most one class lock at a time, since procure for a small
// slab recurses into allocate for the shared container class. A race where
// two callers both find the queue empty and both procure is possible but
// harmless: both slabs end up linked into the queue, one is simply used a
// little sooner than it strictly needed to be.
func (pd *PoolDirectory) allocate(q *classQueue, procure func() *BlockPool) uintptr {
	q.mu.RLock()
	if head := q.head; head != nil {
		if addr, ok := head.Allocate(); ok {
			q.mu.RUnlock()
			return addr
		}
	}
	q.mu.RUnlock()

	q.mu.Lock()
	for q.head != nil {
		if addr, ok := q.head.Allocate(); ok {
			q.mu.Unlock()
			return addr
		}
		dead := q.head
		dead.onQueue.Store(false)
		q.head = dead.next
		dead.next = nil
	}
	q.mu.Unlock()

	pool := procure()

	q.mu.Lock()
	pool.onQueue.Store(true)
	pool.next = q.head
	q.head = pool
	q.mu.Unlock()

	addr, ok := pool.Allocate()
	if !ok {
		// A freshly procured slab must have capacity; this would indicate
		// a construction bug, not a runtime condition.
		panic("gomalloc: freshly procured BlockPool reports no free blocks")
	}
	return addr
}

// free returns a block to pool and manages its class queue membership.
// onEmpty is invoked, with the class lock already released, when the pool
// both crosses back to fully free and is not the class queue's current
// head — it owns returning the slab to its backing store.
func (pd *PoolDirectory) free(q *classQueue, pool *BlockPool, addr uintptr, poolSize int, onEmpty func(pool *BlockPool)) {
	newFreeBytes := pool.Free(addr)
	if newFreeBytes < int64(poolSize)*reclaimNumerator/reclaimDenominator {
		return
	}

	if !pool.onQueue.Load() {
		q.mu.Lock()
		if !pool.onQueue.Load() {
			pool.next = q.head
			q.head = pool
			pool.onQueue.Store(true)
		}
		q.mu.Unlock()
		return
	}

	if newFreeBytes == int64(pool.poolSize) {
		q.mu.Lock()
		reclaim := q.head != pool
		if reclaim {
			pd.unlinkFromQueue(q, pool)
		}
		q.mu.Unlock()
		if reclaim {
			onEmpty(pool)
		}
	}
}

func (pd *PoolDirectory) unlinkFromQueue(q *classQueue, pool *BlockPool) {
	if q.head == pool {
		q.head = pool.next
		pool.next = nil
		pool.onQueue.Store(false)
		return
	}
	for p := q.head; p != nil; p = p.next {
		if p.next == pool {
			p.next = pool.next
			pool.next = nil
			pool.onQueue.Store(false)
			return
		}
	}
}

// AllocateSmall services a small-class request: index into SmallClasses.
func (pd *PoolDirectory) AllocateSmall(index int) uintptr {
	q := &pd.small[index]
	return pd.allocate(q, func() *BlockPool {
		return pd.procureSmallSlab(index)
	})
}

// AllocateLarge services a large-class (medium) request: index into
// LargeClasses.
func (pd *PoolDirectory) AllocateLarge(index int) uintptr {
	q := &pd.large[index]
	return pd.allocate(q, func() *BlockPool {
		base := pd.mgr.allocLargeSlab()
		pool := newBlockPool(base, LargePoolSize, LargeClasses[index], index, false)
		// allocLargeSlab's page already carries a Huge descriptor installed
		// when its backing region was grown; swap it rather than installing
		// a second entry for the same page number.
		pd.mgr.swapPage(PageNumber(base), &PageDescriptor{kind: pageLargeBlock, large: pool})
		return pool
	})
}

// FreeSmall returns addr, belonging to pool at the given small class index,
// cascading into SmallContainer reclamation if the slab empties out.
func (pd *PoolDirectory) FreeSmall(index int, pool *BlockPool, addr uintptr) {
	q := &pd.small[index]
	pd.free(q, pool, addr, SmallPoolSize, func(pool *BlockPool) {
		pd.reclaimSmallSlab(pool)
	})
}

// FreeLarge returns addr, belonging to pool at the given large class index,
// reclaiming the whole 2 MiB page back to its ListPool if it empties out.
func (pd *PoolDirectory) FreeLarge(index int, pool *BlockPool, addr uintptr) {
	q := &pd.large[index]
	pd.free(q, pool, addr, LargePoolSize, func(pool *BlockPool) {
		pd.reclaimLargeBlockPage(pool)
	})
}

// procureSmallSlab returns a fresh small-slab BlockPool, carving from a
// shared SmallContainer page (allocating a new one if none has room).
func (pd *PoolDirectory) procureSmallSlab(index int) *BlockPool {
	slabAddr := pd.allocate(&pd.container, func() *BlockPool {
		base := pd.mgr.allocLargeSlab()
		pool := newBlockPool(base, LargePoolSize, SmallPoolSize, -1, false)
		pd.mgr.swapPage(PageNumber(base), &PageDescriptor{kind: pageSmallContainer, container: pool})
		return pool
	})

	pool := newBlockPool(slabAddr, SmallPoolSize, SmallClasses[index], index, true)

	containerBase := slabAddr &^ uintptr(Page-1)
	desc := pd.mgr.pages.Resolve(containerBase)
	assertf(desc != nil && desc.kind == pageSmallContainer, "procureSmallSlab: slab %#x has no SmallContainer descriptor", slabAddr)
	slot := (slabAddr & (Page - 1)) >> 12
	desc.slots[slot].Store(pool)
	return pool
}

// reclaimLargeBlockPage returns a fully-empty medium-class 2 MiB page back
// to the ListPool that backs it and swaps its descriptor to Huge.
func (pd *PoolDirectory) reclaimLargeBlockPage(pool *BlockPool) {
	owner := pd.mgr.listPoolOwning(pool.base)
	pd.mgr.swapPage(PageNumber(pool.base), &PageDescriptor{kind: pageHuge, huge: owner})
	pd.mgr.mu.Lock()
	owner.Free(pool.base)
	pd.mgr.mu.Unlock()
}

// reclaimSmallSlab clears a small-slab's slot in its SmallContainer's
// descriptor and cascades a free call against the container pool for the
// freed 4 KiB slab, which may in turn reclaim the container's own 2 MiB
// page.
func (pd *PoolDirectory) reclaimSmallSlab(pool *BlockPool) {
	containerBase := pool.base &^ uintptr(Page-1)
	desc := pd.mgr.pages.Resolve(containerBase)
	assertf(desc != nil && desc.kind == pageSmallContainer, "reclaimSmallSlab: missing SmallContainer descriptor for %#x", pool.base)
	slot := (pool.base & (Page - 1)) >> 12
	desc.slots[slot].Store(nil)

	pd.free(&pd.container, desc.container, pool.base, LargePoolSize, func(containerPool *BlockPool) {
		pd.reclaimLargeBlockPage(containerPool)
	})
}
