// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gomalloc

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/iox"
)

// Manager is the public routing and growth surface: it classifies a
// request into small/large/huge, dispatches small and large requests to
// PoolDirectory, serves huge requests directly from a BackingRegion's
// ListPool, and grows the backing store on demand.
type Manager struct {
	backing BackingAllocator
	pages   *PageIndex
	dir     *PoolDirectory
	log     *slog.Logger

	// mu is the backing-store writer lock named throughout: it serializes
	// ListPool access (ListPool has no locking of its own) and every
	// PageIndex Install/Swap against each other. PoolDirectory's class
	// locks are acquired without mu held on the hot path; mu is only taken
	// for huge allocations and frees, slab procurement and reclamation,
	// growth, page-descriptor swaps, and the free-byte report.
	mu      sync.RWMutex
	regions []*BackingRegion

	totalBytes atomic.Int64
}

// NewManager returns a Manager backed by the given BackingAllocator. logger
// may be nil, in which case slog.Default() is used.
func NewManager(backing BackingAllocator, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{backing: backing, pages: NewPageIndex(), log: logger}
	m.dir = newPoolDirectory(m)
	return m
}

// Allocate returns the address of a newly allocated block of at least size
// bytes. A size of zero is routed to the smallest small class, matching
// malloc(0)'s conventional treatment.
func (m *Manager) Allocate(size int) uintptr {
	if size <= 0 {
		size = 1
	}
	tier, index, classSize := classify(size)
	switch tier {
	case tierSmall:
		return m.dir.AllocateSmall(index)
	case tierLarge:
		return m.dir.AllocateLarge(index)
	default:
		return m.allocateHuge(classSize)
	}
}

// Free returns addr, previously returned by Allocate, to its owning pool.
// Passing an address not currently allocated by this Manager is undefined
// behavior; debug builds assert against it.
func (m *Manager) Free(addr uintptr) {
	desc := m.pages.Resolve(addr)
	assertf(desc != nil, "gomalloc: Free: address %#x was never allocated", addr)

	switch desc.kind {
	case pageHuge:
		m.mu.Lock()
		desc.huge.Free(addr)
		m.mu.Unlock()
	case pageLargeBlock:
		m.dir.FreeLarge(desc.large.class, desc.large, addr)
	case pageSmallContainer:
		slot := (addr & (Page - 1)) >> 12
		pool := desc.slots[slot].Load()
		assertf(pool != nil, "gomalloc: Free: address %#x has no live small-slab", addr)
		m.dir.FreeSmall(pool.class, pool, addr)
	default:
		panic("gomalloc: Free: corrupt page descriptor")
	}
}

// ReportTotalBytes returns the total bytes reserved from the backing store
// so far.
func (m *Manager) ReportTotalBytes() int64 {
	return m.totalBytes.Load()
}

// ReportFreeBytes returns the sum of free bytes across every ListPool
// currently owned by this Manager. It takes the reader side of the
// backing-store lock and is intended for diagnostics, not the hot path.
func (m *Manager) ReportFreeBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, r := range m.regions {
		total += int64(r.pool.FreeBytes())
	}
	return total
}

// allocateHuge serves a request above LargeThreshold directly from a
// region's ListPool, growing the backing store if no existing region has
// enough contiguous space.
func (m *Manager) allocateHuge(size int) uintptr {
	if addr, ok := m.tryAllocateFromRegions(size, 1); ok {
		return addr
	}
	return m.growAndAllocate(size, 1)
}

// allocLargeSlab is PoolDirectory's hook for procuring a fresh Page-aligned
// 2 MiB slab to back either a medium-class BlockPool or a SmallContainer.
func (m *Manager) allocLargeSlab() uintptr {
	if addr, ok := m.tryAllocateFromRegions(LargePoolSize, Page); ok {
		return addr
	}
	return m.growAndAllocate(LargePoolSize, Page)
}

// swapPage replaces a page descriptor under the backing-store writer lock,
// which PageIndex.Swap itself requires but does not enforce.
func (m *Manager) swapPage(pageNum uint64, desc *PageDescriptor) *PageDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pages.Swap(pageNum, desc)
}

// listPoolOwning returns the ListPool of the BackingRegion containing addr,
// for PoolDirectory's large-page reclamation path. Panics if addr falls
// outside every known region, which would indicate a caller bug.
func (m *Manager) listPoolOwning(addr uintptr) *ListPool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.regions {
		if addr >= r.base && addr < r.base+uintptr(r.size) {
			return r.pool
		}
	}
	panic("gomalloc: listPoolOwning: address belongs to no known region")
}

func (m *Manager) tryAllocateFromRegions(size int, alignment uintptr) (uintptr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tryAllocateFromRegionsLocked(size, alignment)
}

func (m *Manager) tryAllocateFromRegionsLocked(size int, alignment uintptr) (uintptr, bool) {
	for _, r := range m.regions {
		if alignment > 1 {
			if addr, ok := r.pool.AllocateAligned(size); ok {
				return addr, true
			}
			continue
		}
		if addr, ok := r.pool.Allocate(size); ok {
			return addr, true
		}
	}
	return 0, false
}

// growAndAllocate reserves a new BackingRegion large enough to satisfy size
// and retries against the full region set. Growth itself (the call into
// BackingAllocator) happens without the writer lock held, since reserving
// fresh address space from the OS facility is comparatively slow;
// iox.Backoff paces the retry the same way an exhausted buffer pool waits
// out a refill — here the external scale event is another goroutine's
// concurrent grow landing first.
func (m *Manager) growAndAllocate(size int, alignment uintptr) uintptr {
	var aw iox.Backoff
	for {
		if addr, ok := m.tryAllocateFromRegions(size, alignment); ok {
			return addr
		}
		m.grow(size)
		aw.Wait()
	}
}

// grow reserves one more BackingRegion sized to the doubling schedule (128
// MiB, then doubling), or size rounded up to a whole number of Pages if size
// exceeds the next step. The region is always reserved Page-aligned, regardless of what
// alignment the triggering request needed, so every 2 MiB page inside it
// lines up with PageIndex's page grid; it installs a Huge descriptor for
// each such page before publishing the region, so a later Free or
// PoolDirectory procurement always resolves a real descriptor instead of
// nil. It panics on backing-allocator failure; the new region is kept even
// if a racing goroutine's own grow call made it unnecessary, since
// returning memory to the OS before teardown is out of scope.
func (m *Manager) grow(size int) {
	next := m.nextRegionSize(size)

	base, err := m.backing.ReserveAligned(next, Page)
	if err != nil {
		panic(err)
	}

	pool := newListPool(base, next)
	region := &BackingRegion{base: base, size: next, pool: pool}

	m.mu.Lock()
	m.regions = append(m.regions, region)
	for off := 0; off < next; off += Page {
		m.pages.Install(PageNumber(base+uintptr(off)), &PageDescriptor{kind: pageHuge, huge: pool})
	}
	m.mu.Unlock()

	m.totalBytes.Add(int64(next))
	m.log.Info("gomalloc: grew backing store", slog.Int("bytes", next), slog.Int("regions", len(m.regions)))
}

func (m *Manager) nextRegionSize(need int) int {
	m.mu.RLock()
	last := initialRegionSize / 2
	if n := len(m.regions); n > 0 {
		last = m.regions[n-1].size
	}
	m.mu.RUnlock()

	size := last * 2
	if size < initialRegionSize {
		size = initialRegionSize
	}
	if need > size {
		// Round up to a whole number of Pages so the region can still host
		// Page-aligned medium-class slabs alongside the oversized request.
		size = ((need + Page - 1) / Page) * Page
	}
	return size
}
