// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gomalloc

import "sync/atomic"

// pageKind is the closed tag of a PageDescriptor's variant: modeled as a
// tagged variant rather than dynamic dispatch across an interface, since
// the set of page kinds is closed.
type pageKind uint8

const (
	pageHuge pageKind = iota
	pageLargeBlock
	pageSmallContainer
)

// PageDescriptor is the metadata telling Free how to interpret a pointer
// that falls inside this 2 MiB page. Exactly one of kind's corresponding
// fields is live, selected by kind. slots is written after the descriptor
// is published (carving/clearing individual small-slabs inside a
// SmallContainer page), so each entry is its own atomic cell rather than a
// plain pointer sharing the descriptor's single publish barrier.
type PageDescriptor struct {
	kind pageKind

	// pageHuge
	huge *ListPool

	// pageLargeBlock
	large *BlockPool

	// pageSmallContainer: container is the 4 KiB-block BlockPool that
	// carves this page into 512 small-slabs; slots holds the active
	// BlockPool for each small-slab currently in use, or nil.
	container *BlockPool
	slots     [smallPagesPerLargePage]atomic.Pointer[BlockPool]
}

type pageEntry struct {
	pageNum uint64
	desc    *PageDescriptor
}

// PageIndex maps a 2 MiB-page number to its PageDescriptor without ever
// reading the page's own memory. It is sharded by pageNum mod
// TotalPageShards. Each shard is an atomic.Pointer to an immutable slice:
// Resolve loads it lock-free, so it never races the slice-header store
// Install/Swap perform. Install/Swap themselves still require external
// serialization (the owning Manager's backing-store writer lock) — two
// concurrent Installs into the same shard would otherwise read the same
// base slice and each publish a next that drops the other's entry.
type PageIndex struct {
	shards [TotalPageShards]atomic.Pointer[[]pageEntry]
}

// NewPageIndex returns an empty PageIndex.
func NewPageIndex() *PageIndex {
	return &PageIndex{}
}

func shardFor(pageNum uint64) uint64 {
	return pageNum % TotalPageShards
}

// Resolve returns the descriptor installed for the page containing addr,
// or nil if no page has been installed there (which, absent a caller bug,
// only happens for addresses never returned by Allocate).
func (pi *PageIndex) Resolve(addr uintptr) *PageDescriptor {
	pageNum := uint64(addr) >> 21
	shard := pi.shards[shardFor(pageNum)].Load()
	if shard == nil {
		return nil
	}
	for i := range *shard {
		if (*shard)[i].pageNum == pageNum {
			return (*shard)[i].desc
		}
	}
	return nil
}

// Install adds a new page descriptor. Must be called only under the
// backing-store writer lock, and before the first allocation from that
// page; must not be called twice for the same pageNum.
func (pi *PageIndex) Install(pageNum uint64, desc *PageDescriptor) {
	shard := &pi.shards[shardFor(pageNum)]
	cur := shard.Load()
	var curLen int
	if cur != nil {
		curLen = len(*cur)
	}
	next := make([]pageEntry, curLen+1)
	if cur != nil {
		copy(next, *cur)
	}
	next[len(next)-1] = pageEntry{pageNum: pageNum, desc: desc}
	shard.Store(&next)
}

// Swap atomically (with respect to concurrent Resolve calls) replaces the
// descriptor for pageNum and returns the previous one. Must be called only
// under the backing-store writer lock.
func (pi *PageIndex) Swap(pageNum uint64, desc *PageDescriptor) *PageDescriptor {
	shard := &pi.shards[shardFor(pageNum)]
	cur := shard.Load()
	for i := range *cur {
		if (*cur)[i].pageNum == pageNum {
			next := make([]pageEntry, len(*cur))
			copy(next, *cur)
			old := next[i].desc
			next[i].desc = desc
			shard.Store(&next)
			return old
		}
	}
	panic("gomalloc: Swap on unknown page")
}

// PageNumber returns the 2 MiB page number containing addr, exported as a
// diagnostic convenience.
func PageNumber(addr uintptr) uint64 {
	return uint64(addr) >> 21
}
