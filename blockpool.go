// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gomalloc

import (
	"sync/atomic"

	"code.hybscloud.com/gomalloc/internal"
	"code.hybscloud.com/spin"
)

// BlockPool is a fixed-block allocator over a single Slab: a contiguous
// region of numBlocks*blockSize bytes. Allocate/Free are lock-free, built on
// a bounded MPMC ring algorithm, an implementation of Nikolaev's "A
// Scalable, Portable, and Memory-Efficient Lock-Free FIFO Queue" generalized
// to pool raw block offsets inside a Slab instead of pooling Go values by
// index into a separate items slice. The free list is the ring's entries
// array, a Go slice held by the BlockPool itself; it is not stored inside
// the Slab, which holds only user blocks. An entry's payload is a block
// index rather than a tagged pointer, which sidesteps ABA without a hazard
// pointer scheme.
//
// BlockPool itself takes no lock. PoolDirectory holds the reader side of
// its class lock while allocating from a queue's head pool, and takes the
// writer side only to change queue membership.
type BlockPool struct {
	_ noCopy

	base      uintptr
	blockSize int
	numBlocks uint32 // power of two; see newBlockPool for the rounding rule
	mask      uint32

	entries   []atomic.Uint64
	remapM    uint32
	remapN    uint32
	remapMask uint32
	head, tail atomic.Uint32

	freeBytes atomic.Int64
	poolSize  int

	onQueue atomic.Bool
	next    *BlockPool // intrusive free-queue link; mutated only under the owning class lock

	class   int
	isSmall bool
}

const blockPoolEntryEmpty = 1 << 62
const blockPoolEntryTurnMask = blockPoolEntryEmpty>>32 - 1

// newBlockPool carves a BlockPool over [base, base+poolSize) with fixed
// blockSize blocks. poolSize/blockSize is rounded down to the nearest power
// of two so the ring's turn arithmetic holds; any remainder is permanently
// reserved slack and never handed out, which keeps free bytes from ever
// exceeding the pool's own size.
func newBlockPool(base uintptr, poolSize, blockSize int, class int, isSmall bool) *BlockPool {
	n := poolSize / blockSize
	n = prevPowerOfTwo(n)
	if n < 1 {
		panic("gomalloc: blockSize too large for pool")
	}

	remapM := min(int(internal.CacheLineSize/8), n)
	remapN := max(1, n/remapM)

	bp := &BlockPool{
		base:      base,
		blockSize: blockSize,
		numBlocks: uint32(n),
		mask:      uint32(n - 1),
		entries:   make([]atomic.Uint64, n),
		remapM:    uint32(remapM),
		remapN:    uint32(remapN),
		remapMask: uint32(remapN - 1),
		poolSize:  n * blockSize,
		class:     class,
		isSmall:   isSmall,
	}
	for i := range n {
		bp.entries[i].Store(uint64(i))
	}
	bp.tail.Store(uint32(n))
	bp.freeBytes.Store(int64(bp.poolSize))
	return bp
}

func prevPowerOfTwo(n int) int {
	if n <= 0 {
		return 0
	}
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return p
}

// Allocate pops a free block and returns its address. ok is false iff the
// pool is currently empty; it never blocks and never locks.
func (bp *BlockPool) Allocate() (addr uintptr, ok bool) {
	entry, err := bp.tryGet()
	if err != nil {
		return 0, false
	}
	idx := entry & uint64(bp.mask)
	bp.freeBytes.Add(-int64(bp.blockSize))
	return bp.base + uintptr(idx)*uintptr(bp.blockSize), true
}

// Free returns the block at addr to the pool and reports the pool's
// post-increment free byte count. The caller must ensure addr was produced
// by this BlockPool and is currently allocated; violating this is
// undefined behavior.
func (bp *BlockPool) Free(addr uintptr) int64 {
	idx := (addr - bp.base) / uintptr(bp.blockSize)
	assertf(addr >= bp.base && idx < uintptr(bp.numBlocks), "BlockPool.Free: address %#x out of range", addr)
	for {
		if err := bp.tryPut(uint64(idx)); err == nil {
			break
		}
	}
	return bp.freeBytes.Add(int64(bp.blockSize))
}

// FreeBytes returns the current free byte count without mutating state.
func (bp *BlockPool) FreeBytes() int64 { return bp.freeBytes.Load() }

func (bp *BlockPool) tryGet() (entry uint64, err error) {
	sw := spin.Wait{}
	for {
		h, t := bp.head.Load(), bp.tail.Load()
		hi := bp.remap(h & bp.mask)
		e := bp.entries[hi].Load()

		if h != bp.head.Load() {
			sw.Once()
			continue
		}
		if h == t {
			return blockPoolEntryEmpty, errWouldBlock
		}

		nextTurn := (h/bp.numBlocks + 1) & blockPoolEntryTurnMask
		if e == bp.empty(nextTurn) {
			bp.head.CompareAndSwap(h, h+1)
			sw.Once()
			continue
		}
		ok := bp.entries[hi].CompareAndSwap(e, bp.empty(nextTurn))
		bp.head.CompareAndSwap(h, h+1)
		if ok {
			return e, nil
		}
		sw.Once()
	}
}

func (bp *BlockPool) tryPut(e uint64) error {
	sw := spin.Wait{}
	for {
		h, t := bp.head.Load(), bp.tail.Load()
		if t != bp.tail.Load() {
			sw.Once()
			continue
		}
		if t == h+bp.numBlocks {
			return errWouldBlock
		}
		turn, ti := (t/bp.numBlocks)&blockPoolEntryTurnMask, bp.remap(t)
		ok := bp.entries[ti].CompareAndSwap(bp.empty(turn), e)
		bp.tail.CompareAndSwap(t, t+1)
		if ok {
			return nil
		}
		sw.Once()
	}
}

func (bp *BlockPool) remap(cursor uint32) uint32 {
	p, q := cursor/bp.remapN, cursor&bp.remapMask
	return q*bp.remapM + p%bp.remapM
}

func (bp *BlockPool) empty(turn uint32) uint64 {
	return blockPoolEntryEmpty | uint64(turn&blockPoolEntryTurnMask)
}
