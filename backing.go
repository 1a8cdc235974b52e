// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gomalloc

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"unsafe"
)

// BackingAllocator is the single OS-boundary operation: obtaining
// page-aligned backing memory and releasing it. Manager is generic over
// this interface so tests can inject a deterministic double without
// touching allocator logic.
type BackingAllocator interface {
	// ReserveAligned returns the base address of a freshly obtained region
	// of bytes bytes, aligned to alignment, or ErrBackingExhausted.
	ReserveAligned(bytes int, alignment uintptr) (base uintptr, err error)
	// Release returns a region obtained from ReserveAligned. gomalloc's
	// allocator never calls this itself — returning memory to the OS before
	// teardown is out of scope — but it is available for callers that
	// manage a Manager's lifecycle explicitly.
	Release(base uintptr, bytes int) error
}

// osBackingAllocator is the default BackingAllocator: it carves page-aligned
// regions out of ordinary Go heap allocations using pointer arithmetic
// analogous to aligned DMA buffer carving. It never actually returns memory
// to the OS (Release is a bookkeeping no-op only) and keeps the underlying
// slice alive for the life of the process, since Go's GC cannot see the raw
// uintptr the allocator hands out as a user pointer.
type osBackingAllocator struct {
	totalReserved atomic.Int64
	log           *slog.Logger
}

// NewOSBackingAllocator returns the default BackingAllocator implementation.
// logger may be nil, in which case slog.Default() is used.
func NewOSBackingAllocator(logger *slog.Logger) BackingAllocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &osBackingAllocator{log: logger}
}

func (o *osBackingAllocator) ReserveAligned(bytes int, alignment uintptr) (uintptr, error) {
	if o.totalReserved.Load()+int64(bytes) > MaxMemory {
		return 0, ErrBackingExhausted
	}
	raw := make([]byte, uintptr(bytes)+alignment-1)
	base := unsafe.Pointer(unsafe.SliceData(raw))
	offset := ((uintptr(base)+alignment-1)/alignment)*alignment - uintptr(base)
	aligned := unsafe.Add(base, offset)

	// Keep the backing slice reachable for the process lifetime: the
	// allocator hands out raw uintptr values that the Go GC cannot trace.
	backingRegistry.keep(raw)

	o.totalReserved.Add(int64(bytes))
	o.log.Info("gomalloc: reserved backing region",
		slog.Int("bytes", bytes), slog.Uint64("base", uint64(uintptr(aligned))))
	return uintptr(aligned), nil
}

func (o *osBackingAllocator) Release(base uintptr, bytes int) error {
	o.totalReserved.Add(-int64(bytes))
	o.log.Info("gomalloc: released backing region",
		slog.Int("bytes", bytes), slog.Uint64("base", uint64(base)))
	return nil
}

// backingKeepAlive pins raw byte slices obtained for backing regions so the
// garbage collector never reclaims memory the allocator has handed out as
// bare uintptr addresses. It is a package-level registry rather than a
// per-region field because BackingRegion only needs the base address and
// size for its own bookkeeping; pinning is a pure GC-safety concern.
type backingKeepAlive struct {
	mu    sync.Mutex
	slabs [][]byte
}

func (k *backingKeepAlive) keep(b []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.slabs = append(k.slabs, b)
}

var backingRegistry = &backingKeepAlive{}

// BackingRegion is an OS-obtained, Page-aligned slab owning a single
// ListPool. The first region is 128 MiB; each subsequent region doubles.
type BackingRegion struct {
	base uintptr
	size int
	pool *ListPool
}

// initialRegionSize is the size of the first BackingRegion requested by
// Manager.grow.
const initialRegionSize = 128 << 20
