// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gomalloc

import (
	"sync"
	"unsafe"
)

// sliceBase returns the address of a byte slice's backing array, used by
// in-package tests to build Slabs without going through a BackingAllocator.
func sliceBase(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// fakeBackingAllocator is a deterministic BackingAllocator test double: it
// carves aligned regions from real Go heap allocations, exactly like
// osBackingAllocator, but keeps no MaxMemory cap and records every
// reservation so tests can assert on Manager's growth schedule.
type fakeBackingAllocator struct {
	mu           sync.Mutex
	reservations []int
}

func (f *fakeBackingAllocator) ReserveAligned(bytes int, alignment uintptr) (uintptr, error) {
	raw := make([]byte, uintptr(bytes)+alignment-1)
	base := sliceBase(raw)
	offset := ((base+alignment-1)/alignment)*alignment - base
	aligned := base + offset

	backingRegistry.keep(raw)

	f.mu.Lock()
	f.reservations = append(f.reservations, bytes)
	f.mu.Unlock()
	return aligned, nil
}

func (f *fakeBackingAllocator) Release(uintptr, int) error { return nil }
