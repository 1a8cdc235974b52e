// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gomalloc

import (
	"sync"
	"testing"
)

func newTestManager() *Manager {
	return NewManager(&fakeBackingAllocator{}, nil)
}

func TestManager_SmallAllocateFreeRoundTrip(t *testing.T) {
	m := newTestManager()
	addr := m.Allocate(20)
	if addr == 0 {
		t.Fatal("Allocate returned 0")
	}
	desc := m.pages.Resolve(addr)
	if desc == nil || desc.kind != pageSmallContainer {
		t.Fatalf("expected a SmallContainer descriptor, got %+v", desc)
	}
	m.Free(addr)
}

func TestManager_LargeAllocateFreeRoundTrip(t *testing.T) {
	m := newTestManager()
	addr := m.Allocate(4000)
	if addr == 0 {
		t.Fatal("Allocate returned 0")
	}
	desc := m.pages.Resolve(addr)
	if desc == nil || desc.kind != pageLargeBlock {
		t.Fatalf("expected a LargeBlock descriptor, got %+v", desc)
	}
	m.Free(addr)
}

func TestManager_HugeAllocateFreeRoundTrip(t *testing.T) {
	m := newTestManager()
	const size = 1 << 20 // above LargeThreshold
	addr := m.Allocate(size)
	if addr == 0 {
		t.Fatal("Allocate returned 0")
	}
	desc := m.pages.Resolve(addr)
	if desc == nil || desc.kind != pageHuge {
		t.Fatalf("expected a Huge descriptor, got %+v", desc)
	}
	before := m.ReportFreeBytes()
	m.Free(addr)
	if after := m.ReportFreeBytes(); after <= before {
		t.Fatalf("FreeBytes did not increase after Free: before=%d after=%d", before, after)
	}
}

func TestManager_ZeroSizeRoutesToSmallestSmallClass(t *testing.T) {
	m := newTestManager()
	addr := m.Allocate(0)
	desc := m.pages.Resolve(addr)
	if desc == nil || desc.kind != pageSmallContainer {
		t.Fatalf("expected zero-size to route through the SmallContainer tier, got %+v", desc)
	}
	pool := desc.slots[(addr&(Page-1))>>12].Load()
	if pool == nil || pool.class != 0 {
		t.Fatalf("expected zero-size to use SmallClasses[0], got slot pool %+v", pool)
	}
}

func TestManager_GrowsBackingStoreOnDemand(t *testing.T) {
	backing := &fakeBackingAllocator{}
	m := NewManager(backing, nil)

	// Exhaust the first 128 MiB region with huge allocations until growth
	// occurs; each allocation leaves a permanent ListPool entry (nothing
	// frees these), so ~440 * 300 KiB comfortably exceeds one region.
	for i := 0; i < 500; i++ {
		m.Allocate(300 << 10)
	}

	backing.mu.Lock()
	n := len(backing.reservations)
	backing.mu.Unlock()
	if n < 2 {
		t.Fatalf("expected at least 2 backing reservations after exhausting the first region, got %d", n)
	}
}

func TestManager_ReportTracksTotals(t *testing.T) {
	m := newTestManager()
	before := m.Report()
	m.Allocate(4000)
	after := m.Report()
	if after.UsedBytes <= before.UsedBytes {
		t.Fatalf("expected UsedBytes to grow: before=%+v after=%+v", before, after)
	}
	PublishStats(after) // exercised for side-effect only; expvar has no read-back API worth asserting on
}

func TestManager_ConcurrentMixedAllocateFree(t *testing.T) {
	m := newTestManager()
	var wg sync.WaitGroup
	sizes := []int{8, 64, 512, 4000, 100000, 1 << 20}

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				size := sizes[(g+i)%len(sizes)]
				addr := m.Allocate(size)
				if addr == 0 {
					t.Errorf("Allocate(%d) returned 0", size)
					return
				}
				m.Free(addr)
			}
		}(g)
	}
	wg.Wait()
}
