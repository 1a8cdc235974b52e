// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gomalloc

import "testing"

func TestListPool_AllocateFreeExact(t *testing.T) {
	lp := newListPool(0x1000, 4096)
	addr, ok := lp.Allocate(4096)
	if !ok || addr != 0x1000 {
		t.Fatalf("Allocate(4096) = (%#x, %v), want (0x1000, true)", addr, ok)
	}
	if lp.FreeBytes() != 0 {
		t.Fatalf("FreeBytes() = %d, want 0", lp.FreeBytes())
	}
	if _, ok := lp.Allocate(1); ok {
		t.Fatal("expected Allocate to fail on exhausted pool")
	}
	got := lp.Free(addr)
	if got != 4096 {
		t.Fatalf("Free() returned %d, want 4096", got)
	}
}

func TestListPool_AllocateSplitsLeftover(t *testing.T) {
	lp := newListPool(0x1000, 4096)
	a, ok := lp.Allocate(100)
	if !ok || a != 0x1000 {
		t.Fatalf("first Allocate = (%#x, %v)", a, ok)
	}
	b, ok := lp.Allocate(100)
	if !ok || b != 0x1000+100 {
		t.Fatalf("second Allocate = (%#x, %v), want %#x", b, ok, 0x1000+100)
	}
	if got, want := lp.FreeBytes(), 4096-200; got != want {
		t.Fatalf("FreeBytes() = %d, want %d", got, want)
	}
}

// TestListPool_CoalesceFullRegion is spec property 4: after allocating then
// freeing every allocation, the pool must contain exactly one free entry
// spanning the whole region.
func TestListPool_CoalesceFullRegion(t *testing.T) {
	const base = 0x10000
	const size = 1 << 20
	lp := newListPool(base, size)

	sizes := []int{37, 512, 4096, 64, 9000, 1, 2048, 777, 333333}
	var addrs []uintptr
	for _, s := range sizes {
		a, ok := lp.Allocate(s)
		if !ok {
			t.Fatalf("Allocate(%d) failed", s)
		}
		addrs = append(addrs, a)
	}

	// Free in reverse order, matching scenario S4.
	for i := len(addrs) - 1; i >= 0; i-- {
		lp.Free(addrs[i])
	}

	if lp.FreeBytes() != size {
		t.Fatalf("FreeBytes() = %d, want %d", lp.FreeBytes(), size)
	}
	if lp.entries == nil || lp.entries.next != nil {
		t.Fatalf("expected exactly one entry spanning the region, got chain with more than one node")
	}
	if !lp.entries.isFree || lp.entries.addr != base || lp.entries.size != size {
		t.Fatalf("unexpected sole entry: %+v", lp.entries)
	}
}

func TestListPool_CoalesceForwardOrder(t *testing.T) {
	const base = 0x20000
	const size = 4096
	lp := newListPool(base, size)

	a, _ := lp.Allocate(1024)
	b, _ := lp.Allocate(1024)
	c, _ := lp.Allocate(1024)
	d, _ := lp.Allocate(1024)

	lp.Free(a)
	lp.Free(b)
	lp.Free(c)
	lp.Free(d)

	if lp.FreeBytes() != size {
		t.Fatalf("FreeBytes() = %d, want %d", lp.FreeBytes(), size)
	}
	if lp.entries.next != nil {
		t.Fatalf("expected single coalesced entry, got a chain")
	}
}

func TestListPool_AllocateAligned(t *testing.T) {
	const base = 0x30001000 // deliberately misaligned base for a 2 MiB ask
	const size = 8 << 20
	lp := newListPool(base, size)

	const align = 2 << 20
	addr, ok := lp.AllocateAligned(align)
	if !ok {
		t.Fatal("AllocateAligned failed")
	}
	if addr%align != 0 {
		t.Fatalf("address %#x is not %d-aligned", addr, align)
	}
	if got, want := lp.FreeBytes(), size-align; got != want {
		t.Fatalf("FreeBytes() = %d, want %d", got, want)
	}

	lp.Free(addr)
	if lp.FreeBytes() != size {
		t.Fatalf("FreeBytes() = %d, want %d after free", lp.FreeBytes(), size)
	}
}

func TestListPool_AllocateAlignedExhausts(t *testing.T) {
	const base = 0x40000000
	const size = 2 << 20
	lp := newListPool(base, size)

	addr, ok := lp.AllocateAligned(2 << 20)
	if !ok || addr != base {
		t.Fatalf("AllocateAligned = (%#x, %v), want (%#x, true)", addr, ok, base)
	}
	if _, ok := lp.AllocateAligned(2 << 20); ok {
		t.Fatal("expected second AllocateAligned to fail on exhausted pool")
	}
}
