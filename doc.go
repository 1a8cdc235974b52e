// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package gomalloc implements a thread-safe, segregated-pool memory
// allocator over a private reservation of backing memory.
//
// # Size Classes
//
// Requests are routed into one of three tiers:
//
//	Tier    Range                 Backed by
//	────    ─────                 ─────────
//	small   0 .. 512 B            4 KiB slabs carved from a shared 2 MiB page
//	large   513 B .. 256 KiB      dedicated 2 MiB pages
//	huge    > 256 KiB             a coalescing free-list over the backing region
//
// Small and large requests round up to one of 23 small or 53 large fixed
// classes (SizeClassFor reports which); huge requests are served at their
// exact size.
//
// # BlockPool
//
// BlockPool is the lock-free fixed-block allocator behind the small and
// large tiers, built on a bounded MPMC ring algorithm (Nikolaev's
// lock-free FIFO queue) generalized to pool block offsets into a raw byte
// slab instead of typed Go values. Allocate and Free never block and never
// take a lock.
//
// # PoolDirectory and reclamation
//
// PoolDirectory keeps a per-class queue of BlockPools with spare capacity.
// A BlockPool that crosses back above 3/8 free rejoins its queue; one that
// returns to fully free is reclaimed to its backing ListPool, unless it is
// currently the queue head, which stays warm so a class with steady traffic
// never thrashes between zero and one live pools.
//
// # Concurrency
//
// Manager.Allocate and Manager.Free are safe for concurrent use. The
// backing-store writer lock (an RWMutex) serializes ListPool access and
// PageIndex installs; PoolDirectory's per-class locks are independent of it.
// An allocation holds the reader side of its class lock while it takes a
// block from the queue's head pool; the writer side is taken only to manage
// queue membership. BlockPool's own Allocate and Free take no lock.
//
// # Debug builds
//
// Building with the gomallocdebug tag enables internal consistency
// assertions (out-of-range frees, missing page descriptors) that panic
// instead of silently corrupting state, at a runtime cost not paid by
// release builds.
package gomalloc
