// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command gomallocdemo is a smoke driver exercising gomalloc's allocate,
// free, and reporting surface across the small, large, and huge tiers.
package main

import (
	"log/slog"
	"math/rand"
	"os"
	"time"

	"code.hybscloud.com/gomalloc"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	mgr := gomalloc.NewManager(gomalloc.NewOSBackingAllocator(log), log)

	const n = 5000
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sizes := make([]int, n)
	for i := range sizes {
		switch rng.Intn(3) {
		case 0:
			sizes[i] = 1 + rng.Intn(gomalloc.SmallThreshold)
		case 1:
			sizes[i] = gomalloc.SmallThreshold + 1 + rng.Intn(gomalloc.LargeThreshold-gomalloc.SmallThreshold)
		default:
			sizes[i] = gomalloc.LargeThreshold + 1 + rng.Intn(1<<20)
		}
	}

	addrs := make([]uintptr, n)
	live := make([]bool, n)

	start := time.Now()
	for round := 0; round < 20; round++ {
		for i := range sizes {
			switch {
			case live[i] && rng.Intn(2) == 0:
				mgr.Free(addrs[i])
				live[i] = false
			case !live[i] && rng.Intn(2) == 0:
				addrs[i] = mgr.Allocate(sizes[i])
				live[i] = true
			}
		}
		s := mgr.Report()
		log.Info("round complete",
			slog.Int("round", round),
			slog.Int64("total_bytes", s.TotalBytes),
			slog.Int64("used_bytes", s.UsedBytes),
			slog.Int64("free_bytes", s.FreeBytes),
			slog.Int("regions", s.Regions),
		)
		gomalloc.PublishStats(s)
	}

	for i := range sizes {
		if live[i] {
			mgr.Free(addrs[i])
		}
	}

	log.Info("demo finished", slog.Duration("elapsed", time.Since(start)))
}
