// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gomalloc

import "sort"

// Size-class tiers follow the allocator's fixed small/large split: 23 small
// classes cover byte-granular requests up to SmallThreshold, 53 large
// classes cover geometrically spaced requests up to LargeThreshold. Anything
// above LargeThreshold is served directly from a ListPool.
const (
	Page            = 2 << 20 // 2 MiB
	SmallPoolSize   = 4 << 10 // 4 KiB
	LargePoolSize   = 2 << 20 // 2 MiB, same as Page
	SmallThreshold  = 512
	LargeThreshold  = 256 << 10
	MaxMemory       = 64 << 30
	TotalPageShards = MaxMemory / Page

	smallPagesPerLargePage = LargePoolSize / SmallPoolSize
)

// SmallClasses are the 23 fixed-size small classes, in ascending order.
var SmallClasses = [23]int{
	8, 16, 24, 32, 40, 48, 56, 64, 72, 88, 104, 120, 136,
	160, 184, 208, 240, 272, 312, 352, 400, 456, 512,
}

// LargeClasses are the 53 geometrically spaced medium/large classes.
var LargeClasses = [53]int{
	576, 648, 736, 832, 936, 1056, 1192, 1344, 1512, 1704, 1920,
	2160, 2432, 2736, 3080, 3472, 3912, 4408, 4960, 5584, 6288,
	7080, 7968, 8968, 10096, 11360, 12784, 14384, 16184, 18208,
	20488, 23056, 25944, 29192, 32848, 36960, 41584, 46784, 52632,
	59216, 66624, 74952, 84328, 94872, 106736, 120080, 135096,
	151984, 170984, 192360, 216408, 243464, 262144,
}

// sizeClassTier is the tier classify assigns to a size request.
//
//   - small:  0 <= size <= SmallThreshold
//   - large:  SmallThreshold < size <= LargeThreshold
//   - huge:   size > LargeThreshold, served by a ListPool directly
type sizeClassTier int

const (
	tierSmall sizeClassTier = iota
	tierLarge
	tierHuge
)

// classify returns the tier, the class index within that tier (meaningless
// for tierHuge), and the class byte size (also meaningless for tierHuge,
// where the raw requested size is used instead).
func classify(size int) (tier sizeClassTier, index int, classSize int) {
	switch {
	case size <= SmallThreshold:
		i := sort.SearchInts(SmallClasses[:], size)
		return tierSmall, i, SmallClasses[i]
	case size <= LargeThreshold:
		i := sort.SearchInts(LargeClasses[:], size)
		return tierLarge, i, LargeClasses[i]
	default:
		return tierHuge, -1, size
	}
}

// SizeClassFor returns the size class that size rounds up to under the
// small/large split, or size itself when it falls through to the ListPool
// tier. This mirrors spec property 3 (size-class correctness) and is
// exported for callers and tests that want to predict allocation size
// without performing one.
func SizeClassFor(size int) int {
	_, _, classSize := classify(size)
	return classSize
}
