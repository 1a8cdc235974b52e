// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gomalloc

import (
	"errors"

	"code.hybscloud.com/iox"
)

// ErrBackingExhausted is returned by a BackingAllocator when it cannot
// satisfy a reservation request, e.g. because MaxMemory has been reached.
// Manager.grow wraps this into a panic: Allocate has no error return and
// is documented to always produce a valid address or never return.
var ErrBackingExhausted = errors.New("gomalloc: backing store exhausted")

// errWouldBlock is the BlockPool ring's "transiently empty, caller should
// decide whether to retry or grow" signal. It reuses iox's semantic error
// so BlockPool composes with the rest of the corpus's ErrWouldBlock idiom
// instead of inventing a parallel sentinel.
var errWouldBlock = iox.ErrWouldBlock
