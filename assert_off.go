// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !gomallocdebug

package gomalloc

// assertf is a no-op in release builds: invalid Free of an unrecognized
// pointer is undefined behavior, not a checked error.
func assertf(cond bool, format string, args ...any) {}

const debugBuild = false
