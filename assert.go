// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build gomallocdebug

package gomalloc

import "fmt"

// assertf panics with a formatted message when cond is false. Only compiled
// in with the gomallocdebug build tag; release builds use the no-op in
// assert_off.go. Invalid-Free misuse is undefined behavior otherwise; this
// is the only place that turns it into a loud failure.
func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("gomalloc: assertion failed: "+format, args...))
	}
}

const debugBuild = true
