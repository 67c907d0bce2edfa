// Package debug provides cheap, runtime-toggleable assertions, in the
// style of the teacher's own debug.Assert: a panic on a broken invariant
// when NODE_DEBUG is set at process start, a silent no-op otherwise.
package debug

import (
	"fmt"
	"os"
)

// Enabled gates assertion checks. Flip with the "NODE_DEBUG=1" environment
// variable; defaults off so production paths never pay for the check.
var Enabled = os.Getenv("NODE_DEBUG") != ""

func Assert(cond bool, args ...any) {
	if Enabled && !cond {
		panic(fmt.Sprint("assertion failed: ", fmt.Sprint(args...)))
	}
}

func Assertf(cond bool, format string, args ...any) {
	if Enabled && !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}
