// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewiregpio

import "runtime"

// Guard marks a timing-critical section. Enter starts the section and
// returns the func that ends it, meant to be deferred:
//
//	defer g.Enter()()
type Guard interface {
	Enter() (exit func())
}

// GuardFunc adapts a function to the Guard interface.
type GuardFunc func() func()

// Enter implements Guard.
func (f GuardFunc) Enter() func() {
	return f()
}

// NoGuard is a Guard that does nothing, for simulated lines.
var NoGuard Guard = GuardFunc(func() func() { return func() {} })

// DefaultPriority is the real-time priority used by the default guard.
const DefaultPriority = 50

// ThreadGuard locks the calling goroutine to its OS thread for the duration
// of the section. On Linux a non-zero Priority also switches the thread to
// SCHED_FIFO at that priority; this silently does nothing without
// CAP_SYS_NICE.
type ThreadGuard struct {
	Priority int
}

// Enter implements Guard.
func (g ThreadGuard) Enter() func() {
	runtime.LockOSThread()
	restore := raise(g.Priority)
	return func() {
		restore()
		runtime.UnlockOSThread()
	}
}
