// Copyright (c) The rpi-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package reg

import (
	"sync/atomic"
)

// CyclesPerMillisecond calibrates Delay against the target core clock,
// it counts iterations of the Cycles busy loop per elapsed millisecond.
// The default value suits the 1 GHz Cortex-A53 of the BCM2710, it must
// be recalibrated when targeting a different CPU or clock setup.
var CyclesPerMillisecond uint32 = 2138

// spin is only ever written, its sole purpose is forcing the Cycles
// loop body to have an observable effect.
var spin uint32

// Cycles busy-waits for n iterations of an atomic increment, it is
// never elided by the compiler and does not depend on any peripheral
// or timer state.
func Cycles(n uint32) {
	for i := uint32(0); i < n; i++ {
		atomic.AddUint32(&spin, 1)
	}
}

// Delay busy-waits for the argument amount of milliseconds, as
// calibrated by CyclesPerMillisecond.
func Delay(ms uint32) {
	Cycles(ms * CyclesPerMillisecond)
}
