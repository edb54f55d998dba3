// Copyright (c) The rpi-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package reg provides volatile access to 32-bit memory mapped
// peripheral registers, along with the busy-wait primitives all
// peripheral timing in this firmware stage is expressed in.
//
// Drivers consume the IO interface rather than MMIO directly, so that
// their register traffic can be exercised against a scripted register
// file under `go test`.
package reg

import (
	"errors"
	"sync/atomic"
	"unsafe"
)

// IO represents 32-bit register file access.
type IO interface {
	Read32(off uint32) uint32
	Write32(off uint32, val uint32)
}

// MMIO performs volatile, ordered 32-bit accesses within a fixed
// physical address window, constructed once per peripheral.
type MMIO struct {
	base uintptr
}

// NewMMIO returns register file access for the argument physical base
// address, which must be non-zero and word aligned.
func NewMMIO(base uintptr) (*MMIO, error) {
	if base == 0 || base&3 != 0 {
		return nil, errors.New("invalid register base address")
	}

	return &MMIO{base: base}, nil
}

// Read32 returns the register value at the argument byte offset.
func (m *MMIO) Read32(off uint32) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(m.base + uintptr(off))))
}

// Write32 stores val at the argument byte offset.
func (m *MMIO) Write32(off uint32, val uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(m.base+uintptr(off))), val)
}

// SetBits performs a read-modify-write setting mask at off.
func SetBits(io IO, off uint32, mask uint32) {
	io.Write32(off, io.Read32(off)|mask)
}

// ClearBits performs a read-modify-write clearing mask at off.
func ClearBits(io IO, off uint32, mask uint32) {
	io.Write32(off, io.Read32(off)&^mask)
}
