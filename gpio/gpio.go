// Copyright (c) The rpi-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package gpio implements a driver for the BCM2710 General Purpose I/O
// controller adopting the following reference specifications:
//
//	https://datasheets.raspberrypi.com/bcm2835/bcm2835-peripherals.pdf
//
// The controller exposes function select, output set/clear, level and
// pull-up/down registers for 54 lines, a register bank covers 32 lines
// each beyond function select.
package gpio

import (
	"fmt"

	"github.com/usbarmory/rpi-boot/internal/reg"
)

// GPIO registers, as byte offsets within the controller window
// (peripheral base + 0x200000).
const (
	GPFSEL0   = 0x00
	GPSET0    = 0x1c
	GPCLR0    = 0x28
	GPLEV0    = 0x34
	GPPUD     = 0x94
	GPPUDCLK0 = 0x98
)

// Pin function select operations
const (
	FunctionInput  = 0b000
	FunctionOutput = 0b001
	FunctionAlt3   = 0b111
)

// Pull-up/down operations
const (
	PullOff  = 0b00
	PullDown = 0b01
	PullUp   = 0b10
)

// pullClockCycles is the required setup time, in busy-wait cycles, on
// each side of a pull control clock pulse.
const pullClockCycles = 150

// GPIO represents the GPIO controller instance.
type GPIO struct {
	io reg.IO
}

// Pin represents a single GPIO line.
type Pin struct {
	gpio *GPIO
	num  uint32
}

// New returns a GPIO controller over the argument register file.
func New(io reg.IO) *GPIO {
	return &GPIO{io: io}
}

// Pin returns the driver instance for the argument line number.
func (g *GPIO) Pin(num int) (*Pin, error) {
	if num < 0 || num > 53 {
		return nil, fmt.Errorf("invalid GPIO line %d", num)
	}

	return &Pin{gpio: g, num: uint32(num)}, nil
}

func (p *Pin) function(mode uint32) {
	off := uint32(GPFSEL0 + (p.num/10)*4)
	shift := (p.num % 10) * 3

	val := p.gpio.io.Read32(off)
	val &^= 0b111 << shift
	val |= mode << shift

	p.gpio.io.Write32(off, val)
}

// Output configures the pin as output.
func (p *Pin) Output() {
	p.function(FunctionOutput)
}

// Input configures the pin as input.
func (p *Pin) Input() {
	p.function(FunctionInput)
}

// Alt3 routes the pin to its alternate function 3.
func (p *Pin) Alt3() {
	p.function(FunctionAlt3)
}

// High drives the output level high.
func (p *Pin) High() {
	p.gpio.io.Write32(GPSET0+(p.num/32)*4, 1<<(p.num%32))
}

// Low drives the output level low.
func (p *Pin) Low() {
	p.gpio.io.Write32(GPCLR0+(p.num/32)*4, 1<<(p.num%32))
}

// Value returns the pin level.
func (p *Pin) Value() bool {
	return p.gpio.io.Read32(GPLEV0+(p.num/32)*4)&(1<<(p.num%32)) != 0
}

// Pull applies the argument pull-up/down operation to the lines
// selected by mask within the argument register bank.
func (g *GPIO) Pull(bank int, mask uint32, op uint32) {
	g.io.Write32(GPPUD, op)
	reg.Cycles(pullClockCycles)
	g.io.Write32(GPPUDCLK0+uint32(bank)*4, mask)
	reg.Cycles(pullClockCycles)
	g.io.Write32(GPPUD, PullOff)
	g.io.Write32(GPPUDCLK0+uint32(bank)*4, 0)
}
