// Copyright (c) The rpi-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ssd1306

import (
	"fmt"

	"github.com/usbarmory/rpi-boot/internal/reg"
)

// Address is the fixed 7-bit device address.
const Address = 0x3c

// Display geometry
const (
	Width  = 128
	Height = 64
	Pages  = Height / 8

	// FrameSize is the length of one full page-addressed frame.
	FrameSize = Width * Pages
)

// Control bytes prefixing each transaction payload
const (
	controlCommand = 0x00
	controlData    = 0x40
)

// interCommandDelay is the settle time, in milliseconds, between
// bring-up commands.
const interCommandDelay = 1

// initSequence is the fixed controller bring-up: clock divider,
// multiplex ratio, display offset, charge pump, horizontal addressing,
// segment/COM mapping, contrast, pre-charge, VCOMH and display-on.
var initSequence = []byte{
	0xae,       // display off
	0xd5, 0x80, // clock divide ratio
	0xa8, 0x3f, // multiplex ratio, 1/64 duty
	0xd3, 0x00, // display offset
	0x40,       // start line 0
	0x8d, 0x14, // charge pump enable
	0x20, 0x00, // horizontal addressing mode
	0xa0,       // segment remap
	0xc0,       // COM scan direction
	0xda, 0x12, // COM pins configuration
	0x81, 0xcf, // contrast
	0xd9, 0xf1, // pre-charge period
	0xdb, 0x40, // VCOMH deselect level
	0xa4, // resume to RAM content
	0xa6, // normal (non-inverted) display
	0xaf, // display on
}

// OLED represents an SSD1306 compatible controller instance.
type OLED struct {
	// Bus is the underlying two-wire bus.
	Bus *Bus
}

// Command sends a single command byte.
func (d *OLED) Command(cmd byte) error {
	return d.Bus.WriteTransaction(Address, []byte{controlCommand, cmd})
}

// Data streams the argument bytes to the display RAM as one
// transaction.
func (d *OLED) Data(data []byte) error {
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, controlData)
	buf = append(buf, data...)

	return d.Bus.WriteTransaction(Address, buf)
}

// Init issues the fixed controller bring-up sequence.
func (d *OLED) Init() (err error) {
	d.Bus.Init()

	for _, cmd := range initSequence {
		if err = d.Command(cmd); err != nil {
			return fmt.Errorf("init command %#02x: %w", cmd, err)
		}

		reg.Delay(interCommandDelay)
	}

	return
}

// Render sets the column and page ranges to cover the full screen and
// streams the argument frame, which must hold exactly one
// page-addressed 128x64 image.
func (d *OLED) Render(frame []byte) (err error) {
	if len(frame) != FrameSize {
		return fmt.Errorf("invalid frame size %d, expected %d", len(frame), FrameSize)
	}

	window := []byte{
		0x21, 0, Width - 1, // column address range
		0x22, 0, Pages - 1, // page address range
	}

	for _, cmd := range window {
		if err = d.Command(cmd); err != nil {
			return
		}
	}

	return d.Data(frame)
}
