// Copyright (c) The rpi-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ssd1306 implements a driver for SSD1306 compatible 128x64
// monochrome OLED controllers over a bit-banged two-wire bus, adopting
// the following reference specifications:
//
//	https://cdn-shop.adafruit.com/datasheets/SSD1306.pdf
//
// The bus is a fixed-timing, single-master, single-slave rendition of
// the I2C write path: no clock stretch handling, no arbitration and no
// bus error detection are implemented.
package ssd1306

import (
	"errors"

	"github.com/usbarmory/rpi-boot/internal/reg"
)

// ErrNack is returned on a missing acknowledgment bit, only under
// AckStrict policy.
var ErrNack = errors.New("no acknowledgment from device")

// AckPolicy selects how the acknowledgment slot of each transferred
// byte is treated.
type AckPolicy int

// Acknowledgment policies
const (
	// AckLenient samples the acknowledgment bit but never fails on
	// it, matching controllers wired without a readable SDA line.
	AckLenient AckPolicy = iota
	// AckStrict fails the transfer with ErrNack when the device
	// does not pull the line low during the acknowledgment slot.
	AckStrict
)

// defaultDelayCycles approximates a 400 kHz clock on the BCM2710 (see
// reg.CyclesPerMillisecond for the underlying calibration).
const defaultDelayCycles = 50

// Line represents a bus line backed by an open-drain capable GPIO pin.
type Line interface {
	Output()
	Input()
	High()
	Low()
	Value() bool
}

// Bus represents the two-wire bus instance.
type Bus struct {
	// SDA is the data line.
	SDA Line
	// SCL is the clock line.
	SCL Line

	// Policy sets the acknowledgment bit handling, AckLenient when
	// left unset.
	Policy AckPolicy

	// DelayCycles overrides the fixed setup/hold busy-wait applied
	// between line transitions.
	DelayCycles uint32
}

func (b *Bus) delay() {
	n := b.DelayCycles

	if n == 0 {
		n = defaultDelayCycles
	}

	reg.Cycles(n)
}

// Init configures both lines as outputs and releases them high, the
// bus idle state.
func (b *Bus) Init() {
	b.SDA.Output()
	b.SCL.Output()

	b.SDA.High()
	b.SCL.High()
}

// Start issues a bus start condition, data falling while the clock is
// high.
func (b *Bus) Start() {
	b.SDA.High()
	b.SCL.High()
	b.delay()
	b.SDA.Low()
	b.delay()
	b.SCL.Low()
	b.delay()
}

// Stop issues a bus stop condition, data rising while the clock is
// high.
func (b *Bus) Stop() {
	b.SDA.Low()
	b.delay()
	b.SCL.High()
	b.delay()
	b.SDA.High()
	b.delay()
}

// WriteByte clocks out the argument byte MSB first, then clocks the
// acknowledgment slot with the data line released, handling the
// sampled bit according to the bus Policy.
func (b *Bus) WriteByte(val byte) error {
	for i := 0; i < 8; i++ {
		if val&0x80 != 0 {
			b.SDA.High()
		} else {
			b.SDA.Low()
		}

		b.delay()
		b.SCL.High()
		b.delay()
		b.SCL.Low()
		b.delay()

		val <<= 1
	}

	// acknowledgment slot, device drives the released data line
	b.SDA.High()

	if b.Policy == AckStrict {
		b.SDA.Input()
	}

	b.delay()
	b.SCL.High()
	b.delay()

	nack := b.SDA.Value()

	b.SCL.Low()
	b.delay()

	if b.Policy == AckStrict {
		b.SDA.Output()

		if nack {
			return ErrNack
		}
	}

	return nil
}

// WriteTransaction frames the argument payload in a single write
// transaction: start condition, address with write flag, payload, stop
// condition.
func (b *Bus) WriteTransaction(addr byte, data []byte) (err error) {
	b.Start()
	defer b.Stop()

	if err = b.WriteByte(addr << 1); err != nil {
		return
	}

	for _, val := range data {
		if err = b.WriteByte(val); err != nil {
			return
		}
	}

	return
}
