// Copyright (c) The rpi-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package blink encodes boot progress and failure codes as timed
// on/off patterns on a status pin, the only user visible output
// available once the chain-load has gone wrong: no writable
// filesystem or serial console exists at this stage, a technician
// reads the blink count instead.
package blink

import (
	"github.com/usbarmory/rpi-boot/internal/reg"
)

// Failure codes, blinked forever by Halt, one count per failing stage.
const (
	CodePowerOn = iota + 1
	CodeReset
	CodeClock
	CodeVoltage
	CodeCardInit
	CodePartition
	CodeMount
	CodeFileNotFound
	CodeFileLoad
	CodeDisplay
)

// Pin represents the status line output.
type Pin interface {
	High()
	Low()
}

// Signaler drives the status pin, its zero duty cycle values are
// replaced with defaults matching a human readable cadence.
type Signaler struct {
	// Status is the output line, with an active-low LED attached.
	Status Pin

	// OnMillis and OffMillis set the symmetric duty cycle of Blink.
	OnMillis  uint32
	OffMillis uint32
}

const (
	defaultOn   = 700
	defaultOff  = 700
	fastOn      = 200
	fastOff     = 200
	successLong = 1000
	successGap  = 300
)

func (s *Signaler) pulse(onMillis uint32, offMillis uint32) {
	s.Status.Low()
	reg.Delay(onMillis)
	s.Status.High()
	reg.Delay(offMillis)
}

// Blink toggles the status pin count times with a symmetric duty
// cycle.
func (s *Signaler) Blink(count int) {
	on, off := s.OnMillis, s.OffMillis

	if on == 0 {
		on = defaultOn
	}

	if off == 0 {
		off = defaultOff
	}

	for i := 0; i < count; i++ {
		s.pulse(on, off)
	}
}

// Stage emits the short two-pulse marker issued at every pipeline
// stage boundary.
func (s *Signaler) Stage() {
	for i := 0; i < 2; i++ {
		s.pulse(fastOn, fastOff)
	}
}

// Success emits the long/short/long pattern marking a fully loaded
// image, right before handoff.
func (s *Signaler) Success() {
	s.pulse(successLong, successGap)
	s.pulse(successGap, successGap)
	s.Status.Low()
	reg.Delay(successLong)
	s.Status.High()
}

// Halt blinks the argument failure code forever, it never returns.
func (s *Signaler) Halt(code int) {
	for {
		s.Blink(code)
		reg.Delay(4 * defaultOff)
	}
}
