// Copyright (c) The rpi-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package blink

import (
	"testing"

	"github.com/usbarmory/rpi-boot/internal/reg"
)

type fakePin struct {
	states []bool
}

func (p *fakePin) High() {
	p.states = append(p.states, true)
}

func (p *fakePin) Low() {
	p.states = append(p.states, false)
}

// pulses counts complete on/off cycles, the LED is active-low.
func (p *fakePin) pulses() (n int) {
	for i := 0; i < len(p.states)-1; i++ {
		if !p.states[i] && p.states[i+1] {
			n++
		}
	}

	return
}

func TestMain(m *testing.M) {
	reg.CyclesPerMillisecond = 1
	m.Run()
}

func TestBlinkCount(t *testing.T) {
	for _, count := range []int{1, 3, CodeDisplay} {
		pin := &fakePin{}

		s := &Signaler{
			Status:    pin,
			OnMillis:  1,
			OffMillis: 1,
		}

		s.Blink(count)

		if got := pin.pulses(); got != count {
			t.Errorf("expected %d pulses, got %d", count, got)
		}
	}
}

func TestStage(t *testing.T) {
	pin := &fakePin{}
	s := &Signaler{Status: pin}

	s.Stage()

	if got := pin.pulses(); got != 2 {
		t.Errorf("expected 2 pulses, got %d", got)
	}
}

func TestSuccess(t *testing.T) {
	pin := &fakePin{}
	s := &Signaler{Status: pin}

	s.Success()

	if got := pin.pulses(); got != 3 {
		t.Errorf("expected 3 pulses, got %d", got)
	}

	if !pin.states[len(pin.states)-1] {
		t.Error("expected the pin released high after the pattern")
	}
}

func TestFailureCodesDistinct(t *testing.T) {
	codes := []int{
		CodePowerOn, CodeReset, CodeClock, CodeVoltage, CodeCardInit,
		CodePartition, CodeMount, CodeFileNotFound, CodeFileLoad, CodeDisplay,
	}

	seen := make(map[int]bool)

	for _, code := range codes {
		if code < 1 {
			t.Errorf("code %d is not blinkable", code)
		}

		if seen[code] {
			t.Errorf("duplicate code %d", code)
		}

		seen[code] = true
	}
}
