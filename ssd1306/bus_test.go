// Copyright (c) The rpi-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ssd1306

import (
	"bytes"
	"errors"
	"testing"

	"github.com/usbarmory/rpi-boot/internal/reg"
)

// busTrace is a bus analyzer built from two fake lines: it samples the
// data level at each clock rising edge, detects start and stop
// conditions and groups the sampled bits into per-transaction byte
// streams (9 clocks per byte, 8 data bits plus the acknowledgment
// slot).
type busTrace struct {
	sda      bool
	scl      bool
	released bool

	// ack is the level the device drives during a released
	// acknowledgment slot, false acknowledges.
	ack bool

	started bool
	bits    []bool

	// transactions holds the decoded payload of each start/stop
	// framed write, address byte included.
	transactions [][]byte
}

func (t *busTrace) level() bool {
	if t.released {
		return t.ack
	}

	return t.sda
}

func (t *busTrace) flush() {
	var data []byte

	for i := 0; i+9 <= len(t.bits); i += 9 {
		var val byte

		for j := 0; j < 8; j++ {
			val <<= 1

			if t.bits[i+j] {
				val |= 1
			}
		}

		data = append(data, val)
	}

	t.transactions = append(t.transactions, data)
	t.bits = nil
	t.started = false
}

type traceSDA struct{ t *busTrace }

func (l traceSDA) Output() { l.t.released = false }
func (l traceSDA) Input()  { l.t.released = true }

func (l traceSDA) High() {
	if l.t.scl && !l.t.sda && l.t.started {
		l.t.sda = true
		l.t.flush()
		return
	}

	l.t.sda = true
}

func (l traceSDA) Low() {
	if l.t.scl && l.t.sda {
		l.t.started = true
		l.t.bits = nil
	}

	l.t.sda = false
}

func (l traceSDA) Value() bool { return l.t.level() }

type traceSCL struct{ t *busTrace }

func (l traceSCL) Output() {}
func (l traceSCL) Input()  {}

func (l traceSCL) High() {
	if !l.t.scl && l.t.started {
		l.t.bits = append(l.t.bits, l.t.level())
	}

	l.t.scl = true
}

func (l traceSCL) Low()        { l.t.scl = false }
func (l traceSCL) Value() bool { return l.t.scl }

func newTraceBus(policy AckPolicy, ack bool) (*Bus, *busTrace) {
	t := &busTrace{ack: ack}

	b := &Bus{
		SDA:         traceSDA{t},
		SCL:         traceSCL{t},
		Policy:      policy,
		DelayCycles: 1,
	}

	b.Init()

	return b, t
}

func TestMain(m *testing.M) {
	reg.CyclesPerMillisecond = 1
	m.Run()
}

func TestWriteTransaction(t *testing.T) {
	b, trace := newTraceBus(AckLenient, false)

	if err := b.WriteTransaction(Address, []byte{0x00, 0xae}); err != nil {
		t.Fatal(err)
	}

	if len(trace.transactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(trace.transactions))
	}

	want := []byte{Address << 1, 0x00, 0xae}

	if !bytes.Equal(trace.transactions[0], want) {
		t.Errorf("expected %x, got %x", want, trace.transactions[0])
	}
}

func TestAckStrict(t *testing.T) {
	b, trace := newTraceBus(AckStrict, false)

	if err := b.WriteByte(0xa5); err != nil {
		t.Fatal(err)
	}

	if trace.released {
		t.Error("expected the data line re-acquired after the acknowledgment slot")
	}
}

func TestAckStrictNack(t *testing.T) {
	b, trace := newTraceBus(AckStrict, true)

	if err := b.WriteTransaction(Address, []byte{0x00}); !errors.Is(err, ErrNack) {
		t.Fatalf("expected ErrNack, got %v", err)
	}

	// the transaction aborts after the address byte, stop included
	if len(trace.transactions) != 1 || len(trace.transactions[0]) != 1 {
		t.Errorf("expected a single aborted byte, got %x", trace.transactions)
	}
}

func TestAckLenientIgnoresNack(t *testing.T) {
	// line reads high with nothing acknowledging, lenient policy
	// must not fail
	b, _ := newTraceBus(AckLenient, true)

	if err := b.WriteTransaction(Address, []byte{0x00, 0xaf}); err != nil {
		t.Fatal(err)
	}
}
