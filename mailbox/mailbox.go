// Copyright (c) The rpi-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mailbox implements a client for the BCM2710 VideoCore
// property mailbox, the tag based RPC mechanism the platform firmware
// exposes for hardware bring-up, adopting the following reference
// specifications:
//
//	https://github.com/raspberrypi/firmware/wiki/Mailbox-property-interface
//
// Property buffers must be visible to the firmware at a 16-byte
// aligned physical address, the client therefore keeps a single
// aligned buffer for the lifetime of the instance and is not safe for
// concurrent use (a non-issue on this single hardware thread, polling
// only, firmware stage).
package mailbox

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/usbarmory/rpi-boot/internal/reg"
)

// Mailbox registers, as byte offsets within the controller window
// (peripheral base + 0xb880).
const (
	MBOX_READ   = 0x00
	MBOX_STATUS = 0x18
	MBOX_WRITE  = 0x20
)

// Status register flags
const (
	StatusFull  = 0x80000000
	StatusEmpty = 0x40000000
)

// Buffer request/response codes
const (
	RequestCode     = 0x00000000
	ResponseSuccess = 0x80000000
)

// Property channel
const ChannelProperties = 8

// Property tags
const (
	TagGetFirmwareRevision = 0x00000001
	TagGetBoardModel       = 0x00010001
	TagSetPowerState       = 0x00028001
	TagSetClockRate        = 0x00038002
	TagLast                = 0x00000000
)

// Power domain and clock identifiers for the storage hardware
const (
	DeviceSD  = 0
	ClockEMMC = 1
)

// Power state request flags
const (
	PowerOn   = 1 << 0
	PowerWait = 1 << 1
)

// bufferWords is the fixed property buffer size, large enough for the
// biggest request issued by this client.
const bufferWords = 16

// Errors returned while driving the mailbox
var (
	ErrTimeout  = errors.New("mailbox not ready")
	ErrResponse = errors.New("firmware rejected property request")
	ErrPowerOn  = errors.New("storage power domain did not come up")
)

// statusAttempts bounds the full/empty flag polls.
const statusAttempts = 1000000

// Mailbox represents a property mailbox client instance.
type Mailbox struct {
	io reg.IO

	// backing keeps the aligned view below reachable
	backing []uint32
	buf     []uint32
	addr    uint32
}

// New returns a mailbox client over the argument register file, with
// its property buffer placed at a 16-byte aligned address.
func New(io reg.IO) *Mailbox {
	backing := make([]uint32, bufferWords+4)

	off := 0
	if rem := uintptr(unsafe.Pointer(&backing[0])) & 0xf; rem != 0 {
		off = int(16-rem) / 4
	}

	buf := backing[off : off+bufferWords]

	return &Mailbox{
		io:      io,
		backing: backing,
		buf:     buf,
		addr:    uint32(uintptr(unsafe.Pointer(&buf[0]))),
	}
}

// call submits the property buffer on the argument channel and waits
// for the matching response, all polls are bounded.
func (m *Mailbox) call(channel uint32) error {
	val := m.addr&^0xf | channel&0xf

	n := 0
	for m.io.Read32(MBOX_STATUS)&StatusFull != 0 {
		if n++; n > statusAttempts {
			return ErrTimeout
		}
	}

	m.io.Write32(MBOX_WRITE, val)

	for n = 0; n <= statusAttempts; n++ {
		if m.io.Read32(MBOX_STATUS)&StatusEmpty != 0 {
			continue
		}

		if m.io.Read32(MBOX_READ)&0xf == channel {
			break
		}
	}

	if n > statusAttempts {
		return ErrTimeout
	}

	if m.buf[1] != ResponseSuccess {
		return ErrResponse
	}

	return nil
}

// PowerOnStorage powers the storage device domain and programs its
// clock in a single property request, per the SD/eMMC bring-up
// contract: both the buffer response code and the power tag "state on"
// bit must confirm, either failing is fatal.
func (m *Mailbox) PowerOnStorage(device uint32, clock uint32, rateHz uint32) error {
	for i := range m.buf {
		m.buf[i] = 0
	}

	m.buf[0] = 15 * 4 // buffer size in bytes
	m.buf[1] = RequestCode

	m.buf[2] = TagSetPowerState
	m.buf[3] = 8 // value buffer size
	m.buf[4] = 8 // request size
	m.buf[5] = device
	m.buf[6] = PowerOn | PowerWait

	m.buf[7] = TagSetClockRate
	m.buf[8] = 12
	m.buf[9] = 8
	m.buf[10] = clock
	m.buf[11] = rateHz
	m.buf[12] = 0 // no turbo

	m.buf[13] = TagLast

	if err := m.call(ChannelProperties); err != nil {
		return fmt.Errorf("%w (%v)", ErrPowerOn, err)
	}

	if m.buf[6]&PowerOn == 0 {
		return ErrPowerOn
	}

	return nil
}

// property performs a single-tag request, returning respLen response
// words from its value buffer.
func (m *Mailbox) property(tag uint32, respLen int, args ...uint32) ([]uint32, error) {
	for i := range m.buf {
		m.buf[i] = 0
	}

	n := max(len(args), respLen)

	m.buf[0] = uint32((6 + n) * 4)
	m.buf[1] = RequestCode

	m.buf[2] = tag
	m.buf[3] = uint32(n * 4)
	m.buf[4] = uint32(len(args) * 4)
	copy(m.buf[5:], args)

	m.buf[5+n] = TagLast

	if err := m.call(ChannelProperties); err != nil {
		return nil, err
	}

	resp := make([]uint32, respLen)
	copy(resp, m.buf[5:5+respLen])

	return resp, nil
}

// query performs a single-tag request with no arguments and a one word
// response.
func (m *Mailbox) query(tag uint32) (uint32, error) {
	resp, err := m.property(tag, 1)

	if err != nil {
		return 0, err
	}

	return resp[0], nil
}

// SetPowerState applies the argument power flags to a device domain,
// returning the reported state word.
func (m *Mailbox) SetPowerState(device uint32, flags uint32) (uint32, error) {
	resp, err := m.property(TagSetPowerState, 2, device, flags)

	if err != nil {
		return 0, err
	}

	return resp[1], nil
}

// SetClockRate programs the argument clock, returning the rate the
// firmware actually applied.
func (m *Mailbox) SetClockRate(clock uint32, rateHz uint32) (uint32, error) {
	resp, err := m.property(TagSetClockRate, 2, clock, rateHz, 0)

	if err != nil {
		return 0, err
	}

	return resp[1], nil
}

// FirmwareRevision returns the VideoCore firmware revision.
func (m *Mailbox) FirmwareRevision() (uint32, error) {
	return m.query(TagGetFirmwareRevision)
}

// BoardModel returns the board model identifier.
func (m *Mailbox) BoardModel() (uint32, error) {
	return m.query(TagGetBoardModel)
}

// Buffer returns a copy of the current property buffer contents.
func (m *Mailbox) Buffer() []uint32 {
	buf := make([]uint32, bufferWords)
	copy(buf, m.buf)

	return buf
}
