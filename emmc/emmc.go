// Copyright (c) The rpi-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package emmc implements a driver for the BCM2710 external mass media
// controller (Arasan SD host interface) adopting the following
// reference specifications:
//
//	https://datasheets.raspberrypi.com/bcm2835/bcm2835-peripherals.pdf
//	SD Specifications Part 1 Physical Layer Simplified Specification
//
// The driver brings the controller and an inserted SD/SDHC card from a
// cold, unconfigured state to single-block read readiness, using LBA
// addressing only. Every hardware readiness wait is bounded, a stage
// exceeding its bound fails the whole bring-up with a distinct error.
package emmc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/usbarmory/rpi-boot/internal/reg"
)

// EMMC registers, as byte offsets within the controller window
// (peripheral base + 0x300000).
const (
	EMMC_ARG2       = 0x00
	EMMC_BLKSIZECNT = 0x04
	EMMC_ARG1       = 0x08
	EMMC_CMDTM      = 0x0c
	EMMC_RESP0      = 0x10
	EMMC_RESP1      = 0x14
	EMMC_RESP2      = 0x18
	EMMC_RESP3      = 0x1c
	EMMC_DATA       = 0x20
	EMMC_STATUS     = 0x24
	EMMC_CONTROL0   = 0x28
	EMMC_CONTROL1   = 0x2c
	EMMC_INTERRUPT  = 0x30
	EMMC_IRPT_MASK  = 0x34
	EMMC_IRPT_EN    = 0x38
	EMMC_CONTROL2   = 0x3c
)

// CONTROL1 register flags
const (
	CTRL1_SRST_HC      = 1 << 24
	CTRL1_CLK_DIV_MASK = 0xff << 8
	CTRL1_CLK_EN       = 1 << 2
	CTRL1_CLK_STABLE   = 1 << 1
	CTRL1_CLK_INTLEN   = 1 << 0
	CTRL1_SD_CLK_EN    = 1 << 5
)

// CMDTM register fields
const (
	CMDTM_INDEX_SHIFT = 24
	CMDTM_RSPNS_48    = 2 << 16
)

// INTERRUPT register flags
const (
	INT_CMD_DONE   = 1 << 0
	INT_READ_READY = 1 << 5
	INT_DATA_MASK  = 0xffff0000 | INT_CMD_DONE
)

// SD command indexes
const (
	GO_IDLE_STATE     = 0
	SEND_IF_COND      = 8
	SET_BLOCKLEN      = 16
	READ_SINGLE_BLOCK = 17
	SD_SEND_OP_COND   = 41
	APP_CMD           = 55
)

// SEND_IF_COND argument and response, 2.7-3.6V range with check
// pattern 0xaa.
const (
	ifCondArg     = 0x1aa
	ifCondPattern = 0xaa
)

// OCR register flags, as seen in the ACMD41 response
const (
	OCR_BUSY = 1 << 31
	OCR_CCS  = 1 << 30

	// ocrArgHCS requests high capacity (SDHC/SDXC) support
	ocrArgHCS = 1 << 30
)

// BlockSize is the only transfer unit supported by this driver.
const BlockSize = 512

// conservative divider for the identification clock phase
const initClockDivider = 0x80

// poll bounds, in 1 ms delay units where a delay applies
const (
	resetAttempts   = 100
	clockAttempts   = 100
	acmd41Attempts  = 1000
	commandAttempts = 1000
	readAttempts    = 1000
)

// Errors raised by the bring-up sequence, each freezing the chain-load
// at a distinct stage.
var (
	ErrResetTimeout    = errors.New("controller reset timeout")
	ErrClockTimeout    = errors.New("internal clock did not stabilize")
	ErrVoltageCheck    = errors.New("voltage check pattern mismatch")
	ErrCardInitTimeout = errors.New("card initialization timeout")
	ErrTimeout         = errors.New("hardware timeout")
)

// Controller represents an EMMC host controller instance.
type Controller struct {
	// IO is the controller register file.
	IO reg.IO

	// HighCapacity reports whether the card advertised CCS in its
	// OCR, informational only as this driver always addresses by
	// LBA.
	HighCapacity bool
}

// command issues a single SD command: pending interrupt state is
// cleared, the argument and the composed index/response-type values
// are programmed, then the command-complete bit is polled within a
// bound.
func (c *Controller) command(index uint32, arg uint32, resp bool) (uint32, error) {
	c.IO.Write32(EMMC_INTERRUPT, 0xffffffff)
	c.IO.Write32(EMMC_ARG1, arg)

	val := index << CMDTM_INDEX_SHIFT

	if resp {
		val |= CMDTM_RSPNS_48
	}

	c.IO.Write32(EMMC_CMDTM, val)

	n := 0
	for c.IO.Read32(EMMC_INTERRUPT)&INT_CMD_DONE == 0 {
		if n++; n > commandAttempts {
			return 0, fmt.Errorf("%w (CMD%d)", ErrTimeout, index)
		}

		reg.Delay(1)
	}

	c.IO.Write32(EMMC_INTERRUPT, INT_CMD_DONE)

	if !resp {
		return 0, nil
	}

	return c.IO.Read32(EMMC_RESP0), nil
}

// Init performs the reset-to-ready bring-up of the controller and an
// inserted card. The storage power domain must have been brought up
// through the firmware mailbox beforehand and the SD lines routed to
// the controller.
func (c *Controller) Init() error {
	// reset the host controller, clear and mask all interrupts
	c.IO.Write32(EMMC_CONTROL1, CTRL1_SRST_HC)
	c.IO.Write32(EMMC_CONTROL2, 0)
	c.IO.Write32(EMMC_INTERRUPT, 0xffffffff)
	c.IO.Write32(EMMC_IRPT_EN, 0)
	c.IO.Write32(EMMC_IRPT_MASK, 0xffffffff)
	reg.Delay(10)

	n := 0
	for c.IO.Read32(EMMC_CONTROL1)&CTRL1_SRST_HC != 0 {
		if n++; n > resetAttempts {
			return ErrResetTimeout
		}

		reg.Delay(1)
	}

	// program a conservative divider and start the internal clock
	ctrl := c.IO.Read32(EMMC_CONTROL1)
	ctrl &^= CTRL1_CLK_DIV_MASK
	ctrl |= initClockDivider << 8
	ctrl |= CTRL1_CLK_INTLEN | CTRL1_CLK_EN
	c.IO.Write32(EMMC_CONTROL1, ctrl)

	for n = 0; c.IO.Read32(EMMC_CONTROL1)&CTRL1_CLK_STABLE == 0; {
		if n++; n > clockAttempts {
			return ErrClockTimeout
		}

		reg.Delay(1)
	}

	// enable the SD clock output and let it settle
	reg.SetBits(c.IO, EMMC_CONTROL1, CTRL1_SD_CLK_EN)
	reg.Delay(10)

	if _, err := c.command(GO_IDLE_STATE, 0, false); err != nil {
		return err
	}

	r, err := c.command(SEND_IF_COND, ifCondArg, true)

	if err != nil {
		return err
	}

	if r&0xff != ifCondPattern {
		return ErrVoltageCheck
	}

	for n = 0; ; n++ {
		if n >= acmd41Attempts {
			return ErrCardInitTimeout
		}

		if _, err = c.command(APP_CMD, 0, true); err != nil {
			return err
		}

		if r, err = c.command(SD_SEND_OP_COND, ocrArgHCS, true); err != nil {
			return err
		}

		if r&OCR_BUSY != 0 {
			break
		}

		reg.Delay(1)
	}

	c.HighCapacity = r&OCR_CCS != 0

	_, err = c.command(SET_BLOCKLEN, BlockSize, true)

	return err
}

// ReadBlock reads the single 512-byte sector at the argument LBA into
// buf, draining the controller data FIFO in order.
func (c *Controller) ReadBlock(lba uint32, buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("invalid block buffer size %d", len(buf))
	}

	c.IO.Write32(EMMC_INTERRUPT, 0xffffffff)
	c.IO.Write32(EMMC_BLKSIZECNT, 1<<16|BlockSize)

	if _, err := c.command(READ_SINGLE_BLOCK, lba, true); err != nil {
		return err
	}

	n := 0
	for c.IO.Read32(EMMC_INTERRUPT)&INT_READ_READY == 0 {
		if n++; n > readAttempts {
			return fmt.Errorf("%w (read ready, LBA %d)", ErrTimeout, lba)
		}

		reg.Delay(1)
	}

	for i := 0; i < BlockSize/4; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], c.IO.Read32(EMMC_DATA))
	}

	c.IO.Write32(EMMC_INTERRUPT, INT_DATA_MASK)

	return nil
}
