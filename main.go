// Copyright (c) The rpi-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build arm

// rpi-boot is a pre-OS chain loader for the Raspberry Pi Zero 2 W
// (BCM2710): it renders a splash frame on an SSD1306 display, brings
// up the SD/eMMC controller through the VideoCore property mailbox,
// mounts the first FAT32 partition and transfers control to the
// kernel image found there.
package main

import (
	"fmt"
	"log"
	"runtime"
	"strconv"

	"github.com/usbarmory/tamago/dma"

	"github.com/usbarmory/rpi-boot/blink"
	"github.com/usbarmory/rpi-boot/emmc"
	"github.com/usbarmory/rpi-boot/gpio"
	"github.com/usbarmory/rpi-boot/internal/reg"
	"github.com/usbarmory/rpi-boot/loader"
	"github.com/usbarmory/rpi-boot/mailbox"
	"github.com/usbarmory/rpi-boot/splash"
	"github.com/usbarmory/rpi-boot/ssd1306"
)

// BCM2710 peripheral window
const (
	peripheralBase = 0x3f000000

	gpioBase    = peripheralBase + 0x200000
	mailboxBase = peripheralBase + 0xb880
	emmcBase    = peripheralBase + 0x300000
)

// GPIO assignments
const (
	statusPin = 22
	sdaPin    = 2
	sclPin    = 3
)

// loadWindow is the size of the memory region reserved for the kernel
// image.
const loadWindow = 0x2000000

// Build information, initialized at compile time (see Makefile)
var (
	Build    string
	Revision string
)

// Boot parameters, tunable at compile time with `-ldflags "-X
// main.KernelImage=..."`.
var (
	// KernelImage is the 8.3 name of the image loaded from the boot
	// partition.
	KernelImage = "KERNEL7L.IMG"

	// LoadAddress is the physical address the image is copied to
	// and jumped at.
	LoadAddress = "0x8000"
)

func init() {
	log.SetFlags(0)

	log.Printf("%s/%s (%s) • rpi-boot %s %s",
		runtime.GOOS, runtime.GOARCH, runtime.Version(), Revision, Build)
}

func main() {
	entry, err := strconv.ParseUint(LoadAddress, 0, 32)

	if err != nil {
		panic(fmt.Sprintf("invalid load address %q, %v", LoadAddress, err))
	}

	gpioIO, err := reg.NewMMIO(gpioBase)

	if err != nil {
		panic(err)
	}

	pins := gpio.New(gpioIO)

	status, err := pins.Pin(statusPin)

	if err != nil {
		panic(err)
	}

	status.Output()
	status.High()

	signal := &blink.Signaler{
		Status: status,
	}

	sda, err := pins.Pin(sdaPin)

	if err != nil {
		panic(err)
	}

	scl, err := pins.Pin(sclPin)

	if err != nil {
		panic(err)
	}

	bus := &ssd1306.Bus{
		SDA: sda,
		SCL: scl,
	}

	mboxIO, err := reg.NewMMIO(mailboxBase)

	if err != nil {
		panic(err)
	}

	mbox := mailbox.New(mboxIO)

	if rev, err := mbox.FirmwareRevision(); err == nil {
		log.Printf("firmware revision %#x", rev)
	}

	if model, err := mbox.BoardModel(); err == nil {
		log.Printf("board model %#x", model)
	}

	emmcIO, err := reg.NewMMIO(emmcBase)

	if err != nil {
		panic(err)
	}

	pins.SelectSD()

	card := &emmc.Controller{
		IO: emmcIO,
	}

	region, err := dma.NewRegion(uint(entry), loadWindow, false)

	if err != nil {
		panic(err)
	}

	_, dest := region.Reserve(loadWindow, 0)

	seq := &loader.Sequencer{
		Display: &ssd1306.OLED{Bus: bus},
		Splash:  splash.Frame,
		Power:   mbox,
		Storage: card,
		Exec: func() {
			exec(uint32(entry))
		},
		Signal: signal,
		Kernel: KernelImage,
		Dest:   dest,
	}

	// Run never returns: on success Exec transfers control away, on
	// failure the signaler blinks the failing stage code forever.
	if err = seq.Run(); err != nil {
		panic(err)
	}
}
