// Copyright (c) The rpi-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package loader implements the boot sequencer: a strictly forward
// state machine driving splash rendering, storage bring-up, kernel
// image loading and the final transfer of control.
//
// The sequence executes exactly once per power-on cycle: any stage
// failure moves the machine to a terminal failed state with no retry,
// no fallback image and no reboot, leaving the status pin blinking the
// failing stage code.
package loader

import (
	"errors"
	"fmt"
	"log"

	"github.com/usbarmory/rpi-boot/blink"
	"github.com/usbarmory/rpi-boot/emmc"
	"github.com/usbarmory/rpi-boot/fat"
	"github.com/usbarmory/rpi-boot/mailbox"
	"github.com/usbarmory/rpi-boot/mbr"
)

// State represents a sequencer state, transitions are strictly
// forward.
type State int

// Sequencer states
const (
	Init State = iota
	DisplayReady
	StoragePowered
	ControllerReady
	PartitionFound
	VolumeMounted
	FileFound
	FileLoaded
	HandedOff
	Failed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case DisplayReady:
		return "display ready"
	case StoragePowered:
		return "storage powered"
	case ControllerReady:
		return "controller ready"
	case PartitionFound:
		return "partition found"
	case VolumeMounted:
		return "volume mounted"
	case FileFound:
		return "file found"
	case FileLoaded:
		return "file loaded"
	case HandedOff:
		return "handed off"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Display represents the splash rendering capability.
type Display interface {
	Init() error
	Render(frame []byte) error
}

// Power represents the storage power domain bring-up capability.
type Power interface {
	PowerOnStorage(device uint32, clock uint32, rateHz uint32) error
}

// Storage represents the storage controller bring-up capability.
type Storage interface {
	Init() error
	ReadBlock(lba uint32, buf []byte) error
}

// Volume represents the mounted filesystem operations consumed by the
// sequencer.
type Volume interface {
	FindFile(name string) (fat.DirEntry, error)
	LoadFile(e fat.DirEntry, dest []byte) (int, error)
}

// Signaler represents the status pin feedback seam.
type Signaler interface {
	Stage()
	Success()
	Halt(code int)
}

// Sequencer represents one chain-load attempt and its collaborators.
type Sequencer struct {
	// Display renders the splash frame.
	Display Display

	// Splash is the frame handed to Display.
	Splash []byte

	// Power brings up the storage power domain.
	Power Power

	// Storage is the SD/eMMC controller.
	Storage Storage

	// Mount opens the filesystem at the located partition, left
	// nil it defaults to fat.Mount over Storage.
	Mount func(lba uint32) (Volume, error)

	// Exec transfers control to the loaded image, it must never
	// return.
	Exec func()

	// Signal drives the status pin.
	Signal Signaler

	// Kernel is the 8.3 name of the image to load.
	Kernel string

	// Dest receives the image contents.
	Dest []byte

	state    State
	failedAt State
	loaded   int
}

// State returns the current sequencer state.
func (s *Sequencer) State() State {
	return s.state
}

// FailedAt returns the stage a failed sequence was attempting to
// reach.
func (s *Sequencer) FailedAt() State {
	return s.failedAt
}

// Loaded returns the number of image bytes placed in Dest.
func (s *Sequencer) Loaded() int {
	return s.loaded
}

// failureCode maps a stage error to its blink count.
func failureCode(target State, err error) int {
	switch {
	case errors.Is(err, mailbox.ErrPowerOn):
		return blink.CodePowerOn
	case errors.Is(err, emmc.ErrResetTimeout):
		return blink.CodeReset
	case errors.Is(err, emmc.ErrClockTimeout):
		return blink.CodeClock
	case errors.Is(err, emmc.ErrVoltageCheck):
		return blink.CodeVoltage
	case errors.Is(err, emmc.ErrCardInitTimeout):
		return blink.CodeCardInit
	case errors.Is(err, mbr.ErrPartitionNotFound):
		return blink.CodePartition
	case errors.Is(err, fat.ErrVolumeMount):
		return blink.CodeMount
	case errors.Is(err, fat.ErrFileNotFound):
		return blink.CodeFileNotFound
	case errors.Is(err, fat.ErrFileLoad):
		return blink.CodeFileLoad
	}

	switch target {
	case DisplayReady:
		return blink.CodeDisplay
	case StoragePowered:
		return blink.CodePowerOn
	case ControllerReady:
		return blink.CodeCardInit
	case PartitionFound:
		return blink.CodePartition
	case VolumeMounted:
		return blink.CodeMount
	case FileFound:
		return blink.CodeFileNotFound
	default:
		return blink.CodeFileLoad
	}
}

// step attempts the transition to the argument state, a failure moves
// the machine to its terminal failed state and enters the stage
// specific signaling loop.
func (s *Sequencer) step(target State, fn func() error) error {
	if err := fn(); err != nil {
		s.failedAt = target
		s.state = Failed

		err = fmt.Errorf("%s: %w", target, err)
		log.Printf("boot aborted, %v", err)

		s.Signal.Halt(failureCode(target, err))

		return err
	}

	s.state = target
	s.Signal.Stage()

	log.Printf("%s", target)

	return nil
}

// Run drives the whole chain-load sequence, in strict order. On
// success it never returns, as Exec transfers control away; on
// failure it returns the stage error once the Signal seam gives up
// (the production Signaler never does).
func (s *Sequencer) Run() error {
	var part mbr.Entry
	var vol Volume
	var entry fat.DirEntry

	if s.Mount == nil {
		s.Mount = func(lba uint32) (Volume, error) {
			return fat.Mount(s.Storage, lba)
		}
	}

	if err := s.step(DisplayReady, func() error {
		if err := s.Display.Init(); err != nil {
			return err
		}

		return s.Display.Render(s.Splash)
	}); err != nil {
		return err
	}

	if err := s.step(StoragePowered, func() error {
		return s.Power.PowerOnStorage(mailbox.DeviceSD, mailbox.ClockEMMC, 400000)
	}); err != nil {
		return err
	}

	if err := s.step(ControllerReady, func() error {
		return s.Storage.Init()
	}); err != nil {
		return err
	}

	if err := s.step(PartitionFound, func() (err error) {
		part, err = mbr.FindPartition(s.Storage, mbr.TypeFAT32LBA)
		return
	}); err != nil {
		return err
	}

	if err := s.step(VolumeMounted, func() (err error) {
		vol, err = s.Mount(part.FirstLBA)
		return
	}); err != nil {
		return err
	}

	if err := s.step(FileFound, func() (err error) {
		entry, err = vol.FindFile(s.Kernel)
		return
	}); err != nil {
		return err
	}

	if err := s.step(FileLoaded, func() (err error) {
		s.loaded, err = vol.LoadFile(entry, s.Dest)
		return
	}); err != nil {
		return err
	}

	log.Printf("loaded %s (%d bytes), handing off", s.Kernel, s.loaded)

	s.Signal.Success()
	s.state = HandedOff

	s.Exec()

	return nil
}
