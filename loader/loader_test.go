// Copyright (c) The rpi-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package loader

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/usbarmory/rpi-boot/blink"
	"github.com/usbarmory/rpi-boot/emmc"
	"github.com/usbarmory/rpi-boot/fat"
	"github.com/usbarmory/rpi-boot/mailbox"
	"github.com/usbarmory/rpi-boot/mbr"
)

type fakeDisplay struct {
	initErr   error
	renderErr error
	rendered  []byte
}

func (d *fakeDisplay) Init() error {
	return d.initErr
}

func (d *fakeDisplay) Render(frame []byte) error {
	d.rendered = frame
	return d.renderErr
}

type fakePower struct {
	err    error
	device uint32
	clock  uint32
	rate   uint32
}

func (p *fakePower) PowerOnStorage(device uint32, clock uint32, rateHz uint32) error {
	p.device, p.clock, p.rate = device, clock, rateHz
	return p.err
}

// fakeStorage serves the boot sector and fails on request.
type fakeStorage struct {
	initErr error
	mbr     []byte
}

func (s *fakeStorage) Init() error {
	return s.initErr
}

func (s *fakeStorage) ReadBlock(lba uint32, buf []byte) error {
	if lba != 0 || s.mbr == nil {
		return errors.New("sector out of range")
	}

	copy(buf, s.mbr)

	return nil
}

type fakeVolume struct {
	findErr error
	loadErr error
	entry   fat.DirEntry
	payload []byte
}

func (v *fakeVolume) FindFile(name string) (fat.DirEntry, error) {
	if v.findErr != nil {
		return fat.DirEntry{}, v.findErr
	}

	return v.entry, nil
}

func (v *fakeVolume) LoadFile(e fat.DirEntry, dest []byte) (int, error) {
	if v.loadErr != nil {
		return 0, v.loadErr
	}

	return copy(dest, v.payload), nil
}

type fakeSignal struct {
	stages   int
	success  bool
	haltCode int
}

func (s *fakeSignal) Stage()        { s.stages++ }
func (s *fakeSignal) Success()      { s.success = true }
func (s *fakeSignal) Halt(code int) { s.haltCode = code }

// bootSector returns an MBR carrying one FAT32 LBA partition.
func bootSector(lba uint32) []byte {
	sector := make([]byte, 512)

	sector[446+4] = mbr.TypeFAT32LBA
	binary.LittleEndian.PutUint32(sector[446+8:], lba)
	binary.LittleEndian.PutUint32(sector[446+12:], 131072)

	return sector
}

func testSequencer() (*Sequencer, *fakeDisplay, *fakePower, *fakeStorage, *fakeVolume, *fakeSignal, *bool) {
	display := &fakeDisplay{}
	power := &fakePower{}
	storage := &fakeStorage{mbr: bootSector(2048)}
	signal := &fakeSignal{}

	vol := &fakeVolume{
		entry:   fat.DirEntry{Cluster: 5, Size: 4},
		payload: []byte{0xde, 0xad, 0xbe, 0xef},
	}

	executed := false

	s := &Sequencer{
		Display: display,
		Splash:  make([]byte, 1024),
		Power:   power,
		Storage: storage,
		Mount: func(lba uint32) (Volume, error) {
			return vol, nil
		},
		Exec:   func() { executed = true },
		Signal: signal,
		Kernel: "KERNEL7L.IMG",
		Dest:   make([]byte, 512),
	}

	return s, display, power, storage, vol, signal, &executed
}

func TestRun(t *testing.T) {
	s, display, power, _, _, signal, executed := testSequencer()

	if err := s.Run(); err != nil {
		t.Fatal(err)
	}

	if s.State() != HandedOff {
		t.Errorf("expected HandedOff, got %v", s.State())
	}

	if display.rendered == nil {
		t.Error("expected the splash rendered")
	}

	if power.clock != mailbox.ClockEMMC || power.rate != 400000 {
		t.Errorf("unexpected clock setup %d/%d", power.clock, power.rate)
	}

	if signal.stages != 7 {
		t.Errorf("expected 7 stage markers, got %d", signal.stages)
	}

	if !signal.success {
		t.Error("expected the success pattern")
	}

	if !*executed {
		t.Error("expected control transferred")
	}

	if s.Loaded() != 4 {
		t.Errorf("expected 4 bytes loaded, got %d", s.Loaded())
	}
}

func TestRunFailures(t *testing.T) {
	for _, tt := range []struct {
		name   string
		breakf func(*Sequencer, *fakeDisplay, *fakePower, *fakeStorage, *fakeVolume)
		stage  State
		code   int
	}{
		{
			"display",
			func(s *Sequencer, d *fakeDisplay, p *fakePower, st *fakeStorage, v *fakeVolume) {
				d.initErr = errors.New("no acknowledgment")
			},
			DisplayReady, blink.CodeDisplay,
		},
		{
			"render",
			func(s *Sequencer, d *fakeDisplay, p *fakePower, st *fakeStorage, v *fakeVolume) {
				d.renderErr = errors.New("no acknowledgment")
			},
			DisplayReady, blink.CodeDisplay,
		},
		{
			"power",
			func(s *Sequencer, d *fakeDisplay, p *fakePower, st *fakeStorage, v *fakeVolume) {
				p.err = mailbox.ErrPowerOn
			},
			StoragePowered, blink.CodePowerOn,
		},
		{
			"reset",
			func(s *Sequencer, d *fakeDisplay, p *fakePower, st *fakeStorage, v *fakeVolume) {
				st.initErr = emmc.ErrResetTimeout
			},
			ControllerReady, blink.CodeReset,
		},
		{
			"voltage",
			func(s *Sequencer, d *fakeDisplay, p *fakePower, st *fakeStorage, v *fakeVolume) {
				st.initErr = emmc.ErrVoltageCheck
			},
			ControllerReady, blink.CodeVoltage,
		},
		{
			"card",
			func(s *Sequencer, d *fakeDisplay, p *fakePower, st *fakeStorage, v *fakeVolume) {
				st.initErr = emmc.ErrCardInitTimeout
			},
			ControllerReady, blink.CodeCardInit,
		},
		{
			"partition",
			func(s *Sequencer, d *fakeDisplay, p *fakePower, st *fakeStorage, v *fakeVolume) {
				st.mbr = make([]byte, 512)
			},
			PartitionFound, blink.CodePartition,
		},
		{
			"mount",
			func(s *Sequencer, d *fakeDisplay, p *fakePower, st *fakeStorage, v *fakeVolume) {
				s.Mount = func(uint32) (Volume, error) {
					return nil, fat.ErrVolumeMount
				}
			},
			VolumeMounted, blink.CodeMount,
		},
		{
			"find",
			func(s *Sequencer, d *fakeDisplay, p *fakePower, st *fakeStorage, v *fakeVolume) {
				v.findErr = fat.ErrFileNotFound
			},
			FileFound, blink.CodeFileNotFound,
		},
		{
			"load",
			func(s *Sequencer, d *fakeDisplay, p *fakePower, st *fakeStorage, v *fakeVolume) {
				v.loadErr = fat.ErrFileLoad
			},
			FileLoaded, blink.CodeFileLoad,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			s, display, power, storage, vol, signal, executed := testSequencer()

			tt.breakf(s, display, power, storage, vol)

			if err := s.Run(); err == nil {
				t.Fatal("expected a stage failure")
			}

			if s.State() != Failed {
				t.Errorf("expected Failed, got %v", s.State())
			}

			if s.FailedAt() != tt.stage {
				t.Errorf("expected failure at %v, got %v", tt.stage, s.FailedAt())
			}

			if signal.haltCode != tt.code {
				t.Errorf("expected halt code %d, got %d", tt.code, signal.haltCode)
			}

			if *executed {
				t.Error("control must not transfer after a failure")
			}
		})
	}
}

func TestDefaultMount(t *testing.T) {
	s, _, _, _, _, _, _ := testSequencer()
	s.Mount = nil

	// the default mount reads the volume boot sector through
	// Storage, which only serves the MBR: the sequence must stop at
	// the mount stage
	err := s.Run()

	if !errors.Is(err, fat.ErrVolumeMount) {
		t.Fatalf("expected ErrVolumeMount, got %v", err)
	}

	if s.FailedAt() != VolumeMounted {
		t.Errorf("expected failure at VolumeMounted, got %v", s.FailedAt())
	}
}
