// Copyright (c) The rpi-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mbr implements a read-only scanner for the classic Master
// Boot Record partition table: 4 primary entries at byte offset 446 of
// logical sector 0. Extended partitions, GPT and the boot signature
// are all outside its scope.
package mbr

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Entries is the fixed primary partition table size.
const Entries = 4

// tableOffset is the byte offset of the partition table within the
// boot sector.
const tableOffset = 446

// entrySize is the encoded size of a single table entry.
const entrySize = 16

// TypeFAT32LBA is the partition type consumed by this loader.
const TypeFAT32LBA = 0x0c

// ErrPartitionNotFound is returned when no table entry carries the
// requested type.
var ErrPartitionNotFound = errors.New("partition not found")

// BlockDevice represents the single-sector read capability the scanner
// requires.
type BlockDevice interface {
	ReadBlock(lba uint32, buf []byte) error
}

// Entry represents a decoded partition table entry.
type Entry struct {
	Status   byte
	FirstCHS [3]byte
	Type     byte
	LastCHS  [3]byte
	FirstLBA uint32
	Sectors  uint32
}

// UnmarshalBinary implements the [encoding.BinaryUnmarshaler]
// interface, decoding one 16-byte table entry.
func (e *Entry) UnmarshalBinary(data []byte) error {
	if len(data) < entrySize {
		return fmt.Errorf("invalid partition entry size %d", len(data))
	}

	e.Status = data[0]
	copy(e.FirstCHS[:], data[1:4])
	e.Type = data[4]
	copy(e.LastCHS[:], data[5:8])
	e.FirstLBA = binary.LittleEndian.Uint32(data[8:12])
	e.Sectors = binary.LittleEndian.Uint32(data[12:16])

	return nil
}

// ReadTable reads logical sector 0 from the argument device and
// decodes its partition table.
func ReadTable(dev BlockDevice) (table [Entries]Entry, err error) {
	buf := make([]byte, 512)

	if err = dev.ReadBlock(0, buf); err != nil {
		return
	}

	for i := 0; i < Entries; i++ {
		off := tableOffset + i*entrySize

		if err = table[i].UnmarshalBinary(buf[off : off+entrySize]); err != nil {
			return
		}
	}

	return
}

// FindPartition returns the first table entry carrying the argument
// partition type.
func FindPartition(dev BlockDevice, partitionType byte) (Entry, error) {
	table, err := ReadTable(dev)

	if err != nil {
		return Entry{}, err
	}

	for _, e := range table {
		if e.Type == partitionType {
			return e, nil
		}
	}

	return Entry{}, ErrPartitionNotFound
}
