// Copyright (c) The rpi-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package fat implements a minimal read-only FAT32 reader, sufficient
// to locate one file by 8.3 short name in the volume root directory
// and load its contents by walking the cluster chain.
//
// The reader deliberately leaves out everything a general filesystem
// would have: no write access, no long filenames, no subdirectory
// traversal and a bounded root directory scan window (see FindFile).
package fat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// SectorSize is the only sector size supported, mounting any other
// geometry fails.
const SectorSize = 512

// Directory entry markers
const (
	entryEnd     = 0x00
	entryDeleted = 0xe5
)

// directory entry geometry
const (
	entrySize    = 32
	shortNameLen = 11
)

// Cluster chain constants: FAT32 entries are 28 bits wide, a masked
// value at or beyond the end-of-chain boundary terminates the walk.
const (
	entryMask   = 0x0fffffff
	eocBoundary = 0x0ffffff8
)

// rootScanClusters bounds the root directory scan window, in clusters
// from the root region start. The window does not follow the root
// directory's own cluster chain: files beyond it are unfindable, a
// documented scope limit of this loader.
const rootScanClusters = 8

// Errors returned while mounting or reading a volume
var (
	ErrVolumeMount  = errors.New("volume mount failure")
	ErrFileNotFound = errors.New("file not found")
	ErrFileLoad     = errors.New("file load failure")
)

// BlockDevice represents the single-sector read capability the reader
// is built on.
type BlockDevice interface {
	ReadBlock(lba uint32, buf []byte) error
}

// paramBlock is the encoded FAT32 BIOS parameter block, as read from
// the volume boot sector.
type paramBlock struct {
	JumpBoot          [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntries       uint16
	TotalSectors16    uint16
	Media             byte
	FATSize16         uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
	FATSize32         uint32
	ExtFlags          uint16
	FSVersion         uint16
	RootCluster       uint32
}

// Volume represents a mounted FAT32 volume. It carries all geometry
// derived at mount time, making the reader re-entrant: no package
// level state exists.
type Volume struct {
	dev BlockDevice

	// SectorsPerCluster is the cluster size in sectors.
	SectorsPerCluster uint32

	// RootCluster is the first cluster of the root directory.
	RootCluster uint32

	// FATStart is the first LBA of the file allocation table.
	FATStart uint32

	// DataStart is the first LBA of the data region.
	DataStart uint32
}

// DirEntry represents a located directory entry.
type DirEntry struct {
	// Name is the 11-byte short name.
	Name [shortNameLen]byte

	// Cluster is the combined starting cluster number.
	Cluster uint32

	// Size is the file size in bytes.
	Size uint32
}

// ShortName converts an 8.3 file name to its padded 11-byte directory
// representation, e.g. "KERNEL7L.IMG" to "KERNEL7LIMG".
func ShortName(name string) (short [shortNameLen]byte, err error) {
	base, ext, _ := strings.Cut(strings.ToUpper(name), ".")

	if len(base) == 0 || len(base) > 8 || len(ext) > 3 {
		return short, fmt.Errorf("invalid 8.3 name %q", name)
	}

	copy(short[:], "           ")
	copy(short[0:], base)
	copy(short[8:], ext)

	return
}

// Mount reads and validates the volume boot sector at the argument
// partition LBA, returning the mounted volume geometry.
func Mount(dev BlockDevice, partitionLBA uint32) (*Volume, error) {
	buf := make([]byte, SectorSize)

	if err := dev.ReadBlock(partitionLBA, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVolumeMount, err)
	}

	bpb := &paramBlock{}

	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, bpb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVolumeMount, err)
	}

	if bpb.BytesPerSector != SectorSize {
		return nil, fmt.Errorf("%w: unsupported sector size %d", ErrVolumeMount, bpb.BytesPerSector)
	}

	if bpb.SectorsPerCluster == 0 {
		return nil, fmt.Errorf("%w: invalid sectors per cluster", ErrVolumeMount)
	}

	fatSize := uint32(bpb.FATSize16)

	if fatSize == 0 {
		fatSize = bpb.FATSize32
	}

	rootCluster := bpb.RootCluster

	if rootCluster == 0 {
		rootCluster = 2
	}

	v := &Volume{
		dev:               dev,
		SectorsPerCluster: uint32(bpb.SectorsPerCluster),
		RootCluster:       rootCluster,
		FATStart:          partitionLBA + uint32(bpb.ReservedSectors),
		DataStart:         partitionLBA + uint32(bpb.ReservedSectors) + uint32(bpb.NumFATs)*fatSize,
	}

	return v, nil
}

// ClusterLBA returns the first LBA of the argument cluster number.
func (v *Volume) ClusterLBA(cluster uint32) uint32 {
	return v.DataStart + (cluster-2)*v.SectorsPerCluster
}

// next returns the FAT entry for the argument cluster, masked to its
// 28 significant bits.
func (v *Volume) next(cluster uint32) (uint32, error) {
	off := cluster * 4

	buf := make([]byte, SectorSize)

	if err := v.dev.ReadBlock(v.FATStart+off/SectorSize, buf); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[off%SectorSize:]) & entryMask, nil
}

// FindFile scans the root directory region for the argument 8.3 name,
// within the bounded window of rootScanClusters clusters. A leading
// 0x00 name byte ends the scan, deleted (0xe5) entries are skipped.
func (v *Volume) FindFile(name string) (DirEntry, error) {
	short, err := ShortName(name)

	if err != nil {
		return DirEntry{}, err
	}

	buf := make([]byte, SectorSize)

	for cluster := uint32(0); cluster < rootScanClusters; cluster++ {
		lba := v.ClusterLBA(v.RootCluster + cluster)

		for sector := uint32(0); sector < v.SectorsPerCluster; sector++ {
			if err := v.dev.ReadBlock(lba+sector, buf); err != nil {
				return DirEntry{}, err
			}

			for off := 0; off < SectorSize; off += entrySize {
				switch buf[off] {
				case entryEnd:
					return DirEntry{}, ErrFileNotFound
				case entryDeleted:
					continue
				}

				if !bytes.Equal(buf[off:off+shortNameLen], short[:]) {
					continue
				}

				e := DirEntry{
					Cluster: uint32(binary.LittleEndian.Uint16(buf[off+20:]))<<16 |
						uint32(binary.LittleEndian.Uint16(buf[off+26:])),
					Size: binary.LittleEndian.Uint32(buf[off+28:]),
				}
				copy(e.Name[:], buf[off:off+shortNameLen])

				return e, nil
			}
		}
	}

	return DirEntry{}, ErrFileNotFound
}

// LoadFile copies the argument entry contents into dest by walking the
// cluster chain, reading whole sectors: the last cluster may over-read
// into dest up to the next sector boundary, dest must therefore hold
// the file size rounded up to SectorSize.
//
// Loading stops once Size bytes are accounted for or at the first
// end-of-chain FAT entry, whichever comes first; the number of file
// bytes copied is returned.
func (v *Volume) LoadFile(e DirEntry, dest []byte) (int, error) {
	if e.Size == 0 {
		return 0, nil
	}

	padded := int((e.Size + SectorSize - 1) / SectorSize * SectorSize)

	if len(dest) < padded {
		return 0, fmt.Errorf("%w: destination size %d, need %d", ErrFileLoad, len(dest), padded)
	}

	clusterBytes := v.SectorsPerCluster * SectorSize

	cluster := e.Cluster
	remaining := e.Size
	off := uint32(0)

	for remaining > 0 {
		lba := v.ClusterLBA(cluster)

		sectors := v.SectorsPerCluster
		if remaining < clusterBytes {
			sectors = (remaining + SectorSize - 1) / SectorSize
		}

		for i := uint32(0); i < sectors; i++ {
			pos := off + i*SectorSize

			if err := v.dev.ReadBlock(lba+i, dest[pos:pos+SectorSize]); err != nil {
				return int(off), fmt.Errorf("%w: %v", ErrFileLoad, err)
			}
		}

		if remaining <= clusterBytes {
			off += remaining
			remaining = 0
			break
		}

		remaining -= clusterBytes
		off += clusterBytes

		next, err := v.next(cluster)

		if err != nil {
			return int(off), fmt.Errorf("%w: %v", ErrFileLoad, err)
		}

		if next >= eocBoundary {
			break
		}

		cluster = next
	}

	return int(off), nil
}
