// Package pfs reads and writes the PlayStation File System found inside APA partitions.
//
// A PFS partition is divided into zones. The zones before the superblock are reserved for the
// partition header; after the superblock zone come the zone allocation bitmap and the inode
// table, and every zone after that holds file or directory content. Inodes list their content
// as extents of zones. Files too fragmented for the extents held in the inode continue into a
// chain of indirect segments, each stored in a zone of its own.
//
// Reads may run concurrently. Mutating operations must not run concurrently with anything else
// on the same FileSystem.
package pfs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/diskfs/go-ps2hdd/backend"
	"github.com/diskfs/go-ps2hdd/filesystem"
	"github.com/diskfs/go-ps2hdd/util"
)

const (
	// DefaultZoneSize allocation unit used when none is requested
	DefaultZoneSize uint32 = 4096
	MinZoneSize     uint32 = 2048
	MaxZoneSize     uint32 = 128 * 1024

	// DefaultVolumeName label used when none is requested
	DefaultVolumeName = "PS2HDD"

	minInodes uint32 = 64
	maxInodes uint32 = 65536
	// largest single device transfer when streaming content
	maxTransfer int64 = 1024 * 1024
)

// Params options for creating a filesystem
type Params struct {
	// ZoneSize bytes per zone, a power of two between MinZoneSize and MaxZoneSize
	ZoneSize uint32
	// InodeCount number of inodes to preallocate, 0 sizes the table from the zone count
	InodeCount uint32
	VolumeName string
	UUID       *uuid.UUID
	// Created stamp for the superblock and root directory, zero means now
	Created time.Time
	Logger  *log.Entry
}

var _ filesystem.FileSystem = (*FileSystem)(nil)

// FileSystem a PFS filesystem within a partition of a device
type FileSystem struct {
	dev        *backend.Device
	start      int64
	size       int64
	superblock *superblock
	alloc      *AllocationMap
	slots      *util.Bitmap
	log        *log.Entry
}


// Read opens the filesystem of the partition occupying size bytes from start on the device.
// The bitmap is the authority on free space: if the superblock's free count disagrees it is
// corrected in memory and rewritten by the next flush.
func Read(dev *backend.Device, start, size int64) (*FileSystem, error) {
	return ReadWithLogger(dev, start, size, nil)
}

// ReadWithLogger is Read, logging through logger
func ReadWithLogger(dev *backend.Device, start, size int64, logger *log.Entry) (*FileSystem, error) {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	logger = logger.WithFields(log.Fields{"component": "pfs", "start": start})
	if start%backend.SectorSize != 0 || size%backend.SectorSize != 0 {
		return nil, fmt.Errorf("%w: partition at %d of %d bytes is not sector aligned", ErrInvalidFilesystem, start, size)
	}
	if (superblockBackupSector+1)*backend.SectorSize > size {
		return nil, fmt.Errorf("%w: partition of %d bytes is too small to hold a superblock", ErrInvalidFilesystem, size)
	}
	fs := &FileSystem{
		dev:   dev,
		start: start,
		size:  size,
		log:   logger,
	}
	sb, err := fs.readSuperblock()
	if err != nil {
		return nil, err
	}
	if sb.fsckStat&statFormatting != 0 {
		return nil, fmt.Errorf("%w: filesystem creation did not complete", ErrInvalidFilesystem)
	}
	if int64(sb.zoneCount)*int64(sb.zoneSize) > size {
		return nil, fmt.Errorf("%w: %d zones of %d bytes exceed partition size %d", ErrInvalidFilesystem, sb.zoneCount, sb.zoneSize, size)
	}
	fs.superblock = sb

	b, err := dev.Read(fs.zoneOffset(sb.bitmapStart), int64(sb.bitmapZones)*int64(sb.zoneSize))
	if err != nil {
		return nil, fmt.Errorf("could not read allocation bitmap: %w", err)
	}
	alloc, err := allocationMapFromBytes(b, sb.zoneCount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilesystem, err)
	}
	if alloc.FreeZones() != sb.freeZones {
		logger.WithFields(log.Fields{"superblock": sb.freeZones, "bitmap": alloc.FreeZones()}).Warn("free zone count disagrees with bitmap, using bitmap")
		sb.freeZones = alloc.FreeZones()
	}
	fs.alloc = alloc
	logger.WithFields(log.Fields{"zoneSize": sb.zoneSize, "zones": sb.zoneCount, "free": sb.freeZones}).Debug("read filesystem")
	return fs, nil
}

func (fs *FileSystem) readSuperblock() (*superblock, error) {
	var errs []error
	for _, sector := range []int64{superblockSector, superblockBackupSector} {
		b, err := fs.dev.Read(fs.start+sector*backend.SectorSize, superblockSize)
		if err != nil {
			return nil, fmt.Errorf("could not read superblock: %w", err)
		}
		sb, err := superblockFromBytes(b)
		if err == nil {
			if sector != superblockSector {
				fs.log.WithField("error", errs[0]).Warn("primary superblock invalid, using backup")
			}
			return sb, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidFilesystem, errs[0])
}

// SuperblocksMatch whether the primary and backup superblocks on disk are both valid and agree
func (fs *FileSystem) SuperblocksMatch() (bool, error) {
	var copies [2]*superblock
	for i, sector := range []int64{superblockSector, superblockBackupSector} {
		b, err := fs.dev.Read(fs.start+sector*backend.SectorSize, superblockSize)
		if err != nil {
			return false, fmt.Errorf("could not read superblock: %w", err)
		}
		if copies[i], err = superblockFromBytes(b); err != nil {
			return false, nil
		}
	}
	return copies[0].equal(copies[1]), nil
}

// Type returns the type code for the filesystem. Always returns filesystem.TypePFS
func (fs *FileSystem) Type() filesystem.Type {
	return filesystem.TypePFS
}

// Label volume name stored in the superblock
func (fs *FileSystem) Label() string {
	return fs.superblock.volumeName
}

// UUID volume identifier stored in the superblock
func (fs *FileSystem) UUID() uuid.UUID {
	return fs.superblock.volumeID
}

// ZoneSize bytes per allocation unit
func (fs *FileSystem) ZoneSize() uint32 {
	return fs.superblock.zoneSize
}

// Zones total allocation units in the filesystem
func (fs *FileSystem) Zones() uint32 {
	return fs.superblock.zoneCount
}

// FreeZones allocation units not in use
func (fs *FileSystem) FreeZones() uint32 {
	return fs.alloc.FreeZones()
}

// Root reads the root directory inode
func (fs *FileSystem) Root() (*Inode, error) {
	return fs.ReadInode(fs.superblock.root)
}

func (fs *FileSystem) zoneOffset(zone uint32) int64 {
	return fs.start + int64(zone)*int64(fs.superblock.zoneSize)
}

// validZone whether zone may hold content
func (fs *FileSystem) validZone(zone uint32) bool {
	return zone >= fs.superblock.dataStart() && zone < fs.superblock.zoneCount
}

// Flush writes the allocation bitmap and then the superblock with the matching free count
func (fs *FileSystem) Flush() error {
	sb := fs.superblock
	zoneSize := int(sb.zoneSize)
	bits := fs.alloc.bits.ToBytes()
	for _, z := range fs.alloc.dirtyChunks(zoneSize) {
		if err := fs.dev.Write(fs.zoneOffset(sb.bitmapStart+uint32(z)), bits[z*zoneSize:(z+1)*zoneSize]); err != nil {
			return &flushError{err: fmt.Errorf("could not write bitmap zone %d: %w", z, err)}
		}
		fs.alloc.markFlushed(bits, z*zoneSize, (z+1)*zoneSize)
	}
	sb.freeZones = fs.alloc.FreeZones()
	sb.fsckStat &^= statFormatting
	sb.modified = time.Now().Truncate(time.Second)
	if err := fs.writeSuperblock(); err != nil {
		return &flushError{err: err}
	}
	return nil
}

func (fs *FileSystem) writeSuperblock() error {
	b, err := fs.superblock.toBytes()
	if err != nil {
		return err
	}
	for _, sector := range []int64{superblockSector, superblockBackupSector} {
		if err := fs.dev.Write(fs.start+sector*backend.SectorSize, b); err != nil {
			return fmt.Errorf("could not write superblock at sector %d: %w", sector, err)
		}
	}
	return nil
}

// mutate runs fn against the in-memory allocation state, restoring that state if fn fails.
// When fn failed while flushing the restored state is flushed again, best effort.
func (fs *FileSystem) mutate(fn func() error) error {
	alloc := fs.alloc.snapshot()
	var slots []byte
	if fs.slots != nil {
		slots = fs.slots.ToBytes()
	}
	err := fn()
	if err == nil {
		return nil
	}
	fs.alloc.restore(alloc)
	if slots != nil {
		fs.slots.FromBytes(slots)
	} else {
		fs.slots = nil
	}
	var fe *flushError
	if errors.As(err, &fe) {
		if ferr := fs.Flush(); ferr != nil {
			fs.log.WithField("error", ferr).Warn("could not restore allocation state after failed flush")
		}
	}
	return err
}
