package pfs

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/diskfs/go-ps2hdd/backend"
	"github.com/diskfs/go-ps2hdd/util"
)

// maxVolumeNameLength bytes available for the volume name in the superblock
const maxVolumeNameLength = 32

// Create creates a PFS filesystem in the partition occupying size bytes from start on the device.
//
// The steps run in a fixed order and a failure reports the step through *StepError:
//
//   - StepBitmap: compute the geometry, invalidate any old superblock, write a bitmap with only
//     the metadata zones in use and clear the inode table
//   - StepRootDirectory: allocate the root directory and write its self and parent entries
//   - StepSuperblock: write the superblock, marked as still being created
//   - StepFlush: flush the bitmap, then the superblock with the final free count
//
// Until the last step completes, Read rejects the partition.
func Create(dev *backend.Device, start, size int64, p *Params) (*FileSystem, error) {
	if p == nil {
		p = &Params{}
	}
	logger := p.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	fs := &FileSystem{
		dev:   dev,
		start: start,
		size:  size,
		log:   logger.WithFields(log.Fields{"component": "pfs", "start": start}),
	}
	sb, err := newSuperblock(size, p)
	if err != nil {
		return nil, &StepError{Step: StepBitmap, Err: err}
	}
	if start%backend.SectorSize != 0 || size%backend.SectorSize != 0 || start+size > dev.Capacity() {
		return nil, &StepError{Step: StepBitmap, Err: fmt.Errorf("partition at %d of %d bytes does not fit the device", start, size)}
	}
	fs.superblock = sb

	if err := fs.createBitmap(); err != nil {
		return nil, &StepError{Step: StepBitmap, Err: err}
	}
	if err := fs.createRoot(); err != nil {
		return nil, &StepError{Step: StepRootDirectory, Err: err}
	}
	sb.fsckStat |= statFormatting
	sb.freeZones = fs.alloc.FreeZones()
	if err := fs.writeSuperblock(); err != nil {
		return nil, &StepError{Step: StepSuperblock, Err: err}
	}
	if err := fs.Flush(); err != nil {
		return nil, &StepError{Step: StepFlush, Err: err}
	}
	fs.log.WithFields(log.Fields{
		"zoneSize": sb.zoneSize,
		"zones":    sb.zoneCount,
		"inodes":   sb.inodeCount,
		"free":     sb.freeZones,
		"volume":   sb.volumeName,
	}).Debug("created filesystem")
	return fs, nil
}

// Geometry the layout Create gives a filesystem
type Geometry struct {
	ZoneSize uint32
	Zones    uint32
	Inodes   uint32
	// DataStart first zone available for content
	DataStart uint32
	// FreeZones zones left free once the root directory exists
	FreeZones uint32
}

// Plan computes the geometry Create would use for a partition of size bytes without touching
// any device
func Plan(size int64, p *Params) (*Geometry, error) {
	if p == nil {
		p = &Params{}
	}
	sb, err := newSuperblock(size, p)
	if err != nil {
		return nil, err
	}
	return &Geometry{
		ZoneSize:  sb.zoneSize,
		Zones:     sb.zoneCount,
		Inodes:    sb.inodeCount,
		DataStart: sb.dataStart(),
		FreeZones: sb.zoneCount - sb.dataStart() - 1,
	}, nil
}

// newSuperblock lays out a filesystem for a partition of size bytes
func newSuperblock(size int64, p *Params) (*superblock, error) {
	zoneSize := p.ZoneSize
	if zoneSize == 0 {
		zoneSize = DefaultZoneSize
	}
	if zoneSize < MinZoneSize || zoneSize > MaxZoneSize || zoneSize&(zoneSize-1) != 0 {
		return nil, fmt.Errorf("zone size %d must be a power of two between %d and %d", zoneSize, MinZoneSize, MaxZoneSize)
	}
	zones := size / int64(zoneSize)
	if zones > math.MaxUint32 {
		return nil, fmt.Errorf("partition of %d bytes needs more than %d zones of %d bytes, use a larger zone size", size, uint32(math.MaxUint32), zoneSize)
	}
	name := p.VolumeName
	if name == "" {
		name = DefaultVolumeName
	}
	if len(name) > maxVolumeNameLength {
		return nil, fmt.Errorf("volume name %q is longer than %d bytes", name, maxVolumeNameLength)
	}
	for i := 0; i < len(name); i++ {
		if !nameCharset.Contains(name[i]) {
			return nil, fmt.Errorf("volume name %q contains unsupported character %q", name, name[i])
		}
	}
	id := uuid.New()
	if p.UUID != nil {
		id = *p.UUID
	}
	created := p.Created
	if created.IsZero() {
		created = time.Now()
	}
	// stored with second resolution
	created = created.Truncate(time.Second)
	sb := &superblock{
		zoneSize:   zoneSize,
		zoneCount:  uint32(zones),
		root:       rootInode,
		volumeName: name,
		volumeID:   id,
		created:    created,
		modified:   created,
	}
	sb.bitmapStart = sb.superZone() + 1
	bitmapBytes := (uint64(sb.zoneCount) + 7) / 8
	sb.bitmapZones = uint32((bitmapBytes + uint64(zoneSize) - 1) / uint64(zoneSize))
	sb.inodeStart = sb.bitmapStart + sb.bitmapZones

	inodes := p.InodeCount
	if inodes == 0 {
		inodes = min(max(sb.zoneCount/16, minInodes), maxInodes)
	}
	perZone := sb.inodesPerZone()
	// slot 0 is never used
	sb.inodeZones = (inodes + 1 + perZone - 1) / perZone
	sb.inodeCount = sb.inodeZones * perZone
	if uint64(sb.dataStart())+1 > uint64(sb.zoneCount) {
		return nil, fmt.Errorf("partition of %d bytes is too small: metadata needs %d zones of %d bytes, only %d available",
			size, sb.dataStart()+1, zoneSize, sb.zoneCount)
	}
	return sb, nil
}

func (fs *FileSystem) createBitmap() error {
	sb := fs.superblock
	zoneSize := int64(sb.zoneSize)
	if err := fs.zeroZones(sb.superZone(), 1); err != nil {
		return fmt.Errorf("could not clear superblock zone: %w", err)
	}
	alloc, err := newAllocationMap(sb.zoneCount, int(int64(sb.bitmapZones)*zoneSize))
	if err != nil {
		return err
	}
	alloc.reserve(0, sb.dataStart())
	bits := alloc.bits.ToBytes()
	for off := int64(0); off < int64(len(bits)); off += maxTransfer {
		end := min(off+maxTransfer, int64(len(bits)))
		if err := fs.dev.Write(fs.zoneOffset(sb.bitmapStart)+off, bits[off:end]); err != nil {
			return fmt.Errorf("could not write bitmap: %w", err)
		}
		alloc.markFlushed(bits, int(off), int(end))
	}
	fs.alloc = alloc
	if err := fs.zeroZones(sb.inodeStart, sb.inodeZones); err != nil {
		return fmt.Errorf("could not clear inode table: %w", err)
	}
	fs.slots = util.NewBitmap(int((sb.inodeCount + 7) / 8))
	_ = fs.slots.Set(0)
	return nil
}

func (fs *FileSystem) createRoot() error {
	sb := fs.superblock
	slot, err := fs.allocateSlot()
	if err != nil {
		return err
	}
	if slot != sb.root {
		return fmt.Errorf("root directory allocated inode %d instead of %d", slot, sb.root)
	}
	zones, err := fs.alloc.Allocate(1)
	if err != nil {
		return err
	}
	if err := fs.writeEmptyDirectory(zones[0], slot, slot); err != nil {
		return err
	}
	root := newInode(slot, FileTypeDirectory, sb.created)
	if err := fs.setExtents(root, extentsFromUnits(zones), nil); err != nil {
		return err
	}
	root.Size = uint64(sb.zoneSize)
	return fs.writeInode(root)
}

func (fs *FileSystem) zeroZones(start, count uint32) error {
	zoneSize := int64(fs.superblock.zoneSize)
	perWrite := uint32(maxTransfer / zoneSize)
	zeros := make([]byte, int64(min(count, perWrite))*zoneSize)
	for done := uint32(0); done < count; {
		n := min(count-done, perWrite)
		if err := fs.dev.Write(fs.zoneOffset(start+done), zeros[:int64(n)*zoneSize]); err != nil {
			return err
		}
		done += n
	}
	return nil
}
