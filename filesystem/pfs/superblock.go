package pfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-restruct/restruct"
	"github.com/google/uuid"

	"github.com/diskfs/go-ps2hdd/util"
)

const (
	superblockMagic   uint32 = 0x50465300
	superblockVersion uint32 = 3
	superblockModver  uint32 = 4
	superblockSize           = 512
	// partition-relative sectors of the primary superblock and its backup
	superblockSector       int64 = 8192
	superblockBackupSector int64 = 8193

	// statFormatting set while a filesystem is being created, cleared by the final flush
	statFormatting uint32 = 0x80000000
)

// blockInfo a zone reference as stored on disk
type blockInfo struct {
	Number  uint32
	Subpart uint16
	Count   uint16
}

// superblockRecord on-disk layout of the superblock
type superblockRecord struct {
	Magic       uint32
	Version     uint32
	Modver      uint32
	FsckStat    uint32
	ZoneSize    uint32
	NumSubs     uint32
	Log         blockInfo
	Root        blockInfo
	ZoneCount   uint32
	FreeZones   uint32
	BitmapStart uint32
	BitmapZones uint32
	InodeStart  uint32
	InodeZones  uint32
	InodeCount  uint32
	VolumeName  [32]byte
	VolumeID    [16]byte
	Created     util.PS2Time
	Modified    util.PS2Time
	Padding     [380]byte
}

// superblock the parsed superblock plus the geometry derived from it
type superblock struct {
	fsckStat    uint32
	zoneSize    uint32
	zoneCount   uint32
	freeZones   uint32
	bitmapStart uint32
	bitmapZones uint32
	inodeStart  uint32
	inodeZones  uint32
	inodeCount  uint32
	root        uint32
	volumeName  string
	volumeID    uuid.UUID
	created     time.Time
	modified    time.Time
}

func (sb *superblock) equal(o *superblock) bool {
	if sb == nil || o == nil {
		return sb == o
	}
	a, b := *sb, *o
	if !a.created.Equal(b.created) || !a.modified.Equal(b.modified) {
		return false
	}
	a.created, a.modified, b.created, b.modified = time.Time{}, time.Time{}, time.Time{}, time.Time{}
	return a == b
}

func (sb *superblock) zoneSectors() uint32 {
	return sb.zoneSize / 512
}

// superZone zone holding the superblock, every zone before it is reserved
func (sb *superblock) superZone() uint32 {
	return uint32(superblockSector) / sb.zoneSectors()
}

// dataStart first zone available for content
func (sb *superblock) dataStart() uint32 {
	return sb.inodeStart + sb.inodeZones
}

func (sb *superblock) inodesPerZone() uint32 {
	return sb.zoneSize / inodeSize
}

func superblockFromBytes(b []byte) (*superblock, error) {
	if len(b) < superblockSize {
		return nil, fmt.Errorf("superblock must be %d bytes, received %d", superblockSize, len(b))
	}
	rec := &superblockRecord{}
	if err := restruct.Unpack(b[:superblockSize], binary.LittleEndian, rec); err != nil {
		return nil, fmt.Errorf("could not decode superblock: %w", err)
	}
	if rec.Magic != superblockMagic {
		return nil, fmt.Errorf("bad superblock magic %#08x", rec.Magic)
	}
	if rec.Version != superblockVersion {
		return nil, fmt.Errorf("unsupported filesystem version %d", rec.Version)
	}
	id, _ := uuid.FromBytes(rec.VolumeID[:])
	sb := &superblock{
		fsckStat:    rec.FsckStat,
		zoneSize:    rec.ZoneSize,
		zoneCount:   rec.ZoneCount,
		freeZones:   rec.FreeZones,
		bitmapStart: rec.BitmapStart,
		bitmapZones: rec.BitmapZones,
		inodeStart:  rec.InodeStart,
		inodeZones:  rec.InodeZones,
		inodeCount:  rec.InodeCount,
		root:        rec.Root.Number,
		volumeName:  string(bytes.TrimRight(rec.VolumeName[:], "\x00")),
		volumeID:    id,
		created:     rec.Created.Time(),
		modified:    rec.Modified.Time(),
	}
	if err := sb.validate(); err != nil {
		return nil, err
	}
	return sb, nil
}

// validate the geometry is self consistent
func (sb *superblock) validate() error {
	switch {
	case sb.zoneSize < MinZoneSize || sb.zoneSize > MaxZoneSize || sb.zoneSize&(sb.zoneSize-1) != 0:
		return fmt.Errorf("invalid zone size %d", sb.zoneSize)
	case sb.bitmapStart != sb.superZone()+1:
		return fmt.Errorf("bitmap at zone %d, expected %d", sb.bitmapStart, sb.superZone()+1)
	case uint64(sb.bitmapZones)*uint64(sb.zoneSize)*8 < uint64(sb.zoneCount):
		return fmt.Errorf("%d bitmap zones cannot cover %d zones", sb.bitmapZones, sb.zoneCount)
	case sb.inodeStart != sb.bitmapStart+sb.bitmapZones:
		return fmt.Errorf("inode table at zone %d, expected %d", sb.inodeStart, sb.bitmapStart+sb.bitmapZones)
	case uint64(sb.inodeZones)*uint64(sb.inodesPerZone()) < uint64(sb.inodeCount):
		return fmt.Errorf("%d inode zones cannot hold %d inodes", sb.inodeZones, sb.inodeCount)
	case sb.dataStart() >= sb.zoneCount:
		return fmt.Errorf("metadata ends at zone %d, beyond %d zones", sb.dataStart(), sb.zoneCount)
	case sb.root == 0 || sb.root >= sb.inodeCount:
		return fmt.Errorf("root inode %d out of range", sb.root)
	case sb.freeZones > sb.zoneCount:
		return fmt.Errorf("free zones %d exceed zone count %d", sb.freeZones, sb.zoneCount)
	}
	return nil
}

func (sb *superblock) toBytes() ([]byte, error) {
	rec := &superblockRecord{
		Magic:       superblockMagic,
		Version:     superblockVersion,
		Modver:      superblockModver,
		FsckStat:    sb.fsckStat,
		ZoneSize:    sb.zoneSize,
		NumSubs:     0,
		Root:        blockInfo{Number: sb.root, Count: 1},
		ZoneCount:   sb.zoneCount,
		FreeZones:   sb.freeZones,
		BitmapStart: sb.bitmapStart,
		BitmapZones: sb.bitmapZones,
		InodeStart:  sb.inodeStart,
		InodeZones:  sb.inodeZones,
		InodeCount:  sb.inodeCount,
		Created:     util.PS2TimeFrom(sb.created),
		Modified:    util.PS2TimeFrom(sb.modified),
	}
	copy(rec.VolumeName[:], sb.volumeName)
	copy(rec.VolumeID[:], sb.volumeID[:])
	b, err := restruct.Pack(binary.LittleEndian, rec)
	if err != nil {
		return nil, fmt.Errorf("could not encode superblock: %w", err)
	}
	if len(b) != superblockSize {
		return nil, fmt.Errorf("encoded superblock is %d bytes instead of %d", len(b), superblockSize)
	}
	return b, nil
}
