package pfs

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-restruct/restruct"
	log "github.com/sirupsen/logrus"

	"github.com/diskfs/go-ps2hdd/util"
)

const (
	inodeSize = 1024
	// inodeMagic "SEGD", an inode record
	inodeMagic uint32 = 0x53454744
	// segmentMagic "SEGI", an indirect segment continuing an inode's extent list
	segmentMagic uint32 = 0x53454749
	// directExtents extents held by each inode or segment record
	directExtents = 114
	rootInode     uint32 = 1

	modeTypeMask uint16 = 0xf000
	defaultPerm  uint16 = 0x01ff
)

// FileType the type bits of an inode mode, also recorded in directory entries
type FileType uint16

const (
	FileTypeDirectory FileType = 0x1000
	FileTypeRegular   FileType = 0x2000
	FileTypeSymlink   FileType = 0x4000
)

func (t FileType) String() string {
	switch t {
	case FileTypeDirectory:
		return "directory"
	case FileTypeRegular:
		return "file"
	case FileTypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// inodeRecord on-disk layout shared by inodes and indirect segments
type inodeRecord struct {
	Checksum     uint32
	Magic        uint32
	Self         blockInfo
	NextSegment  blockInfo
	LastSegment  blockInfo
	Unused       blockInfo
	Data         [directExtents]blockInfo
	Mode         uint16
	Attr         uint16
	UID          uint16
	GID          uint16
	Accessed     util.PS2Time
	Changed      util.PS2Time
	Modified     util.PS2Time
	Size         uint64
	Blocks       uint32
	DataCount    uint32
	SegmentCount uint32
	Subpart      uint32
	Reserved     [4]uint32
}

var appendRecordChecksum = recordChecksumAppender(wordSum)

// Inode the metadata of a single file or directory
type Inode struct {
	Number   uint32
	Mode     uint16
	Attr     uint16
	UID      uint16
	GID      uint16
	Size     uint64
	Accessed time.Time
	Changed  time.Time
	Modified time.Time

	blocks       uint32
	dataCount    uint32
	segmentCount uint32
	direct       extents
	nextSegment  uint32
	lastSegment  uint32
}

// Type the file type of the inode
func (i *Inode) Type() FileType {
	return FileType(i.Mode & modeTypeMask)
}

// IsDir whether the inode is a directory
func (i *Inode) IsDir() bool {
	return i.Type() == FileTypeDirectory
}

// Zones number of content zones the inode references
func (i *Inode) Zones() uint32 {
	return i.blocks
}

func newInode(number uint32, fileType FileType, t time.Time) *Inode {
	return &Inode{
		Number:       number,
		Mode:         uint16(fileType) | defaultPerm,
		Accessed:     t,
		Changed:      t,
		Modified:     t,
		segmentCount: 1,
	}
}

func recordFromBytes(b []byte, magic uint32) (*inodeRecord, error) {
	if len(b) < inodeSize {
		return nil, fmt.Errorf("%w: record must be %d bytes, received %d", ErrCorrupt, inodeSize, len(b))
	}
	rec := &inodeRecord{}
	if err := restruct.Unpack(b[:inodeSize], binary.LittleEndian, rec); err != nil {
		return nil, fmt.Errorf("%w: could not decode record: %v", ErrCorrupt, err)
	}
	if rec.Magic != magic {
		return nil, fmt.Errorf("%w: bad record magic %#08x, expected %#08x", ErrCorrupt, rec.Magic, magic)
	}
	if !validRecordChecksum(b[:inodeSize], wordSum) {
		return nil, fmt.Errorf("%w: record checksum mismatch", ErrCorrupt)
	}
	return rec, nil
}

func (rec *inodeRecord) toBytes() ([]byte, error) {
	rec.Checksum = 0
	b, err := restruct.Pack(binary.LittleEndian, rec)
	if err != nil {
		return nil, fmt.Errorf("could not encode record: %w", err)
	}
	if len(b) != inodeSize {
		return nil, fmt.Errorf("encoded record is %d bytes instead of %d", len(b), inodeSize)
	}
	appendRecordChecksum(b)
	rec.Checksum = binary.LittleEndian.Uint32(b[0:4])
	return b, nil
}

func inodeFromBytes(b []byte, number uint32) (*Inode, error) {
	rec, err := recordFromBytes(b, inodeMagic)
	if err != nil {
		return nil, fmt.Errorf("inode %d: %w", number, err)
	}
	if rec.Self.Number != number {
		return nil, fmt.Errorf("%w: inode %d records itself as %d", ErrCorrupt, number, rec.Self.Number)
	}
	in := &Inode{
		Number:       number,
		Mode:         rec.Mode,
		Attr:         rec.Attr,
		UID:          rec.UID,
		GID:          rec.GID,
		Size:         rec.Size,
		Accessed:     rec.Accessed.Time(),
		Changed:      rec.Changed.Time(),
		Modified:     rec.Modified.Time(),
		blocks:       rec.Blocks,
		dataCount:    rec.DataCount,
		segmentCount: rec.SegmentCount,
		nextSegment:  rec.NextSegment.Number,
		lastSegment:  rec.LastSegment.Number,
	}
	direct := rec.DataCount
	if direct > directExtents {
		direct = directExtents
	}
	in.direct = make(extents, 0, direct)
	for _, bi := range rec.Data[:direct] {
		in.direct = append(in.direct, extentFromBlockInfo(bi))
	}
	return in, nil
}

func (i *Inode) toBytes() ([]byte, error) {
	rec := &inodeRecord{
		Magic:        inodeMagic,
		Self:         blockInfo{Number: i.Number, Count: 1},
		Mode:         i.Mode,
		Attr:         i.Attr,
		UID:          i.UID,
		GID:          i.GID,
		Accessed:     util.PS2TimeFrom(i.Accessed),
		Changed:      util.PS2TimeFrom(i.Changed),
		Modified:     util.PS2TimeFrom(i.Modified),
		Size:         i.Size,
		Blocks:       i.blocks,
		DataCount:    i.dataCount,
		SegmentCount: i.segmentCount,
	}
	if i.nextSegment != 0 {
		rec.NextSegment = blockInfo{Number: i.nextSegment, Count: 1}
		rec.LastSegment = blockInfo{Number: i.lastSegment, Count: 1}
	}
	for j, e := range i.direct {
		rec.Data[j] = e.toBlockInfo()
	}
	return rec.toBytes()
}

// ReadInode reads inode number from the inode table
func (fs *FileSystem) ReadInode(number uint32) (*Inode, error) {
	if number == 0 || number >= fs.superblock.inodeCount {
		return nil, fmt.Errorf("%w: inode %d out of range", ErrCorrupt, number)
	}
	b, err := fs.dev.Read(fs.inodeOffset(number), inodeSize)
	if err != nil {
		return nil, fmt.Errorf("could not read inode %d: %w", number, err)
	}
	return inodeFromBytes(b, number)
}

// writeInode write a single inode to disk
func (fs *FileSystem) writeInode(in *Inode) error {
	b, err := in.toBytes()
	if err != nil {
		return fmt.Errorf("inode %d: %w", in.Number, err)
	}
	if err := fs.dev.Write(fs.inodeOffset(in.Number), b); err != nil {
		return fmt.Errorf("could not write inode %d: %w", in.Number, err)
	}
	return nil
}

// commitInode writes a new inode and flushes the allocation state. When the flush fails the
// record is cleared again, otherwise the next slot scan would count it as used.
func (fs *FileSystem) commitInode(in *Inode) error {
	if err := fs.writeInode(in); err != nil {
		return err
	}
	if err := fs.Flush(); err != nil {
		if cerr := fs.clearInode(in.Number); cerr != nil {
			fs.log.WithFields(log.Fields{"inode": in.Number, "error": cerr}).Warn("could not clear inode after failed flush")
		}
		return err
	}
	return nil
}

func (fs *FileSystem) clearInode(number uint32) error {
	if err := fs.dev.Write(fs.inodeOffset(number), make([]byte, inodeSize)); err != nil {
		return fmt.Errorf("could not clear inode %d: %w", number, err)
	}
	return nil
}

func (fs *FileSystem) inodeOffset(number uint32) int64 {
	return fs.zoneOffset(fs.superblock.inodeStart) + int64(number)*inodeSize
}

// loadSlots scans the inode table for slots holding an inode
func (fs *FileSystem) loadSlots() error {
	if fs.slots != nil {
		return nil
	}
	sb := fs.superblock
	slots := util.NewBitmap(int((sb.inodeCount + 7) / 8))
	_ = slots.Set(0)
	perZone := sb.inodesPerZone()
	for z := uint32(0); z < sb.inodeZones; z++ {
		b, err := fs.dev.Read(fs.zoneOffset(sb.inodeStart+z), int64(sb.zoneSize))
		if err != nil {
			return fmt.Errorf("could not read inode table zone %d: %w", z, err)
		}
		for s := uint32(0); s < perZone; s++ {
			number := z*perZone + s
			if number >= sb.inodeCount {
				break
			}
			if binary.LittleEndian.Uint32(b[s*inodeSize+4:]) != 0 {
				_ = slots.Set(int(number))
			}
		}
	}
	for i := int(sb.inodeCount); i < slots.Len(); i++ {
		_ = slots.Set(i)
	}
	fs.slots = slots
	return nil
}

// allocateSlot reserves a free inode slot in memory
func (fs *FileSystem) allocateSlot() (uint32, error) {
	if err := fs.loadSlots(); err != nil {
		return 0, err
	}
	free := fs.slots.FirstFree(1)
	if free < 0 {
		return 0, fmt.Errorf("%w: no free inodes", ErrOutOfSpace)
	}
	_ = fs.slots.Set(free)
	return uint32(free), nil
}

// FreeInodes number of unused inode slots
func (fs *FileSystem) FreeInodes() (uint32, error) {
	if err := fs.loadSlots(); err != nil {
		return 0, err
	}
	return uint32(fs.slots.CountFree(int(fs.superblock.inodeCount))), nil
}
