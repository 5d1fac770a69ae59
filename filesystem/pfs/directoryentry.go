package pfs

import (
	"encoding/binary"
	"fmt"
)

const (
	dirEntryHeaderLength int    = 0x8
	dirBlockSize         int    = 512
	dirEntryLengthMask   uint16 = 0x0fff
	dirEntryTypeMask     uint16 = 0xf000
)

// directoryEntry is a single directory entry as stored in a dirent block
type directoryEntry struct {
	inode uint32
	sub   uint8
	// length of the record on disk, the last record of a block extends to the end of the block
	length   uint16
	filename string
	fileType FileType
}

// CalcSize the header length plus filename length rounded up to the nearest multiple of 4
func (de *directoryEntry) CalcSize() int {
	entryLength := len(de.filename) + dirEntryHeaderLength
	if leftover := entryLength % 4; leftover > 0 {
		entryLength += 4 - leftover
	}
	return entryLength
}

func (de *directoryEntry) toDirectoryEntry() *DirectoryEntry {
	return &DirectoryEntry{
		Name:  de.filename,
		Inode: de.inode,
		Type:  de.fileType,
	}
}

func (de *directoryEntry) UnmarshalPFS(b []byte) error {
	r := &recordReader{b: b}
	de.inode = r.uint32("inode")
	de.sub = r.uint8("sub-partition")
	nameLen := r.uint8("name length")
	aLen := r.uint16("record length")
	if r.err != nil {
		return r.err
	}
	de.length = aLen & dirEntryLengthMask
	de.fileType = FileType(aLen & dirEntryTypeMask)
	if dirEntryHeaderLength+int(nameLen) > int(de.length) {
		return fmt.Errorf("file name of %d bytes does not fit in entry of %d bytes", nameLen, de.length)
	}
	de.filename = r.string(int(nameLen), "file name")
	return r.err
}

func (de *directoryEntry) MarshalPFS(b []byte) error {
	if len(b) < de.CalcSize() {
		return fmt.Errorf("directory entry of bytes of length %d is too short for the calculated size %d", len(b), de.CalcSize())
	}
	if int(de.length) < de.CalcSize() || de.length > uint16(dirBlockSize) {
		return fmt.Errorf("the directory entry length %d is invalid for name %q", de.length, de.filename)
	}
	binary.LittleEndian.PutUint32(b[0x0:0x4], de.inode)
	b[0x4] = de.sub
	b[0x5] = uint8(len(de.filename))
	binary.LittleEndian.PutUint16(b[0x6:0x8], de.length|uint16(de.fileType))
	n := copy(b[0x8:], de.filename)
	clear(b[0x8+n : de.CalcSize()])
	return nil
}
