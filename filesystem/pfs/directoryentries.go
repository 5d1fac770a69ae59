package pfs

import (
	"encoding/binary"
	"fmt"
)

// directoryEntries the entries of one directory, packed into 512 byte dirent blocks. Entries never
// cross a block boundary; the last entry of each block is extended to fill it, and blocks without
// entries hold a single empty record spanning the block.
type directoryEntries struct {
	entries []*directoryEntry
}

// AddEntry adds the directory entry at the end
func (d *directoryEntries) AddEntry(entry *directoryEntry) {
	d.entries = append(d.entries, entry)
}

func (d *directoryEntries) find(name string) *directoryEntry {
	for _, de := range d.entries {
		if de.filename == name {
			return de
		}
	}
	return nil
}

// Size bytes of whole dirent blocks needed to hold the entries
func (d *directoryEntries) Size() int {
	var (
		size  int
		index int
	)
	for _, de := range d.entries {
		needed := de.CalcSize()
		if index+needed > dirBlockSize {
			size += dirBlockSize
			index = 0
		}
		index += needed
	}
	if index > 0 || size == 0 {
		size += dirBlockSize
	}
	return size
}

// MarshalPFS packs the entries into b, which must be a whole number of blocks at least Size long
func (d *directoryEntries) MarshalPFS(b []byte) error {
	if len(b)%dirBlockSize != 0 {
		return fmt.Errorf("directory content of %d bytes is not a whole number of %d byte blocks", len(b), dirBlockSize)
	}
	if need := d.Size(); len(b) < need {
		return fmt.Errorf("directory content of %d bytes cannot hold entries needing %d", len(b), need)
	}
	var (
		index       int
		blockOffset int
		last        *directoryEntry
		lastIndex   int
	)
	for _, de := range d.entries {
		needed := de.CalcSize()
		if index+needed > dirBlockSize {
			d.extendToBlockEnd(b, blockOffset, last, lastIndex)
			blockOffset += dirBlockSize
			index = 0
		}
		de.length = uint16(needed)
		if err := de.MarshalPFS(b[blockOffset+index : blockOffset+index+needed]); err != nil {
			return err
		}
		last, lastIndex = de, index
		index += needed
	}
	if last != nil {
		d.extendToBlockEnd(b, blockOffset, last, lastIndex)
		blockOffset += dirBlockSize
	}
	for ; blockOffset < len(b); blockOffset += dirBlockSize {
		emptyBlock(b[blockOffset : blockOffset+dirBlockSize])
	}
	return nil
}

func (d *directoryEntries) extendToBlockEnd(b []byte, blockOffset int, entry *directoryEntry, index int) {
	if entry == nil {
		return
	}
	entry.length = uint16(dirBlockSize - index)
	start := blockOffset + index
	binary.LittleEndian.PutUint16(b[start+0x6:start+0x8], entry.length|uint16(entry.fileType))
	clear(b[start+entry.CalcSize() : blockOffset+dirBlockSize])
}

// emptyBlock a block holding no entries
func emptyBlock(b []byte) {
	clear(b)
	binary.LittleEndian.PutUint16(b[0x6:0x8], uint16(dirBlockSize))
}

// UnmarshalPFS reads entries until a record of length 0 or the end of b. Empty records are skipped.
func (d *directoryEntries) UnmarshalPFS(b []byte) error {
	d.entries = make([]*directoryEntry, 0, 4)
	for blockOffset := 0; blockOffset+dirBlockSize <= len(b); blockOffset += dirBlockSize {
		block := b[blockOffset : blockOffset+dirBlockSize]
		for i := 0; i < dirBlockSize; {
			if i+dirEntryHeaderLength > dirBlockSize {
				return fmt.Errorf("%w: directory entry header at %d crosses block end", ErrCorrupt, blockOffset+i)
			}
			length := int(binary.LittleEndian.Uint16(block[i+0x6:]) & dirEntryLengthMask)
			if length == 0 {
				return nil
			}
			if length < dirEntryHeaderLength || length%4 != 0 || i+length > dirBlockSize {
				return fmt.Errorf("%w: directory entry at %d has invalid length %d", ErrCorrupt, blockOffset+i, length)
			}
			entry := &directoryEntry{}
			if err := entry.UnmarshalPFS(block[i : i+length]); err != nil {
				return fmt.Errorf("%w: failed to parse directory entry at %d: %v", ErrCorrupt, blockOffset+i, err)
			}
			if entry.inode != 0 {
				d.entries = append(d.entries, entry)
			}
			i += length
		}
	}
	return nil
}
