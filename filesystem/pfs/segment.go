package pfs

import (
	"errors"
	"fmt"
)

// segmentsNeeded number of indirect segments required to hold extentCount extents
func segmentsNeeded(extentCount int) int {
	if extentCount <= directExtents {
		return 0
	}
	return (extentCount - directExtents + directExtents - 1) / directExtents
}

// contentExtents all extents of an inode, in file order, following the indirect segment chain,
// along with the zones holding that chain. When the chain cannot be followed the extents found
// so far are returned with an error wrapping ErrTruncated. Device failures are returned as is.
func (fs *FileSystem) contentExtents(in *Inode) (extents, []uint32, error) {
	exts := make(extents, 0, extentsHint(in, fs.superblock.zoneCount))
	exts = append(exts, in.direct...)
	var (
		segs []uint32
		next = in.nextSegment
	)
	for remaining := int(in.dataCount) - len(exts); remaining > 0; {
		switch {
		case next == 0:
			return exts, segs, fmt.Errorf("%w: inode %d segment chain ends with %d extents missing", ErrTruncated, in.Number, remaining)
		case len(segs)+1 >= int(in.segmentCount) || len(segs) >= int(fs.superblock.zoneCount):
			return exts, segs, fmt.Errorf("%w: inode %d segment chain is longer than recorded", ErrTruncated, in.Number)
		case !fs.validZone(next):
			return exts, segs, fmt.Errorf("%w: inode %d segment at zone %d is outside the partition", ErrTruncated, in.Number, next)
		}
		b, err := fs.dev.Read(fs.zoneOffset(next), inodeSize)
		if err != nil {
			return exts, segs, fmt.Errorf("could not read segment at zone %d: %w", next, err)
		}
		rec, err := recordFromBytes(b, segmentMagic)
		if err == nil && rec.Self.Number != next {
			err = fmt.Errorf("%w: segment at zone %d records itself as %d", ErrCorrupt, next, rec.Self.Number)
		}
		if err != nil {
			return exts, segs, fmt.Errorf("%w: inode %d: %w", ErrTruncated, in.Number, err)
		}
		take := remaining
		if take > directExtents {
			take = directExtents
		}
		for _, bi := range rec.Data[:take] {
			exts = append(exts, extentFromBlockInfo(bi))
		}
		remaining -= take
		segs = append(segs, next)
		next = rec.NextSegment.Number
	}
	return exts, segs, nil
}

// extentsHint capacity for the extent list of in. The recorded counts are not trusted beyond
// what the segment chain of the partition could possibly hold.
func extentsHint(in *Inode, zones uint32) int {
	segs := uint64(in.segmentCount)
	if segs > uint64(zones) {
		segs = uint64(zones)
	}
	hint := uint64(in.dataCount)
	if limit := segs * directExtents; hint > limit {
		hint = limit
	}
	if hint < directExtents {
		hint = directExtents
	}
	return int(hint)
}

// UnitsOf every content zone of an inode in file order. The list is incomplete, with an error
// wrapping ErrTruncated, if the indirect segment chain is damaged.
func (fs *FileSystem) UnitsOf(in *Inode) ([]uint32, error) {
	exts, _, err := fs.contentExtents(in)
	return exts.units(), err
}

// setExtents stores exts in the inode, writing whatever does not fit into the indirect segments
// held by the zones segs. The inode itself is not written.
func (fs *FileSystem) setExtents(in *Inode, exts extents, segs []uint32) error {
	if need := segmentsNeeded(len(exts)); need != len(segs) {
		return fmt.Errorf("%d extents need %d segments, given %d", len(exts), need, len(segs))
	}
	direct := len(exts)
	if direct > directExtents {
		direct = directExtents
	}
	rest := exts[direct:]
	for i, zone := range segs {
		rec := &inodeRecord{
			Magic: segmentMagic,
			Self:  blockInfo{Number: zone, Count: 1},
		}
		if i+1 < len(segs) {
			rec.NextSegment = blockInfo{Number: segs[i+1], Count: 1}
		}
		chunk := rest
		if len(chunk) > directExtents {
			chunk = chunk[:directExtents]
		}
		for j, e := range chunk {
			rec.Data[j] = e.toBlockInfo()
		}
		rest = rest[len(chunk):]
		b, err := rec.toBytes()
		if err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
		zoneBytes := make([]byte, fs.superblock.zoneSize)
		copy(zoneBytes, b)
		if err := fs.dev.Write(fs.zoneOffset(zone), zoneBytes); err != nil {
			return fmt.Errorf("could not write segment %d at zone %d: %w", i, zone, err)
		}
	}
	in.direct = append(extents(nil), exts[:direct]...)
	in.dataCount = uint32(len(exts))
	in.blocks = uint32(exts.zoneCount())
	in.segmentCount = uint32(1 + len(segs))
	in.nextSegment, in.lastSegment = 0, 0
	if len(segs) > 0 {
		in.nextSegment = segs[0]
		in.lastSegment = segs[len(segs)-1]
	}
	return nil
}

func isTruncated(err error) bool {
	return errors.Is(err, ErrTruncated)
}
