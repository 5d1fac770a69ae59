package pfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
)

// preallocate at most this much when buffering a whole file
const maxReadBuffer = 64 * 1024 * 1024

// ReadResult outcome of reading the content of an inode
type ReadResult struct {
	// Bytes produced
	Bytes int64
	// Truncated the content ended before the size recorded in the inode
	Truncated bool
	// Reason why the content was truncated, wraps ErrTruncated
	Reason error
}

// Times timestamps for a new inode, zero values mean now
type Times struct {
	Accessed time.Time
	Changed  time.Time
	Modified time.Time
}

func (t *Times) apply(in *Inode) {
	if t == nil {
		return
	}
	if !t.Accessed.IsZero() {
		in.Accessed = t.Accessed
	}
	if !t.Changed.IsZero() {
		in.Changed = t.Changed
	}
	if !t.Modified.IsZero() {
		in.Modified = t.Modified
	}
}

// ReadFile returns the content of a regular file. Zones outside the partition end the content
// early: the bytes before them are returned and the result is marked truncated.
func (fs *FileSystem) ReadFile(in *Inode) ([]byte, ReadResult, error) {
	var buf bytes.Buffer
	if in.Size < maxReadBuffer {
		buf.Grow(int(in.Size))
	}
	res, err := fs.CopyFile(&buf, in)
	if err != nil {
		return nil, res, err
	}
	return buf.Bytes(), res, nil
}

// CopyFile streams the content of a regular file to w, truncating as ReadFile does
func (fs *FileSystem) CopyFile(w io.Writer, in *Inode) (ReadResult, error) {
	if in.IsDir() {
		return ReadResult{}, fmt.Errorf("inode %d: %w", in.Number, ErrIsDirectory)
	}
	return fs.copyContent(w, in)
}

func (fs *FileSystem) copyContent(w io.Writer, in *Inode) (ReadResult, error) {
	var res ReadResult
	exts, _, chainErr := fs.contentExtents(in)
	if chainErr != nil && !isTruncated(chainErr) {
		return res, chainErr
	}
	var (
		zoneSize  = int64(fs.superblock.zoneSize)
		remaining = int64(in.Size)
		perRead   = uint32(maxTransfer / zoneSize)
		buf       []byte
	)
	for _, e := range exts {
		if remaining == 0 {
			break
		}
		valid := fs.validZones(e)
		for done := uint32(0); done < valid && remaining > 0; {
			n := valid - done
			if n > perRead {
				n = perRead
			}
			want := int64(n) * zoneSize
			// only read the sectors that hold the rest of the file
			if rounded := roundUp(remaining, 512); want > rounded {
				want = rounded
			}
			if int64(len(buf)) < want {
				buf = make([]byte, want)
			}
			chunk := buf[:want]
			if err := fs.dev.ReadInto(chunk, fs.zoneOffset(e.startingZone+done)); err != nil {
				return res, fmt.Errorf("could not read inode %d content at zone %d: %w", in.Number, e.startingZone+done, err)
			}
			out := want
			if out > remaining {
				out = remaining
			}
			if _, err := w.Write(chunk[:out]); err != nil {
				return res, err
			}
			res.Bytes += out
			remaining -= out
			done += n
		}
		if valid < uint32(e.count) && remaining > 0 {
			res.Truncated = true
			res.Reason = fmt.Errorf("%w: inode %d references zone %d outside the partition", ErrTruncated, in.Number, e.startingZone+valid)
			break
		}
	}
	if remaining > 0 && !res.Truncated {
		res.Truncated = true
		res.Reason = chainErr
		if res.Reason == nil {
			res.Reason = fmt.Errorf("%w: inode %d content ends %d bytes short of its size", ErrTruncated, in.Number, remaining)
		}
	}
	if res.Truncated {
		fs.log.WithFields(log.Fields{"inode": in.Number, "size": in.Size, "read": res.Bytes}).Warn("content truncated")
	}
	return res, nil
}

// validZones how many zones from the start of the extent are inside the content area
func (fs *FileSystem) validZones(e extent) uint32 {
	if !fs.validZone(e.startingZone) {
		return 0
	}
	if e.end() > uint64(fs.superblock.zoneCount) {
		return fs.superblock.zoneCount - e.startingZone
	}
	return uint32(e.count)
}

// WriteFile stores size bytes read from r as a new regular file inode. The zones and the inode
// are marked used and flushed, but the inode is not linked into any directory; use CreateEntry.
func (fs *FileSystem) WriteFile(r io.Reader, size int64, times *Times) (*Inode, error) {
	if size < 0 {
		return nil, fmt.Errorf("invalid file size %d", size)
	}
	zones := (uint64(size) + uint64(fs.superblock.zoneSize) - 1) / uint64(fs.superblock.zoneSize)
	if zones > math.MaxUint32 {
		return nil, fmt.Errorf("%w: file of %d bytes", ErrOutOfSpace, size)
	}
	var in *Inode
	err := fs.mutate(func() error {
		slot, err := fs.allocateSlot()
		if err != nil {
			return err
		}
		units, err := fs.alloc.Allocate(uint32(zones))
		if err != nil {
			return err
		}
		exts := extentsFromUnits(units)
		segs, err := fs.alloc.Allocate(uint32(segmentsNeeded(len(exts))))
		if err != nil {
			return err
		}
		if err := fs.writeContent(r, size, exts); err != nil {
			return err
		}
		in = newInode(slot, FileTypeRegular, time.Now())
		times.apply(in)
		in.Size = uint64(size)
		if err := fs.setExtents(in, exts, segs); err != nil {
			return err
		}
		return fs.commitInode(in)
	})
	if err != nil {
		return nil, err
	}
	fs.log.WithFields(log.Fields{"inode": in.Number, "size": size, "zones": zones, "extents": in.dataCount}).Debug("wrote file")
	return in, nil
}

// writeContent fills the zones of exts with size bytes from r, padding the last zone with zeros
func (fs *FileSystem) writeContent(r io.Reader, size int64, exts extents) error {
	var (
		zoneSize  = int64(fs.superblock.zoneSize)
		perWrite  = uint32(maxTransfer / zoneSize)
		remaining = size
		buf       []byte
	)
	for _, e := range exts {
		for done := uint32(0); done < uint32(e.count); {
			n := uint32(e.count) - done
			if n > perWrite {
				n = perWrite
			}
			length := int64(n) * zoneSize
			if int64(len(buf)) < length {
				buf = make([]byte, length)
			}
			chunk := buf[:length]
			want := length
			if want > remaining {
				want = remaining
			}
			read, err := io.ReadFull(r, chunk[:want])
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					return fmt.Errorf("source ended after %d of %d bytes: %w", size-remaining+int64(read), size, io.ErrUnexpectedEOF)
				}
				return fmt.Errorf("could not read source: %w", err)
			}
			clear(chunk[want:])
			if err := fs.dev.Write(fs.zoneOffset(e.startingZone+done), chunk); err != nil {
				return fmt.Errorf("could not write content at zone %d: %w", e.startingZone+done, err)
			}
			remaining -= want
			done += n
		}
	}
	return nil
}

// Release frees the zones and inode slot of an inode that is not linked into any directory
func (fs *FileSystem) Release(in *Inode) error {
	exts, segs, err := fs.contentExtents(in)
	if err != nil {
		return fmt.Errorf("cannot release inode %d: %w", in.Number, err)
	}
	return fs.mutate(func() error {
		if err := fs.loadSlots(); err != nil {
			return err
		}
		if err := fs.alloc.Free(append(exts.units(), segs...)); err != nil {
			return fmt.Errorf("%w: inode %d: %v", ErrCorrupt, in.Number, err)
		}
		if err := fs.slots.Clear(int(in.Number)); err != nil {
			return err
		}
		if err := fs.clearInode(in.Number); err != nil {
			return err
		}
		return fs.Flush()
	})
}

func roundUp(n, to int64) int64 {
	return (n + to - 1) / to * to
}
