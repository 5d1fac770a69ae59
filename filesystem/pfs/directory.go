package pfs

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// DirectoryEntry a single entry of a directory
type DirectoryEntry struct {
	Name  string
	Inode uint32
	Type  FileType
}

// IsDir whether the entry names a directory
func (e *DirectoryEntry) IsDir() bool {
	return e.Type == FileTypeDirectory
}

// readDirectory parses the entries of a directory inode along with its raw content. A damaged
// directory yields the entries found in the readable prefix and a truncated result.
func (fs *FileSystem) readDirectory(dir *Inode) (*directoryEntries, []byte, ReadResult, error) {
	if !dir.IsDir() {
		return nil, nil, ReadResult{}, fmt.Errorf("inode %d: %w", dir.Number, ErrNotADirectory)
	}
	var buf bytes.Buffer
	res, err := fs.copyContent(&buf, dir)
	if err != nil {
		return nil, nil, res, err
	}
	raw := buf.Bytes()
	entries := &directoryEntries{}
	if err := entries.UnmarshalPFS(raw); err != nil {
		return nil, nil, res, fmt.Errorf("directory inode %d: %w", dir.Number, err)
	}
	return entries, raw, res, nil
}

// ListDirectory the entries of a directory in on-disk order, including the self and parent entries
func (fs *FileSystem) ListDirectory(dir *Inode) ([]*DirectoryEntry, error) {
	entries, _, res, err := fs.readDirectory(dir)
	if err != nil {
		return nil, err
	}
	if res.Truncated {
		fs.log.WithFields(log.Fields{"inode": dir.Number, "reason": res.Reason}).Warn("listing damaged directory")
	}
	list := make([]*DirectoryEntry, 0, len(entries.entries))
	for _, de := range entries.entries {
		list = append(list, de.toDirectoryEntry())
	}
	return list, nil
}

// ResolvePath walks from the root directory to the inode named by p. Components are separated
// by "/" and matched exactly; empty components are ignored.
func (fs *FileSystem) ResolvePath(p string) (*Inode, error) {
	in, err := fs.Root()
	if err != nil {
		return nil, fmt.Errorf("could not read root directory: %w", err)
	}
	var walked []string
	for _, name := range splitPath(p) {
		if !in.IsDir() {
			return nil, fmt.Errorf("%w: /%s", ErrNotADirectory, strings.Join(walked, "/"))
		}
		entries, err := fs.ListDirectory(in)
		if err != nil {
			return nil, err
		}
		walked = append(walked, name)
		var found *DirectoryEntry
		for _, e := range entries {
			if e.Name == name {
				found = e
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("%w: /%s", ErrNotFound, strings.Join(walked, "/"))
		}
		if in, err = fs.ReadInode(found.Inode); err != nil {
			return nil, err
		}
	}
	return in, nil
}

// CreateEntry links inode child into directory parent under name. When the directory has no room
// left it grows by exactly one zone. The change is complete or, on error, the directory is unchanged.
func (fs *FileSystem) CreateEntry(parent *Inode, name string, child uint32, fileType FileType) error {
	if err := validateName(name); err != nil {
		return err
	}
	if !parent.IsDir() {
		return fmt.Errorf("inode %d: %w", parent.Number, ErrNotADirectory)
	}
	var committed bool
	err := fs.mutate(func() error {
		entries, raw, res, err := fs.readDirectory(parent)
		if err != nil {
			return err
		}
		if res.Truncated {
			return fmt.Errorf("cannot modify directory inode %d: %w", parent.Number, res.Reason)
		}
		if entries.find(name) != nil {
			return fmt.Errorf("%w: %s", ErrExist, name)
		}
		exts, segs, err := fs.contentExtents(parent)
		if err != nil {
			return err
		}
		entries.AddEntry(&directoryEntry{inode: child, filename: name, fileType: fileType})

		zoneSize := int(fs.superblock.zoneSize)
		oldCapacity := int(exts.zoneCount()) * zoneSize
		capacity := oldCapacity
		grown := entries.Size() > capacity
		if grown {
			zone, err := fs.alloc.Allocate(1)
			if err != nil {
				return err
			}
			exts = extentsFromUnits(append(exts.units(), zone[0]))
			if need := segmentsNeeded(len(exts)); need > len(segs) {
				more, err := fs.alloc.Allocate(uint32(need - len(segs)))
				if err != nil {
					return err
				}
				segs = append(segs, more...)
			}
			capacity += zoneSize
		}
		content := make([]byte, capacity)
		if err := entries.MarshalPFS(content); err != nil {
			return err
		}
		units := exts.units()
		writeBlock := func(offset int) error {
			zone := units[offset/zoneSize]
			at := fs.zoneOffset(zone) + int64(offset%zoneSize)
			if err := fs.dev.Write(at, content[offset:offset+dirBlockSize]); err != nil {
				return fmt.Errorf("could not write directory inode %d block at %d: %w", parent.Number, offset, err)
			}
			return nil
		}
		var changed []int
		for offset := 0; offset < oldCapacity; offset += dirBlockSize {
			if offset+dirBlockSize <= len(raw) && bytes.Equal(raw[offset:offset+dirBlockSize], content[offset:offset+dirBlockSize]) {
				continue
			}
			changed = append(changed, offset)
		}

		now := time.Now()
		if grown {
			// the new entry lives in the new zone, reachable only once the inode references it
			for offset := oldCapacity; offset < capacity; offset += dirBlockSize {
				if err := writeBlock(offset); err != nil {
					return err
				}
			}
			for _, offset := range changed {
				if err := writeBlock(offset); err != nil {
					return err
				}
			}
			if err := fs.Flush(); err != nil {
				return err
			}
			updated := *parent
			if err := fs.setExtents(&updated, exts, segs); err != nil {
				return err
			}
			updated.Size = uint64(capacity)
			updated.Modified, updated.Changed = now, now
			if err := fs.writeInode(&updated); err != nil {
				return err
			}
			*parent = updated
			committed = true
			return nil
		}

		if err := fs.Flush(); err != nil {
			return err
		}
		for _, offset := range changed {
			if err := writeBlock(offset); err != nil {
				return err
			}
		}
		committed = true
		parent.Modified, parent.Changed = now, now
		if err := fs.writeInode(parent); err != nil {
			fs.log.WithFields(log.Fields{"inode": parent.Number, "error": err}).Warn("entry linked but directory times not updated")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if committed {
		fs.log.WithFields(log.Fields{"parent": parent.Number, "name": name, "inode": child}).Debug("linked entry")
	}
	return nil
}

// makeDirectory creates an empty directory named name inside parent
func (fs *FileSystem) makeDirectory(parent *Inode, name string, times *Times) (*Inode, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	var in *Inode
	err := fs.mutate(func() error {
		slot, err := fs.allocateSlot()
		if err != nil {
			return err
		}
		zones, err := fs.alloc.Allocate(1)
		if err != nil {
			return err
		}
		in = newInode(slot, FileTypeDirectory, time.Now())
		times.apply(in)
		if err := fs.writeEmptyDirectory(zones[0], slot, parent.Number); err != nil {
			return err
		}
		if err := fs.setExtents(in, extentsFromUnits(zones), nil); err != nil {
			return err
		}
		in.Size = uint64(fs.superblock.zoneSize)
		return fs.commitInode(in)
	})
	if err != nil {
		return nil, err
	}
	if err := fs.CreateEntry(parent, name, in.Number, FileTypeDirectory); err != nil {
		if rerr := fs.Release(in); rerr != nil {
			fs.log.WithFields(log.Fields{"inode": in.Number, "error": rerr}).Warn("could not release unlinked directory")
		}
		return nil, err
	}
	return in, nil
}

// writeEmptyDirectory writes a zone holding only the self and parent entries
func (fs *FileSystem) writeEmptyDirectory(zone, self, parent uint32) error {
	entries := &directoryEntries{entries: []*directoryEntry{
		{inode: self, filename: ".", fileType: FileTypeDirectory},
		{inode: parent, filename: "..", fileType: FileTypeDirectory},
	}}
	b := make([]byte, fs.superblock.zoneSize)
	if err := entries.MarshalPFS(b); err != nil {
		return err
	}
	if err := fs.dev.Write(fs.zoneOffset(zone), b); err != nil {
		return fmt.Errorf("could not write directory content at zone %d: %w", zone, err)
	}
	return nil
}

// Mkdir make a directory at the given path. It is equivalent to `mkdir -p`: missing parents
// are created and an existing directory is not an error.
func (fs *FileSystem) Mkdir(p string) error {
	_, err := fs.mkdirAll(splitPath(p), nil)
	return err
}

func (fs *FileSystem) mkdirAll(names []string, times *Times) (*Inode, error) {
	dir, err := fs.Root()
	if err != nil {
		return nil, fmt.Errorf("could not read root directory: %w", err)
	}
	for i, name := range names {
		entries, err := fs.ListDirectory(dir)
		if err != nil {
			return nil, err
		}
		var found *DirectoryEntry
		for _, e := range entries {
			if e.Name == name {
				found = e
				break
			}
		}
		if found == nil {
			if dir, err = fs.makeDirectory(dir, name, times); err != nil {
				return nil, err
			}
			continue
		}
		if dir, err = fs.ReadInode(found.Inode); err != nil {
			return nil, err
		}
		if !dir.IsDir() {
			return nil, fmt.Errorf("%w: /%s", ErrNotADirectory, strings.Join(names[:i+1], "/"))
		}
	}
	return dir, nil
}

// CreateFile writes size bytes from r as a new file at path p. With parents set, missing
// directories on the way are created. On error nothing new remains allocated.
func (fs *FileSystem) CreateFile(p string, r io.Reader, size int64, times *Times, parents bool) (*Inode, error) {
	names := splitPath(p)
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidName)
	}
	name := names[len(names)-1]
	if err := validateName(name); err != nil {
		return nil, err
	}
	var (
		dir *Inode
		err error
	)
	if parents {
		dir, err = fs.mkdirAll(names[:len(names)-1], nil)
	} else {
		dir, err = fs.ResolvePath(strings.Join(names[:len(names)-1], "/"))
	}
	if err != nil {
		return nil, err
	}
	if !dir.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, p)
	}
	entries, err := fs.ListDirectory(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Name == name {
			return nil, fmt.Errorf("%w: %s", ErrExist, p)
		}
	}
	in, err := fs.WriteFile(r, size, times)
	if err != nil {
		return nil, err
	}
	if err := fs.CreateEntry(dir, name, in.Number, FileTypeRegular); err != nil {
		if rerr := fs.Release(in); rerr != nil {
			fs.log.WithFields(log.Fields{"inode": in.Number, "error": rerr}).Warn("could not release unlinked file")
		}
		return nil, err
	}
	return in, nil
}

func splitPath(p string) []string {
	var names []string
	for _, name := range strings.Split(p, "/") {
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
