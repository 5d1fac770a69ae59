// Package ps2hdd reads and writes PlayStation 2 hard drives.
//
// A drive holds an APA partition table, and most partitions hold a PFS filesystem. The
// functions here are the entry points used by front ends: list partitions and files, extract
// files to the host, write new files and format a blank drive. Each takes the device explicitly;
// mutating calls must not run concurrently on the same device.
//
// Open a device with backend.OpenFile, or use backend.NewMemory for an image held in memory:
//
//	dev, err := backend.OpenFile("/dev/sdb", true)
//	if err != nil {
//		return err
//	}
//	defer dev.Close()
//	parts, err := ps2hdd.ListPartitions(dev)
package ps2hdd

import (
	"errors"
	"fmt"
	"os"
	"path"

	log "github.com/sirupsen/logrus"

	"github.com/diskfs/go-ps2hdd/backend"
	"github.com/diskfs/go-ps2hdd/filesystem/pfs"
	"github.com/diskfs/go-ps2hdd/partition/apa"
)

// ErrNotPFS the partition holds something other than a PFS filesystem
var ErrNotPFS = errors.New("partition does not hold a PFS filesystem")

// ListPartitions the partitions of the device in table order, without the anchor
func ListPartitions(dev *backend.Device) ([]*apa.Partition, error) {
	t, err := apa.Read(dev)
	if err != nil {
		return nil, err
	}
	return t.Partitions, nil
}

// OpenFileSystem reads the filesystem of the partition with the given name or index
func OpenFileSystem(dev *backend.Device, partition string, logger *log.Entry) (*pfs.FileSystem, *apa.Partition, error) {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	t, err := apa.Read(dev)
	if err != nil {
		return nil, nil, err
	}
	p, err := t.Find(partition)
	if err != nil {
		return nil, nil, err
	}
	if p.Type != apa.TypePFS {
		return nil, nil, fmt.Errorf("%w: %q is %s", ErrNotPFS, p.Name, p.Type)
	}
	fs, err := pfs.ReadWithLogger(dev, p.GetStart(), p.GetSize(), logger.WithField("partition", p.Name))
	if err != nil {
		return nil, nil, fmt.Errorf("partition %q: %w", p.Name, err)
	}
	return fs, p, nil
}

// ListFiles the entries of the directory at p, in on-disk order without the self and parent
// entries. When p names a file, its own information is returned.
func ListFiles(dev *backend.Device, partition, p string) ([]os.FileInfo, error) {
	fs, _, err := OpenFileSystem(dev, partition, nil)
	if err != nil {
		return nil, err
	}
	fi, err := fs.Stat(p)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return []os.FileInfo{fi}, nil
	}
	return fs.ReadDir(p)
}

// Mkdir creates the directory at p and any missing parents
func Mkdir(dev *backend.Device, partition, p string) error {
	fs, _, err := OpenFileSystem(dev, partition, nil)
	if err != nil {
		return err
	}
	return fs.Mkdir(p)
}

func cleanPath(p string) string {
	return path.Clean("/" + p)
}
