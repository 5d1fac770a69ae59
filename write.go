package ps2hdd

import (
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/diskfs/go-ps2hdd/backend"
	"github.com/diskfs/go-ps2hdd/filesystem/pfs"
)

// WriteOptions options for writing a file, the zero value is usable
type WriteOptions struct {
	// Created and Modified stamps for the new file, zero means now
	Created  time.Time
	Modified time.Time
	// Parents create missing directories on the way to the destination
	Parents bool
	Logger  *log.Entry
}

// WriteFile stores size bytes read from src as a new file at destName in the partition. The
// destination must not exist. On failure the filesystem is left as it was.
func WriteFile(dev *backend.Device, partition string, src io.Reader, size int64, destName string, opts *WriteOptions) (*pfs.Inode, error) {
	if opts == nil {
		opts = &WriteOptions{}
	}
	fs, _, err := OpenFileSystem(dev, partition, opts.Logger)
	if err != nil {
		return nil, err
	}
	times := &pfs.Times{
		Accessed: opts.Modified,
		Changed:  opts.Created,
		Modified: opts.Modified,
	}
	return fs.CreateFile(cleanPath(destName), src, size, times, opts.Parents)
}
