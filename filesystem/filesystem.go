// Package filesystem provides the interfaces common to file systems found inside PS2 partitions
package filesystem

import (
	"io"
	"os"
)

// Type represents the type of file system
type Type int

const (
	// TypePFS is the PlayStation File System used inside APA partitions
	TypePFS Type = iota
)

func (t Type) String() string {
	switch t {
	case TypePFS:
		return "pfs"
	default:
		return "unknown"
	}
}

// FileSystem is a reference to a single file system inside a partition
type FileSystem interface {
	// Type return the type of filesystem
	Type() Type
	// Label volume label of the filesystem
	Label() string
	// ReadDir read the contents of a directory
	ReadDir(path string) ([]os.FileInfo, error)
	// Stat the file or directory at path
	Stat(path string) (os.FileInfo, error)
	// Mkdir make a directory, including any missing parents
	Mkdir(path string) error
	// Open a file for reading
	Open(path string) (io.ReadCloser, error)
}
