package pfs

import (
	"fmt"
	"io"
	"os"
	"path"
	"time"
)

// FileInfo describes a file or directory, implements os.FileInfo
type FileInfo struct {
	name  string
	inode *Inode
}

func (fi *FileInfo) Name() string {
	return fi.name
}

func (fi *FileInfo) Size() int64 {
	return int64(fi.inode.Size)
}

func (fi *FileInfo) Mode() os.FileMode {
	mode := os.FileMode(fi.inode.Mode & defaultPerm)
	switch fi.inode.Type() {
	case FileTypeDirectory:
		mode |= os.ModeDir
	case FileTypeSymlink:
		mode |= os.ModeSymlink
	}
	return mode
}

func (fi *FileInfo) ModTime() time.Time {
	return fi.inode.Modified
}

func (fi *FileInfo) IsDir() bool {
	return fi.inode.IsDir()
}

// Sys returns the *Inode
func (fi *FileInfo) Sys() interface{} {
	return fi.inode
}

// ReadDir return the contents of a given directory in a given filesystem.
//
// Returns a slice of os.FileInfo with all of the entries in the directory, excluding the self
// and parent entries.
func (fs *FileSystem) ReadDir(p string) ([]os.FileInfo, error) {
	dir, err := fs.ResolvePath(p)
	if err != nil {
		return nil, err
	}
	entries, err := fs.ListDirectory(dir)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		in, err := fs.ReadInode(e.Inode)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.Name, err)
		}
		infos = append(infos, &FileInfo{name: e.Name, inode: in})
	}
	return infos, nil
}

// Stat return the information about the file or directory at p
func (fs *FileSystem) Stat(p string) (os.FileInfo, error) {
	in, err := fs.ResolvePath(p)
	if err != nil {
		return nil, err
	}
	name := path.Base("/" + p)
	return &FileInfo{name: name, inode: in}, nil
}

// Open returns a reader over the content of the file at p. A read of truncated content ends with
// an error wrapping ErrTruncated after the readable prefix.
func (fs *FileSystem) Open(p string) (io.ReadCloser, error) {
	in, err := fs.ResolvePath(p)
	if err != nil {
		return nil, err
	}
	if in.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrIsDirectory, p)
	}
	pr, pw := io.Pipe()
	go func() {
		res, err := fs.CopyFile(pw, in)
		if err == nil && res.Truncated {
			err = res.Reason
		}
		pw.CloseWithError(err)
	}()
	return pr, nil
}
