package ps2hdd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/moby/sys/atomicwriter"
	"github.com/pkg/xattr"
	log "github.com/sirupsen/logrus"

	"github.com/diskfs/go-ps2hdd/filesystem/pfs"
)

// extended attributes recording the PFS metadata of extracted files
const (
	xattrMode = "user.ps2.mode"
	xattrAttr = "user.ps2.attr"
)

// DirSink extracts into a directory on the host. Each file appears atomically once complete,
// with the modification time of its inode. The PFS mode and attributes are kept in extended
// attributes where the host filesystem supports them.
type DirSink struct {
	Root   string
	Logger *log.Entry
}

// NewDirSink a sink writing below root, which is created if missing
func NewDirSink(root string) (*DirSink, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &DirSink{Root: root}, nil
}

func (s *DirSink) logger() *log.Entry {
	if s.Logger != nil {
		return s.Logger
	}
	return log.NewEntry(log.StandardLogger())
}

func (s *DirSink) path(name string) (string, error) {
	rel := filepath.FromSlash(name)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("refusing to extract %q outside %s", name, s.Root)
	}
	return filepath.Join(s.Root, rel), nil
}

// Mkdir creates the directory name below the root
func (s *DirSink) Mkdir(name string, info os.FileInfo) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return err
	}
	s.setMetadata(p, info)
	return nil
}

// Create opens the file name below the root for writing
func (s *DirSink) Create(name string, info os.FileInfo) (io.WriteCloser, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	w, err := atomicwriter.New(p, 0o644)
	if err != nil {
		return nil, err
	}
	return &sinkFile{WriteCloser: w, sink: s, path: p, info: info}, nil
}

// setMetadata applies times and extended attributes, failures are logged only
func (s *DirSink) setMetadata(p string, info os.FileInfo) {
	if mtime := info.ModTime(); !mtime.IsZero() {
		if err := os.Chtimes(p, mtime, mtime); err != nil {
			s.logger().WithFields(log.Fields{"path": p, "error": err}).Debug("could not set times")
		}
	}
	in, ok := info.Sys().(*pfs.Inode)
	if !ok {
		return
	}
	for name, value := range map[string]uint16{xattrMode: in.Mode, xattrAttr: in.Attr} {
		if err := xattr.Set(p, name, []byte(strconv.FormatUint(uint64(value), 8))); err != nil {
			s.logger().WithFields(log.Fields{"path": p, "attr": name, "error": err}).Debug("could not set extended attribute")
		}
	}
}

type sinkFile struct {
	io.WriteCloser
	sink *DirSink
	path string
	info os.FileInfo
}

func (f *sinkFile) Close() error {
	if err := f.WriteCloser.Close(); err != nil {
		return err
	}
	f.sink.setMetadata(f.path, f.info)
	return nil
}
