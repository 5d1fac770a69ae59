// Package source opens host files to be written onto a PS2 drive, unpacking archives and
// compressed images on the way so the size of the content is known before it is written.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/djherbis/times"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	log "github.com/sirupsen/logrus"
)

// Compression how the content of a source file is packed
type Compression int

const (
	None Compression = iota
	Zip
	Gzip
	Zstd
	Xz
	Lzma
	Lz4
)

var (
	// ErrNoImage a zip archive holds no entry that could be written
	ErrNoImage = errors.New("archive holds no disc image")
	// ErrUnsupported the compression cannot be read on this platform
	ErrUnsupported = errors.New("unsupported compression")
)

var extensions = map[string]Compression{
	".zip":  Zip,
	".gz":   Gzip,
	".zst":  Zstd,
	".xz":   Xz,
	".lzma": Lzma,
	".lz4":  Lz4,
}

// imageExtensions entries preferred when picking from an archive
var imageExtensions = []string{".iso", ".bin"}

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Zip:
		return "zip"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case Xz:
		return "xz"
	case Lzma:
		return "lzma"
	case Lz4:
		return "lz4"
	}
	return fmt.Sprintf("unknown(%d)", int(c))
}

// Detect the compression of a file from its name
func Detect(name string) Compression {
	if c, ok := extensions[strings.ToLower(filepath.Ext(name))]; ok {
		return c
	}
	return None
}

// Source content ready to be written, with its size and timestamps
type Source struct {
	// Name base name of the unpacked content
	Name        string
	Size        int64
	Created     time.Time
	Modified    time.Time
	Compression Compression

	r       io.Reader
	closers []func() error
}

// Read reads the unpacked content
func (s *Source) Read(b []byte) (int, error) {
	return s.r.Read(b)
}

// Close releases the source and removes any temporary file
func (s *Source) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Open opens the file at p. Zip archives yield their first .iso or .bin entry, or their only
// entry. Compressed streams are unpacked into a temporary file so their size is known.
func Open(p string) (*Source, error) {
	return OpenWithLogger(p, nil)
}

// OpenWithLogger is Open, logging through logger
func OpenWithLogger(p string, logger *log.Entry) (*Source, error) {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	logger = logger.WithFields(log.Fields{"component": "source", "path": p})
	ts, err := times.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("could not stat %s: %w", p, err)
	}
	created := ts.ModTime()
	if ts.HasBirthTime() {
		created = ts.BirthTime()
	}
	compression := Detect(p)
	if compression == Zip {
		return openZip(p, logger)
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", p, err)
	}
	s := &Source{
		Name:        filepath.Base(p),
		Created:     created,
		Modified:    ts.ModTime(),
		Compression: compression,
		closers:     []func() error{f.Close},
	}
	if compression == None {
		fi, err := f.Stat()
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("could not stat %s: %w", p, err)
		}
		s.Size = fi.Size()
		s.r = f
		return s, nil
	}

	s.Name = strings.TrimSuffix(s.Name, filepath.Ext(s.Name))
	r, closer, err := decompressor(compression, f)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("could not read %s as %s: %w", p, compression, err)
	}
	if closer != nil {
		s.closers = append(s.closers, closer)
	}
	if err := s.spool(r); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("could not unpack %s: %w", p, err)
	}
	logger.WithFields(log.Fields{"compression": compression, "size": s.Size}).Debug("unpacked source")
	return s, nil
}

// spool copies r into a temporary file and reads from that instead
func (s *Source) spool(r io.Reader) error {
	tmp, err := os.CreateTemp("", "ps2hdd-*")
	if err != nil {
		return err
	}
	s.closers = append(s.closers, func() error {
		cerr := tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil {
			return err
		}
		return cerr
	})
	n, err := io.Copy(tmp, r)
	if err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	s.Size = n
	s.r = tmp
	return nil
}

func decompressor(c Compression, r io.Reader) (io.Reader, func() error, error) {
	switch c {
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() error {
			zr.Close()
			return nil
		}, nil
	case Lz4:
		return lz4.NewReader(r), nil, nil
	case Xz:
		zr, err := xzReader(r)
		return zr, nil, err
	case Lzma:
		zr, err := lzmaReader(r)
		return zr, nil, err
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnsupported, c)
}

func openZip(p string, logger *log.Entry) (*Source, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("could not open archive %s: %w", p, err)
	}
	entry, err := pickEntry(zr.File)
	if err != nil {
		_ = zr.Close()
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	rc, err := entry.Open()
	if err != nil {
		_ = zr.Close()
		return nil, fmt.Errorf("could not open %s in %s: %w", entry.Name, p, err)
	}
	logger.WithFields(log.Fields{"entry": entry.Name, "size": entry.UncompressedSize64}).Debug("using archive entry")
	return &Source{
		Name:        filepath.Base(filepath.FromSlash(entry.Name)),
		Size:        int64(entry.UncompressedSize64),
		Created:     entry.Modified,
		Modified:    entry.Modified,
		Compression: Zip,
		r:           rc,
		closers:     []func() error{zr.Close, rc.Close},
	}, nil
}

// pickEntry the first disc image in the archive, or its only file
func pickEntry(files []*zip.File) (*zip.File, error) {
	var regular []*zip.File
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		regular = append(regular, f)
	}
	for _, f := range regular {
		ext := strings.ToLower(filepath.Ext(f.Name))
		for _, want := range imageExtensions {
			if ext == want {
				return f, nil
			}
		}
	}
	if len(regular) == 1 {
		return regular[0], nil
	}
	return nil, fmt.Errorf("%w: %d files and none ends in .iso or .bin", ErrNoImage, len(regular))
}
