// Package backend provides the sector-aligned block device accessor every other layer goes through.
//
// A Device is a thin wrapper around something that can be read from and written to at an offset,
// typically an *os.File for an image or a raw block device, or an in-memory buffer for tests.
// It never caches: every Read and Write goes straight to the underlying storage.
package backend

import (
	"errors"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/diskfs/go-ps2hdd/util"
)

// SectorSize is the only sector size supported, all accesses must align to it
const SectorSize int64 = 512

var (
	// ErrAlignment offset or length not a multiple of SectorSize
	ErrAlignment = errors.New("access not aligned to sector size")
	// ErrOutOfRange access extends beyond the capacity of the device
	ErrOutOfRange = errors.New("access beyond device capacity")
	// ErrReadOnly write attempted on a device opened read-only
	ErrReadOnly = errors.New("device is read-only")
)

// AccessError describes a rejected or failed device access
type AccessError struct {
	Op     string
	Offset int64
	Length int64
	Err    error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%s of %d bytes at offset %d: %v", e.Op, e.Length, e.Offset, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// Device a block device or image of a fixed capacity, accessed in whole sectors
type Device struct {
	file     util.File
	closer   io.Closer
	size     int64
	readOnly bool
	name     string
}

// New wraps f as a Device of the given size in bytes. The size must be a whole number of sectors.
func New(f util.File, size int64, readOnly bool) (*Device, error) {
	if f == nil {
		return nil, errors.New("must pass a valid file")
	}
	if size <= 0 || size%SectorSize != 0 {
		return nil, fmt.Errorf("device size %d is not a positive multiple of sector size %d", size, SectorSize)
	}
	d := &Device{
		file:     f,
		size:     size,
		readOnly: readOnly,
	}
	if c, ok := f.(io.Closer); ok {
		d.closer = c
	}
	return d, nil
}

// Capacity size of the device in bytes
func (d *Device) Capacity() int64 {
	return d.size
}

// Sectors size of the device in sectors
func (d *Device) Sectors() int64 {
	return d.size / SectorSize
}

// ReadOnly whether writes are refused
func (d *Device) ReadOnly() bool {
	return d.readOnly
}

// Name path the device was opened from, empty for wrapped or in-memory devices
func (d *Device) Name() string {
	return d.name
}

// Read returns length bytes starting at offset
func (d *Device) Read(offset, length int64) ([]byte, error) {
	if err := d.check("read", offset, length); err != nil {
		return nil, err
	}
	b := make([]byte, length)
	if err := d.readAt(b, offset); err != nil {
		return nil, err
	}
	return b, nil
}

// ReadInto fills b from offset. Both must be sector aligned.
func (d *Device) ReadInto(b []byte, offset int64) error {
	if err := d.check("read", offset, int64(len(b))); err != nil {
		return err
	}
	return d.readAt(b, offset)
}

// Write writes b at offset
func (d *Device) Write(offset int64, b []byte) error {
	length := int64(len(b))
	if err := d.check("write", offset, length); err != nil {
		return err
	}
	if d.readOnly {
		return &AccessError{Op: "write", Offset: offset, Length: length, Err: ErrReadOnly}
	}
	written, err := d.file.WriteAt(b, offset)
	if err != nil {
		return &AccessError{Op: "write", Offset: offset, Length: length, Err: err}
	}
	if int64(written) != length {
		return &AccessError{Op: "write", Offset: offset, Length: length, Err: fmt.Errorf("short write of %d bytes", written)}
	}
	log.WithFields(log.Fields{"offset": offset, "length": length}).Trace("device write")
	return nil
}

// Close releases the underlying file, if it can be closed
func (d *Device) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

func (d *Device) readAt(b []byte, offset int64) error {
	read, err := d.file.ReadAt(b, offset)
	// a full read that ends exactly at EOF is fine
	if err != nil && !(errors.Is(err, io.EOF) && read == len(b)) {
		return &AccessError{Op: "read", Offset: offset, Length: int64(len(b)), Err: err}
	}
	if read != len(b) {
		return &AccessError{Op: "read", Offset: offset, Length: int64(len(b)), Err: fmt.Errorf("short read of %d bytes", read)}
	}
	return nil
}

func (d *Device) check(op string, offset, length int64) error {
	if offset < 0 || length < 0 || offset%SectorSize != 0 || length%SectorSize != 0 {
		return &AccessError{Op: op, Offset: offset, Length: length, Err: ErrAlignment}
	}
	if offset+length > d.size {
		return &AccessError{Op: op, Offset: offset, Length: length, Err: ErrOutOfRange}
	}
	return nil
}
