// Package testhelper holds fakes shared by the package tests
package testhelper

import (
	"fmt"
	"sync"
)

type reader func(b []byte, offset int64) (int, error)
type writer func(b []byte, offset int64) (int, error)

// FileImpl implement util.File with pluggable behaviour
type FileImpl struct {
	Reader reader
	Writer writer
}

// ReadAt read at a particular offset
func (f *FileImpl) ReadAt(b []byte, offset int64) (int, error) {
	return f.Reader(b, offset)
}

// WriteAt write at a particular offset
func (f *FileImpl) WriteAt(b []byte, offset int64) (int, error) {
	return f.Writer(b, offset)
}

// FaultyFile an in-memory util.File whose writes start failing after a set number of successful writes
type FaultyFile struct {
	mu sync.Mutex
	b  []byte
	// WritesLeft number of writes that succeed before every further write fails; negative means never fail
	WritesLeft int
	// Writes number of successful writes so far
	Writes int
	once   bool
}

// NewFaultyFile a zeroed file of size bytes that never fails until WritesLeft is set
func NewFaultyFile(size int64) *FaultyFile {
	return &FaultyFile{b: make([]byte, size), WritesLeft: -1}
}

// FailAfter allow n more writes, then fail
func (f *FaultyFile) FailAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.WritesLeft = n
}

// FailOnceAfter allow n more writes, fail the next one, then succeed again
func (f *FaultyFile) FailOnceAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.WritesLeft = n
	f.once = true
}

// Bytes the current content
func (f *FaultyFile) Bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.b
}

func (f *FaultyFile) ReadAt(b []byte, offset int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset+int64(len(b)) > int64(len(f.b)) {
		return 0, fmt.Errorf("read beyond end of file")
	}
	return copy(b, f.b[offset:]), nil
}

func (f *FaultyFile) WriteAt(b []byte, offset int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WritesLeft == 0 {
		if f.once {
			f.WritesLeft, f.once = -1, false
		}
		return 0, fmt.Errorf("injected write failure at offset %d", offset)
	}
	if f.WritesLeft > 0 {
		f.WritesLeft--
	}
	if offset+int64(len(b)) > int64(len(f.b)) {
		return 0, fmt.Errorf("write beyond end of file")
	}
	f.Writes++
	return copy(f.b[offset:], b), nil
}
