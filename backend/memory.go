package backend

import (
	"fmt"
	"io"
	"sync"
)

// memoryFile a util.File held entirely in memory
type memoryFile struct {
	mu sync.RWMutex
	b  []byte
}

func (m *memoryFile) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if off >= int64(len(m.b)) {
		return 0, io.EOF
	}
	n := copy(p, m.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memoryFile) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off+int64(len(p)) > int64(len(m.b)) {
		return 0, fmt.Errorf("write of %d bytes at %d beyond end of memory of %d bytes", len(p), off, len(m.b))
	}
	return copy(m.b[off:], p), nil
}

// NewMemory creates a zero-filled in-memory device of size bytes, which must be a whole number of sectors
func NewMemory(size int64) (*Device, error) {
	if size <= 0 || size%SectorSize != 0 {
		return nil, fmt.Errorf("memory device size %d is not a positive multiple of sector size %d", size, SectorSize)
	}
	return New(&memoryFile{b: make([]byte, size)}, size, false)
}
