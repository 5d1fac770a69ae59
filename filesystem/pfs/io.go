package pfs

import (
	"encoding/binary"
	"fmt"
)

// recordReader decodes consecutive little-endian fields of an on-disk record. After the first
// field that runs past the end of the record every read yields zero and err says which field.
type recordReader struct {
	b   []byte
	off int
	err error
}

func (r *recordReader) next(n int, field string) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.b) {
		r.err = fmt.Errorf("%w: %s at offset %#x needs %d bytes, record has %d", ErrCorrupt, field, r.off, n, len(r.b))
		return nil
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v
}

func (r *recordReader) uint32(field string) uint32 {
	if v := r.next(4, field); v != nil {
		return binary.LittleEndian.Uint32(v)
	}
	return 0
}

func (r *recordReader) uint16(field string) uint16 {
	if v := r.next(2, field); v != nil {
		return binary.LittleEndian.Uint16(v)
	}
	return 0
}

func (r *recordReader) uint8(field string) uint8 {
	if v := r.next(1, field); v != nil {
		return v[0]
	}
	return 0
}

func (r *recordReader) string(n int, field string) string {
	return string(r.next(n, field))
}
