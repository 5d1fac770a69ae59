package util

import "fmt"

// Bitmap is a structure holding a bitmap. Bit n is held in byte n/8, at position n%8 counting
// from the least significant bit.
type Bitmap struct {
	bits []byte
}

// BitmapWithBytes create a bitmap from the given bytes. The slice is copied.
func BitmapWithBytes(b []byte) *Bitmap {
	bm := &Bitmap{bits: make([]byte, len(b))}
	copy(bm.bits, b)
	return bm
}

// NewBitmap creates a new bitmap of size bytes; it is not in bits to force the caller to have
// a complete set
func NewBitmap(bytes int) *Bitmap {
	return &Bitmap{bits: make([]byte, bytes)}
}

// ToBytes returns raw bytes underlying the bitmap
func (bm *Bitmap) ToBytes() []byte {
	b := make([]byte, len(bm.bits))
	copy(b, bm.bits)
	return b
}

// FromBytes overwrite the existing map with the contents of the bytes.
// It is the equivalent of BitmapWithBytes, but uses an existing Bitmap.
func (bm *Bitmap) FromBytes(b []byte) {
	bm.bits = make([]byte, len(b))
	copy(bm.bits, b)
}

// Len number of bits addressable in the bitmap
func (bm *Bitmap) Len() int {
	return len(bm.bits) * 8
}

// IsSet check if a specific bit location is set
func (bm *Bitmap) IsSet(location int) (bool, error) {
	byteNumber, bitNumber, err := bm.locate(location)
	if err != nil {
		return false, err
	}
	mask := byte(0x1) << bitNumber
	return bm.bits[byteNumber]&mask == mask, nil
}

// Clear a specific bit location
func (bm *Bitmap) Clear(location int) error {
	byteNumber, bitNumber, err := bm.locate(location)
	if err != nil {
		return err
	}
	mask := byte(0x1) << bitNumber
	mask = ^mask
	bm.bits[byteNumber] &= mask
	return nil
}

// Set a specific bit location
func (bm *Bitmap) Set(location int) error {
	byteNumber, bitNumber, err := bm.locate(location)
	if err != nil {
		return err
	}
	mask := byte(0x1) << bitNumber
	bm.bits[byteNumber] |= mask
	return nil
}

// FirstFree returns the first free bit in the bitmap at or after start.
// Returns -1 if none found.
func (bm *Bitmap) FirstFree(start int) int {
	if start < 0 {
		start = 0
	}
	for i := start; i < bm.Len(); i++ {
		b := bm.bits[i/8]
		if b == 0xff && i%8 == 0 {
			i += 7
			continue
		}
		if b&(byte(0x1)<<uint(i%8)) == 0 {
			return i
		}
	}
	return -1
}

// CountFree number of clear bits in the range [0, limit)
func (bm *Bitmap) CountFree(limit int) int {
	if limit > bm.Len() {
		limit = bm.Len()
	}
	var free int
	for i := 0; i < limit; i++ {
		if bm.bits[i/8]&(byte(0x1)<<uint(i%8)) == 0 {
			free++
		}
	}
	return free
}

func (bm *Bitmap) locate(location int) (byteNumber int, bitNumber uint, err error) {
	if location < 0 {
		return 0, 0, fmt.Errorf("location %d is negative", location)
	}
	byteNumber, bitNumber = findBitForIndex(location)
	if byteNumber >= len(bm.bits) {
		return 0, 0, fmt.Errorf("location %d is not in %d size bitmap", location, len(bm.bits)*8)
	}
	return byteNumber, bitNumber, nil
}

func findBitForIndex(index int) (byteNumber int, bitNumber uint) {
	return index / 8, uint(index % 8)
}
