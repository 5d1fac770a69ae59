package pfs

import (
	"bytes"
	"fmt"

	"github.com/diskfs/go-ps2hdd/util"
)

// AllocationMap tracks used and free zones, one bit per zone with 1 meaning used. Changes are
// held in memory until the filesystem flushes them.
type AllocationMap struct {
	bits  *util.Bitmap
	zones uint32
	free  uint32
	// flushed content of the bitmap as last written to disk, per zone
	flushed []byte
}

// newAllocationMap creates a map of zones with every zone free. bitmapBytes must cover zones;
// the bits beyond the last zone are marked used so they are never handed out.
func newAllocationMap(zones uint32, bitmapBytes int) (*AllocationMap, error) {
	if uint64(bitmapBytes)*8 < uint64(zones) {
		return nil, fmt.Errorf("bitmap of %d bytes cannot cover %d zones", bitmapBytes, zones)
	}
	m := &AllocationMap{
		bits:  util.NewBitmap(bitmapBytes),
		zones: zones,
		free:  zones,
	}
	for i := int(zones); i < m.bits.Len(); i++ {
		_ = m.bits.Set(i)
	}
	return m, nil
}

// allocationMapFromBytes loads a map from its on-disk bitmap. The free count is recomputed from the bits.
func allocationMapFromBytes(b []byte, zones uint32) (*AllocationMap, error) {
	if uint64(len(b))*8 < uint64(zones) {
		return nil, fmt.Errorf("bitmap of %d bytes cannot cover %d zones", len(b), zones)
	}
	m := &AllocationMap{
		bits:    util.BitmapWithBytes(b),
		zones:   zones,
		flushed: append([]byte(nil), b...),
	}
	m.free = uint32(m.bits.CountFree(int(zones)))
	return m, nil
}

// Zones total zones tracked
func (m *AllocationMap) Zones() uint32 {
	return m.zones
}

// FreeZones number of zones not in use
func (m *AllocationMap) FreeZones() uint32 {
	return m.free
}

// IsUsed whether a zone is marked used. Zones beyond the map are reported used.
func (m *AllocationMap) IsUsed(zone uint32) bool {
	if zone >= m.zones {
		return true
	}
	set, _ := m.bits.IsSet(int(zone))
	return set
}

// Allocate marks count zones used and returns them in ascending order. The first free run long
// enough to hold all of them is preferred; otherwise free zones are gathered from the start of the
// map. When fewer than count zones are free nothing changes and ErrOutOfSpace is returned.
func (m *AllocationMap) Allocate(count uint32) ([]uint32, error) {
	if count == 0 {
		return nil, nil
	}
	if count > m.free {
		return nil, fmt.Errorf("%w: requested %d zones, %d free", ErrOutOfSpace, count, m.free)
	}
	var zones []uint32
	if start, ok := m.firstRun(count); ok {
		zones = make([]uint32, 0, count)
		for z := start; z < start+count; z++ {
			zones = append(zones, z)
		}
	} else {
		zones = make([]uint32, 0, count)
		for z := m.bits.FirstFree(0); z >= 0 && z < int(m.zones) && uint32(len(zones)) < count; z = m.bits.FirstFree(z + 1) {
			zones = append(zones, uint32(z))
		}
		if uint32(len(zones)) < count {
			return nil, fmt.Errorf("%w: requested %d zones, found %d", ErrOutOfSpace, count, len(zones))
		}
	}
	for _, z := range zones {
		_ = m.bits.Set(int(z))
	}
	m.free -= count
	return zones, nil
}

// Free marks zones unused. Every zone must currently be in use, otherwise nothing changes.
func (m *AllocationMap) Free(zones []uint32) error {
	seen := make(map[uint32]bool, len(zones))
	for _, z := range zones {
		if z >= m.zones {
			return fmt.Errorf("cannot free zone %d beyond %d zones", z, m.zones)
		}
		if !m.IsUsed(z) || seen[z] {
			return fmt.Errorf("cannot free zone %d, it is not in use", z)
		}
		seen[z] = true
	}
	for _, z := range zones {
		_ = m.bits.Clear(int(z))
	}
	m.free += uint32(len(zones))
	return nil
}

// reserve marks a range of zones used, whatever their state
func (m *AllocationMap) reserve(start, count uint32) {
	for z := start; z < start+count && z < m.zones; z++ {
		if !m.IsUsed(z) {
			_ = m.bits.Set(int(z))
			m.free--
		}
	}
}

// firstRun finds the first run of at least count free zones
func (m *AllocationMap) firstRun(count uint32) (uint32, bool) {
	var run uint32
	for z := m.bits.FirstFree(0); z >= 0 && z < int(m.zones); {
		if run = m.runLength(uint32(z), count); run >= count {
			return uint32(z), true
		}
		z = m.bits.FirstFree(z + int(run))
	}
	return 0, false
}

func (m *AllocationMap) runLength(start, max uint32) uint32 {
	var n uint32
	for z := start; z < m.zones && n < max && !m.IsUsed(z); z++ {
		n++
	}
	return n
}

func (m *AllocationMap) snapshot() allocationSnapshot {
	return allocationSnapshot{bits: m.bits.ToBytes(), free: m.free}
}

func (m *AllocationMap) restore(s allocationSnapshot) {
	m.bits.FromBytes(s.bits)
	m.free = s.free
}

type allocationSnapshot struct {
	bits []byte
	free uint32
}

// dirtyChunks ranges of chunkSize bytes that differ from what was last flushed
func (m *AllocationMap) dirtyChunks(chunkSize int) []int {
	current := m.bits.ToBytes()
	var dirty []int
	for off := 0; off < len(current); off += chunkSize {
		end := off + chunkSize
		if end > len(current) {
			end = len(current)
		}
		if m.flushed == nil || !bytes.Equal(current[off:end], m.flushed[off:end]) {
			dirty = append(dirty, off/chunkSize)
		}
	}
	return dirty
}

// markFlushed records that bytes [from, to) of b are now on disk
func (m *AllocationMap) markFlushed(b []byte, from, to int) {
	if m.flushed == nil {
		// nothing on disk is known yet, so treat every other byte as unwritten
		m.flushed = make([]byte, len(b))
		for i := range m.flushed {
			m.flushed[i] = ^b[i]
		}
	}
	copy(m.flushed[from:to], b[from:to])
}
