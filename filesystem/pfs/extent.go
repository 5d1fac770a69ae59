package pfs

import "math"

const maxZonesPerExtent = math.MaxUint16

// extents a structure holding multiple extents
type extents []extent

// extent a contiguous run of zones holding file data
type extent struct {
	// startingZone the first zone of the run, relative to the start of the partition
	startingZone uint32
	// count how many contiguous zones are covered by this extent
	count uint16
}

func (e extent) end() uint64 {
	return uint64(e.startingZone) + uint64(e.count)
}

func (e extent) toBlockInfo() blockInfo {
	return blockInfo{Number: e.startingZone, Count: e.count}
}

func extentFromBlockInfo(b blockInfo) extent {
	return extent{startingZone: b.Number, count: b.Count}
}

// zoneCount how many zones are covered in the extents
func (e extents) zoneCount() uint64 {
	var count uint64
	for _, ext := range e {
		count += uint64(ext.count)
	}
	return count
}

// units every zone covered, in file order
func (e extents) units() []uint32 {
	units := make([]uint32, 0, e.zoneCount())
	for _, ext := range e {
		for i := uint32(0); i < uint32(ext.count); i++ {
			units = append(units, ext.startingZone+i)
		}
	}
	return units
}

// extentsFromUnits groups zones in file order into runs, splitting runs too long for a single extent
func extentsFromUnits(units []uint32) extents {
	var exts extents
	for _, u := range units {
		if n := len(exts); n > 0 {
			last := &exts[n-1]
			if last.end() == uint64(u) && last.count < maxZonesPerExtent {
				last.count++
				continue
			}
		}
		exts = append(exts, extent{startingZone: u, count: 1})
	}
	return exts
}
