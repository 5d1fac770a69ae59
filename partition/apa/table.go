package apa

import (
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/diskfs/go-ps2hdd/backend"
)

// Table an APA partition table
type Table struct {
	// MBR the anchor partition at sector 0
	MBR *Partition
	// Version of the disk identification block
	Version uint32
	// Sectors device size recorded when the table was written
	Sectors uint32
	Created time.Time
	// Partitions every other partition in chain order
	Partitions []*Partition
}

// Read parses the partition table of a device. A device without a valid anchor yields
// ErrInvalidTable, device access failures are returned unchanged.
func Read(d *backend.Device) (*Table, error) {
	sectors := d.Sectors()
	anchor, err := readHeader(d, 0)
	if err != nil {
		return nil, err
	}
	if !anchor.hasMBRMagic() {
		return nil, fmt.Errorf("%w: anchor has no disk identification", ErrInvalidTable)
	}
	if anchor.Start != 0 {
		return nil, fmt.Errorf("%w: anchor claims to start at sector %d", ErrInvalidTable, anchor.Start)
	}
	table := &Table{
		MBR:     anchor.toPartition(-1),
		Version: anchor.MBR.Version,
		Sectors: anchor.MBR.NSector,
		Created: anchor.MBR.Created.Time(),
	}

	var (
		prev    uint32
		end     = table.MBR.end()
		visited = map[uint32]bool{0: true}
	)
	for next := anchor.Next; next != 0; {
		if visited[next] {
			return nil, fmt.Errorf("%w: partition chain loops back to sector %d", ErrInvalidTable, next)
		}
		if len(visited) > maxHeaders {
			return nil, fmt.Errorf("%w: more than %d partitions", ErrInvalidTable, maxHeaders)
		}
		if int64(next)+HeaderSectors > sectors {
			return nil, fmt.Errorf("%w: partition header at sector %d is beyond the device", ErrInvalidTable, next)
		}
		visited[next] = true
		h, err := readHeader(d, next)
		if err != nil {
			return nil, err
		}
		p := h.toPartition(len(table.Partitions))
		switch {
		case p.Start != next:
			return nil, fmt.Errorf("%w: header at sector %d claims start %d", ErrInvalidTable, next, p.Start)
		case h.Prev != prev:
			return nil, fmt.Errorf("%w: header at sector %d links back to %d instead of %d", ErrInvalidTable, next, h.Prev, prev)
		case int64(p.Start)+int64(p.Length) > sectors || p.Length < HeaderSectors:
			return nil, fmt.Errorf("%w: partition %q has invalid extent %d+%d", ErrInvalidTable, p.Name, p.Start, p.Length)
		case p.Start < end:
			return nil, fmt.Errorf("%w: partition %q overlaps its predecessor", ErrInvalidTable, p.Name)
		}
		table.Partitions = append(table.Partitions, p)
		prev, end, next = p.Start, p.end(), h.Next
	}
	log.WithFields(log.Fields{"partitions": len(table.Partitions), "sectors": table.Sectors}).Debug("read APA table")
	return table, nil
}

func readHeader(d *backend.Device, sector uint32) (*header, error) {
	b, err := d.Read(int64(sector)*backend.SectorSize, HeaderSize)
	if err != nil {
		return nil, err
	}
	h, err := headerFromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: sector %d: %v", ErrInvalidTable, sector, err)
	}
	return h, nil
}

// Find a partition by its exact name, or else by its decimal index
func (t *Table) Find(nameOrIndex string) (*Partition, error) {
	for _, p := range t.Partitions {
		if p.Name == nameOrIndex {
			return p, nil
		}
	}
	if i, err := strconv.Atoi(nameOrIndex); err == nil && i >= 0 && i < len(t.Partitions) {
		return t.Partitions[i], nil
	}
	return nil, fmt.Errorf("%w: %q", ErrPartitionNotFound, nameOrIndex)
}

// Free sectors not covered by the anchor or any partition
func (t *Table) Free() int64 {
	used := int64(t.MBR.Length)
	for _, p := range t.Partitions {
		used += int64(p.Length)
	}
	return int64(t.Sectors) - used
}
