package apa

import (
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/diskfs/go-ps2hdd/backend"
)

// Layout describes a partition table to write
type Layout struct {
	// MBRSectors length of the anchor partition, 0 picks DefaultMBRSectors for the device
	MBRSectors uint32
	// Partitions in ascending start order, none may overlap the anchor or each other
	Partitions []*Partition
	// Created stamp for every header, zero means now
	Created time.Time
}

// Initialize writes a new partition table, replacing whatever is on the device. The anchor is
// invalidated first and rewritten last, so a failure part way leaves a device that Read rejects
// with ErrInvalidTable.
func Initialize(d *backend.Device, layout *Layout) (*Table, error) {
	if layout == nil {
		layout = &Layout{}
	}
	sectors := d.Sectors()
	if sectors > math.MaxUint32 {
		sectors = math.MaxUint32
	}
	mbrSectors := layout.MBRSectors
	if mbrSectors == 0 {
		mbrSectors = DefaultMBRSectors(d.Capacity())
	}
	created := layout.Created
	if created.IsZero() {
		created = time.Now()
	}
	if int64(mbrSectors) > sectors || mbrSectors < HeaderSectors {
		return nil, fmt.Errorf("%w: device of %d sectors cannot hold an anchor of %d sectors", ErrInvalidLayout, sectors, mbrSectors)
	}

	table := &Table{
		MBR: &Partition{
			Index:   -1,
			Name:    MBRName,
			Type:    TypeMBR,
			Start:   0,
			Length:  mbrSectors,
			Created: created,
		},
		Version: mbrVersion,
		Sectors: uint32(sectors),
		Created: created,
	}
	if err := table.addPartitions(layout.Partitions, created); err != nil {
		return nil, err
	}

	// invalidate any existing anchor before touching the chain
	if err := d.Write(0, make([]byte, HeaderSize)); err != nil {
		return nil, fmt.Errorf("could not clear partition table anchor: %w", err)
	}

	parts := table.Partitions
	for i, p := range parts {
		var next, prev uint32
		if i+1 < len(parts) {
			next = parts[i+1].Start
		}
		if i > 0 {
			prev = parts[i-1].Start
		}
		if err := writeHeader(d, p, p.toHeader(next, prev)); err != nil {
			return nil, err
		}
	}

	anchor := table.MBR.toHeader(0, 0)
	if len(parts) > 0 {
		anchor.Next = parts[0].Start
		anchor.Prev = parts[len(parts)-1].Start
	}
	copy(anchor.MBR.Magic[:], mbrMagic)
	anchor.MBR.Version = table.Version
	anchor.MBR.NSector = table.Sectors
	anchor.MBR.Created = anchor.Created
	if err := writeHeader(d, table.MBR, anchor); err != nil {
		return nil, err
	}
	if err := verify(d, table); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"partitions": len(parts), "sectors": table.Sectors}).Debug("wrote APA table")
	return table, nil
}

func (t *Table) addPartitions(parts []*Partition, created time.Time) error {
	var (
		end   = t.MBR.end()
		names = map[string]bool{MBRName: true}
	)
	for i, lp := range parts {
		if lp == nil {
			return fmt.Errorf("%w: partition %d is nil", ErrInvalidLayout, i)
		}
		switch {
		case !validName(lp.Name):
			return fmt.Errorf("%w: invalid partition name %q", ErrInvalidLayout, lp.Name)
		case names[lp.Name]:
			return fmt.Errorf("%w: duplicate partition name %q", ErrInvalidLayout, lp.Name)
		case lp.Type == TypeMBR:
			return fmt.Errorf("%w: partition %q cannot use the anchor type", ErrInvalidLayout, lp.Name)
		case lp.Length < HeaderSectors:
			return fmt.Errorf("%w: partition %q is too small", ErrInvalidLayout, lp.Name)
		case lp.Start < end:
			return fmt.Errorf("%w: partition %q at sector %d overlaps the preceding partition ending at %d", ErrInvalidLayout, lp.Name, lp.Start, end)
		case uint64(lp.Start)+uint64(lp.Length) > uint64(t.Sectors):
			return fmt.Errorf("%w: partition %q ends beyond the device", ErrInvalidLayout, lp.Name)
		}
		names[lp.Name] = true
		p := *lp
		p.Index = i
		if p.Created.IsZero() {
			p.Created = created
		}
		t.Partitions = append(t.Partitions, &p)
		end = p.end()
	}
	return nil
}

// verify reads the table back and compares it with what was written
func verify(d *backend.Device, want *Table) error {
	got, err := Read(d)
	if err != nil {
		return fmt.Errorf("could not read back partition table: %w", err)
	}
	if len(got.Partitions) != len(want.Partitions) {
		return fmt.Errorf("%w: read back %d partitions, wrote %d", ErrInvalidTable, len(got.Partitions), len(want.Partitions))
	}
	for i, p := range want.Partitions {
		if !p.Equal(got.Partitions[i]) {
			return fmt.Errorf("%w: partition %q reads back differently", ErrInvalidTable, p.Name)
		}
	}
	return nil
}

func writeHeader(d *backend.Device, p *Partition, h *header) error {
	b, err := h.toBytes()
	if err != nil {
		return err
	}
	if err := d.Write(p.GetStart(), b); err != nil {
		return fmt.Errorf("could not write header for partition %q: %w", p.Name, err)
	}
	p.Checksum = h.Checksum
	return nil
}
