package apa

import (
	"strings"
	"time"
)

// Partition a single APA partition descriptor
type Partition struct {
	// Index position in the partition table, counting from 0 and excluding the anchor
	Index  int
	Name   string
	Type   Type
	Flags  Flags
	Start  uint32 // first sector
	Length uint32 // sectors
	// Main start sector of the owning main partition, for sub-partitions
	Main     uint32
	Number   uint32
	Created  time.Time
	Checksum uint32
}

// IsSub whether this descriptor is a sub-partition
func (p *Partition) IsSub() bool {
	return p.Flags&FlagSub == FlagSub
}

// IsSystem whether this is a system partition, by the console's naming convention
func (p *Partition) IsSystem() bool {
	return strings.HasPrefix(p.Name, systemPrefix)
}

// GetStart start of the partition in bytes
func (p *Partition) GetStart() int64 {
	return int64(p.Start) * 512
}

// GetSize size of the partition in bytes
func (p *Partition) GetSize() int64 {
	return int64(p.Length) * 512
}

func (p *Partition) end() uint32 {
	return p.Start + p.Length
}

// Equal compares the descriptor fields that are persisted, ignoring the checksum
func (p *Partition) Equal(o *Partition) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.Name == o.Name && p.Type == o.Type && p.Flags == o.Flags &&
		p.Start == o.Start && p.Length == o.Length && p.Main == o.Main && p.Number == o.Number
}
