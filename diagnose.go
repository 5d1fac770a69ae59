package ps2hdd

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/diskfs/go-ps2hdd/backend"
	"github.com/diskfs/go-ps2hdd/filesystem/pfs"
	"github.com/diskfs/go-ps2hdd/partition/apa"
)

// Report the state of a device as found by Diagnose
type Report struct {
	Device   string
	Capacity int64
	// Table whether a valid partition table was found, TableError says why not
	Table      bool
	TableError string
	// FreeSectors not covered by any partition
	FreeSectors int64
	Partitions  []*PartitionReport
}

// PartitionReport the state of a single partition
type PartitionReport struct {
	Partition *apa.Partition
	// Filesystem whether the partition holds a readable PFS filesystem, Error says why not
	Filesystem bool
	Error      string
	Label      string
	VolumeID   string
	ZoneSize   uint32
	Zones      uint32
	FreeZones  uint32
	FreeInodes uint32
	// SuperblocksMatch whether the backup superblock agrees with the primary
	SuperblocksMatch bool
}

// Diagnose inspects a device without changing it. Problems are described in the report; an error
// is returned only when the device cannot be read at all.
func Diagnose(dev *backend.Device) (*Report, error) {
	r := &Report{Device: dev.Name(), Capacity: dev.Capacity()}
	t, err := apa.Read(dev)
	switch {
	case errors.Is(err, apa.ErrInvalidTable):
		r.TableError = err.Error()
		return r, nil
	case err != nil:
		return nil, fmt.Errorf("could not read partition table: %w", err)
	}
	r.Table = true
	r.FreeSectors = t.Free()
	logger := log.WithField("component", "diagnose")
	for _, p := range t.Partitions {
		pr := &PartitionReport{Partition: p}
		r.Partitions = append(r.Partitions, pr)
		if p.Type != apa.TypePFS || p.IsSub() {
			continue
		}
		fs, err := pfs.ReadWithLogger(dev, p.GetStart(), p.GetSize(), logger.WithField("partition", p.Name))
		if err != nil {
			pr.Error = err.Error()
			continue
		}
		pr.Filesystem = true
		pr.Label = fs.Label()
		pr.VolumeID = fs.UUID().String()
		pr.ZoneSize = fs.ZoneSize()
		pr.Zones = fs.Zones()
		pr.FreeZones = fs.FreeZones()
		if pr.FreeInodes, err = fs.FreeInodes(); err != nil {
			pr.Error = err.Error()
			continue
		}
		if pr.SuperblocksMatch, err = fs.SuperblocksMatch(); err != nil {
			pr.Error = err.Error()
		}
	}
	return r, nil
}
