package ps2hdd

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/diskfs/go-ps2hdd/backend"
	"github.com/diskfs/go-ps2hdd/filesystem/pfs"
	"github.com/diskfs/go-ps2hdd/partition/apa"
)

// FormatStep a stage of formatting, in the order they run
type FormatStep string

const (
	StepValidate       FormatStep = "validate"
	StepPartitionTable FormatStep = "partition-table"
	StepBitmap         FormatStep = FormatStep(pfs.StepBitmap)
	StepRootDirectory  FormatStep = FormatStep(pfs.StepRootDirectory)
	StepSuperblock     FormatStep = FormatStep(pfs.StepSuperblock)
	StepFlush          FormatStep = FormatStep(pfs.StepFlush)
)

// DefaultPartitionName partition created by Format when none is requested
const DefaultPartitionName = "__common"

// ErrFormatStepFailed a step of Format failed, the *FormatError says which
var ErrFormatStepFailed = errors.New("format step failed")

// FormatError reports the step at which Format failed. It matches ErrFormatStepFailed as well as
// the underlying error.
type FormatError struct {
	Step FormatStep
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format failed at step %s: %v", e.Step, e.Err)
}

func (e *FormatError) Unwrap() []error {
	return []error{ErrFormatStepFailed, e.Err}
}

// FormatOptions options for Format, the zero value formats the whole device with defaults
type FormatOptions struct {
	// PartitionSizeSectors length of the partition, 0 uses every sector after the anchor
	PartitionSizeSectors int64
	// VolumeName names both the partition and the filesystem, default DefaultPartitionName
	VolumeName string
	// ZoneSize filesystem allocation unit in bytes, 0 means pfs.DefaultZoneSize
	ZoneSize uint32
	// InodeCount inodes to preallocate, 0 sizes the table from the partition
	InodeCount uint32
	// MBRSectors length of the anchor partition, 0 picks apa.DefaultMBRSectors
	MBRSectors uint32
	UUID       *uuid.UUID
	// Created stamp for the table and filesystem, zero means now
	Created time.Time
	Logger  *log.Entry
}

// Format writes a fresh partition table holding one PFS partition, and creates an empty
// filesystem in it. Everything previously on the device is lost; running it again formats again.
//
// The steps run strictly in order: validate the device and clear the old table anchor, write the
// partition table, then create the filesystem bitmap, root directory and superblock, and flush.
// Until the last step succeeds the device is not usable, and a failure reports its step in a
// *FormatError.
func Format(dev *backend.Device, opts *FormatOptions) (*apa.Table, *pfs.FileSystem, error) {
	if opts == nil {
		opts = &FormatOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	logger = logger.WithField("component", "format")
	name := opts.VolumeName
	if name == "" {
		name = DefaultPartitionName
	}
	created := opts.Created
	if created.IsZero() {
		created = time.Now()
	}

	if dev.ReadOnly() {
		return nil, nil, &FormatError{Step: StepValidate, Err: fmt.Errorf("device %s: %w", dev.Name(), backend.ErrReadOnly)}
	}
	layout, err := formatLayout(dev, opts, name)
	if err != nil {
		return nil, nil, &FormatError{Step: StepValidate, Err: err}
	}
	// an unreadable or unwritable device fails here, before anything else is touched
	if err := dev.Write(0, make([]byte, apa.HeaderSize)); err != nil {
		return nil, nil, &FormatError{Step: StepValidate, Err: fmt.Errorf("could not clear partition table anchor: %w", err)}
	}
	logger.WithFields(log.Fields{"device": dev.Name(), "sectors": dev.Sectors()}).Debug("validated device")

	layout.Created = created
	table, err := apa.Initialize(dev, layout)
	if err != nil {
		return nil, nil, &FormatError{Step: StepPartitionTable, Err: err}
	}
	part := table.Partitions[0]
	logger.WithFields(log.Fields{"partition": part.Name, "start": part.Start, "length": part.Length}).Debug("wrote partition table")

	fs, err := pfs.Create(dev, part.GetStart(), part.GetSize(), &pfs.Params{
		ZoneSize:   opts.ZoneSize,
		InodeCount: opts.InodeCount,
		VolumeName: name,
		UUID:       opts.UUID,
		Created:    created,
		Logger:     logger.WithField("partition", part.Name),
	})
	if err != nil {
		var se *pfs.StepError
		if errors.As(err, &se) {
			return nil, nil, &FormatError{Step: FormatStep(se.Step), Err: se.Err}
		}
		return nil, nil, &FormatError{Step: StepBitmap, Err: err}
	}
	logger.WithFields(log.Fields{"partition": part.Name, "zones": fs.Zones(), "free": fs.FreeZones()}).Info("formatted device")
	return table, fs, nil
}

// FormatPlan what Format would write to a device
type FormatPlan struct {
	Layout   *apa.Layout
	Geometry *pfs.Geometry
}

// PlanFormat computes the partition layout and filesystem geometry Format would create with
// opts, without writing anything. A read-only device can be planned.
func PlanFormat(dev *backend.Device, opts *FormatOptions) (*FormatPlan, error) {
	if opts == nil {
		opts = &FormatOptions{}
	}
	name := opts.VolumeName
	if name == "" {
		name = DefaultPartitionName
	}
	layout, err := formatLayout(dev, opts, name)
	if err != nil {
		return nil, err
	}
	geometry, err := pfs.Plan(layout.Partitions[0].GetSize(), &pfs.Params{
		ZoneSize:   opts.ZoneSize,
		InodeCount: opts.InodeCount,
		VolumeName: name,
	})
	if err != nil {
		return nil, err
	}
	return &FormatPlan{Layout: layout, Geometry: geometry}, nil
}

// formatLayout the single partition layout for the device
func formatLayout(dev *backend.Device, opts *FormatOptions, name string) (*apa.Layout, error) {
	sectors := dev.Sectors()
	if sectors > math.MaxUint32 {
		sectors = math.MaxUint32
	}
	mbrSectors := opts.MBRSectors
	if mbrSectors == 0 {
		mbrSectors = apa.DefaultMBRSectors(dev.Capacity())
	}
	if int64(mbrSectors) >= sectors {
		return nil, fmt.Errorf("device of %d sectors is too small for an anchor of %d sectors", sectors, mbrSectors)
	}
	length := opts.PartitionSizeSectors
	if length == 0 {
		length = sectors - int64(mbrSectors)
	}
	if length <= 0 || int64(mbrSectors)+length > sectors {
		return nil, fmt.Errorf("partition of %d sectors does not fit after the anchor on a device of %d sectors", length, sectors)
	}
	return &apa.Layout{
		MBRSectors: mbrSectors,
		Partitions: []*apa.Partition{
			{Name: name, Type: apa.TypePFS, Start: mbrSectors, Length: uint32(length)},
		},
	}, nil
}
