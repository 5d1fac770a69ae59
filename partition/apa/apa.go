// Package apa reads and writes the APA partition scheme used on PlayStation 2 hard drives.
//
// Every partition begins with a 1024 byte header. The header at sector 0 is the anchor: it
// belongs to the reserved "__mbr" partition and additionally carries the disk identification
// block. The remaining headers are reached by following the next pointers from the anchor,
// and the chain ends when a header points back to sector 0.
package apa

import (
	"errors"

	"github.com/elliotwutingfeng/asciiset"
)

// Type the partition type tag
type Type uint16

// Flags partition flags
type Flags uint16

const (
	TypeFree     Type = 0x0000
	TypeMBR      Type = 0x0001
	TypeExt2Swap Type = 0x0082
	TypeExt2     Type = 0x0083
	TypeReiser   Type = 0x0088
	TypePFS      Type = 0x0100
	TypeCFS      Type = 0x0101
	TypeHDL      Type = 0x1337

	// FlagSub partition is a sub-partition extending a main partition
	FlagSub Flags = 0x0001
)

const (
	// HeaderSize bytes of header at the start of every partition
	HeaderSize = 1024
	// HeaderSectors sectors of header at the start of every partition
	HeaderSectors = HeaderSize / 512

	// MBRName id of the anchor partition
	MBRName = "__mbr"
	// MaxNameLength longest partition id
	MaxNameLength = 32

	headerMagic  uint32 = 0x00415041
	mbrMagic            = "Sony Computer Entertainment Inc."
	mbrVersion   uint32 = 2
	maxSubs             = 64
	maxHeaders          = 1 << 16
	systemPrefix        = "__"

	// the anchor partition reserves 128MiB on real drives, but 1MiB on small images
	mbrSectorsLarge uint32 = 0x40000
	mbrSectorsSmall uint32 = 0x800
	largeDevice     int64  = 1 << 30
)

var (
	// ErrInvalidTable no valid APA table on the device
	ErrInvalidTable = errors.New("not a PS2 formatted device")
	// ErrPartitionNotFound no partition matches the requested name or index
	ErrPartitionNotFound = errors.New("partition not found")
	// ErrInvalidLayout the requested layout cannot be written
	ErrInvalidLayout = errors.New("invalid partition layout")
)

var nameCharset, _ = asciiset.MakeASCIISet(
	" !#$%&'()+,-.0123456789;=@ABCDEFGHIJKLMNOPQRSTUVWXYZ[]^_`abcdefghijklmnopqrstuvwxyz{}~")

func (t Type) String() string {
	switch t {
	case TypeFree:
		return "free"
	case TypeMBR:
		return "mbr"
	case TypeExt2Swap:
		return "ext2-swap"
	case TypeExt2:
		return "ext2"
	case TypeReiser:
		return "reiser"
	case TypePFS:
		return "pfs"
	case TypeCFS:
		return "cfs"
	case TypeHDL:
		return "hdl"
	default:
		return "unknown"
	}
}

// DefaultMBRSectors the length of the anchor partition for a device of the given size in bytes
func DefaultMBRSectors(deviceSize int64) uint32 {
	if deviceSize >= largeDevice {
		return mbrSectorsLarge
	}
	return mbrSectorsSmall
}

func validName(name string) bool {
	if name == "" || len(name) > MaxNameLength {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !nameCharset.Contains(name[i]) {
			return false
		}
	}
	return true
}
