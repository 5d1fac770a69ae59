package apa

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/go-restruct/restruct"

	"github.com/diskfs/go-ps2hdd/util"
)

// subRecord a sub-partition pointer held by a main partition
type subRecord struct {
	Start  uint32
	Length uint32
}

// mbrRecord the disk identification block, only meaningful in the anchor
type mbrRecord struct {
	Magic    [32]byte
	Version  uint32
	NSector  uint32
	Created  util.PS2Time
	OSDStart uint32
	OSDSize  uint32
	Padding  [200]byte
}

// header the on-disk layout of an APA partition header
type header struct {
	Checksum uint32
	Magic    uint32
	Next     uint32
	Prev     uint32
	ID       [32]byte
	RPwd     [8]byte
	FPwd     [8]byte
	Start    uint32
	Length   uint32
	Type     uint16
	Flags    uint16
	NSub     uint32
	Created  util.PS2Time
	Main     uint32
	Number   uint32
	Modver   uint32
	Padding1 [7]uint32
	Padding2 [128]byte
	MBR      mbrRecord
	Subs     [maxSubs]subRecord
}

// checksum wrapping sum of every 32 bit word of the header after the checksum itself
func checksum(b []byte) uint32 {
	var sum uint32
	for i := 4; i+4 <= HeaderSize; i += 4 {
		sum += binary.LittleEndian.Uint32(b[i:])
	}
	return sum
}

func headerFromBytes(b []byte) (*header, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("header must be %d bytes, received %d", HeaderSize, len(b))
	}
	h := &header{}
	if err := restruct.Unpack(b[:HeaderSize], binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("could not decode header: %w", err)
	}
	if h.Magic != headerMagic {
		return nil, fmt.Errorf("bad header magic %#08x", h.Magic)
	}
	if calc := checksum(b); calc != h.Checksum {
		return nil, fmt.Errorf("header checksum mismatch: stored %#08x, calculated %#08x", h.Checksum, calc)
	}
	return h, nil
}

func (h *header) toBytes() ([]byte, error) {
	h.Magic = headerMagic
	h.Checksum = 0
	b, err := restruct.Pack(binary.LittleEndian, h)
	if err != nil {
		return nil, fmt.Errorf("could not encode header: %w", err)
	}
	if len(b) != HeaderSize {
		return nil, fmt.Errorf("encoded header is %d bytes instead of %d", len(b), HeaderSize)
	}
	h.Checksum = checksum(b)
	binary.LittleEndian.PutUint32(b[0:4], h.Checksum)
	return b, nil
}

func (h *header) name() string {
	return strings.TrimRight(string(h.ID[:]), "\x00")
}

func (h *header) hasMBRMagic() bool {
	return string(h.MBR.Magic[:]) == mbrMagic
}

func (h *header) toPartition(index int) *Partition {
	return &Partition{
		Index:    index,
		Name:     h.name(),
		Type:     Type(h.Type),
		Flags:    Flags(h.Flags),
		Start:    h.Start,
		Length:   h.Length,
		Main:     h.Main,
		Number:   h.Number,
		Created:  h.Created.Time(),
		Checksum: h.Checksum,
	}
}

func (p *Partition) toHeader(next, prev uint32) *header {
	h := &header{
		Next:    next,
		Prev:    prev,
		Start:   p.Start,
		Length:  p.Length,
		Type:    uint16(p.Type),
		Flags:   uint16(p.Flags),
		Created: util.PS2TimeFrom(p.Created),
		Main:    p.Main,
		Number:  p.Number,
	}
	copy(h.ID[:], p.Name)
	return h
}
