package pfs

import "encoding/binary"

// checksummer computes the checksum of a record
type checksummer func(b []byte) uint32

// checksumAppender stores the checksum of a record in its first word
type checksumAppender func(b []byte)

// wordSum wrapping sum of every 32 bit word of a record except the first, which holds the sum
func wordSum(b []byte) uint32 {
	var sum uint32
	for i := 4; i+4 <= len(b); i += 4 {
		sum += binary.LittleEndian.Uint32(b[i:])
	}
	return sum
}

func recordChecksumAppender(fn checksummer) checksumAppender {
	return func(b []byte) {
		binary.LittleEndian.PutUint32(b[0:4], fn(b))
	}
}

func validRecordChecksum(b []byte, fn checksummer) bool {
	return binary.LittleEndian.Uint32(b[0:4]) == fn(b)
}
