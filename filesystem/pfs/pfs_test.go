package pfs

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"

	"github.com/diskfs/go-ps2hdd/backend"
	"github.com/diskfs/go-ps2hdd/testhelper"
)

const (
	// 16384 zones of 4096 bytes, data starts at zone 1283
	testPartitionSize = 64 * 1024 * 1024
	// 2048 zones of 4096 bytes, data starts at zone 1059
	smallPartitionSize = 8 * 1024 * 1024
)

var testCreated = time.Date(2024, time.March, 3, 10, 20, 30, 0, time.UTC)

func testFileSystem(t testing.TB, size int64, p *Params) (*FileSystem, *backend.Device) {
	t.Helper()
	dev, err := backend.NewMemory(size)
	if err != nil {
		t.Fatal(err)
	}
	if p == nil {
		p = &Params{}
	}
	if p.Created.IsZero() {
		p.Created = testCreated
	}
	fs, err := Create(dev, 0, size, p)
	if err != nil {
		t.Fatalf("unexpected error creating filesystem: %v", err)
	}
	return fs, dev
}

func TestCreateGeometry(t *testing.T) {
	id := uuid.MustParse("0b5c3e0e-4e55-4c4c-9a4e-7f3c6c9f3d21")
	fs, dev := testFileSystem(t, testPartitionSize, &Params{VolumeName: "__common", UUID: &id})
	sb := fs.superblock
	assert.Equal(t, sb.zoneSize, DefaultZoneSize)
	assert.Equal(t, sb.zoneCount, uint32(16384))
	assert.Equal(t, sb.superZone(), uint32(1024))
	assert.Equal(t, sb.bitmapStart, uint32(1025))
	assert.Equal(t, sb.bitmapZones, uint32(1))
	assert.Equal(t, sb.inodeStart, uint32(1026))
	assert.Equal(t, sb.inodeZones, uint32(257))
	assert.Equal(t, sb.inodeCount, uint32(1028))
	assert.Equal(t, sb.dataStart(), uint32(1283))
	// every metadata zone plus the root directory
	assert.Equal(t, fs.FreeZones(), uint32(16384-1284))

	reread, err := Read(dev, 0, testPartitionSize)
	assert.NilError(t, err)
	assert.Assert(t, fs.superblock.equal(reread.superblock))
	assert.Equal(t, reread.Label(), "__common")
	assert.Equal(t, reread.UUID(), id)
	assert.Equal(t, reread.FreeZones(), fs.FreeZones())
	assert.Assert(t, reread.superblock.created.Equal(testCreated))
	assert.Equal(t, reread.superblock.fsckStat&statFormatting, uint32(0))

	root, err := reread.Root()
	assert.NilError(t, err)
	assert.Assert(t, root.IsDir())
	assert.Equal(t, root.Size, uint64(DefaultZoneSize))
	entries, err := reread.ListDirectory(root)
	assert.NilError(t, err)
	assert.Equal(t, len(entries), 2)
	assert.Equal(t, entries[0].Name, ".")
	assert.Equal(t, entries[0].Inode, rootInode)
	assert.Equal(t, entries[1].Name, "..")
	assert.Equal(t, entries[1].Inode, rootInode)
	units, err := reread.UnitsOf(root)
	assert.NilError(t, err)
	assert.DeepEqual(t, units, []uint32{1283})

	infos, err := reread.ReadDir("/")
	assert.NilError(t, err)
	assert.Equal(t, len(infos), 0)

	free, err := reread.FreeInodes()
	assert.NilError(t, err)
	// slot 0 and the root are taken
	assert.Equal(t, free, uint32(1028-2))
}

func TestCreateZoneSizes(t *testing.T) {
	for _, zoneSize := range []uint32{MinZoneSize, 8192, 32768, MaxZoneSize} {
		fs, dev := testFileSystem(t, testPartitionSize, &Params{ZoneSize: zoneSize})
		assert.Equal(t, fs.ZoneSize(), zoneSize)
		assert.Equal(t, fs.Zones(), uint32(testPartitionSize/int64(zoneSize)))
		reread, err := Read(dev, 0, testPartitionSize)
		assert.NilError(t, err, "zone size %d", zoneSize)
		assert.Assert(t, fs.superblock.equal(reread.superblock), "zone size %d", zoneSize)
	}
}

func TestCreateInvalid(t *testing.T) {
	tests := []struct {
		name string
		size int64
		p    *Params
	}{
		{"zone size not a power of two", testPartitionSize, &Params{ZoneSize: 6144}},
		{"zone size too small", testPartitionSize, &Params{ZoneSize: 1024}},
		{"zone size too large", testPartitionSize, &Params{ZoneSize: 256 * 1024}},
		{"partition too small", 4*1024*1024 + 4096, nil},
		{"volume name too long", testPartitionSize, &Params{VolumeName: "A_VOLUME_NAME_THAT_IS_FAR_TOO_LONG_TO_STORE"}},
		{"volume name unsupported character", testPartitionSize, &Params{VolumeName: "bad/name"}},
		{"partition beyond device", 2 * testPartitionSize, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := backend.NewMemory(testPartitionSize)
			assert.NilError(t, err)
			_, err = Create(dev, 0, tt.size, tt.p)
			var se *StepError
			assert.Assert(t, errors.As(err, &se), "expected a step error, got %v", err)
			assert.Equal(t, se.Step, StepBitmap)
		})
	}
}

func TestCreateStepFailures(t *testing.T) {
	// count the writes of a successful run, then fail each one in turn
	clean := testhelper.NewFaultyFile(smallPartitionSize)
	dev, err := backend.New(clean, smallPartitionSize, false)
	assert.NilError(t, err)
	_, err = Create(dev, 0, smallPartitionSize, &Params{Created: testCreated})
	assert.NilError(t, err)
	total := clean.Writes

	seen := map[Step]bool{}
	for n := 0; n < total; n++ {
		f := testhelper.NewFaultyFile(smallPartitionSize)
		f.FailAfter(n)
		dev, err := backend.New(f, smallPartitionSize, false)
		assert.NilError(t, err)
		_, err = Create(dev, 0, smallPartitionSize, &Params{Created: testCreated})
		var se *StepError
		assert.Assert(t, errors.As(err, &se), "write %d: expected a step error, got %v", n, err)
		seen[se.Step] = true

		f.FailAfter(-1)
		_, err = Read(dev, 0, smallPartitionSize)
		assert.Assert(t, err != nil, "write %d: interrupted filesystem read back without error", n)
	}
	for _, step := range []Step{StepBitmap, StepRootDirectory, StepSuperblock, StepFlush} {
		assert.Assert(t, seen[step], "no failure reported for step %s", step)
	}
}

func TestReadRejectsUnfinishedCreate(t *testing.T) {
	fs, dev := testFileSystem(t, smallPartitionSize, nil)
	fs.superblock.fsckStat |= statFormatting
	assert.NilError(t, fs.writeSuperblock())
	_, err := Read(dev, 0, smallPartitionSize)
	assert.ErrorIs(t, err, ErrInvalidFilesystem)
}

func TestReadReconcilesFreeCount(t *testing.T) {
	fs, dev := testFileSystem(t, smallPartitionSize, nil)
	want := fs.FreeZones()
	fs.superblock.freeZones = want - 17
	assert.NilError(t, fs.writeSuperblock())
	reread, err := Read(dev, 0, smallPartitionSize)
	assert.NilError(t, err)
	assert.Equal(t, reread.FreeZones(), want)
}

func TestReadBackupSuperblock(t *testing.T) {
	fs, dev := testFileSystem(t, smallPartitionSize, nil)
	match, err := fs.SuperblocksMatch()
	assert.NilError(t, err)
	assert.Assert(t, match)
	assert.NilError(t, dev.Write(superblockSector*backend.SectorSize, make([]byte, backend.SectorSize)))
	reread, err := Read(dev, 0, smallPartitionSize)
	assert.NilError(t, err)
	assert.Assert(t, fs.superblock.equal(reread.superblock))
	match, err = reread.SuperblocksMatch()
	assert.NilError(t, err)
	assert.Assert(t, !match)

	assert.NilError(t, dev.Write(superblockBackupSector*backend.SectorSize, make([]byte, backend.SectorSize)))
	_, err = Read(dev, 0, smallPartitionSize)
	assert.ErrorIs(t, err, ErrInvalidFilesystem)
}

func TestReadNotPFS(t *testing.T) {
	dev, err := backend.NewMemory(smallPartitionSize)
	assert.NilError(t, err)
	_, err = Read(dev, 0, smallPartitionSize)
	assert.ErrorIs(t, err, ErrInvalidFilesystem)
	_, err = Read(dev, 0, 4096)
	assert.ErrorIs(t, err, ErrInvalidFilesystem)
}

func TestSuperblockLayout(t *testing.T) {
	fs, dev := testFileSystem(t, testPartitionSize, &Params{VolumeName: "__common"})
	b, err := dev.Read(superblockSector*backend.SectorSize, superblockSize)
	assert.NilError(t, err)
	assert.Equal(t, binary.LittleEndian.Uint32(b[0x0:]), superblockMagic)
	assert.Equal(t, binary.LittleEndian.Uint32(b[0x4:]), superblockVersion)
	assert.Equal(t, binary.LittleEndian.Uint32(b[0x10:]), DefaultZoneSize)
	assert.Equal(t, binary.LittleEndian.Uint32(b[0x28:]), fs.Zones())
	assert.Equal(t, binary.LittleEndian.Uint32(b[0x2c:]), fs.FreeZones())
	assert.Equal(t, string(b[0x44:0x4c]), "__common")

	backup, err := dev.Read(superblockBackupSector*backend.SectorSize, superblockSize)
	assert.NilError(t, err)
	assert.DeepEqual(t, backup, b)

	sb, err := superblockFromBytes(b)
	assert.NilError(t, err)
	assert.Assert(t, sb.equal(fs.superblock))
}

func TestSuperblockInvalid(t *testing.T) {
	fs, _ := testFileSystem(t, smallPartitionSize, nil)
	good, err := fs.superblock.toBytes()
	assert.NilError(t, err)
	tests := []struct {
		name   string
		offset int
		value  uint32
	}{
		{"magic", 0x0, 0x12345678},
		{"version", 0x4, 9},
		{"zone size", 0x10, 3000},
		{"bitmap start", 0x30, 7},
		{"inode start", 0x38, 2},
		{"free zones", 0x2c, 0xffffffff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := append([]byte(nil), good...)
			binary.LittleEndian.PutUint32(b[tt.offset:], tt.value)
			_, err := superblockFromBytes(b)
			assert.Assert(t, err != nil)
		})
	}
}
