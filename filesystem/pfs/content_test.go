package pfs

import (
	"bytes"
	"errors"
	"io"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/v3/assert"
)

func testContent(size int, seed int64) []byte {
	b := make([]byte, size)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func TestWriteReadRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 511, 4096, 4097, 10000, 3*1024*1024 + 17}
	fs, _ := testFileSystem(t, testPartitionSize, nil)
	for i, size := range sizes {
		content := testContent(size, int64(i))
		before := fs.FreeZones()
		in, err := fs.WriteFile(bytes.NewReader(content), int64(size), nil)
		assert.NilError(t, err, "size %d", size)
		wantZones := uint32((size + 4095) / 4096)
		assert.Equal(t, before-fs.FreeZones(), wantZones, "size %d", size)
		assert.Equal(t, in.Zones(), wantZones, "size %d", size)
		assert.Equal(t, in.Size, uint64(size))

		reread, err := fs.ReadInode(in.Number)
		assert.NilError(t, err)
		got, res, err := fs.ReadFile(reread)
		assert.NilError(t, err, "size %d", size)
		assert.Assert(t, !res.Truncated, "size %d", size)
		assert.Equal(t, res.Bytes, int64(size))
		if diff := cmp.Diff(content, got, cmp.Comparer(bytes.Equal)); diff != "" {
			t.Errorf("size %d: content mismatch", size)
		}
	}
}

func TestWriteFileUnits(t *testing.T) {
	fs, _ := testFileSystem(t, testPartitionSize, nil)
	before := fs.FreeZones()
	in, err := fs.CreateFile("/GAME.ISO", bytes.NewReader(testContent(10000, 1)), 10000, nil, false)
	assert.NilError(t, err)
	units, err := fs.UnitsOf(in)
	assert.NilError(t, err)
	assert.Equal(t, len(units), 3)
	assert.Equal(t, before-fs.FreeZones(), uint32(3))
	for _, u := range units {
		assert.Assert(t, fs.alloc.IsUsed(u))
		assert.Assert(t, u >= fs.superblock.dataStart())
	}
}

// fragment leaves every other data zone free, so no two free zones are adjacent
func fragment(t *testing.T, fs *FileSystem) {
	t.Helper()
	all, err := fs.alloc.Allocate(fs.alloc.FreeZones())
	assert.NilError(t, err)
	var release []uint32
	for i := 0; i < len(all); i += 2 {
		release = append(release, all[i])
	}
	assert.NilError(t, fs.alloc.Free(release))
	assert.NilError(t, fs.Flush())
}

func TestWriteFragmentedUsesSegments(t *testing.T) {
	fs, dev := testFileSystem(t, smallPartitionSize, nil)
	fragment(t, fs)
	const zones = 300
	size := zones*4096 - 100
	content := testContent(size, 7)
	before := fs.FreeZones()
	in, err := fs.CreateFile("/FRAGMENTED.BIN", bytes.NewReader(content), int64(size), nil, false)
	assert.NilError(t, err)
	// 300 extents: 114 direct and two segments
	assert.Equal(t, in.dataCount, uint32(zones))
	assert.Equal(t, in.segmentCount, uint32(3))
	assert.Equal(t, before-fs.FreeZones(), uint32(zones+2))

	reread, err := Read(dev, 0, smallPartitionSize)
	assert.NilError(t, err)
	rc, err := reread.Open("/FRAGMENTED.BIN")
	assert.NilError(t, err)
	got, err := io.ReadAll(rc)
	assert.NilError(t, err)
	assert.NilError(t, rc.Close())
	assert.Assert(t, bytes.Equal(got, content))

	fi, err := reread.Stat("/FRAGMENTED.BIN")
	assert.NilError(t, err)
	units, err := reread.UnitsOf(fi.Sys().(*Inode))
	assert.NilError(t, err)
	assert.Equal(t, len(units), zones)
	for i := 1; i < len(units); i++ {
		assert.Assert(t, units[i] > units[i-1]+1, "units %d and %d are adjacent", units[i-1], units[i])
	}
}

func TestReleaseFreesEverything(t *testing.T) {
	fs, _ := testFileSystem(t, smallPartitionSize, nil)
	fragment(t, fs)
	before := fs.FreeZones()
	inodesBefore, err := fs.FreeInodes()
	assert.NilError(t, err)
	in, err := fs.WriteFile(bytes.NewReader(testContent(200*4096, 3)), 200*4096, nil)
	assert.NilError(t, err)
	assert.Assert(t, in.nextSegment != 0)
	assert.NilError(t, fs.Release(in))
	assert.Equal(t, fs.FreeZones(), before)
	inodesAfter, err := fs.FreeInodes()
	assert.NilError(t, err)
	assert.Equal(t, inodesAfter, inodesBefore)
	_, err = fs.ReadInode(in.Number)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestWriteFileOutOfSpace(t *testing.T) {
	fs, dev := testFileSystem(t, smallPartitionSize, nil)
	free := fs.FreeZones()
	size := int64(free+1) * 4096
	_, err := fs.WriteFile(io.LimitReader(zeroReader{}, size), size, nil)
	assert.ErrorIs(t, err, ErrOutOfSpace)
	assert.Equal(t, fs.FreeZones(), free)
	reread, err := Read(dev, 0, smallPartitionSize)
	assert.NilError(t, err)
	assert.Equal(t, reread.FreeZones(), free)
}

func TestWriteFileShortSource(t *testing.T) {
	fs, _ := testFileSystem(t, smallPartitionSize, nil)
	free := fs.FreeZones()
	inodes, err := fs.FreeInodes()
	assert.NilError(t, err)
	_, err = fs.WriteFile(strings.NewReader("only a few bytes"), 10000, nil)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, fs.FreeZones(), free)
	after, err := fs.FreeInodes()
	assert.NilError(t, err)
	assert.Equal(t, after, inodes)
}

func TestReadTruncatedExtent(t *testing.T) {
	fs, _ := testFileSystem(t, smallPartitionSize, nil)
	in, err := fs.WriteFile(bytes.NewReader(testContent(4096, 5)), 4096, nil)
	assert.NilError(t, err)
	// the first zone is valid, the other two lie beyond the partition
	in.direct = extents{{startingZone: fs.Zones() - 1, count: 3}}
	in.Size = 3 * 4096
	assert.NilError(t, fs.writeInode(in))

	reread, err := fs.ReadInode(in.Number)
	assert.NilError(t, err)
	got, res, err := fs.ReadFile(reread)
	assert.NilError(t, err)
	assert.Assert(t, res.Truncated)
	assert.ErrorIs(t, res.Reason, ErrTruncated)
	assert.Equal(t, res.Bytes, int64(4096))
	assert.Equal(t, len(got), 4096)
}

func TestReadTruncatedSegmentChain(t *testing.T) {
	fs, _ := testFileSystem(t, smallPartitionSize, nil)
	fragment(t, fs)
	in, err := fs.WriteFile(bytes.NewReader(testContent(150*4096, 9)), 150*4096, nil)
	assert.NilError(t, err)
	in.nextSegment = 0
	assert.NilError(t, fs.writeInode(in))

	reread, err := fs.ReadInode(in.Number)
	assert.NilError(t, err)
	_, err = fs.UnitsOf(reread)
	assert.ErrorIs(t, err, ErrTruncated)
	_, res, err := fs.ReadFile(reread)
	assert.NilError(t, err)
	assert.Assert(t, res.Truncated)
	assert.ErrorIs(t, res.Reason, ErrTruncated)
	assert.Equal(t, res.Bytes, int64(directExtents*4096))
}

func TestReadCorruptExtentCount(t *testing.T) {
	fs, _ := testFileSystem(t, smallPartitionSize, nil)
	content := testContent(100, 12)
	in, err := fs.CreateFile("/DAMAGED", bytes.NewReader(content), 100, nil, false)
	assert.NilError(t, err)
	in.dataCount = math.MaxUint32
	in.segmentCount = math.MaxUint32
	in.Size = 8192
	assert.NilError(t, fs.writeInode(in))

	reread, err := fs.ReadInode(in.Number)
	assert.NilError(t, err)
	_, err = fs.UnitsOf(reread)
	assert.ErrorIs(t, err, ErrTruncated)
	got, res, err := fs.ReadFile(reread)
	assert.NilError(t, err)
	assert.Assert(t, res.Truncated)
	assert.ErrorIs(t, res.Reason, ErrTruncated)
	assert.Equal(t, res.Bytes, int64(4096))
	assert.DeepEqual(t, got[:100], content)

	root, err := fs.Root()
	assert.NilError(t, err)
	entries, err := fs.ListDirectory(root)
	assert.NilError(t, err)
	assert.Equal(t, len(entries), 3)
}

func TestOpenTruncatedReportsError(t *testing.T) {
	fs, _ := testFileSystem(t, smallPartitionSize, nil)
	in, err := fs.CreateFile("/BROKEN", bytes.NewReader(testContent(8192, 11)), 8192, nil, false)
	assert.NilError(t, err)
	in.direct = extents{{startingZone: fs.Zones() - 1, count: 2}}
	assert.NilError(t, fs.writeInode(in))

	rc, err := fs.Open("/BROKEN")
	assert.NilError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	assert.Assert(t, errors.Is(err, ErrTruncated), "expected truncation error, got %v", err)
	assert.Equal(t, len(got), 4096)
}

func TestCopyFileRejectsDirectory(t *testing.T) {
	fs, _ := testFileSystem(t, smallPartitionSize, nil)
	root, err := fs.Root()
	assert.NilError(t, err)
	_, err = fs.CopyFile(io.Discard, root)
	assert.ErrorIs(t, err, ErrIsDirectory)
	_, err = fs.Open("/")
	assert.ErrorIs(t, err, ErrIsDirectory)
}

type zeroReader struct{}

func (zeroReader) Read(b []byte) (int, error) {
	clear(b)
	return len(b), nil
}
