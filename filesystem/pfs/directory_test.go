package pfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/go-test/deep"
	"gotest.tools/v3/assert"
)

func TestDirectoryEntryRoundTrip(t *testing.T) {
	entries := &directoryEntries{entries: []*directoryEntry{
		{inode: 1, filename: ".", fileType: FileTypeDirectory},
		{inode: 1, filename: "..", fileType: FileTypeDirectory},
		{inode: 5, filename: "GAME.ISO", fileType: FileTypeRegular},
		{inode: 6, filename: "SAVES", fileType: FileTypeDirectory},
	}}
	b := make([]byte, 2*dirBlockSize)
	if err := entries.MarshalPFS(b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// "GAME.ISO" is 8 bytes of name after an 8 byte header, starting after two 12 byte records
	if inode := binary.LittleEndian.Uint32(b[24:]); inode != 5 {
		t.Errorf("third entry inode %d", inode)
	}
	if aLen := binary.LittleEndian.Uint16(b[24+6:]); aLen != 16|uint16(FileTypeRegular) {
		t.Errorf("third entry length field %#x", aLen)
	}
	// the last entry of the block extends to its end
	if aLen := binary.LittleEndian.Uint16(b[40+6:]); aLen != uint16(dirBlockSize-40)|uint16(FileTypeDirectory) {
		t.Errorf("last entry length field %#x", aLen)
	}
	// the unused block holds a single empty record
	if aLen := binary.LittleEndian.Uint16(b[dirBlockSize+6:]); aLen != uint16(dirBlockSize) {
		t.Errorf("empty block length field %#x", aLen)
	}

	parsed := &directoryEntries{}
	if err := parsed.UnmarshalPFS(b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	deep.CompareUnexportedFields = true
	if diff := deep.Equal(entries.entries, parsed.entries); diff != nil {
		t.Errorf("UnmarshalPFS() = %v", diff)
	}
}

func TestDirectoryEntriesNeverCrossBlocks(t *testing.T) {
	entries := &directoryEntries{}
	for i := 0; i < 40; i++ {
		entries.AddEntry(&directoryEntry{inode: uint32(i + 2), filename: fmt.Sprintf("%s%02d", strings.Repeat("N", 40), i), fileType: FileTypeRegular})
	}
	// 52 byte records, 9 to a block
	assert.Equal(t, entries.Size(), 5*dirBlockSize)
	b := make([]byte, 8*dirBlockSize)
	assert.NilError(t, entries.MarshalPFS(b))
	for block := 0; block < 8; block++ {
		var walked int
		for walked < dirBlockSize {
			length := int(binary.LittleEndian.Uint16(b[block*dirBlockSize+walked+6:]) & dirEntryLengthMask)
			assert.Assert(t, length > 0, "block %d offset %d", block, walked)
			walked += length
		}
		assert.Equal(t, walked, dirBlockSize, "block %d", block)
	}
	parsed := &directoryEntries{}
	assert.NilError(t, parsed.UnmarshalPFS(b))
	assert.Equal(t, len(parsed.entries), 40)
}

func TestDirectoryEntriesCorrupt(t *testing.T) {
	tests := []struct {
		name   string
		length uint16
	}{
		{"shorter than header", 4},
		{"not aligned", 18},
		{"beyond block", 520},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := make([]byte, dirBlockSize)
			binary.LittleEndian.PutUint32(b, 3)
			binary.LittleEndian.PutUint16(b[6:], tt.length)
			err := (&directoryEntries{}).UnmarshalPFS(b)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestDirectoryEntryShortRecord(t *testing.T) {
	err := (&directoryEntry{}).UnmarshalPFS(make([]byte, 6))
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.ErrorContains(t, err, "record length")

	// the name runs past the record
	b := make([]byte, 12)
	binary.LittleEndian.PutUint32(b, 3)
	b[5] = 8
	binary.LittleEndian.PutUint16(b[6:], 16|uint16(FileTypeRegular))
	err = (&directoryEntry{}).UnmarshalPFS(b)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.ErrorContains(t, err, "file name")
}

func TestCreateEntryGrowsByOneZone(t *testing.T) {
	fs, dev := testFileSystem(t, smallPartitionSize, nil)
	root, err := fs.Root()
	assert.NilError(t, err)

	var (
		names  []string
		growth int
	)
	for i := 0; i < 200; i++ {
		name := fmt.Sprintf("ENTRY_%03d_PADDINGNAME", i)
		freeBefore := fs.FreeZones()
		sizeBefore := root.Size
		assert.NilError(t, fs.CreateEntry(root, name, rootInode, FileTypeRegular), "entry %d", i)
		names = append(names, name)
		switch used := freeBefore - fs.FreeZones(); used {
		case 0:
			assert.Equal(t, root.Size, sizeBefore)
		case 1:
			growth++
			assert.Equal(t, root.Size, sizeBefore+uint64(fs.ZoneSize()))
		default:
			t.Fatalf("entry %d used %d zones", i, used)
		}
	}
	assert.Equal(t, growth, 1)

	reread, err := Read(dev, 0, smallPartitionSize)
	assert.NilError(t, err)
	rootAgain, err := reread.Root()
	assert.NilError(t, err)
	assert.Equal(t, rootAgain.Size, uint64(2*fs.ZoneSize()))
	assert.Equal(t, reread.FreeZones(), fs.FreeZones())
	entries, err := reread.ListDirectory(rootAgain)
	assert.NilError(t, err)
	var got []string
	for _, e := range entries[2:] {
		got = append(got, e.Name)
	}
	assert.DeepEqual(t, got, names)
}

func TestCreateEntryDuplicate(t *testing.T) {
	fs, _ := testFileSystem(t, smallPartitionSize, nil)
	root, err := fs.Root()
	assert.NilError(t, err)
	assert.NilError(t, fs.CreateEntry(root, "SAME", rootInode, FileTypeRegular))
	free := fs.FreeZones()
	assert.ErrorIs(t, fs.CreateEntry(root, "SAME", rootInode, FileTypeRegular), ErrExist)
	assert.Equal(t, fs.FreeZones(), free)
	for _, name := range []string{"", ".", "..", "a/b", "tab\tname", strings.Repeat("x", MaxNameLength+1)} {
		assert.ErrorIs(t, fs.CreateEntry(root, name, rootInode, FileTypeRegular), ErrInvalidName, "name %q", name)
	}
}

func TestResolvePath(t *testing.T) {
	fs, _ := testFileSystem(t, smallPartitionSize, nil)
	assert.NilError(t, fs.Mkdir("/DATA/SAVES"))
	in, err := fs.CreateFile("/DATA/README.TXT", strings.NewReader("hello"), 5, nil, false)
	assert.NilError(t, err)

	for _, p := range []string{"/DATA/README.TXT", "DATA/README.TXT", "//DATA//README.TXT"} {
		got, err := fs.ResolvePath(p)
		assert.NilError(t, err, p)
		assert.Equal(t, got.Number, in.Number, p)
	}
	root, err := fs.ResolvePath("/")
	assert.NilError(t, err)
	assert.Equal(t, root.Number, rootInode)

	_, err = fs.ResolvePath("/DATA/MISSING")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.ResolvePath("/DATA/README.TXT/INSIDE")
	assert.ErrorIs(t, err, ErrNotADirectory)
	// names are matched exactly
	_, err = fs.ResolvePath("/data/readme.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMkdir(t *testing.T) {
	fs, dev := testFileSystem(t, smallPartitionSize, nil)
	free := fs.FreeZones()
	assert.NilError(t, fs.Mkdir("/A/B/C"))
	// one zone per directory
	assert.Equal(t, free-fs.FreeZones(), uint32(3))
	assert.NilError(t, fs.Mkdir("/A/B"))
	assert.Equal(t, free-fs.FreeZones(), uint32(3))

	reread, err := Read(dev, 0, smallPartitionSize)
	assert.NilError(t, err)
	b, err := reread.ResolvePath("/A/B")
	assert.NilError(t, err)
	entries, err := reread.ListDirectory(b)
	assert.NilError(t, err)
	assert.Equal(t, len(entries), 3)
	a, err := reread.ResolvePath("/A")
	assert.NilError(t, err)
	assert.Equal(t, entries[1].Name, "..")
	assert.Equal(t, entries[1].Inode, a.Number)
	assert.Equal(t, entries[2].Name, "C")
	assert.Assert(t, entries[2].IsDir())

	_, err = fs.CreateFile("/A/FILE", strings.NewReader("x"), 1, nil, false)
	assert.NilError(t, err)
	assert.ErrorIs(t, fs.Mkdir("/A/FILE/D"), ErrNotADirectory)
}

func TestCreateFile(t *testing.T) {
	fs, _ := testFileSystem(t, smallPartitionSize, nil)
	content := []byte("PS2 content")
	_, err := fs.CreateFile("/GAMES/SLUS_123.45/GAME.BIN", bytes.NewReader(content), int64(len(content)), nil, false)
	assert.ErrorIs(t, err, ErrNotFound)

	in, err := fs.CreateFile("/GAMES/SLUS_123.45/GAME.BIN", bytes.NewReader(content), int64(len(content)), nil, true)
	assert.NilError(t, err)
	got, res, err := fs.ReadFile(in)
	assert.NilError(t, err)
	assert.Assert(t, !res.Truncated)
	assert.DeepEqual(t, got, content)

	free := fs.FreeZones()
	inodes, err := fs.FreeInodes()
	assert.NilError(t, err)
	_, err = fs.CreateFile("/GAMES/SLUS_123.45/GAME.BIN", bytes.NewReader(content), int64(len(content)), nil, true)
	assert.ErrorIs(t, err, ErrExist)
	assert.Equal(t, fs.FreeZones(), free)
	after, err := fs.FreeInodes()
	assert.NilError(t, err)
	assert.Equal(t, after, inodes)

	infos, err := fs.ReadDir("/GAMES/SLUS_123.45")
	assert.NilError(t, err)
	assert.Equal(t, len(infos), 1)
	assert.Equal(t, infos[0].Name(), "GAME.BIN")
	assert.Equal(t, infos[0].Size(), int64(len(content)))
	assert.Assert(t, !infos[0].IsDir())

	fi, err := fs.Stat("/GAMES")
	assert.NilError(t, err)
	assert.Assert(t, fi.IsDir())
	assert.Equal(t, fi.Name(), "GAMES")
}
